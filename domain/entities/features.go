package entities

import "strings"

// Canonical symptom feature names recognized by the risk engine downstream
// of extraction.
const (
	FeatureFever          = "fever"
	FeatureSwollenGlands  = "swollen_glands"
	FeatureExudate        = "exudate"
	FeatureCough          = "cough"
	FeatureRash           = "rash"
	FeatureSoreThroat     = "sore_throat"
	FeatureRhinorrhea     = "rhinorrhea"
	FeatureHeadache       = "headache"
	FeatureTonsilSwelling = "tonsil_swelling"
	FeatureLymphNodes     = "lymph_nodes"
	FeatureTenderness     = "tenderness"
	FeatureOnset          = "onset"
	FeaturePANDAS         = "pandas"
	FeatureIrritability   = "irritability"
	FeatureTics           = "tics"
)

// featureAliases maps common free-text spellings the model produces to
// canonical feature names.
var featureAliases = map[string]string{
	"fever":            FeatureFever,
	"high temperature": FeatureFever,
	"temperature":      FeatureFever,
	"swollen glands":   FeatureSwollenGlands,
	"swollen_glands":   FeatureSwollenGlands,
	"glands":           FeatureSwollenGlands,
	"exudate":          FeatureExudate,
	"white patches":    FeatureExudate,
	"cough":            FeatureCough,
	"coughing":         FeatureCough,
	"rash":             FeatureRash,
	"sore throat":      FeatureSoreThroat,
	"sore_throat":      FeatureSoreThroat,
	"throat pain":      FeatureSoreThroat,
	"rhinorrhea":       FeatureRhinorrhea,
	"runny nose":       FeatureRhinorrhea,
	"headache":         FeatureHeadache,
	"head ache":        FeatureHeadache,
	"tonsil swelling":  FeatureTonsilSwelling,
	"tonsil_swelling":  FeatureTonsilSwelling,
	"swollen tonsils":  FeatureTonsilSwelling,
	"lymph nodes":      FeatureLymphNodes,
	"lymph_nodes":      FeatureLymphNodes,
	"tenderness":       FeatureTenderness,
	"onset":            FeatureOnset,
	"pandas":           FeaturePANDAS,
	"irritability":     FeatureIrritability,
	"irritable":        FeatureIrritability,
	"tics":             FeatureTics,
}

// CanonicalFeature resolves a model-reported symptom name to its canonical
// feature name. Unknown names are returned unchanged so extraction stays
// forward-compatible with vocabulary the engine does not know yet.
func CanonicalFeature(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := featureAliases[key]; ok {
		return canonical, true
	}
	return name, false
}
