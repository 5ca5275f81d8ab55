package usecase

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/easygp/server/domain/entities"
	"github.com/easygp/server/internal/jsonrepair"
	"github.com/easygp/server/internal/schema"
)

// Extractor validates and normalizes recovered completion text into a
// StructuredResult. It never fails: a non-JSON conversational reply is
// valid output, not an error.
type Extractor struct {
	logger *zap.Logger
}

// NewExtractor creates a new structured response extractor
func NewExtractor(logger *zap.Logger) *Extractor {
	return &Extractor{logger: logger}
}

// Extract recovers a StructuredResult from raw completion text. Parse
// failures degrade to a free-text result carrying the raw text verbatim
// with no extracted symptoms.
func (e *Extractor) Extract(raw string) *entities.StructuredResult {
	doc, err := jsonrepair.Parse(raw)
	if err != nil {
		var malformed *jsonrepair.MalformedError
		switch {
		case errors.Is(err, jsonrepair.ErrNotStructured):
			e.logger.Debug("Reply is conversational free text")
		case errors.As(err, &malformed):
			e.logger.Warn("Structured reply unparseable after repair",
				zap.String("raw", malformed.Raw),
				zap.Error(malformed.Cause))
		}
		return &entities.StructuredResult{ResponseText: raw}
	}

	if issues, verr := schema.Validate(doc); verr != nil {
		e.logger.Warn("Schema check could not run", zap.Error(verr))
	} else if len(issues) > 0 {
		e.logger.Warn("Structured reply deviates from schema", zap.Strings("issues", issues))
	}

	return e.fromDocument(doc)
}

// fromDocument copies recognized fields into a StructuredResult.
// Unrecognized fields are ignored for forward compatibility.
func (e *Extractor) fromDocument(doc map[string]any) *entities.StructuredResult {
	result := &entities.StructuredResult{
		Greeting:     stringField(doc, "greeting"),
		ResponseText: stringField(doc, "response"),
		FollowUp:     stringField(doc, "follow_up"),
	}

	if meta, ok := doc["metadata"].(map[string]any); ok {
		result.Metadata = meta
	}

	items, ok := doc["extracted_symptoms"].([]any)
	if !ok {
		return result
	}

	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := stringField(obj, "name")
		if name == "" {
			continue
		}

		canonical, known := entities.CanonicalFeature(name)
		if !known {
			e.logger.Debug("Unknown symptom name passed through", zap.String("name", name))
		}

		result.ExtractedSymptoms = append(result.ExtractedSymptoms, entities.SymptomCandidate{
			Name:    canonical,
			Present: boolField(obj, "present"),
			// Confidence is deliberately unclamped, downstream consumers
			// own range validation.
			Confidence: numberField(obj, "confidence"),
			Duration:   stringField(obj, "duration"),
			Severity:   normalizeSeverity(stringField(obj, "severity")),
		})
	}

	return result
}

func normalizeSeverity(s string) entities.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mild":
		return entities.SeverityMild
	case "moderate":
		return entities.SeverityModerate
	case "severe":
		return entities.SeveritySevere
	default:
		return entities.Severity(s)
	}
}

func stringField(doc map[string]any, key string) string {
	if s, ok := doc[key].(string); ok {
		return s
	}
	return ""
}

func boolField(doc map[string]any, key string) bool {
	if b, ok := doc[key].(bool); ok {
		return b
	}
	return false
}

func numberField(doc map[string]any, key string) float64 {
	if n, ok := doc[key].(float64); ok {
		return n
	}
	return 0
}
