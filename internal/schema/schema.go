// Package schema holds the explicit description of the structured reply
// shape. The same document is sent to the model as a formatting
// instruction and checked against recovered objects at the extractor
// boundary.
package schema

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// StructuredReply is the JSON schema for one structured consultation
// reply. Unknown fields are allowed so newer models can add data without
// breaking older servers.
const StructuredReply = `{
  "type": "object",
  "required": ["response"],
  "properties": {
    "greeting": {"type": "string"},
    "response": {"type": "string"},
    "follow_up": {"type": "string"},
    "extracted_symptoms": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "present"],
        "properties": {
          "name": {"type": "string"},
          "present": {"type": "boolean"},
          "confidence": {"type": "number"},
          "duration": {"type": "string"},
          "severity": {"type": "string", "enum": ["mild", "moderate", "severe"]}
        }
      }
    },
    "metadata": {"type": "object"}
  }
}`

var compiled *gojsonschema.Schema

func init() {
	var err error
	compiled, err = gojsonschema.NewSchema(gojsonschema.NewStringLoader(StructuredReply))
	if err != nil {
		panic(fmt.Sprintf("invalid structured reply schema: %v", err))
	}
}

// Instruction returns the schema text to embed in the prompt
func Instruction() string {
	return StructuredReply
}

// Validate checks a recovered document against the reply schema and
// returns the list of violations. Violations are advisory: extraction
// proceeds regardless, they exist for diagnostics.
func Validate(doc map[string]any) ([]string, error) {
	result, err := compiled.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}

	if result.Valid() {
		return nil, nil
	}

	issues := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return issues, nil
}
