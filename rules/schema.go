package rules

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ruleSchema constrains the rule document before compilation.
const ruleSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["title", "id", "level", "detection"],
  "properties": {
    "title": {"type": "string", "minLength": 1},
    "id": {"type": "string", "minLength": 1},
    "level": {
      "type": "string",
      "enum": ["informational", "info", "low", "medium", "high", "critical", "crit"]
    },
    "status": {"type": "string"},
    "author": {"type": "string"},
    "description": {"type": "string"},
    "tags": {"type": "array", "items": {"type": "string"}},
    "detection": {
      "type": "object",
      "required": ["condition"],
      "properties": {
        "condition": {
          "oneOf": [
            {"type": "string"},
            {"type": "array", "items": {"type": "string"}, "minItems": 1}
          ]
        },
        "timeframe": {"type": "string"}
      },
      "minProperties": 2
    }
  }
}`

// Validator checks rule documents against the rule JSON schema.
type Validator struct {
	schema *gojsonschema.Schema
}

// NewValidator compiles the rule schema.
func NewValidator() (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ruleSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile rule schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate checks a decoded YAML document.
func (v *Validator) Validate(doc map[string]interface{}) error {
	data, err := json.Marshal(normalize(doc))
	if err != nil {
		return fmt.Errorf("rule is not representable as JSON: %w", err)
	}

	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("failed to validate rule against schema: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("rule validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// normalize converts YAML maps with non-string keys so they can be
// marshalled to JSON.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}
