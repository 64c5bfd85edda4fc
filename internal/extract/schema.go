package extract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// planSchema describes the document shape shared by the sentinel payload and
// the synchronous JSON endpoint.
const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["processes"],
  "properties": {
    "task": {"type": "string"},
    "processes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["process_id", "name"],
        "properties": {
          "process_id": {"type": ["integer", "string"]},
          "name": {"type": "string"},
          "description": {"type": ["string", "null"]},
          "steps": {
            "type": ["array", "null"],
            "items": {
              "type": "object",
              "required": ["step_id"],
              "properties": {
                "step_id": {"type": ["integer", "string"]},
                "unit": {"type": ["string", "null"]},
                "device": {"type": ["string", "null"]},
                "action": {"type": ["string", "null"]}
              }
            }
          }
        }
      }
    }
  }
}`

var planSchemaLoader = gojsonschema.NewStringLoader(planSchema)

// ValidatePlanJSON checks raw against the plan document schema and decodes it.
func ValidatePlanJSON(raw []byte) (*Plan, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	result, err := gojsonschema.Validate(planSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("payload does not match plan schema: %s", strings.Join(msgs, "; "))
	}

	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, fmt.Errorf("failed to decode plan: %w", err)
	}
	return &plan, nil
}
