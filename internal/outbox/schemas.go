package outbox

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const rosterChangedSchema = `{
  "type": "object",
  "title": "RosterChanged",
  "properties": {
    "event_id": {"type": "string", "minLength": 1},
    "event_type": {"type": "string", "enum": ["participant.signed_up", "participant.unregistered"]},
    "activity": {"type": "string", "minLength": 1},
    "email": {"type": "string", "minLength": 1},
    "occurred_at": {"type": "string", "format": "date-time"}
  },
  "required": ["event_id", "event_type", "activity", "email", "occurred_at"],
  "additionalProperties": false
}`

var errSchemaViolation = errors.New("roster event violates schema")

var rosterChangedValidator = mustCompileSchema(rosterChangedSchema)

func mustCompileSchema(schema string) *gojsonschema.Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		panic(fmt.Sprintf("compile roster schema: %v", err))
	}
	return compiled
}

// validatePayload checks an encoded event against the schema registered for the topic.
func validatePayload(payload []byte) error {
	result, err := rosterChangedValidator.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", errSchemaViolation, err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("%w: %s", errSchemaViolation, strings.Join(problems, "; "))
}

func subjectFor(topic string) string {
	return topic + "-value"
}
