package docai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrInvalidPayload = errors.New("extraction payload does not match schema")

// payloadSchema describes the fields the extraction service must return.
// Names may be empty strings (the service could not find them); dates must
// be YYYY-MM-DD or empty.
const payloadSchema = `{
  "type": "object",
  "required": ["primary_vendor_name", "effective_date"],
  "properties": {
    "primary_vendor_name": {"type": "string"},
    "dba_display_name": {"type": "string"},
    "effective_date": {"type": "string", "pattern": "^([0-9]{4}-[0-9]{2}-[0-9]{2})?$"},
    "renewal_end_date": {"type": "string", "pattern": "^([0-9]{4}-[0-9]{2}-[0-9]{2})?$"},
    "category": {"type": "string"},
    "contract_reconciliation_summary": {"type": "string"}
  },
  "additionalProperties": true
}`

var compiledSchema = jsonschema.MustCompileString("payload.json", payloadSchema)

// ValidatePayload checks the raw provider payload against the schema.
func ValidatePayload(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPayload, err)
	}
	if err := compiledSchema.Validate(v); err != nil {
		// Flatten the validator's multi-line message for logging.
		msg := strings.ReplaceAll(err.Error(), "\n", " ")
		return fmt.Errorf("%w: %s", ErrInvalidPayload, msg)
	}
	return nil
}
