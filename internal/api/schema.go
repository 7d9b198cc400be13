package api

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// addRecordSchema describes the body of POST /api/add_record. Blank medical
// fields are left to the record validator so they report the field name.
const addRecordSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["patientId", "doctorId", "otp"],
  "properties": {
    "patientId": {"type": "string", "minLength": 1, "maxLength": 64},
    "doctorId": {"type": "string", "minLength": 1, "maxLength": 64},
    "department": {"type": "string", "maxLength": 128},
    "otp": {"type": "string", "pattern": "^[0-9]{6}$"},
    "medical_data": {
      "type": "object",
      "properties": {
        "diagnosis": {"type": "string", "maxLength": 4096},
        "prescription": {"type": "string", "maxLength": 4096},
        "notes": {"type": "string", "maxLength": 16384}
      }
    }
  }
}`

// schemaError is the first violation of a request body.
type schemaError struct {
	missing bool
	field   string
	detail  string
}

func (e *schemaError) Error() string {
	if e.missing {
		return fmt.Sprintf("Missing required field: %s", e.field)
	}
	return fmt.Sprintf("Invalid field %s: %s", e.field, e.detail)
}

func loadAddRecordSchema() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(addRecordSchema))
}

// checkSchema validates body and returns the first violation, if any.
func checkSchema(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return &schemaError{field: "body", detail: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	first := result.Errors()[0]
	if first.Type() == "required" {
		if property, ok := first.Details()["property"].(string); ok {
			return &schemaError{missing: true, field: property}
		}
	}
	field := strings.TrimPrefix(first.Field(), "(root).")
	return &schemaError{field: field, detail: first.Description()}
}
