package sfcli

import "github.com/santhosh-tekuri/jsonschema/v5"

const envelopeSchemaSource = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"type": "integer"},
    "name": {"type": "string"},
    "message": {"type": "string"},
    "warnings": {"type": "array"}
  }
}`

// Log ids may arrive as apexLogId (library shape) or ApexLogId (CLI shape).
const testRunResultSchemaSource = `{
  "type": "object",
  "properties": {
    "tests": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "apexLogId": {"type": ["string", "null"]},
          "ApexLogId": {"type": ["string", "null"]},
          "methodName": {"type": ["string", "null"]},
          "outcome": {"type": ["string", "null"]}
        }
      }
    }
  }
}`

var (
	envelopeSchema      = jsonschema.MustCompileString("sf-envelope.json", envelopeSchemaSource)
	testRunResultSchema = jsonschema.MustCompileString("sf-apex-test-result.json", testRunResultSchemaSource)
)
