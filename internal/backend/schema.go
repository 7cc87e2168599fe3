package backend

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// successSchemaJSON lists the fields a completion must carry. Unknown fields
// are allowed so newer service versions keep decoding.
const successSchemaJSON = `{
  "type": "object",
  "required": ["id", "choices", "usage"],
  "properties": {
    "id": {"type": "string"},
    "choices": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "message", "finish_reason"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "message": {
            "type": "object",
            "required": ["role", "content"],
            "properties": {
              "role": {"enum": ["assistant"]},
              "content": {"type": "string"}
            }
          },
          "finish_reason": {"type": ["string", "null"]}
        }
      }
    },
    "usage": {
      "type": "object",
      "required": ["prompt_tokens", "completion_tokens", "total_tokens"],
      "properties": {
        "prompt_tokens": {"type": "integer", "minimum": 0},
        "completion_tokens": {"type": "integer", "minimum": 0},
        "total_tokens": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

const errorSchemaJSON = `{
  "type": "object",
  "required": ["error"],
  "properties": {
    "error": {
      "type": "object",
      "required": ["message", "type"],
      "properties": {
        "message": {"type": "string"},
        "type": {"type": "string"},
        "code": {"type": ["string", "number", "null"]}
      }
    }
  }
}`

var (
	successSchema = mustSchema(successSchemaJSON)
	errorSchema   = mustSchema(errorSchemaJSON)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("backend: invalid built-in schema: %v", err))
	}
	return schema
}

// conforms validates body against schema, returning a joined description of
// every violation
func conforms(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if result.Valid() {
		return nil
	}
	var problems []string
	for _, re := range result.Errors() {
		problems = append(problems, re.String())
	}
	return fmt.Errorf("schema validation errors: %s", strings.Join(problems, "; "))
}
