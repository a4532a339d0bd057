package receipt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// documentSchemaJSON describes the required shape of data.json and of imports
const documentSchemaJSON = `{
  "type": "object",
  "required": ["receipts", "items"],
  "properties": {
    "receipts": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["receipt_group_id"],
        "properties": {
          "receipt_group_id": {"type": "string", "minLength": 1},
          "shop": {"type": "string"},
          "purchase_date": {"type": "string"},
          "documentation": {"type": "string"},
          "receipt_filename": {"type": "string"},
          "receipt_relative_path": {"type": "string"},
          "placement_mode": {"enum": ["", "shared", "individual"]}
        }
      }
    },
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "receipt_group_id"],
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "receipt_group_id": {"type": "string", "minLength": 1},
          "brand": {"type": "string"},
          "model": {"type": "string"},
          "location": {"type": "string"},
          "project": {"type": "string"},
          "users": {
            "type": ["array", "null"],
            "maxItems": 8,
            "uniqueItems": true,
            "items": {"type": "string"}
          },
          "guarantee_duration": {"type": "integer", "minimum": 0},
          "guarantee_unit": {"enum": ["days", "months", "years"]},
          "guarantee_end_date": {"type": "string"},
          "receipt_relative_path": {"type": "string"}
        }
      }
    },
    "next_id": {"type": "integer", "minimum": 1},
    "integrity_issues": {"type": ["array", "null"]}
  }
}`

var documentSchema = mustCompileDocumentSchema()

func mustCompileDocumentSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("document.json", strings.NewReader(documentSchemaJSON)); err != nil {
		panic(fmt.Sprintf("adding document schema: %v", err))
	}
	schema, err := compiler.Compile("document.json")
	if err != nil {
		panic(fmt.Sprintf("compiling document schema: %v", err))
	}
	return schema
}

// decodeDocument parses and validates a serialized document
func decodeDocument(data []byte) (*Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	if err := documentSchema.Validate(raw); err != nil {
		return nil, fmt.Errorf("document does not match schema: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding document: %w", err)
	}
	doc.normalize()
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
