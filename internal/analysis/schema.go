package analysis

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Minimal per-type schemas for structured output. Validation failures
// flag result quality; they never fail the job, because a prose-only
// answer is still worth storing.
var outputSchemas = map[string]string{
	TypeContractExtract: `{
		"type": "object",
		"required": ["parties"],
		"properties": {
			"parties": {"type": "array", "minItems": 1}
		}
	}`,
	TypeReceiptExtract: `{
		"type": "object",
		"required": ["total"],
		"properties": {
			"vendor": {"type": "string"},
			"total":  {"type": ["string", "number"]}
		}
	}`,
	TypeLandAnalysis: `{
		"type": "object",
		"properties": {
			"location": {"type": ["string", "object"]},
			"area":     {"type": ["string", "number", "object"]}
		}
	}`,
}

// QualityFlags checks structured output against the schema for its
// analysis type and returns flags describing what is off. An empty
// slice means the output passed every check that applies.
func QualityFlags(analysisType string, structured map[string]any) []string {
	var flags []string
	if len(structured) == 0 {
		flags = append(flags, "no_structured_data")
		return flags
	}

	schema, ok := outputSchemas[analysisType]
	if !ok {
		return flags
	}

	doc, err := json.Marshal(structured)
	if err != nil {
		return append(flags, "unserializable_structured_data")
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return append(flags, "schema_check_failed")
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		flags = append(flags, fmt.Sprintf("schema:%s:%s", field, desc.Type()))
	}
	return flags
}
