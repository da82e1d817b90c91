package llm

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"
)

// schemaInstruction tells a free-form backend which JSON shape to answer with.
func schemaInstruction(schema *genai.Schema) string {
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "\n\nRespond with a single JSON object and nothing else."
	}
	return fmt.Sprintf(`

Respond with a single JSON value matching this schema and nothing else. Do not wrap it in markdown code fences.
%s`, string(b))
}
