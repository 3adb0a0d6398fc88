package tool

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Schema describes the shape a tool response must satisfy before its data
// reaches flow state. Paths use gjson syntax, so "items.0.id" and
// "user.name" both work.
type Schema struct {
	// Required paths must exist in the response body.
	Required []string
	// Types maps paths to an expected type tag: string, number, bool,
	// array, or object. Absent paths are only an error when also required.
	Types map[string]string
}

// SchemaError reports the paths that failed validation.
type SchemaError struct {
	Tool     string
	Problems []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %s: response schema violation: %s", e.Tool, strings.Join(e.Problems, "; "))
}

// Validate checks the raw response body against the schema.
func (s *Schema) Validate(toolName string, body []byte) error {
	if s == nil {
		return nil
	}
	if !gjson.ValidBytes(body) {
		return &SchemaError{Tool: toolName, Problems: []string{"response is not valid JSON"}}
	}

	var problems []string
	for _, path := range s.Required {
		if !gjson.GetBytes(body, path).Exists() {
			problems = append(problems, fmt.Sprintf("missing required path %q", path))
		}
	}
	for path, want := range s.Types {
		result := gjson.GetBytes(body, path)
		if !result.Exists() {
			continue
		}
		if got := typeTag(result); got != want {
			problems = append(problems, fmt.Sprintf("path %q: expected %s, got %s", path, want, got))
		}
	}
	if len(problems) > 0 {
		return &SchemaError{Tool: toolName, Problems: problems}
	}
	return nil
}

func typeTag(r gjson.Result) string {
	switch {
	case r.IsArray():
		return "array"
	case r.IsObject():
		return "object"
	case r.Type == gjson.String:
		return "string"
	case r.Type == gjson.Number:
		return "number"
	case r.Type == gjson.True || r.Type == gjson.False:
		return "bool"
	case r.Type == gjson.Null:
		return "null"
	default:
		return "unknown"
	}
}
