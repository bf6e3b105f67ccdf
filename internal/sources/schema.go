package sources

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/stacklok/integration-sync/internal/models"
)

var schemaCache sync.Map // schema text -> *jsonschema.Schema

// CompileSchema compiles a JSON schema document, caching by its text
func CompileSchema(text string) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(text); ok {
		return cached.(*jsonschema.Schema), nil
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(text))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}
	sch, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}
	schemaCache.Store(text, sch)
	return sch, nil
}

// ValidateDocument validates a JSON document against a schema
func ValidateDocument(schemaText string, data []byte) error {
	sch, err := CompileSchema(schemaText)
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return sch.Validate(inst)
}

// ValidateFilters checks job filters against the adapter's filter schema
func ValidateFilters(a Adapter, filters map[string]any) error {
	if len(filters) == 0 {
		return nil
	}
	data, err := json.Marshal(filters)
	if err != nil {
		return models.NewValidationError("filters", "not serializable: %v", err)
	}
	if err := ValidateDocument(a.FilterSchema(), data); err != nil {
		return models.NewValidationError("filters", "%v", err)
	}
	return nil
}

// KindsFor returns the kinds a job should sync: those named by filters["kinds"],
// or every kind the adapter supports
func KindsFor(a Adapter, filters map[string]any) []models.EntityKind {
	requested := filterValues(filters["kinds"])
	if filters["kinds"] == nil || len(requested) == 0 {
		return a.Kinds()
	}
	var out []models.EntityKind
	for _, k := range a.Kinds() {
		for _, r := range requested {
			if string(k) == r {
				out = append(out, k)
				break
			}
		}
	}
	return out
}
