package sweep

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateJSONSchema produces a JSON Schema Draft 2020-12 document from the
// Go Config struct, grounded on pkg/schema/export.go's GenerateJSONSchema.
func GenerateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = false

	s := r.Reflect(&Config{})
	s.ID = "https://tasklattice.dev/schemas/sweep-v1.json"
	s.Title = "TaskLattice Sweep Configuration v1"
	s.Description = "Schema for tasklattice sweep YAML documents"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("sweep: marshal schema: %w", err)
	}
	return data, nil
}
