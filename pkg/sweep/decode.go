package sweep

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and strictly decodes a sweep YAML document, grounded on
// pkg/schema/schema.go's LoadFile/Load/decodeRunbookStrict (yaml.v3
// KnownFields rejecting unrecognized keys — the structural validation
// phase). It does not run the semantic/domain phases; call Validate on
// the result.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sweep: open: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a sweep document from r with strict unknown-field rejection.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("sweep: read: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("sweep: decode: %w", err)
	}
	return &cfg, nil
}
