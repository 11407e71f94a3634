package cluster

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ResolvedConfig is the validated, flattened cassandra.yaml document for one node.
type ResolvedConfig map[string]any

// Marshal renders the document as YAML. Map keys are emitted in sorted order,
// so identical configs always produce identical bytes.
func (c ResolvedConfig) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any(c)); err != nil {
		return nil, fmt.Errorf("failed to encode cassandra.yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode cassandra.yaml: %w", err)
	}
	return buf.Bytes(), nil
}
