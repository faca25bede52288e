package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ManifestFormat identifies an Apollo persisted query manifest.
const ManifestFormat = "apollo-persisted-query-manifest"

// ErrInvalidManifest reports a malformed operations file.
var ErrInvalidManifest = errors.New("invalid operations file")

// Manifest is an Apollo persisted query manifest.
type Manifest struct {
	Format     string              `json:"format" yaml:"format"`
	Version    int                 `json:"version" yaml:"version"`
	Operations []ManifestOperation `json:"operations" yaml:"operations"`
}

// ManifestOperation is one manifest entry. Only ID and Body are used.
type ManifestOperation struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
	Body string `json:"body" yaml:"body"`
}

// LoadOperations reads persisted operations from path and returns them as
// a map of hash to document text. The file holds either a flat
// {hash: document} map or a Manifest, in JSON or YAML by extension.
func LoadOperations(path string) (map[string]string, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	ops, err := ParseOperations(data, isYAML(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ops, nil
}

// ParseOperations decodes an operations file.
func ParseOperations(data []byte, isYAML bool) (map[string]string, error) {
	unmarshal := json.Unmarshal
	syntaxErr := ErrInvalidJSON
	if isYAML {
		unmarshal = yaml.Unmarshal
		syntaxErr = ErrInvalidYAML
	}

	var raw map[string]any
	if err := unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", syntaxErr, err)
	}

	if _, ok := raw["operations"].([]any); ok {
		var m Manifest
		if err := unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
		}
		return m.Map()
	}

	ops := make(map[string]string, len(raw))
	for hash, v := range raw {
		doc, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%w: operation %s: document must be a string", ErrInvalidManifest, hash)
		}
		ops[hash] = doc
	}
	return ops, nil
}

// Map returns the manifest operations keyed by ID.
func (m *Manifest) Map() (map[string]string, error) {
	if m.Format != "" && m.Format != ManifestFormat {
		return nil, fmt.Errorf("%w: unsupported manifest format %q", ErrInvalidManifest, m.Format)
	}
	ops := make(map[string]string, len(m.Operations))
	for i, op := range m.Operations {
		if op.ID == "" {
			return nil, fmt.Errorf("%w: operation %d has no id", ErrInvalidManifest, i)
		}
		if prev, ok := ops[op.ID]; ok && prev != op.Body {
			return nil, fmt.Errorf("%w: operation %s is listed twice with different bodies", ErrInvalidManifest, op.ID)
		}
		ops[op.ID] = op.Body
	}
	return ops, nil
}
