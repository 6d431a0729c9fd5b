package plugins

import (
	"bytes"
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DataExecutor loads YAML and JSON documents; the exported value is the
// decoded document.
type DataExecutor struct{}

// Execute implements Executor.
func (DataExecutor) Execute(_ context.Context, art *Artifact) (any, error) {
	return ParseDocument(art.Path, art.Source)
}

// ParseDocument decodes a YAML (or JSON) payload into generic values.
func ParseDocument(path string, data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", path)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("plugin: decode %s: %w", path, err)
	}
	return doc, nil
}
