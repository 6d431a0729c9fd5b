package resolve

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is the subset of module.yaml the resolver reads.
type Manifest struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
	Main    string `json:"main,omitempty" yaml:"main,omitempty"`
}

// ParseManifest decodes and validates a manifest document.
func ParseManifest(data []byte) (Manifest, error) {
	var manifest Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("parse: %w", err)
	}
	manifest = manifest.Normalized()
	if err := manifest.Validate(); err != nil {
		return Manifest{}, err
	}
	return manifest, nil
}

// Normalized returns a trimmed copy with Main in slash-separated clean form.
func (m Manifest) Normalized() Manifest {
	clone := Manifest{
		Name:    strings.TrimSpace(m.Name),
		Version: strings.TrimSpace(m.Version),
		Main:    strings.TrimSpace(m.Main),
	}
	if clone.Main != "" {
		clone.Main = path.Clean(strings.ReplaceAll(clone.Main, `\`, "/"))
	}
	return clone
}

// Validate ensures main stays inside the module directory.
func (m Manifest) Validate() error {
	normalized := m.Normalized()
	if normalized.Main == "" {
		return nil
	}
	if path.IsAbs(normalized.Main) {
		return fmt.Errorf("main %q must be relative", m.Main)
	}
	if normalized.Main == ".." || strings.HasPrefix(normalized.Main, "../") {
		return fmt.Errorf("main %q escapes the module directory", m.Main)
	}
	return nil
}
