package plugins

import (
	"fmt"
	"sort"
)

// Configure applies extension aliases (extra extension -> registered
// extension) from project configuration. Aliases are applied in sorted order
// so the probe order is stable across runs.
func Configure(set *Set, aliases map[string]string) error {
	if set == nil || len(aliases) == 0 {
		return nil
	}
	exts := make([]string, 0, len(aliases))
	for ext := range aliases {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	for _, ext := range exts {
		if err := set.Alias(ext, aliases[ext]); err != nil {
			return fmt.Errorf("plugin: configure alias %s: %w", ext, err)
		}
	}
	return nil
}
