package module

import (
	"path"
	"runtime"
	"strings"
)

// Defaults returns a registry seeded with the host built-ins every manager
// exposes: path, strings and runtime.
func Defaults() *Registry {
	reg := NewRegistry()
	reg.MustRegister("path", func() (any, error) {
		return map[string]any{
			"Join":  path.Join,
			"Base":  path.Base,
			"Dir":   path.Dir,
			"Ext":   path.Ext,
			"Clean": path.Clean,
		}, nil
	})
	reg.MustRegister("strings", func() (any, error) {
		return map[string]any{
			"ToUpper":   strings.ToUpper,
			"ToLower":   strings.ToLower,
			"TrimSpace": strings.TrimSpace,
			"Split":     strings.Split,
			"Join":      strings.Join,
		}, nil
	})
	reg.MustRegister("runtime", func() (any, error) {
		return map[string]any{
			"GOOS":    runtime.GOOS,
			"GOARCH":  runtime.GOARCH,
			"Version": runtime.Version(),
		}, nil
	})
	return reg
}
