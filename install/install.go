// Package install provides the installers the package manager invokes when a
// specifier cannot be resolved.
package install

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kingrea/modload/fsys"
)

// Options is passed through to installers untouched.
type Options map[string]string

// Installer makes specifiers resolvable from the given requesting path.
type Installer interface {
	Install(ctx context.Context, specifiers []string, from string, opts Options) error
}

// Func adapts a function to Installer.
type Func func(ctx context.Context, specifiers []string, from string, opts Options) error

// Install implements Installer.
func (f Func) Install(ctx context.Context, specifiers []string, from string, opts Options) error {
	return f(ctx, specifiers, from, opts)
}

// packageName validates a specifier handed to an installer. Package names are
// clean slash-separated paths that stay inside the modules directory and
// cannot be mistaken for command-line flags.
func packageName(spec string) (string, error) {
	name := strings.TrimSpace(spec)
	switch {
	case name == "",
		strings.HasPrefix(name, "."),
		strings.HasPrefix(name, "-"),
		strings.HasPrefix(name, "/"),
		strings.Contains(name, `\`),
		filepath.IsAbs(name),
		path.Clean(name) != name:
		return "", fmt.Errorf("install: %q is not a package name", spec)
	}
	return name, nil
}

// ProjectRoot walks up from the directory of from to the nearest directory
// holding manifest. Without one, the directory of from is the root.
func ProjectRoot(files fsys.Filesystem, from, manifest string) string {
	start := filepath.Dir(filepath.Clean(from))
	for dir := start; ; {
		info, err := files.Stat(filepath.Join(dir, manifest))
		if err == nil && info.Mode().IsRegular() {
			return dir
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return start
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// Merge returns a copy of base overlaid with overrides.
func Merge(base, overrides Options) Options {
	if len(base) == 0 && len(overrides) == 0 {
		return nil
	}
	out := make(Options, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Flags renders options as sorted --key=value arguments.
func (o Options) Flags() []string {
	if len(o) == 0 {
		return nil
	}
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	flags := make([]string, 0, len(keys))
	for _, k := range keys {
		flags = append(flags, "--"+k+"="+o[k])
	}
	return flags
}
