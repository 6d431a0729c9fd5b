package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/kingrea/modload/fsys"
	"github.com/kingrea/modload/resolve"
)

// Directory installs packages by copying them out of a local registry
// directory (a vendor cache or mirror) into the project's modules directory.
// Both sides are afero filesystems, so installs work against in-memory and
// snapshot trees.
type Directory struct {
	// Registry holds one directory per package, named by specifier.
	Registry     afero.Fs
	RegistryRoot string
	// Target receives the copied packages.
	Target     *fsys.AferoFS
	ModulesDir string
	Manifest   string
}

// Install implements Installer. The "modules-dir" option overrides ModulesDir.
func (d *Directory) Install(ctx context.Context, specifiers []string, from string, opts Options) error {
	if d.Registry == nil || d.Target == nil {
		return fmt.Errorf("install: directory installer is not configured")
	}
	modulesDir := firstNonEmpty(opts["modules-dir"], d.ModulesDir, resolve.DefaultModulesDir)
	root := ProjectRoot(d.Target, from, firstNonEmpty(d.Manifest, resolve.DefaultManifest))
	for _, spec := range specifiers {
		if err := ctx.Err(); err != nil {
			return err
		}
		name, err := packageName(spec)
		if err != nil {
			return err
		}
		src := filepath.Join(d.RegistryRoot, filepath.FromSlash(name))
		if ok, err := afero.DirExists(d.Registry, src); err != nil {
			return fmt.Errorf("install: inspect %s: %w", src, err)
		} else if !ok {
			return fmt.Errorf("install: %s not found in registry %s", name, d.RegistryRoot)
		}
		dst := filepath.Join(root, modulesDir, filepath.FromSlash(name))
		if err := copyTree(d.Registry, src, d.Target.Fs(), dst); err != nil {
			return fmt.Errorf("install: copy %s: %w", name, err)
		}
	}
	return nil
}

func copyTree(src afero.Fs, srcRoot string, dst afero.Fs, dstRoot string) error {
	return afero.Walk(src, srcRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcRoot, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dstRoot, rel)
		if info.IsDir() {
			return dst.MkdirAll(target, 0o755)
		}
		data, err := afero.ReadFile(src, path)
		if err != nil {
			return err
		}
		if err := dst.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		return afero.WriteFile(dst, target, data, info.Mode().Perm())
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
