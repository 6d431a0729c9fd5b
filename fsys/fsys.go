// Package fsys defines the storage seam every resolution and load goes
// through. Backends are afero filesystems so builds can run against the host
// disk, an in-memory tree or a copy-on-write snapshot.
package fsys

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// maxLinkHops bounds symlink expansion in Realpath.
const maxLinkHops = 255

// Filesystem is the capability set the package manager reads through.
type Filesystem interface {
	ReadFile(name string) ([]byte, error)
	Stat(name string) (fs.FileInfo, error)
	Realpath(name string) (string, error)
}

// AferoFS adapts an afero.Fs to Filesystem.
type AferoFS struct {
	fs afero.Fs
}

// New wraps an afero filesystem.
func New(backing afero.Fs) *AferoFS {
	if backing == nil {
		backing = afero.NewMemMapFs()
	}
	return &AferoFS{fs: backing}
}

// OS returns a filesystem backed by the host disk.
func OS() *AferoFS {
	return New(afero.NewOsFs())
}

// Memory returns an empty in-memory filesystem.
func Memory() *AferoFS {
	return New(afero.NewMemMapFs())
}

// Snapshot layers a writable in-memory overlay over a read-only view of base.
// Installs performed against the snapshot never reach base.
func Snapshot(base afero.Fs) *AferoFS {
	return New(afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(base), afero.NewMemMapFs()))
}

// Fs exposes the backing afero filesystem for writers such as installers.
func (a *AferoFS) Fs() afero.Fs {
	return a.fs
}

// ReadFile implements Filesystem.
func (a *AferoFS) ReadFile(name string) ([]byte, error) {
	data, err := afero.ReadFile(a.fs, name)
	if err != nil {
		return nil, fmt.Errorf("fsys: read %s: %w", name, err)
	}
	return data, nil
}

// Stat implements Filesystem.
func (a *AferoFS) Stat(name string) (fs.FileInfo, error) {
	return a.fs.Stat(name)
}

// Realpath implements Filesystem. Symlinks are followed only when the
// backing store can report them.
func (a *AferoFS) Realpath(name string) (string, error) {
	abs, err := absPath(name)
	if err != nil {
		return "", err
	}
	if _, err := a.fs.Stat(abs); err != nil {
		return "", fmt.Errorf("fsys: realpath %s: %w", name, err)
	}
	lst, okLstat := a.fs.(afero.Lstater)
	lr, okLink := a.fs.(afero.LinkReader)
	if !okLstat || !okLink {
		return abs, nil
	}
	resolved, err := evalSymlinks(lst, lr, abs)
	if err != nil {
		return "", fmt.Errorf("fsys: realpath %s: %w", name, err)
	}
	return resolved, nil
}

func absPath(name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("fsys: empty path")
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name), nil
	}
	abs, err := filepath.Abs(name)
	if err != nil {
		return "", fmt.Errorf("fsys: absolute path for %s: %w", name, err)
	}
	return abs, nil
}

func evalSymlinks(lst afero.Lstater, lr afero.LinkReader, path string) (string, error) {
	sep := string(filepath.Separator)
	resolved := sep
	rest := strings.Split(path, sep)
	hops := 0
	for len(rest) > 0 {
		part := rest[0]
		rest = rest[1:]
		switch part {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}
		next := filepath.Join(resolved, part)
		info, _, err := lst.LstatIfPossible(next)
		if err != nil {
			return "", err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			resolved = next
			continue
		}
		hops++
		if hops > maxLinkHops {
			return "", fmt.Errorf("too many links resolving %s", path)
		}
		target, err := lr.ReadlinkIfPossible(next)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(target) {
			resolved = sep
		}
		rest = append(strings.Split(target, sep), rest...)
	}
	return resolved, nil
}
