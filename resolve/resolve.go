// Package resolve implements the hierarchical module search the package
// manager delegates to. Relative specifiers resolve against the requesting
// directory; bare specifiers walk up the tree probing modules directories.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/kingrea/modload/fsys"
)

const (
	// DefaultModulesDir is the per-directory folder searched for bare specifiers.
	DefaultModulesDir = "modules"
	// DefaultManifest names the package manifest inside a module directory.
	DefaultManifest = "module.yaml"

	indexName = "index"
)

// ErrNotFound classifies failures that the install-retry path may recover from.
var ErrNotFound = errors.New("module not found")

// ErrInvalidSpecifier is returned for empty or malformed specifiers.
var ErrInvalidSpecifier = errors.New("invalid specifier")

// NotFoundError reports which specifier could not be located and from where.
type NotFoundError struct {
	Specifier string
	BaseDir   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resolve: cannot find module %q from %s", e.Specifier, e.BaseDir)
}

// Is lets errors.Is(err, ErrNotFound) match.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// Options carries the search parameters for one resolution.
type Options struct {
	BaseDir    string
	Extensions []string
}

// Result is the outcome of a successful resolution.
type Result struct {
	// Path is absolute, or the bare built-in name when Builtin is set.
	Path      string
	Builtin   bool
	Extension string
	// Package is the manifest name of the module directory Path was found in.
	Package string
}

// Resolver is the context-aware resolution primitive.
type Resolver interface {
	Resolve(ctx context.Context, specifier string, opts Options) (Result, error)
}

// SyncResolver is the blocking resolution primitive.
type SyncResolver interface {
	ResolveSync(specifier string, opts Options) (Result, error)
}

// Builtins reports host-provided module names.
type Builtins interface {
	Has(name string) bool
}

// Hierarchical resolves specifiers against a Filesystem.
type Hierarchical struct {
	fs         fsys.Filesystem
	builtins   Builtins
	modulesDir string
	manifest   string
}

// Option customizes a Hierarchical resolver.
type Option func(*Hierarchical)

// WithBuiltins marks names served by the host instead of the filesystem.
func WithBuiltins(b Builtins) Option {
	return func(h *Hierarchical) {
		h.builtins = b
	}
}

// WithModulesDir overrides the modules directory name.
func WithModulesDir(name string) Option {
	return func(h *Hierarchical) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			h.modulesDir = trimmed
		}
	}
}

// WithManifest overrides the manifest file name.
func WithManifest(name string) Option {
	return func(h *Hierarchical) {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			h.manifest = trimmed
		}
	}
}

// New builds a resolver reading through fs.
func New(fs fsys.Filesystem, opts ...Option) *Hierarchical {
	h := &Hierarchical{
		fs:         fs,
		modulesDir: DefaultModulesDir,
		manifest:   DefaultManifest,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Resolve implements Resolver.
func (h *Hierarchical) Resolve(ctx context.Context, specifier string, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return h.ResolveSync(specifier, opts)
}

// ResolveSync implements SyncResolver.
func (h *Hierarchical) ResolveSync(specifier string, opts Options) (Result, error) {
	spec := strings.TrimSpace(specifier)
	if spec == "" {
		return Result{}, fmt.Errorf("resolve: %w: empty specifier", ErrInvalidSpecifier)
	}
	if h.builtins != nil && h.builtins.Has(spec) {
		return Result{Path: spec, Builtin: true}, nil
	}
	base := filepath.Clean(opts.BaseDir)
	if isPathSpecifier(spec) {
		target := spec
		if !filepath.IsAbs(target) {
			target = filepath.Join(base, filepath.FromSlash(spec))
		}
		res, ok, err := h.probe(target, opts.Extensions)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}
		return Result{}, &NotFoundError{Specifier: spec, BaseDir: base}
	}
	for dir := base; ; dir = filepath.Dir(dir) {
		if filepath.Base(dir) != h.modulesDir {
			candidate := filepath.Join(dir, h.modulesDir, filepath.FromSlash(spec))
			res, ok, err := h.probe(candidate, opts.Extensions)
			if err != nil {
				return Result{}, err
			}
			if ok {
				return res, nil
			}
		}
		if parent := filepath.Dir(dir); parent == dir {
			break
		}
	}
	return Result{}, &NotFoundError{Specifier: spec, BaseDir: base}
}

func isPathSpecifier(spec string) bool {
	return spec == "." || spec == ".." ||
		strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") ||
		filepath.IsAbs(spec)
}

func (h *Hierarchical) probe(target string, exts []string) (Result, bool, error) {
	res, ok, err := h.probeFile(target, exts)
	if err != nil || ok {
		return res, ok, err
	}
	return h.probeDir(target, exts)
}

func (h *Hierarchical) probeFile(target string, exts []string) (Result, bool, error) {
	isFile, err := h.isFile(target)
	if err != nil {
		return Result{}, false, err
	}
	if isFile {
		return Result{Path: target, Extension: filepath.Ext(target)}, true, nil
	}
	for _, ext := range exts {
		candidate := target + ext
		isFile, err := h.isFile(candidate)
		if err != nil {
			return Result{}, false, err
		}
		if isFile {
			return Result{Path: candidate, Extension: ext}, true, nil
		}
	}
	return Result{}, false, nil
}

func (h *Hierarchical) probeDir(dir string, exts []string) (Result, bool, error) {
	info, err := h.fs.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Result{}, false, nil
		}
		return Result{}, false, fmt.Errorf("resolve: stat %s: %w", dir, err)
	}
	if !info.IsDir() {
		return Result{}, false, nil
	}
	manifest, found, err := h.readManifest(dir)
	if err != nil {
		return Result{}, false, err
	}
	if found && manifest.Main != "" {
		main := filepath.Join(dir, filepath.FromSlash(manifest.Main))
		res, ok, err := h.probeFile(main, exts)
		if err != nil {
			return Result{}, false, err
		}
		if !ok {
			res, ok, err = h.probeIndex(main, exts)
			if err != nil {
				return Result{}, false, err
			}
		}
		if ok {
			res.Package = manifest.Name
			return res, true, nil
		}
	}
	res, ok, err := h.probeIndex(dir, exts)
	if ok && found {
		res.Package = manifest.Name
	}
	return res, ok, err
}

func (h *Hierarchical) probeIndex(dir string, exts []string) (Result, bool, error) {
	for _, ext := range exts {
		candidate := filepath.Join(dir, indexName+ext)
		isFile, err := h.isFile(candidate)
		if err != nil {
			return Result{}, false, err
		}
		if isFile {
			return Result{Path: candidate, Extension: ext}, true, nil
		}
	}
	return Result{}, false, nil
}

func (h *Hierarchical) readManifest(dir string) (Manifest, bool, error) {
	path := filepath.Join(dir, h.manifest)
	isFile, err := h.isFile(path)
	if err != nil || !isFile {
		return Manifest{}, false, err
	}
	data, err := h.fs.ReadFile(path)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("resolve: read manifest %s: %w", path, err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return Manifest{}, false, fmt.Errorf("resolve: manifest %s: %w", path, err)
	}
	return manifest, true, nil
}

func (h *Hierarchical) isFile(path string) (bool, error) {
	info, err := h.fs.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrInvalid) {
			return false, nil
		}
		// A path component that is a regular file surfaces as ENOTDIR.
		if errors.Is(err, syscall.ENOTDIR) {
			return false, nil
		}
		return false, fmt.Errorf("resolve: stat %s: %w", path, err)
	}
	return info.Mode().IsRegular(), nil
}
