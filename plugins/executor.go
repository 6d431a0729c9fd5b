// Package plugins executes loaded artifacts. Each recognized file extension
// maps to an Executor; the ordered extension list doubles as the set of
// extensions the resolver probes.
package plugins

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kingrea/modload/fsys"
)

// Artifact is everything an executor receives for a single load.
type Artifact struct {
	// Path is the canonical path of the artifact.
	Path   string
	Source []byte
	FS     fsys.Filesystem
	// Require loads a nested specifier relative to Path through the same
	// package manager.
	Require func(specifier string) (any, error)
}

// Dir returns the directory containing the artifact.
func (a *Artifact) Dir() string {
	return filepath.Dir(a.Path)
}

// ReadFile reads name through the artifact's filesystem. Relative names
// resolve against the artifact's directory.
func (a *Artifact) ReadFile(name string) ([]byte, error) {
	if a.FS == nil {
		return nil, fmt.Errorf("plugin: %s has no filesystem", a.Path)
	}
	if !filepath.IsAbs(name) {
		name = filepath.Join(a.Dir(), filepath.FromSlash(name))
	}
	return a.FS.ReadFile(name)
}

func (a *Artifact) require(specifier string) (any, error) {
	if a.Require == nil {
		return nil, fmt.Errorf("plugin: %s cannot require %q: no loader attached", a.Path, specifier)
	}
	return a.Require(specifier)
}

// Executor runs an artifact body and returns its exported value.
type Executor interface {
	Execute(ctx context.Context, art *Artifact) (any, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, art *Artifact) (any, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, art *Artifact) (any, error) {
	return f(ctx, art)
}

type closer interface {
	Close(ctx context.Context) error
}

// Set is an ordered extension -> executor table.
type Set struct {
	mu        sync.RWMutex
	order     []string
	executors map[string]Executor
	closers   []closer
}

// NewSet returns an empty executor set.
func NewSet() *Set {
	return &Set{executors: map[string]Executor{}}
}

// Defaults registers the built-in executors: .go (yaegi), .wasm (wazero)
// and .yaml/.yml/.json data documents, in that order.
func Defaults() *Set {
	set := NewSet()
	data := DataExecutor{}
	set.mustRegister(".go", &GoExecutor{})
	set.mustRegister(".wasm", NewWasmExecutor())
	set.mustRegister(".yaml", data)
	set.mustRegister(".yml", data)
	set.mustRegister(".json", data)
	return set
}

func normalizeExt(ext string) string {
	trimmed := strings.ToLower(strings.TrimSpace(ext))
	if trimmed == "" {
		return ""
	}
	if !strings.HasPrefix(trimmed, ".") {
		trimmed = "." + trimmed
	}
	return trimmed
}

// Register adds an executor for ext. Extensions are probed in registration order.
func (s *Set) Register(ext string, exec Executor) error {
	key := normalizeExt(ext)
	if key == "" {
		return fmt.Errorf("plugin: extension is required")
	}
	if exec == nil {
		return fmt.Errorf("plugin: executor is required for %s", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executors[key]; exists {
		return fmt.Errorf("plugin: %s already registered", key)
	}
	s.executors[key] = exec
	s.order = append(s.order, key)
	if c, ok := exec.(closer); ok && !s.hasCloser(c) {
		s.closers = append(s.closers, c)
	}
	return nil
}

func (s *Set) mustRegister(ext string, exec Executor) {
	if err := s.Register(ext, exec); err != nil {
		panic(err)
	}
}

func (s *Set) hasCloser(c closer) bool {
	for _, existing := range s.closers {
		if existing == c {
			return true
		}
	}
	return false
}

// Alias makes ext use the executor already registered for target.
func (s *Set) Alias(ext, target string) error {
	exec, ok := s.Lookup(target)
	if !ok {
		return fmt.Errorf("plugin: cannot alias %s to unregistered %s", ext, target)
	}
	return s.Register(ext, exec)
}

// Lookup returns the executor for ext.
func (s *Set) Lookup(ext string) (Executor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.executors[normalizeExt(ext)]
	return exec, ok
}

// Extensions returns the recognized extensions in probe order.
func (s *Set) Extensions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Close releases executors holding runtime resources.
func (s *Set) Close(ctx context.Context) error {
	s.mu.RLock()
	closers := append([]closer(nil), s.closers...)
	s.mu.RUnlock()
	var errs []error
	for _, c := range closers {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
