package packagemanager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kingrea/modload/plugins"
)

// record is the artifact table entry for one canonical path. A record with
// loaded == false is a placeholder for an execution in progress.
type record struct {
	path      string
	resolved  string
	from      string
	ext       string
	exports   any
	loaded    bool
	startedAt time.Time
	loadedAt  time.Time
}

type chainKey struct{}

// loadChain links the artifacts currently executing on behalf of one
// top-level load. It is scoped to the manager that created it and counts
// only while its artifact is executing; a require made later through an
// artifact's exports starts a new outermost load.
type loadChain struct {
	owner  *Manager
	path   string
	parent *loadChain
	active atomic.Bool
}

func (m *Manager) chainFrom(ctx context.Context) *loadChain {
	chain, _ := ctx.Value(chainKey{}).(*loadChain)
	if chain == nil || chain.owner != m || !chain.active.Load() {
		return nil
	}
	return chain
}

// Load executes the artifact at resolved, unless an artifact with the same
// canonical path was already loaded, and returns its exported value.
// Non-absolute paths name host built-ins.
//
// Loading an artifact that is still executing further up the same require
// chain returns its placeholder value, nil, rather than running it again.
func (m *Manager) Load(ctx context.Context, resolved, from string) (any, error) {
	if !filepath.IsAbs(resolved) {
		return m.loadBuiltin(resolved, from)
	}
	canonical, err := m.canonicalize(resolved)
	if err != nil {
		return nil, &Error{Kind: KindLoadFailed, Path: resolved, From: from, Cause: err}
	}
	if exports, ok := m.loaded(canonical); ok {
		return exports, nil
	}

	exec, ext, ok := m.executorFor(canonical, resolved)
	if !ok {
		return nil, &Error{Kind: KindLoadFailed, Path: canonical, From: from, Cause: fmt.Errorf("no executor for extension %q", ext)}
	}

	chain := m.chainFrom(ctx)
	if chain == nil {
		m.execMu.Lock()
		defer m.execMu.Unlock()
	}

	m.artMu.Lock()
	if rec, ok := m.artifacts[canonical]; ok {
		exports, done := rec.exports, rec.loaded
		m.artMu.Unlock()
		if !done {
			m.log.Debug("cyclic load", zap.String("path", canonical), zap.String("from", from))
		}
		return exports, nil
	}
	rec := &record{
		path:      canonical,
		resolved:  resolved,
		from:      from,
		ext:       ext,
		startedAt: time.Now(),
	}
	m.artifacts[canonical] = rec
	m.artMu.Unlock()

	link := &loadChain{owner: m, path: canonical, parent: chain}
	link.active.Store(true)
	exports, err := m.execute(context.WithValue(ctx, chainKey{}, link), rec, exec)
	link.active.Store(false)

	m.artMu.Lock()
	defer m.artMu.Unlock()
	if err != nil {
		if m.artifacts[canonical] == rec {
			delete(m.artifacts, canonical)
		}
		m.log.Warn("load failed", zap.String("path", canonical), zap.Error(err))
		return nil, err
	}
	rec.exports = exports
	rec.loaded = true
	rec.loadedAt = time.Now()
	m.log.Debug("loaded",
		zap.String("path", canonical),
		zap.Duration("took", rec.loadedAt.Sub(rec.startedAt)))
	return exports, nil
}

func (m *Manager) loadBuiltin(name, from string) (any, error) {
	exports, err := m.builtins.Resolve(name)
	if err != nil {
		return nil, &Error{Kind: KindLoadFailed, Specifier: name, From: from, Cause: err}
	}
	return exports, nil
}

func (m *Manager) loaded(canonical string) (any, bool) {
	m.artMu.Lock()
	defer m.artMu.Unlock()
	rec, ok := m.artifacts[canonical]
	if !ok || !rec.loaded {
		return nil, false
	}
	return rec.exports, true
}

// canonicalize maps a resolved path to its canonical form, consulting the
// filesystem at most once per distinct path.
func (m *Manager) canonicalize(path string) (string, error) {
	m.realMu.RLock()
	canonical, ok := m.realpaths[path]
	m.realMu.RUnlock()
	if ok {
		return canonical, nil
	}
	canonical, err := m.fs.Realpath(path)
	if err != nil {
		return "", err
	}
	m.realMu.Lock()
	m.realpaths[path] = canonical
	m.realMu.Unlock()
	return canonical, nil
}

// executorFor picks the executor by the canonical path's extension, falling
// back to the extension the artifact was resolved under.
func (m *Manager) executorFor(canonical, resolved string) (plugins.Executor, string, bool) {
	for _, candidate := range []string{canonical, resolved} {
		ext := filepath.Ext(candidate)
		if exec, ok := m.executors.Lookup(ext); ok {
			return exec, ext, true
		}
	}
	return nil, filepath.Ext(canonical), false
}

func (m *Manager) execute(ctx context.Context, rec *record, exec plugins.Executor) (exports any, err error) {
	source, err := m.fs.ReadFile(rec.path)
	if err != nil {
		return nil, &Error{Kind: KindLoadFailed, Path: rec.path, From: rec.from, Cause: err}
	}
	// Exported functions may require long after ctx is gone.
	requireCtx := context.WithoutCancel(ctx)
	art := &plugins.Artifact{
		Path:   rec.path,
		Source: source,
		FS:     m.fs,
		Require: func(specifier string) (any, error) {
			return m.Require(requireCtx, specifier, rec.path)
		},
	}
	defer func() {
		if r := recover(); r != nil {
			exports = nil
			err = &Error{Kind: KindLoadFailed, Path: rec.path, From: rec.from, Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	exports, err = exec.Execute(ctx, art)
	if err != nil {
		return nil, &Error{Kind: KindLoadFailed, Path: rec.path, From: rec.from, Cause: err}
	}
	return exports, nil
}
