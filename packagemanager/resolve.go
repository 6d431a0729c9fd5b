package packagemanager

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kingrea/modload/install"
	"github.com/kingrea/modload/resolve"
)

// resolutionKey identifies one resolution: the requesting directory and the
// specifier as written.
type resolutionKey struct {
	dir       string
	specifier string
}

func keyFor(from, specifier string) resolutionKey {
	return resolutionKey{dir: filepath.Dir(from), specifier: specifier}
}

// flight names the key for singleflight. NUL cannot occur in a path.
func (k resolutionKey) flight() string {
	return k.dir + "\x00" + k.specifier
}

func (m *Manager) resolveOptions(from string) resolve.Options {
	return resolve.Options{
		BaseDir:    filepath.Dir(from),
		Extensions: m.executors.Extensions(),
	}
}

// Resolve maps specifier, requested from the file at from, to a resolved
// target. Concurrent calls for the same directory and specifier share one
// resolution and receive the same *resolve.Result. The shared resolution is
// not cancelled when one caller's ctx ends; that caller just stops waiting.
//
// A not-found failure triggers one install of specifier followed by one
// retry. A second not-found is final.
func (m *Manager) Resolve(ctx context.Context, specifier, from string) (*resolve.Result, error) {
	key := keyFor(from, specifier)
	if res, ok := m.cachedResolution(key); ok {
		return res, nil
	}
	flightCtx := context.WithoutCancel(ctx)
	ch := m.flights.DoChan(key.flight(), func() (any, error) {
		if res, ok := m.cachedResolution(key); ok {
			return res, nil
		}
		opts := m.resolveOptions(from)
		return m.resolveWithInstall(flightCtx, key, specifier, from, true, func(ctx context.Context) (resolve.Result, error) {
			return m.resolver.Resolve(ctx, specifier, opts)
		})
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*resolve.Result), nil
	}
}

// ResolveSync is the blocking form of Resolve. It shares the resolution
// cache but does not coordinate with concurrent callers, and only installs
// missing packages when the manager was built WithSyncInstall(true).
func (m *Manager) ResolveSync(specifier, from string) (*resolve.Result, error) {
	key := keyFor(from, specifier)
	if res, ok := m.cachedResolution(key); ok {
		return res, nil
	}
	opts := m.resolveOptions(from)
	return m.resolveWithInstall(context.Background(), key, specifier, from, m.syncInstall, func(context.Context) (resolve.Result, error) {
		return m.resolver.ResolveSync(specifier, opts)
	})
}

// resolveWithInstall drives one request through
// resolving -> installing -> retrying -> resolved|failed. At most one
// install happens per request.
func (m *Manager) resolveWithInstall(ctx context.Context, key resolutionKey, specifier, from string, allowInstall bool, attempt func(context.Context) (resolve.Result, error)) (*resolve.Result, error) {
	triedInstall := !allowInstall
	for {
		res, err := attempt(ctx)
		if err == nil {
			m.log.Debug("resolved",
				zap.String("specifier", specifier),
				zap.String("from", from),
				zap.String("path", res.Path))
			return m.storeResolution(key, &res), nil
		}
		if !errors.Is(err, resolve.ErrNotFound) {
			return nil, &Error{Kind: KindResolveFailed, Specifier: specifier, From: from, Cause: err}
		}
		if triedInstall || m.installer == nil {
			return nil, &Error{Kind: KindNotFound, Specifier: specifier, From: from, Cause: err}
		}
		triedInstall = true
		if err := m.Install(ctx, []string{specifier}, from, nil); err != nil {
			return nil, err
		}
	}
}

// Install runs the installer for specifiers. opts are merged over the
// manager's install options. Installs are serialized per manager.
func (m *Manager) Install(ctx context.Context, specifiers []string, from string, opts install.Options) error {
	if m.installer == nil {
		return &Error{Kind: KindInstallFailed, Specifier: strings.Join(specifiers, " "), From: from, Cause: errors.New("no installer configured")}
	}
	m.installMu.Lock()
	defer m.installMu.Unlock()
	m.log.Info("installing", zap.Strings("specifiers", specifiers), zap.String("from", from))
	if err := m.installer.Install(ctx, specifiers, from, install.Merge(m.installOpts, opts)); err != nil {
		m.log.Warn("install failed", zap.Strings("specifiers", specifiers), zap.Error(err))
		return &Error{Kind: KindInstallFailed, Specifier: strings.Join(specifiers, " "), From: from, Cause: err}
	}
	return nil
}

func (m *Manager) cachedResolution(key resolutionKey) (*resolve.Result, bool) {
	if m.policy == CacheNone {
		return nil, false
	}
	m.resMu.RLock()
	defer m.resMu.RUnlock()
	res, ok := m.resolutions[key]
	return res, ok
}

// storeResolution keeps the first result stored under key so callers
// racing through ResolveSync still converge on one value.
func (m *Manager) storeResolution(key resolutionKey, res *resolve.Result) *resolve.Result {
	if m.policy == CacheNone {
		return res
	}
	m.resMu.Lock()
	defer m.resMu.Unlock()
	if existing, ok := m.resolutions[key]; ok {
		return existing
	}
	m.resolutions[key] = res
	return res
}

// Invalidate forgets the cached resolution of specifier requested from from.
func (m *Manager) Invalidate(specifier, from string) {
	m.resMu.Lock()
	delete(m.resolutions, keyFor(from, specifier))
	m.resMu.Unlock()
}

// Reset forgets every cached resolution and canonical path. Loaded artifacts
// are kept: an artifact body never runs twice.
func (m *Manager) Reset() {
	m.resMu.Lock()
	m.resolutions = map[resolutionKey]*resolve.Result{}
	m.resMu.Unlock()
	m.realMu.Lock()
	m.realpaths = map[string]string{}
	m.realMu.Unlock()
}

// ResolutionInfo is a read-only view of one cached resolution.
type ResolutionInfo struct {
	BaseDir   string
	Specifier string
	Path      string
	Builtin   bool
	Extension string
	Package   string
}

// Resolutions lists cached resolutions ordered by base directory then specifier.
func (m *Manager) Resolutions() []ResolutionInfo {
	m.resMu.RLock()
	out := make([]ResolutionInfo, 0, len(m.resolutions))
	for key, res := range m.resolutions {
		out = append(out, ResolutionInfo{
			BaseDir:   key.dir,
			Specifier: key.specifier,
			Path:      res.Path,
			Builtin:   res.Builtin,
			Extension: res.Extension,
			Package:   res.Package,
		})
	}
	m.resMu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].BaseDir != out[j].BaseDir {
			return out[i].BaseDir < out[j].BaseDir
		}
		return out[i].Specifier < out[j].Specifier
	})
	return out
}
