// Package packagemanager resolves module specifiers to artifacts, loads each
// artifact at most once, and installs missing packages on demand.
//
// Every read goes through the injected fsys.Filesystem, and artifacts that
// require further specifiers do so through the manager that loaded them, so
// a whole dependency subtree is served by one filesystem.
package packagemanager

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kingrea/modload/fsys"
	"github.com/kingrea/modload/install"
	"github.com/kingrea/modload/module"
	"github.com/kingrea/modload/plugins"
	"github.com/kingrea/modload/resolve"
)

// CachePolicy controls how long successful resolutions are remembered.
type CachePolicy int

const (
	// CacheForever keeps every successful resolution for the manager's
	// lifetime. Filesystem changes after the first resolution of a key are
	// not observed until Invalidate or Reset.
	CacheForever CachePolicy = iota
	// CacheNone sends every request to the resolver. Concurrent identical
	// requests still share one resolution.
	CacheNone
)

func (p CachePolicy) String() string {
	switch p {
	case CacheForever:
		return "forever"
	case CacheNone:
		return "none"
	default:
		return fmt.Sprintf("CachePolicy(%d)", int(p))
	}
}

// ParseCachePolicy maps configuration strings onto a CachePolicy.
func ParseCachePolicy(value string) (CachePolicy, error) {
	switch value {
	case "", "forever":
		return CacheForever, nil
	case "none":
		return CacheNone, nil
	default:
		return CacheForever, fmt.Errorf("packagemanager: unknown cache policy %q", value)
	}
}

// PathResolver is the resolution primitive in both variants.
type PathResolver interface {
	resolve.Resolver
	resolve.SyncResolver
}

// Manager is the resolution and loading engine. It exclusively owns its
// caches; the filesystem and installer are shared and must outlive it.
type Manager struct {
	fs        fsys.Filesystem
	installer install.Installer
	resolver  PathResolver
	executors *plugins.Set
	builtins  *module.Registry
	handles   *Handles
	log       *zap.Logger

	policy      CachePolicy
	syncInstall bool
	installOpts install.Options

	resMu       sync.RWMutex
	resolutions map[resolutionKey]*resolve.Result
	flights     singleflight.Group

	realMu    sync.RWMutex
	realpaths map[string]string

	artMu     sync.Mutex
	artifacts map[string]*record
	// execMu is held by the outermost load of a chain while artifact bodies
	// run; nested loads on the same chain never re-acquire it.
	execMu sync.Mutex

	installMu sync.Mutex
}

// Option customizes a Manager.
type Option func(*Manager)

// WithResolver replaces the default hierarchical resolver.
func WithResolver(r PathResolver) Option {
	return func(m *Manager) {
		if r != nil {
			m.resolver = r
		}
	}
}

// WithExecutors replaces the default executor set. Its extensions become the
// recognized extensions passed to the resolver.
func WithExecutors(set *plugins.Set) Option {
	return func(m *Manager) {
		if set != nil {
			m.executors = set
		}
	}
}

// WithBuiltins replaces the default host built-in registry.
func WithBuiltins(reg *module.Registry) Option {
	return func(m *Manager) {
		if reg != nil {
			m.builtins = reg
		}
	}
}

// WithCachePolicy sets the resolution cache policy.
func WithCachePolicy(p CachePolicy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithSyncInstall enables install-and-retry on the blocking ResolveSync path.
// It is off by default: only the context-aware path installs.
func WithSyncInstall(enabled bool) Option {
	return func(m *Manager) {
		m.syncInstall = enabled
	}
}

// WithInstallOptions sets options passed to the installer on automatic installs.
func WithInstallOptions(opts install.Options) Option {
	return func(m *Manager) {
		m.installOpts = opts
	}
}

// WithLogger sets the manager's logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.log = l
		}
	}
}

// WithHandles sets the registry Serialize records the filesystem and
// installer in.
func WithHandles(h *Handles) Option {
	return func(m *Manager) {
		if h != nil {
			m.handles = h
		}
	}
}

// New builds a manager reading through fs. A nil installer disables
// install-and-retry.
func New(fs fsys.Filesystem, installer install.Installer, opts ...Option) (*Manager, error) {
	if fs == nil {
		return nil, fmt.Errorf("packagemanager: filesystem is required")
	}
	m := &Manager{
		fs:          fs,
		installer:   installer,
		handles:     DefaultHandles,
		log:         Logger(),
		resolutions: map[resolutionKey]*resolve.Result{},
		realpaths:   map[string]string{},
		artifacts:   map[string]*record{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.builtins == nil {
		m.builtins = module.Defaults()
	}
	if m.executors == nil {
		m.executors = plugins.Defaults()
	}
	if m.resolver == nil {
		m.resolver = resolve.New(fs, resolve.WithBuiltins(m.builtins))
	}
	return m, nil
}

// Filesystem returns the injected filesystem.
func (m *Manager) Filesystem() fsys.Filesystem {
	return m.fs
}

// Installer returns the injected installer, which may be nil.
func (m *Manager) Installer() install.Installer {
	return m.installer
}

// Extensions returns the recognized extensions in probe order.
func (m *Manager) Extensions() []string {
	return m.executors.Extensions()
}

// Require resolves specifier relative to from and loads the result.
func (m *Manager) Require(ctx context.Context, specifier, from string) (any, error) {
	res, err := m.Resolve(ctx, specifier, from)
	if err != nil {
		return nil, err
	}
	return m.Load(ctx, res.Path, from)
}

// RequireSync is Require over the blocking resolution path.
func (m *Manager) RequireSync(specifier, from string) (any, error) {
	res, err := m.ResolveSync(specifier, from)
	if err != nil {
		return nil, err
	}
	return m.Load(context.Background(), res.Path, from)
}

// Close releases executor resources. Cached artifacts remain readable but
// runtime-backed exports (such as wasm instances) stop working.
func (m *Manager) Close(ctx context.Context) error {
	return m.executors.Close(ctx)
}
