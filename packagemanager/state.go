package packagemanager

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kingrea/modload/fsys"
	"github.com/kingrea/modload/install"
)

// State is the serializable form of a Manager: handles naming its
// filesystem and installer. Caches are never part of it; a deserialized
// manager starts cold.
type State struct {
	Filesystem string `yaml:"filesystem" json:"filesystem"`
	Installer  string `yaml:"installer,omitempty" json:"installer,omitempty"`
}

// Encode renders the state as YAML.
func (s State) Encode() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("packagemanager: encode state: %w", err)
	}
	return data, nil
}

// DecodeState parses YAML (or JSON) produced by Encode. Unknown fields are
// ignored.
func DecodeState(data []byte) (State, error) {
	var s State
	if err := yaml.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("packagemanager: decode state: %w", err)
	}
	if s.Filesystem == "" {
		return State{}, fmt.Errorf("packagemanager: decode state: filesystem handle is required")
	}
	return s, nil
}

// Handles names the shared collaborators a State refers to.
type Handles struct {
	mu          sync.RWMutex
	filesystems map[string]fsys.Filesystem
	installers  map[string]install.Installer
}

// DefaultHandles is used by managers built without WithHandles.
var DefaultHandles = NewHandles()

// NewHandles returns an empty handle registry.
func NewHandles() *Handles {
	return &Handles{
		filesystems: map[string]fsys.Filesystem{},
		installers:  map[string]install.Installer{},
	}
}

// RegisterFilesystem names fs. An empty name is replaced by a generated one.
// Registering the same filesystem under an existing name is a no-op.
func (h *Handles) RegisterFilesystem(name string, fs fsys.Filesystem) (string, error) {
	if fs == nil {
		return "", fmt.Errorf("packagemanager: filesystem is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return register(h.filesystems, name, fs)
}

// RegisterInstaller names inst. An empty name is replaced by a generated one.
func (h *Handles) RegisterInstaller(name string, inst install.Installer) (string, error) {
	if inst == nil {
		return "", fmt.Errorf("packagemanager: installer is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return register(h.installers, name, inst)
}

// Filesystem returns the filesystem registered under name.
func (h *Handles) Filesystem(name string) (fsys.Filesystem, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fs, ok := h.filesystems[name]
	return fs, ok
}

// Installer returns the installer registered under name.
func (h *Handles) Installer(name string) (install.Installer, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	inst, ok := h.installers[name]
	return inst, ok
}

func register[T any](table map[string]T, name string, value T) (string, error) {
	if name == "" {
		if existing, ok := nameOf(table, value); ok {
			return existing, nil
		}
		name = uuid.NewString()
	}
	if current, ok := table[name]; ok {
		if sameValue(current, value) {
			return name, nil
		}
		return "", fmt.Errorf("packagemanager: handle %q already registered", name)
	}
	table[name] = value
	return name, nil
}

func nameOf[T any](table map[string]T, value T) (string, bool) {
	for name, current := range table {
		if sameValue(current, value) {
			return name, true
		}
	}
	return "", false
}

// sameValue compares interface values without panicking on
// non-comparable dynamic types such as funcs.
func sameValue(a, b any) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == nil || ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// Serialize records the manager's filesystem and installer in its handle
// registry and returns the handles.
func (m *Manager) Serialize() (State, error) {
	fsName, err := m.handles.RegisterFilesystem("", m.fs)
	if err != nil {
		return State{}, err
	}
	state := State{Filesystem: fsName}
	if m.installer != nil {
		state.Installer, err = m.handles.RegisterInstaller("", m.installer)
		if err != nil {
			return State{}, err
		}
	}
	return state, nil
}

// Deserialize builds a cold manager around the collaborators named by state.
// A nil handles uses DefaultHandles.
func Deserialize(state State, handles *Handles, opts ...Option) (*Manager, error) {
	if handles == nil {
		handles = DefaultHandles
	}
	fs, ok := handles.Filesystem(state.Filesystem)
	if !ok {
		return nil, fmt.Errorf("packagemanager: unknown filesystem handle %q", state.Filesystem)
	}
	var inst install.Installer
	if state.Installer != "" {
		inst, ok = handles.Installer(state.Installer)
		if !ok {
			return nil, fmt.Errorf("packagemanager: unknown installer handle %q", state.Installer)
		}
	}
	return New(fs, inst, append([]Option{WithHandles(handles)}, opts...)...)
}
