package plugins

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// WasmExecutor compiles and instantiates WebAssembly artifacts with wazero.
// Instantiation runs the module's start function, so a module body executes
// exactly when the artifact is loaded.
type WasmExecutor struct {
	mu      sync.Mutex
	config  wazero.RuntimeConfig
	runtime wazero.Runtime
}

// NewWasmExecutor returns an executor whose runtime is created on first use.
func NewWasmExecutor() *WasmExecutor {
	return &WasmExecutor{config: wazero.NewRuntimeConfig()}
}

// NewWasmExecutorWithConfig uses cfg for the underlying runtime.
func NewWasmExecutorWithConfig(cfg wazero.RuntimeConfig) *WasmExecutor {
	if cfg == nil {
		cfg = wazero.NewRuntimeConfig()
	}
	return &WasmExecutor{config: cfg}
}

func (w *WasmExecutor) runtimeFor(ctx context.Context) (wazero.Runtime, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runtime != nil {
		return w.runtime, nil
	}
	r := wazero.NewRuntimeWithConfig(ctx, w.config)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("plugin: instantiate wasi: %w", err)
	}
	w.runtime = r
	return r, nil
}

// Execute implements Executor.
func (w *WasmExecutor) Execute(ctx context.Context, art *Artifact) (any, error) {
	r, err := w.runtimeFor(ctx)
	if err != nil {
		return nil, err
	}
	compiled, err := r.CompileModule(ctx, art.Source)
	if err != nil {
		return nil, fmt.Errorf("plugin: compile %s: %w", art.Path, err)
	}
	names := make([]string, 0, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		names = append(names, name)
	}
	sort.Strings(names)
	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(""))
	if err != nil {
		_ = compiled.Close(ctx)
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return &WasmModule{path: art.Path, exited: true}, nil
		}
		return nil, fmt.Errorf("plugin: instantiate %s: %w", art.Path, err)
	}
	return &WasmModule{path: art.Path, module: mod, compiled: compiled, exports: names}, nil
}

// Close releases the runtime and every module instantiated through it.
func (w *WasmExecutor) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.runtime == nil {
		return nil
	}
	err := w.runtime.Close(ctx)
	w.runtime = nil
	return err
}

// WasmModule is the exported value of a WebAssembly artifact.
type WasmModule struct {
	path     string
	module   api.Module
	compiled wazero.CompiledModule
	exports  []string
	exited   bool
}

// Path returns the canonical path the module was loaded from.
func (m *WasmModule) Path() string {
	return m.path
}

// Exited reports whether the module ran to completion during start and has
// nothing left to call.
func (m *WasmModule) Exited() bool {
	return m.exited
}

// Exports lists the exported function names.
func (m *WasmModule) Exports() []string {
	return append([]string(nil), m.exports...)
}

// Call invokes an exported function.
func (m *WasmModule) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	if m.module == nil {
		return nil, fmt.Errorf("plugin: %s has exited", m.path)
	}
	fn := m.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("plugin: %s does not export %s", m.path, name)
	}
	return fn.Call(ctx, params...)
}

// Close releases the module instance and its compiled code.
func (m *WasmModule) Close(ctx context.Context) error {
	var err error
	if m.module != nil {
		err = m.module.Close(ctx)
		m.module = nil
	}
	if m.compiled != nil {
		if cerr := m.compiled.Close(ctx); err == nil {
			err = cerr
		}
		m.compiled = nil
	}
	return err
}
