package packagemanager

import (
	"context"
	"io/fs"
	"sync"
	"testing"

	"github.com/kingrea/modload/install"
	"github.com/kingrea/modload/module"
	"github.com/kingrea/modload/plugins"
	"github.com/kingrea/modload/resolve"
)

// memFS is a minimal Filesystem that counts every access.
type memFS struct {
	mu        sync.Mutex
	files     map[string]string
	links     map[string]string
	reads     map[string]int
	realpaths int
}

func newMemFS(files map[string]string) *memFS {
	return &memFS{files: files, links: map[string]string{}, reads: map[string]int{}}
}

func (f *memFS) ReadFile(name string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads[name]++
	data, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return []byte(data), nil
}

func (f *memFS) Stat(name string) (fs.FileInfo, error) {
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

func (f *memFS) Realpath(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.realpaths++
	if target, ok := f.links[name]; ok {
		return target, nil
	}
	if _, ok := f.files[name]; ok {
		return name, nil
	}
	return "", &fs.PathError{Op: "realpath", Path: name, Err: fs.ErrNotExist}
}

func (f *memFS) totalReads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.reads {
		total += n
	}
	return total
}

// stubResolver answers both resolver variants from fn. When gate is set,
// Resolve blocks on it after signalling entered.
type stubResolver struct {
	mu      sync.Mutex
	calls   int
	opts    []resolve.Options
	gate    chan struct{}
	entered chan struct{}
	fn      func(call int, specifier string, opts resolve.Options) (resolve.Result, error)
}

func (r *stubResolver) record(opts resolve.Options) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.opts = append(r.opts, opts)
	return r.calls
}

func (r *stubResolver) Resolve(ctx context.Context, specifier string, opts resolve.Options) (resolve.Result, error) {
	n := r.record(opts)
	if r.entered != nil {
		r.entered <- struct{}{}
	}
	if r.gate != nil {
		<-r.gate
	}
	return r.fn(n, specifier, opts)
}

func (r *stubResolver) ResolveSync(specifier string, opts resolve.Options) (resolve.Result, error) {
	return r.fn(r.record(opts), specifier, opts)
}

func (r *stubResolver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// table resolves specifiers through a fixed map.
func table(paths map[string]string) func(int, string, resolve.Options) (resolve.Result, error) {
	return func(_ int, specifier string, opts resolve.Options) (resolve.Result, error) {
		if p, ok := paths[specifier]; ok {
			return resolve.Result{Path: p}, nil
		}
		return resolve.Result{}, &resolve.NotFoundError{Specifier: specifier, BaseDir: opts.BaseDir}
	}
}

type installCall struct {
	specifiers []string
	from       string
	opts       install.Options
}

// recordingInstaller counts installs and optionally fails them.
type recordingInstaller struct {
	mu    sync.Mutex
	calls []installCall
	err   error
	after func()
}

func (i *recordingInstaller) Install(_ context.Context, specifiers []string, from string, opts install.Options) error {
	i.mu.Lock()
	i.calls = append(i.calls, installCall{specifiers: specifiers, from: from, opts: opts})
	i.mu.Unlock()
	if i.err != nil {
		return i.err
	}
	if i.after != nil {
		i.after()
	}
	return nil
}

func (i *recordingInstaller) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.calls)
}

// countingExecutor runs fn and counts executions per path.
type countingExecutor struct {
	mu   sync.Mutex
	runs map[string]int
	fn   func(ctx context.Context, art *plugins.Artifact) (any, error)
}

func newCountingExecutor(fn func(ctx context.Context, art *plugins.Artifact) (any, error)) *countingExecutor {
	return &countingExecutor{runs: map[string]int{}, fn: fn}
}

func (e *countingExecutor) Execute(ctx context.Context, art *plugins.Artifact) (any, error) {
	e.mu.Lock()
	e.runs[art.Path]++
	e.mu.Unlock()
	return e.fn(ctx, art)
}

func (e *countingExecutor) count(path string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[path]
}

func executorSet(t *testing.T, ext string, exec plugins.Executor) *plugins.Set {
	t.Helper()
	set := plugins.NewSet()
	if err := set.Register(ext, exec); err != nil {
		t.Fatalf("register executor: %v", err)
	}
	return set
}

func newTestManager(t *testing.T, fs *memFS, installer install.Installer, opts ...Option) *Manager {
	t.Helper()
	m, err := New(fs, installer, append([]Option{WithBuiltins(module.NewRegistry())}, opts...)...)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}
