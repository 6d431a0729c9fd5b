package packagemanager

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/modload/install"
	"github.com/kingrea/modload/resolve"
)

func TestResolveConcurrentRequestsShareOneResolution(t *testing.T) {
	r := &stubResolver{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 16),
		fn:      table(map[string]string{"dep": "/proj/modules/dep/index.js"}),
	}
	m := newTestManager(t, newMemFS(nil), nil, WithResolver(r))

	const callers = 8
	results := make([]*resolve.Result, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Resolve(context.Background(), "dep", "/proj/main.js")
		}(i)
		if i == 0 {
			<-r.entered
		}
	}
	time.Sleep(20 * time.Millisecond)
	close(r.gate)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("caller %d got a different result pointer", i)
		}
	}
	if got := r.count(); got != 1 {
		t.Fatalf("expected one resolver call, got %d", got)
	}
}

func TestResolveKeyIsDirectoryAndSpecifier(t *testing.T) {
	r := &stubResolver{fn: table(map[string]string{"dep": "/proj/modules/dep.js"})}
	m := newTestManager(t, newMemFS(nil), nil, WithResolver(r), WithExecutors(executorSet(t, ".js", newCountingExecutor(nil))))
	ctx := context.Background()

	first, err := m.Resolve(ctx, "dep", "/proj/a.js")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := m.Resolve(ctx, "dep", "/proj/b.js")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first != second || r.count() != 1 {
		t.Fatalf("same directory should hit the cache (calls=%d)", r.count())
	}
	if _, err := m.Resolve(ctx, "dep", "/other/a.js"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if r.count() != 2 {
		t.Fatalf("expected a second resolution for another directory, got %d", r.count())
	}
	want := resolve.Options{BaseDir: "/proj", Extensions: []string{".js"}}
	if !reflect.DeepEqual(r.opts[0], want) {
		t.Fatalf("unexpected resolver options %#v", r.opts[0])
	}
}

func TestResolveInstallRetry(t *testing.T) {
	cases := []struct {
		name         string
		installErr   error
		resolveErr   func(call int) error
		wantErr      error
		wantInstalls int
		wantCalls    int
	}{
		{
			name: "succeeds after install",
			resolveErr: func(call int) error {
				if call == 1 {
					return &resolve.NotFoundError{Specifier: "dep"}
				}
				return nil
			},
			wantInstalls: 1,
			wantCalls:    2,
		},
		{
			name:         "not found after install is terminal",
			resolveErr:   func(int) error { return &resolve.NotFoundError{Specifier: "dep"} },
			wantErr:      ErrNotFound,
			wantInstalls: 1,
			wantCalls:    2,
		},
		{
			name:         "install failure is terminal",
			installErr:   errors.New("registry offline"),
			resolveErr:   func(int) error { return &resolve.NotFoundError{Specifier: "dep"} },
			wantErr:      ErrInstallFailed,
			wantInstalls: 1,
			wantCalls:    1,
		},
		{
			name:         "other failures skip install",
			resolveErr:   func(int) error { return errors.New("permission denied") },
			wantErr:      ErrResolveFailed,
			wantInstalls: 0,
			wantCalls:    1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := &stubResolver{fn: func(call int, specifier string, _ resolve.Options) (resolve.Result, error) {
				if err := tc.resolveErr(call); err != nil {
					return resolve.Result{}, err
				}
				return resolve.Result{Path: "/proj/modules/dep.js"}, nil
			}}
			inst := &recordingInstaller{err: tc.installErr}
			m := newTestManager(t, newMemFS(nil), inst, WithResolver(r), WithInstallOptions(install.Options{"registry": "local"}))

			res, err := m.Resolve(context.Background(), "dep", "/proj/main.js")
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("resolve: %v", err)
				}
				if res.Path != "/proj/modules/dep.js" {
					t.Fatalf("unexpected result %#v", res)
				}
			} else if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if inst.count() != tc.wantInstalls {
				t.Fatalf("expected %d installs, got %d", tc.wantInstalls, inst.count())
			}
			if r.count() != tc.wantCalls {
				t.Fatalf("expected %d resolver calls, got %d", tc.wantCalls, r.count())
			}
			if tc.wantInstalls > 0 {
				call := inst.calls[0]
				if !reflect.DeepEqual(call.specifiers, []string{"dep"}) || call.from != "/proj/main.js" || call.opts["registry"] != "local" {
					t.Fatalf("unexpected install call %#v", call)
				}
			}
		})
	}
}

func TestResolveNotFoundMatchesResolverSentinel(t *testing.T) {
	r := &stubResolver{fn: table(nil)}
	m := newTestManager(t, newMemFS(nil), nil, WithResolver(r))
	_, err := m.Resolve(context.Background(), "missing", "/proj/main.js")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, resolve.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	var perr *Error
	if !errors.As(err, &perr) || perr.Specifier != "missing" || perr.From != "/proj/main.js" {
		t.Fatalf("unexpected error detail %#v", err)
	}
	if r.count() != 1 {
		t.Fatalf("no installer means no retry, got %d calls", r.count())
	}
}

func TestResolveSyncInstallIsOptIn(t *testing.T) {
	newResolver := func() *stubResolver {
		return &stubResolver{fn: func(call int, specifier string, opts resolve.Options) (resolve.Result, error) {
			if call == 1 {
				return resolve.Result{}, &resolve.NotFoundError{Specifier: specifier}
			}
			return resolve.Result{Path: "/proj/modules/dep.js"}, nil
		}}
	}

	inst := &recordingInstaller{}
	m := newTestManager(t, newMemFS(nil), inst, WithResolver(newResolver()))
	if _, err := m.ResolveSync("dep", "/proj/main.js"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found without sync install, got %v", err)
	}
	if inst.count() != 0 {
		t.Fatalf("sync path installed without opting in")
	}

	inst = &recordingInstaller{}
	m = newTestManager(t, newMemFS(nil), inst, WithResolver(newResolver()), WithSyncInstall(true))
	res, err := m.ResolveSync("dep", "/proj/main.js")
	if err != nil {
		t.Fatalf("resolve sync: %v", err)
	}
	if res.Path != "/proj/modules/dep.js" || inst.count() != 1 {
		t.Fatalf("unexpected result %#v after %d installs", res, inst.count())
	}
}

func TestResolveSyncSharesCache(t *testing.T) {
	r := &stubResolver{fn: table(map[string]string{"dep": "/proj/dep.js"})}
	m := newTestManager(t, newMemFS(nil), nil, WithResolver(r))
	first, err := m.ResolveSync("dep", "/proj/main.js")
	if err != nil {
		t.Fatalf("resolve sync: %v", err)
	}
	second, err := m.Resolve(context.Background(), "dep", "/proj/main.js")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first != second || r.count() != 1 {
		t.Fatalf("expected cached result, calls=%d", r.count())
	}
}

func TestResolveFailuresAreNotCached(t *testing.T) {
	r := &stubResolver{fn: func(call int, _ string, _ resolve.Options) (resolve.Result, error) {
		if call == 1 {
			return resolve.Result{}, errors.New("transient")
		}
		return resolve.Result{Path: "/proj/dep.js"}, nil
	}}
	m := newTestManager(t, newMemFS(nil), nil, WithResolver(r))
	if _, err := m.Resolve(context.Background(), "dep", "/proj/main.js"); !errors.Is(err, ErrResolveFailed) {
		t.Fatalf("expected resolve failure, got %v", err)
	}
	if _, err := m.Resolve(context.Background(), "dep", "/proj/main.js"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestCachePolicyAndInvalidation(t *testing.T) {
	paths := map[string]string{"dep": "/proj/v1.js"}
	var mu sync.Mutex
	r := &stubResolver{fn: func(_ int, specifier string, _ resolve.Options) (resolve.Result, error) {
		mu.Lock()
		defer mu.Unlock()
		return resolve.Result{Path: paths[specifier]}, nil
	}}
	ctx := context.Background()

	m := newTestManager(t, newMemFS(nil), nil, WithResolver(r))
	if _, err := m.Resolve(ctx, "dep", "/proj/main.js"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	paths["dep"] = "/proj/v2.js"
	mu.Unlock()
	res, _ := m.Resolve(ctx, "dep", "/proj/main.js")
	if res.Path != "/proj/v1.js" {
		t.Fatalf("forever policy should keep the first result, got %s", res.Path)
	}
	m.Invalidate("dep", "/proj/main.js")
	res, _ = m.Resolve(ctx, "dep", "/proj/main.js")
	if res.Path != "/proj/v2.js" {
		t.Fatalf("invalidate should expose the change, got %s", res.Path)
	}
	m.Reset()
	if got := m.Resolutions(); len(got) != 0 {
		t.Fatalf("reset left %d resolutions", len(got))
	}

	r2 := &stubResolver{fn: table(map[string]string{"dep": "/proj/dep.js"})}
	m = newTestManager(t, newMemFS(nil), nil, WithResolver(r2), WithCachePolicy(CacheNone))
	for i := 0; i < 3; i++ {
		if _, err := m.Resolve(ctx, "dep", "/proj/main.js"); err != nil {
			t.Fatal(err)
		}
	}
	if r2.count() != 3 || len(m.Resolutions()) != 0 {
		t.Fatalf("none policy should not cache, calls=%d", r2.count())
	}
}

func TestResolveCallerCancellationDoesNotAbortFlight(t *testing.T) {
	r := &stubResolver{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 2),
		fn:      table(map[string]string{"dep": "/proj/dep.js"}),
	}
	m := newTestManager(t, newMemFS(nil), nil, WithResolver(r))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := m.Resolve(ctx, "dep", "/proj/main.js")
		errCh <- err
	}()
	<-r.entered
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}

	done := make(chan *resolve.Result, 1)
	go func() {
		res, _ := m.Resolve(context.Background(), "dep", "/proj/main.js")
		done <- res
	}()
	time.Sleep(20 * time.Millisecond)
	close(r.gate)
	if res := <-done; res == nil || res.Path != "/proj/dep.js" {
		t.Fatalf("unexpected result %#v", res)
	}
	if r.count() != 1 {
		t.Fatalf("expected the original flight to be reused, got %d calls", r.count())
	}
}

func TestParseCachePolicy(t *testing.T) {
	for value, want := range map[string]CachePolicy{"": CacheForever, "forever": CacheForever, "none": CacheNone} {
		got, err := ParseCachePolicy(value)
		if err != nil || got != want {
			t.Fatalf("ParseCachePolicy(%q) = %v, %v", value, got, err)
		}
	}
	if _, err := ParseCachePolicy("lru"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestInstallWithoutInstaller(t *testing.T) {
	m := newTestManager(t, newMemFS(nil), nil)
	err := m.Install(context.Background(), []string{"dep"}, "/proj/main.js", nil)
	if !errors.Is(err, ErrInstallFailed) {
		t.Fatalf("expected install failure, got %v", err)
	}
}

func TestResolutionsKeepColonsInBaseDir(t *testing.T) {
	r := &stubResolver{fn: table(map[string]string{"dep:x": "/a:b/modules/dep.js"})}
	m := newTestManager(t, newMemFS(nil), nil, WithResolver(r), WithExecutors(executorSet(t, ".js", newCountingExecutor(nil))))
	if _, err := m.Resolve(context.Background(), "dep:x", "/a:b/main.js"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	got := m.Resolutions()
	if len(got) != 1 || got[0].BaseDir != "/a:b" || got[0].Specifier != "dep:x" {
		t.Fatalf("unexpected resolutions %#v", got)
	}
	m.Invalidate("dep:x", "/a:b/main.js")
	if len(m.Resolutions()) != 0 {
		t.Fatalf("invalidate missed the colon key")
	}
}
