package plugins

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const (
	exportsSymbol = "Exports"
	// hostPackage is the import path artifacts use to reach the loader:
	//
	//	import "modload"
	//	dep, err := modload.Require("./dep.go")
	hostPackage = "modload"
)

// GoExecutor interprets Go source artifacts with yaegi. The artifact declares
// Exports as a value or as a func returning any or (any, error).
type GoExecutor struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Execute implements Executor.
func (g *GoExecutor) Execute(ctx context.Context, art *Artifact) (any, error) {
	code := string(art.Source)
	if len(strings.TrimSpace(code)) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", art.Path)
	}
	i := interp.New(interp.Options{Stdout: g.Stdout, Stderr: g.Stderr})
	if err := i.Use(sandboxSymbols()); err != nil {
		return nil, fmt.Errorf("plugin: %s: load stdlib symbols: %w", art.Path, err)
	}
	if err := i.Use(hostSymbols(art)); err != nil {
		return nil, fmt.Errorf("plugin: %s: load host symbols: %w", art.Path, err)
	}
	if _, err := i.EvalWithContext(ctx, code); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", art.Path, err)
	}
	value, err := i.Eval(exportsSymbol)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must define %s: %w", art.Path, exportsSymbol, err)
	}
	exports, err := invokeExports(value)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s: %w", art.Path, err)
	}
	return exports, nil
}

// Packages and symbols that reach host storage directly. Artifacts read
// through modload.ReadFile so the injected filesystem stays the only source.
var (
	hostOnlyPackages = []string{
		"os", "os/exec", "os/signal", "os/user",
		"io/ioutil", "go/build", "go/importer", "plugin",
	}
	hostOnlyPrefixes = []string{"debug/"}
	hostOnlySymbols  = map[string][]string{
		"path/filepath": {"Abs", "EvalSymlinks", "Glob", "Walk", "WalkDir"},
		"go/parser":     {"ParseDir", "ParseFile"},
		"text/template": {"ParseFiles", "ParseGlob"},
		"html/template": {"ParseFiles", "ParseGlob"},
		"net/http":      {"Dir", "FileServer", "ServeFile"},
	}
)

var sandboxSymbols = sync.OnceValue(func() interp.Exports {
	blocked := make(map[string]bool, len(hostOnlyPackages))
	for _, pkg := range hostOnlyPackages {
		blocked[pkg] = true
	}
	out := make(interp.Exports, len(stdlib.Symbols))
	for key, symbols := range stdlib.Symbols {
		// Keys are "<import path>/<package name>".
		importPath := key[:strings.LastIndex(key, "/")]
		if blocked[importPath] || hasAnyPrefix(importPath, hostOnlyPrefixes) {
			continue
		}
		kept := make(map[string]reflect.Value, len(symbols))
		for name, value := range symbols {
			kept[name] = value
		}
		for _, name := range hostOnlySymbols[importPath] {
			delete(kept, name)
		}
		out[key] = kept
	}
	return out
})

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}

func hostSymbols(art *Artifact) interp.Exports {
	return interp.Exports{
		hostPackage + "/" + hostPackage: {
			"Require":  reflect.ValueOf(art.require),
			"ReadFile": reflect.ValueOf(art.ReadFile),
			"Filename": reflect.ValueOf(func() string { return art.Path }),
			"Dirname":  reflect.ValueOf(art.Dir),
		},
	}
}

func invokeExports(value reflect.Value) (any, error) {
	if !value.IsValid() {
		return nil, fmt.Errorf("missing %s", exportsSymbol)
	}
	if value.Kind() != reflect.Func {
		return value.Interface(), nil
	}
	if value.Type().NumIn() != 0 {
		return nil, fmt.Errorf("%s must not take arguments", exportsSymbol)
	}
	results := value.Call(nil)
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		if errVal := results[1]; errVal.IsValid() && !errVal.IsNil() {
			if e, ok := errVal.Interface().(error); ok && e != nil {
				return nil, e
			}
			return nil, fmt.Errorf("%s returned non-error second value", exportsSymbol)
		}
		return results[0].Interface(), nil
	default:
		return nil, fmt.Errorf("%s must return (any[, error])", exportsSymbol)
	}
}
