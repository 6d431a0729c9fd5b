package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/kingrea/modload/fsys"
)

const greeterSource = `package main

import (
	"modload"
	"strings"
)

func Exports() (any, error) {
	dep, err := modload.Require("./name.go")
	if err != nil {
		return nil, err
	}
	data, err := modload.ReadFile("banner.txt")
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"greeting": strings.TrimSpace(string(data)) + " " + dep.(string),
		"file":     modload.Filename(),
	}, nil
}
`

func TestGoExecutorExportsAndRequire(t *testing.T) {
	mem := fsys.Memory()
	if err := afero.WriteFile(mem.Fs(), "/proj/banner.txt", []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var required []string
	art := &Artifact{
		Path:   "/proj/greeter.go",
		Source: []byte(greeterSource),
		FS:     mem,
		Require: func(spec string) (any, error) {
			required = append(required, spec)
			return "world", nil
		},
	}
	exports, err := (&GoExecutor{}).Execute(context.Background(), art)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	m, ok := exports.(map[string]any)
	if !ok {
		t.Fatalf("unexpected exports %#v", exports)
	}
	if m["greeting"] != "hello world" || m["file"] != "/proj/greeter.go" {
		t.Fatalf("unexpected exports %#v", m)
	}
	if len(required) != 1 || required[0] != "./name.go" {
		t.Fatalf("unexpected requires %v", required)
	}
}

func TestGoExecutorValueExports(t *testing.T) {
	src := "package main\n\nvar Exports = map[string]int{\"answer\": 42}\n"
	exports, err := (&GoExecutor{}).Execute(context.Background(), &Artifact{Path: "/p/v.go", Source: []byte(src)})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if exports.(map[string]int)["answer"] != 42 {
		t.Fatalf("unexpected exports %#v", exports)
	}
}

func TestGoExecutorPropagatesErrors(t *testing.T) {
	src := "package main\n\nimport \"errors\"\n\nfunc Exports() (any, error) { return nil, errors.New(\"nope\") }\n"
	_, err := (&GoExecutor{}).Execute(context.Background(), &Artifact{Path: "/p/e.go", Source: []byte(src)})
	if err == nil || !strings.Contains(err.Error(), "nope") {
		t.Fatalf("expected exports error, got %v", err)
	}

	requireErr := errors.New("missing dep")
	src = "package main\n\nimport \"modload\"\n\nfunc Exports() (any, error) { return modload.Require(\"dep\") }\n"
	_, err = (&GoExecutor{}).Execute(context.Background(), &Artifact{
		Path:    "/p/r.go",
		Source:  []byte(src),
		Require: func(string) (any, error) { return nil, requireErr },
	})
	if err == nil || !strings.Contains(err.Error(), "missing dep") {
		t.Fatalf("expected require error, got %v", err)
	}
}

func TestGoExecutorRejectsBrokenSources(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"missing export": "package main\n",
		"syntax":         "package main\nfunc Exports( {\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := (&GoExecutor{}).Execute(context.Background(), &Artifact{Path: "/p/x.go", Source: []byte(src)}); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestGoExecutorCannotReachHostStorage(t *testing.T) {
	hostFile := filepath.Join(t.TempDir(), "host.txt")
	if err := os.WriteFile(hostFile, []byte("from-host-disk"), 0o644); err != nil {
		t.Fatal(err)
	}
	cases := map[string]string{
		"os":     "package main\n\nimport \"os\"\n\nfunc Exports() (any, error) {\n\tdata, err := os.ReadFile(%q)\n\treturn string(data), err\n}\n",
		"ioutil": "package main\n\nimport \"io/ioutil\"\n\nfunc Exports() (any, error) {\n\tdata, err := ioutil.ReadFile(%q)\n\treturn string(data), err\n}\n",
		"exec":   "package main\n\nimport \"os/exec\"\n\nfunc Exports() (any, error) {\n\treturn exec.Command(\"cat\", %q).Output()\n}\n",
		"glob":   "package main\n\nimport \"path/filepath\"\n\nfunc Exports() (any, error) {\n\treturn filepath.Glob(%q)\n}\n",
		"parser": "package main\n\nimport (\n\t\"go/parser\"\n\t\"go/token\"\n)\n\nfunc Exports() (any, error) {\n\treturn parser.ParseFile(token.NewFileSet(), %q, nil, 0)\n}\n",
	}
	for name, tmpl := range cases {
		t.Run(name, func(t *testing.T) {
			art := &Artifact{Path: "/proj/leak.go", Source: []byte(fmt.Sprintf(tmpl, hostFile)), FS: fsys.Memory()}
			v, err := (&GoExecutor{}).Execute(context.Background(), art)
			if err == nil {
				t.Fatalf("expected host storage to be unavailable, got %#v", v)
			}
		})
	}

	src := "package main\n\nimport \"path/filepath\"\n\nvar Exports = filepath.Join(\"a\", \"b\")\n"
	v, err := (&GoExecutor{}).Execute(context.Background(), &Artifact{Path: "/proj/pure.go", Source: []byte(src), FS: fsys.Memory()})
	if err != nil || v != filepath.Join("a", "b") {
		t.Fatalf("pure filepath helpers should stay available: %#v, %v", v, err)
	}
}
