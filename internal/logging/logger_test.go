package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/modload/internal/config"
)

func TestLoggerWritesJSONLines(t *testing.T) {
	projectDir := t.TempDir()
	l, err := New(projectDir, zapcore.InfoLevel)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Printf("installed %s\n", "left-pad")
	l.Zap().Info("resolved", zap.String("specifier", "dep"))
	l.Zap().Debug("dropped below level")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(projectDir, config.ModloadDir, "logs", FileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %s", len(lines), data)
	}
	var first, second map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if first["msg"] != "installed left-pad" || second["specifier"] != "dep" {
		t.Fatalf("unexpected entries %v / %v", first, second)
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Printf("ignored")
	l.Zap().Info("ignored")
	if err := l.Close(); err != nil {
		t.Fatalf("Close on nil logger: %v", err)
	}
}

func TestTailReturnsRecentEntries(t *testing.T) {
	projectDir := t.TempDir()
	l, err := New(projectDir, zapcore.InfoLevel)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 5; i++ {
		l.Printf("entry-%d", i)
	}
	l.Zap().Warn("slow install")
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(l.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = f.WriteString("not json\n")
	f.Close()

	lines := Tail(l.Path(), 3)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	if !strings.HasSuffix(lines[0], "INFO  entry-4") || !strings.HasSuffix(lines[1], "WARN  slow install") || lines[2] != "not json" {
		t.Fatalf("unexpected tail %q", lines)
	}
	if Tail(filepath.Join(projectDir, "missing.log"), 3) != nil {
		t.Fatalf("missing file should yield no lines")
	}
}
