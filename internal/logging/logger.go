package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kingrea/modload/internal/config"
)

// FileName is the log file created under .modload/logs.
const FileName = "modload.log"

// Logger appends JSON lines to .modload/logs/modload.log so users can
// inspect resolution and install activity after a command exits.
type Logger struct {
	path string
	file *os.File
	zap  *zap.Logger
}

// New creates (or reuses) the log file for the given project directory.
func New(projectDir string, level zapcore.Level) (*Logger, error) {
	logDir := filepath.Join(projectDir, config.ModloadDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("logging: ensure log dir: %w", err)
	}
	path := filepath.Join(logDir, FileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), level)
	return &Logger{path: path, file: f, zap: zap.New(core)}, nil
}

// Path returns the file backing this logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Zap returns the structured logger backing the file. A nil Logger yields a
// no-op logger.
func (l *Logger) Zap() *zap.Logger {
	if l == nil || l.zap == nil {
		return zap.NewNop()
	}
	return l.zap
}

// Close flushes and releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = l.zap.Sync()
	return l.file.Close()
}

// Printf writes a single info line to the log file.
func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.zap == nil {
		return
	}
	l.zap.Info(strings.TrimRight(fmt.Sprintf(format, args...), "\n"))
}
