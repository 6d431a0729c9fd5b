package install

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"github.com/kingrea/modload/fsys"
	"github.com/kingrea/modload/resolve"
)

const (
	lockRetryInterval = 50 * time.Millisecond
	// LockFile is created under the project root's state directory.
	LockFile = "install.lock"
)

// Command installs packages by running an external program in the project
// root: Program Args... [--key=value...] specifiers...
// Concurrent installs into the same root, from any process, are serialized
// through a file lock.
type Command struct {
	Program string
	Args    []string
	// FS locates the project root; defaults to the host disk.
	FS       fsys.Filesystem
	Manifest string
	// StateDir holds the lock file, relative to the project root.
	StateDir string
	Env      []string
}

// Install implements Installer.
func (c *Command) Install(ctx context.Context, specifiers []string, from string, opts Options) error {
	if strings.TrimSpace(c.Program) == "" {
		return fmt.Errorf("install: command installer has no program")
	}
	if len(specifiers) == 0 {
		return nil
	}
	names := make([]string, 0, len(specifiers))
	for _, spec := range specifiers {
		name, err := packageName(spec)
		if err != nil {
			return err
		}
		names = append(names, name)
	}
	lookup := c.FS
	if lookup == nil {
		lookup = fsys.OS()
	}
	root := ProjectRoot(lookup, from, firstNonEmpty(c.Manifest, resolve.DefaultManifest))
	lockDir := filepath.Join(root, firstNonEmpty(c.StateDir, ".modload"))
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return fmt.Errorf("install: ensure lock dir: %w", err)
	}
	lock := flock.New(filepath.Join(lockDir, LockFile))
	locked, err := lock.TryLockContext(ctx, lockRetryInterval)
	if err != nil {
		return fmt.Errorf("install: acquire lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("install: could not acquire %s", lock.Path())
	}
	defer lock.Unlock()

	args := append([]string(nil), c.Args...)
	args = append(args, opts.Flags()...)
	args = append(args, names...)
	cmd := exec.CommandContext(ctx, c.Program, args...)
	cmd.Dir = root
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("install: %s %s: %w: %s", c.Program, strings.Join(names, " "), err, strings.TrimSpace(output.String()))
	}
	return nil
}
