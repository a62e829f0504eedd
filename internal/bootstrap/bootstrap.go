// Package bootstrap makes sure the backend's execution environment exists
// under the runtime root, running the platform installer on first launch.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/loykin/livuals/internal/env"
	"github.com/loykin/livuals/internal/platform"
	"github.com/loykin/livuals/internal/resolver"
)

// RelaxEnvVar lets the installer accept any interpreter version it finds.
const RelaxEnvVar = "ALLOW_ANY_PYTHON"

var ErrInstallerNotFound = errors.New("installer script not found")

// InstallError reports an installer that ran but exited non-zero.
type InstallError struct {
	Script   string
	ExitCode int
	Err      error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("installer %s exited with code %d", e.Script, e.ExitCode)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Result describes what EnsureEnvironment did.
type Result struct {
	Installed bool // the installer ran to a successful exit
	Script    string
	Duration  time.Duration
}

type Bootstrapper struct {
	Platform platform.PlatformOps
	FS       resolver.FS
	Output   io.Writer // receives installer stdout and stderr
	Env      *env.Env
	Logger   *slog.Logger
}

func New(p platform.PlatformOps, output io.Writer, logger *slog.Logger) *Bootstrapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bootstrapper{Platform: p, FS: resolver.OSFS{}, Output: output, Env: env.New(), Logger: logger}
}

// EnvironmentPresent reports whether the environment marker exists under root.
func (b *Bootstrapper) EnvironmentPresent(root string) bool {
	return b.FS.Exists(filepath.Join(root, b.Platform.EnvMarker()))
}

// EnsureEnvironment runs the installer synchronously when the environment
// marker is missing. It returns nil without running anything when the marker
// is already there.
func (b *Bootstrapper) EnsureEnvironment(ctx context.Context, root string) (Result, error) {
	if b.EnvironmentPresent(root) {
		b.Logger.Debug("environment present", "root", root, "marker", b.Platform.EnvMarker())
		return Result{}, nil
	}

	name := b.Platform.InstallerScript()
	script, ok := resolver.FindScript(b.FS, root, name)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s under %s", ErrInstallerNotFound, name, root)
	}
	if b.Platform.NeedsExecBit() {
		if err := makeExecutable(script); err != nil {
			b.Logger.Warn("chmod installer failed", "script", script, "error", err)
		}
	}

	b.Logger.Info("first run: installing backend dependencies", "script", script, "root", root)
	start := time.Now()

	cmd := b.Platform.ScriptCommand(ctx, script)
	cmd.Dir = root
	cmd.Env = b.environ().Merge(RelaxEnvVar + "=1")
	if b.Output != nil {
		cmd.Stdout = b.Output
		cmd.Stderr = b.Output
	}
	// cancellation takes the installer's children (pip, compilers) down too
	platform.SetProcessGroup(cmd)
	cmd.Cancel = func() error { return platform.KillTree(cmd) }
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	res := Result{Script: script, Duration: time.Since(start)}
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return res, &InstallError{Script: script, ExitCode: ee.ExitCode(), Err: err}
		}
		return res, fmt.Errorf("launch installer %s: %w", script, err)
	}
	res.Installed = true
	b.Logger.Info("installation completed", "script", script, "duration", res.Duration)
	return res, nil
}

func (b *Bootstrapper) environ() *env.Env {
	if b.Env == nil {
		return env.New()
	}
	return b.Env
}

func makeExecutable(path string) error {
	fi, err := os.Stat(path)
	if err != nil {
		return err
	}
	return os.Chmod(path, fi.Mode().Perm()|0o111)
}
