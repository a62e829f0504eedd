// Package supervisor owns the backend OS process. The handle lives in a single
// mutex-guarded cell and is only reachable through Spawn and Terminate, so the
// startup goroutine and the exit handler can both touch it safely.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/loykin/livuals/internal/env"
	"github.com/loykin/livuals/internal/platform"
	"github.com/loykin/livuals/internal/resolver"
)

const (
	DefaultHost     = "127.0.0.1"
	DefaultPort     = 7860
	DefaultKillWait = 2 * time.Second
)

var (
	ErrLauncherNotFound = errors.New("launcher script not found")
	ErrAlreadyRunning   = errors.New("backend already spawned")
)

type Supervisor struct {
	Platform platform.PlatformOps
	FS       resolver.FS
	Output   io.Writer // receives backend stdout and stderr
	Env      *env.Env
	Host     string
	Port     int
	KillWait time.Duration // how long Terminate waits for the reaper
	Logger   *slog.Logger

	mu   sync.Mutex
	proc *backend
}

type backend struct {
	cmd       *exec.Cmd
	root      string
	script    string
	startedAt time.Time
	done      chan struct{} // closed by reap once cmd.Wait returns
	exitErr   error         // valid after done is closed
}

// Status is a point-in-time copy of the supervisor state.
type Status struct {
	Running   bool      `json:"running"`
	Exited    bool      `json:"exited"`
	PID       int       `json:"pid,omitempty"`
	Root      string    `json:"root,omitempty"`
	Script    string    `json:"script,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ExitErr   string    `json:"exit_error,omitempty"`
}

func New(p platform.PlatformOps, output io.Writer, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Platform: p,
		FS:       resolver.OSFS{},
		Output:   output,
		Env:      env.New(),
		Host:     DefaultHost,
		Port:     DefaultPort,
		KillWait: DefaultKillWait,
		Logger:   logger,
	}
}

// Spawn starts the backend from root. On failure the handle stays empty.
func (s *Supervisor) Spawn(root string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return ErrAlreadyRunning
	}

	name := s.Platform.LauncherScript()
	script, ok := resolver.FindScript(s.fs(), root, name)
	if !ok {
		err := fmt.Errorf("%w: %s under %s", ErrLauncherNotFound, name, root)
		s.Logger.Error("failed to start backend", "error", err)
		return err
	}
	s.Logger.Info("using backend script", "script", script)

	// The backend outlives the startup sequence; Terminate is its only stop.
	cmd := s.Platform.ScriptCommand(context.Background(), script)
	cmd.Dir = root
	cmd.Env = s.environ().Merge("HOST="+s.host(), "PORT="+strconv.Itoa(s.port()))
	if s.Output != nil {
		cmd.Stdout = s.Output
		cmd.Stderr = s.Output
	}
	cmd.WaitDelay = s.killWait()
	platform.SetProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		s.Logger.Error("failed to start backend", "script", script, "error", err)
		return fmt.Errorf("start backend %s: %w", script, err)
	}
	b := &backend{cmd: cmd, root: root, script: script, startedAt: time.Now(), done: make(chan struct{})}
	s.proc = b
	go s.reap(b)
	s.Logger.Info("backend started", "pid", cmd.Process.Pid, "root", root)
	return nil
}

// Terminate force-kills the backend process tree, if any, and clears the
// handle. Kill failures are swallowed: the process may already be gone.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.proc
	if b == nil {
		return
	}
	s.proc = nil

	if err := platform.KillTree(b.cmd); err != nil {
		s.Logger.Debug("kill backend", "pid", b.cmd.Process.Pid, "error", err)
	}
	select {
	case <-b.done:
	case <-time.After(s.killWait()):
		s.Logger.Warn("backend not reaped after kill", "pid", b.cmd.Process.Pid)
	}
	s.Logger.Info("backend terminated", "pid", b.cmd.Process.Pid)
}

// Running reports whether a handle is held.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil
}

// PID returns the backend pid, or 0 when no handle is held.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil {
		return 0
	}
	return s.proc.cmd.Process.Pid
}

// Snapshot returns a copy of the current state.
func (s *Supervisor) Snapshot() Status {
	s.mu.Lock()
	b := s.proc
	s.mu.Unlock()
	if b == nil {
		return Status{}
	}
	st := Status{
		Running:   true,
		PID:       b.cmd.Process.Pid,
		Root:      b.root,
		Script:    b.script,
		StartedAt: b.startedAt,
	}
	select {
	case <-b.done:
		st.Exited = true
		if b.exitErr != nil {
			st.ExitErr = b.exitErr.Error()
		}
	default:
	}
	return st
}

// reap waits for the backend so an early exit never lingers as a zombie.
func (s *Supervisor) reap(b *backend) {
	err := b.cmd.Wait()
	b.exitErr = err
	close(b.done)
	if err != nil {
		s.Logger.Info("backend exited", "pid", b.cmd.Process.Pid, "error", err)
		return
	}
	s.Logger.Info("backend exited", "pid", b.cmd.Process.Pid)
}

func (s *Supervisor) fs() resolver.FS {
	if s.FS == nil {
		return resolver.OSFS{}
	}
	return s.FS
}

func (s *Supervisor) environ() *env.Env {
	if s.Env == nil {
		return env.New()
	}
	return s.Env
}

func (s *Supervisor) host() string {
	if s.Host == "" {
		return DefaultHost
	}
	return s.Host
}

func (s *Supervisor) port() int {
	if s.Port <= 0 {
		return DefaultPort
	}
	return s.Port
}

func (s *Supervisor) killWait() time.Duration {
	if s.KillWait <= 0 {
		return DefaultKillWait
	}
	return s.KillWait
}
