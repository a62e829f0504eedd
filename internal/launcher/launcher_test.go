package launcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/livuals/internal/bootstrap"
	"github.com/loykin/livuals/internal/history"
	"github.com/loykin/livuals/internal/history/sqlite"
	"github.com/loykin/livuals/internal/platform"
	"github.com/loykin/livuals/internal/probe"
	"github.com/loykin/livuals/internal/resolver"
	"github.com/loykin/livuals/internal/supervisor"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require bash on Unix-like systems")
	}
}

var linux = platform.ForOS("linux")

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type fixture struct {
	root string
	log  *syncBuffer
	l    *Launcher
}

// newFixture wires a launcher for the linux layout against a backend on port.
func newFixture(t *testing.T, in resolver.Inputs, port int) *fixture {
	t.Helper()
	buf := &syncBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	sup := supervisor.New(linux, buf, logger)
	sup.Port = port
	sup.KillWait = time.Second
	pr := probe.New("127.0.0.1", port)
	pr.Backoff = 100 * time.Millisecond

	l := New(resolver.New(linux), bootstrap.New(linux, buf, logger), sup, pr, logger)
	l.Inputs = in
	l.ReadyTimeout = 5 * time.Second
	t.Cleanup(l.Shutdown)
	return &fixture{root: in.Hint, log: buf, l: l}
}

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/bash\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
}

func writeMarker(t *testing.T, root string) {
	t.Helper()
	p := filepath.Join(root, linux.EnvMarker())
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, nil, 0o755); err != nil {
		t.Fatal(err)
	}
}

// layout creates a runtime root whose launcher records HOST/PORT and then idles.
func layout(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, resolver.DefaultPayloadDir), 0o755); err != nil {
		t.Fatal(err)
	}
	writeScript(t, root, linux.LauncherScript(), `echo "$HOST:$PORT" > addr.txt; exec sleep 30`)
	return root
}

// backend serves the status endpoint with 200 and returns its port.
func backend(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)
	return srv.Listener.Addr().(*net.TCPAddr).Port
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestRunReady(t *testing.T) {
	requireUnix(t)
	root := layout(t)
	writeMarker(t, root)
	port := backend(t)
	f := newFixture(t, resolver.Inputs{Hint: root}, port)

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()
	f.l.History = store

	var stages []Stage
	f.l.OnStage = func(s Stage) { stages = append(stages, s) }

	start := time.Now()
	ev := f.l.Run(context.Background())
	if !ev.Ready() {
		t.Fatalf("expected ready, got %v", ev)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("ready took %s", time.Since(start))
	}
	if want := "http://127.0.0.1:" + strconv.Itoa(port); ev.URL != want {
		t.Fatalf("url = %q, want %q", ev.URL, want)
	}
	if ev.Title != DefaultTitle || ev.Resolution.Root != root || ev.Resolution.Source != resolver.SourceHint {
		t.Fatalf("unexpected event: %+v", ev)
	}
	want := []Stage{StageResolve, StageBootstrap, StageSpawn, StageProbe}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v", stages)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Fatalf("stages = %v", stages)
		}
	}

	deadline := time.Now().Add(3 * time.Second)
	var addr []byte
	for time.Now().Before(deadline) {
		if addr, err = os.ReadFile(filepath.Join(root, "addr.txt")); err == nil && len(addr) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := strings.TrimSpace(string(addr)); got != "127.0.0.1:"+strconv.Itoa(port) {
		t.Fatalf("launcher saw %q", got)
	}

	st := f.l.State()
	if !st.Done || !st.Ready || st.URL != ev.URL || !st.Backend.Running || st.Backend.PID == 0 {
		t.Fatalf("unexpected state: %+v", st)
	}

	recs, err := store.Recent(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Outcome != history.OutcomeReady || recs[0].Bootstrapped || recs[0].PID == 0 || recs[0].ID != ev.LaunchID {
		t.Fatalf("unexpected history: %+v", recs)
	}

	f.l.Shutdown()
	if f.l.Supervisor.Running() {
		t.Fatal("backend handle should be cleared after shutdown")
	}
}

// backendHelperEnv makes the test binary act as the backend: it serves
// GET /api/status on $HOST:$PORT until killed.
const backendHelperEnv = "LIVUALS_TEST_BACKEND"

func TestHelperBackend(t *testing.T) {
	if os.Getenv(backendHelperEnv) != "1" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	err := http.ListenAndServe(net.JoinHostPort(os.Getenv("HOST"), os.Getenv("PORT")), mux)
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func TestRunReadyWithSpawnedListener(t *testing.T) {
	requireUnix(t)
	exe, err := os.Executable()
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	if err := os.Mkdir(filepath.Join(root, resolver.DefaultPayloadDir), 0o755); err != nil {
		t.Fatal(err)
	}
	writeMarker(t, root)
	writeScript(t, root, linux.LauncherScript(),
		fmt.Sprintf("%s=1 exec %q -test.run='^TestHelperBackend$'", backendHelperEnv, exe))

	port := freePort(t)
	f := newFixture(t, resolver.Inputs{Hint: root}, port)

	start := time.Now()
	ev := f.l.Run(context.Background())
	if !ev.Ready() {
		t.Fatalf("expected ready, got %v\n%s", ev, f.log.String())
	}
	if took := time.Since(start); took > 5*time.Second {
		t.Fatalf("readiness took %s", took)
	}
	if want := "http://127.0.0.1:" + strconv.Itoa(port); ev.URL != want {
		t.Fatalf("url %q, want %q", ev.URL, want)
	}

	check := probe.New("127.0.0.1", port)
	if err := check.Check(context.Background()); err != nil {
		t.Fatalf("spawned backend not answering: %v", err)
	}
	f.l.Supervisor.Terminate()
	if err := check.Check(context.Background()); err == nil {
		t.Fatal("backend still answering after Terminate")
	}
}

func TestRunFirstLaunchInstalls(t *testing.T) {
	requireUnix(t)
	root := layout(t)
	writeScript(t, filepath.Join(root, "scripts"), linux.InstallerScript(),
		`mkdir -p StreamDiffusion/venv/bin && touch StreamDiffusion/venv/bin/python && echo "relax=$ALLOW_ANY_PYTHON"`)
	f := newFixture(t, resolver.Inputs{Hint: root}, backend(t))

	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()
	f.l.History = store

	if ev := f.l.Run(context.Background()); !ev.Ready() {
		t.Fatalf("expected ready, got %v", ev)
	}
	if _, err := os.Stat(filepath.Join(root, linux.EnvMarker())); err != nil {
		t.Fatalf("installer did not create marker: %v", err)
	}
	if !strings.Contains(f.log.String(), "relax=1") {
		t.Fatalf("installer output missing from log:\n%s", f.log.String())
	}
	recs, _ := store.Recent(context.Background(), 1)
	if len(recs) != 1 || !recs[0].Bootstrapped {
		t.Fatalf("expected bootstrapped record, got %+v", recs)
	}
}

// A root holding only the environment marker has neither scripts nor payload.
func TestRunFallbackSpawnFails(t *testing.T) {
	requireUnix(t)
	cwd := t.TempDir()
	writeMarker(t, cwd)
	in := resolver.Inputs{Executable: filepath.Join(t.TempDir(), "bin", "livuals"), Cwd: cwd}
	f := newFixture(t, in, freePort(t))

	ev := f.l.Run(context.Background())
	if ev.Ready() || ev.Stage != StageSpawn {
		t.Fatalf("expected spawn failure, got %v", ev)
	}
	if !errors.Is(ev.Err, supervisor.ErrLauncherNotFound) {
		t.Fatalf("expected ErrLauncherNotFound, got %v", ev.Err)
	}
	if ev.Resolution.Source != resolver.SourceFallback || ev.Resolution.Root != cwd {
		t.Fatalf("expected fallback to cwd, got %+v", ev.Resolution)
	}
	if f.l.Supervisor.Running() || f.l.Supervisor.PID() != 0 {
		t.Fatal("handle should stay empty")
	}
	if !strings.Contains(f.log.String(), "failed to start backend") {
		t.Fatalf("log lacks spawn failure:\n%s", f.log.String())
	}
}

func TestRunEmptyRootFailsAtBootstrap(t *testing.T) {
	requireUnix(t)
	cwd := t.TempDir()
	in := resolver.Inputs{Executable: filepath.Join(t.TempDir(), "bin", "livuals"), Cwd: cwd}
	f := newFixture(t, in, freePort(t))

	ev := f.l.Run(context.Background())
	if ev.Ready() || ev.Stage != StageBootstrap {
		t.Fatalf("expected bootstrap failure, got %v", ev)
	}
	if !errors.Is(ev.Err, bootstrap.ErrInstallerNotFound) {
		t.Fatalf("expected ErrInstallerNotFound, got %v", ev.Err)
	}
	if ev.Resolution.Source != resolver.SourceFallback || ev.Resolution.Root != cwd {
		t.Fatalf("expected fallback to cwd, got %+v", ev.Resolution)
	}
	if f.l.Supervisor.Running() || f.l.Supervisor.PID() != 0 {
		t.Fatal("handle should stay empty")
	}
}

func TestRunBootstrapFailureAborts(t *testing.T) {
	requireUnix(t)
	root := layout(t)
	writeScript(t, root, linux.InstallerScript(), `echo broken >&2; exit 4`)
	f := newFixture(t, resolver.Inputs{Hint: root}, freePort(t))

	ev := f.l.Run(context.Background())
	if ev.Ready() || ev.Stage != StageBootstrap {
		t.Fatalf("expected bootstrap failure, got %v", ev)
	}
	var ie *bootstrap.InstallError
	if !errors.As(ev.Err, &ie) || ie.ExitCode != 4 {
		t.Fatalf("expected InstallError with exit 4, got %v", ev.Err)
	}
	if f.l.Supervisor.Running() {
		t.Fatal("backend must not be spawned after a failed install")
	}
	if _, err := os.Stat(filepath.Join(root, "addr.txt")); err == nil {
		t.Fatal("launcher script ran")
	}
}

func TestRunMissingInstallerAborts(t *testing.T) {
	requireUnix(t)
	root := layout(t)
	f := newFixture(t, resolver.Inputs{Hint: root}, freePort(t))

	ev := f.l.Run(context.Background())
	if ev.Stage != StageBootstrap || !errors.Is(ev.Err, bootstrap.ErrInstallerNotFound) {
		t.Fatalf("expected missing installer, got %v", ev)
	}
}

func TestRunTimeoutLeavesBackendRunning(t *testing.T) {
	requireUnix(t)
	root := layout(t)
	writeMarker(t, root)
	f := newFixture(t, resolver.Inputs{Hint: root}, freePort(t))
	f.l.ReadyTimeout = time.Second

	ev := f.l.Run(context.Background())
	if ev.Ready() || ev.Stage != StageProbe || !errors.Is(ev.Err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", ev)
	}
	if !f.l.Supervisor.Running() {
		t.Fatal("backend should keep running after a readiness timeout")
	}
	st := f.l.State()
	if !st.Done || st.Ready || st.Error == "" {
		t.Fatalf("unexpected state: %+v", st)
	}

	f.l.Shutdown()
	if f.l.Supervisor.Running() {
		t.Fatal("shutdown should terminate the backend")
	}
}

func TestShutdownDuringProbe(t *testing.T) {
	requireUnix(t)
	root := layout(t)
	writeMarker(t, root)
	f := newFixture(t, resolver.Inputs{Hint: root}, freePort(t))
	f.l.ReadyTimeout = time.Minute

	probing := make(chan struct{})
	var once sync.Once
	f.l.OnStage = func(s Stage) {
		if s == StageProbe {
			once.Do(func() { close(probing) })
		}
	}

	ch := f.l.Start(context.Background())
	select {
	case <-probing:
	case <-time.After(5 * time.Second):
		t.Fatal("probe stage not reached")
	}
	f.l.Shutdown()

	select {
	case ev := <-ch:
		if ev.Ready() || ev.Stage != StageProbe || !errors.Is(ev.Err, context.Canceled) {
			t.Fatalf("expected canceled probe, got %v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("startup goroutine did not observe shutdown")
	}
	if _, ok := <-ch; ok {
		t.Fatal("channel should be closed after the event")
	}
	if f.l.Supervisor.Running() {
		t.Fatal("backend should be terminated")
	}
}

func TestShutdownBeforeStartSkipsSequence(t *testing.T) {
	requireUnix(t)
	root := layout(t)
	writeScript(t, root, linux.InstallerScript(), `echo run > installer.ran`)
	f := newFixture(t, resolver.Inputs{Hint: root}, freePort(t))
	dbPath := filepath.Join(t.TempDir(), "history.db")
	h, err := sqlite.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = h.Close() })
	f.l.History = h

	var stages []Stage
	f.l.OnStage = func(s Stage) { stages = append(stages, s) }

	f.l.Shutdown()
	ev := f.l.Run(context.Background())
	if ev.Ready() || ev.Stage != StageResolve || !errors.Is(ev.Err, ErrShutdown) || !errors.Is(ev.Err, context.Canceled) {
		t.Fatalf("expected refused launch, got %v", ev)
	}
	if len(stages) != 0 {
		t.Fatalf("no stage may run after shutdown, got %v", stages)
	}
	if _, err := os.Stat(filepath.Join(root, "installer.ran")); err == nil {
		t.Fatal("installer ran after shutdown")
	}
	if f.l.Supervisor.Running() {
		t.Fatal("no backend may be spawned after shutdown")
	}
	recs, err := h.Recent(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Outcome != history.OutcomeCanceled {
		t.Fatalf("expected one canceled record, got %+v", recs)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	requireUnix(t)
	root := layout(t)
	writeMarker(t, root)
	f := newFixture(t, resolver.Inputs{Hint: root}, backend(t))
	if ev := f.l.Run(context.Background()); !ev.Ready() {
		t.Fatalf("expected ready, got %v", ev)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.l.Shutdown()
		}()
	}
	wg.Wait()
	if n := strings.Count(f.log.String(), "launcher shut down"); n != 1 {
		t.Fatalf("shutdown ran %d times", n)
	}
}

func TestEventString(t *testing.T) {
	ready := Event{Kind: EventReady, URL: "http://127.0.0.1:7860"}
	if ready.String() != "ready: http://127.0.0.1:7860" {
		t.Fatalf("got %q", ready.String())
	}
	failed := Event{Kind: EventFailed, Stage: StageSpawn, Err: supervisor.ErrLauncherNotFound}
	if !strings.Contains(failed.String(), "spawn") || !strings.Contains(failed.String(), "launcher script not found") {
		t.Fatalf("got %q", failed.String())
	}
}
