// Package launcher sequences a desktop launch: it resolves the runtime root,
// installs the backend environment on first run, spawns the backend and waits
// for it to answer, then hands a single Event to the UI goroutine.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/livuals/internal/bootstrap"
	"github.com/loykin/livuals/internal/history"
	"github.com/loykin/livuals/internal/metrics"
	"github.com/loykin/livuals/internal/probe"
	"github.com/loykin/livuals/internal/resolver"
	"github.com/loykin/livuals/internal/supervisor"
)

const (
	DefaultReadyTimeout = 120 * time.Second
	DefaultTitle        = "Livuals"
	historyWriteTimeout = 5 * time.Second
)

// ErrTimeout is reported when the backend never answered within the ready timeout.
var ErrTimeout = errors.New("backend did not become ready in time")

// ErrShutdown is reported by launches started or continued after Shutdown.
var ErrShutdown = fmt.Errorf("launcher shut down: %w", context.Canceled)

// Stage names a step of the startup sequence.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageBootstrap Stage = "bootstrap"
	StageSpawn     Stage = "spawn"
	StageProbe     Stage = "probe"
)

type EventKind string

const (
	EventReady  EventKind = "ready"
	EventFailed EventKind = "failed"
)

// Event is the single outcome of a launch.
type Event struct {
	Kind       EventKind
	LaunchID   string
	URL        string
	Title      string
	Stage      Stage // stage that failed; empty when ready
	Err        error
	Resolution resolver.Resolution
}

func (e Event) Ready() bool { return e.Kind == EventReady }

func (e Event) String() string {
	if e.Ready() {
		return fmt.Sprintf("ready: %s", e.URL)
	}
	return fmt.Sprintf("failed at %s: %v", e.Stage, e.Err)
}

// Snapshot is a point-in-time view of the launch for status reporting.
type Snapshot struct {
	LaunchID   string            `json:"launch_id"`
	Stage      Stage             `json:"stage"`
	Done       bool              `json:"done"`
	Ready      bool              `json:"ready"`
	Root       string            `json:"root"`
	Source     resolver.Source   `json:"source"`
	URL        string            `json:"url,omitempty"`
	Error      string            `json:"error,omitempty"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Backend    supervisor.Status `json:"backend"`
}

type Launcher struct {
	Resolver     *resolver.Resolver
	Inputs       resolver.Inputs
	Bootstrapper *bootstrap.Bootstrapper
	Supervisor   *supervisor.Supervisor
	Prober       *probe.Prober
	ReadyTimeout time.Duration
	Title        string
	// History receives one record per launch; nil disables it.
	History history.Sink
	// OnStage is called from the startup goroutine when a stage begins.
	OnStage func(Stage)
	Logger  *slog.Logger

	mu       sync.Mutex
	state    Snapshot
	cancel   context.CancelFunc
	closed   bool
	shutdown sync.Once
}

func New(r *resolver.Resolver, b *bootstrap.Bootstrapper, s *supervisor.Supervisor, p *probe.Prober, logger *slog.Logger) *Launcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Launcher{
		Resolver:     r,
		Bootstrapper: b,
		Supervisor:   s,
		Prober:       p,
		ReadyTimeout: DefaultReadyTimeout,
		Title:        DefaultTitle,
		Logger:       logger,
	}
}

// Start runs the startup sequence on its own goroutine. The returned channel
// delivers exactly one Event and is then closed.
func (l *Launcher) Start(ctx context.Context) <-chan Event {
	ctx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	if l.closed {
		cancel()
	}
	l.mu.Unlock()

	ch := make(chan Event, 1)
	go func() {
		defer cancel()
		ch <- l.run(ctx)
		close(ch)
	}()
	return ch
}

// Run is Start followed by a receive.
func (l *Launcher) Run(ctx context.Context) Event {
	return <-l.Start(ctx)
}

// Shutdown cancels a startup in progress and terminates the backend. Only
// the first call has any effect.
func (l *Launcher) Shutdown() {
	l.shutdown.Do(func() {
		l.mu.Lock()
		l.closed = true
		cancel := l.cancel
		l.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		l.Supervisor.Terminate()
		metrics.SetBackendRunning(false)
		l.Logger.Info("launcher shut down")
	})
}

// State returns the current launch snapshot including the backend status.
func (l *Launcher) State() Snapshot {
	l.mu.Lock()
	s := l.state
	l.mu.Unlock()
	s.Backend = l.Supervisor.Snapshot()
	return s
}

func (l *Launcher) run(ctx context.Context) Event {
	rec := history.Record{ID: uuid.NewString(), StartedAt: time.Now()}
	l.update(func(s *Snapshot) {
		*s = Snapshot{LaunchID: rec.ID, StartedAt: rec.StartedAt}
	})
	log := l.Logger.With("launch_id", rec.ID)

	if l.isClosed() {
		log.Warn("launch refused", "error", ErrShutdown)
		rec.Outcome, rec.Error = history.OutcomeCanceled, ErrShutdown.Error()
		l.finish(ctx, rec, "")
		return Event{Kind: EventFailed, LaunchID: rec.ID, Title: l.title(), Stage: StageResolve, Err: ErrShutdown}
	}

	// resolve
	done := l.enter(StageResolve)
	res := l.Resolver.Resolve(l.Inputs)
	done()
	rec.Root, rec.Source = res.Root, string(res.Source)
	l.update(func(s *Snapshot) { s.Root, s.Source = res.Root, res.Source })
	log.Info("runtime root resolved", "root", res.Root, "source", res.Source, "pass", res.Pass)

	fail := func(stage Stage, outcome history.Outcome, err error) Event {
		log.Error("launch failed", "stage", stage, "outcome", outcome, "error", err)
		rec.Outcome, rec.Error = outcome, err.Error()
		l.finish(ctx, rec, "")
		return Event{Kind: EventFailed, LaunchID: rec.ID, Title: l.title(), Stage: stage, Err: err, Resolution: res}
	}

	// bootstrap
	done = l.enter(StageBootstrap)
	br, err := l.Bootstrapper.EnsureEnvironment(ctx, res.Root)
	done()
	switch {
	case err != nil:
		metrics.IncBootstrap("failed")
		if ctx.Err() != nil {
			return fail(StageBootstrap, history.OutcomeCanceled, err)
		}
		return fail(StageBootstrap, history.OutcomeBootstrapFailed, err)
	case br.Installed:
		metrics.IncBootstrap("installed")
		rec.Bootstrapped = true
	default:
		metrics.IncBootstrap("skipped")
	}

	// spawn
	done = l.enter(StageSpawn)
	err = l.spawn(ctx, res.Root)
	done()
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return fail(StageSpawn, history.OutcomeCanceled, err)
		}
		return fail(StageSpawn, history.OutcomeSpawnFailed, err)
	}
	rec.PID = l.Supervisor.PID()
	metrics.SetBackendRunning(true)

	// probe
	done = l.enter(StageProbe)
	ready := l.prober().WaitReady(ctx, l.readyTimeout())
	done()
	if !ready {
		if ctx.Err() != nil {
			return fail(StageProbe, history.OutcomeCanceled, ctx.Err())
		}
		// the backend keeps running; it is terminated at exit
		return fail(StageProbe, history.OutcomeTimeout, fmt.Errorf("%w after %s", ErrTimeout, l.readyTimeout()))
	}

	url := "http://" + l.Prober.Addr
	log.Info("backend ready", "url", url, "pid", rec.PID)
	rec.Outcome = history.OutcomeReady
	l.finish(ctx, rec, url)
	return Event{Kind: EventReady, LaunchID: rec.ID, URL: url, Title: l.title(), Resolution: res}
}

// spawn refuses to start a backend once Shutdown has begun so no handle
// outlives the host.
func (l *Launcher) spawn(ctx context.Context, root string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrShutdown
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.Supervisor.Spawn(root)
}

func (l *Launcher) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func (l *Launcher) enter(stage Stage) (done func()) {
	l.update(func(s *Snapshot) { s.Stage = stage })
	if l.OnStage != nil {
		l.OnStage(stage)
	}
	start := time.Now()
	return func() { metrics.ObserveStage(string(stage), time.Since(start).Seconds()) }
}

func (l *Launcher) finish(ctx context.Context, rec history.Record, url string) {
	rec.FinishedAt = time.Now()
	metrics.IncLaunch(string(rec.Outcome))
	l.update(func(s *Snapshot) {
		s.Done = true
		s.Ready = rec.Outcome == history.OutcomeReady
		s.URL = url
		s.Error = rec.Error
		s.FinishedAt = rec.FinishedAt
	})
	if l.History == nil {
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
	defer cancel()
	if err := l.History.Send(hctx, rec); err != nil {
		l.Logger.Warn("record launch history", "launch_id", rec.ID, "error", err)
	}
}

func (l *Launcher) update(fn func(*Snapshot)) {
	l.mu.Lock()
	fn(&l.state)
	l.mu.Unlock()
}

// prober returns a copy of the configured prober that also counts attempts.
func (l *Launcher) prober() *probe.Prober {
	p := *l.Prober
	next := p.OnAttempt
	p.OnAttempt = func(err error) {
		metrics.IncProbe(err == nil)
		if next != nil {
			next(err)
		}
	}
	return &p
}

func (l *Launcher) readyTimeout() time.Duration {
	if l.ReadyTimeout > 0 {
		return l.ReadyTimeout
	}
	return DefaultReadyTimeout
}

func (l *Launcher) title() string {
	if l.Title != "" {
		return l.Title
	}
	return DefaultTitle
}
