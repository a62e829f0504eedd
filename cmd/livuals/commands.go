package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/livuals/internal/config"
	"github.com/loykin/livuals/internal/history"
	"github.com/loykin/livuals/internal/history/factory"
	"github.com/loykin/livuals/internal/launcher"
	"github.com/loykin/livuals/internal/metrics"
	"github.com/loykin/livuals/internal/platform"
	"github.com/loykin/livuals/internal/probe"
	"github.com/loykin/livuals/internal/resolver"
	"github.com/loykin/livuals/internal/server"
	"github.com/loykin/livuals/internal/shell"
	"github.com/loykin/livuals/pkg/client"
)

// command carries what every subcommand needs.
type command struct {
	global *GlobalFlags
}

func (c command) loadConfig() (*config.Config, error) {
	return config.Load(c.global.ConfigPath)
}

// Run performs one launch and keeps the backend alive until interrupted.
func (c command) Run(ctx context.Context, out, errOut io.Writer, f RunFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if f.ResourceDir != "" {
		cfg.Layout.ResourceDir = f.ResourceDir
	}

	lock, err := acquireLock(cfg.Lock.Path)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	console := errOut
	if f.TUI {
		console = nil
	}
	a, err := newApp(cfg, platform.Current(), console)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.logger.Warn("metrics registration failed", "error", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Server.Addr != "" {
		srv, err := server.NewServer(cfg.Server.Addr, "", server.Deps{
			State:    a.launcher,
			Usage:    a.supervisor,
			History:  a.history,
			Gatherer: prometheus.DefaultGatherer,
		})
		if err != nil {
			a.logger.Warn("status api disabled", "addr", cfg.Server.Addr, "error", err)
		} else {
			a.logger.Info("status api listening", "addr", srv.Addr)
			defer func() { _ = srv.Close() }()
		}
	}

	// the backend never outlives the launcher
	defer a.launcher.Shutdown()

	if f.TUI {
		return c.runTUI(ctx, a, f)
	}
	return c.runConsole(ctx, a, out, f)
}

func (c command) runConsole(ctx context.Context, a *app, out io.Writer, f RunFlags) error {
	sh := &shell.Console{Out: out, Title: config.AppName, LogPath: a.sink.Path()}
	if f.Open {
		sh.Open = shell.BrowserOpener(a.platform)
	}
	a.launcher.OnStage = func(s launcher.Stage) { a.logger.Debug("stage", "stage", s) }

	ev := <-a.launcher.Start(ctx)
	shell.Deliver(sh, ev)
	if !ev.Ready() {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("launch failed at %s: %w", ev.Stage, ev.Err)
	}
	_, _ = fmt.Fprintln(out, "press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

func (c command) runTUI(ctx context.Context, a *app, f RunFlags) error {
	tui := shell.NewTUI(shell.TUIConfig{
		Title:    config.AppName,
		LogPath:  a.sink.Path(),
		Open:     shell.BrowserOpener(a.platform),
		AutoOpen: f.Open,
	})
	a.launcher.OnStage = tui.Stage

	ch := a.launcher.Start(ctx)
	go func() {
		if ev, ok := <-ch; ok {
			shell.Deliver(tui, ev)
		}
	}()
	go func() {
		<-ctx.Done()
		tui.Quit()
	}()
	return tui.Run()
}

// Resolve prints the candidate search and its outcome.
func (c command) Resolve(out io.Writer, f ResolveFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	hint := cfg.Layout.ResourceDir
	if f.ResourceDir != "" {
		hint = f.ResourceDir
	}
	r := newResolver(cfg, platform.Current())
	in := resolver.InputsFromOS(hint)
	_, _ = fmt.Fprint(out, resolveReport(r, in))
	return nil
}

func resolveReport(r *resolver.Resolver, in resolver.Inputs) string {
	tbl := newListing("#", "Source", "Directory", "Scripts", "Payload").alignRight(0)
	for i, cand := range r.Candidates(in) {
		tbl.add(
			strconv.Itoa(i+1),
			string(cand.Source),
			cand.Dir,
			yesNo(r.HasLaunchScripts(cand.Dir)),
			yesNo(r.HasPayload(cand.Dir)),
		)
	}
	res := r.Resolve(in)
	pass := "fallback"
	if res.Pass > 0 {
		pass = "pass " + strconv.Itoa(res.Pass)
	}
	return tbl.render() +
		fmt.Sprintf("\nruntime root: %s (%s, %s)\n", res.Root, res.Source, pass)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}

// Probe checks the configured backend once or until f.Wait elapses.
func (c command) Probe(ctx context.Context, out io.Writer, f ProbeFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	pr := newProber(cfg)
	url := "http://" + pr.Addr + pr.Path

	if f.Wait <= 0 {
		if err := pr.Check(ctx); err != nil {
			_, _ = fmt.Fprintf(out, "%s not ready: %v\n", url, err)
			return err
		}
		_, _ = fmt.Fprintf(out, "%s ready\n", url)
		return nil
	}

	start := time.Now()
	if !pr.WaitReady(ctx, f.Wait) {
		_, _ = fmt.Fprintf(out, "%s not ready after %s\n", url, f.Wait)
		return fmt.Errorf("%w after %s", launcher.ErrTimeout, f.Wait)
	}
	_, _ = fmt.Fprintf(out, "%s ready after %s\n", url, time.Since(start).Round(time.Millisecond))
	return nil
}

// History lists recent launches from the configured store.
func (c command) History(ctx context.Context, out io.Writer, f HistoryFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = sink.Close() }()

	recs, err := history.Recent(ctx, sink, f.Limit)
	if err != nil {
		return err
	}
	if f.JSON {
		if recs == nil {
			recs = []history.Record{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(recs)
	}
	if len(recs) == 0 {
		_, _ = fmt.Fprintln(out, "no launches recorded")
		return nil
	}
	tbl := newListing("Started", "Outcome", "Took", "Source", "Root", "PID", "Error").alignRight(2, 5)
	for _, r := range recs {
		pid := ""
		if r.PID > 0 {
			pid = strconv.Itoa(r.PID)
		}
		tbl.add(
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Outcome),
			r.Duration().Round(time.Millisecond).String(),
			r.Source,
			r.Root,
			pid,
			r.Error,
		)
	}
	_, _ = fmt.Fprintln(out, tbl.render())
	return nil
}

// Status queries the status API of a running launcher.
func (c command) Status(ctx context.Context, out io.Writer, f StatusFlags) error {
	addr := f.Addr
	if addr == "" {
		cfg, err := c.loadConfig()
		if err != nil {
			return err
		}
		addr = cfg.Server.Addr
	}
	if addr == "" {
		return errors.New("status API address not set (use --addr or server.addr)")
	}
	cl := client.New(client.Config{BaseURL: "http://" + addr})
	st, err := cl.Status(ctx)
	if err != nil {
		return fmt.Errorf("query %s: %w", addr, err)
	}

	l := st.Launch
	state := "starting"
	switch {
	case l.Done && l.Ready:
		state = "ready"
	case l.Done:
		state = "failed"
	}
	tbl := newListing("Field", "Value")
	tbl.add("State", state)
	tbl.add("Stage", l.Stage)
	tbl.add("Root", l.Root+" ("+l.Source+")")
	if l.URL != "" {
		tbl.add("URL", l.URL)
	}
	if l.Error != "" {
		tbl.add("Error", l.Error)
	}
	if l.Backend.PID > 0 {
		tbl.add("Backend PID", strconv.Itoa(l.Backend.PID))
	}
	if st.Usage != nil {
		tbl.add("Memory", fmt.Sprintf("%.1f MiB", float64(st.Usage.RSSBytes)/(1<<20)))
	}
	_, _ = fmt.Fprintln(out, tbl.render())

	healthy, reason, err := cl.Healthy(ctx)
	if err != nil {
		return err
	}
	if !healthy {
		return fmt.Errorf("backend not ready: %s", reason)
	}
	return nil
}

// DevServer serves a stand-in backend until ctx is cancelled or a signal arrives.
func (c command) DevServer(ctx context.Context, out io.Writer, f DevServerFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e := newDevServer(probe.DefaultStatusPath, f.Delay, time.Now)
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(f.Addr) }()
	_, _ = fmt.Fprintf(out, "dev backend on http://%s%s\n", f.Addr, probe.DefaultStatusPath)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
