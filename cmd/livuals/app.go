package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/livuals/internal/bootstrap"
	"github.com/loykin/livuals/internal/config"
	"github.com/loykin/livuals/internal/history"
	"github.com/loykin/livuals/internal/history/factory"
	"github.com/loykin/livuals/internal/launcher"
	"github.com/loykin/livuals/internal/logger"
	"github.com/loykin/livuals/internal/platform"
	"github.com/loykin/livuals/internal/probe"
	"github.com/loykin/livuals/internal/resolver"
	"github.com/loykin/livuals/internal/supervisor"
)

// app is one launch wired from configuration.
type app struct {
	cfg        *config.Config
	platform   platform.PlatformOps
	sink       *logger.Sink
	logger     *slog.Logger
	history    history.Sink
	supervisor *supervisor.Supervisor
	launcher   *launcher.Launcher
}

func newResolver(cfg *config.Config, p platform.PlatformOps) *resolver.Resolver {
	r := resolver.New(p)
	r.PayloadDir = cfg.Layout.PayloadDir
	r.NestedDirs = cfg.Layout.NestedDirs
	r.MaxAncestors = cfg.Layout.MaxAncestors
	return r
}

func newProber(cfg *config.Config) *probe.Prober {
	pr := probe.New(cfg.Backend.Host, cfg.Backend.Port)
	pr.Path = cfg.Backend.StatusPath
	pr.ConnectTimeout = cfg.Probe.ConnectTimeout
	pr.IOTimeout = cfg.Probe.IOTimeout
	pr.Backoff = cfg.Probe.Backoff
	pr.ReadBytes = cfg.Probe.ReadBytes
	return pr
}

// newApp opens the log sink and builds the launcher. console may be nil
// when something else owns the terminal.
func newApp(cfg *config.Config, p platform.PlatformOps, console io.Writer) (*app, error) {
	lc := cfg.LoggerConfig()
	sink, err := logger.OpenSink(lc.File)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	log := lc.NewSlogger(console, sink).With("app", config.AppName)

	benv, err := cfg.BackendEnv()
	if err != nil {
		_ = sink.Close()
		return nil, err
	}

	b := bootstrap.New(p, sink.Stdio(), log)
	b.Env = benv

	s := supervisor.New(p, sink.Stdio(), log)
	s.Env = benv
	s.Host = cfg.Backend.Host
	s.Port = cfg.Backend.Port
	s.KillWait = cfg.Backend.KillWait

	l := launcher.New(newResolver(cfg, p), b, s, newProber(cfg), log)
	l.Inputs = resolver.InputsFromOS(cfg.Layout.ResourceDir)
	l.ReadyTimeout = cfg.Probe.Timeout
	l.Title = config.AppName

	a := &app{cfg: cfg, platform: p, sink: sink, logger: log, supervisor: s, launcher: l}
	if cfg.History.Enabled {
		h, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			log.Warn("launch history disabled", "dsn", cfg.History.DSN, "error", err)
		} else {
			a.history = h
			l.History = h
		}
	}
	log.Info("log sink opened", "path", sink.Path(), "platform", p.Name())
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("close history", "error", err)
		}
	}
	_ = a.sink.Close()
}
