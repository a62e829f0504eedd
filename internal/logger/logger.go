package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultFileName   = "livuals-wrapper.log"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// SlogConfig controls the structured logger written to the console and the sink.
type SlogConfig struct {
	Level      Level  `mapstructure:"level"`
	Format     Format `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	TimeStamps bool   `mapstructure:"timestamps"`
	Source     bool   `mapstructure:"source"`
}

// FileConfig describes the single append-only log file shared by the launcher,
// the installer and the backend. Rotation is off unless Rotate is set, in which
// case lumberjack semantics apply.
type FileConfig struct {
	Dir        string `mapstructure:"dir"`
	Name       string `mapstructure:"file"`
	Rotate     bool   `mapstructure:"rotate"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Config is the unified logging configuration.
type Config struct {
	Slog SlogConfig
	File FileConfig
}

// Path returns the log file location, or "" when no directory is configured.
func (c FileConfig) Path() string {
	if c.Dir == "" {
		return ""
	}
	name := c.Name
	if name == "" {
		name = DefaultFileName
	}
	return filepath.Join(c.Dir, name)
}

// NewSlogger builds a logger that writes to console (may be nil) and to sink
// (may be nil). The sink always receives uncolored text so the file stays
// greppable; the console gets colors only when it is a terminal.
func (c Config) NewSlogger(console io.Writer, sink io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     c.Slog.Level.slogLevel(),
		AddSource: c.Slog.Source,
	}
	if !c.Slog.TimeStamps {
		opts.ReplaceAttr = dropTime
	}
	var handlers []slog.Handler
	if console != nil {
		switch {
		case c.Slog.Format == FormatJSON:
			handlers = append(handlers, slog.NewJSONHandler(console, opts))
		case c.Slog.Color && IsTerminal(console):
			handlers = append(handlers, NewColorTextHandler(console, opts))
		default:
			handlers = append(handlers, slog.NewTextHandler(console, opts))
		}
	}
	if sink != nil {
		// the file always carries timestamps
		fileOpts := &slog.HandlerOptions{Level: opts.Level, AddSource: opts.AddSource}
		if c.Slog.Format == FormatJSON {
			handlers = append(handlers, slog.NewJSONHandler(sink, fileOpts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(sink, fileOpts))
		}
	}
	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, opts))
	case 1:
		return slog.New(handlers[0])
	default:
		return slog.New(teeHandler(handlers))
	}
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (l Level) slogLevel() slog.Level {
	switch Level(strings.ToLower(string(l))) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func dropTime(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.TimeKey {
		return slog.Attr{}
	}
	return a
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
