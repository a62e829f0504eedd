package logger

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Sink is the append-only diagnostic log shared by every component. Launcher
// records, installer output and backend output all land in the same file.
// Writes are serialized so lines from concurrent writers in this process do
// not interleave mid-line.
type Sink struct {
	mu   sync.Mutex
	w    io.Writer
	file *os.File // set when writing straight to an O_APPEND file
	c    io.Closer
	path string
}

// OpenSink opens (creating if needed) the log file described by cfg.
func OpenSink(cfg FileConfig) (*Sink, error) {
	path := cfg.Path()
	if path == "" {
		return nil, errors.New("log directory not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	if cfg.Rotate {
		l := &lj.Logger{
			Filename:   path,
			MaxSize:    valOr(cfg.MaxSizeMB, DefaultMaxSizeMB),
			MaxBackups: valOr(cfg.MaxBackups, DefaultMaxBackups),
			MaxAge:     valOr(cfg.MaxAgeDays, DefaultMaxAgeDays),
			Compress:   cfg.Compress,
		}
		return &Sink{w: l, c: l, path: path}, nil
	}
	// #nosec G304 -- path comes from launcher configuration
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &Sink{w: f, file: f, c: f, path: path}, nil
}

// NewSink wraps an arbitrary writer. Used by tests and when no log file can be opened.
func NewSink(w io.Writer) *Sink {
	if w == nil {
		w = io.Discard
	}
	s := &Sink{w: w}
	if c, ok := w.(io.Closer); ok {
		s.c = c
	}
	return s
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// Stdio returns a writer suitable for exec.Cmd Stdout/Stderr. When the sink is
// a plain file the child inherits the descriptor directly; otherwise os/exec
// copies through a pipe into the sink.
func (s *Sink) Stdio() io.Writer {
	if s.file != nil {
		return s.file
	}
	return s
}

// Path returns the file path, or "" for wrapped writers.
func (s *Sink) Path() string { return s.path }

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return nil
	}
	err := s.c.Close()
	s.c = nil
	return err
}
