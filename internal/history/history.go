package history

import (
	"context"
	"errors"
	"time"
)

// Outcome is how a single launch attempt ended.
type Outcome string

const (
	OutcomeReady           Outcome = "ready"
	OutcomeBootstrapFailed Outcome = "bootstrap_failed"
	OutcomeSpawnFailed     Outcome = "spawn_failed"
	OutcomeTimeout         Outcome = "timeout"
	OutcomeCanceled        Outcome = "canceled"
)

// Record describes one launch attempt from resolution to its terminal event.
type Record struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Root         string    `json:"root"`
	Source       string    `json:"source"`
	Bootstrapped bool      `json:"bootstrapped"`
	Outcome      Outcome   `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	PID          int       `json:"pid,omitempty"`
}

// Duration is the wall time of the attempt.
func (r Record) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Sink is a destination for launch records.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, r Record) error
	Close() error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	// Recent returns up to limit records, newest first.
	Recent(ctx context.Context, limit int) ([]Record, error)
}

// ErrNotReadable is returned when a sink cannot be queried.
var ErrNotReadable = errors.New("history sink does not support reads")

// Recent queries s when it implements Reader.
func Recent(ctx context.Context, s Sink, limit int) ([]Record, error) {
	r, ok := s.(Reader)
	if !ok {
		return nil, ErrNotReadable
	}
	return r.Recent(ctx, limit)
}
