package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/livuals/internal/history"
)

// Sink exports launch records to ClickHouse. It is write-only.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(addr, table string) (*Sink, error) {
	if table == "" {
		table = history.Table
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: table}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			id String,
			started_at DateTime64(3),
			finished_at DateTime64(3),
			root String,
			source String,
			bootstrapped Bool,
			outcome LowCardinality(String),
			error String,
			pid UInt32
		) ENGINE = MergeTree()
		ORDER BY (started_at, id)
	`)
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, r history.Record) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, started_at, finished_at, root, source, bootstrapped, outcome, error, pid) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	err := s.conn.Exec(ctx, query,
		r.ID,
		r.StartedAt.UTC(),
		r.FinishedAt.UTC(),
		r.Root,
		r.Source,
		r.Bootstrapped,
		string(r.Outcome),
		r.Error,
		uint32(r.PID),
	)
	if err != nil {
		return fmt.Errorf("failed to insert launch record into ClickHouse: %w", err)
	}
	return nil
}
