package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Table is the name of the launch history table in SQL backends.
const Table = "launch_history"

// Placeholder renders the n-th (1-based) bind parameter for a SQL dialect.
type Placeholder func(n int) string

// QuestionMark is the placeholder style used by SQLite.
func QuestionMark(int) string { return "?" }

// Dollar is the placeholder style used by PostgreSQL.
func Dollar(n int) string { return fmt.Sprintf("$%d", n) }

// SQLStore stores records in a database/sql backend. Timestamps are kept as
// unix milliseconds so every driver round-trips them the same way.
type SQLStore struct {
	db   *sql.DB
	bind Placeholder
}

// NewSQLStore creates the history table if missing and returns a store over db.
func NewSQLStore(ctx context.Context, db *sql.DB, bind Placeholder) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("nil database handle")
	}
	if bind == nil {
		bind = QuestionMark
	}
	s := &SQLStore{db: db, bind: bind}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) ensureSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS ` + Table + `(
		id TEXT PRIMARY KEY,
		started_at BIGINT NOT NULL,
		finished_at BIGINT NOT NULL,
		root TEXT NOT NULL,
		source TEXT NOT NULL,
		bootstrapped BOOLEAN NOT NULL,
		outcome TEXT NOT NULL,
		error TEXT,
		pid INTEGER NOT NULL
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *SQLStore) binds(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s.bind(i + 1)
	}
	return strings.Join(parts, ", ")
}

func (s *SQLStore) Send(ctx context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("history record without id")
	}
	var errText sql.NullString
	if r.Error != "" {
		errText = sql.NullString{String: r.Error, Valid: true}
	}
	q := `INSERT INTO ` + Table + `(id, started_at, finished_at, root, source, bootstrapped, outcome, error, pid)
		VALUES(` + s.binds(9) + `);`
	_, err := s.db.ExecContext(ctx, q,
		r.ID, toMillis(r.StartedAt), toMillis(r.FinishedAt), r.Root, r.Source,
		r.Bootstrapped, string(r.Outcome), errText, r.PID)
	return err
}

func (s *SQLStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, started_at, finished_at, root, source, bootstrapped, outcome, error, pid
		FROM ` + Table + ` ORDER BY started_at DESC, id DESC LIMIT ` + s.bind(1)
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var (
			r                 Record
			started, finished int64
			outcome           string
			errText           sql.NullString
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Root, &r.Source,
			&r.Bootstrapped, &outcome, &errText, &r.PID); err != nil {
			return nil, err
		}
		r.StartedAt = fromMillis(started)
		r.FinishedAt = fromMillis(finished)
		r.Outcome = Outcome(outcome)
		r.Error = errText.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
