package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/fixturectl/internal/history"
)

// DefaultTable receives events when the DSN names none.
const DefaultTable = "fixture_history"

// Options locate the ClickHouse server and table.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// Sink sends events to ClickHouse using the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(opts Options) (*Sink, error) {
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s := &Sink{conn: conn, table: opts.Table}
	if err := s.ensureSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	err := s.conn.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			occurred_at DateTime64(6),
			run_id String,
			type LowCardinality(String),
			name String,
			alias String,
			pid UInt32,
			port UInt16,
			attempt UInt16,
			error Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY (run_id, occurred_at)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create ClickHouse table %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (occurred_at, run_id, type, name, alias, pid, port, attempt, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	var errText *string
	if e.Err != "" {
		errText = &e.Err
	}
	err := s.conn.Exec(ctx, query,
		e.OccurredAt,
		e.RunID,
		string(e.Type),
		e.Name,
		e.Alias,
		uint32(e.PID),
		uint16(e.Port),
		uint16(e.Attempt),
		errText,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
