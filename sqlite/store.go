package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/velmie/logship"
)

// connPragmas are applied to every connection, including reopened ones.
// WAL keeps appends cheap under the delivery worker's concurrent reads.
var connPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
}

// Store is a SQLite-backed durable FIFO of serialized log records.
// It implements logship.Queue.
type Store struct {
	path    string
	table   string
	queries queries

	mu     sync.Mutex
	conn   *sqlite.Conn
	closed bool
}

var _ logship.Queue = (*Store)(nil)

// Open creates or opens the queue database at path, creating the parent
// directory and the schema if needed.
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, ErrPathRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("logship sqlite: create directory %s: %w", dir, err)
		}
	}

	s := &Store{
		path:    path,
		table:   table,
		queries: newQueries(table),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}

	return s, nil
}

// Append implements logship.Queue. All payloads are inserted in one
// IMMEDIATE transaction, so the batch is durable as a whole or not at all.
func (s *Store) Append(ctx context.Context, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runErr := s.run(ctx, func(conn *sqlite.Conn) (err error) {
		end, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer end(&err)

		for _, payload := range payloads {
			err = sqlitex.Execute(conn, s.queries.insert, &sqlitex.ExecOptions{
				Args: []any{string(payload)},
			})
			if err != nil {
				return err
			}
		}

		return nil
	})
	if runErr != nil {
		return fmt.Errorf("logship sqlite: append: %w", runErr)
	}

	return nil
}

// Peek implements logship.Queue, returning up to limit payloads in
// ascending id order without removing them.
func (s *Store) Peek(ctx context.Context, limit int) ([][]byte, error) {
	if limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var payloads [][]byte
	runErr := s.run(ctx, func(conn *sqlite.Conn) error {
		payloads = payloads[:0]

		return sqlitex.Execute(conn, s.queries.selectOldest, &sqlitex.ExecOptions{
			Args: []any{limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				payloads = append(payloads, []byte(stmt.ColumnText(0)))

				return nil
			},
		})
	})
	if runErr != nil {
		return nil, fmt.Errorf("logship sqlite: peek: %w", runErr)
	}

	return payloads, nil
}

// Remove implements logship.Queue, deleting the count oldest payloads.
func (s *Store) Remove(ctx context.Context, count int) error {
	if count <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	runErr := s.run(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, s.queries.deleteOldest, &sqlitex.ExecOptions{
			Args: []any{count},
		})
	})
	if runErr != nil {
		return fmt.Errorf("logship sqlite: remove: %w", runErr)
	}

	return nil
}

// Requeue implements logship.Queue. Payloads get fresh ids and land at the
// back of the queue: FIFO order holds for originally-inserted entries but
// is not preserved across a requeue cycle.
func (s *Store) Requeue(ctx context.Context, payloads [][]byte) error {
	return s.Append(ctx, payloads...)
}

// Size implements logship.Queue.
func (s *Store) Size(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	runErr := s.run(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, s.queries.count, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt(0)

				return nil
			},
		})
	})
	if runErr != nil {
		return 0, fmt.Errorf("logship sqlite: size: %w", runErr)
	}

	return count, nil
}

// Clear implements logship.Queue, removing all payloads.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runErr := s.run(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, s.queries.clear, nil)
	})
	if runErr != nil {
		return fmt.Errorf("logship sqlite: clear: %w", runErr)
	}

	return nil
}

// Close implements logship.Queue. Idempotent; later operations return
// ErrStoreClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.conn == nil {
		return nil
	}
	conn := s.conn
	s.conn = nil
	if err := conn.Close(); err != nil {
		return fmt.Errorf("logship sqlite: close: %w", err)
	}

	return nil
}

// run executes op against the connection, reopening the handle once and
// retrying the operation exactly once more on a fault. The caller must
// hold s.mu.
func (s *Store) run(ctx context.Context, op func(conn *sqlite.Conn) error) error {
	if s.closed {
		return ErrStoreClosed
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.conn == nil {
			if err := s.connect(); err != nil {
				lastErr = err

				continue
			}
		}

		if err := op(s.conn); err != nil {
			lastErr = err
			s.dropConn()

			continue
		}

		return nil
	}

	return lastErr
}

// connect opens a connection, applies pragmas, and ensures the schema
// exists. Schema creation is idempotent: there is exactly one schema
// version.
func (s *Store) connect() error {
	conn, err := sqlite.OpenConn(s.path, sqlite.OpenReadWrite|sqlite.OpenCreate|sqlite.OpenWAL)
	if err != nil {
		return fmt.Errorf("logship sqlite: open %s: %w", s.path, err)
	}

	for _, pragma := range connPragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			_ = conn.Close()

			return fmt.Errorf("logship sqlite: %s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, s.queries.schema, nil); err != nil {
		_ = conn.Close()

		return fmt.Errorf("logship sqlite: init schema: %w", err)
	}

	s.conn = conn

	return nil
}

func (s *Store) dropConn() {
	if s.conn == nil {
		return
	}
	_ = s.conn.Close()
	s.conn = nil
}
