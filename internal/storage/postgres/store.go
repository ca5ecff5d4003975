package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/rainlanguage/rain.orderbook-sub007/internal/model"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/retry"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/sqlstmt"
	"github.com/rainlanguage/rain.orderbook-sub007/internal/syncerr"
)

// Options tunes a Store.
type Options struct {
	// ContentionAttempts and ContentionDelay drive the constant backoff used
	// when Postgres reports serialization or lock contention.
	ContentionAttempts int
	ContentionDelay    time.Duration
	Logger             *zap.Logger
}

// Store owns the connection pool. Each target syncs into its own schema
// through a Session.
type Store struct {
	pool   *pgxpool.Pool
	policy retry.Policy
	logger *zap.Logger
}

func NewStore(ctx context.Context, dsn string, opts Options) (*Store, error) {
	if dsn == "" {
		return nil, syncerr.Configf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, syncerr.Storage("connect postgres", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	attempts := opts.ContentionAttempts
	if attempts <= 0 {
		attempts = 5
	}
	delay := opts.ContentionDelay
	if delay <= 0 {
		delay = 50 * time.Millisecond
	}

	return &Store{
		pool:   pool,
		policy: retry.Constant(attempts, delay).WithShouldRetry(IsContention).WithLogger(logger),
		logger: logger,
	}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SchemaName returns the schema holding target's tables.
func SchemaName(target model.OrderbookIdentifier) string {
	return fmt.Sprintf("ob_%d_%s", target.ChainID, strings.TrimPrefix(target.AddressHex(), "0x"))
}

// Session acquires a dedicated connection for target and makes sure its
// schema exists. The caller must Close it.
func (s *Store) Session(ctx context.Context, target model.OrderbookIdentifier) (*Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, syncerr.Storage("acquire connection", err)
	}
	schema := pgx.Identifier{SchemaName(target)}.Sanitize()
	if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+schema); err != nil {
		conn.Release()
		return nil, syncerr.Storage("create schema", err)
	}
	return &Session{
		conn:   conn,
		schema: schema,
		policy: s.policy,
		logger: s.logger.With(zap.Uint64("chain_id", target.ChainID), zap.String("orderbook", target.AddressHex())),
	}, nil
}

// Session is one target's exclusive view of the store.
type Session struct {
	conn   *pgxpool.Conn
	schema string
	policy retry.Policy
	logger *zap.Logger
}

// Close releases the connection back to the pool.
func (s *Session) Close() {
	if s.conn != nil {
		s.conn.Release()
		s.conn = nil
	}
}

// Execute applies batch inside one transaction, pipelining the statements in
// insertion order.
func (s *Session) Execute(ctx context.Context, batch sqlstmt.Batch) error {
	if batch.IsEmpty() {
		return nil
	}
	stmts := batch.Statements()
	err := retry.Run(ctx, s.policy.Named("execute batch"), func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+s.schema); err != nil {
				return fmt.Errorf("set search_path: %w", err)
			}

			b := &pgx.Batch{}
			for _, stmt := range stmts {
				b.Queue(stmt.SQL, stmt.Args()...)
			}
			br := tx.SendBatch(ctx, b)
			for i := range stmts {
				if _, err := br.Exec(); err != nil {
					br.Close()
					return fmt.Errorf("statement %d of %d: %w", i+1, len(stmts), err)
				}
			}
			return br.Close()
		})
	})
	if err != nil {
		return syncerr.Storage("execute batch", err)
	}
	return nil
}

// QueryJSON wraps stmt in json_agg so any row shape comes back as one value.
func (s *Session) QueryJSON(ctx context.Context, stmt sqlstmt.Statement) ([]byte, error) {
	query := "SELECT coalesce(json_agg(t), '[]'::json)::text FROM (" + stmt.SQL + ") t"
	var out string
	err := retry.Run(ctx, s.policy.Named("query json"), func(ctx context.Context) error {
		return pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+s.schema); err != nil {
				return err
			}
			return tx.QueryRow(ctx, query, stmt.Args()...).Scan(&out)
		})
	})
	if err != nil {
		return nil, syncerr.Storage("query json", err)
	}
	return []byte(out), nil
}

// ExecScript runs script with the simple protocol inside one transaction.
func (s *Session) ExecScript(ctx context.Context, script string) error {
	err := pgx.BeginFunc(ctx, s.conn, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL search_path TO "+s.schema); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, script)
		return err
	})
	if err != nil {
		return syncerr.Storage("exec script", err)
	}
	s.logger.Debug("script applied", zap.Int("bytes", len(script)))
	return nil
}

// IsContention reports Postgres errors that clear up on retry.
func IsContention(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03", "53300":
		return true
	}
	return false
}
