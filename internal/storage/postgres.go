package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"tickwheel/pkg/logx"
)

var sleep = time.Sleep

const (
	pgCreateRuns = `CREATE TABLE IF NOT EXISTS tickwheel_runs (
	seq      BIGSERIAL PRIMARY KEY,
	at       TIMESTAMPTZ NOT NULL,
	task_id  TEXT NOT NULL,
	name     TEXT NOT NULL,
	async    BOOLEAN NOT NULL DEFAULT FALSE,
	queue_ms BIGINT NOT NULL DEFAULT 0,
	took_ms  BIGINT NOT NULL DEFAULT 0,
	err      TEXT,
	event    TEXT NOT NULL
)`
	pgInsertRun = `INSERT INTO tickwheel_runs(at, task_id, name, async, queue_ms, took_ms, err, event)
VALUES($1, $2, $3, $4, $5, $6, $7, $8)`
	pgSelectRecent = `SELECT at, task_id, name, async, queue_ms, took_ms, COALESCE(err, ''), event
FROM tickwheel_runs ORDER BY seq DESC LIMIT $1`
)

// PgxConn is a *pgxpool.Pool, or a *pgx.Conn when the caller serializes use.
// The store issues Exec and Query from several goroutines at once.
type PgxConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type pgStore struct {
	conn   PgxConn
	closer func(context.Context) error
	log    logx.Logger
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	// AppendRun and RecentRuns are called concurrently.
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	st, err := newPgStore(ctx, pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	st.closer = func(context.Context) error {
		pool.Close()
		return nil
	}
	return st, nil
}

// NewPgx creates the runs table on conn and returns a store backed by it.
// Table creation is retried three times with exponential backoff.
// Closing the store leaves conn open.
func NewPgx(ctx context.Context, conn PgxConn, log logx.Logger) (Store, error) {
	return newPgStore(ctx, conn, log)
}

func newPgStore(ctx context.Context, conn PgxConn, log logx.Logger) (*pgStore, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var err error
	for n := range 3 {
		if _, err = conn.Exec(ctx, pgCreateRuns); err == nil {
			break
		}
		log.Warn("postgres migrate failed", logx.Int("attempt", n+1), logx.Err(err))
		if n < 2 {
			sleep(time.Duration(math.Pow(2, float64(n))) * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("could not create runs table: %w", err)
	}
	return &pgStore{conn: conn, log: log}, nil
}

func (s *pgStore) AppendRun(ctx context.Context, r RunRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.conn.Exec(ctx, pgInsertRun,
		r.At, r.ID, r.Name, r.Async,
		r.QueueDelay.Milliseconds(), r.Duration.Milliseconds(), nullStr(r.Error), r.Event,
	)
	if err != nil {
		return fmt.Errorf("InsertRun: %w", err)
	}
	return nil
}

func (s *pgStore) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	if n <= 0 {
		n = defaultRetain
	}
	rows, err := s.conn.Query(ctx, pgSelectRecent, n)
	if err != nil {
		return nil, fmt.Errorf("SelectRecent: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r       RunRecord
			queueMS int64
			tookMS  int64
		)
		if err := rows.Scan(&r.At, &r.ID, &r.Name, &r.Async, &queueMS, &tookMS, &r.Error, &r.Event); err != nil {
			return nil, err
		}
		r.QueueDelay = time.Duration(queueMS) * time.Millisecond
		r.Duration = time.Duration(tookMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *pgStore) Close() error {
	if s.closer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.closer(ctx)
}
