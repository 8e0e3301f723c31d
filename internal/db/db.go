package db

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Options tune the pool. Zero values keep the pgx defaults.
type Options struct {
	MaxConns int
	// SlowQuery logs statements that run longer than this. Zero disables it.
	SlowQuery time.Duration
}

// Connect opens a pgx connection pool and verifies connectivity with a ping.
func Connect(ctx context.Context, dsn string, opts Options, log *zap.Logger) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	cfg.MaxConnIdleTime = 5 * time.Minute
	cfg.MaxConnLifetime = 30 * time.Minute
	if opts.MaxConns > 0 {
		cfg.MaxConns = int32(opts.MaxConns)
	}
	if opts.SlowQuery > 0 && log != nil {
		cfg.ConnConfig.Tracer = &slowQueryTracer{threshold: opts.SlowQuery, log: log}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

type queryStartKey struct{}

type queryStart struct {
	at  time.Time
	sql string
}

// slowQueryTracer logs statements over the threshold and failed statements.
type slowQueryTracer struct {
	threshold time.Duration
	log       *zap.Logger
}

func (t *slowQueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), sql: data.SQL})
}

func (t *slowQueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	elapsed := time.Since(start.at)
	fields := []zap.Field{
		zap.String("sql", compact(start.sql)),
		zap.Duration("elapsed", elapsed),
	}
	switch {
	case data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) && !errors.Is(data.Err, context.Canceled):
		t.log.Warn("query failed", append(fields, zap.Error(data.Err))...)
	case elapsed >= t.threshold:
		t.log.Warn("slow query", append(fields, zap.String("tag", data.CommandTag.String()))...)
	}
}

func compact(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}
