package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPingTimeout = 3 * time.Second

const schemaDDL = `
CREATE SCHEMA IF NOT EXISTS gridlink;
CREATE TABLE IF NOT EXISTS gridlink.audit_log (
	id         text PRIMARY KEY,
	action     text NOT NULL,
	token_fp   text,
	namespace  text,
	username   text,
	ip         text,
	meta       jsonb,
	created_at timestamptz NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_created_at_idx ON gridlink.audit_log (created_at);
`

// PostgresConfig locates and sizes the audit database pool.
type PostgresConfig struct {
	URL         string
	MaxConns    int32
	MinConns    int32
	PingTimeout time.Duration
}

// PostgresWriter persists events into gridlink.audit_log. It owns its pool.
type PostgresWriter struct {
	pool        *pgxpool.Pool
	pingTimeout time.Duration
}

// OpenPostgres connects to the audit database, checks that a connection can be
// acquired and creates the audit table when missing. Close releases the pool.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresWriter, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("audit: parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		pcfg.MinConns = cfg.MinConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("audit: open pool: %w", err)
	}

	w := &PostgresWriter{pool: pool, pingTimeout: cfg.PingTimeout}
	if w.pingTimeout <= 0 {
		w.pingTimeout = defaultPingTimeout
	}
	if err := w.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: ping: %w", err)
	}
	if err := w.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("audit: schema: %w", err)
	}
	return w, nil
}

// Ping checks that a connection can be acquired within the ping timeout.
func (w *PostgresWriter) Ping(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, w.pingTimeout)
	defer cancel()

	conn, err := w.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	conn.Release()
	return nil
}

// Close releases the pool.
func (w *PostgresWriter) Close() {
	w.pool.Close()
}

func (w *PostgresWriter) ensureSchema(ctx context.Context) error {
	_, err := w.pool.Exec(ctx, schemaDDL)
	return err
}

// Write inserts events in one batch round trip.
func (w *PostgresWriter) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}

	b := &pgx.Batch{}
	for _, ev := range events {
		var meta *string
		if len(ev.Meta) > 0 {
			if raw, err := json.Marshal(ev.Meta); err == nil {
				s := string(raw)
				meta = &s
			}
		}
		b.Queue(`
			INSERT INTO gridlink.audit_log (
				id, action, token_fp, namespace, username, ip, meta, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8)
			ON CONFLICT (id) DO NOTHING
		`, ev.ID, ev.Action, nullIfEmpty(ev.TokenFP), nullIfEmpty(ev.Namespace),
			nullIfEmpty(ev.Username), nullIfEmpty(ev.RemoteIP), meta, ev.At)
	}

	return w.pool.SendBatch(ctx, b).Close()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
