package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool construye y devuelve un pool de conexiones configurado.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	// Configuración razonable para ambientes iniciales.
	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 30 * time.Second
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second

	return pgxpool.NewWithConfig(ctx, poolCfg)
}

// Ping verifica conectividad con la base de datos.
func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	return pool.Ping(ctx)
}

// PostgresSchema crea las tablas del archivo de consultas.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS consult_sessions (
	id           TEXT PRIMARY KEY,
	patient_id   TEXT NOT NULL,
	counselor_id TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	activated_at TIMESTAMPTZ,
	ended_at     TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_consult_sessions_patient ON consult_sessions(patient_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_consult_sessions_counselor ON consult_sessions(counselor_id, created_at DESC);

CREATE TABLE IF NOT EXISTS consult_messages (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL REFERENCES consult_sessions(id),
	seq         BIGINT NOT NULL,
	sender_role TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	body        TEXT NOT NULL,
	sent_at     TIMESTAMPTZ NOT NULL,
	received_at TIMESTAMPTZ,
	UNIQUE (session_id, seq)
);
`

// Migrate aplica el esquema sobre el pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, PostgresSchema)
	return err
}
