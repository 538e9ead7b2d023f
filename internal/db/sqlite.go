package db

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS consult_sessions (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		counselor_id TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		activated_at DATETIME,
		ended_at DATETIME
	)`,
	`CREATE INDEX IF NOT EXISTS idx_consult_sessions_patient ON consult_sessions(patient_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_consult_sessions_counselor ON consult_sessions(counselor_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS consult_messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		sender_role TEXT NOT NULL,
		sender_id TEXT NOT NULL,
		body TEXT NOT NULL,
		sent_at DATETIME NOT NULL,
		received_at DATETIME,
		UNIQUE (session_id, seq),
		FOREIGN KEY (session_id) REFERENCES consult_sessions(id)
	)`,
}

// OpenSQLite abre la base SQLite y aplica las migraciones. Las claves
// foraneas se activan en el DSN para que valgan en cada conexion del pool.
func OpenSQLite(dsn string) (*sql.DB, error) {
	conn, err := sql.Open("sqlite3", withForeignKeys(dsn))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Con :memory: cada conexion es una base distinta.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}
	for _, stmt := range sqliteMigrations {
		if _, err := conn.Exec(stmt); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate sqlite: %w", err)
		}
	}
	return conn, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys=") || strings.Contains(dsn, "_fk=") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}
