// Package db is the SQLite write side: snapshots, station history, the
// work queue and retention cleanup.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MADA-gnuBD/bikeops/internal/logging"
)

// schemaSQL is embedded from schema.sql and applied by EnsureSchema.
//
//go:embed schema.sql
var schemaSQL string

// timeLayout is how every timestamp column is written.
const timeLayout = time.RFC3339

// DB wraps a SQLite connection with write serialization
type DB struct {
	conn    *sql.DB
	path    string
	writeMu sync.Mutex // serializes writes so cleanup never races a poll transaction
}

// Connect opens a SQLite database in WAL mode
func Connect(dbPath string) (*DB, error) {
	dsn := "file:" + dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has one writer; a single connection plus writeMu avoids
	// "cannot start a transaction within a transaction".
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logging.Warn().Err(err).Str("pragma", pragma).Msg("failed to apply pragma")
		}
	}

	logging.Info().Str("path", dbPath).Msg("connected to SQLite database")
	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection for read-side repositories
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks the connection
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// EnsureSchema creates tables if they don't exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	db.writeMu.Lock()
	defer db.writeMu.Unlock()

	if _, err := db.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	logging.Debug().Msg("database schema ensured")
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
