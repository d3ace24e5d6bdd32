// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides CDR persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists, except for in-memory databases
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS cdr (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL DEFAULT '',
			caller_id TEXT NOT NULL DEFAULT '',
			script TEXT NOT NULL DEFAULT '',
			remote_addr TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			ended_at DATETIME NOT NULL,
			duration_ms INTEGER NOT NULL,
			disposition TEXT NOT NULL,
			commands INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_cdr_started_at
			ON cdr(started_at);

		CREATE INDEX IF NOT EXISTS idx_cdr_script
			ON cdr(script);

		CREATE TABLE IF NOT EXISTS cdr_variables (
			cdr_id TEXT NOT NULL,
			name TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (cdr_id, name),
			FOREIGN KEY (cdr_id) REFERENCES cdr(id) ON DELETE CASCADE
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close releases the underlying database handle
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// SaveCDR persists a call detail record and its variable snapshot in one
// transaction.
func (s *SQLiteStore) SaveCDR(ctx context.Context, cdr *CDR) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO cdr (id, channel, caller_id, script, remote_addr, started_at, ended_at, duration_ms, disposition, commands)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = tx.ExecContext(ctx, query,
		cdr.ID,
		cdr.Channel,
		cdr.CallerID,
		cdr.Script,
		cdr.RemoteAddr,
		cdr.StartedAt.UTC().Format(time.RFC3339Nano),
		cdr.EndedAt.UTC().Format(time.RFC3339Nano),
		cdr.Duration.Milliseconds(),
		cdr.Disposition,
		cdr.Commands,
	)
	if err != nil {
		return fmt.Errorf("inserting cdr: %w", err)
	}

	if len(cdr.Variables) > 0 {
		varQuery := `
			INSERT INTO cdr_variables (cdr_id, name, value)
			VALUES (?, ?, ?)
		`
		for name, value := range cdr.Variables {
			if _, err := tx.ExecContext(ctx, varQuery, cdr.ID, name, value); err != nil {
				return fmt.Errorf("inserting cdr variable %q: %w", name, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing cdr: %w", err)
	}

	s.logger.Debug("saved cdr",
		"id", cdr.ID,
		"script", cdr.Script,
		"disposition", cdr.Disposition,
		"duration", cdr.Duration)
	return nil
}

// GetCDR returns one record by ID, variables included.
func (s *SQLiteStore) GetCDR(ctx context.Context, id string) (*CDR, error) {
	query := `
		SELECT id, channel, caller_id, script, remote_addr, started_at, ended_at, duration_ms, disposition, commands
		FROM cdr
		WHERE id = ?
	`

	cdr, err := scanCDR(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying cdr: %w", err)
	}

	vars, err := s.loadVariables(ctx, id)
	if err != nil {
		return nil, err
	}
	cdr.Variables = vars
	return cdr, nil
}

// ListCDRs returns records newest first, honoring the filter.
func (s *SQLiteStore) ListCDRs(ctx context.Context, filter CDRFilter) ([]*CDR, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var conditions []string
	var args []any

	if !filter.Since.IsZero() {
		conditions = append(conditions, "started_at >= ?")
		args = append(args, filter.Since.UTC().Format(time.RFC3339Nano))
	}
	if filter.Script != "" {
		conditions = append(conditions, "script = ?")
		args = append(args, filter.Script)
	}

	query := `
		SELECT id, channel, caller_id, script, remote_addr, started_at, ended_at, duration_ms, disposition, commands
		FROM cdr
	`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY started_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying cdrs: %w", err)
	}
	defer rows.Close()

	var cdrs []*CDR
	for rows.Next() {
		cdr, err := scanCDR(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning cdr: %w", err)
		}
		cdrs = append(cdrs, cdr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cdrs: %w", err)
	}
	return cdrs, nil
}

// loadVariables fetches the preamble snapshot for one record.
func (s *SQLiteStore) loadVariables(ctx context.Context, cdrID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM cdr_variables WHERE cdr_id = ?`, cdrID)
	if err != nil {
		return nil, fmt.Errorf("querying cdr variables: %w", err)
	}
	defer rows.Close()

	vars := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scanning cdr variable: %w", err)
		}
		vars[name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cdr variables: %w", err)
	}
	if len(vars) == 0 {
		return nil, nil
	}
	return vars, nil
}

// scanner covers both sql.Row and sql.Rows for scanCDR.
type scanner interface {
	Scan(dest ...any) error
}

func scanCDR(row scanner) (*CDR, error) {
	var cdr CDR
	var startedStr, endedStr string
	var durationMs int64

	err := row.Scan(
		&cdr.ID,
		&cdr.Channel,
		&cdr.CallerID,
		&cdr.Script,
		&cdr.RemoteAddr,
		&startedStr,
		&endedStr,
		&durationMs,
		&cdr.Disposition,
		&cdr.Commands,
	)
	if err != nil {
		return nil, err
	}

	cdr.StartedAt, err = time.Parse(time.RFC3339Nano, startedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing started_at: %w", err)
	}
	cdr.EndedAt, err = time.Parse(time.RFC3339Nano, endedStr)
	if err != nil {
		return nil, fmt.Errorf("parsing ended_at: %w", err)
	}
	cdr.Duration = time.Duration(durationMs) * time.Millisecond
	return &cdr, nil
}
