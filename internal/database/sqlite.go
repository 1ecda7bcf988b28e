// Package database persists the library registry in SQLite.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pd-go/internal/database/migrations"
	"pd-go/internal/pd"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const libraryCounter = "library_id"

// SQLiteRegistryStore implements pd.RegistryStore using SQLite.
type SQLiteRegistryStore struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

var _ pd.RegistryStore = (*SQLiteRegistryStore)(nil)

// NewSQLiteRegistryStore opens the database at path, applying pending
// migrations. path can be a file path or ":memory:".
func NewSQLiteRegistryStore(path string) (*SQLiteRegistryStore, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	return &SQLiteRegistryStore{db: db, path: path, now: time.Now}, nil
}

// NewSQLiteRegistryStoreFromDB wraps an existing, migrated connection.
func NewSQLiteRegistryStoreFromDB(db *sql.DB) *SQLiteRegistryStore {
	return &SQLiteRegistryStore{db: db, now: time.Now}
}

// OpenConnection opens and configures a SQLite database connection with appropriate PRAGMAs.
// In-memory databases are limited to one connection, since every connection
// would otherwise see its own empty database.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return db, nil
}

// NextLibraryID increments and returns the persisted library id counter.
func (s *SQLiteRegistryStore) NextLibraryID() (uint32, error) {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE counters SET value = value + 1 WHERE name = ?", libraryCounter); err != nil {
		return 0, fmt.Errorf("incrementing library id: %w", err)
	}
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT value FROM counters WHERE name = ?", libraryCounter).Scan(&id); err != nil {
		return 0, fmt.Errorf("reading library id: %w", err)
	}
	if id <= 0 || id > int64(^uint32(0)) {
		return 0, fmt.Errorf("library id counter out of range: %d", id)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction: %w", err)
	}
	return uint32(id), nil
}

// SaveLibrary inserts or replaces a property list.
func (s *SQLiteRegistryStore) SaveLibrary(pl pd.PropertyList) error {
	spec, err := json.Marshal(pl.Spec)
	if err != nil {
		return fmt.Errorf("encoding library spec: %w", err)
	}
	now := s.now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO libraries (id, name, spec, location, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			spec = excluded.spec,
			location = excluded.location,
			updated_at = excluded.updated_at`,
		pl.ID, pl.Name, string(spec), pl.Spec.String(), now, now)
	if err != nil {
		return fmt.Errorf("saving library %d: %w", pl.ID, err)
	}
	return nil
}

// DeleteLibrary removes a property list.
func (s *SQLiteRegistryStore) DeleteLibrary(id uint32) error {
	if _, err := s.db.Exec("DELETE FROM libraries WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting library %d: %w", id, err)
	}
	return nil
}

// ListLibraries returns every persisted property list ordered by id.
func (s *SQLiteRegistryStore) ListLibraries() ([]pd.PropertyList, error) {
	rows, err := s.db.Query("SELECT id, name, spec FROM libraries ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing libraries: %w", err)
	}
	defer rows.Close()

	var out []pd.PropertyList
	for rows.Next() {
		var (
			pl   pd.PropertyList
			spec string
		)
		if err := rows.Scan(&pl.ID, &pl.Name, &spec); err != nil {
			return nil, fmt.Errorf("scanning library: %w", err)
		}
		if err := json.Unmarshal([]byte(spec), &pl.Spec); err != nil {
			return nil, fmt.Errorf("decoding spec of library %d: %w", pl.ID, err)
		}
		out = append(out, pl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing libraries: %w", err)
	}
	return out, nil
}

// FindLibraryByLocation returns the property list whose location string
// equals location, or nil if none exists.
func (s *SQLiteRegistryStore) FindLibraryByLocation(location string) (*pd.PropertyList, error) {
	var (
		pl   pd.PropertyList
		spec string
	)
	err := s.db.QueryRow("SELECT id, name, spec FROM libraries WHERE location = ? ORDER BY id LIMIT 1", location).
		Scan(&pl.ID, &pl.Name, &spec)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("finding library by location: %w", err)
	}
	if err := json.Unmarshal([]byte(spec), &pl.Spec); err != nil {
		return nil, fmt.Errorf("decoding spec of library %d: %w", pl.ID, err)
	}
	return &pl, nil
}

// Close closes the underlying connection.
func (s *SQLiteRegistryStore) Close() error {
	return s.db.Close()
}
