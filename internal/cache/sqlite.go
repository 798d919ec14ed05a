package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists entries in a single SQLite table. Flushes upsert only
// the changed rows inside one transaction.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens or creates a SQLite cache database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// createSchema creates the cache table if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS doi_cache (
			key TEXT PRIMARY KEY,
			pmid TEXT,
			pmcid TEXT,
			doi TEXT,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *SQLiteStore) Location() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads every row.
func (s *SQLiteStore) Load(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, pmid, pmcid, doi, status, created_at
		FROM doi_cache ORDER BY key
	`)
	if err != nil {
		return nil, fmt.Errorf("querying cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                Entry
			pmid, pmcid, doi sql.NullString
			status           string
			created          int64
		)
		if err := rows.Scan(&e.Key, &pmid, &pmcid, &doi, &status, &created); err != nil {
			return nil, fmt.Errorf("scanning cache row: %w", err)
		}
		e.PMID = pmid.String
		e.PMCID = pmcid.String
		e.DOI = doi.String
		e.Status = Status(status)
		e.Created = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cache rows: %w", err)
	}
	return entries, nil
}

// Upsert writes entries in one transaction, replacing rows with equal keys.
func (s *SQLiteStore) Upsert(ctx context.Context, entries []Entry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertEntries(ctx, tx, entries)
	})
}

// Replace deletes every row and writes entries in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, entries []Entry) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM doi_cache"); err != nil {
			return fmt.Errorf("clearing cache table: %w", err)
		}
		return insertEntries(ctx, tx, entries)
	})
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO doi_cache (key, pmid, pmcid, doi, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		_, err := stmt.ExecContext(ctx,
			e.Key,
			nullableStringValue(e.PMID),
			nullableStringValue(e.PMCID),
			nullableStringValue(e.DOI),
			string(e.Status),
			e.Created.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("inserting %s: %w", e.Key, err)
		}
	}
	return nil
}

// nullableStringValue converts a string to sql.NullString, treating empty as NULL.
func nullableStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
