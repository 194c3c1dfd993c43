// Package store persists verification results for a compiler backend in a
// SQLite database. Method records are stored as canonical CBOR.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/dexverify/verifier"
)

var log = commonlog.GetLogger("dexverify.store")

// ErrMethodNotFound indicates the requested method has no stored record.
var ErrMethodNotFound = errors.New("method not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	created TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS methods (
	location TEXT NOT NULL,
	idx INTEGER NOT NULL,
	class TEXT NOT NULL,
	method TEXT NOT NULL,
	kind TEXT NOT NULL,
	session TEXT NOT NULL,
	payload BLOB NOT NULL,
	PRIMARY KEY (location, idx)
);
CREATE TABLE IF NOT EXISTS rejected (
	location TEXT NOT NULL,
	class TEXT NOT NULL,
	session TEXT NOT NULL,
	PRIMARY KEY (location, class)
);
`

// Store is a results database.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save writes every method record and rejected class of a session in one
// transaction. Existing rows for the same method or class are replaced.
func (s *Store) Save(ctx context.Context, session string, results *verifier.Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO sessions (id) VALUES (?)", session); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	records := results.Methods()
	for _, rec := range records {
		payload, err := MarshalRecord(rec)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", rec.Method, err)
		}
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO methods (location, idx, class, method, kind, session, payload) VALUES (?, ?, ?, ?, ?, ?, ?)",
			rec.Ref.Location, rec.Ref.Index, rec.Class, rec.Method, rec.Outcome.String(), session, payload)
		if err != nil {
			return fmt.Errorf("saving %s: %w", rec.Method, err)
		}
	}
	rejected := results.RejectedClasses()
	for _, ref := range rejected {
		_, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO rejected (location, class, session) VALUES (?, ?, ?)",
			ref.Location, ref.Descriptor, session)
		if err != nil {
			return fmt.Errorf("saving rejected class %s: %w", ref, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing session %s: %w", session, err)
	}
	log.Infof("saved session %s: %d methods, %d rejected classes to %s", session, len(records), len(rejected), s.path)
	return nil
}

// LoadMethod returns the stored record of a method.
func (s *Store) LoadMethod(ctx context.Context, ref verifier.MethodRef) (*verifier.MethodRecord, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM methods WHERE location = ? AND idx = ?", ref.Location, ref.Index).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, ref)
		}
		return nil, fmt.Errorf("querying method %s: %w", ref, err)
	}
	return UnmarshalRecord(payload)
}

// MethodsOfClass returns the stored records of a class's methods, ordered by
// method index.
func (s *Store) MethodsOfClass(ctx context.Context, class verifier.ClassRef) ([]*verifier.MethodRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT payload FROM methods WHERE location = ? AND class = ? ORDER BY idx", class.Location, class.Descriptor)
	if err != nil {
		return nil, fmt.Errorf("querying methods of %s: %w", class, err)
	}
	defer rows.Close()

	var recs []*verifier.MethodRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scanning method: %w", err)
		}
		rec, err := UnmarshalRecord(payload)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RejectedClasses returns every rejected class, ordered by location and
// descriptor.
func (s *Store) RejectedClasses(ctx context.Context) ([]verifier.ClassRef, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT location, class FROM rejected ORDER BY location, class")
	if err != nil {
		return nil, fmt.Errorf("querying rejected classes: %w", err)
	}
	defer rows.Close()

	var refs []verifier.ClassRef
	for rows.Next() {
		var ref verifier.ClassRef
		if err := rows.Scan(&ref.Location, &ref.Descriptor); err != nil {
			return nil, fmt.Errorf("scanning rejected class: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// Sessions returns the stored session ids, oldest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sessions ORDER BY created, rowid")
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
