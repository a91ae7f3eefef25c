package cache

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	_ "modernc.org/sqlite"
)

// Entry records the last processed content of one source artifact.
type Entry struct {
	SourceKey   string
	Fingerprint string
	LastSeen    time.Time
}

// Store is the artifact cache index. Entries are loaded from SQLite when the
// store is opened, mutated in memory during the run, and written back in a
// single transaction by Persist — never as ambient global state, and never
// half-written: an interrupted run leaves the previous persisted state
// intact.
type Store struct {
	db    *sql.DB
	clock clockwork.Clock

	mu      sync.Mutex
	entries map[string]Entry
	dirty   bool
}

// Open opens (creating if necessary) the cache database at path and loads
// all entries into memory.
func Open(path string, clk clockwork.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS cache_entries (
			source_key  TEXT PRIMARY KEY,
			fingerprint TEXT NOT NULL,
			last_seen   TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	s := &Store{db: db, clock: clk, entries: make(map[string]Entry)}
	if err := s.load(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT source_key, fingerprint, last_seen FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("load cache entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var lastSeen string
		if err := rows.Scan(&e.SourceKey, &e.Fingerprint, &lastSeen); err != nil {
			return fmt.Errorf("scan cache entry: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, lastSeen); err == nil {
			e.LastSeen = t
		}
		s.entries[e.SourceKey] = e
	}
	return rows.Err()
}

// ShouldProcess reports whether the artifact behind key needs the full
// downstream pipeline. Any mismatch — including "never seen" — returns true;
// callers must Record only after processing succeeds, so a crash mid-run
// cannot mark unprocessed output as done.
func (s *Store) ShouldProcess(key, fingerprint string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return !ok || e.Fingerprint != fingerprint
}

// Record marks an artifact as processed with the given fingerprint.
func (s *Store) Record(key, fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = Entry{
		SourceKey:   key,
		Fingerprint: fingerprint,
		LastSeen:    s.clock.Now().UTC(),
	}
	s.dirty = true
}

// Touch refreshes last_seen for an artifact that was seen but skipped, so
// retention can distinguish stale entries from recently confirmed ones.
func (s *Store) Touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return
	}
	e.LastSeen = s.clock.Now().UTC()
	s.entries[key] = e
	s.dirty = true
}

// Forget drops the entry for key, if any. Used by the retention sweeper
// after an artifact file has been successfully deleted.
func (s *Store) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; ok {
		delete(s.entries, key)
		s.dirty = true
	}
}

// Lookup returns the entry for key, if present.
func (s *Store) Lookup(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return e, ok
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Persist writes the in-memory index back to SQLite in one transaction.
// It is a no-op when nothing changed since load or the last Persist.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(`DELETE FROM cache_entries`); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO cache_entries (source_key, fingerprint, last_seen) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	defer stmt.Close()

	for _, e := range s.entries {
		if _, err := stmt.Exec(e.SourceKey, e.Fingerprint, e.LastSeen.Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("persist cache entry %s: %w", e.SourceKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("persist cache: %w", err)
	}
	s.dirty = false
	return nil
}

// Close closes the underlying database without persisting.
func (s *Store) Close() error {
	return s.db.Close()
}
