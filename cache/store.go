// Package cache is a content-addressed store for emitted startup
// programs. Programs are keyed by the SHA-256 of their disassembly, so
// an unchanged build step hits the cache instead of re-rendering.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/replay/gen"
)

var log = commonlog.GetLogger("replay.cache")

const schema = `
CREATE TABLE IF NOT EXISTS programs (
	hash       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	build_step TEXT NOT NULL,
	listing    TEXT NOT NULL,
	source     BLOB,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS programs_by_name ON programs(name);
`

// Entry is one cached program.
type Entry struct {
	Hash      string
	Name      string
	BuildStep string
	Listing   string
	Source    []byte
	CreatedAt time.Time
}

// Store is a sqlite-backed program cache.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) a store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: migrate %s: %w", path, err)
	}
	log.Debugf("opened program cache at %s", path)
	return &Store{db: db}, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Hash computes the content address of a program listing.
func Hash(listing string) string {
	sum := sha256.Sum256([]byte(listing))
	return hex.EncodeToString(sum[:])
}

// Put stores a program under its content hash and returns the hash.
// Storing the same listing again is a no-op. source may be nil when no
// Go rendering was requested.
func (s *Store) Put(p *gen.Program, buildStep string, source []byte) (string, error) {
	listing := gen.Disassemble(p)
	hash := Hash(listing)
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO programs (hash, name, build_step, listing, source, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		hash, p.Name, buildStep, listing, source, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", fmt.Errorf("cache: put %s: %w", p.Name, err)
	}
	return hash, nil
}

// ErrNotFound reports a miss.
var ErrNotFound = errors.New("cache: program not found")

// Get returns the entry for a content hash.
func (s *Store) Get(hash string) (*Entry, error) {
	row := s.db.QueryRow(
		`SELECT hash, name, build_step, listing, source, created_at FROM programs WHERE hash = ?`, hash)
	return scanEntry(row)
}

// GetByName returns the most recently stored entry for a program name.
func (s *Store) GetByName(name string) (*Entry, error) {
	row := s.db.QueryRow(
		`SELECT hash, name, build_step, listing, source, created_at
		 FROM programs WHERE name = ? ORDER BY created_at DESC LIMIT 1`, name)
	return scanEntry(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var e Entry
	var created string
	err := row.Scan(&e.Hash, &e.Name, &e.BuildStep, &e.Listing, &e.Source, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: scan: %w", err)
	}
	if t, perr := time.Parse(time.RFC3339, created); perr == nil {
		e.CreatedAt = t
	}
	return &e, nil
}

// List returns all entries, newest first, without listings or sources.
func (s *Store) List() ([]*Entry, error) {
	rows, err := s.db.Query(
		`SELECT hash, name, build_step, created_at FROM programs ORDER BY created_at DESC, hash`)
	if err != nil {
		return nil, fmt.Errorf("cache: list: %w", err)
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.Hash, &e.Name, &e.BuildStep, &created); err != nil {
			return nil, fmt.Errorf("cache: scan: %w", err)
		}
		if t, perr := time.Parse(time.RFC3339, created); perr == nil {
			e.CreatedAt = t
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
