// Package store keeps compiled programs and a history of their runs in a
// SQLite database.
package store

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/r0vm/pkg/s0"
)

var log = commonlog.GetLogger("r0vm.store")

// ErrProgramNotFound indicates no program has the requested hash.
var ErrProgramNotFound = errors.New("program not found")

const schema = `
CREATE TABLE IF NOT EXISTS programs (
	hash       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	data       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	program    TEXT NOT NULL REFERENCES programs(hash),
	status     TEXT NOT NULL,
	error      TEXT NOT NULL,
	steps      INTEGER NOT NULL,
	started_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_by_program ON runs(program, started_at);
`

// Entry describes a stored program.
type Entry struct {
	Hash      string
	Name      string
	Size      int
	CreatedAt time.Time
}

// Status is the outcome of a run.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFault   Status = "fault"
	StatusStopped Status = "stopped"
)

// Run is one recorded execution of a stored program.
type Run struct {
	ID        string
	Program   string
	Status    Status
	Error     string
	Steps     uint64
	StartedAt time.Time
}

// NewRun starts a run record for program with a fresh id.
func NewRun(program string) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Program:   program,
		StartedAt: time.Now(),
	}
}

// Store handles SQLite storage for programs and runs.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
}

// Open opens or creates the database at dbPath.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
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

	log.Debugf("opened %s", dbPath)
	return &Store{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// HashString returns the hex form of a program's content hash.
func HashString(p *s0.Program) (string, error) {
	sum, err := s0.Hash(p)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:]), nil
}

// Put stores p under name and returns its content hash. Storing the same
// program again keeps the first name and timestamp.
func (s *Store) Put(name string, p *s0.Program) (string, error) {
	data, err := s0.EncodeCBOR(p)
	if err != nil {
		return "", fmt.Errorf("encoding program: %w", err)
	}
	hash, err := HashString(p)
	if err != nil {
		return "", fmt.Errorf("hashing program: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(
		"INSERT OR IGNORE INTO programs (hash, name, data, created_at) VALUES (?, ?, ?, ?)",
		hash, name, data, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("saving program: %w", err)
	}
	log.Infof("stored %s as %s", name, hash[:12])
	return hash, nil
}

// Get loads the program with the given hash. A unique hash prefix is
// accepted.
func (s *Store) Get(hash string) (*s0.Program, error) {
	full, err := s.resolve(hash)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = s.db.QueryRow("SELECT data FROM programs WHERE hash = ?", full).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProgramNotFound
		}
		return nil, fmt.Errorf("querying program: %w", err)
	}
	return s0.DecodeCBOR(data)
}

// resolve expands a hash prefix to the single stored hash it names.
func (s *Store) resolve(prefix string) (string, error) {
	if prefix == "" {
		return "", ErrProgramNotFound
	}
	rows, err := s.db.Query(
		"SELECT hash FROM programs WHERE substr(hash, 1, ?) = ? LIMIT 2",
		len(prefix), prefix,
	)
	if err != nil {
		return "", fmt.Errorf("querying program: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return "", fmt.Errorf("scanning hash: %w", err)
		}
		matches = append(matches, h)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("querying program: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", ErrProgramNotFound
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("hash prefix %q is ambiguous", prefix)
	}
}

// List returns every stored program, oldest first.
func (s *Store) List() ([]Entry, error) {
	rows, err := s.db.Query(
		"SELECT hash, name, length(data), created_at FROM programs ORDER BY created_at, hash",
	)
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.Hash, &e.Name, &e.Size, &created); err != nil {
			return nil, fmt.Errorf("scanning program: %w", err)
		}
		e.CreatedAt = time.Unix(0, created)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordRun saves or updates a run.
func (s *Store) RecordRun(r *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO runs (id, program, status, error, steps, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Program, string(r.Status), r.Error, int64(r.Steps), r.StartedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	log.Debugf("run %s: %s after %d steps", r.ID, r.Status, r.Steps)
	return nil
}

// Runs returns the runs of the program with the given hash, oldest first.
func (s *Store) Runs(hash string) ([]Run, error) {
	full, err := s.resolve(hash)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(
		`SELECT id, program, status, error, steps, started_at FROM runs
		WHERE program = ? ORDER BY started_at, id`,
		full,
	)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		var steps, started int64
		if err := rows.Scan(&r.ID, &r.Program, &status, &r.Error, &steps, &started); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = Status(status)
		r.Steps = uint64(steps)
		r.StartedAt = time.Unix(0, started)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
