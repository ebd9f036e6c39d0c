// Package journal keeps a SQLite history of accepted charge state transitions.
package journal

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ryansname/chargectl/src/charge"
)

const currentSchemaVersion = 1

// Entry is one journaled transition.
type Entry struct {
	ID         string
	From       string
	To         string
	At         time.Time
	Connection string
	Level      int // -1 if no sample had been seen
	Charging   bool
}

// Journal stores transitions. Safe for concurrent use.
type Journal struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path. ":memory:" works for tests.
func Open(path string) (*Journal, error) {
	log.Printf("journal: opening database at %s\n", path)

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	j := &Journal{db: db}
	if err := j.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := j.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := j.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := j.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

func (j *Journal) migrateToV1() error {
	log.Println("journal: applying migration to schema version 1")

	const transitionsTable = `
		CREATE TABLE IF NOT EXISTS transitions (
			id TEXT PRIMARY KEY,
			from_state TEXT NOT NULL,
			to_state TEXT NOT NULL,
			at TEXT NOT NULL,
			connection TEXT NOT NULL,
			level INTEGER NOT NULL,
			charging INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transitions_to ON transitions(to_state);
	`
	if _, err := j.db.Exec(transitionsTable); err != nil {
		return fmt.Errorf("create transitions table: %w", err)
	}

	_, err := j.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		currentSchemaVersion,
		time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}

// Record appends a transition and returns its entry.
func (j *Journal) Record(t charge.Transition) (Entry, error) {
	e := Entry{
		ID:         uuid.NewString(),
		From:       t.From.String(),
		To:         t.To.String(),
		At:         t.At,
		Connection: t.Connection.String(),
		Level:      -1,
		Charging:   t.Sample.IsCharging,
	}
	if t.HaveSample {
		e.Level = t.Sample.LevelPercent
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(
		`INSERT INTO transitions (id, from_state, to_state, at, connection, level, charging)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.From, e.To, e.At.UTC().Format(time.RFC3339Nano), e.Connection, e.Level, e.Charging,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert transition: %w", err)
	}
	return e, nil
}

// Recent returns up to n entries, newest first.
func (j *Journal) Recent(n int) ([]Entry, error) {
	if n <= 0 {
		return nil, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	rows, err := j.db.Query(
		`SELECT id, from_state, to_state, at, connection, level, charging
		 FROM transitions ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at string
		if err := rows.Scan(&e.ID, &e.From, &e.To, &at, &e.Connection, &e.Level, &e.Charging); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse transition time %q: %w", at, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountTo returns how many transitions entered state.
func (j *Journal) CountTo(state charge.ControlState) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var n int
	err := j.db.QueryRow("SELECT COUNT(*) FROM transitions WHERE to_state = ?", state.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transitions: %w", err)
	}
	return n, nil
}

func (j *Journal) Close() error {
	log.Println("journal: closing database")
	return j.db.Close()
}
