package snapshot

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/lockstep-sim/lockstep/sim"
)

// SQLiteStore keeps compressed snapshots in a SQLite database, one row per
// (session, tick). Several sessions may share a database file.
type SQLiteStore struct {
	db      *sql.DB
	session string
}

var _ sim.SnapshotStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and scopes the store to session.
func OpenSQLite(path string, session uuid.UUID) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db, session: session.String()}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS snapshots (
			session TEXT NOT NULL,
			tick INTEGER NOT NULL,
			raw_size INTEGER NOT NULL,
			blob BLOB NOT NULL,
			PRIMARY KEY (session, tick)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Session returns the session identifier rows are stored under.
func (s *SQLiteStore) Session() string { return s.session }

// Put stores blob for tick, replacing an earlier snapshot of the same tick.
func (s *SQLiteStore) Put(tick int64, blob []byte) error {
	z, err := compress(blob)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO snapshots(session, tick, raw_size, blob) VALUES(?, ?, ?, ?)`,
		s.session, tick, len(blob), z)
	if err != nil {
		return fmt.Errorf("insert snapshot at tick %d: %w", tick, err)
	}
	return nil
}

// LatestAtOrBefore returns the newest snapshot taken at or before tick.
func (s *SQLiteStore) LatestAtOrBefore(tick int64) (int64, []byte, error) {
	var (
		at int64
		z  []byte
	)
	err := s.db.QueryRow(`SELECT tick, blob FROM snapshots WHERE session = ? AND tick <= ? ORDER BY tick DESC LIMIT 1`,
		s.session, tick).Scan(&at, &z)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil, fmt.Errorf("tick %d: %w", tick, sim.ErrNoSnapshot)
	}
	if err != nil {
		return 0, nil, fmt.Errorf("query snapshot at or before %d: %w", tick, err)
	}
	blob, err := decompress(z)
	if err != nil {
		return 0, nil, fmt.Errorf("snapshot at tick %d: %w", at, err)
	}
	return at, blob, nil
}

// Prune keeps the baseline and the newest keep snapshots of the session.
func (s *SQLiteStore) Prune(keep int) error {
	if keep < 0 {
		return fmt.Errorf("prune: keep must be >= 0, got %d", keep)
	}
	_, err := s.db.Exec(`DELETE FROM snapshots
		WHERE session = ?1
		AND tick > (SELECT MIN(tick) FROM snapshots WHERE session = ?1)
		AND tick NOT IN (SELECT tick FROM snapshots WHERE session = ?1 ORDER BY tick DESC LIMIT ?2)`,
		s.session, keep)
	if err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

// Ticks returns the session's stored ticks in ascending order.
func (s *SQLiteStore) Ticks() ([]int64, error) {
	rows, err := s.db.Query(`SELECT tick FROM snapshots WHERE session = ? ORDER BY tick`, s.session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var t int64
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
