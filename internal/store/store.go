// Package store keeps a queryable SQLite index of recording sessions and
// pitches alongside the on-disk manifest.json files recording produces, so
// get_recent_pitches-style queries don't need to walk the filesystem and
// re-parse every manifest on each call.
package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps a SQLite connection opened in WAL mode.
type Store struct {
	db *sql.DB
}

// SessionRecord indexes one recording session.
type SessionRecord struct {
	SessionID  string
	Dir        string
	CreatedUTC time.Time
	Codec      string
	FPS        int
	PitchCount int
}

// PitchRecord indexes one finished pitch.
type PitchRecord struct {
	SessionID      string
	PitchIndex     int
	Dir            string
	CreatedUTC     time.Time
	ObservationCount int
	SpeedMph       float64
}

// New opens (creating if necessary) the SQLite database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enabling foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the sessions/pitches tables if they do not already
// exist, the same idempotent "CREATE TABLE IF NOT EXISTS" + best-effort
// ALTER TABLE migration style as the teacher's database layer.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			dir TEXT NOT NULL,
			created_utc DATETIME NOT NULL,
			codec TEXT,
			fps INTEGER,
			pitch_count INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS pitches (
			session_id TEXT NOT NULL,
			pitch_index INTEGER NOT NULL,
			dir TEXT NOT NULL,
			created_utc DATETIME NOT NULL,
			observation_count INTEGER DEFAULT 0,
			speed_mph REAL DEFAULT 0,
			PRIMARY KEY (session_id, pitch_index),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pitches_session_time ON pitches(session_id, created_utc DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_pitches_time ON pitches(created_utc DESC)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("store: migration failed: %w", err)
		}
	}
	return nil
}

// SaveSession inserts or updates a session row.
func (s *Store) SaveSession(r SessionRecord) error {
	query := `INSERT INTO sessions (session_id, dir, created_utc, codec, fps, pitch_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			dir = excluded.dir,
			codec = excluded.codec,
			fps = excluded.fps,
			pitch_count = excluded.pitch_count`
	_, err := s.db.Exec(query, r.SessionID, r.Dir, r.CreatedUTC, r.Codec, r.FPS, r.PitchCount)
	if err != nil {
		return fmt.Errorf("store: saving session: %w", err)
	}
	return nil
}

// SavePitch inserts or updates a pitch row.
func (s *Store) SavePitch(r PitchRecord) error {
	query := `INSERT INTO pitches (session_id, pitch_index, dir, created_utc, observation_count, speed_mph)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, pitch_index) DO UPDATE SET
			dir = excluded.dir,
			observation_count = excluded.observation_count,
			speed_mph = excluded.speed_mph`
	_, err := s.db.Exec(query, r.SessionID, r.PitchIndex, r.Dir, r.CreatedUTC, r.ObservationCount, r.SpeedMph)
	if err != nil {
		return fmt.Errorf("store: saving pitch: %w", err)
	}
	return nil
}

// RecentPitches returns the most recently created pitches across all
// sessions, newest first, bounded by limit.
func (s *Store) RecentPitches(limit int) ([]PitchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT session_id, pitch_index, dir, created_utc, observation_count, speed_mph
		 FROM pitches ORDER BY created_utc DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: querying recent pitches: %w", err)
	}
	defer rows.Close()

	var out []PitchRecord
	for rows.Next() {
		var r PitchRecord
		if err := rows.Scan(&r.SessionID, &r.PitchIndex, &r.Dir, &r.CreatedUTC, &r.ObservationCount, &r.SpeedMph); err != nil {
			return nil, fmt.Errorf("store: scanning pitch row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetSession retrieves a session by ID, or nil if not found.
func (s *Store) GetSession(sessionID string) (*SessionRecord, error) {
	query := `SELECT session_id, dir, created_utc, codec, fps, pitch_count FROM sessions WHERE session_id = ?`
	var r SessionRecord
	err := s.db.QueryRow(query, sessionID).Scan(&r.SessionID, &r.Dir, &r.CreatedUTC, &r.Codec, &r.FPS, &r.PitchCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: getting session: %w", err)
	}
	return &r, nil
}
