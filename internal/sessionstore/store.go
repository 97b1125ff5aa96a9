// Package sessionstore persists completed sleep sessions to SQLite so
// history survives restarts and outlives the cloud API's rolling
// intervals window. In-progress sessions are never stored; the bed
// package recomputes those live.
package sessionstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nugget/sleepside/internal/bed"
)

// Store writes completed sessions keyed on (user, session start). All
// public methods are safe for concurrent use (SQLite serializes
// writes).
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the session database at the given path.
// The schema is created automatically on first use.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sleep_sessions (
		user_id     TEXT NOT NULL,
		start_ts    TEXT NOT NULL,
		score       INTEGER NOT NULL,
		awake_sec   INTEGER NOT NULL,
		light_sec   INTEGER NOT NULL,
		deep_sec    INTEGER NOT NULL,
		bed_temp    REAL NOT NULL,
		room_temp   REAL NOT NULL,
		resp_rate   REAL NOT NULL,
		heart_rate  REAL NOT NULL,
		toss_turns  INTEGER NOT NULL,
		recorded_at TEXT NOT NULL,
		PRIMARY KEY (user_id, start_ts)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Session is one persisted completed sleep session.
type Session struct {
	UserID       string
	Start        time.Time
	Score        int
	Breakdown    bed.Breakdown
	BedTemp      float64
	RoomTemp     float64
	RespRate     float64
	HeartRate    float64
	TossAndTurns int
	RecordedAt   time.Time
}

// RecordCompleted upserts a completed session. Re-recording the same
// session start for a user overwrites the previous row, so refreshed
// upstream data (a rescored session) wins.
func (s *Store) RecordCompleted(userID string, sess *bed.LastSession) error {
	_, err := s.db.Exec(
		`INSERT INTO sleep_sessions (
			user_id, start_ts, score,
			awake_sec, light_sec, deep_sec,
			bed_temp, room_temp, resp_rate, heart_rate,
			toss_turns, recorded_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, start_ts) DO UPDATE SET
			score = excluded.score,
			awake_sec = excluded.awake_sec,
			light_sec = excluded.light_sec,
			deep_sec = excluded.deep_sec,
			bed_temp = excluded.bed_temp,
			room_temp = excluded.room_temp,
			resp_rate = excluded.resp_rate,
			heart_rate = excluded.heart_rate,
			toss_turns = excluded.toss_turns,
			recorded_at = excluded.recorded_at`,
		userID, sess.Date.Format(time.RFC3339), sess.Score,
		sess.Breakdown.Awake, sess.Breakdown.Light, sess.Breakdown.Deep,
		sess.BedTemp, sess.RoomTemp, sess.RespRate, sess.HeartRate,
		sess.TossAndTurns, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record session %s/%s: %w", userID, sess.Date.Format(time.RFC3339), err)
	}
	return nil
}

// Recent returns up to limit sessions for a user, newest first.
func (s *Store) Recent(userID string, limit int) ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT user_id, start_ts, score,
			awake_sec, light_sec, deep_sec,
			bed_temp, room_temp, resp_rate, heart_rate,
			toss_turns, recorded_at
		 FROM sleep_sessions
		 WHERE user_id = ?
		 ORDER BY start_ts DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent sessions %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var startTS, recordedAt string
		if err := rows.Scan(
			&sess.UserID, &startTS, &sess.Score,
			&sess.Breakdown.Awake, &sess.Breakdown.Light, &sess.Breakdown.Deep,
			&sess.BedTemp, &sess.RoomTemp, &sess.RespRate, &sess.HeartRate,
			&sess.TossAndTurns, &recordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session %s: %w", userID, err)
		}
		if sess.Start, err = time.Parse(time.RFC3339, startTS); err != nil {
			return nil, fmt.Errorf("parse start_ts %q: %w", startTS, err)
		}
		if sess.RecordedAt, err = time.Parse(time.RFC3339, recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at %q: %w", recordedAt, err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}
