// Package history provides a SQLite-backed play-history ledger. The
// control loop records every track it hands to the engine; the HTTP
// surface exposes the recent plays for dashboards.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"github.com/rs/zerolog/log"
)

const (
	// schemaVersion is the current database schema version.
	schemaVersion = "1"

	// DefaultDBPath is the default path for the history database.
	DefaultDBPath = "data/history.db"

	// dedupeWindow treats a repeated load of the same song within this
	// window as one play. Engine restarts and skip retries would
	// otherwise inflate play counts.
	dedupeWindow = 5 * time.Second
)

// Entry is one recorded play.
type Entry struct {
	SongID    int64     `json:"song_id"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Album     string    `json:"album"`
	PlayedAt  time.Time `json:"played_at"`
	PlayCount int       `json:"play_count"`
}

// Store persists play history in SQLite.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// Open opens the history database at path and initializes the schema.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultDBPath
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, path: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize history schema: %w", err)
	}

	log.Info().Str("path", path).Msg("History database opened")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS plays (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		song_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		artist TEXT NOT NULL DEFAULT '',
		album TEXT NOT NULL DEFAULT '',
		played_at TEXT NOT NULL,
		play_count INTEGER NOT NULL DEFAULT 1
	);

	CREATE TABLE IF NOT EXISTS history_meta (
		key TEXT PRIMARY KEY,
		value TEXT,
		updated_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_plays_song ON plays(song_id);
	CREATE INDEX IF NOT EXISTS idx_plays_played ON plays(played_at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT INTO history_meta (key, value, updated_at) VALUES ('schema_version', ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, schemaVersion, time.Now().UTC().Format(time.RFC3339))
	return err
}

// RecordPlay records that a song was handed to the engine. A repeat of
// the same song within the dedupe window bumps the play count of the
// existing row instead of inserting a duplicate.
func (s *Store) RecordPlay(songID int64, title, artist, album string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("history database not open")
	}

	now := time.Now().UTC()
	cutoff := now.Add(-dedupeWindow).Format(time.RFC3339)

	res, err := s.db.Exec(`
		UPDATE plays SET played_at = ?, play_count = play_count + 1
		WHERE id = (SELECT id FROM plays WHERE song_id = ? AND played_at >= ? ORDER BY played_at DESC LIMIT 1)
	`, now.Format(time.RFC3339), songID, cutoff)
	if err != nil {
		return fmt.Errorf("failed to update play history: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Debug().Int64("song_id", songID).Msg("Updated existing play history entry")
		return nil
	}

	_, err = s.db.Exec(`
		INSERT INTO plays (song_id, title, artist, album, played_at) VALUES (?, ?, ?, ?, ?)
	`, songID, title, artist, album, now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record play: %w", err)
	}

	log.Info().
		Int64("song_id", songID).
		Str("title", title).
		Msg("Recorded play")
	return nil
}

// Recent returns the most recent plays, newest first. A non-positive
// limit defaults to 50.
func (s *Store) Recent(limit int) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, fmt.Errorf("history database not open")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT song_id, title, artist, album, played_at, play_count
		FROM plays ORDER BY played_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query play history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var playedAt string
		if err := rows.Scan(&e.SongID, &e.Title, &e.Artist, &e.Album, &playedAt, &e.PlayCount); err != nil {
			return nil, err
		}
		e.PlayedAt, _ = time.Parse(time.RFC3339, playedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PlayCount returns the total number of plays recorded for a song.
func (s *Store) PlayCount(songID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return 0, fmt.Errorf("history database not open")
	}

	var count int
	err := s.db.QueryRow(
		"SELECT COALESCE(SUM(play_count), 0) FROM plays WHERE song_id = ?", songID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plays: %w", err)
	}
	return count, nil
}

// Clear removes all recorded plays but keeps the schema.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return fmt.Errorf("history database not open")
	}

	if _, err := s.db.Exec("DELETE FROM plays"); err != nil {
		return fmt.Errorf("failed to clear play history: %w", err)
	}
	log.Info().Msg("Play history cleared")
	return nil
}
