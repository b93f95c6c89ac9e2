// Package leaderboard is a local SQLite score store ranking finalized
// sessions per reference clip.
package leaderboard

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"golang.org/x/text/unicode/norm"
	_ "modernc.org/sqlite"

	"github.com/lguibr/Mimeflow/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

const (
	// DefaultLimit is the leaderboard size when none is requested.
	DefaultLimit = 10
	// MaxNameRunes is the longest stored player name.
	MaxNameRunes = 15
	// AnonymousName replaces empty player names.
	AnonymousName = "Anonymous"

	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

var (
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrLocked is returned when another process holds the writer lock.
	ErrLocked = errors.New("leaderboard database is locked by another process")
	// ErrReadOnly is returned when writing through a read-only store.
	ErrReadOnly = errors.New("leaderboard opened read-only")
)

// Entry is one ranked score.
type Entry struct {
	Rank       int       `json:"rank"`
	SessionID  string    `json:"sessionId"`
	ClipID     string    `json:"clipId"`
	PlayerName string    `json:"playerName"`
	Score      int       `json:"score"`
	History    []int     `json:"history,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// ClipSummary aggregates the scores of one clip.
type ClipSummary struct {
	ClipID    string  `json:"clipId"`
	Sessions  int     `json:"sessions"`
	BestScore int     `json:"bestScore"`
	Average   float64 `json:"average"`
}

// Store manages leaderboard persistence backed by SQLite.
// A writable store holds an exclusive lock file next to the database.
type Store struct {
	db       *sql.DB
	path     string
	lock     *flock.Flock
	readOnly bool
}

// Open creates or opens the database at path for writing.
func Open(path string) (*Store, error) {
	return open(path, false)
}

// OpenReadOnly opens an existing database without taking the writer lock.
func OpenReadOnly(path string) (*Store, error) {
	return open(path, true)
}

func open(path string, readOnly bool) (*Store, error) {
	if path == "" {
		return nil, errors.New("leaderboard path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure leaderboard directory: %w", err)
	}

	var lock *flock.Flock
	if !readOnly {
		lock = flock.New(path + ".lock")
		ok, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrLocked, path)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		releaseLock(lock)
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			releaseLock(lock)
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, lock: lock, readOnly: readOnly}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		releaseLock(lock)
		return nil, err
	}
	return store, nil
}

func releaseLock(lock *flock.Flock) {
	if lock != nil {
		_ = lock.Unlock()
	}
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database and releases the writer lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	releaseLock(s.lock)
	return err
}

func (s *Store) initSchema(ctx context.Context) error {
	// Check if schema_version table exists (indicates an initialized database)
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		if s.readOnly {
			return fmt.Errorf("leaderboard database %s is not initialized", s.path)
		}
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the leaderboard database)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// SaveScore inserts a finalized record. A second record for the same
// session is ignored so replays of the final event stay idempotent.
func (s *Store) SaveScore(ctx context.Context, rec models.ScoreRecord) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if rec.SessionID == "" {
		return errors.New("record has no sessionId")
	}
	recordedAt, err := time.Parse(time.RFC3339, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("parse record timestamp: %w", err)
	}
	history := rec.History
	if history == nil {
		history = []int{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	return s.execWithRetry(ctx,
		`INSERT INTO scores (session_id, clip_id, player_name, score, history_json, recorded_at, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(session_id) DO NOTHING`,
		rec.SessionID,
		rec.ClipID,
		NormalizeName(rec.PlayerName),
		rec.Score,
		string(historyJSON),
		recordedAt.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
}

// Top returns the best scores for clipID, highest first, earliest first on ties.
// A non-positive limit uses DefaultLimit.
func (s *Store) Top(ctx context.Context, clipID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, clip_id, player_name, score, history_json, recorded_at
         FROM scores WHERE clip_id = ?
         ORDER BY score DESC, recorded_at ASC, session_id ASC
         LIMIT ?`,
		clipID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query top scores: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		e.Rank = len(out) + 1
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate top scores: %w", err)
	}
	return out, nil
}

// Get returns the stored entry for sessionID, or nil when absent.
func (s *Store) Get(ctx context.Context, sessionID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, clip_id, player_name, score, history_json, recorded_at
         FROM scores WHERE session_id = ?`, sessionID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Clips summarizes every clip with at least one score.
func (s *Store) Clips(ctx context.Context) ([]ClipSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT clip_id, COUNT(1), MAX(score), AVG(score)
         FROM scores GROUP BY clip_id ORDER BY COUNT(1) DESC, clip_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query clips: %w", err)
	}
	defer rows.Close()

	var out []ClipSummary
	for rows.Next() {
		var c ClipSummary
		if err := rows.Scan(&c.ClipID, &c.Sessions, &c.BestScore, &c.Average); err != nil {
			return nil, fmt.Errorf("scan clip: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clips: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e           Entry
		historyJSON string
		recordedAt  string
	)
	if err := r.Scan(&e.SessionID, &e.ClipID, &e.PlayerName, &e.Score, &historyJSON, &recordedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &e.History); err != nil {
		return Entry{}, fmt.Errorf("decode history for %s: %w", e.SessionID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, recordedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse recorded_at for %s: %w", e.SessionID, err)
	}
	e.RecordedAt = t
	return e, nil
}

// NormalizeName trims, NFC-normalizes and truncates a display name to MaxNameRunes.
func NormalizeName(name string) string {
	name = norm.NFC.String(strings.TrimSpace(name))
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, name)
	if name == "" {
		return AnonymousName
	}
	if utf8.RuneCountInString(name) <= MaxNameRunes {
		return name
	}
	runes := []rune(name)
	return strings.TrimSpace(string(runes[:MaxNameRunes]))
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}
