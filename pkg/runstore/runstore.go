// Package runstore keeps runs that are paused on input() in SQLite until the
// player answers or the entry expires.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/codekids/pyquest/pkg/logger"
	"github.com/codekids/pyquest/pkg/minipy"
)

// ErrNotFound is returned for unknown, consumed or expired runs.
var ErrNotFound = errors.New("suspended run not found")

// Run is a stored suspension.
type Run struct {
	ID         string
	SessionID  string
	LessonID   string
	Suspension *minipy.Suspension
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Store is a SQLite-backed table of suspended runs.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path. ":memory:" is accepted for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps :memory: databases alive and serializes writers
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	logger.DatabaseDebug("run store opened at %s", path)
	return s, nil
}

func (s *Store) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS suspended_runs (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			lesson_id TEXT NOT NULL,
			suspension TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_suspended_runs_expires ON suspended_runs(expires_at)`,
	}
	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save stores a suspension for ttl and returns its new id.
func (s *Store) Save(ctx context.Context, sessionID, lessonID string, susp *minipy.Suspension, ttl time.Duration) (string, error) {
	if susp == nil {
		return "", fmt.Errorf("nil suspension")
	}
	data, err := json.Marshal(susp)
	if err != nil {
		return "", fmt.Errorf("failed to encode suspension: %w", err)
	}
	id := uuid.New().String()
	now := s.now()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO suspended_runs (id, session_id, lesson_id, suspension, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, sessionID, lessonID, string(data), now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		logger.DatabaseError("saving run for session %s failed: %v", sessionID, err)
		return "", fmt.Errorf("failed to save run: %w", err)
	}
	logger.DatabaseDebug("saved run %s (session %s, lesson %s)", id, sessionID, lessonID)
	return id, nil
}

// Load returns a stored run that has not expired.
func (s *Store) Load(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	var (
		run              = &Run{ID: id}
		data             string
		created, expires int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, lesson_id, suspension, created_at, expires_at
		FROM suspended_runs WHERE id = ? AND expires_at > ?
	`, id, s.now().UnixMilli()).Scan(&run.SessionID, &run.LessonID, &data, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	run.Suspension = &minipy.Suspension{}
	if err := json.Unmarshal([]byte(data), run.Suspension); err != nil {
		return nil, fmt.Errorf("failed to decode suspension: %w", err)
	}
	run.CreatedAt = time.UnixMilli(created)
	run.ExpiresAt = time.UnixMilli(expires)
	return run, nil
}

// Take loads a run and deletes it. Only one caller can take a given run.
func (s *Store) Take(ctx context.Context, id string) (*Run, error) {
	run, err := s.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	removed, err := s.delete(ctx, id)
	if err != nil {
		return nil, err
	}
	if !removed {
		// someone else took it between the two statements
		return nil, ErrNotFound
	}
	return run, nil
}

// Delete removes a run. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.delete(ctx, id)
	return err
}

func (s *Store) delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suspended_runs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// PurgeExpired deletes expired runs and reports how many were removed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM suspended_runs WHERE expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge runs: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		logger.DatabaseDebug("purged %d expired runs", n)
	}
	return n, err
}

// Count returns the number of stored runs, expired ones included.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM suspended_runs`).Scan(&n)
	return n, err
}

// RunPurger calls PurgeExpired every interval until ctx is done.
func (s *Store) RunPurger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PurgeExpired(ctx); err != nil && ctx.Err() == nil {
				logger.DatabaseError("purge failed: %v", err)
			}
		}
	}
}
