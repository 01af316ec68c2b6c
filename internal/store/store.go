// Package store implements the Metadata Store Adapter: a relational,
// transactional catalog of recordings backed by SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/camerarecorder/streamrecorder/internal/common"
	"github.com/camerarecorder/streamrecorder/internal/logging"
)

var _ common.Stoppable = (*Store)(nil)

// Status is one of the three terminal-or-in-progress recording states.
type Status string

const (
	StatusRecording Status = "RECORDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Recording is one row of the recordings table.
type Recording struct {
	ID              string
	FileName        string
	FilePath        string
	StartTime       time.Time
	EndTime         sql.NullTime
	DurationSeconds sql.NullInt64
	FileSizeBytes   sql.NullInt64
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ErrNotFound is returned by Get/MarkCompleted/MarkFailed when the id is
// unknown to the catalog.
var ErrNotFound = errors.New("store: recording not found")

// Store is the Metadata Store Adapter.
type Store struct {
	db     *sql.DB
	logger *logging.Logger
}

// Config mirrors the pack's "mandatory PRAGMAs belong in the DSN, not in
// ad-hoc Exec calls after Open" convention.
type Config struct {
	BusyTimeout time.Duration
}

// DefaultConfig returns sane defaults for a single-writer embedded catalog.
func DefaultConfig() Config {
	return Config{BusyTimeout: 5 * time.Second}
}

// Open opens (creating if necessary) the SQLite database at dbPath, applies
// the schema, and runs crash-reconciliation: every row left in RECORDING
// status is a leftover from a crash and is transitioned to FAILED.
func Open(dbPath string, cfg Config, logger *logging.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; modernc.org/sqlite serializes writes anyway
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	n, err := s.reconcile(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: reconcile: %w", err)
	}
	if n > 0 {
		s.logger.WithField("count", n).Warn("reconciled stale RECORDING rows to FAILED on startup")
	}

	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS recordings (
		id TEXT PRIMARY KEY,
		file_name TEXT NOT NULL,
		file_path TEXT NOT NULL UNIQUE,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		duration_seconds INTEGER,
		file_size_bytes INTEGER,
		status TEXT NOT NULL CHECK (status IN ('RECORDING','COMPLETED','FAILED')),
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_start_time ON recordings(start_time DESC);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// reconcile transitions every RECORDING row to FAILED, returning how many
// rows were affected.
func (s *Store) reconcile(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE status = ?`,
		StatusFailed, StatusRecording)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Stop implements common.Stoppable so the store can be shut down through the
// same uniform contract as the rest of the engine's long-lived services. The
// close itself is synchronous and ctx carries no cancellation point into
// database/sql.DB.Close, but honoring the interface keeps main's shutdown
// sequence expressed in one vocabulary end to end.
func (s *Store) Stop(ctx context.Context) error {
	return s.Close()
}

// Create inserts a new RECORDING row. file_path uniqueness is enforced by
// the schema; a duplicate path surfaces as a constraint violation error.
func (s *Store) Create(ctx context.Context, id, fileName, filePath string, startTime time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (id, file_name, file_path, start_time, status) VALUES (?, ?, ?, ?, ?)`,
		id, fileName, filePath, startTime, StatusRecording)
	if err != nil {
		return fmt.Errorf("store: create: %w", err)
	}
	return nil
}

// MarkCompleted transitions a recording to COMPLETED. It is a no-op if the
// recording is already in a terminal state.
func (s *Store) MarkCompleted(ctx context.Context, id string, end time.Time, durationSeconds, fileSizeBytes int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET status = ?, end_time = ?, duration_seconds = ?, file_size_bytes = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		StatusCompleted, end, durationSeconds, fileSizeBytes, id, StatusRecording)
	if err != nil {
		return fmt.Errorf("store: mark_completed: %w", err)
	}
	return s.requireExists(ctx, id, res)
}

// MarkFailed transitions a recording to FAILED. It is a no-op if the
// recording is already terminal.
func (s *Store) MarkFailed(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ? AND status = ?`,
		StatusFailed, id, StatusRecording)
	if err != nil {
		return fmt.Errorf("store: mark_failed: %w", err)
	}
	return s.requireExists(ctx, id, res)
}

// requireExists distinguishes "no-op because already terminal" from
// "unknown id": a zero-row update is only an error if the row is missing
// entirely.
func (s *Store) requireExists(ctx context.Context, id string, res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	_, err = s.Get(ctx, id)
	return err
}

// Get returns a single recording by id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Recording, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	return scanRecording(row)
}

// ListAll returns every recording, most recent start_time first.
func (s *Store) ListAll(ctx context.Context) ([]*Recording, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY start_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list_all: %w", err)
	}
	defer rows.Close()

	var out []*Recording
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Delete removes the catalog row for id. The caller is responsible for
// removing the underlying file.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

const selectColumns = `SELECT id, file_name, file_path, start_time, end_time, duration_seconds, file_size_bytes, status, created_at, updated_at FROM recordings`

func scanRecording(scanner interface{ Scan(dest ...interface{}) error }) (*Recording, error) {
	var rec Recording
	var status string
	err := scanner.Scan(
		&rec.ID, &rec.FileName, &rec.FilePath, &rec.StartTime, &rec.EndTime,
		&rec.DurationSeconds, &rec.FileSizeBytes, &status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: scan: %w", err)
	}
	rec.Status = Status(status)
	return &rec, nil
}
