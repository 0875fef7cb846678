package broker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shadowfetch/shadowfetch/internal/models"
)

// Store is the relational job persistence layer: one row per job, keyed by
// ULID, with result/error JSON-encoded into TEXT columns, grounded on the
// teacher/pack's job_repo.go column-and-scan shape.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	session_key TEXT,
	callback_url TEXT,
	issue_ref INTEGER,
	status TEXT NOT NULL,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	result TEXT,
	error_details TEXT,
	created_at TEXT NOT NULL,
	started_at TEXT,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON jobs(completed_at);
`

// OpenStore opens (creating if needed) the SQLite job store at path,
// applying the schema and enabling WAL mode for concurrent worker access.
func OpenStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("broker: create storage dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("broker: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, WAL handles readers
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		return nil, fmt.Errorf("broker: enable WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("broker: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert persists a freshly-submitted job in status queued.
func (s *Store) Insert(ctx context.Context, job *models.Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, url, session_key, callback_url, issue_ref, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.URL, nullString(job.SessionKey), nullString(job.CallbackURL),
		nullInt(job.IssueRef), string(job.Status), job.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("broker: insert job: %w", err)
	}
	return nil
}

// Update persists a job's mutable fields: status, attempt count, result,
// error, timestamps.
func (s *Store) Update(ctx context.Context, job *models.Job) error {
	var resultJSON, errorJSON sql.NullString
	if job.Result != nil {
		b, err := json.Marshal(job.Result)
		if err != nil {
			return fmt.Errorf("broker: marshal result: %w", err)
		}
		resultJSON = sql.NullString{String: string(b), Valid: true}
	}
	if job.Error != nil {
		b, err := json.Marshal(job.Error)
		if err != nil {
			return fmt.Errorf("broker: marshal error: %w", err)
		}
		errorJSON = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, attempt_count = ?, result = ?, error_details = ?, started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Status), job.AttemptCount, resultJSON, errorJSON,
		nullTime(job.StartedAt), nullTime(job.CompletedAt), job.ID,
	)
	if err != nil {
		return fmt.Errorf("broker: update job: %w", err)
	}
	return nil
}

// Get reads a single job through to the store, or nil if unknown/purged.
func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, session_key, callback_url, issue_ref, status, attempt_count, result, error_details,
			created_at, started_at, completed_at
		FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return job, err
}

// Exists reports whether a job id is still present in the store, used by
// the worker pool to refuse processing a job deleted out from under it.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("broker: check job existence: %w", err)
	}
	return n > 0, nil
}

// ResumeAbandoned resurfaces jobs left in "processing" (necessarily
// abandoned, since no worker was running to own them across a restart)
// back to "queued", returning their ids so the caller can re-enqueue them.
func (s *Store) ResumeAbandoned(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM jobs WHERE status = ?`, string(models.StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("broker: query abandoned jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("broker: scan abandoned job id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}
	_, err = s.db.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE status = ?`,
		string(models.StatusQueued), string(models.StatusProcessing))
	if err != nil {
		return nil, fmt.Errorf("broker: resume abandoned jobs: %w", err)
	}
	return ids, nil
}

// PurgeOlderThan deletes completed/failed jobs whose completed_at predates
// cutoff, implementing the hourly TTL-purge background task.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE completed_at IS NOT NULL AND completed_at < ?`,
		cutoff.Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("broker: purge old jobs: %w", err)
	}
	return res.RowsAffected()
}

func scanJob(row *sql.Row) (*models.Job, error) {
	var job models.Job
	var status string
	var sessionKey, callbackURL sql.NullString
	var issueRef sql.NullInt64
	var resultJSON, errorJSON sql.NullString
	var createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&job.ID, &job.URL, &sessionKey, &callbackURL, &issueRef, &status, &job.AttemptCount,
		&resultJSON, &errorJSON, &createdAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.SessionKey = sessionKey.String
	job.CallbackURL = callbackURL.String
	if issueRef.Valid {
		job.IssueRef = int(issueRef.Int64)
	}
	job.Status = models.Status(status)
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, startedAt.String)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, completedAt.String)
		job.CompletedAt = &t
	}
	if resultJSON.Valid {
		var a models.Artifact
		if err := json.Unmarshal([]byte(resultJSON.String), &a); err == nil {
			job.Result = &a
		}
	}
	if errorJSON.Valid {
		var fe models.FetchError
		if err := json.Unmarshal([]byte(errorJSON.String), &fe); err == nil {
			job.Error = &fe
		}
	}
	return &job, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339Nano), Valid: true}
}
