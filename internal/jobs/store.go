package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
)

const jobSchema = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	started_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	completed_at INTEGER,
	expires_at INTEGER,
	options TEXT NOT NULL DEFAULT '{}',
	build_log TEXT NOT NULL DEFAULT '[]',
	error_log TEXT NOT NULL DEFAULT '',
	result TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	claimed_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_generation_jobs_user ON generation_jobs(user_id, started_at);
CREATE INDEX IF NOT EXISTS idx_generation_jobs_status ON generation_jobs(status);
`

const jobColumns = `id, project_id, user_id, status, progress, current_step, started_at, updated_at,
	completed_at, expires_at, options, build_log, error_log, result, attempts, claimed_by`

var (
	// ErrNotClaimable is returned by Claim when the job is terminal or owned.
	ErrNotClaimable = derrors.ConflictError("job is not claimable").Build()
	// ErrStaleStatus is returned when a guarded update finds a different status.
	ErrStaleStatus = derrors.ConflictError("job status changed concurrently").Build()
	// ErrJobNotFound is returned for unknown job ids.
	ErrJobNotFound = derrors.NotFoundError("generation job not found").Build()
)

// Store persists generation jobs. Status and progress are always written in
// one statement so readers never see them out of sync.
type Store interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, id string) (*Job, error)
	// Claim marks the job owned by worker.
	Claim(ctx context.Context, id, worker string) (*Job, error)
	// RecordAttempt bumps the attempt counter and returns the new value.
	RecordAttempt(ctx context.Context, id string) (int, error)
	Release(ctx context.Context, id string) error
	// Advance moves from -> to (or updates progress when equal) if the job is
	// still in from.
	Advance(ctx context.Context, id string, from, to Status, progress int, step string) error
	SetOptions(ctx context.Context, id string, opts Options) error
	AppendLog(ctx context.Context, id string, lines ...string) error
	Complete(ctx context.Context, id string, res Result, completedAt, expiresAt time.Time) error
	Fail(ctx context.Context, id, errMsg string, at time.Time) error
	// Cancel succeeds only for a pending, unclaimed job owned by userID.
	Cancel(ctx context.Context, id, userID string, at time.Time) (bool, error)
	// Expire moves a completed job to expired.
	Expire(ctx context.Context, id string, at time.Time) (bool, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Job, int, error)
	ListExpired(ctx context.Context, now time.Time) ([]*Job, error)
	ListUnfinished(ctx context.Context) ([]*Job, error)
	Ping(ctx context.Context) error
	Close() error
}

// OpenDB opens the service database shared by the job store and event log.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "failed to open database").
			WithContext("path", path).Build()
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA foreign_keys = ON"} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, derrors.WrapError(err, derrors.CategoryStorage, "failed to configure database").Build()
		}
	}
	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			_ = db.Close()
			return nil, derrors.WrapError(err, derrors.CategoryStorage, "failed to enable WAL").Build()
		}
	}
	return db, nil
}

// SQLiteStore implements Store on database/sql with the sqlite driver.
type SQLiteStore struct {
	db     *sql.DB
	ownsDB bool
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens path and creates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStoreDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// NewSQLiteStoreDB uses an already opened database. Close leaves it open.
func NewSQLiteStoreDB(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(jobSchema); err != nil {
		return nil, derrors.WrapError(err, derrors.CategoryStorage, "failed to initialize job schema").Build()
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// DB exposes the underlying database for stores that share it.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Create(ctx context.Context, job *Job) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryInternal, "failed to encode job options").Build()
	}
	logs, err := json.Marshal(nonNil(job.BuildLog))
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryInternal, "failed to encode build log").Build()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.StartedAt
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO generation_jobs
		(id, project_id, user_id, status, progress, current_step, started_at, updated_at, options, build_log)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.ProjectID, job.UserID, string(job.Status), job.Progress, job.CurrentStep,
		job.StartedAt.UnixMilli(), job.UpdatedAt.UnixMilli(), string(opts), string(logs))
	if err != nil {
		return storageErr(err, "failed to create job", job.ID)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM generation_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, storageErr(err, "failed to load job", id)
	}
	return job, nil
}

func (s *SQLiteStore) Claim(ctx context.Context, id, worker string) (*Job, error) {
	ok, err := s.exec(ctx, id, `UPDATE generation_jobs
		SET claimed_by = ?, updated_at = ?
		WHERE id = ? AND claimed_by = '' AND status NOT IN `+terminalList(),
		worker, s.now().UnixMilli(), id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotClaimable
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) RecordAttempt(ctx context.Context, id string) (int, error) {
	if _, err := s.exec(ctx, id, `UPDATE generation_jobs SET attempts = attempts + 1, updated_at = ? WHERE id = ?`,
		s.now().UnixMilli(), id); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT attempts FROM generation_jobs WHERE id = ?`, id).Scan(&n); err != nil {
		return 0, storageErr(err, "failed to read attempts", id)
	}
	return n, nil
}

func (s *SQLiteStore) Release(ctx context.Context, id string) error {
	_, err := s.exec(ctx, id, `UPDATE generation_jobs SET claimed_by = '', updated_at = ? WHERE id = ?`,
		s.now().UnixMilli(), id)
	return err
}

func (s *SQLiteStore) Advance(ctx context.Context, id string, from, to Status, progress int, step string) error {
	if from != to && !CanTransition(from, to) {
		return derrors.ConflictError("illegal job transition").
			WithContext("from", string(from)).
			WithContext("to", string(to)).Build()
	}
	ok, err := s.exec(ctx, id, `UPDATE generation_jobs
		SET status = ?, progress = ?, current_step = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), progress, step, s.now().UnixMilli(), id, string(from))
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleStatus
	}
	return nil
}

func (s *SQLiteStore) SetOptions(ctx context.Context, id string, opts Options) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryInternal, "failed to encode job options").Build()
	}
	_, err = s.exec(ctx, id, `UPDATE generation_jobs SET options = ?, updated_at = ? WHERE id = ?`,
		string(data), s.now().UnixMilli(), id)
	return err
}

func (s *SQLiteStore) AppendLog(ctx context.Context, id string, lines ...string) error {
	for _, line := range lines {
		if _, err := s.exec(ctx, id, `UPDATE generation_jobs
			SET build_log = json_insert(build_log, '$[#]', ?), updated_at = ? WHERE id = ?`,
			line, s.now().UnixMilli(), id); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Complete(ctx context.Context, id string, res Result, completedAt, expiresAt time.Time) error {
	data, err := json.Marshal(res)
	if err != nil {
		return derrors.WrapError(err, derrors.CategoryInternal, "failed to encode job result").Build()
	}
	ok, err := s.exec(ctx, id, `UPDATE generation_jobs
		SET status = ?, progress = 100, current_step = ?, completed_at = ?, expires_at = ?,
			result = ?, claimed_by = '', updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusCompleted), "Website ready", completedAt.UnixMilli(), expiresAt.UnixMilli(),
		string(data), completedAt.UnixMilli(), id, string(StatusPackaging))
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleStatus
	}
	return nil
}

func (s *SQLiteStore) Fail(ctx context.Context, id, errMsg string, at time.Time) error {
	ok, err := s.exec(ctx, id, `UPDATE generation_jobs
		SET status = ?, error_log = ?, current_step = ?, completed_at = ?, claimed_by = '', updated_at = ?
		WHERE id = ? AND status NOT IN `+terminalList(),
		string(StatusFailed), errMsg, "Generation failed", at.UnixMilli(), at.UnixMilli(), id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleStatus
	}
	return nil
}

func (s *SQLiteStore) Cancel(ctx context.Context, id, userID string, at time.Time) (bool, error) {
	return s.exec(ctx, id, `UPDATE generation_jobs
		SET status = ?, current_step = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND status = ? AND claimed_by = ''`,
		string(StatusCancelled), "Cancelled by user", at.UnixMilli(), at.UnixMilli(),
		id, userID, string(StatusPending))
}

func (s *SQLiteStore) Expire(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.exec(ctx, id, `UPDATE generation_jobs
		SET status = ?, current_step = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(StatusExpired), "Artifacts expired", at.UnixMilli(), id, string(StatusCompleted))
}

func (s *SQLiteStore) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*Job, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generation_jobs WHERE user_id = ?`, userID).
		Scan(&total); err != nil {
		return nil, 0, storageErr(err, "failed to count jobs", "")
	}
	jobs, err := s.query(ctx, `SELECT `+jobColumns+` FROM generation_jobs
		WHERE user_id = ? ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`, userID, limit, offset)
	return jobs, total, err
}

func (s *SQLiteStore) ListExpired(ctx context.Context, now time.Time) ([]*Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM generation_jobs
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at`,
		string(StatusCompleted), now.UnixMilli())
}

func (s *SQLiteStore) ListUnfinished(ctx context.Context) ([]*Job, error) {
	return s.query(ctx, `SELECT `+jobColumns+` FROM generation_jobs
		WHERE status NOT IN `+terminalList()+` ORDER BY started_at, id`)
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

// exec runs a guarded update and reports whether it touched a row.
func (s *SQLiteStore) exec(ctx context.Context, id, query string, args ...any) (bool, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, storageErr(err, "failed to update job", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storageErr(err, "failed to update job", id)
	}
	return n == 1, nil
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...any) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(err, "failed to query jobs", "")
	}
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storageErr(err, "failed to scan job", "")
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err, "failed to iterate jobs", "")
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var (
		job                Job
		status             string
		started, updated   int64
		completed, expires sql.NullInt64
		opts, logs         string
		result             sql.NullString
	)
	if err := row.Scan(&job.ID, &job.ProjectID, &job.UserID, &status, &job.Progress, &job.CurrentStep,
		&started, &updated, &completed, &expires, &opts, &logs, &job.ErrorLog, &result,
		&job.Attempts, &job.ClaimedBy); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.StartedAt = time.UnixMilli(started).UTC()
	job.UpdatedAt = time.UnixMilli(updated).UTC()
	job.CompletedAt = nullTime(completed)
	job.ExpiresAt = nullTime(expires)
	if err := json.Unmarshal([]byte(opts), &job.Options); err != nil {
		return nil, fmt.Errorf("decode options: %w", err)
	}
	if err := json.Unmarshal([]byte(logs), &job.BuildLog); err != nil {
		return nil, fmt.Errorf("decode build log: %w", err)
	}
	job.BuildLog = nonNil(job.BuildLog)
	if result.Valid && result.String != "" {
		job.Result = &Result{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	return &job, nil
}

func nullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func terminalList() string {
	quoted := make([]string, len(terminalStatuses))
	for i, s := range terminalStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

func storageErr(err error, msg, id string) error {
	b := derrors.WrapError(err, derrors.CategoryStorage, msg)
	if id != "" {
		b = b.WithContext("job_id", id)
	}
	return b.Build()
}
