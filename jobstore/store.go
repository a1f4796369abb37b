// Package jobstore implements the Job Store (spec §4.7): durable persistence
// backing the Cron Scheduler over SQLite, with the jobs/runs schema and
// (status, enabled, next_run) index specified in spec §6. Grounded on the
// storage-agnostic interface convention in orchestration/execution_store.go;
// SQLITE_BUSY is retried with github.com/cenkalti/backoff/v5 (see withRetry).
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/mattn/go-sqlite3"

	"github.com/agentrun/agentrun/runtime"
)

// CronJobStatus enumerates a job's lifecycle (spec §3).
type CronJobStatus string

const (
	StatusActive     CronJobStatus = "active"
	StatusPaused     CronJobStatus = "paused"
	StatusCompleted  CronJobStatus = "completed"
	StatusDeadLetter CronJobStatus = "dead_letter"
)

// SessionMode isolates a cron-triggered run (glossary: "session mode").
type SessionMode string

const (
	SessionEphemeral SessionMode = "ephemeral"
	SessionPersistent SessionMode = "persistent"
)

// CronJobDefinition is the persisted job row (spec §3).
type CronJobDefinition struct {
	JobID          runtime.CronJobId
	Name           string
	CronExpression string
	Timezone       string
	AgentConfig    runtime.AgentConfig
	Status         CronJobStatus
	Enabled        bool
	OneShot        bool
	SessionMode    SessionMode
	JitterMaxSecs  int
	MaxConcurrent  int
	MaxRetries     int
	FailureCount   int
	RunCount       int
	LastRun        *time.Time
	NextRun        time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RunStatus enumerates one JobRunRecord's outcome (spec §3).
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// JobRunRecord is one execution history row (spec §3).
type JobRunRecord struct {
	RunID           string
	JobID           runtime.CronJobId
	AgentID         runtime.AgentId
	StartedAt       time.Time
	CompletedAt     *time.Time
	Status          RunStatus
	Error           *string
	ExecutionTimeMs int64
}

// Filter narrows ListJobs.
type Filter struct {
	Status *CronJobStatus
	Enabled *bool
}

// Errors per spec §7 CronSchedulerError/JobStoreError.
var (
	ErrNotFound = errors.New("jobstore: not found")
)

// Store is the SQLite-backed Job Store.
type Store struct {
	db *sql.DB
}

// Open creates/opens the SQLite database at path with WAL mode for
// single-writer/many-reader concurrency without external locking.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, runtime.NewOpError("jobstore.Open", "jobstore", err)
	}
	db.SetMaxOpenConns(1) // SQLite: single writer; simplest safe default

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	cron_expression TEXT NOT NULL,
	timezone TEXT NOT NULL,
	agent_config_json TEXT NOT NULL,
	status TEXT NOT NULL,
	enabled INTEGER NOT NULL,
	one_shot INTEGER NOT NULL,
	session_mode TEXT NOT NULL,
	jitter_max_secs INTEGER NOT NULL,
	max_concurrent INTEGER NOT NULL,
	max_retries INTEGER NOT NULL,
	failure_count INTEGER NOT NULL,
	run_count INTEGER NOT NULL,
	last_run TEXT,
	next_run TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_due ON jobs (status, enabled, next_run);

CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL REFERENCES jobs(job_id),
	agent_id TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT,
	status TEXT NOT NULL,
	error TEXT,
	execution_time_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_job ON runs (job_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return runtime.NewOpError("jobstore.migrate", "jobstore", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// withRetry retries transient SQLITE_BUSY failures using exponential
// backoff, a concern the circuit breaker does not itself cover (breaker
// decides whether to call at all; this decides how to retry a single
// transient failure once a call is allowed through).
func withRetry(ctx context.Context, op func() error) error {
	policy := backoff.NewExponentialBackOff()
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		if err != nil && isBusy(err) {
			return struct{}{}, err
		}
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(5))
	return err
}

func isBusy(err error) bool {
	return strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY")
}

func timePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveJob inserts or replaces a job definition.
func (s *Store) SaveJob(ctx context.Context, job CronJobDefinition) error {
	cfgJSON, err := json.Marshal(job.AgentConfig)
	if err != nil {
		return runtime.NewOpError("jobstore.SaveJob", "jobstore", err)
	}

	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO jobs (job_id, name, cron_expression, timezone, agent_config_json, status, enabled,
				one_shot, session_mode, jitter_max_secs, max_concurrent, max_retries, failure_count, run_count,
				last_run, next_run, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(job_id) DO UPDATE SET
				name=excluded.name, cron_expression=excluded.cron_expression, timezone=excluded.timezone,
				agent_config_json=excluded.agent_config_json, status=excluded.status, enabled=excluded.enabled,
				one_shot=excluded.one_shot, session_mode=excluded.session_mode, jitter_max_secs=excluded.jitter_max_secs,
				max_concurrent=excluded.max_concurrent, max_retries=excluded.max_retries,
				failure_count=excluded.failure_count, run_count=excluded.run_count, last_run=excluded.last_run,
				next_run=excluded.next_run, updated_at=excluded.updated_at`,
			string(job.JobID), job.Name, job.CronExpression, job.Timezone, string(cfgJSON),
			string(job.Status), job.Enabled, job.OneShot, string(job.SessionMode), job.JitterMaxSecs,
			job.MaxConcurrent, job.MaxRetries, job.FailureCount, job.RunCount,
			timePtr(job.LastRun), job.NextRun.UTC().Format(time.RFC3339Nano),
			job.CreatedAt.UTC().Format(time.RFC3339Nano), job.UpdatedAt.UTC().Format(time.RFC3339Nano))
		return err
	})
}

func scanJob(row interface {
	Scan(dest ...interface{}) error
}) (CronJobDefinition, error) {
	var j CronJobDefinition
	var jobID, status, sessionMode, cfgJSON, nextRun, createdAt, updatedAt string
	var lastRun sql.NullString
	var enabled, oneShot int

	if err := row.Scan(&jobID, &j.Name, &j.CronExpression, &j.Timezone, &cfgJSON, &status, &enabled,
		&oneShot, &sessionMode, &j.JitterMaxSecs, &j.MaxConcurrent, &j.MaxRetries, &j.FailureCount,
		&j.RunCount, &lastRun, &nextRun, &createdAt, &updatedAt); err != nil {
		return CronJobDefinition{}, err
	}

	j.JobID = runtime.CronJobId(jobID)
	j.Status = CronJobStatus(status)
	j.Enabled = enabled != 0
	j.OneShot = oneShot != 0
	j.SessionMode = SessionMode(sessionMode)
	if err := json.Unmarshal([]byte(cfgJSON), &j.AgentConfig); err != nil {
		return CronJobDefinition{}, err
	}
	last, err := parseTimePtr(lastRun)
	if err != nil {
		return CronJobDefinition{}, err
	}
	j.LastRun = last
	if j.NextRun, err = time.Parse(time.RFC3339Nano, nextRun); err != nil {
		return CronJobDefinition{}, err
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return CronJobDefinition{}, err
	}
	if j.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return CronJobDefinition{}, err
	}
	return j, nil
}

const jobColumns = `job_id, name, cron_expression, timezone, agent_config_json, status, enabled,
	one_shot, session_mode, jitter_max_secs, max_concurrent, max_retries, failure_count, run_count,
	last_run, next_run, created_at, updated_at`

// GetJob returns one job definition by id.
func (s *Store) GetJob(ctx context.Context, id runtime.CronJobId) (CronJobDefinition, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE job_id = ?", string(id))
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return CronJobDefinition{}, ErrNotFound
	}
	if err != nil {
		return CronJobDefinition{}, runtime.NewOpError("jobstore.GetJob", "jobstore", err)
	}
	return job, nil
}

// DeleteJob removes the definition; run history may remain (spec §4.6).
func (s *Store) DeleteJob(ctx context.Context, id runtime.CronJobId) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE job_id = ?", string(id))
		return err
	})
}

// ListJobs returns jobs matching filter.
func (s *Store) ListJobs(ctx context.Context, filter Filter) ([]CronJobDefinition, error) {
	query := "SELECT " + jobColumns + " FROM jobs WHERE 1=1"
	var args []interface{}
	if filter.Status != nil {
		query += " AND status = ?"
		args = append(args, string(*filter.Status))
	}
	if filter.Enabled != nil {
		query += " AND enabled = ?"
		args = append(args, *filter.Enabled)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, runtime.NewOpError("jobstore.ListJobs", "jobstore", err)
	}
	defer rows.Close()

	var out []CronJobDefinition
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, runtime.NewOpError("jobstore.ListJobs", "jobstore", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// GetDueJobs returns jobs with status=Active, enabled=true, next_run<=now,
// using the (status, enabled, next_run) index (spec §4.6 step 1, §6).
func (s *Store) GetDueJobs(ctx context.Context, now time.Time) ([]CronJobDefinition, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+jobColumns+` FROM jobs
		WHERE status = ? AND enabled = 1 AND next_run <= ?`,
		string(StatusActive), now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, runtime.NewOpError("jobstore.GetDueJobs", "jobstore", err)
	}
	defer rows.Close()

	var out []CronJobDefinition
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, runtime.NewOpError("jobstore.GetDueJobs", "jobstore", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// UpdateRunState atomically advances a job's run bookkeeping (spec §4.6
// step 3, §4.7).
func (s *Store) UpdateRunState(ctx context.Context, id runtime.CronJobId, lastRun time.Time, nextRun time.Time, runCount int, status CronJobStatus, enabled bool) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE jobs SET last_run=?, next_run=?, run_count=?, status=?, enabled=?, updated_at=?
			WHERE job_id=?`,
			lastRun.UTC().Format(time.RFC3339Nano), nextRun.UTC().Format(time.RFC3339Nano),
			runCount, string(status), enabled, time.Now().UTC().Format(time.RFC3339Nano), string(id))
		return err
	})
}

// RecordFailure increments failure bookkeeping and applies status (spec §4.6
// step 6).
func (s *Store) RecordFailure(ctx context.Context, id runtime.CronJobId, newFailureCount int, status CronJobStatus) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE jobs SET failure_count=?, status=?, updated_at=? WHERE job_id=?`,
			newFailureCount, string(status), time.Now().UTC().Format(time.RFC3339Nano), string(id))
		return err
	})
}

// SaveRunRecord appends a JobRunRecord.
func (s *Store) SaveRunRecord(ctx context.Context, rec JobRunRecord) error {
	return withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO runs (run_id, job_id, agent_id, started_at, completed_at, status, error, execution_time_ms)
			VALUES (?,?,?,?,?,?,?,?)`,
			rec.RunID, string(rec.JobID), string(rec.AgentID), rec.StartedAt.UTC().Format(time.RFC3339Nano),
			timePtr(rec.CompletedAt), string(rec.Status), rec.Error, rec.ExecutionTimeMs)
		return err
	})
}

// GetRunHistory returns up to limit most-recent run records for jobID.
func (s *Store) GetRunHistory(ctx context.Context, jobID runtime.CronJobId, limit int) ([]JobRunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id, job_id, agent_id, started_at, completed_at, status, error, execution_time_ms
		FROM runs WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`, string(jobID), limit)
	if err != nil {
		return nil, runtime.NewOpError("jobstore.GetRunHistory", "jobstore", err)
	}
	defer rows.Close()

	var out []JobRunRecord
	for rows.Next() {
		var rec JobRunRecord
		var jobID, agentID, startedAt, status string
		var completedAt, errStr sql.NullString
		if err := rows.Scan(&rec.RunID, &jobID, &agentID, &startedAt, &completedAt, &status, &errStr, &rec.ExecutionTimeMs); err != nil {
			return nil, err
		}
		rec.JobID = runtime.CronJobId(jobID)
		rec.AgentID = runtime.AgentId(agentID)
		rec.Status = RunStatus(status)
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, err
		}
		if rec.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		if errStr.Valid {
			v := errStr.String
			rec.Error = &v
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
