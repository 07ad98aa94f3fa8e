package db

import (
	"context"
	"time"

	"brokerdesk/internal/types"
)

// Job run statuses recorded in crm_job_run.
const (
	JobRunRunning   = "running"
	JobRunSucceeded = "succeeded"
	JobRunFailed    = "failed"
)

// JobLockRepository provides distributed locking via the crm_job_lock table
// so only one scheduler replica fires a given lifecycle job per window. The
// lock is acquired with INSERT ... ON CONFLICT DO UPDATE: a fresh row or an
// expired one yields the lock, a live row held by another worker does not.
type JobLockRepository struct {
	db DBTX
}

// NewJobLockRepository creates a JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX) *JobLockRepository {
	return &JobLockRepository{db: db}
}

// Acquire attempts to take the lock for lockID. Returns true when acquired,
// false when another worker holds a live lock.
//
// The expiry is computed as a concrete timestamp in Go rather than interval
// arithmetic in SQL; Go duration strings are not valid PostgreSQL intervals.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO crm_job_lock (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE crm_job_lock.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// One row affected means the INSERT landed or an expired lock was
	// reclaimed; zero means another worker still holds it.
	return tag.RowsAffected() > 0, nil
}

// Release drops the lock row if this worker still owns it. A lock stolen
// after expiry belongs to the new owner and is left alone.
func (r *JobLockRepository) Release(ctx context.Context, lockID string, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM crm_job_lock WHERE id = $1 AND worker_id = $2`,
		lockID,
		workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}

// JobRunRepository records lifecycle job executions in the crm_job_run table
// for operational visibility: when each job ran, how many leads it touched,
// and how it ended.
type JobRunRepository struct {
	db DBTX
}

// NewJobRunRepository creates a JobRunRepository backed by the given
// database connection (pool or transaction).
func NewJobRunRepository(db DBTX) *JobRunRepository {
	return &JobRunRepository{db: db}
}

// Start inserts a crm_job_run row with status 'running' and returns its ID.
// The caller finishes the entry with Finish once the job ends.
func (r *JobRunRepository) Start(ctx context.Context, jobID string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO crm_job_run (job_id, started_at, status)
		 VALUES ($1, NOW(), $2)
		 RETURNING id`,
		jobID,
		JobRunRunning,
	).Scan(&id)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to start job run entry", err)
	}
	return id, nil
}

// Finish closes a crm_job_run row with the outcome. A non-nil jobErr marks
// the run failed and stores the message.
func (r *JobRunRepository) Finish(ctx context.Context, id int64, processed int, jobErr error) error {
	status := JobRunSucceeded
	var errMsg *string
	if jobErr != nil {
		status = JobRunFailed
		s := jobErr.Error()
		errMsg = &s
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE crm_job_run
		 SET finished_at = NOW(), status = $2, processed_count = $3, error = $4
		 WHERE id = $1`,
		id,
		status,
		processed,
		errMsg,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to finish job run entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "job run entry not found", nil)
	}
	return nil
}
