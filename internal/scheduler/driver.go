package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"brokerdesk/internal/types"
)

// cronParser accepts standard 5-field crontab expressions.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// defaultTickInterval is how often the driver loop checks for due jobs.
// Schedules are minute-granular, so half a minute keeps worst-case trigger
// latency well inside every job's grace window.
const defaultTickInterval = 30 * time.Second

// DriverState is the coarse lifecycle state of the driver.
type DriverState string

const (
	DriverStopped DriverState = "stopped"
	DriverRunning DriverState = "running"
)

// defaultLockTTL bounds how long a replica may hold a job lock. It exceeds
// the longest grace window so a crashed holder cannot block the next
// scheduled run.
const defaultLockTTL = 45 * time.Minute

// JobLocker serializes one job across scheduler replicas. Acquire returns
// false when another worker holds a live lock.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, lockID string, workerID string) error
}

// JobRunRecorder persists each job execution for operational review.
type JobRunRecorder interface {
	Start(ctx context.Context, jobID string) (int64, error)
	Finish(ctx context.Context, id int64, processed int, jobErr error) error
}

// jobFunc executes one job as of now and returns its result.
type jobFunc func(ctx context.Context, now time.Time) (JobRun, error)

// jobEntry is the driver's registration record for one job.
type jobEntry struct {
	id       string
	schedule cron.Schedule
	grace    time.Duration
	run      jobFunc

	paused  bool
	next    time.Time
	lastRun *time.Time
	lastErr string
}

// JobStatus describes one registered job for the status query.
type JobStatus struct {
	ID        string     `json:"id"`
	Paused    bool       `json:"paused"`
	NextRun   time.Time  `json:"next_run"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// DriverStatus is the full status snapshot of the driver.
type DriverStatus struct {
	State DriverState `json:"state"`
	Jobs  []JobStatus `json:"jobs"`
}

// Driver owns the cron cadence table and the background loop that fires the
// lifecycle jobs. A single instance needs no coordination; deployments that
// run replicas install a JobLocker so only one replica fires each job.
type Driver struct {
	lifecycle *LifecycleService
	stats     *StatsService
	clock     Clock
	logger    *slog.Logger
	tick      time.Duration

	locker   JobLocker
	workerID string
	recorder JobRunRecorder

	mu    sync.Mutex
	state DriverState
	jobs  []*jobEntry
	byID  map[string]*jobEntry

	cancel context.CancelFunc
	done   chan struct{}
}

// NewDriver builds a Driver with the five jobs registered on their fixed
// cadences. A nil clock defaults to the system clock.
func NewDriver(lifecycle *LifecycleService, stats *StatsService, clock Clock, logger *slog.Logger) (*Driver, error) {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}

	d := &Driver{
		lifecycle: lifecycle,
		stats:     stats,
		clock:     clock,
		logger:    logger,
		tick:      defaultTickInterval,
		state:     DriverStopped,
		byID:      make(map[string]*jobEntry),
	}

	registrations := []struct {
		id    string
		spec  string
		grace time.Duration
		run   jobFunc
	}{
		{JobExpireConversions, "0 2 * * *", 10 * time.Minute, d.runExpireConversions},
		{JobMarkStaleLeads, "0 3 * * 0", 30 * time.Minute, d.runMarkStaleLeads},
		{JobPurgeAssignments, "0 4 1 * *", 30 * time.Minute, d.runPurgeAssignments},
		{JobReleaseWorkedLeads, "0 * * * *", 10 * time.Minute, d.runReleaseWorkedLeads},
		{JobDailyStats, "59 23 * * *", 5 * time.Minute, d.runDailyStats},
	}

	for _, reg := range registrations {
		schedule, err := cronParser.Parse(reg.spec)
		if err != nil {
			return nil, fmt.Errorf("parsing cron spec %q for job %s: %w", reg.spec, reg.id, err)
		}
		entry := &jobEntry{
			id:       reg.id,
			schedule: schedule,
			grace:    reg.grace,
			run:      reg.run,
		}
		d.jobs = append(d.jobs, entry)
		d.byID[reg.id] = entry
	}

	return d, nil
}

// UseJobLock installs a distributed lock so multiple replicas can run the
// driver without double-firing jobs. Call before Start.
func (d *Driver) UseJobLock(locker JobLocker, workerID string) {
	d.locker = locker
	d.workerID = workerID
}

// UseRunRecorder installs persistent job run history. Call before Start.
func (d *Driver) UseRunRecorder(recorder JobRunRecorder) {
	d.recorder = recorder
}

func (d *Driver) runExpireConversions(ctx context.Context, now time.Time) (JobRun, error) {
	report, err := d.lifecycle.ExpireConversions(ctx, now)
	return JobRun{Report: report}, err
}

func (d *Driver) runMarkStaleLeads(ctx context.Context, now time.Time) (JobRun, error) {
	report, err := d.lifecycle.MarkStaleLeadsOld(ctx, now)
	return JobRun{Report: report}, err
}

func (d *Driver) runPurgeAssignments(ctx context.Context, now time.Time) (JobRun, error) {
	report, err := d.lifecycle.PurgeOldAssignments(ctx, now)
	return JobRun{Report: report}, err
}

func (d *Driver) runReleaseWorkedLeads(ctx context.Context, now time.Time) (JobRun, error) {
	report, err := d.lifecycle.ReleaseWorkedLeads(ctx, now)
	return JobRun{Report: report}, err
}

func (d *Driver) runDailyStats(ctx context.Context, now time.Time) (JobRun, error) {
	stats, err := d.stats.Collect(ctx, now)
	run := JobRun{Report: BatchReport{Job: JobDailyStats}}
	if err != nil {
		return run, err
	}
	run.Report.Processed = 1
	run.Report.Succeeded = 1
	run.Stats = &stats
	return run, nil
}

// Start transitions the driver to running and launches the background loop.
// Starting a running driver is a conflict.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == DriverRunning {
		return types.NewAppError(types.ErrCodeConflictScheduler, "scheduler is already running", nil)
	}

	now := d.clock.Now().UTC()
	for _, job := range d.jobs {
		job.next = job.schedule.Next(now)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	d.done = make(chan struct{})
	d.state = DriverRunning

	go d.loop(loopCtx, d.done)

	d.logger.InfoContext(ctx, "lead lifecycle scheduler started", "jobs", len(d.jobs))
	return nil
}

// Stop halts the background loop and waits for any in-flight job to run to
// the end of its scan; jobs are never canceled mid-run. Stopping a stopped
// driver is a no-op.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.state != DriverRunning {
		d.mu.Unlock()
		return nil
	}
	cancel, done := d.cancel, d.done
	d.state = DriverStopped
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	cancel()
	<-done

	d.logger.InfoContext(ctx, "lead lifecycle scheduler stopped")
	return nil
}

// loop is the background scheduling goroutine. Each tick fires whichever
// jobs are due under the injected clock.
func (d *Driver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Only the tick select observes Stop's cancellation. A job that is
	// already running finishes its scan; there is no per-job cancellation.
	jobCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runDueJobs(jobCtx, d.clock.Now().UTC())
		}
	}
}

// runDueJobs executes every due, unpaused job as of now. A job whose
// scheduled time passed more than its grace window ago is skipped and
// rescheduled. Job-level errors are recorded on the entry and logged; they
// never stop sibling jobs or the loop.
func (d *Driver) runDueJobs(ctx context.Context, now time.Time) {
	for _, job := range d.dueJobs(now) {
		d.fire(ctx, job, now)
	}
}

// dueJobs claims the due jobs under the lock, advancing each one's next-run
// time so a concurrent tick cannot double-fire it. Paused jobs still have
// their schedule advanced so resuming does not replay missed runs.
func (d *Driver) dueJobs(now time.Time) []*jobEntry {
	d.mu.Lock()
	defer d.mu.Unlock()

	var due []*jobEntry
	for _, job := range d.jobs {
		if job.next.IsZero() || now.Before(job.next) {
			continue
		}
		scheduled := job.next
		job.next = job.schedule.Next(now)

		if job.paused {
			continue
		}
		if now.Sub(scheduled) > job.grace {
			d.logger.Warn("skipping missed job run beyond grace window",
				"job", job.id,
				"scheduled", scheduled.Format(time.RFC3339),
				"grace", job.grace.String(),
			)
			continue
		}
		due = append(due, job)
	}
	return due
}

// fire executes one claimed job and records its outcome.
func (d *Driver) fire(ctx context.Context, job *jobEntry, now time.Time) {
	if d.locker != nil {
		acquired, lockErr := d.locker.Acquire(ctx, job.id, d.workerID, defaultLockTTL)
		if lockErr != nil {
			d.logger.ErrorContext(ctx, "job lock acquisition failed", "job", job.id, "error", lockErr)
			return
		}
		if !acquired {
			d.logger.InfoContext(ctx, "job held by another replica", "job", job.id)
			return
		}
		defer func() {
			if err := d.locker.Release(ctx, job.id, d.workerID); err != nil {
				d.logger.WarnContext(ctx, "job lock release failed", "job", job.id, "error", err)
			}
		}()
	}

	d.logger.InfoContext(ctx, "running scheduled job", "job", job.id)

	_, err := d.execute(ctx, job, now)

	d.mu.Lock()
	ran := now
	job.lastRun = &ran
	if err != nil {
		job.lastErr = err.Error()
	} else {
		job.lastErr = ""
	}
	d.mu.Unlock()

	if err != nil {
		d.logger.ErrorContext(ctx, "scheduled job failed", "job", job.id, "error", err)
	}
}

// execute runs one job, bracketing it with the run recorder when installed.
// Recorder failures are logged and never affect the job outcome.
func (d *Driver) execute(ctx context.Context, job *jobEntry, now time.Time) (JobRun, error) {
	var runID int64
	if d.recorder != nil {
		id, err := d.recorder.Start(ctx, job.id)
		if err != nil {
			d.logger.WarnContext(ctx, "failed to open job run entry", "job", job.id, "error", err)
		} else {
			runID = id
		}
	}

	run, err := job.run(ctx, now)

	if d.recorder != nil && runID != 0 {
		if finErr := d.recorder.Finish(ctx, runID, run.Report.Processed, err); finErr != nil {
			d.logger.WarnContext(ctx, "failed to close job run entry", "job", job.id, "error", finErr)
		}
	}
	return run, err
}

// Pause suspends a job by ID. Its schedule keeps advancing while paused.
func (d *Driver) Pause(ctx context.Context, jobID string) error {
	return d.setPaused(ctx, jobID, true)
}

// Resume reactivates a paused job by ID.
func (d *Driver) Resume(ctx context.Context, jobID string) error {
	return d.setPaused(ctx, jobID, false)
}

func (d *Driver) setPaused(ctx context.Context, jobID string, paused bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.byID[jobID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundJob,
			fmt.Sprintf("no scheduler job with ID %q", jobID), nil)
	}
	job.paused = paused

	d.logger.InfoContext(ctx, "scheduler job pause state changed",
		"job", jobID,
		"paused", paused,
	)
	return nil
}

// Status reports the driver state and each job's pause flag, next scheduled
// run, and last outcome.
func (d *Driver) Status() DriverStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := DriverStatus{State: d.state}
	for _, job := range d.jobs {
		next := job.next
		if next.IsZero() {
			next = job.schedule.Next(d.clock.Now().UTC())
		}
		status.Jobs = append(status.Jobs, JobStatus{
			ID:        job.id,
			Paused:    job.paused,
			NextRun:   next,
			LastRun:   job.lastRun,
			LastError: job.lastErr,
		})
	}
	return status
}

// RunAll invokes every registered job in sequence, regardless of cadence or
// pause state, and aggregates the results. A job-level error is captured in
// the summary and the remaining jobs still run.
func (d *Driver) RunAll(ctx context.Context) RunSummary {
	now := d.clock.Now().UTC()
	summary := RunSummary{StartedAt: now}

	for _, job := range d.jobs {
		run, err := d.execute(ctx, job, now)
		if err != nil {
			if summary.JobErrors == nil {
				summary.JobErrors = make(map[string]string)
			}
			summary.JobErrors[job.id] = err.Error()
			if run.Report.Job == "" {
				run.Report.Job = job.id
			}
		}
		summary.Runs = append(summary.Runs, run)
	}

	summary.FinishedAt = d.clock.Now().UTC()
	d.logger.InfoContext(ctx, "manual run of all scheduler jobs completed",
		"jobs", len(summary.Runs),
		"failed", len(summary.JobErrors),
	)
	return summary
}
