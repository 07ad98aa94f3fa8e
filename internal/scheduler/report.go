package scheduler

import "time"

// Job identifiers. These are the stable public names used in reports,
// control endpoints, and logs.
const (
	JobExpireConversions  = "expire_conversions"
	JobMarkStaleLeads     = "mark_stale_leads"
	JobPurgeAssignments   = "purge_assignments"
	JobReleaseWorkedLeads = "release_worked_leads"
	JobDailyStats         = "daily_stats"
)

// RecordError captures a single failed record within a batch run. The batch
// continues past these; they are surfaced in the BatchReport for operators.
type RecordError struct {
	LeadID       int64  `json:"lead_id,omitempty"`
	AssignmentID int64  `json:"assignment_id,omitempty"`
	Reason       string `json:"reason"`
}

// BatchReport is the outcome of one rule job execution. Processed counts
// every candidate examined; Succeeded counts records actually transitioned.
// Candidates skipped because their windows have not elapsed are processed
// but neither succeeded nor failed.
type BatchReport struct {
	Job       string        `json:"job"`
	Processed int           `json:"processed"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Errors    []RecordError `json:"errors,omitempty"`
}

// recordFailure appends a record-level error and bumps the failed count.
func (r *BatchReport) recordFailure(e RecordError) {
	r.Failed++
	r.Errors = append(r.Errors, e)
}

// JobRun is the result of a single driver-invoked job: a batch report and,
// for the stats job only, the collected daily statistics.
type JobRun struct {
	Report BatchReport `json:"report"`
	Stats  *DailyStats `json:"stats,omitempty"`
}

// RunSummary aggregates the results of a synchronous "run all now"
// invocation. JobErrors maps job ID to the error message for jobs that
// failed at the job level; their reports still appear with zero counts.
type RunSummary struct {
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Runs       []JobRun          `json:"runs"`
	JobErrors  map[string]string `json:"job_errors,omitempty"`
}
