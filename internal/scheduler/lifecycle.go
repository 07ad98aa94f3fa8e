package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"brokerdesk/internal/types"
)

// staleLeadAge is how long a never-assigned lead may sit before the weekly
// job marks it old (6 months).
const staleLeadAge = 180 * 24 * time.Hour

// assignmentHardCap is the age past which an assignment is purged regardless
// of lead state. This rule intentionally does not gate on is_client: it is a
// hard safety net on the assignment table itself.
const assignmentHardCap = 30 * 24 * time.Hour

// unknownHolder is the display name used when an assignment's user cannot
// be resolved.
const unknownHolder = "Unknown User"

// LeadUnit is the unit of work a rule job owns exclusively for one
// execution. Mutations are visible to later calls on the same unit and
// persist only on Commit.
type LeadUnit interface {
	// ListExpiredConversions returns non-client, non-deleted leads in a
	// conversion attempt whose explicit deadline has passed.
	ListExpiredConversions(ctx context.Context, now time.Time, limit int) ([]types.Lead, error)

	// ListNeverAssignedBefore returns non-client, non-deleted, not-yet-old
	// leads created before cutoff that have never had an assignment row
	// (outer-join-is-null, not "currently unassigned").
	ListNeverAssignedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.Lead, error)

	// ListAssignmentsFetchedBefore returns assignments claimed before
	// cutoff, with no condition on the owning lead.
	ListAssignmentsFetchedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.LeadAssignment, error)

	// ListHeldWorkedLeads returns non-client, non-deleted leads that have
	// been worked (lead_response_id set) and are currently held: an
	// assignee, a pending conversion, or an assignment row exists.
	ListHeldWorkedLeads(ctx context.Context, limit int) ([]types.Lead, error)

	// GetAssignment returns the lead's assignment, or nil when none exists.
	GetAssignment(ctx context.Context, leadID int64) (*types.LeadAssignment, error)

	// DeleteAssignment removes an assignment row by ID.
	DeleteAssignment(ctx context.Context, id int64) error

	// ReleaseLead clears assigned_to_user, assigned_for_conversion, and
	// conversion_deadline, returning the lead to the shared pool.
	ReleaseLead(ctx context.Context, leadID int64) error

	// MarkLeadOld sets the one-way is_old_lead flag.
	MarkLeadOld(ctx context.Context, leadID int64) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// UnitOpener opens a fresh LeadUnit per job execution. Units are never
// shared across jobs or across concurrent runs of the same job.
type UnitOpener interface {
	OpenLeadUnit(ctx context.Context) (LeadUnit, error)
}

// StoryAppender is the audit sink. Implementations write through their own
// connection, independent of the caller's unit of work, so an audit entry
// can land even when the job's commit later fails (and vice versa).
type StoryAppender interface {
	Append(ctx context.Context, leadID int64, actor, message string) error
}

// NotificationPublisher pushes fan-out messages to the notification queue.
// May be nil; publishing is best-effort and never fails a record.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, msg types.NotificationMessage) error
}

// LifecycleService implements the four mutating lead lifecycle rules. Each
// method is one batch job: idempotent, per-record failure tolerant, with a
// single commit at the end of the run.
type LifecycleService struct {
	store     UnitOpener
	stories   StoryAppender
	users     UserDB
	resolver  *ConfigResolver
	publisher NotificationPublisher
	logger    *slog.Logger
	batch     int
}

// NewLifecycleService creates a LifecycleService. The publisher may be nil.
// batchLimit caps candidates per run; values <= 0 fall back to 500.
func NewLifecycleService(
	store UnitOpener,
	stories StoryAppender,
	users UserDB,
	resolver *ConfigResolver,
	publisher NotificationPublisher,
	logger *slog.Logger,
	batchLimit int,
) *LifecycleService {
	if logger == nil {
		logger = slog.Default()
	}
	if batchLimit <= 0 {
		batchLimit = 500
	}
	return &LifecycleService{
		store:     store,
		stories:   stories,
		users:     users,
		resolver:  resolver,
		publisher: publisher,
		logger:    logger,
		batch:     batchLimit,
	}
}

// holderFor resolves the display name and employee code of the user holding
// an assignment. Falls back to the sentinel pair when the assignment or its
// user cannot be resolved.
func (s *LifecycleService) holderFor(ctx context.Context, assignment *types.LeadAssignment) (name, code string) {
	name, code = unknownHolder, types.SystemActor
	if assignment == nil {
		return name, code
	}
	code = assignment.UserID
	user, err := s.users.GetByEmployeeCode(ctx, assignment.UserID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to resolve assignment holder",
			"user_id", assignment.UserID,
			"error", err,
		)
		return name, code
	}
	if user != nil {
		name = user.Name
	}
	return name, code
}

// notifyReleased publishes a lead_released message. Best-effort: the release
// is already applied in the unit of work, so a queue failure only logs.
func (s *LifecycleService) notifyReleased(ctx context.Context, leadID int64, recipient, body string) {
	if s.publisher == nil {
		return
	}
	id := leadID
	msg := types.NotificationMessage{
		Kind:       types.NotificationLeadReleased,
		LeadID:     &id,
		Recipient:  recipient,
		Body:       body,
		TraceID:    uuid.New().String(),
		OccurredAt: time.Now().UTC(),
	}
	if err := s.publisher.PublishNotification(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "failed to publish lead release notification",
			"lead_id", leadID,
			"error", err,
		)
	}
}

// ExpireConversions releases leads whose explicit conversion deadline has
// passed without the lead becoming a client: the assignment (if any) is
// deleted, conversion fields are cleared, and a story records who held the
// lead and for how many days.
func (s *LifecycleService) ExpireConversions(ctx context.Context, now time.Time) (BatchReport, error) {
	report := BatchReport{Job: JobExpireConversions}

	unit, err := s.store.OpenLeadUnit(ctx)
	if err != nil {
		return report, fmt.Errorf("opening unit of work: %w", err)
	}
	defer unit.Rollback(ctx)

	leads, err := unit.ListExpiredConversions(ctx, now, s.batch)
	if err != nil {
		return report, fmt.Errorf("listing expired conversions: %w", err)
	}

	if len(leads) == 0 {
		s.logger.InfoContext(ctx, "no expired conversion leads")
		return report, nil
	}

	s.logger.InfoContext(ctx, "expiring conversion leads", "count", len(leads))

	for i := range leads {
		lead := &leads[i]
		report.Processed++

		if err := s.expireOne(ctx, unit, lead, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to expire conversion lead",
				"lead_id", lead.ID,
				"error", err,
			)
			report.recordFailure(RecordError{LeadID: lead.ID, Reason: err.Error()})
			continue
		}
		report.Succeeded++
	}

	if err := unit.Commit(ctx); err != nil {
		return BatchReport{Job: report.Job}, fmt.Errorf("committing expired conversion batch: %w", err)
	}

	s.logger.InfoContext(ctx, "conversion expiry completed",
		"released", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}

// expireOne handles a single expired-conversion candidate.
func (s *LifecycleService) expireOne(ctx context.Context, unit LeadUnit, lead *types.Lead, now time.Time) error {
	assignment, err := unit.GetAssignment(ctx, lead.ID)
	if err != nil {
		return fmt.Errorf("fetching assignment: %w", err)
	}

	holderName, holderCode := s.holderFor(ctx, assignment)

	daysAssigned := 0
	if rc := ToUTC(lead.ResponseChangedAt); rc != nil {
		daysAssigned = int(now.Sub(*rc).Hours() / 24)
	}

	msg := fmt.Sprintf(
		"Lead removed from %s (%s) due to conversion deadline expiry. Was assigned for %d days without client conversion. Lead returned to pool.",
		holderName, holderCode, daysAssigned,
	)
	if err := s.stories.Append(ctx, lead.ID, types.SystemActor, msg); err != nil {
		return fmt.Errorf("appending story: %w", err)
	}

	if assignment != nil {
		if err := unit.DeleteAssignment(ctx, assignment.ID); err != nil {
			return fmt.Errorf("deleting assignment: %w", err)
		}
	}
	if err := unit.ReleaseLead(ctx, lead.ID); err != nil {
		return fmt.Errorf("releasing lead: %w", err)
	}

	s.notifyReleased(ctx, lead.ID, holderCode, msg)
	return nil
}

// MarkStaleLeadsOld flags non-client leads created more than six months ago
// that have never had an assignment row. Leads that were assigned once and
// later released are excluded: assignment history, not current state, is
// what counts.
func (s *LifecycleService) MarkStaleLeadsOld(ctx context.Context, now time.Time) (BatchReport, error) {
	report := BatchReport{Job: JobMarkStaleLeads}

	unit, err := s.store.OpenLeadUnit(ctx)
	if err != nil {
		return report, fmt.Errorf("opening unit of work: %w", err)
	}
	defer unit.Rollback(ctx)

	cutoff := now.Add(-staleLeadAge)
	leads, err := unit.ListNeverAssignedBefore(ctx, cutoff, s.batch)
	if err != nil {
		return report, fmt.Errorf("listing never-assigned leads: %w", err)
	}

	if len(leads) == 0 {
		s.logger.InfoContext(ctx, "no stale unassigned leads to mark")
		return report, nil
	}

	s.logger.InfoContext(ctx, "marking stale leads old",
		"count", len(leads),
		"cutoff", cutoff.Format(time.RFC3339),
	)

	for i := range leads {
		lead := &leads[i]
		report.Processed++

		msg := fmt.Sprintf(
			"Lead marked as old due to 6+ months without assignment. Created on: %s",
			lead.CreatedAt.UTC().Format("2006-01-02"),
		)
		if err := s.stories.Append(ctx, lead.ID, types.SystemActor, msg); err != nil {
			s.logger.ErrorContext(ctx, "failed to append old-lead story",
				"lead_id", lead.ID,
				"error", err,
			)
			report.recordFailure(RecordError{LeadID: lead.ID, Reason: err.Error()})
			continue
		}

		if err := unit.MarkLeadOld(ctx, lead.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to mark lead old",
				"lead_id", lead.ID,
				"error", err,
			)
			report.recordFailure(RecordError{LeadID: lead.ID, Reason: err.Error()})
			continue
		}
		report.Succeeded++
	}

	if err := unit.Commit(ctx); err != nil {
		return BatchReport{Job: report.Job}, fmt.Errorf("committing stale lead batch: %w", err)
	}

	s.logger.InfoContext(ctx, "stale lead marking completed",
		"marked", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}

// PurgeOldAssignments deletes assignments claimed more than thirty days ago.
// Unlike the other rules this one does not gate on the lead's client or
// deletion state; it is a sweep of the assignment table alone and touches no
// lead flags.
func (s *LifecycleService) PurgeOldAssignments(ctx context.Context, now time.Time) (BatchReport, error) {
	report := BatchReport{Job: JobPurgeAssignments}

	unit, err := s.store.OpenLeadUnit(ctx)
	if err != nil {
		return report, fmt.Errorf("opening unit of work: %w", err)
	}
	defer unit.Rollback(ctx)

	cutoff := now.Add(-assignmentHardCap)
	assignments, err := unit.ListAssignmentsFetchedBefore(ctx, cutoff, s.batch)
	if err != nil {
		return report, fmt.Errorf("listing old assignments: %w", err)
	}

	if len(assignments) == 0 {
		s.logger.InfoContext(ctx, "no old assignments to purge")
		return report, nil
	}

	s.logger.InfoContext(ctx, "purging old assignments",
		"count", len(assignments),
		"cutoff", cutoff.Format(time.RFC3339),
	)

	for i := range assignments {
		assignment := &assignments[i]
		report.Processed++

		holderName, _ := s.holderFor(ctx, assignment)
		if holderName != unknownHolder {
			msg := fmt.Sprintf(
				"Assignment removed due to 30+ days inactivity. Was assigned to: %s",
				holderName,
			)
			if err := s.stories.Append(ctx, assignment.LeadID, types.SystemActor, msg); err != nil {
				s.logger.ErrorContext(ctx, "failed to append purge story",
					"assignment_id", assignment.ID,
					"lead_id", assignment.LeadID,
					"error", err,
				)
				report.recordFailure(RecordError{
					LeadID:       assignment.LeadID,
					AssignmentID: assignment.ID,
					Reason:       err.Error(),
				})
				continue
			}
		}

		if err := unit.DeleteAssignment(ctx, assignment.ID); err != nil {
			s.logger.ErrorContext(ctx, "failed to delete old assignment",
				"assignment_id", assignment.ID,
				"error", err,
			)
			report.recordFailure(RecordError{
				LeadID:       assignment.LeadID,
				AssignmentID: assignment.ID,
				Reason:       err.Error(),
			})
			continue
		}
		report.Succeeded++
	}

	if err := unit.Commit(ctx); err != nil {
		return BatchReport{Job: report.Job}, fmt.Errorf("committing assignment purge batch: %w", err)
	}

	s.logger.InfoContext(ctx, "old assignment purge completed",
		"purged", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}

// ReleaseWorkedLeads releases worked leads whose lock window has elapsed,
// resolving the window lengths from scoped fetch configuration per lead.
//
// A lead in an active conversion attempt is protected until its conversion
// deadline -- explicit when set, otherwise response_changed_at plus the
// resolved assignment TTL -- has also elapsed; only then is the generic lock
// cutoff (response_changed_at plus old_lead_remove_days) consulted.
// Candidates without response_changed_at are skipped: no window can be
// computed until external logic sets that field.
func (s *LifecycleService) ReleaseWorkedLeads(ctx context.Context, now time.Time) (BatchReport, error) {
	report := BatchReport{Job: JobReleaseWorkedLeads}

	unit, err := s.store.OpenLeadUnit(ctx)
	if err != nil {
		return report, fmt.Errorf("opening unit of work: %w", err)
	}
	defer unit.Rollback(ctx)

	leads, err := unit.ListHeldWorkedLeads(ctx, s.batch)
	if err != nil {
		return report, fmt.Errorf("listing held worked leads: %w", err)
	}

	if len(leads) == 0 {
		s.logger.InfoContext(ctx, "no held worked leads to inspect")
		return report, nil
	}

	s.logger.InfoContext(ctx, "inspecting held worked leads", "count", len(leads))

	for i := range leads {
		lead := &leads[i]
		report.Processed++

		released, err := s.releaseOne(ctx, unit, lead, now)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to release worked lead",
				"lead_id", lead.ID,
				"error", err,
			)
			report.recordFailure(RecordError{LeadID: lead.ID, Reason: err.Error()})
			continue
		}
		if released {
			report.Succeeded++
		}
	}

	if err := unit.Commit(ctx); err != nil {
		return BatchReport{Job: report.Job}, fmt.Errorf("committing worked lead release batch: %w", err)
	}

	s.logger.InfoContext(ctx, "worked lead release completed",
		"inspected", report.Processed,
		"released", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}

// releaseOne evaluates and, when due, releases a single worked lead.
// Returns true when the lead was released.
func (s *LifecycleService) releaseOne(ctx context.Context, unit LeadUnit, lead *types.Lead, now time.Time) (bool, error) {
	rc := ToUTC(lead.ResponseChangedAt)
	if rc == nil {
		// Window start unknown; external logic owns setting it.
		return false, nil
	}

	cfg, source, err := s.resolver.Resolve(ctx, lead)
	if err != nil {
		return false, fmt.Errorf("resolving config: %w", err)
	}

	if lead.AssignedForConversion {
		if dl := ToUTC(lead.ConversionDeadline); dl != nil {
			if dl.After(now) {
				return false, nil
			}
		} else {
			implicit := rc.Add(time.Duration(cfg.AssignmentTTLHours) * time.Hour)
			if implicit.After(now) {
				return false, nil
			}
		}
	}

	lockCutoff := rc.Add(time.Duration(cfg.OldLeadRemoveDays) * 24 * time.Hour)
	if lockCutoff.After(now) {
		return false, nil
	}

	assignment, err := unit.GetAssignment(ctx, lead.ID)
	if err != nil {
		return false, fmt.Errorf("fetching assignment: %w", err)
	}

	holderName, holderCode := s.holderFor(ctx, assignment)
	if assignment == nil && lead.AssignedToUser != nil {
		holderCode = *lead.AssignedToUser
	}

	msg := fmt.Sprintf(
		"Lead released to pool after lock window expiry. Was held by %s (%s). Config source: %s (assignment_ttl_hours=%d, old_lead_remove_days=%d).",
		holderName, holderCode, source, cfg.AssignmentTTLHours, cfg.OldLeadRemoveDays,
	)
	if err := s.stories.Append(ctx, lead.ID, types.SystemActor, msg); err != nil {
		return false, fmt.Errorf("appending story: %w", err)
	}

	if assignment != nil {
		if err := unit.DeleteAssignment(ctx, assignment.ID); err != nil {
			return false, fmt.Errorf("deleting assignment: %w", err)
		}
	}
	if err := unit.ReleaseLead(ctx, lead.ID); err != nil {
		return false, fmt.Errorf("releasing lead: %w", err)
	}

	s.notifyReleased(ctx, lead.ID, holderCode, msg)
	return true, nil
}
