package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"brokerdesk/internal/scheduler"
	"brokerdesk/internal/types"
)

// LifecycleStore adapts the connection pool to the scheduler's unit-of-work
// contract. Each OpenLeadUnit begins a fresh transaction owned exclusively
// by one job execution; mutations persist only on Commit.
type LifecycleStore struct {
	pool *pgxpool.Pool
}

// NewLifecycleStore creates a LifecycleStore over the given pool.
func NewLifecycleStore(pool *pgxpool.Pool) *LifecycleStore {
	return &LifecycleStore{pool: pool}
}

// OpenLeadUnit begins a transaction and wraps it as a scheduler.LeadUnit.
func (s *LifecycleStore) OpenLeadUnit(ctx context.Context) (scheduler.LeadUnit, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning lifecycle transaction: %w", err)
	}
	return &leadUnit{tx: tx}, nil
}

// leadUnit is the pgx.Tx-backed unit of work for one lifecycle job run.
type leadUnit struct {
	tx pgx.Tx
}

func (u *leadUnit) ListExpiredConversions(ctx context.Context, now time.Time, limit int) ([]types.Lead, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+leadColumns+`
		 FROM crm_lead l
		 WHERE l.assigned_for_conversion = TRUE
		   AND l.conversion_deadline IS NOT NULL
		   AND l.conversion_deadline < $1
		   AND l.is_client = FALSE
		   AND l.is_delete = FALSE
		 ORDER BY l.conversion_deadline
		 LIMIT $2`,
		now.UTC(),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query expired conversions", err)
	}
	leads, err := collectLeads(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan expired conversions", err)
	}
	return leads, nil
}

// ListNeverAssignedBefore selects leads with no assignment row and no work
// markers at all. The extra column checks keep leads whose assignment rows
// were purged out of the stale pool: history counts, not current state.
func (u *leadUnit) ListNeverAssignedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.Lead, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+leadColumns+`
		 FROM crm_lead l
		 LEFT JOIN crm_lead_assignments a ON a.lead_id = l.id
		 WHERE a.id IS NULL
		   AND l.assigned_to_user IS NULL
		   AND l.lead_response_id IS NULL
		   AND l.response_changed_at IS NULL
		   AND l.is_client = FALSE
		   AND l.is_delete = FALSE
		   AND l.is_old_lead = FALSE
		   AND l.created_at < $1
		 ORDER BY l.created_at
		 LIMIT $2`,
		cutoff.UTC(),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query stale leads", err)
	}
	leads, err := collectLeads(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan stale leads", err)
	}
	return leads, nil
}

func (u *leadUnit) ListAssignmentsFetchedBefore(ctx context.Context, cutoff time.Time, limit int) ([]types.LeadAssignment, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+assignmentColumns+`
		 FROM crm_lead_assignments a
		 WHERE a.fetched_at < $1
		 ORDER BY a.fetched_at
		 LIMIT $2`,
		cutoff.UTC(),
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query old assignments", err)
	}
	defer rows.Close()

	var assignments []types.LeadAssignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan old assignment", err)
		}
		assignments = append(assignments, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "old assignment scan failed", err)
	}
	return assignments, nil
}

func (u *leadUnit) ListHeldWorkedLeads(ctx context.Context, limit int) ([]types.Lead, error) {
	rows, err := u.tx.Query(ctx,
		`SELECT `+leadColumns+`
		 FROM crm_lead l
		 WHERE l.lead_response_id IS NOT NULL
		   AND l.is_client = FALSE
		   AND l.is_delete = FALSE
		   AND (l.assigned_to_user IS NOT NULL
		        OR l.assigned_for_conversion = TRUE
		        OR EXISTS (SELECT 1 FROM crm_lead_assignments a WHERE a.lead_id = l.id))
		 ORDER BY l.response_changed_at NULLS LAST, l.id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query held worked leads", err)
	}
	leads, err := collectLeads(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan held worked leads", err)
	}
	return leads, nil
}

func (u *leadUnit) GetAssignment(ctx context.Context, leadID int64) (*types.LeadAssignment, error) {
	row := u.tx.QueryRow(ctx,
		`SELECT `+assignmentColumns+`
		 FROM crm_lead_assignments a
		 WHERE a.lead_id = $1`,
		leadID,
	)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve assignment", err)
	}
	return a, nil
}

func (u *leadUnit) DeleteAssignment(ctx context.Context, id int64) error {
	_, err := u.tx.Exec(ctx,
		`DELETE FROM crm_lead_assignments WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete assignment", err)
	}
	return nil
}

func (u *leadUnit) ReleaseLead(ctx context.Context, leadID int64) error {
	_, err := u.tx.Exec(ctx,
		`UPDATE crm_lead
		 SET assigned_to_user = NULL,
		     assigned_for_conversion = FALSE,
		     conversion_deadline = NULL,
		     updated_at = NOW()
		 WHERE id = $1`,
		leadID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release lead", err)
	}
	return nil
}

func (u *leadUnit) MarkLeadOld(ctx context.Context, leadID int64) error {
	_, err := u.tx.Exec(ctx,
		`UPDATE crm_lead SET is_old_lead = TRUE, updated_at = NOW()
		 WHERE id = $1`,
		leadID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark lead old", err)
	}
	return nil
}

func (u *leadUnit) Commit(ctx context.Context) error {
	return u.tx.Commit(ctx)
}

func (u *leadUnit) Rollback(ctx context.Context) error {
	return u.tx.Rollback(ctx)
}

// StatsStore serves the daily-stats job's aggregate reads straight off the
// pool; the job is read-only and needs no transaction.
type StatsStore struct {
	db DBTX
}

// NewStatsStore creates a StatsStore over the given connection.
func NewStatsStore(db DBTX) *StatsStore {
	return &StatsStore{db: db}
}

func (s *StatsStore) CountLeads(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM crm_lead WHERE is_delete = FALSE`,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count leads", err)
	}
	return count, nil
}

func (s *StatsStore) CountAssignmentsSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM crm_lead_assignments WHERE fetched_at >= $1`,
		cutoff.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count recent assignments", err)
	}
	return count, nil
}

func (s *StatsStore) CountPendingConversions(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM crm_lead
		 WHERE assigned_for_conversion = TRUE
		   AND conversion_deadline IS NOT NULL
		   AND conversion_deadline > $1
		   AND is_client = FALSE
		   AND is_delete = FALSE`,
		now.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count pending conversions", err)
	}
	return count, nil
}

func (s *StatsStore) CountClientsConvertedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM crm_lead
		 WHERE is_client = TRUE
		   AND is_delete = FALSE
		   AND updated_at >= $1 AND updated_at < $2`,
		from.UTC(),
		to.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count converted clients", err)
	}
	return count, nil
}
