package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"brokerdesk/internal/types"
)

// AssignmentRepository provides data access for the crm_lead_assignments
// table, the claim ledger consulted by the fetch limits and the lifecycle
// purge job.
type AssignmentRepository struct {
	db DBTX
}

// NewAssignmentRepository creates a new AssignmentRepository backed by the
// given database connection (pool or transaction).
func NewAssignmentRepository(db DBTX) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

const assignmentColumns = `a.id, a.lead_id, a.user_id, a.fetched_at`

func scanAssignment(row pgx.Row) (*types.LeadAssignment, error) {
	var a types.LeadAssignment
	if err := row.Scan(&a.ID, &a.LeadID, &a.UserID, &a.FetchedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a claim row and populates the generated ID.
func (r *AssignmentRepository) Create(ctx context.Context, a *types.LeadAssignment) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO crm_lead_assignments (lead_id, user_id, fetched_at)
		 VALUES ($1, $2, $3)
		 RETURNING id`,
		a.LeadID,
		a.UserID,
		a.FetchedAt.UTC(),
	)
	if err := row.Scan(&a.ID); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create lead assignment", err)
	}
	return nil
}

// GetByLeadID returns the lead's current assignment, or a not-found error.
func (r *AssignmentRepository) GetByLeadID(ctx context.Context, leadID int64) (*types.LeadAssignment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+assignmentColumns+`
		 FROM crm_lead_assignments a
		 WHERE a.lead_id = $1`,
		leadID,
	)
	a, err := scanAssignment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAssignment, "lead assignment not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve lead assignment", err)
	}
	return a, nil
}

// CountFetchedSince counts claims made by a user at or after cutoff. Backs
// the daily call limit (cutoff = start of day) and the TTL-fresh assignment
// count (cutoff = now minus assignment TTL).
func (r *AssignmentRepository) CountFetchedSince(ctx context.Context, userID string, cutoff time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM crm_lead_assignments
		 WHERE user_id = $1 AND fetched_at >= $2`,
		userID,
		cutoff.UTC(),
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count assignments", err)
	}
	return count, nil
}

// Delete removes an assignment row by ID.
func (r *AssignmentRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM crm_lead_assignments WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete lead assignment", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundAssignment, "lead assignment not found", nil)
	}
	return nil
}
