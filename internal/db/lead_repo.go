package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"brokerdesk/internal/types"
)

// LeadRepository provides data access for the crm_lead table.
type LeadRepository struct {
	db DBTX
}

// NewLeadRepository creates a new LeadRepository backed by the given
// database connection (pool or transaction).
func NewLeadRepository(db DBTX) *LeadRepository {
	return &LeadRepository{db: db}
}

// leadColumns defines the standard set of columns selected for lead queries.
// Used consistently across all query methods to avoid column drift.
const leadColumns = `l.id, l.full_name, l.email, l.mobile, l.city,
	l.is_client, l.is_delete, l.is_old_lead,
	l.assigned_to_user, l.assigned_for_conversion, l.conversion_deadline,
	l.lead_response_id, l.response_changed_at, l.branch_id,
	l.created_at, l.updated_at`

// scanLead scans a single lead row into a types.Lead struct. The columns
// must match the order defined in leadColumns.
func scanLead(row pgx.Row) (*types.Lead, error) {
	var lead types.Lead
	err := row.Scan(
		&lead.ID,
		&lead.FullName,
		&lead.Email,
		&lead.Mobile,
		&lead.City,
		&lead.IsClient,
		&lead.IsDeleted,
		&lead.IsOldLead,
		&lead.AssignedToUser,
		&lead.AssignedForConversion,
		&lead.ConversionDeadline,
		&lead.LeadResponseID,
		&lead.ResponseChangedAt,
		&lead.BranchID,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &lead, nil
}

// collectLeads drains a query result into a slice of leads.
func collectLeads(rows pgx.Rows) ([]types.Lead, error) {
	defer rows.Close()
	var leads []types.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, err
		}
		leads = append(leads, *lead)
	}
	return leads, rows.Err()
}

// Create inserts a new lead record and populates the generated ID and
// timestamps on the passed struct.
func (r *LeadRepository) Create(ctx context.Context, lead *types.Lead) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO crm_lead (full_name, email, mobile, city, branch_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		lead.FullName,
		lead.Email,
		lead.Mobile,
		lead.City,
		lead.BranchID,
	)
	if err := row.Scan(&lead.ID, &lead.CreatedAt, &lead.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create lead", err)
	}
	return nil
}

// GetByID retrieves a lead by ID. Excludes soft-deleted leads.
func (r *LeadRepository) GetByID(ctx context.Context, id int64) (*types.Lead, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+leadColumns+`
		 FROM crm_lead l
		 WHERE l.id = $1 AND l.is_delete = FALSE`,
		id,
	)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundLead, "lead not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve lead", err)
	}
	return lead, nil
}

// LeadFilter narrows List results. Zero values mean "no constraint".
type LeadFilter struct {
	BranchID   *int64
	AssignedTo *string
	IsClient   *bool
	IsOldLead  *bool
	Limit      int
	Offset     int
}

// List returns non-deleted leads matching the filter, newest first.
func (r *LeadRepository) List(ctx context.Context, filter LeadFilter) ([]types.Lead, error) {
	conditions := []string{"l.is_delete = FALSE"}
	args := []any{}

	addArg := func(cond string, value any) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}
	if filter.BranchID != nil {
		addArg("l.branch_id = $%d", *filter.BranchID)
	}
	if filter.AssignedTo != nil {
		addArg("l.assigned_to_user = $%d", *filter.AssignedTo)
	}
	if filter.IsClient != nil {
		addArg("l.is_client = $%d", *filter.IsClient)
	}
	if filter.IsOldLead != nil {
		addArg("l.is_old_lead = $%d", *filter.IsOldLead)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)

	query := `SELECT ` + leadColumns + `
		 FROM crm_lead l
		 WHERE ` + strings.Join(conditions, " AND ") + `
		 ORDER BY l.created_at DESC
		 LIMIT $` + fmt.Sprint(len(args)-1) + ` OFFSET $` + fmt.Sprint(len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list leads", err)
	}
	leads, err := collectLeads(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan leads", err)
	}
	return leads, nil
}

// Update applies contact-detail changes to a lead. Pipeline flags are owned
// by the claim flow and the lifecycle jobs, not this method.
func (r *LeadRepository) Update(ctx context.Context, lead *types.Lead) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_lead
		 SET full_name = $1, email = $2, mobile = $3, city = $4, branch_id = $5,
		     updated_at = NOW()
		 WHERE id = $6 AND is_delete = FALSE`,
		lead.FullName,
		lead.Email,
		lead.Mobile,
		lead.City,
		lead.BranchID,
		lead.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update lead", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLead, "lead not found", nil)
	}
	return nil
}

// UpdateResponse records a worked response against a lead and stamps
// response_changed_at, the anchor for the lifecycle lock windows.
func (r *LeadRepository) UpdateResponse(ctx context.Context, leadID, responseID int64, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_lead
		 SET lead_response_id = $1, response_changed_at = $2, updated_at = NOW()
		 WHERE id = $3 AND is_delete = FALSE`,
		responseID,
		now.UTC(),
		leadID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update lead response", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLead, "lead not found", nil)
	}
	return nil
}

// SoftDelete marks a lead deleted. Lifecycle jobs and listings skip deleted
// leads; the row is retained for audit history.
func (r *LeadRepository) SoftDelete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_lead SET is_delete = TRUE, updated_at = NOW()
		 WHERE id = $1 AND is_delete = FALSE`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete lead", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLead, "lead not found or already deleted", nil)
	}
	return nil
}

// MarkClient flips a lead to client state. The lifecycle jobs never touch
// client leads afterward.
func (r *LeadRepository) MarkClient(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_lead SET is_client = TRUE, updated_at = NOW()
		 WHERE id = $1 AND is_delete = FALSE`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to mark lead as client", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLead, "lead not found", nil)
	}
	return nil
}

// ClaimPool selects unassigned, claimable leads from the shared pool.
// oldPool switches between the fresh pool and the is_old_lead pool. Rows
// are locked so concurrent claim requests do not hand out the same lead.
func (r *LeadRepository) ClaimPool(ctx context.Context, branchID *int64, oldPool bool, limit int) ([]types.Lead, error) {
	query := `SELECT ` + leadColumns + `
		 FROM crm_lead l
		 WHERE l.is_delete = FALSE
		   AND l.is_client = FALSE
		   AND l.assigned_to_user IS NULL
		   AND l.is_old_lead = $1
		   AND ($2::bigint IS NULL OR l.branch_id = $2)
		 ORDER BY l.created_at
		 LIMIT $3
		 FOR UPDATE OF l SKIP LOCKED`

	rows, err := r.db.Query(ctx, query, oldPool, branchID, limit)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query claimable leads", err)
	}
	leads, err := collectLeads(rows)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan claimable leads", err)
	}
	return leads, nil
}

// Assign claims a lead for a user, optionally reserving it for a conversion
// attempt with an explicit deadline.
func (r *LeadRepository) Assign(ctx context.Context, leadID int64, userID string, forConversion bool, deadline *time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_lead
		 SET assigned_to_user = $1, assigned_for_conversion = $2,
		     conversion_deadline = $3, updated_at = NOW()
		 WHERE id = $4 AND is_delete = FALSE AND assigned_to_user IS NULL`,
		userID,
		forConversion,
		deadline,
		leadID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to assign lead", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictAssigned, "lead is already assigned", nil)
	}
	return nil
}

// ExportAll streams every non-deleted lead to fn in ID order. Used by the
// report export endpoint; fn returning an error aborts the scan.
func (r *LeadRepository) ExportAll(ctx context.Context, fn func(lead *types.Lead) error) error {
	rows, err := r.db.Query(ctx,
		`SELECT `+leadColumns+`
		 FROM crm_lead l
		 WHERE l.is_delete = FALSE
		 ORDER BY l.id`,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to query leads for export", err)
	}
	defer rows.Close()

	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to scan lead for export", err)
		}
		if err := fn(lead); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "lead export scan failed", err)
	}
	return nil
}
