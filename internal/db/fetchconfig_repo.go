package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"brokerdesk/internal/types"
)

// FetchConfigRepository provides data access for the crm_lead_fetch_config
// table. Its GetByScope method satisfies the config store contract the
// scheduler's resolver cascades over: a scope miss is (nil, nil), never an
// error.
type FetchConfigRepository struct {
	db DBTX
}

// NewFetchConfigRepository creates a new FetchConfigRepository backed by the
// given database connection (pool or transaction).
func NewFetchConfigRepository(db DBTX) *FetchConfigRepository {
	return &FetchConfigRepository{db: db}
}

const fetchConfigColumns = `c.id, c.role_id, c.branch_id,
	c.per_request_limit, c.daily_call_limit, c.last_fetch_limit,
	c.assignment_ttl_hours, c.old_lead_remove_days`

func scanFetchConfig(row pgx.Row) (*types.LeadFetchConfig, error) {
	var cfg types.LeadFetchConfig
	err := row.Scan(
		&cfg.ID,
		&cfg.RoleID,
		&cfg.BranchID,
		&cfg.PerRequestLimit,
		&cfg.DailyCallLimit,
		&cfg.LastFetchLimit,
		&cfg.AssignmentTTLHours,
		&cfg.OldLeadRemoveDays,
	)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetByScope returns the config row exactly matching the (role, branch)
// scope, with NULL columns matched by nil arguments. A miss returns
// (nil, nil) so the resolver can cascade.
func (r *FetchConfigRepository) GetByScope(ctx context.Context, roleID *string, branchID *int64) (*types.LeadFetchConfig, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+fetchConfigColumns+`
		 FROM crm_lead_fetch_config c
		 WHERE c.role_id IS NOT DISTINCT FROM $1
		   AND c.branch_id IS NOT DISTINCT FROM $2`,
		roleID,
		branchID,
	)
	cfg, err := scanFetchConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve fetch config", err)
	}
	return cfg, nil
}

// GetByID retrieves a config row by primary key.
func (r *FetchConfigRepository) GetByID(ctx context.Context, id int64) (*types.LeadFetchConfig, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+fetchConfigColumns+`
		 FROM crm_lead_fetch_config c
		 WHERE c.id = $1`,
		id,
	)
	cfg, err := scanFetchConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundConfig, "fetch config not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve fetch config", err)
	}
	return cfg, nil
}

// List returns every config row, most specific scopes first.
func (r *FetchConfigRepository) List(ctx context.Context) ([]types.LeadFetchConfig, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+fetchConfigColumns+`
		 FROM crm_lead_fetch_config c
		 ORDER BY c.role_id NULLS LAST, c.branch_id NULLS LAST`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list fetch configs", err)
	}
	defer rows.Close()

	var configs []types.LeadFetchConfig
	for rows.Next() {
		cfg, err := scanFetchConfig(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan fetch config", err)
		}
		configs = append(configs, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "fetch config scan failed", err)
	}
	return configs, nil
}

// Create inserts a config row. A unique index over (role_id, branch_id)
// enforces one row per scope; a violation maps to a conflict error.
func (r *FetchConfigRepository) Create(ctx context.Context, cfg *types.LeadFetchConfig) error {
	row := r.db.QueryRow(ctx,
		`INSERT INTO crm_lead_fetch_config
		   (role_id, branch_id, per_request_limit, daily_call_limit,
		    last_fetch_limit, assignment_ttl_hours, old_lead_remove_days)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		cfg.RoleID,
		cfg.BranchID,
		cfg.PerRequestLimit,
		cfg.DailyCallLimit,
		cfg.LastFetchLimit,
		cfg.AssignmentTTLHours,
		cfg.OldLeadRemoveDays,
	)
	if err := row.Scan(&cfg.ID); err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictConfigScope,
				"a fetch config already exists for this scope", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create fetch config", err)
	}
	return nil
}

// Update rewrites the tuning parameters of an existing row. The scope
// columns are immutable; delete and recreate to rescope.
func (r *FetchConfigRepository) Update(ctx context.Context, cfg *types.LeadFetchConfig) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_lead_fetch_config
		 SET per_request_limit = $1, daily_call_limit = $2, last_fetch_limit = $3,
		     assignment_ttl_hours = $4, old_lead_remove_days = $5
		 WHERE id = $6`,
		cfg.PerRequestLimit,
		cfg.DailyCallLimit,
		cfg.LastFetchLimit,
		cfg.AssignmentTTLHours,
		cfg.OldLeadRemoveDays,
		cfg.ID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update fetch config", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundConfig, "fetch config not found", nil)
	}
	return nil
}

// Delete removes a config row by ID.
func (r *FetchConfigRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM crm_lead_fetch_config WHERE id = $1`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete fetch config", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundConfig, "fetch config not found", nil)
	}
	return nil
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
