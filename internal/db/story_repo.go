package db

import (
	"context"

	"brokerdesk/internal/types"
)

// StoryRepository is the append-only audit sink over the crm_lead_story
// table. The instance used by the lifecycle jobs is bound to the pool, not
// the job transaction, so audit entries and job mutations are deliberately
// not atomic together: an entry can land even when the job's later commit
// fails, and vice versa.
type StoryRepository struct {
	db DBTX
}

// NewStoryRepository creates a new StoryRepository backed by the given
// database connection (pool or transaction).
func NewStoryRepository(db DBTX) *StoryRepository {
	return &StoryRepository{db: db}
}

// Append writes one audit entry for a lead. The actor is an employee code
// or the SYSTEM sentinel. Stories are never updated or deleted.
func (r *StoryRepository) Append(ctx context.Context, leadID int64, actor, message string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO crm_lead_story (lead_id, user_id, msg, timestamp)
		 VALUES ($1, $2, $3, NOW())`,
		leadID,
		actor,
		message,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to append lead story", err)
	}
	return nil
}

// ListByLead returns a lead's audit trail, newest first.
func (r *StoryRepository) ListByLead(ctx context.Context, leadID int64, limit int) ([]types.LeadStory, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.Query(ctx,
		`SELECT s.id, s.lead_id, s.user_id, s.msg, s.timestamp
		 FROM crm_lead_story s
		 WHERE s.lead_id = $1
		 ORDER BY s.timestamp DESC, s.id DESC
		 LIMIT $2`,
		leadID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list lead stories", err)
	}
	defer rows.Close()

	var stories []types.LeadStory
	for rows.Next() {
		var s types.LeadStory
		if err := rows.Scan(&s.ID, &s.LeadID, &s.UserID, &s.Message, &s.Timestamp); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan lead story", err)
		}
		stories = append(stories, s)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "lead story scan failed", err)
	}
	return stories, nil
}
