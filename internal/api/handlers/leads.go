// Package handlers contains the HTTP handler implementations for the
// brokerdesk API: lead management, fetch configuration, scheduler control,
// payments, reports, and login.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/core"
	"brokerdesk/internal/db"
	"brokerdesk/internal/external"
	"brokerdesk/internal/scheduler"
	"brokerdesk/internal/types"
)

// --- Service Interfaces ---
//
// Interfaces are defined locally following the handler injection pattern;
// the concrete db repositories satisfy them.

// LeadStore defines the data access contract for lead operations.
type LeadStore interface {
	Create(ctx context.Context, lead *types.Lead) error
	GetByID(ctx context.Context, id int64) (*types.Lead, error)
	List(ctx context.Context, filter db.LeadFilter) ([]types.Lead, error)
	Update(ctx context.Context, lead *types.Lead) error
	UpdateResponse(ctx context.Context, leadID, responseID int64, now time.Time) error
	SoftDelete(ctx context.Context, id int64) error
	ClaimPool(ctx context.Context, branchID *int64, oldPool bool, limit int) ([]types.Lead, error)
	Assign(ctx context.Context, leadID int64, userID string, forConversion bool, deadline *time.Time) error
}

// AssignmentStore records and counts lead claims.
type AssignmentStore interface {
	Create(ctx context.Context, a *types.LeadAssignment) error
	CountFetchedSince(ctx context.Context, userID string, cutoff time.Time) (int, error)
}

// StoryStore appends and lists lead audit stories.
type StoryStore interface {
	Append(ctx context.Context, leadID int64, actor, message string) error
	ListByLead(ctx context.Context, leadID int64, limit int) ([]types.LeadStory, error)
}

// LeadUserStore resolves employee codes for the fetch flow.
type LeadUserStore interface {
	GetByEmployeeCode(ctx context.Context, code string) (*types.User, error)
}

// ScopedConfigStore looks up fetch configuration rows by exact scope.
type ScopedConfigStore interface {
	GetByScope(ctx context.Context, roleID *string, branchID *int64) (*types.LeadFetchConfig, error)
}

// --- Request Models ---

// CreateLeadRequest is the request body for POST /v1/leads.
type CreateLeadRequest struct {
	FullName string `json:"full_name" validate:"required,max=200"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Mobile   string `json:"mobile" validate:"required,min=10,max=15"`
	City     string `json:"city,omitempty" validate:"omitempty,max=100"`
	BranchID *int64 `json:"branch_id,omitempty"`
}

// UpdateLeadRequest is the request body for PATCH /v1/leads/{id}. Only
// contact fields are mutable through this route.
type UpdateLeadRequest struct {
	FullName *string `json:"full_name,omitempty" validate:"omitempty,max=200"`
	Email    *string `json:"email,omitempty" validate:"omitempty,email"`
	Mobile   *string `json:"mobile,omitempty" validate:"omitempty,min=10,max=15"`
	City     *string `json:"city,omitempty" validate:"omitempty,max=100"`
}

// RecordResponseRequest is the request body for POST /v1/leads/{id}/response.
type RecordResponseRequest struct {
	ResponseID int64 `json:"response_id" validate:"required,min=1"`
}

// FetchLeadsRequest is the request body for POST /v1/leads/fetch and
// /v1/old-leads/fetch. Limit is optional; the scoped per-request limit caps
// it either way.
type FetchLeadsRequest struct {
	EmployeeCode string `json:"employee_code" validate:"required,employee_code"`
	Limit        int    `json:"limit,omitempty" validate:"omitempty,min=1,max=1000"`
}

// FetchLeadsResponse reports the claimed leads and the limits applied.
type FetchLeadsResponse struct {
	Leads     []types.Lead `json:"leads"`
	Claimed   int          `json:"claimed"`
	Requested int          `json:"requested"`
}

// RecommendRequest is the request body for POST /v1/leads/{id}/recommendation.
type RecommendRequest struct {
	EmployeeCode string `json:"employee_code" validate:"required,employee_code"`
	Symbol       string `json:"symbol" validate:"required,min=1,max=20"`
}

// RecommendResponse returns the quote recorded on the lead's story.
type RecommendResponse struct {
	Quote *external.Quote `json:"quote"`
}

// --- Handler ---

// LeadHandler manages lead CRUD, response recording, pool claiming, and
// trading recommendations.
type LeadHandler struct {
	leads       LeadStore
	assignments AssignmentStore
	stories     StoryStore
	users       LeadUserStore
	configs     ScopedConfigStore
	quotes      external.QuoteProvider
	clock       scheduler.Clock
	validator   *core.Validator
	logger      *slog.Logger
}

// NewLeadHandler creates a LeadHandler with the provided dependencies. The
// quote provider may be nil; the recommendation route then reports the
// market data surface as unconfigured.
func NewLeadHandler(
	leads LeadStore,
	assignments AssignmentStore,
	stories StoryStore,
	users LeadUserStore,
	configs ScopedConfigStore,
	quotes external.QuoteProvider,
	clock scheduler.Clock,
	v *core.Validator,
	l *slog.Logger,
) *LeadHandler {
	if clock == nil {
		clock = scheduler.SystemClock()
	}
	if l == nil {
		l = slog.Default()
	}
	return &LeadHandler{
		leads:       leads,
		assignments: assignments,
		stories:     stories,
		users:       users,
		configs:     configs,
		quotes:      quotes,
		clock:       clock,
		validator:   v,
		logger:      l,
	}
}

// RegisterRoutes mounts lead routes on the provided chi.Router.
func (h *LeadHandler) RegisterRoutes(r chi.Router) {
	r.Route("/leads", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Post("/fetch", h.FetchFresh)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Patch("/", h.Update)
			r.Delete("/", h.Delete)
			r.Post("/response", h.RecordResponse)
			r.Post("/recommendation", h.Recommend)
			r.Get("/stories", h.ListStories)
		})
	})

	r.Post("/old-leads/fetch", h.FetchOld)
}

// --- Handler Methods ---

// Create handles POST /v1/leads.
func (h *LeadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateLeadRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	lead := &types.Lead{
		FullName: req.FullName,
		Email:    req.Email,
		Mobile:   req.Mobile,
		City:     req.City,
		BranchID: req.BranchID,
	}
	if err := h.leads.Create(r.Context(), lead); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "lead created", "lead_id", lead.ID)
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: lead})
}

// Get handles GET /v1/leads/{id}.
func (h *LeadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := leadIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	lead, err := h.leads.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: lead})
}

// List handles GET /v1/leads with optional branch_id, assigned_to,
// is_client, is_old_lead, limit, and offset query parameters.
func (h *LeadHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := leadFilterFromQuery(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	leads, err := h.leads.List(r.Context(), filter)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: leads})
}

// Update handles PATCH /v1/leads/{id}.
func (h *LeadHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := leadIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req UpdateLeadRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	lead, err := h.leads.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if req.FullName != nil {
		lead.FullName = *req.FullName
	}
	if req.Email != nil {
		lead.Email = *req.Email
	}
	if req.Mobile != nil {
		lead.Mobile = *req.Mobile
	}
	if req.City != nil {
		lead.City = *req.City
	}

	if err := h.leads.Update(r.Context(), lead); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: lead})
}

// Delete handles DELETE /v1/leads/{id} (soft delete).
func (h *LeadHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := leadIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.leads.SoftDelete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordResponse handles POST /v1/leads/{id}/response, marking the lead as
// worked and refreshing its activity timestamp.
func (h *LeadHandler) RecordResponse(w http.ResponseWriter, r *http.Request) {
	id, err := leadIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req RecordResponseRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()
	if err := h.leads.UpdateResponse(r.Context(), id, req.ResponseID, now); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Recommend handles POST /v1/leads/{id}/recommendation: look up the current
// quote for a symbol and record the recommendation on the lead's story.
func (h *LeadHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	id, err := leadIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	var req RecommendRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if h.quotes == nil {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeUpstreamMarketData, "market data surface is not configured", nil))
		return
	}

	ctx := r.Context()
	quote, err := h.quotes.GetQuote(ctx, req.Symbol)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	message := "Recommended " + quote.Symbol +
		" at " + strconv.FormatFloat(quote.LastPrice, 'f', 2, 64) +
		" (" + strconv.FormatFloat(quote.ChangePercent, 'f', 2, 64) + "%)"
	if err := h.stories.Append(ctx, id, req.EmployeeCode, message); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "recommendation recorded",
		"lead_id", id, "symbol", quote.Symbol, "employee_code", req.EmployeeCode)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: RecommendResponse{Quote: quote}})
}

// ListStories handles GET /v1/leads/{id}/stories.
func (h *LeadHandler) ListStories(w http.ResponseWriter, r *http.Request) {
	id, err := leadIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationLimitRange, "limit must be a positive integer", nil))
			return
		}
	}

	stories, err := h.stories.ListByLead(r.Context(), id, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: stories})
}

// FetchFresh handles POST /v1/leads/fetch: claim leads from the fresh pool.
func (h *LeadHandler) FetchFresh(w http.ResponseWriter, r *http.Request) {
	h.fetch(w, r, false)
}

// FetchOld handles POST /v1/old-leads/fetch: claim from the is_old_lead pool.
func (h *LeadHandler) FetchOld(w http.ResponseWriter, r *http.Request) {
	h.fetch(w, r, true)
}

// fetch implements the claim flow shared by both pools:
//  1. Resolve the requesting user and their scoped fetch configuration.
//  2. Enforce the daily call limit (claims since local midnight UTC).
//  3. Enforce held capacity: assignments fetched within the assignment TTL
//     count against last_fetch_limit.
//  4. Claim up to min(requested, per_request_limit, remaining capacity)
//     leads, assign each, record the assignment, and append a fetch story.
func (h *LeadHandler) fetch(w http.ResponseWriter, r *http.Request, oldPool bool) {
	var req FetchLeadsRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	ctx := r.Context()

	user, err := h.users.GetByEmployeeCode(ctx, req.EmployeeCode)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if user == nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil))
		return
	}
	if !user.IsActive {
		core.Error(w, r, types.NewAppError(types.ErrCodePermissionDenied, "account is not active", nil))
		return
	}

	cfg, err := h.resolveFetchConfig(ctx, user)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	now := h.clock.Now()

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	daily, err := h.assignments.CountFetchedSince(ctx, user.EmployeeCode, dayStart)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if daily >= cfg.DailyCallLimit {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeLimitDaily, "daily fetch limit reached", nil,
		).WithDetails(map[string]any{"daily_call_limit": cfg.DailyCallLimit}))
		return
	}

	ttlCutoff := now.Add(-time.Duration(cfg.AssignmentTTLHours) * time.Hour)
	held, err := h.assignments.CountFetchedSince(ctx, user.EmployeeCode, ttlCutoff)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if held >= cfg.LastFetchLimit {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeLimitFetchCap, "held lead capacity reached", nil,
		).WithDetails(map[string]any{
			"last_fetch_limit": cfg.LastFetchLimit,
			"currently_held":   held,
		}))
		return
	}

	requested := req.Limit
	if requested <= 0 || requested > cfg.PerRequestLimit {
		requested = cfg.PerRequestLimit
	}
	if capacity := cfg.LastFetchLimit - held; requested > capacity {
		requested = capacity
	}

	pool, err := h.leads.ClaimPool(ctx, user.BranchID, oldPool, requested)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	claimed := make([]types.Lead, 0, len(pool))
	for i := range pool {
		lead := pool[i]
		if err := h.leads.Assign(ctx, lead.ID, user.EmployeeCode, false, nil); err != nil {
			// Lost a race with a concurrent claim; skip and continue.
			h.logger.WarnContext(ctx, "lead claim lost race",
				"lead_id", lead.ID, "employee_code", user.EmployeeCode, "error", err)
			continue
		}

		if err := h.assignments.Create(ctx, &types.LeadAssignment{
			LeadID:    lead.ID,
			UserID:    user.EmployeeCode,
			FetchedAt: now,
		}); err != nil {
			core.Error(w, r, err)
			return
		}

		if err := h.stories.Append(ctx, lead.ID, user.EmployeeCode, "Lead fetched from pool"); err != nil {
			h.logger.ErrorContext(ctx, "failed to append fetch story",
				"lead_id", lead.ID, "error", err)
		}

		lead.AssignedToUser = &user.EmployeeCode
		claimed = append(claimed, lead)
	}

	h.logger.InfoContext(ctx, "leads fetched",
		"employee_code", user.EmployeeCode,
		"old_pool", oldPool,
		"claimed", len(claimed),
		"requested", requested,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: FetchLeadsResponse{
		Leads:     claimed,
		Claimed:   len(claimed),
		Requested: requested,
	}})
}

// resolveFetchConfig applies the scope precedence for the requesting user:
// (role, branch) then (role, nil) then (nil, branch) then package defaults.
func (h *LeadHandler) resolveFetchConfig(ctx context.Context, user *types.User) (types.LeadFetchConfig, error) {
	role := string(user.Role)

	scopes := []struct {
		roleID   *string
		branchID *int64
	}{
		{&role, user.BranchID},
		{&role, nil},
		{nil, user.BranchID},
	}

	for _, scope := range scopes {
		if scope.roleID == nil && scope.branchID == nil {
			continue
		}
		cfg, err := h.configs.GetByScope(ctx, scope.roleID, scope.branchID)
		if err != nil {
			return types.LeadFetchConfig{}, err
		}
		if cfg != nil {
			return *cfg, nil
		}
	}

	return scheduler.DefaultFetchConfig, nil
}

// --- Helpers ---

// leadIDParam parses the {id} route parameter.
func leadIDParam(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, types.NewAppError(
			types.ErrCodeValidationInvalidField, "lead id must be a positive integer", nil)
	}
	return id, nil
}

// leadFilterFromQuery builds a LeadFilter from query parameters.
func leadFilterFromQuery(r *http.Request) (db.LeadFilter, error) {
	q := r.URL.Query()
	var filter db.LeadFilter

	if raw := q.Get("branch_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, types.NewAppError(
				types.ErrCodeValidationInvalidField, "branch_id must be an integer", nil)
		}
		filter.BranchID = &v
	}
	if raw := q.Get("assigned_to"); raw != "" {
		filter.AssignedTo = &raw
	}
	for name, dst := range map[string]**bool{
		"is_client":   &filter.IsClient,
		"is_old_lead": &filter.IsOldLead,
	} {
		if raw := q.Get(name); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return filter, types.NewAppError(
					types.ErrCodeValidationInvalidField, name+" must be a boolean", nil)
			}
			*dst = &v
		}
	}
	if raw := q.Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			return filter, types.NewAppError(
				types.ErrCodeValidationLimitRange, "limit must be a positive integer", nil)
		}
		filter.Limit = v
	}
	if raw := q.Get("offset"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return filter, types.NewAppError(
				types.ErrCodeValidationInvalidField, "offset must be a non-negative integer", nil)
		}
		filter.Offset = v
	}

	return filter, nil
}
