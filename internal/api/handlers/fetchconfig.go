package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/core"
	"brokerdesk/internal/types"
)

// FetchConfigStore defines the data access contract for fetch configuration
// management.
type FetchConfigStore interface {
	Create(ctx context.Context, cfg *types.LeadFetchConfig) error
	GetByID(ctx context.Context, id int64) (*types.LeadFetchConfig, error)
	List(ctx context.Context) ([]types.LeadFetchConfig, error)
	Update(ctx context.Context, cfg *types.LeadFetchConfig) error
	Delete(ctx context.Context, id int64) error
}

// UpsertFetchConfigRequest is the request body for creating or updating a
// fetch configuration row. RoleID and BranchID form the scope; both nil is
// rejected since the compiled-in default covers the global scope.
type UpsertFetchConfigRequest struct {
	RoleID             *string `json:"role_id,omitempty" validate:"omitempty,user_role"`
	BranchID           *int64  `json:"branch_id,omitempty" validate:"omitempty,min=1"`
	PerRequestLimit    int     `json:"per_request_limit" validate:"required,min=1,max=1000"`
	DailyCallLimit     int     `json:"daily_call_limit" validate:"required,min=1,max=10000"`
	LastFetchLimit     int     `json:"last_fetch_limit" validate:"required,min=1,max=1000"`
	AssignmentTTLHours int     `json:"assignment_ttl_hours" validate:"required,min=1,max=720"`
	OldLeadRemoveDays  int     `json:"old_lead_remove_days" validate:"required,min=1,max=3650"`
}

// FetchConfigHandler manages lead fetch configuration CRUD.
type FetchConfigHandler struct {
	configs   FetchConfigStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewFetchConfigHandler creates a FetchConfigHandler.
func NewFetchConfigHandler(configs FetchConfigStore, v *core.Validator, l *slog.Logger) *FetchConfigHandler {
	if l == nil {
		l = slog.Default()
	}
	return &FetchConfigHandler{configs: configs, validator: v, logger: l}
}

// RegisterRoutes mounts fetch configuration routes on the provided chi.Router.
func (h *FetchConfigHandler) RegisterRoutes(r chi.Router) {
	r.Route("/fetch-configs", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Put("/", h.Update)
			r.Delete("/", h.Delete)
		})
	})
}

// Create handles POST /v1/fetch-configs.
func (h *FetchConfigHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeUpsert(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	cfg := req.toConfig()
	if err := h.configs.Create(r.Context(), cfg); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "fetch config created",
		"config_id", cfg.ID, "role_id", derefStr(cfg.RoleID), "branch_id", derefInt64(cfg.BranchID))
	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: cfg})
}

// Get handles GET /v1/fetch-configs/{id}.
func (h *FetchConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := configIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	cfg, err := h.configs.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: cfg})
}

// List handles GET /v1/fetch-configs.
func (h *FetchConfigHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.configs.List(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: configs})
}

// Update handles PUT /v1/fetch-configs/{id}. The scope is immutable; only
// the limit values change.
func (h *FetchConfigHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := configIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	req, err := h.decodeUpsert(w, r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	existing, err := h.configs.GetByID(r.Context(), id)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	existing.PerRequestLimit = req.PerRequestLimit
	existing.DailyCallLimit = req.DailyCallLimit
	existing.LastFetchLimit = req.LastFetchLimit
	existing.AssignmentTTLHours = req.AssignmentTTLHours
	existing.OldLeadRemoveDays = req.OldLeadRemoveDays

	if err := h.configs.Update(r.Context(), existing); err != nil {
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: existing})
}

// Delete handles DELETE /v1/fetch-configs/{id}.
func (h *FetchConfigHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := configIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.configs.Delete(r.Context(), id); err != nil {
		core.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FetchConfigHandler) decodeUpsert(w http.ResponseWriter, r *http.Request) (*UpsertFetchConfigRequest, error) {
	var req UpsertFetchConfigRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return nil, err
	}
	if req.RoleID == nil && req.BranchID == nil {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"at least one of role_id or branch_id is required", nil)
	}
	return &req, nil
}

func (req *UpsertFetchConfigRequest) toConfig() *types.LeadFetchConfig {
	return &types.LeadFetchConfig{
		RoleID:             req.RoleID,
		BranchID:           req.BranchID,
		PerRequestLimit:    req.PerRequestLimit,
		DailyCallLimit:     req.DailyCallLimit,
		LastFetchLimit:     req.LastFetchLimit,
		AssignmentTTLHours: req.AssignmentTTLHours,
		OldLeadRemoveDays:  req.OldLeadRemoveDays,
	}
}

func configIDParam(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, types.NewAppError(
			types.ErrCodeValidationInvalidField, "config id must be a positive integer", nil)
	}
	return id, nil
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt64(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
