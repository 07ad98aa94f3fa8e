package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"brokerdesk/internal/core"
	"brokerdesk/internal/types"
)

// Authenticator verifies employee credentials.
type Authenticator interface {
	Login(ctx context.Context, employeeCode, password string) (*types.User, error)
}

// LoginRequest is the request body for POST /v1/auth/login.
type LoginRequest struct {
	EmployeeCode string `json:"employee_code" validate:"required,employee_code"`
	Password     string `json:"password" validate:"required,min=8,max=128"`
}

// LoginResponse returns the authenticated user profile. The password hash
// never leaves the server; json omits it at the type level.
type LoginResponse struct {
	User *types.User `json:"user"`
}

// AuthHandler exposes the credential verification endpoint.
type AuthHandler struct {
	auth      Authenticator
	validator *core.Validator
	logger    *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(auth Authenticator, v *core.Validator, l *slog.Logger) *AuthHandler {
	if l == nil {
		l = slog.Default()
	}
	return &AuthHandler{auth: auth, validator: v, logger: l}
}

// RegisterRoutes mounts auth routes on the provided chi.Router.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/login", h.Login)
}

// Login handles POST /v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	user, err := h.auth.Login(r.Context(), req.EmployeeCode, req.Password)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "user logged in",
		"employee_code", user.EmployeeCode, "role", string(user.Role))
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: LoginResponse{User: user}})
}
