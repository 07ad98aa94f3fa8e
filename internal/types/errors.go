package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers MUST use these constants instead of
// hardcoded strings.
const (
	// Validation (400)
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField ErrorCode = "validation_invalid_field"
	ErrCodeValidationInvalidEmail ErrorCode = "validation_invalid_email"
	ErrCodeValidationLimitRange   ErrorCode = "validation_limit_out_of_range"

	// Auth (401)
	ErrCodeAuthInvalidCreds ErrorCode = "auth_invalid_credentials"
	ErrCodeAuthInvalidToken ErrorCode = "auth_invalid_token"
	ErrCodeAuthUserInactive ErrorCode = "auth_account_not_active"

	// Permission (403)
	ErrCodePermissionDenied ErrorCode = "permission_denied"

	// Limits (429)
	ErrCodeLimitFetchCap ErrorCode = "limit_fetch_capacity_exceeded"
	ErrCodeLimitDaily    ErrorCode = "limit_daily_calls_exceeded"

	// Not Found (404)
	ErrCodeNotFoundLead       ErrorCode = "not_found_lead"
	ErrCodeNotFoundUser       ErrorCode = "not_found_user"
	ErrCodeNotFoundConfig     ErrorCode = "not_found_fetch_config"
	ErrCodeNotFoundAssignment ErrorCode = "not_found_assignment"
	ErrCodeNotFoundPayment    ErrorCode = "not_found_payment"
	ErrCodeNotFoundJob        ErrorCode = "not_found_scheduler_job"

	// Conflict (409)
	ErrCodeConflictConfigScope ErrorCode = "conflict_config_scope_exists"
	ErrCodeConflictAssigned    ErrorCode = "conflict_lead_already_assigned"
	ErrCodeConflictScheduler   ErrorCode = "conflict_scheduler_state"
	ErrCodeConflictUserExists  ErrorCode = "conflict_user_exists"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamGateway    ErrorCode = "upstream_payment_gateway_unavailable"
	ErrCodeUpstreamWhatsApp   ErrorCode = "upstream_whatsapp_unavailable"
	ErrCodeUpstreamMarketData ErrorCode = "upstream_market_data_unavailable"
	ErrCodeUpstreamQueue      ErrorCode = "upstream_queue_unavailable"
	ErrCodeUpstreamRateLimit  ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamDown       ErrorCode = "upstream_unavailable"

	// Payment-specific
	ErrCodePaymentDeclined ErrorCode = "payment_declined"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case s == string(ErrCodeAuthUserInactive):
		return http.StatusForbidden
	case strings.HasPrefix(s, "auth_"):
		return http.StatusUnauthorized
	case strings.HasPrefix(s, "permission_"):
		return http.StatusForbidden
	case strings.HasPrefix(s, "limit_"):
		return http.StatusTooManyRequests
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case s == string(ErrCodePaymentDeclined):
		return http.StatusPaymentRequired
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type used throughout the
// platform. All domain and handler errors should be expressed as AppError to
// enable consistent error formatting, HTTP status mapping, and error chain
// support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a copy of the error with the provided details merged in.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Details: merged,
	}
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error. This is the standard constructor for domain
// errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
