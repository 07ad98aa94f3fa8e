package core

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"brokerdesk/internal/types"
)

// employeeCodePattern matches the corporate employee code format: two to
// four uppercase letters followed by digits.
var employeeCodePattern = regexp.MustCompile(`^[A-Z]{2,4}[0-9]{1,6}$`)

// Validator wraps go-playground/validator with domain-specific rules.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers custom validation tags.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}

	v := validator.New(validator.WithRequiredStructEnabled())

	// Tag registration never fails for a non-empty tag name and non-nil fn.
	_ = v.RegisterValidation("employee_code", func(fl validator.FieldLevel) bool {
		return employeeCodePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("user_role", func(fl validator.FieldLevel) bool {
		switch types.UserRole(fl.Field().String()) {
		case types.RoleAdmin, types.RoleBranchHead, types.RoleSalesManager,
			types.RoleTeamLead, types.RoleAdvisor:
			return true
		}
		return false
	})

	return &Validator{
		validate: v,
		logger:   logger,
	}
}

// ValidateStruct validates a request struct against its validate tags. On
// failure it returns a *types.AppError with per-field details suitable for
// the error envelope.
func (v *Validator) ValidateStruct(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to validate request", err)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = failureMessage(fe)
	}

	return types.NewAppError(
		types.ErrCodeValidationInvalidField,
		"request validation failed",
		nil,
	).WithDetails(map[string]any{"fields": fields})
}

// failureMessage renders a human-readable reason for a single field failure.
func failureMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "employee_code":
		return "must be a valid employee code"
	case "user_role":
		return "must be a valid role"
	default:
		return "failed rule: " + fe.Tag()
	}
}
