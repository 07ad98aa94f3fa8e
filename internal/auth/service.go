// Package auth implements password verification for the brokerdesk back
// office. Employees authenticate with their employee code; session issuance
// is handled upstream by the corporate SSO proxy.
package auth

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/crypto/bcrypt"

	"brokerdesk/internal/types"
)

// bcryptCost is the bcrypt cost factor used for password hashing.
const bcryptCost = 12

// UserDB defines the data access methods needed by the Service. The db
// package's UserRepository satisfies it.
type UserDB interface {
	GetByEmployeeCode(ctx context.Context, code string) (*types.User, error)
}

// PasswordHasher abstracts bcrypt operations for testability.
type PasswordHasher interface {
	CompareHashAndPassword(hashedPassword, password string) error
	GenerateFromPassword(password string) (string, error)
}

// bcryptHasher is the production implementation of PasswordHasher.
type bcryptHasher struct{}

func (b *bcryptHasher) CompareHashAndPassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func (b *bcryptHasher) GenerateFromPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Service verifies employee credentials.
type Service struct {
	users  UserDB
	hasher PasswordHasher
	logger *slog.Logger
}

// ServiceConfig holds the dependencies for creating a Service.
type ServiceConfig struct {
	Users  UserDB
	Hasher PasswordHasher
	Logger *slog.Logger
}

// NewService creates a Service. If Hasher is nil, the production bcrypt
// hasher is used. If Logger is nil, slog.Default() is used.
func NewService(cfg ServiceConfig) *Service {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = &bcryptHasher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:  cfg.Users,
		hasher: hasher,
		logger: logger,
	}
}

// Login verifies an employee code and password pair and returns the user on
// success. Unknown codes and wrong passwords return the same error code so
// responses do not leak which part failed.
func (s *Service) Login(ctx context.Context, employeeCode string, password string) (*types.User, error) {
	user, err := s.users.GetByEmployeeCode(ctx, employeeCode)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid employee code or password", nil)
	}

	if err := s.hasher.CompareHashAndPassword(user.PasswordHash, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.InfoContext(ctx, "login rejected",
				"employee_code", employeeCode,
			)
			return nil, types.NewAppError(types.ErrCodeAuthInvalidCreds, "invalid employee code or password", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to verify password", err)
	}

	if !user.IsActive {
		return nil, types.NewAppError(types.ErrCodeAuthUserInactive, "account is not active", nil)
	}

	s.logger.InfoContext(ctx, "login succeeded",
		"employee_code", user.EmployeeCode,
		"role", string(user.Role),
	)
	return user, nil
}

// HashPassword produces a bcrypt hash for storage at user creation.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := s.hasher.GenerateFromPassword(password)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to hash password", err)
	}
	return hash, nil
}
