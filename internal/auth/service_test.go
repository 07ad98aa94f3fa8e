package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"brokerdesk/internal/types"
)

// --- Mock UserDB ---

type mockUserDB struct {
	mock.Mock
}

func (m *mockUserDB) GetByEmployeeCode(ctx context.Context, code string) (*types.User, error) {
	args := m.Called(ctx, code)
	if u := args.Get(0); u != nil {
		return u.(*types.User), args.Error(1)
	}
	return nil, args.Error(1)
}

// --- Mock PasswordHasher ---

type mockPasswordHasher struct {
	mock.Mock
}

func (m *mockPasswordHasher) CompareHashAndPassword(hashedPassword, password string) error {
	args := m.Called(hashedPassword, password)
	return args.Error(0)
}

func (m *mockPasswordHasher) GenerateFromPassword(password string) (string, error) {
	args := m.Called(password)
	return args.String(0), args.Error(1)
}

// --- Helpers ---

func activeUser() *types.User {
	return &types.User{
		EmployeeCode: "EMP001",
		Name:         "Ravi Kumar",
		Email:        "ravi@example.com",
		PasswordHash: "$2a$12$hash",
		Role:         types.RoleAdvisor,
		IsActive:     true,
	}
}

func newTestService(users UserDB, hasher PasswordHasher) *Service {
	return NewService(ServiceConfig{Users: users, Hasher: hasher})
}

// --- Tests ---

func TestLogin_Success(t *testing.T) {
	users := &mockUserDB{}
	hasher := &mockPasswordHasher{}
	users.On("GetByEmployeeCode", mock.Anything, "EMP001").Return(activeUser(), nil)
	hasher.On("CompareHashAndPassword", "$2a$12$hash", "correct-horse").Return(nil)

	svc := newTestService(users, hasher)

	user, err := svc.Login(context.Background(), "EMP001", "correct-horse")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "EMP001", user.EmployeeCode)
	users.AssertExpectations(t)
	hasher.AssertExpectations(t)
}

func TestLogin_UnknownEmployeeCode(t *testing.T) {
	users := &mockUserDB{}
	users.On("GetByEmployeeCode", mock.Anything, "GHOST").Return(nil, nil)

	svc := newTestService(users, &mockPasswordHasher{})

	_, err := svc.Login(context.Background(), "GHOST", "whatever")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthInvalidCreds, appErr.Code)
}

func TestLogin_WrongPassword(t *testing.T) {
	users := &mockUserDB{}
	hasher := &mockPasswordHasher{}
	users.On("GetByEmployeeCode", mock.Anything, "EMP001").Return(activeUser(), nil)
	hasher.On("CompareHashAndPassword", "$2a$12$hash", "wrong").
		Return(bcrypt.ErrMismatchedHashAndPassword)

	svc := newTestService(users, hasher)

	_, err := svc.Login(context.Background(), "EMP001", "wrong")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthInvalidCreds, appErr.Code)
}

func TestLogin_InactiveAccount(t *testing.T) {
	inactive := activeUser()
	inactive.IsActive = false

	users := &mockUserDB{}
	hasher := &mockPasswordHasher{}
	users.On("GetByEmployeeCode", mock.Anything, "EMP001").Return(inactive, nil)
	hasher.On("CompareHashAndPassword", "$2a$12$hash", "correct-horse").Return(nil)

	svc := newTestService(users, hasher)

	_, err := svc.Login(context.Background(), "EMP001", "correct-horse")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeAuthUserInactive, appErr.Code)
}

func TestLogin_LookupErrorSurfaces(t *testing.T) {
	users := &mockUserDB{}
	dbErr := types.NewAppError(types.ErrCodeInternalDB, "failed to get user", errors.New("conn refused"))
	users.On("GetByEmployeeCode", mock.Anything, "EMP001").Return(nil, dbErr)

	svc := newTestService(users, &mockPasswordHasher{})

	_, err := svc.Login(context.Background(), "EMP001", "pw")
	require.Error(t, err)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestHashPassword_RoundTrip(t *testing.T) {
	svc := NewService(ServiceConfig{Users: &mockUserDB{}})

	hash, err := svc.HashPassword("correct-horse")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct-horse")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("wrong")))
}
