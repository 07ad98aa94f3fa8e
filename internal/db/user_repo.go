package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"brokerdesk/internal/types"
)

// UserRepository provides data access for the crm_user_details table.
// GetByEmployeeCode satisfies the user lookup the scheduler's config
// resolver uses: a missing user is (nil, nil), not an error, so resolution
// can cascade.
type UserRepository struct {
	db DBTX
}

// NewUserRepository creates a new UserRepository backed by the given
// database connection (pool or transaction).
func NewUserRepository(db DBTX) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `u.employee_code, u.name, u.email, u.phone_number,
	u.password, u.role, u.branch_id, u.is_active, u.created_at, u.updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var user types.User
	err := row.Scan(
		&user.EmployeeCode,
		&user.Name,
		&user.Email,
		&user.Phone,
		&user.PasswordHash,
		&user.Role,
		&user.BranchID,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByEmployeeCode looks up a user by employee code. Returns (nil, nil)
// when no such user exists.
func (r *UserRepository) GetByEmployeeCode(ctx context.Context, code string) (*types.User, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+`
		 FROM crm_user_details u
		 WHERE u.employee_code = $1`,
		code,
	)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve user", err)
	}
	return user, nil
}

// Create inserts a new employee record. The caller must hash the password
// before calling.
func (r *UserRepository) Create(ctx context.Context, user *types.User) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO crm_user_details
		   (employee_code, name, email, phone_number, password, role,
		    branch_id, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`,
		user.EmployeeCode,
		user.Name,
		user.Email,
		user.Phone,
		user.PasswordHash,
		user.Role,
		user.BranchID,
		user.IsActive,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return types.NewAppError(types.ErrCodeConflictUserExists,
				"a user with this employee code already exists", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create user", err)
	}
	return nil
}

// SetActive toggles an employee's active flag. Inactive users cannot log in
// or claim leads.
func (r *UserRepository) SetActive(ctx context.Context, code string, active bool) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE crm_user_details SET is_active = $1, updated_at = NOW()
		 WHERE employee_code = $2`,
		active,
		code,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update user state", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundUser, "user not found", nil)
	}
	return nil
}
