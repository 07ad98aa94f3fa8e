package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerdesk/internal/types"
)

type sampleRequest struct {
	EmployeeCode string `validate:"required,employee_code"`
	Role         string `validate:"required,user_role"`
	Email        string `validate:"omitempty,email"`
	Limit        int    `validate:"omitempty,min=1,max=100"`
}

func TestValidateStruct_Valid(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(sampleRequest{
		EmployeeCode: "EMP042",
		Role:         string(types.RoleAdvisor),
		Email:        "asha@example.com",
		Limit:        10,
	})
	assert.NoError(t, err)
}

func TestValidateStruct_CollectsFieldFailures(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(sampleRequest{
		EmployeeCode: "lowercase1",
		Role:         "WIZARD",
		Limit:        5000,
	})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeValidationInvalidField, appErr.Code)

	fields, ok := appErr.Details["fields"].(map[string]any)
	require.True(t, ok, "expected fields detail map")
	assert.Contains(t, fields, "employeecode")
	assert.Contains(t, fields, "role")
	assert.Contains(t, fields, "limit")
}

func TestValidateStruct_RequiredFields(t *testing.T) {
	v := NewValidator(nil)

	err := v.ValidateStruct(sampleRequest{})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))

	fields := appErr.Details["fields"].(map[string]any)
	assert.Equal(t, "is required", fields["employeecode"])
	assert.Equal(t, "is required", fields["role"])
}

func TestEmployeeCodePattern(t *testing.T) {
	valid := []string{"EMP1", "BA123456", "ADMN99"}
	invalid := []string{"emp1", "E1", "EMPLOYEE1234567", "1234"}

	for _, code := range valid {
		assert.True(t, employeeCodePattern.MatchString(code), "expected %q to be valid", code)
	}
	for _, code := range invalid {
		assert.False(t, employeeCodePattern.MatchString(code), "expected %q to be invalid", code)
	}
}
