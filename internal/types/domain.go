// Package types defines the domain model shared across the brokerdesk
// platform: leads, assignments, fetch configuration, audit stories, users,
// and payments, plus the AppError taxonomy used by every layer.
package types

import (
	"time"
)

// SystemActor is the sentinel actor identity recorded on audit stories
// written by automated jobs rather than a human user.
const SystemActor = "SYSTEM"

// Lead is the core domain entity: a prospect moving through the sales
// pipeline until it either converts to a client or is released back to
// the shared pool.
type Lead struct {
	ID int64 `json:"id" db:"id"`

	// Contact identity
	FullName string `json:"full_name,omitempty" db:"full_name"`
	Email    string `json:"email,omitempty" db:"email"`
	Mobile   string `json:"mobile,omitempty" db:"mobile"`
	City     string `json:"city,omitempty" db:"city"`

	// Pipeline state
	IsClient              bool       `json:"is_client" db:"is_client"`
	IsDeleted             bool       `json:"is_deleted" db:"is_delete"`
	IsOldLead             bool       `json:"is_old_lead" db:"is_old_lead"`
	AssignedToUser        *string    `json:"assigned_to_user,omitempty" db:"assigned_to_user"`
	AssignedForConversion bool       `json:"assigned_for_conversion" db:"assigned_for_conversion"`
	ConversionDeadline    *time.Time `json:"conversion_deadline,omitempty" db:"conversion_deadline"`

	// Work tracking. A non-nil LeadResponseID means the lead has been
	// worked at least once; ResponseChangedAt is the last time that
	// response was recorded.
	LeadResponseID    *int64     `json:"lead_response_id,omitempty" db:"lead_response_id"`
	ResponseChangedAt *time.Time `json:"response_changed_at,omitempty" db:"response_changed_at"`

	// Scoping
	BranchID *int64 `json:"branch_id,omitempty" db:"branch_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// LeadAssignment represents the current claim on a lead by a single user.
// At most one assignment row exists per lead at any time.
type LeadAssignment struct {
	ID        int64     `json:"id" db:"id"`
	LeadID    int64     `json:"lead_id" db:"lead_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	FetchedAt time.Time `json:"fetched_at" db:"fetched_at"`
}

// LeadFetchConfig holds scoped tuning parameters for lead claiming and
// lifecycle rules. RoleID and BranchID are both nullable; a row scoped to
// both is the most specific. Rows are read-only from the scheduler's
// perspective.
type LeadFetchConfig struct {
	ID       int64   `json:"id" db:"id"`
	RoleID   *string `json:"role_id,omitempty" db:"role_id"`
	BranchID *int64  `json:"branch_id,omitempty" db:"branch_id"`

	PerRequestLimit    int `json:"per_request_limit" db:"per_request_limit" validate:"required,min=1,max=1000"`
	DailyCallLimit     int `json:"daily_call_limit" db:"daily_call_limit" validate:"required,min=1,max=1000"`
	LastFetchLimit     int `json:"last_fetch_limit" db:"last_fetch_limit" validate:"required,min=1,max=500"`
	AssignmentTTLHours int `json:"assignment_ttl_hours" db:"assignment_ttl_hours" validate:"required,min=1,max=720"`
	OldLeadRemoveDays  int `json:"old_lead_remove_days" db:"old_lead_remove_days" validate:"required,min=1,max=365"`
}

// LeadStory is an append-only audit trail entry attached to a lead. Stories
// are never updated or deleted by the platform; the acting user is either a
// real employee code or the SystemActor sentinel.
type LeadStory struct {
	ID        int64     `json:"id" db:"id"`
	LeadID    int64     `json:"lead_id" db:"lead_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Message   string    `json:"message" db:"msg"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// User is an employee of the brokerage, keyed by employee code.
type User struct {
	EmployeeCode string    `json:"employee_code" db:"employee_code"`
	Name         string    `json:"name" db:"name"`
	Email        string    `json:"email" db:"email"`
	Phone        string    `json:"phone,omitempty" db:"phone_number"`
	PasswordHash string    `json:"-" db:"password"`
	Role         UserRole  `json:"role" db:"role"`
	BranchID     *int64    `json:"branch_id,omitempty" db:"branch_id"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Payment records a client payment processed through the gateway.
type Payment struct {
	ID            int64         `json:"id" db:"id"`
	LeadID        *int64        `json:"lead_id,omitempty" db:"lead_id"`
	Name          string        `json:"name" db:"name"`
	Email         string        `json:"email" db:"email"`
	Phone         string        `json:"phone" db:"phone_number"`
	OrderID       string        `json:"order_id,omitempty" db:"order_id"`
	Service       string        `json:"service,omitempty" db:"service"`
	Amount        float64       `json:"amount" db:"paid_amount"`
	Status        PaymentStatus `json:"status" db:"status"`
	Mode          string        `json:"mode" db:"mode"`
	TransactionID string        `json:"transaction_id,omitempty" db:"transaction_id"`
	Description   string        `json:"description,omitempty" db:"description"`
	BranchID      *int64        `json:"branch_id,omitempty" db:"branch_id"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}
