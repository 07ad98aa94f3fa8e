package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"brokerdesk/internal/types"
)

// ConfigSource is the provenance tag identifying which precedence level a
// resolved fetch configuration came from. It is recorded on audit stories
// so operators can tell which scope drove a release decision.
type ConfigSource string

const (
	ConfigSourceRoleBranch   ConfigSource = "role_branch"
	ConfigSourceRoleGlobal   ConfigSource = "role_global"
	ConfigSourceBranchGlobal ConfigSource = "branch_global"
	ConfigSourceDefault      ConfigSource = "default"
)

// DefaultFetchConfig is the compiled-in fallback used when no stored config
// row matches a lead. It shares the field contract of stored rows; callers
// must treat it as read-only.
var DefaultFetchConfig = types.LeadFetchConfig{
	PerRequestLimit:    100,
	DailyCallLimit:     50,
	LastFetchLimit:     10,
	AssignmentTTLHours: 24,
	OldLeadRemoveDays:  30,
}

// FetchConfigDB is the config store lookup the resolver needs. A miss is
// reported as (nil, nil), not an error.
type FetchConfigDB interface {
	// GetByScope returns the config row exactly matching the given scope.
	// Either side may be nil to match a NULL column.
	GetByScope(ctx context.Context, roleID *string, branchID *int64) (*types.LeadFetchConfig, error)
}

// UserDB resolves a user's role and branch from an employee code.
// A missing user is reported as (nil, nil).
type UserDB interface {
	GetByEmployeeCode(ctx context.Context, code string) (*types.User, error)
}

// ConfigResolver determines the effective fetch configuration for a lead via
// a precedence cascade:
//
//  1. assignee (role, branch)  -> role_branch
//  2. assignee (role, NULL)    -> role_global
//  3. lead     (NULL, branch)  -> branch_global
//  4. compiled-in defaults     -> default
//
// Lookup misses cascade to the next level; only store errors surface.
type ConfigResolver struct {
	configs FetchConfigDB
	users   UserDB
	logger  *slog.Logger
}

// NewConfigResolver creates a ConfigResolver.
func NewConfigResolver(configs FetchConfigDB, users UserDB, logger *slog.Logger) *ConfigResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConfigResolver{
		configs: configs,
		users:   users,
		logger:  logger,
	}
}

// roleKey normalizes a role to a comparable string key. Upstream systems
// have represented roles as enums, integers, and strings; comparing the
// trimmed string form avoids type-mismatch false negatives.
func roleKey(role types.UserRole) string {
	return strings.TrimSpace(string(role))
}

// Resolve returns the effective configuration for the lead plus its
// provenance tag.
func (r *ConfigResolver) Resolve(ctx context.Context, lead *types.Lead) (types.LeadFetchConfig, ConfigSource, error) {
	var (
		role   string
		branch *int64
	)

	if lead.AssignedToUser != nil && *lead.AssignedToUser != "" {
		user, err := r.users.GetByEmployeeCode(ctx, *lead.AssignedToUser)
		if err != nil {
			return types.LeadFetchConfig{}, "", fmt.Errorf("looking up assignee %s: %w", *lead.AssignedToUser, err)
		}
		if user != nil {
			role = roleKey(user.Role)
			branch = user.BranchID
		}
	}

	// 1) assignee role + branch
	if role != "" && branch != nil {
		cfg, err := r.configs.GetByScope(ctx, &role, branch)
		if err != nil {
			return types.LeadFetchConfig{}, "", fmt.Errorf("config lookup (role, branch): %w", err)
		}
		if cfg != nil {
			return *cfg, ConfigSourceRoleBranch, nil
		}
	}

	// 2) assignee role, any branch
	if role != "" {
		cfg, err := r.configs.GetByScope(ctx, &role, nil)
		if err != nil {
			return types.LeadFetchConfig{}, "", fmt.Errorf("config lookup (role, NULL): %w", err)
		}
		if cfg != nil {
			return *cfg, ConfigSourceRoleGlobal, nil
		}
	}

	// 3) lead branch, any role
	if lead.BranchID != nil {
		cfg, err := r.configs.GetByScope(ctx, nil, lead.BranchID)
		if err != nil {
			return types.LeadFetchConfig{}, "", fmt.Errorf("config lookup (NULL, branch): %w", err)
		}
		if cfg != nil {
			return *cfg, ConfigSourceBranchGlobal, nil
		}
	}

	// 4) compiled-in defaults
	return DefaultFetchConfig, ConfigSourceDefault, nil
}
