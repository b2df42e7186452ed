package permissions

import "context"

// Store is the persistence boundary for user levels, permission rows, and
// assignments. Implementations hold no policy logic: every method is scoped to
// one tenant and must treat entities belonging to other tenants as missing.
type Store interface {
	// CreateLevel persists a new user level. Returns ErrConflict if the name
	// is already taken within the tenant.
	CreateLevel(ctx context.Context, level *UserLevel) error

	// GetLevel fetches a level by ID within a tenant.
	GetLevel(ctx context.Context, tenantID, levelID string) (*UserLevel, error)

	// ListLevels returns all levels of a tenant ordered by name.
	ListLevels(ctx context.Context, tenantID string) ([]*UserLevel, error)

	// UpdateLevel persists name/description changes. Returns ErrConflict if
	// the new name collides within the tenant.
	UpdateLevel(ctx context.Context, level *UserLevel) error

	// DeleteLevel removes a level and its permission rows. Returns
	// ErrConflict while any assignment still references the level.
	DeleteLevel(ctx context.Context, tenantID, levelID string) error

	// ViewPermissions returns the level's explicit view rows. Absent views
	// are implicitly inherit.
	ViewPermissions(ctx context.Context, tenantID, levelID string) ([]ViewPermission, error)

	// SetViewPermissions upserts the given view decisions for a level. A row
	// with StateInherit deletes any stored decision for that view.
	SetViewPermissions(ctx context.Context, tenantID, levelID string, rows []ViewPermission) error

	// FeaturePermissions returns the level's explicit feature rows.
	FeaturePermissions(ctx context.Context, tenantID, levelID string) ([]FeaturePermission, error)

	// SetFeaturePermissions upserts the given feature decisions for a level.
	// A row with StateInherit deletes any stored decision for that key.
	SetFeaturePermissions(ctx context.Context, tenantID, levelID string, rows []FeaturePermission) error

	// Assignments returns the user's level bindings within a tenant. An empty
	// result is a valid terminal state, not an error.
	Assignments(ctx context.Context, tenantID, userID string) ([]Assignment, error)

	// SetAssignments replaces the user's level bindings with the given set.
	SetAssignments(ctx context.Context, tenantID, userID string, levelIDs []string) error

	// UserIDsForLevel is the reverse index used by level-wide cache
	// invalidation: every user currently holding the level.
	UserIDsForLevel(ctx context.Context, tenantID, levelID string) ([]string, error)
}
