package permissions

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one schema step applied by EnsureSchema.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations returns the permission-store schema in order.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create user_levels table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_levels (
					id VARCHAR(36) PRIMARY KEY,
					tenant_id VARCHAR(36) NOT NULL,
					name VARCHAR(255) NOT NULL,
					description TEXT,
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
					UNIQUE(tenant_id, name)
				);

				CREATE INDEX IF NOT EXISTS idx_user_levels_tenant_id ON user_levels(tenant_id);
			`,
		},
		{
			Version:     2,
			Description: "Create view_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS view_permissions (
					user_level_id VARCHAR(36) NOT NULL REFERENCES user_levels(id) ON DELETE CASCADE,
					view_id VARCHAR(255) NOT NULL,
					state VARCHAR(10) NOT NULL,
					PRIMARY KEY (user_level_id, view_id)
				);
			`,
		},
		{
			Version:     3,
			Description: "Create feature_permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS feature_permissions (
					user_level_id VARCHAR(36) NOT NULL REFERENCES user_levels(id) ON DELETE CASCADE,
					feature_id VARCHAR(255) NOT NULL,
					action VARCHAR(50) NOT NULL,
					state VARCHAR(10) NOT NULL,
					scope VARCHAR(10) NOT NULL DEFAULT 'none',
					PRIMARY KEY (user_level_id, feature_id, action)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create user_level_assignments table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_level_assignments (
					tenant_id VARCHAR(36) NOT NULL,
					user_id VARCHAR(36) NOT NULL,
					user_level_id VARCHAR(36) NOT NULL REFERENCES user_levels(id),
					PRIMARY KEY (tenant_id, user_id, user_level_id)
				);

				CREATE INDEX IF NOT EXISTS idx_assignments_user ON user_level_assignments(tenant_id, user_id);
				CREATE INDEX IF NOT EXISTS idx_assignments_level ON user_level_assignments(user_level_id);
			`,
		},
	}
}

// EnsureSchema applies all migrations. Steps are idempotent.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, m := range Migrations() {
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}
