package permissions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// pq error code for unique constraint violations.
const pqUniqueViolation = "23505"

// SQLStore is the PostgreSQL-backed Store.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle. Call EnsureSchema separately
// when the deployment owns the schema.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// CreateLevel persists a new user level.
func (s *SQLStore) CreateLevel(ctx context.Context, level *UserLevel) error {
	query := `
		INSERT INTO user_levels (id, tenant_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		level.ID, level.TenantID, level.Name, level.Description, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: level name %q already taken", ErrConflict, level.Name)
		}
		return storeErr("create level", err)
	}

	level.CreatedAt = now
	level.UpdatedAt = now
	return nil
}

// GetLevel fetches a level by ID within a tenant.
func (s *SQLStore) GetLevel(ctx context.Context, tenantID, levelID string) (*UserLevel, error) {
	query := `
		SELECT id, tenant_id, name, description, created_at, updated_at
		FROM user_levels
		WHERE id = $1 AND tenant_id = $2
	`

	var level UserLevel
	err := s.db.QueryRowContext(ctx, query, levelID, tenantID).Scan(
		&level.ID, &level.TenantID, &level.Name, &level.Description,
		&level.CreatedAt, &level.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: user level %s", ErrNotFound, levelID)
	}
	if err != nil {
		return nil, storeErr("get level", err)
	}
	return &level, nil
}

// ListLevels returns all levels of a tenant ordered by name.
func (s *SQLStore) ListLevels(ctx context.Context, tenantID string) ([]*UserLevel, error) {
	query := `
		SELECT id, tenant_id, name, description, created_at, updated_at
		FROM user_levels
		WHERE tenant_id = $1
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, storeErr("list levels", err)
	}
	defer rows.Close()

	var levels []*UserLevel
	for rows.Next() {
		var level UserLevel
		if err := rows.Scan(&level.ID, &level.TenantID, &level.Name, &level.Description,
			&level.CreatedAt, &level.UpdatedAt); err != nil {
			return nil, storeErr("scan level", err)
		}
		levels = append(levels, &level)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list levels", err)
	}
	return levels, nil
}

// UpdateLevel persists name/description changes.
func (s *SQLStore) UpdateLevel(ctx context.Context, level *UserLevel) error {
	query := `
		UPDATE user_levels
		SET name = $1, description = $2, updated_at = $3
		WHERE id = $4 AND tenant_id = $5
	`

	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx, query,
		level.Name, level.Description, now, level.ID, level.TenantID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: level name %q already taken", ErrConflict, level.Name)
		}
		return storeErr("update level", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("update level", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user level %s", ErrNotFound, level.ID)
	}

	level.UpdatedAt = now
	return nil
}

// DeleteLevel removes a level and its permission rows.
func (s *SQLStore) DeleteLevel(ctx context.Context, tenantID, levelID string) error {
	var assigned int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_level_assignments WHERE user_level_id = $1`, levelID).Scan(&assigned)
	if err != nil {
		return storeErr("count assignments", err)
	}
	if assigned > 0 {
		return fmt.Errorf("%w: level %s has active assignments", ErrConflict, levelID)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM user_levels WHERE id = $1 AND tenant_id = $2`, levelID, tenantID)
	if err != nil {
		return storeErr("delete level", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storeErr("delete level", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: user level %s", ErrNotFound, levelID)
	}
	return nil
}

// ViewPermissions returns the level's explicit view rows.
func (s *SQLStore) ViewPermissions(ctx context.Context, tenantID, levelID string) ([]ViewPermission, error) {
	query := `
		SELECT vp.user_level_id, vp.view_id, vp.state
		FROM view_permissions vp
		JOIN user_levels ul ON ul.id = vp.user_level_id
		WHERE vp.user_level_id = $1 AND ul.tenant_id = $2
		ORDER BY vp.view_id
	`

	rows, err := s.db.QueryContext(ctx, query, levelID, tenantID)
	if err != nil {
		return nil, storeErr("query view permissions", err)
	}
	defer rows.Close()

	var perms []ViewPermission
	for rows.Next() {
		var p ViewPermission
		var state string
		if err := rows.Scan(&p.UserLevelID, &p.ViewID, &state); err != nil {
			return nil, storeErr("scan view permission", err)
		}
		if p.State, err = ParseViewState(state); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query view permissions", err)
	}
	return perms, nil
}

// SetViewPermissions upserts view decisions for a level inside one
// transaction.
func (s *SQLStore) SetViewPermissions(ctx context.Context, tenantID, levelID string, rows []ViewPermission) error {
	if _, err := s.GetLevel(ctx, tenantID, levelID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO view_permissions (user_level_id, view_id, state)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_level_id, view_id)
		DO UPDATE SET state = EXCLUDED.state
	`
	for _, row := range rows {
		if row.State == StateInherit {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM view_permissions WHERE user_level_id = $1 AND view_id = $2`,
				levelID, row.ViewID); err != nil {
				return storeErr("delete view permission", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert, levelID, row.ViewID, row.State.String()); err != nil {
			return storeErr("upsert view permission", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit view permissions", err)
	}
	return nil
}

// FeaturePermissions returns the level's explicit feature rows.
func (s *SQLStore) FeaturePermissions(ctx context.Context, tenantID, levelID string) ([]FeaturePermission, error) {
	query := `
		SELECT fp.user_level_id, fp.feature_id, fp.action, fp.state, fp.scope
		FROM feature_permissions fp
		JOIN user_levels ul ON ul.id = fp.user_level_id
		WHERE fp.user_level_id = $1 AND ul.tenant_id = $2
		ORDER BY fp.feature_id, fp.action
	`

	rows, err := s.db.QueryContext(ctx, query, levelID, tenantID)
	if err != nil {
		return nil, storeErr("query feature permissions", err)
	}
	defer rows.Close()

	var perms []FeaturePermission
	for rows.Next() {
		var p FeaturePermission
		var state, scope, action string
		if err := rows.Scan(&p.UserLevelID, &p.FeatureID, &action, &state, &scope); err != nil {
			return nil, storeErr("scan feature permission", err)
		}
		p.Action = Action(action)
		if p.State, err = ParseViewState(state); err != nil {
			return nil, err
		}
		if p.Scope, err = ParseScope(scope); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query feature permissions", err)
	}
	return perms, nil
}

// SetFeaturePermissions upserts feature decisions for a level inside one
// transaction.
func (s *SQLStore) SetFeaturePermissions(ctx context.Context, tenantID, levelID string, rows []FeaturePermission) error {
	if _, err := s.GetLevel(ctx, tenantID, levelID); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	upsert := `
		INSERT INTO feature_permissions (user_level_id, feature_id, action, state, scope)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_level_id, feature_id, action)
		DO UPDATE SET state = EXCLUDED.state, scope = EXCLUDED.scope
	`
	for _, row := range rows {
		if row.State == StateInherit {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM feature_permissions WHERE user_level_id = $1 AND feature_id = $2 AND action = $3`,
				levelID, row.FeatureID, string(row.Action)); err != nil {
				return storeErr("delete feature permission", err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, upsert,
			levelID, row.FeatureID, string(row.Action), row.State.String(), row.Scope.String()); err != nil {
			return storeErr("upsert feature permission", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit feature permissions", err)
	}
	return nil
}

// Assignments returns the user's level bindings within a tenant.
func (s *SQLStore) Assignments(ctx context.Context, tenantID, userID string) ([]Assignment, error) {
	query := `
		SELECT tenant_id, user_id, user_level_id
		FROM user_level_assignments
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY user_level_id
	`

	rows, err := s.db.QueryContext(ctx, query, tenantID, userID)
	if err != nil {
		return nil, storeErr("query assignments", err)
	}
	defer rows.Close()

	var assignments []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.TenantID, &a.UserID, &a.UserLevelID); err != nil {
			return nil, storeErr("scan assignment", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query assignments", err)
	}
	return assignments, nil
}

// SetAssignments replaces the user's level bindings inside one transaction.
func (s *SQLStore) SetAssignments(ctx context.Context, tenantID, userID string, levelIDs []string) error {
	if len(levelIDs) > 0 {
		var count int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM user_levels WHERE tenant_id = $1 AND id = ANY($2)`,
			tenantID, pq.Array(levelIDs)).Scan(&count)
		if err != nil {
			return storeErr("verify levels", err)
		}
		if count != len(levelIDs) {
			return fmt.Errorf("%w: one or more user levels", ErrNotFound)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr("begin tx", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM user_level_assignments WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID); err != nil {
		return storeErr("clear assignments", err)
	}
	for _, levelID := range levelIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_level_assignments (tenant_id, user_id, user_level_id) VALUES ($1, $2, $3)`,
			tenantID, userID, levelID); err != nil {
			return storeErr("insert assignment", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeErr("commit assignments", err)
	}
	return nil
}

// UserIDsForLevel returns every user currently holding the level.
func (s *SQLStore) UserIDsForLevel(ctx context.Context, tenantID, levelID string) ([]string, error) {
	query := `
		SELECT a.user_id
		FROM user_level_assignments a
		JOIN user_levels ul ON ul.id = a.user_level_id
		WHERE a.user_level_id = $1 AND ul.tenant_id = $2
		ORDER BY a.user_id
	`

	rows, err := s.db.QueryContext(ctx, query, levelID, tenantID)
	if err != nil {
		return nil, storeErr("query level users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, storeErr("scan level user", err)
		}
		users = append(users, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("query level users", err)
	}
	return users, nil
}

// storeErr wraps a driver failure as a store-unavailable condition while
// preserving the cause in the message.
func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// isUniqueViolation reports whether the error is a pq unique-constraint
// violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
