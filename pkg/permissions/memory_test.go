package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLevel(id, tenantID, name string) *UserLevel {
	now := time.Now().UTC()
	return &UserLevel{ID: id, TenantID: tenantID, Name: name, CreatedAt: now, UpdatedAt: now}
}

func TestMemoryStoreLevelCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-1", "t1", "Manager")))

	level, err := store.GetLevel(ctx, "t1", "lvl-1")
	require.NoError(t, err)
	assert.Equal(t, "Manager", level.Name)

	level.Description = "Handles the team"
	require.NoError(t, store.UpdateLevel(ctx, level))

	updated, err := store.GetLevel(ctx, "t1", "lvl-1")
	require.NoError(t, err)
	assert.Equal(t, "Handles the team", updated.Description)

	require.NoError(t, store.DeleteLevel(ctx, "t1", "lvl-1"))
	_, err = store.GetLevel(ctx, "t1", "lvl-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreDuplicateNameConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-1", "t1", "Manager")))

	err := store.CreateLevel(ctx, newTestLevel("lvl-2", "t1", "manager"))
	assert.ErrorIs(t, err, ErrConflict)

	// Same name in another tenant is fine.
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-3", "t2", "Manager")))

	// Renaming onto an existing name also conflicts.
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-4", "t1", "Viewer")))
	level, err := store.GetLevel(ctx, "t1", "lvl-4")
	require.NoError(t, err)
	level.Name = "MANAGER"
	assert.ErrorIs(t, store.UpdateLevel(ctx, level), ErrConflict)
}

func TestMemoryStoreListLevelsByName(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-1", "t1", "Viewer")))
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-2", "t1", "Admin")))
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-3", "t2", "Other")))

	levels, err := store.ListLevels(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.Equal(t, "Admin", levels[0].Name)
	assert.Equal(t, "Viewer", levels[1].Name)
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-1", "t1", "Manager")))

	// A level is invisible from any other tenant, with no hint it exists.
	_, err := store.GetLevel(ctx, "t2", "lvl-1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.ViewPermissions(ctx, "t2", "lvl-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteLevel(ctx, "t2", "lvl-1"), ErrNotFound)
	assert.ErrorIs(t, store.SetAssignments(ctx, "t2", "u1", []string{"lvl-1"}), ErrNotFound)
}

func TestMemoryStoreViewPermissions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-1", "t1", "Manager")))

	rows := []ViewPermission{
		{ViewID: "dashboard", State: StateAllow},
		{ViewID: "admin", State: StateDeny},
	}
	require.NoError(t, store.SetViewPermissions(ctx, "t1", "lvl-1", rows))

	stored, err := store.ViewPermissions(ctx, "t1", "lvl-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "admin", stored[0].ViewID)
	assert.Equal(t, StateDeny, stored[0].State)

	// Setting a view back to inherit removes its row.
	require.NoError(t, store.SetViewPermissions(ctx, "t1", "lvl-1", []ViewPermission{
		{ViewID: "admin", State: StateInherit},
	}))
	stored, err = store.ViewPermissions(ctx, "t1", "lvl-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "dashboard", stored[0].ViewID)
}

func TestMemoryStoreFeaturePermissions(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-1", "t1", "Manager")))

	rows := []FeaturePermission{
		{FeatureID: "invoices", Action: ActionRead, State: StateAllow, Scope: ScopeTeam},
		{FeatureID: "invoices", Action: ActionDelete, State: StateDeny},
	}
	require.NoError(t, store.SetFeaturePermissions(ctx, "t1", "lvl-1", rows))

	stored, err := store.FeaturePermissions(ctx, "t1", "lvl-1")
	require.NoError(t, err)
	require.Len(t, stored, 2)

	// Inherit clears the row entirely.
	require.NoError(t, store.SetFeaturePermissions(ctx, "t1", "lvl-1", []FeaturePermission{
		{FeatureID: "invoices", Action: ActionDelete, State: StateInherit},
	}))
	stored, err = store.FeaturePermissions(ctx, "t1", "lvl-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, ActionRead, stored[0].Action)
}

func TestMemoryStoreAssignments(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-1", "t1", "Manager")))
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-2", "t1", "Viewer")))

	require.NoError(t, store.SetAssignments(ctx, "t1", "u1", []string{"lvl-1", "lvl-2"}))

	assignments, err := store.Assignments(ctx, "t1", "u1")
	require.NoError(t, err)
	require.Len(t, assignments, 2)

	users, err := store.UserIDsForLevel(ctx, "t1", "lvl-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	// Replacing the set drops the removed binding.
	require.NoError(t, store.SetAssignments(ctx, "t1", "u1", []string{"lvl-2"}))
	users, err = store.UserIDsForLevel(ctx, "t1", "lvl-1")
	require.NoError(t, err)
	assert.Empty(t, users)

	// Clearing to empty is valid; the user simply resolves to nothing.
	require.NoError(t, store.SetAssignments(ctx, "t1", "u1", nil))
	assignments, err = store.Assignments(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestMemoryStoreDeleteLevelWithAssignments(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("lvl-1", "t1", "Manager")))
	require.NoError(t, store.SetAssignments(ctx, "t1", "u1", []string{"lvl-1"}))

	assert.ErrorIs(t, store.DeleteLevel(ctx, "t1", "lvl-1"), ErrConflict)

	require.NoError(t, store.SetAssignments(ctx, "t1", "u1", nil))
	assert.NoError(t, store.DeleteLevel(ctx, "t1", "lvl-1"))
}
