package permissions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db), mock
}

func TestSQLStoreCreateLevel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO user_levels").
		WithArgs("lvl-1", "t1", "Manager", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	level := &UserLevel{ID: "lvl-1", TenantID: "t1", Name: "Manager"}
	require.NoError(t, store.CreateLevel(context.Background(), level))
	assert.False(t, level.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreCreateLevelDuplicateName(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO user_levels").
		WillReturnError(&pq.Error{Code: "23505"})

	err := store.CreateLevel(context.Background(), &UserLevel{ID: "lvl-1", TenantID: "t1", Name: "Manager"})
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetLevel(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, tenant_id, name, description, created_at, updated_at").
		WithArgs("lvl-1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "description", "created_at", "updated_at"}).
			AddRow("lvl-1", "t1", "Manager", "desc", now, now))

	level, err := store.GetLevel(context.Background(), "t1", "lvl-1")
	require.NoError(t, err)
	assert.Equal(t, "Manager", level.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetLevelNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT id, tenant_id, name, description, created_at, updated_at").
		WithArgs("lvl-9", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "description", "created_at", "updated_at"}))

	_, err := store.GetLevel(context.Background(), "t1", "lvl-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreUpdateLevelNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE user_levels").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.UpdateLevel(context.Background(), &UserLevel{ID: "lvl-9", TenantID: "t1", Name: "Manager"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreDeleteLevelWithAssignments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("lvl-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	err := store.DeleteLevel(context.Background(), "t1", "lvl-1")
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreDeleteLevel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("lvl-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec("DELETE FROM user_levels").
		WithArgs("lvl-1", "t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.DeleteLevel(context.Background(), "t1", "lvl-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreViewPermissions(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT vp.user_level_id, vp.view_id, vp.state").
		WithArgs("lvl-1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"user_level_id", "view_id", "state"}).
			AddRow("lvl-1", "admin", "deny").
			AddRow("lvl-1", "dashboard", "allow"))

	rows, err := store.ViewPermissions(context.Background(), "t1", "lvl-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, StateDeny, rows[0].State)
	assert.Equal(t, StateAllow, rows[1].State)
}

func TestSQLStoreSetViewPermissions(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT id, tenant_id, name, description, created_at, updated_at").
		WithArgs("lvl-1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "description", "created_at", "updated_at"}).
			AddRow("lvl-1", "t1", "Manager", "", now, now))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO view_permissions").
		WithArgs("lvl-1", "dashboard", "allow").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM view_permissions").
		WithArgs("lvl-1", "reports").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SetViewPermissions(context.Background(), "t1", "lvl-1", []ViewPermission{
		{ViewID: "dashboard", State: StateAllow},
		{ViewID: "reports", State: StateInherit},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreFeaturePermissions(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT fp.user_level_id, fp.feature_id, fp.action, fp.state, fp.scope").
		WithArgs("lvl-1", "t1").
		WillReturnRows(sqlmock.NewRows([]string{"user_level_id", "feature_id", "action", "state", "scope"}).
			AddRow("lvl-1", "invoices", "read", "allow", "team").
			AddRow("lvl-1", "invoices", "delete", "deny", "none"))

	rows, err := store.FeaturePermissions(context.Background(), "t1", "lvl-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ScopeTeam, rows[0].Scope)
	assert.Equal(t, StateDeny, rows[1].State)
}

func TestSQLStoreSetAssignments(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("t1", pq.Array([]string{"lvl-1", "lvl-2"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM user_level_assignments").
		WithArgs("t1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_level_assignments").
		WithArgs("t1", "u1", "lvl-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO user_level_assignments").
		WithArgs("t1", "u1", "lvl-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.SetAssignments(context.Background(), "t1", "u1", []string{"lvl-1", "lvl-2"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreSetAssignmentsUnknownLevel(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("t1", pq.Array([]string{"lvl-1", "lvl-9"})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	err := store.SetAssignments(context.Background(), "t1", "u1", []string{"lvl-1", "lvl-9"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStoreFailuresAreStoreUnavailable(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT tenant_id, user_id, user_level_id").
		WillReturnError(errors.New("connection refused"))

	_, err := store.Assignments(context.Background(), "t1", "u1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
