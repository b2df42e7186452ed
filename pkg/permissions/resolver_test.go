package permissions

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedTwoLevelUser builds the canonical merge fixture: a user holding a
// support level and a manager level whose decisions overlap.
func seedTwoLevelUser(t *testing.T, store *MemoryStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateLevel(ctx, newTestLevel("support", "t1", "Support")))
	require.NoError(t, store.CreateLevel(ctx, newTestLevel("manager", "t1", "Manager")))

	require.NoError(t, store.SetViewPermissions(ctx, "t1", "support", []ViewPermission{
		{ViewID: "dashboard", State: StateAllow},
		{ViewID: "tickets", State: StateAllow},
		{ViewID: "billing", State: StateDeny},
	}))
	require.NoError(t, store.SetViewPermissions(ctx, "t1", "manager", []ViewPermission{
		{ViewID: "reports", State: StateAllow},
		{ViewID: "billing", State: StateAllow}, // loses to the support deny
	}))

	require.NoError(t, store.SetFeaturePermissions(ctx, "t1", "support", []FeaturePermission{
		{FeatureID: "tickets", Action: ActionUpdate, State: StateAllow, Scope: ScopeOwn},
		{FeatureID: "invoices", Action: ActionDelete, State: StateDeny},
	}))
	require.NoError(t, store.SetFeaturePermissions(ctx, "t1", "manager", []FeaturePermission{
		{FeatureID: "tickets", Action: ActionUpdate, State: StateAllow, Scope: ScopeTeam},
		{FeatureID: "invoices", Action: ActionDelete, State: StateAllow, Scope: ScopeAny}, // loses to the deny
		{FeatureID: "invoices", Action: ActionRead, State: StateAllow, Scope: ScopeCompany},
	}))

	require.NoError(t, store.SetAssignments(ctx, "t1", "u1", []string{"support", "manager"}))
}

func TestResolverMergesLevels(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTwoLevelUser(t, store)

	resolver := NewResolver(store, nil, nil)

	views, err := resolver.ResolveViews(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard", "reports", "tickets"}, views)

	// Widest allow wins across levels.
	decision, err := resolver.ResolveFeature(ctx, "t1", "u1", "tickets", ActionUpdate)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ScopeTeam, decision.Scope)

	// Deny from any level overrides every allow.
	decision, err = resolver.ResolveFeature(ctx, "t1", "u1", "invoices", ActionDelete)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)

	decision, err = resolver.ResolveFeature(ctx, "t1", "u1", "invoices", ActionRead)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, ScopeCompany, decision.Scope)
}

func TestResolverDefaultDeny(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTwoLevelUser(t, store)
	resolver := NewResolver(store, nil, nil)

	// No level mentions the feature at all.
	decision, err := resolver.ResolveFeature(ctx, "t1", "u1", "payroll", ActionRead)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ScopeNone, decision.Scope)
}

func TestResolverUserWithoutAssignments(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	resolver := NewResolver(store, nil, nil)

	views, err := resolver.ResolveViews(ctx, "t1", "ghost")
	require.NoError(t, err)
	assert.Empty(t, views)

	decision, err := resolver.ResolveFeature(ctx, "t1", "ghost", "invoices", ActionRead)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestResolverOrderIndependent(t *testing.T) {
	ctx := context.Background()

	build := func(order []string) *ResolvedSet {
		store := NewMemoryStore()
		seedTwoLevelUser(t, store)
		require.NoError(t, store.SetAssignments(ctx, "t1", "u1", order))

		set, err := NewResolver(store, nil, nil).ResolveAll(ctx, "t1", "u1")
		require.NoError(t, err)
		return set
	}

	a := build([]string{"support", "manager"})
	b := build([]string{"manager", "support"})
	assert.Equal(t, a.ViewIDs(), b.ViewIDs())
	assert.Equal(t, a.Features, b.Features)
}

func TestResolverRejectsUnknownAction(t *testing.T) {
	resolver := NewResolver(NewMemoryStore(), nil, nil)
	_, err := resolver.ResolveFeature(context.Background(), "t1", "u1", "invoices", Action("publish"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestResolverGatingFiltersDisabledModules(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTwoLevelUser(t, store)

	gate := &StaticGate{
		DisabledViews:    map[string]map[string]struct{}{"t1": {"reports": {}}},
		DisabledFeatures: map[string]map[string]struct{}{"t1": {"tickets": {}}},
	}
	resolver := NewResolver(store, nil, gate)

	views, err := resolver.ResolveViews(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"dashboard", "tickets"}, views)

	// A disabled module never widens: the grant simply disappears.
	decision, err := resolver.ResolveFeature(ctx, "t1", "u1", "tickets", ActionUpdate)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

// failingStore returns a store error from every read.
type failingStore struct {
	Store
	err error
}

func (s *failingStore) Assignments(ctx context.Context, tenantID, userID string) ([]Assignment, error) {
	return nil, s.err
}

func TestResolverFailsClosedOnStoreError(t *testing.T) {
	ctx := context.Background()
	boom := fmt.Errorf("%w: connection refused", ErrStoreUnavailable)
	resolver := NewResolver(&failingStore{err: boom}, nil, nil)

	set, err := resolver.ResolveAll(ctx, "t1", "u1")
	assert.Nil(t, set)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	decision, err := resolver.ResolveFeature(ctx, "t1", "u1", "invoices", ActionRead)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.False(t, decision.Allowed)
}

func TestResolverCachesResolvedSets(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedTwoLevelUser(t, store)

	cache := NewCache(8, time.Minute)
	resolver := NewResolver(store, cache, nil)

	_, err := resolver.ResolveAll(ctx, "t1", "u1")
	require.NoError(t, err)

	// A store change without invalidation is invisible until the TTL.
	require.NoError(t, store.SetAssignments(ctx, "t1", "u1", nil))
	views, err := resolver.ResolveViews(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, views)

	// Invalidation forces a fresh read.
	cache.Invalidate(ctx, "t1", "u1")
	views, err = resolver.ResolveViews(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Empty(t, views)
}

// countingStore counts Assignments loads to observe fill deduplication.
type countingStore struct {
	Store
	mu    sync.Mutex
	loads int
}

func (s *countingStore) Assignments(ctx context.Context, tenantID, userID string) ([]Assignment, error) {
	s.mu.Lock()
	s.loads++
	s.mu.Unlock()
	time.Sleep(10 * time.Millisecond) // widen the race window
	return s.Store.Assignments(ctx, tenantID, userID)
}

func TestResolverDeduplicatesConcurrentFills(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	seedTwoLevelUser(t, mem)

	store := &countingStore{Store: mem}
	resolver := NewResolver(store, NewCache(8, time.Minute), nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := resolver.ResolveAll(ctx, "t1", "u1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Less(t, store.loads, 16, "concurrent misses should share a single store load")
}

// stallingStore blocks the first FeaturePermissions load until released, so a
// mutation can commit while a fill holds rows read before it.
type stallingStore struct {
	Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingStore) FeaturePermissions(ctx context.Context, tenantID, levelID string) ([]FeaturePermission, error) {
	s.once.Do(func() {
		close(s.entered)
		<-s.release
	})
	return s.Store.FeaturePermissions(ctx, tenantID, levelID)
}

func TestResolverStartedAfterInvalidationNeverJoinsStaleFill(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.CreateLevel(ctx, newTestLevel("support", "t1", "Support")))
	require.NoError(t, mem.SetViewPermissions(ctx, "t1", "support", []ViewPermission{
		{ViewID: "tickets", State: StateAllow},
	}))
	require.NoError(t, mem.SetAssignments(ctx, "t1", "u1", []string{"support"}))

	store := &stallingStore{
		Store:   mem,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	cache := NewCache(8, time.Minute)
	resolver := NewResolver(store, cache, nil)

	// First resolution reads the pre-write rows, then stalls in the store.
	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, err := resolver.ResolveAll(ctx, "t1", "u1")
		assert.NoError(t, err)
	}()
	<-store.entered

	// Commit a permission change and invalidate while the fill is in flight.
	require.NoError(t, mem.SetViewPermissions(ctx, "t1", "support", []ViewPermission{
		{ViewID: "tickets", State: StateAllow},
		{ViewID: "reports", State: StateAllow},
	}))
	cache.Invalidate(ctx, "t1", "u1")

	// A resolution starting now must observe the committed change even if it
	// joins the stalled flight.
	secondViews := make(chan []string, 1)
	go func() {
		views, err := resolver.ResolveViews(ctx, "t1", "u1")
		assert.NoError(t, err)
		secondViews <- views
	}()

	time.Sleep(20 * time.Millisecond) // let the second call join the flight
	close(store.release)
	<-firstDone

	assert.Equal(t, []string{"reports", "tickets"}, <-secondViews)
}
