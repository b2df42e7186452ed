package permissions

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver computes effective permission sets by merging all of a user's
// assigned levels, applying module gating, and memoizing the result.
type Resolver struct {
	store Store
	cache *Cache // nil disables memoization
	gate  Gate
	group singleflight.Group
	now   func() time.Time
}

// NewResolver creates a resolver. A nil gate disables module gating; a nil
// cache disables memoization.
func NewResolver(store Store, cache *Cache, gate Gate) *Resolver {
	if gate == nil {
		gate = AllowAllGate{}
	}
	return &Resolver{
		store: store,
		cache: cache,
		gate:  gate,
		now:   time.Now,
	}
}

// flightResult carries a shared load together with the generation it was
// resolved under, so joiners can tell whether it predates an invalidation
// they must observe.
type flightResult struct {
	set *ResolvedSet
	gen uint64
}

// ResolveAll returns the effective permission set for (tenant, user),
// serving from cache when possible. Concurrent misses for the same key share
// one store load. On store failure the set is nil and the caller must treat
// every decision as denied.
//
// A call that starts after a mutation's invalidation completes never returns
// data loaded before that invalidation: the caller records the key's
// generation up front and discards any shared flight resolved under an older
// one.
func (r *Resolver) ResolveAll(ctx context.Context, tenantID, userID string) (*ResolvedSet, error) {
	if r.cache == nil {
		return r.resolve(ctx, tenantID, userID)
	}

	key := cacheKey(tenantID, userID)
	for {
		if set, ok := r.cache.Get(ctx, tenantID, userID); ok {
			return set, nil
		}
		startGen := r.cache.Generation(tenantID, userID)

		v, err, _ := r.group.Do(key, func() (interface{}, error) {
			gen := r.cache.Generation(tenantID, userID)
			// Another flight may have filled the entry while we queued.
			if set, ok := r.cache.Get(ctx, tenantID, userID); ok {
				return flightResult{set: set, gen: gen}, nil
			}

			set, err := r.resolve(ctx, tenantID, userID)
			if err != nil {
				return nil, err
			}
			r.cache.PutIfUnchanged(ctx, set, gen)
			return flightResult{set: set, gen: gen}, nil
		})
		if err != nil {
			return nil, err
		}

		res := v.(flightResult)
		if res.gen >= startGen {
			return res.set, nil
		}
		// The shared load began before an invalidation this caller must
		// observe. Drop the flight and resolve against current data.
		r.group.Forget(key)
	}
}

// ResolveViews returns the sorted visible view IDs for (tenant, user).
func (r *Resolver) ResolveViews(ctx context.Context, tenantID, userID string) ([]string, error) {
	set, err := r.ResolveAll(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}
	return set.ViewIDs(), nil
}

// ResolveFeature returns the decision for one (feature, action). Ambiguity,
// including store failure, resolves to denied.
func (r *Resolver) ResolveFeature(ctx context.Context, tenantID, userID, featureID string, action Action) (Decision, error) {
	if !action.Valid() {
		return Decision{}, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}

	set, err := r.ResolveAll(ctx, tenantID, userID)
	if err != nil {
		return Decision{}, err
	}
	if scope, ok := set.FeatureScope(featureID, action); ok {
		return Decision{Allowed: true, Scope: scope}, nil
	}
	return Decision{}, nil
}

// resolve loads and merges without touching the cache.
func (r *Resolver) resolve(ctx context.Context, tenantID, userID string) (*ResolvedSet, error) {
	assignments, err := r.store.Assignments(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("loading assignments: %w", err)
	}

	viewStates := make(map[string]ViewState)
	featDecisions := make(map[FeatureKey]featureDecision)
	for _, a := range assignments {
		viewRows, err := r.store.ViewPermissions(ctx, tenantID, a.UserLevelID)
		if err != nil {
			return nil, fmt.Errorf("loading view permissions for level %s: %w", a.UserLevelID, err)
		}
		for _, row := range viewRows {
			viewStates[row.ViewID] = MergeViewStates(viewStates[row.ViewID], row.State)
		}

		featRows, err := r.store.FeaturePermissions(ctx, tenantID, a.UserLevelID)
		if err != nil {
			return nil, fmt.Errorf("loading feature permissions for level %s: %w", a.UserLevelID, err)
		}
		for _, row := range featRows {
			key := row.Key()
			featDecisions[key] = mergeFeature(featDecisions[key], row)
		}
	}

	set := &ResolvedSet{
		TenantID:   tenantID,
		UserID:     userID,
		Views:      make(map[string]struct{}),
		Features:   make(map[FeatureKey]Scope),
		ComputedAt: r.now().UTC(),
	}
	for viewID, state := range viewStates {
		if state == StateAllow && r.gate.ViewEnabled(tenantID, viewID) {
			set.Views[viewID] = struct{}{}
		}
	}
	for key, decision := range featDecisions {
		if decision.state == StateAllow && r.gate.FeatureEnabled(tenantID, key.FeatureID) {
			set.Features[key] = decision.scope
		}
	}
	return set, nil
}
