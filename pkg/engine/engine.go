package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/tollgate-io/tollgate/pkg/audit"
	"github.com/tollgate-io/tollgate/pkg/navigation"
	"github.com/tollgate-io/tollgate/pkg/observability"
	"github.com/tollgate-io/tollgate/pkg/permissions"
	"github.com/tollgate-io/tollgate/pkg/tenancy"
)

// Engine wires the permission resolver, cache, navigation projection, tenant
// guard, and audit log behind one API.
type Engine struct {
	store    permissions.Store
	cache    *permissions.Cache
	resolver *permissions.Resolver
	nav      *navigation.Service
	audit    audit.Logger
	guard    tenancy.Guard
	logger   *observability.Logger
	metrics  *observability.Metrics
	now      func() time.Time
}

// Options configures an Engine. Store is required; every other field has a
// working default.
type Options struct {
	Store    permissions.Store
	Cache    *permissions.Cache
	Gate     permissions.Gate
	Registry *navigation.Registry
	Audit    audit.Logger
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// New creates an engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("permission store is required")
	}
	if opts.Cache == nil {
		opts.Cache = permissions.NewCache(0, 0)
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewRingStore(0)
	}
	if opts.Registry == nil {
		opts.Registry = navigation.NewRegistry(nil)
	}
	if opts.Logger == nil {
		opts.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NewMetrics(nil)
	}

	resolver := permissions.NewResolver(opts.Store, opts.Cache, opts.Gate)
	return &Engine{
		store:    opts.Store,
		cache:    opts.Cache,
		resolver: resolver,
		nav:      navigation.NewService(resolver, opts.Registry),
		audit:    opts.Audit,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		now:      time.Now,
	}, nil
}

// ResolveViews returns the sorted visible view IDs for a user. On store
// failure the result is empty (fail closed) and the error is returned
// separately.
func (e *Engine) ResolveViews(ctx context.Context, tenantID, userID string) ([]string, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", permissions.ErrValidation)
	}

	start := e.now()
	views, err := e.resolver.ResolveViews(ctx, tenantID, userID)
	e.metrics.ResolutionDuration.Observe(e.now().Sub(start).Seconds())
	if err != nil {
		e.metrics.ResolutionsTotal.WithLabelValues("error").Inc()
		e.metrics.DenialsTotal.WithLabelValues("store_error").Inc()
		e.logger.WithError(err).WithField("tenant_id", tenantID).Error("view resolution failed closed")
		return nil, err
	}
	e.metrics.ResolutionsTotal.WithLabelValues("ok").Inc()
	return views, nil
}

// ResolveFeatureAction returns the decision for one (feature, action). Any
// uncertainty, including store failure, resolves to denied.
func (e *Engine) ResolveFeatureAction(ctx context.Context, tenantID, userID, featureID string, action permissions.Action) (permissions.Decision, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return permissions.Decision{}, err
	}
	if userID == "" || featureID == "" {
		return permissions.Decision{}, fmt.Errorf("%w: empty user or feature id", permissions.ErrValidation)
	}

	start := e.now()
	decision, err := e.resolver.ResolveFeature(ctx, tenantID, userID, featureID, action)
	e.metrics.ResolutionDuration.Observe(e.now().Sub(start).Seconds())
	if err != nil {
		e.metrics.ResolutionsTotal.WithLabelValues("error").Inc()
		e.metrics.DenialsTotal.WithLabelValues("store_error").Inc()
		e.logger.WithError(err).WithField("tenant_id", tenantID).Error("feature resolution failed closed")
		return permissions.Decision{}, err
	}
	e.metrics.ResolutionsTotal.WithLabelValues("ok").Inc()
	if !decision.Allowed {
		e.metrics.DenialsTotal.WithLabelValues("no_grant").Inc()
	}
	return decision, nil
}

// GetNavigation projects the user's menu with conditional caching.
func (e *Engine) GetNavigation(ctx context.Context, tenantID, userID, ifMatch string) (*navigation.Result, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", permissions.ErrValidation)
	}

	e.metrics.NavigationRequestsTotal.Inc()
	result, err := e.nav.Get(ctx, tenantID, userID, ifMatch)
	if err != nil {
		return nil, err
	}
	if result.NotModified {
		e.metrics.NavigationNotModifiedTotal.Inc()
	}
	return result, nil
}

// QueryAuditLog returns the tenant's audit entries, newest first.
func (e *Engine) QueryAuditLog(ctx context.Context, tenantID string, filter audit.Filter, page audit.Page) ([]*audit.Entry, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return nil, err
	}
	return e.audit.Query(ctx, tenantID, filter, page)
}

// CacheStats exposes permission-cache activity for operational surfaces.
func (e *Engine) CacheStats() permissions.CacheStats {
	return e.cache.Stats()
}

// authorize is the single entry to the tenant guard; every public method
// calls it before any store access.
func (e *Engine) authorize(ctx context.Context, tenantID string) error {
	if err := e.guard.Authorize(ctx, tenantID); err != nil {
		e.metrics.DenialsTotal.WithLabelValues("cross_tenant").Inc()
		return err
	}
	return nil
}

// actor returns the acting principal's user ID for audit attribution.
func (e *Engine) actor(ctx context.Context) string {
	if p, ok := tenancy.PrincipalFrom(ctx); ok {
		return p.UserID
	}
	return ""
}
