package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tollgate-io/tollgate/pkg/audit"
	"github.com/tollgate-io/tollgate/pkg/permissions"
)

// CreateUserLevel creates a named permission bundle within the tenant.
func (e *Engine) CreateUserLevel(ctx context.Context, tenantID, name, description string) (*permissions.UserLevel, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty level name", permissions.ErrValidation)
	}

	level := &permissions.UserLevel{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		CreatedAt:   e.now().UTC(),
		UpdatedAt:   e.now().UTC(),
	}
	if err := e.store.CreateLevel(ctx, level); err != nil {
		e.metrics.MutationsTotal.WithLabelValues("user_level", "error").Inc()
		return nil, err
	}

	if err := e.appendAudit(ctx, tenantID, audit.EntityUserLevel, level.ID, audit.ActionCreate, nil, level); err != nil {
		// Audit durability is part of the mutation; undo the write.
		if derr := e.store.DeleteLevel(ctx, tenantID, level.ID); derr != nil {
			e.logger.WithError(derr).WithField("level_id", level.ID).Error("compensating level delete failed")
		}
		e.metrics.MutationsTotal.WithLabelValues("user_level", "error").Inc()
		return nil, err
	}

	e.metrics.MutationsTotal.WithLabelValues("user_level", "ok").Inc()
	return level, nil
}

// UpdateUserLevel renames a level or changes its description.
func (e *Engine) UpdateUserLevel(ctx context.Context, tenantID, levelID, name, description string) (*permissions.UserLevel, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: empty level name", permissions.ErrValidation)
	}

	before, err := e.store.GetLevel(ctx, tenantID, levelID)
	if err != nil {
		return nil, err
	}

	updated := *before
	updated.Name = name
	updated.Description = description
	if err := e.store.UpdateLevel(ctx, &updated); err != nil {
		e.metrics.MutationsTotal.WithLabelValues("user_level", "error").Inc()
		return nil, err
	}

	if err := e.appendAudit(ctx, tenantID, audit.EntityUserLevel, levelID, audit.ActionUpdate, before, &updated); err != nil {
		if rerr := e.store.UpdateLevel(ctx, before); rerr != nil {
			e.logger.WithError(rerr).WithField("level_id", levelID).Error("compensating level restore failed")
		}
		e.metrics.MutationsTotal.WithLabelValues("user_level", "error").Inc()
		return nil, err
	}

	e.metrics.MutationsTotal.WithLabelValues("user_level", "ok").Inc()
	return &updated, nil
}

// DeleteUserLevel removes a level. Rejected while assignments reference it.
func (e *Engine) DeleteUserLevel(ctx context.Context, tenantID, levelID string) error {
	if err := e.authorize(ctx, tenantID); err != nil {
		return err
	}

	before, err := e.store.GetLevel(ctx, tenantID, levelID)
	if err != nil {
		return err
	}
	viewRows, err := e.store.ViewPermissions(ctx, tenantID, levelID)
	if err != nil {
		return err
	}
	featRows, err := e.store.FeaturePermissions(ctx, tenantID, levelID)
	if err != nil {
		return err
	}

	if err := e.store.DeleteLevel(ctx, tenantID, levelID); err != nil {
		e.metrics.MutationsTotal.WithLabelValues("user_level", "error").Inc()
		return err
	}

	if err := e.appendAudit(ctx, tenantID, audit.EntityUserLevel, levelID, audit.ActionDelete, before, nil); err != nil {
		e.restoreLevel(ctx, before, viewRows, featRows)
		e.metrics.MutationsTotal.WithLabelValues("user_level", "error").Inc()
		return err
	}

	e.metrics.MutationsTotal.WithLabelValues("user_level", "ok").Inc()
	return nil
}

// ListUserLevels returns the tenant's levels ordered by name.
func (e *Engine) ListUserLevels(ctx context.Context, tenantID string) ([]*permissions.UserLevel, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return nil, err
	}
	return e.store.ListLevels(ctx, tenantID)
}

// GetViewPermissions returns a level's explicit view decisions.
func (e *Engine) GetViewPermissions(ctx context.Context, tenantID, levelID string) ([]permissions.ViewPermission, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return nil, err
	}
	return e.store.ViewPermissions(ctx, tenantID, levelID)
}

// GetFeaturePermissions returns a level's explicit feature decisions.
func (e *Engine) GetFeaturePermissions(ctx context.Context, tenantID, levelID string) ([]permissions.FeaturePermission, error) {
	if err := e.authorize(ctx, tenantID); err != nil {
		return nil, err
	}
	return e.store.FeaturePermissions(ctx, tenantID, levelID)
}

// SetViewPermissions replaces a level's decisions for the given views and
// invalidates every affected user before returning.
func (e *Engine) SetViewPermissions(ctx context.Context, tenantID, levelID string, states map[string]permissions.ViewState) error {
	if err := e.authorize(ctx, tenantID); err != nil {
		return err
	}
	if len(states) == 0 {
		return fmt.Errorf("%w: no view states given", permissions.ErrValidation)
	}

	rows := make([]permissions.ViewPermission, 0, len(states))
	for viewID, state := range states {
		if viewID == "" {
			return fmt.Errorf("%w: empty view id", permissions.ErrValidation)
		}
		rows = append(rows, permissions.ViewPermission{UserLevelID: levelID, ViewID: viewID, State: state})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ViewID < rows[j].ViewID })

	before, err := e.store.ViewPermissions(ctx, tenantID, levelID)
	if err != nil {
		return err
	}
	// Resolved before the write: a store failure here leaves nothing applied,
	// and invalidation afterwards cannot fail.
	affected, err := e.store.UserIDsForLevel(ctx, tenantID, levelID)
	if err != nil {
		return fmt.Errorf("looking up users for invalidation: %w", err)
	}

	if err := e.store.SetViewPermissions(ctx, tenantID, levelID, rows); err != nil {
		e.metrics.MutationsTotal.WithLabelValues("view_permission", "error").Inc()
		return err
	}
	e.invalidateUsers(ctx, tenantID, affected)

	if err := e.appendAudit(ctx, tenantID, audit.EntityViewPermission, levelID, audit.ActionUpdate, before, rows); err != nil {
		restore := restoreViewRows(before, rows)
		if rerr := e.store.SetViewPermissions(ctx, tenantID, levelID, restore); rerr != nil {
			e.logger.WithError(rerr).WithField("level_id", levelID).Error("compensating view-permission restore failed")
		}
		e.invalidateUsers(ctx, tenantID, affected)
		e.metrics.MutationsTotal.WithLabelValues("view_permission", "error").Inc()
		return err
	}

	e.metrics.MutationsTotal.WithLabelValues("view_permission", "ok").Inc()
	return nil
}

// SetFeaturePermissions replaces a level's decisions for the given feature
// actions and invalidates every affected user before returning.
func (e *Engine) SetFeaturePermissions(ctx context.Context, tenantID, levelID string, grants []permissions.FeaturePermission) error {
	if err := e.authorize(ctx, tenantID); err != nil {
		return err
	}
	if len(grants) == 0 {
		return fmt.Errorf("%w: no feature grants given", permissions.ErrValidation)
	}

	rows := make([]permissions.FeaturePermission, 0, len(grants))
	for _, grant := range grants {
		if grant.FeatureID == "" {
			return fmt.Errorf("%w: empty feature id", permissions.ErrValidation)
		}
		if !grant.Action.Valid() {
			return fmt.Errorf("%w: unknown action %q", permissions.ErrValidation, grant.Action)
		}
		switch grant.State {
		case permissions.StateAllow:
			if grant.Scope == permissions.ScopeNone {
				return fmt.Errorf("%w: allow grant for %s needs a scope", permissions.ErrValidation, grant.Key())
			}
		case permissions.StateDeny, permissions.StateInherit:
			if grant.Scope != permissions.ScopeNone {
				return fmt.Errorf("%w: scope on non-allow grant for %s", permissions.ErrValidation, grant.Key())
			}
		}
		grant.UserLevelID = levelID
		rows = append(rows, grant)
	}

	before, err := e.store.FeaturePermissions(ctx, tenantID, levelID)
	if err != nil {
		return err
	}
	affected, err := e.store.UserIDsForLevel(ctx, tenantID, levelID)
	if err != nil {
		return fmt.Errorf("looking up users for invalidation: %w", err)
	}

	if err := e.store.SetFeaturePermissions(ctx, tenantID, levelID, rows); err != nil {
		e.metrics.MutationsTotal.WithLabelValues("feature_permission", "error").Inc()
		return err
	}
	e.invalidateUsers(ctx, tenantID, affected)

	if err := e.appendAudit(ctx, tenantID, audit.EntityFeaturePermission, levelID, audit.ActionUpdate, before, rows); err != nil {
		restore := restoreFeatureRows(before, rows)
		if rerr := e.store.SetFeaturePermissions(ctx, tenantID, levelID, restore); rerr != nil {
			e.logger.WithError(rerr).WithField("level_id", levelID).Error("compensating feature-permission restore failed")
		}
		e.invalidateUsers(ctx, tenantID, affected)
		e.metrics.MutationsTotal.WithLabelValues("feature_permission", "error").Inc()
		return err
	}

	e.metrics.MutationsTotal.WithLabelValues("feature_permission", "ok").Inc()
	return nil
}

// SetUserLevelAssignments replaces the user's level set and invalidates the
// user's cache entry before returning.
func (e *Engine) SetUserLevelAssignments(ctx context.Context, tenantID, userID string, levelIDs []string) error {
	if err := e.authorize(ctx, tenantID); err != nil {
		return err
	}
	if userID == "" {
		return fmt.Errorf("%w: empty user id", permissions.ErrValidation)
	}

	deduped := dedupe(levelIDs)

	before, err := e.store.Assignments(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	beforeIDs := make([]string, 0, len(before))
	for _, a := range before {
		beforeIDs = append(beforeIDs, a.UserLevelID)
	}

	if err := e.store.SetAssignments(ctx, tenantID, userID, deduped); err != nil {
		e.metrics.MutationsTotal.WithLabelValues("assignment", "error").Inc()
		return err
	}
	e.cache.Invalidate(ctx, tenantID, userID)
	e.metrics.CacheInvalidationsTotal.Inc()

	if err := e.appendAudit(ctx, tenantID, audit.EntityAssignment, userID, audit.ActionAssignmentChange, beforeIDs, deduped); err != nil {
		if rerr := e.store.SetAssignments(ctx, tenantID, userID, beforeIDs); rerr != nil {
			e.logger.WithError(rerr).WithField("user_id", userID).Error("compensating assignment restore failed")
		}
		e.cache.Invalidate(ctx, tenantID, userID)
		e.metrics.MutationsTotal.WithLabelValues("assignment", "error").Inc()
		return err
	}

	e.metrics.MutationsTotal.WithLabelValues("assignment", "ok").Inc()
	return nil
}

// invalidateUsers drops the cache entries of the given users. It completes
// before the triggering mutation is acknowledged and cannot fail.
func (e *Engine) invalidateUsers(ctx context.Context, tenantID string, users []string) {
	e.cache.InvalidateUsers(ctx, tenantID, users)
	for range users {
		e.metrics.CacheInvalidationsTotal.Inc()
	}
}

// appendAudit records the mutation synchronously.
func (e *Engine) appendAudit(ctx context.Context, tenantID string, entityType audit.EntityType, entityID string, action audit.Action, before, after interface{}) error {
	entry := &audit.Entry{
		TenantID:    tenantID,
		ActorUserID: e.actor(ctx),
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
	}

	var err error
	if before != nil {
		if entry.Before, err = json.Marshal(before); err != nil {
			return fmt.Errorf("serialize audit before-state: %w", err)
		}
	}
	if after != nil {
		if entry.After, err = json.Marshal(after); err != nil {
			return fmt.Errorf("serialize audit after-state: %w", err)
		}
	}

	if err := e.audit.Append(ctx, entry); err != nil {
		return fmt.Errorf("audit append: %w", err)
	}
	e.metrics.AuditAppendsTotal.Inc()
	return nil
}

// restoreLevel best-effort recreates a deleted level after an audit failure.
func (e *Engine) restoreLevel(ctx context.Context, level *permissions.UserLevel, viewRows []permissions.ViewPermission, featRows []permissions.FeaturePermission) {
	if err := e.store.CreateLevel(ctx, level); err != nil {
		e.logger.WithError(err).WithField("level_id", level.ID).Error("compensating level recreate failed")
		return
	}
	if len(viewRows) > 0 {
		if err := e.store.SetViewPermissions(ctx, level.TenantID, level.ID, viewRows); err != nil {
			e.logger.WithError(err).WithField("level_id", level.ID).Error("compensating view-permission recreate failed")
		}
	}
	if len(featRows) > 0 {
		if err := e.store.SetFeaturePermissions(ctx, level.TenantID, level.ID, featRows); err != nil {
			e.logger.WithError(err).WithField("level_id", level.ID).Error("compensating feature-permission recreate failed")
		}
	}
}

// restoreViewRows builds the row set that undoes an update: every touched
// view reverts to its prior state, or to inherit when it had none.
func restoreViewRows(before, applied []permissions.ViewPermission) []permissions.ViewPermission {
	prior := make(map[string]permissions.ViewState, len(before))
	for _, row := range before {
		prior[row.ViewID] = row.State
	}

	restore := make([]permissions.ViewPermission, 0, len(applied))
	for _, row := range applied {
		state, had := prior[row.ViewID]
		if !had {
			state = permissions.StateInherit
		}
		restore = append(restore, permissions.ViewPermission{
			UserLevelID: row.UserLevelID, ViewID: row.ViewID, State: state,
		})
	}
	return restore
}

// restoreFeatureRows is the feature-permission counterpart of
// restoreViewRows.
func restoreFeatureRows(before, applied []permissions.FeaturePermission) []permissions.FeaturePermission {
	type grant struct {
		state permissions.ViewState
		scope permissions.Scope
	}
	prior := make(map[permissions.FeatureKey]grant, len(before))
	for _, row := range before {
		prior[row.Key()] = grant{state: row.State, scope: row.Scope}
	}

	restore := make([]permissions.FeaturePermission, 0, len(applied))
	for _, row := range applied {
		g, had := prior[row.Key()]
		if !had {
			g = grant{state: permissions.StateInherit}
		}
		restore = append(restore, permissions.FeaturePermission{
			UserLevelID: row.UserLevelID,
			FeatureID:   row.FeatureID,
			Action:      row.Action,
			State:       g.state,
			Scope:       g.scope,
		})
	}
	return restore
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
