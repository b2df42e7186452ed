package permissions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used for tests and the embedded dev
// mode. All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	levels		map[string]*UserLevel			// level ID -> level
	viewPerms	map[string]map[string]ViewState		// level ID -> view ID -> state
	featPerms	map[string]map[FeatureKey]featureRow	// level ID -> key -> row
	userLevels	map[string]map[string]struct{}		// tenant/user -> level IDs
	levelUsers	map[string]map[string]struct{}		// level ID -> user IDs
}

type featureRow struct {
	state ViewState
	scope Scope
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		levels:     make(map[string]*UserLevel),
		viewPerms:  make(map[string]map[string]ViewState),
		featPerms:  make(map[string]map[FeatureKey]featureRow),
		userLevels: make(map[string]map[string]struct{}),
		levelUsers: make(map[string]map[string]struct{}),
	}
}

func userKey(tenantID, userID string) string {
	return tenantID + "/" + userID
}

// CreateLevel persists a new user level.
func (s *MemoryStore) CreateLevel(ctx context.Context, level *UserLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.levels[level.ID]; ok {
		return fmt.Errorf("%w: level %s already exists", ErrConflict, level.ID)
	}
	for _, existing := range s.levels {
		if existing.TenantID == level.TenantID && strings.EqualFold(existing.Name, level.Name) {
			return fmt.Errorf("%w: level name %q already taken", ErrConflict, level.Name)
		}
	}

	cp := *level
	s.levels[level.ID] = &cp
	return nil
}

// GetLevel fetches a level by ID within a tenant.
func (s *MemoryStore) GetLevel(ctx context.Context, tenantID, levelID string) (*UserLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	level, ok := s.levels[levelID]
	if !ok || level.TenantID != tenantID {
		return nil, fmt.Errorf("%w: user level %s", ErrNotFound, levelID)
	}
	cp := *level
	return &cp, nil
}

// ListLevels returns all levels of a tenant ordered by name.
func (s *MemoryStore) ListLevels(ctx context.Context, tenantID string) ([]*UserLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var levels []*UserLevel
	for _, level := range s.levels {
		if level.TenantID == tenantID {
			cp := *level
			levels = append(levels, &cp)
		}
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Name < levels[j].Name })
	return levels, nil
}

// UpdateLevel persists name/description changes.
func (s *MemoryStore) UpdateLevel(ctx context.Context, level *UserLevel) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.levels[level.ID]
	if !ok || existing.TenantID != level.TenantID {
		return fmt.Errorf("%w: user level %s", ErrNotFound, level.ID)
	}
	for id, other := range s.levels {
		if id != level.ID && other.TenantID == level.TenantID && strings.EqualFold(other.Name, level.Name) {
			return fmt.Errorf("%w: level name %q already taken", ErrConflict, level.Name)
		}
	}

	cp := *level
	cp.UpdatedAt = time.Now().UTC()
	s.levels[level.ID] = &cp
	return nil
}

// DeleteLevel removes a level and its permission rows.
func (s *MemoryStore) DeleteLevel(ctx context.Context, tenantID, levelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	level, ok := s.levels[levelID]
	if !ok || level.TenantID != tenantID {
		return fmt.Errorf("%w: user level %s", ErrNotFound, levelID)
	}
	if len(s.levelUsers[levelID]) > 0 {
		return fmt.Errorf("%w: level %s has active assignments", ErrConflict, levelID)
	}

	delete(s.levels, levelID)
	delete(s.viewPerms, levelID)
	delete(s.featPerms, levelID)
	delete(s.levelUsers, levelID)
	return nil
}

// ViewPermissions returns the level's explicit view rows.
func (s *MemoryStore) ViewPermissions(ctx context.Context, tenantID, levelID string) ([]ViewPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLevelLocked(tenantID, levelID); err != nil {
		return nil, err
	}

	rows := make([]ViewPermission, 0, len(s.viewPerms[levelID]))
	for viewID, state := range s.viewPerms[levelID] {
		rows = append(rows, ViewPermission{UserLevelID: levelID, ViewID: viewID, State: state})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ViewID < rows[j].ViewID })
	return rows, nil
}

// SetViewPermissions upserts view decisions for a level.
func (s *MemoryStore) SetViewPermissions(ctx context.Context, tenantID, levelID string, rows []ViewPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLevelLocked(tenantID, levelID); err != nil {
		return err
	}

	perms := s.viewPerms[levelID]
	if perms == nil {
		perms = make(map[string]ViewState)
		s.viewPerms[levelID] = perms
	}
	for _, row := range rows {
		if row.State == StateInherit {
			delete(perms, row.ViewID)
			continue
		}
		perms[row.ViewID] = row.State
	}
	return nil
}

// FeaturePermissions returns the level's explicit feature rows.
func (s *MemoryStore) FeaturePermissions(ctx context.Context, tenantID, levelID string) ([]FeaturePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLevelLocked(tenantID, levelID); err != nil {
		return nil, err
	}

	rows := make([]FeaturePermission, 0, len(s.featPerms[levelID]))
	for key, row := range s.featPerms[levelID] {
		rows = append(rows, FeaturePermission{
			UserLevelID: levelID,
			FeatureID:   key.FeatureID,
			Action:      key.Action,
			State:       row.state,
			Scope:       row.scope,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key().String() < rows[j].Key().String() })
	return rows, nil
}

// SetFeaturePermissions upserts feature decisions for a level.
func (s *MemoryStore) SetFeaturePermissions(ctx context.Context, tenantID, levelID string, rows []FeaturePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkLevelLocked(tenantID, levelID); err != nil {
		return err
	}

	perms := s.featPerms[levelID]
	if perms == nil {
		perms = make(map[FeatureKey]featureRow)
		s.featPerms[levelID] = perms
	}
	for _, row := range rows {
		if row.State == StateInherit {
			delete(perms, row.Key())
			continue
		}
		perms[row.Key()] = featureRow{state: row.State, scope: row.Scope}
	}
	return nil
}

// Assignments returns the user's level bindings within a tenant.
func (s *MemoryStore) Assignments(ctx context.Context, tenantID, userID string) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.userLevels[userKey(tenantID, userID)]))
	for levelID := range s.userLevels[userKey(tenantID, userID)] {
		ids = append(ids, levelID)
	}
	sort.Strings(ids)

	assignments := make([]Assignment, 0, len(ids))
	for _, levelID := range ids {
		assignments = append(assignments, Assignment{TenantID: tenantID, UserID: userID, UserLevelID: levelID})
	}
	return assignments, nil
}

// SetAssignments replaces the user's level bindings with the given set.
func (s *MemoryStore) SetAssignments(ctx context.Context, tenantID, userID string, levelIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]struct{}, len(levelIDs))
	for _, levelID := range levelIDs {
		level, ok := s.levels[levelID]
		if !ok || level.TenantID != tenantID {
			return fmt.Errorf("%w: user level %s", ErrNotFound, levelID)
		}
		next[levelID] = struct{}{}
	}

	key := userKey(tenantID, userID)
	for levelID := range s.userLevels[key] {
		if _, keep := next[levelID]; !keep {
			delete(s.levelUsers[levelID], userID)
		}
	}
	for levelID := range next {
		users := s.levelUsers[levelID]
		if users == nil {
			users = make(map[string]struct{})
			s.levelUsers[levelID] = users
		}
		users[userID] = struct{}{}
	}

	if len(next) == 0 {
		delete(s.userLevels, key)
		return nil
	}
	s.userLevels[key] = next
	return nil
}

// UserIDsForLevel returns every user currently holding the level.
func (s *MemoryStore) UserIDsForLevel(ctx context.Context, tenantID, levelID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.checkLevelLocked(tenantID, levelID); err != nil {
		return nil, err
	}

	users := make([]string, 0, len(s.levelUsers[levelID]))
	for userID := range s.levelUsers[levelID] {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users, nil
}

// checkLevelLocked verifies the level exists within the tenant. Callers must
// hold at least a read lock.
func (s *MemoryStore) checkLevelLocked(tenantID, levelID string) error {
	level, ok := s.levels[levelID]
	if !ok || level.TenantID != tenantID {
		return fmt.Errorf("%w: user level %s", ErrNotFound, levelID)
	}
	return nil
}
