package permissions

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ViewState is the tri-state decision a level records for a view or feature.
// Inherit means the level expresses no decision of its own.
type ViewState uint8

const (
	StateInherit ViewState = iota
	StateAllow
	StateDeny
)

// String returns the wire representation of the state.
func (s ViewState) String() string {
	switch s {
	case StateInherit:
		return "inherit"
	case StateAllow:
		return "allow"
	case StateDeny:
		return "deny"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseViewState parses the wire representation of a state.
func ParseViewState(raw string) (ViewState, error) {
	switch strings.ToLower(raw) {
	case "inherit", "":
		return StateInherit, nil
	case "allow":
		return StateAllow, nil
	case "deny":
		return StateDeny, nil
	default:
		return StateInherit, fmt.Errorf("%w: unknown permission state %q", ErrValidation, raw)
	}
}

// MarshalJSON encodes the state as its string form.
func (s ViewState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the state from its string form.
func (s *ViewState) UnmarshalJSON(data []byte) error {
	parsed, err := ParseViewState(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Scope is the data-visibility breadth of a feature grant, ordered
// ScopeOwn < ScopeTeam < ScopeCompany < ScopeAny.
type Scope uint8

const (
	ScopeNone Scope = iota // no grant; never stored on an allow row
	ScopeOwn
	ScopeTeam
	ScopeCompany
	ScopeAny
)

// String returns the wire representation of the scope.
func (s Scope) String() string {
	switch s {
	case ScopeNone:
		return "none"
	case ScopeOwn:
		return "own"
	case ScopeTeam:
		return "team"
	case ScopeCompany:
		return "company"
	case ScopeAny:
		return "any"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// ParseScope parses the wire representation of a scope.
func ParseScope(raw string) (Scope, error) {
	switch strings.ToLower(raw) {
	case "none", "":
		return ScopeNone, nil
	case "own":
		return ScopeOwn, nil
	case "team":
		return ScopeTeam, nil
	case "company":
		return ScopeCompany, nil
	case "any":
		return ScopeAny, nil
	default:
		return ScopeNone, fmt.Errorf("%w: unknown scope %q", ErrValidation, raw)
	}
}

// MarshalJSON encodes the scope as its string form.
func (s Scope) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes the scope from its string form.
func (s *Scope) UnmarshalJSON(data []byte) error {
	parsed, err := ParseScope(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Wider returns the broader of two scopes.
func Wider(a, b Scope) Scope {
	if b > a {
		return b
	}
	return a
}

// Action is a business operation on a feature.
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionExport  Action = "export"
	ActionApprove Action = "approve"
)

// KnownActions is the closed set of feature actions the engine accepts.
var KnownActions = map[Action]struct{}{
	ActionCreate:  {},
	ActionRead:    {},
	ActionUpdate:  {},
	ActionDelete:  {},
	ActionExport:  {},
	ActionApprove: {},
}

// Valid reports whether the action is a member of the known set.
func (a Action) Valid() bool {
	_, ok := KnownActions[a]
	return ok
}

// FeatureKey identifies one gated business operation.
type FeatureKey struct {
	FeatureID string
	Action    Action
}

// String returns the "feature:action" form of the key.
func (k FeatureKey) String() string {
	return k.FeatureID + ":" + string(k.Action)
}

// MarshalText lets FeatureKey serve as a JSON map key.
func (k FeatureKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the "feature:action" form.
func (k *FeatureKey) UnmarshalText(data []byte) error {
	s := string(data)
	i := strings.LastIndex(s, ":")
	if i <= 0 || i == len(s)-1 {
		return fmt.Errorf("%w: malformed feature key %q", ErrValidation, s)
	}
	k.FeatureID = s[:i]
	k.Action = Action(s[i+1:])
	return nil
}

// UserLevel is a named, tenant-scoped permission bundle assignable to users.
type UserLevel struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ViewPermission is one level's decision for one view. Absence of a row
// implies StateInherit.
type ViewPermission struct {
	UserLevelID string    `json:"user_level_id"`
	ViewID      string    `json:"view_id"`
	State       ViewState `json:"state"`
}

// FeaturePermission is one level's decision for one (feature, action). Scope
// is meaningful only when State is StateAllow.
type FeaturePermission struct {
	UserLevelID string    `json:"user_level_id"`
	FeatureID   string    `json:"feature_id"`
	Action      Action    `json:"action"`
	State       ViewState `json:"state"`
	Scope       Scope     `json:"scope,omitempty"`
}

// Key returns the feature key of the permission row.
func (p FeaturePermission) Key() FeatureKey {
	return FeatureKey{FeatureID: p.FeatureID, Action: p.Action}
}

// Assignment binds a user to a level within a tenant.
type Assignment struct {
	TenantID    string `json:"tenant_id"`
	UserID      string `json:"user_id"`
	UserLevelID string `json:"user_level_id"`
}

// ResolvedSet is the effective, merged permission set for one (tenant, user).
// It is derived and cached, never persisted, and must be treated as immutable
// once published to the cache.
type ResolvedSet struct {
	TenantID   string                `json:"tenant_id"`
	UserID     string                `json:"user_id"`
	Views      map[string]struct{}   `json:"views"`
	Features   map[FeatureKey]Scope  `json:"features"`
	ComputedAt time.Time             `json:"computed_at"`
}

// CanView reports whether the view resolved to visible.
func (s *ResolvedSet) CanView(viewID string) bool {
	_, ok := s.Views[viewID]
	return ok
}

// FeatureScope returns the granted scope for a feature action, if any.
func (s *ResolvedSet) FeatureScope(featureID string, action Action) (Scope, bool) {
	scope, ok := s.Features[FeatureKey{FeatureID: featureID, Action: action}]
	return scope, ok
}

// ViewIDs returns the visible view IDs in sorted order.
func (s *ResolvedSet) ViewIDs() []string {
	ids := make([]string, 0, len(s.Views))
	for id := range s.Views {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Decision is the outcome of a feature-action resolution. Scope is ScopeNone
// unless Allowed is true.
type Decision struct {
	Allowed bool  `json:"allowed"`
	Scope   Scope `json:"scope,omitempty"`
}
