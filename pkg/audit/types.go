package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// MaxEntries is the default bounded-store cap. Shared by all tenants;
// oldest entries are evicted first when exceeded.
const MaxEntries = 10000

// EntityType identifies what kind of entity a mutation touched.
type EntityType string

const (
	EntityUserLevel         EntityType = "user_level"
	EntityViewPermission    EntityType = "view_permission"
	EntityFeaturePermission EntityType = "feature_permission"
	EntityAssignment        EntityType = "assignment"
)

// Action is the kind of administrative mutation recorded.
type Action string

const (
	ActionCreate           Action = "create"
	ActionUpdate           Action = "update"
	ActionDelete           Action = "delete"
	ActionAssignmentChange Action = "assignment_change"
)

// Entry is one immutable audit record.
type Entry struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenant_id"`
	ActorUserID string          `json:"actor_user_id"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Action      Action          `json:"action"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Filter narrows a query. Zero-valued fields match everything.
type Filter struct {
	EntityType  EntityType
	Action      Action
	EntityID    string
	ActorUserID string
	Start       *time.Time
	End         *time.Time
}

// Matches reports whether the entry passes the filter. Tenant scoping is
// enforced separately by the logger.
func (f Filter) Matches(e *Entry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.ActorUserID != "" && e.ActorUserID != f.ActorUserID {
		return false
	}
	if f.Start != nil && e.Timestamp.Before(*f.Start) {
		return false
	}
	if f.End != nil && e.Timestamp.After(*f.End) {
		return false
	}
	return true
}

// Page bounds a query result. A zero Limit selects DefaultPageSize.
type Page struct {
	Offset int
	Limit  int
}

// DefaultPageSize bounds unpaged queries.
const DefaultPageSize = 100

func (p Page) limit() int {
	if p.Limit <= 0 {
		return DefaultPageSize
	}
	return p.Limit
}

// Logger records and queries audit entries.
type Logger interface {
	// Append records one entry. The logger assigns ID and Timestamp when
	// unset. Failure must fail the triggering mutation.
	Append(ctx context.Context, entry *Entry) error

	// Query returns the tenant's entries, newest first, narrowed by filter
	// and bounded by page.
	Query(ctx context.Context, tenantID string, filter Filter, page Page) ([]*Entry, error)
}

// ErrInvalidEntry is returned when an appended entry is missing required
// fields.
var ErrInvalidEntry = errors.New("invalid audit entry")

// validate checks the fields the caller must supply.
func validate(e *Entry) error {
	if e == nil || e.TenantID == "" || e.ActorUserID == "" || e.EntityType == "" || e.Action == "" {
		return ErrInvalidEntry
	}
	return nil
}
