package navigation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tollgate-io/tollgate/pkg/permissions"
)

// DefaultBodyCacheSize bounds the serialized-body cache. Bodies are keyed by
// ETag, so users with identical permission sets share one entry.
const DefaultBodyCacheSize = 1024

// Result is the outcome of a navigation request. When NotModified is set the
// caller's ETag is current and Body is empty.
type Result struct {
	ETag        string `json:"etag"`
	Body        []byte `json:"body,omitempty"`
	NotModified bool   `json:"not_modified,omitempty"`
}

// Service builds permission-filtered navigation with conditional caching.
type Service struct {
	resolver *permissions.Resolver
	registry *Registry
	bodies   *lru.LRU[string, []byte]
}

// NewService creates a navigation service over a resolver and menu registry.
func NewService(resolver *permissions.Resolver, registry *Registry) *Service {
	return &Service{
		resolver: resolver,
		registry: registry,
		bodies:   lru.NewLRU[string, []byte](DefaultBodyCacheSize, nil, time.Hour),
	}
}

// Get resolves the caller's permissions and projects the menu. When ifMatch
// equals the current ETag the body is neither rebuilt nor re-serialized.
func (s *Service) Get(ctx context.Context, tenantID, userID, ifMatch string) (*Result, error) {
	set, err := s.resolver.ResolveAll(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	etag := ETagFor(set)
	if ifMatch != "" && ifMatch == etag {
		return &Result{ETag: etag, NotModified: true}, nil
	}

	if body, ok := s.bodies.Get(etag); ok {
		return &Result{ETag: etag, Body: body}, nil
	}

	items := s.registry.Filter(set)
	if items == nil {
		items = []Item{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("serialize navigation: %w", err)
	}
	s.bodies.Add(etag, body)
	return &Result{ETag: etag, Body: body}, nil
}
