package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RingStore is the bounded in-process audit log: a fixed-capacity FIFO ring.
// When full, appending evicts the oldest entry regardless of tenant.
type RingStore struct {
	mu        sync.RWMutex
	buf       []*Entry
	next      int // position of the next write
	count     int
	evictions int64
}

// RingStats summarizes ring occupancy, including per-tenant entry counts so
// eviction pressure from one tenant on another is observable.
type RingStats struct {
	Entries   int              `json:"entries"`
	Capacity  int              `json:"capacity"`
	Evictions int64            `json:"evictions"`
	PerTenant map[string]int64 `json:"per_tenant"`
}

// NewRingStore creates a ring with the given capacity; zero or negative
// selects MaxEntries.
func NewRingStore(capacity int) *RingStore {
	if capacity <= 0 {
		capacity = MaxEntries
	}
	return &RingStore{buf: make([]*Entry, capacity)}
}

// Append records one entry, evicting the oldest when the ring is full.
func (s *RingStore) Append(ctx context.Context, entry *Entry) error {
	if err := validate(entry); err != nil {
		return err
	}

	// Copy so later caller mutations cannot touch the stored record.
	stored := *entry
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Timestamp.IsZero() {
		stored.Timestamp = time.Now().UTC()
	}
	entry.ID = stored.ID
	entry.Timestamp = stored.Timestamp

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == len(s.buf) {
		s.evictions++
	} else {
		s.count++
	}
	s.buf[s.next] = &stored
	s.next = (s.next + 1) % len(s.buf)
	return nil
}

// Query returns the tenant's entries, newest first.
func (s *RingStore) Query(ctx context.Context, tenantID string, filter Filter, page Page) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entry
	// Walk newest to oldest.
	for i := 0; i < s.count; i++ {
		idx := (s.next - 1 - i + len(s.buf)*2) % len(s.buf)
		e := s.buf[idx]
		if e.TenantID != tenantID || !filter.Matches(e) {
			continue
		}
		matched = append(matched, e)
	}

	start := page.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + page.limit()
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

// Stats returns a snapshot of ring occupancy.
func (s *RingStore) Stats() RingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	perTenant := make(map[string]int64)
	for i := 0; i < s.count; i++ {
		idx := (s.next - 1 - i + len(s.buf)*2) % len(s.buf)
		perTenant[s.buf[idx].TenantID]++
	}
	return RingStats{
		Entries:   s.count,
		Capacity:  len(s.buf),
		Evictions: s.evictions,
		PerTenant: perTenant,
	}
}
