package memory

import (
	"context"
	"sort"
	"sync"

	"cantus/internal/domain/audit"
)

// AuditStore is an in-memory audit.Store keeping entries in append order.
type AuditStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

var _ audit.Store = (*AuditStore)(nil)

// NewAuditStore creates an empty audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(ctx context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	filter.Normalize()

	s.mu.RLock()
	matched := make([]audit.Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		if matches(entry, filter) {
			matched = append(matched, entry)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})

	page := audit.Page{
		TotalItems: int64(len(matched)),
		PageNum:    filter.Page,
		Limit:      filter.Limit,
		Entries:    []audit.Entry{},
	}
	offset := filter.Offset()
	if offset < len(matched) {
		end := offset + filter.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Entries = matched[offset:end]
	}
	return page, nil
}

func matches(entry audit.Entry, filter audit.Filter) bool {
	if filter.ActorID != "" && entry.ActorID != filter.ActorID {
		return false
	}
	if filter.Operation != "" && entry.Operation != filter.Operation {
		return false
	}
	if filter.Success != nil && entry.Success != *filter.Success {
		return false
	}
	if !filter.From.IsZero() && entry.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.Timestamp.After(filter.To) {
		return false
	}
	return true
}
