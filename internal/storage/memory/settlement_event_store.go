package memory

import (
	"context"
	"sort"
	"sync"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/storage"
)

// SettlementEventStore is an in-memory implementation of storage.SettlementEventStore.
type SettlementEventStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SettlementEvent // keyed by signature
}

// NewSettlementEventStore creates a new in-memory settlement event store.
func NewSettlementEventStore() *SettlementEventStore {
	return &SettlementEventStore{
		data: make(map[string]*domain.SettlementEvent),
	}
}

// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate.
func (s *SettlementEventStore) InsertBulk(_ context.Context, events []*domain.SettlementEvent) error {
	if len(events) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(events))

	// First pass: check for duplicates (existing + intra-batch)
	for _, e := range events {
		if e == nil || e.Signature == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[e.Signature]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[e.Signature]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[e.Signature] = struct{}{}
	}

	for _, e := range events {
		c := *e
		s.data[e.Signature] = &c
	}

	return nil
}

// GetByCollection retrieves events for a collection within [start, end] (inclusive).
func (s *SettlementEventStore) GetByCollection(_ context.Context, collection string, start, end int64) ([]*domain.SettlementEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SettlementEvent
	for _, e := range s.data {
		if e.Collection == collection && e.TimestampMs >= start && e.TimestampMs <= end {
			c := *e
			result = append(result, &c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TimestampMs != result[j].TimestampMs {
			return result[i].TimestampMs < result[j].TimestampMs
		}
		return result[i].Slot < result[j].Slot
	})

	return result, nil
}

var _ storage.SettlementEventStore = (*SettlementEventStore)(nil)
