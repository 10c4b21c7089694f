package memory

import (
	"context"
	"sort"
	"sync"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/storage"
)

// OperationJournal is an in-memory implementation of storage.OperationJournal.
type OperationJournal struct {
	mu   sync.RWMutex
	data map[string]*domain.OperationRecord // keyed by signature
}

// NewOperationJournal creates a new in-memory operation journal.
func NewOperationJournal() *OperationJournal {
	return &OperationJournal{
		data: make(map[string]*domain.OperationRecord),
	}
}

// Insert adds a new entry. Returns ErrDuplicateKey if exists.
func (j *OperationJournal) Insert(_ context.Context, r *domain.OperationRecord) error {
	if r == nil || r.Signature == "" {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if _, exists := j.data[r.Signature]; exists {
		return storage.ErrDuplicateKey
	}

	j.data[r.Signature] = cloneRecord(r)
	return nil
}

// UpdateStatus sets the status of an entry unless it is already final.
func (j *OperationJournal) UpdateStatus(_ context.Context, signature string, status domain.OperationStatus, slot *int64, errMsg *string, updatedAt int64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, ok := j.data[signature]
	if !ok {
		return storage.ErrNotFound
	}
	if r.Status.IsFinal() {
		return nil
	}

	r.Status = status
	r.Slot = cloneInt(slot)
	r.Error = cloneString(errMsg)
	r.UpdatedAt = updatedAt
	return nil
}

// GetBySignature retrieves an entry by signature.
func (j *OperationJournal) GetBySignature(_ context.Context, signature string) (*domain.OperationRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	r, ok := j.data[signature]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneRecord(r), nil
}

// GetByEscrow retrieves all entries for an escrow, ordered by submitted_at ASC.
func (j *OperationJournal) GetByEscrow(_ context.Context, escrow string) ([]*domain.OperationRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []*domain.OperationRecord
	for _, r := range j.data {
		if r.Escrow == escrow {
			result = append(result, cloneRecord(r))
		}
	}

	sort.Slice(result, func(a, b int) bool {
		if result[a].SubmittedAt != result[b].SubmittedAt {
			return result[a].SubmittedAt < result[b].SubmittedAt
		}
		return result[a].Signature < result[b].Signature
	})

	return result, nil
}

func cloneRecord(r *domain.OperationRecord) *domain.OperationRecord {
	c := *r
	c.Slot = cloneInt(r.Slot)
	c.Error = cloneString(r.Error)
	return &c
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var _ storage.OperationJournal = (*OperationJournal)(nil)
