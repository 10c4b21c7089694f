package storage

import (
	"context"

	"hybrid-swap/internal/domain"
)

// OperationJournal records every operation submitted to the ledger and its
// last known outcome. Rows are keyed by transaction signature.
type OperationJournal interface {
	// Insert adds a new entry. Returns ErrDuplicateKey if the signature exists.
	Insert(ctx context.Context, r *domain.OperationRecord) error

	// UpdateStatus sets the status of an entry. Final statuses are never
	// overwritten. Returns ErrNotFound if the signature does not exist.
	UpdateStatus(ctx context.Context, signature string, status domain.OperationStatus, slot *int64, errMsg *string, updatedAt int64) error

	// GetBySignature retrieves an entry. Returns ErrNotFound if not exists.
	GetBySignature(ctx context.Context, signature string) (*domain.OperationRecord, error)

	// GetByEscrow retrieves all entries for an escrow, ordered by submitted_at ASC.
	GetByEscrow(ctx context.Context, escrow string) ([]*domain.OperationRecord, error)
}

// SettlementEventStore is the append-only analytics sink for confirmed swaps.
type SettlementEventStore interface {
	// InsertBulk adds multiple events atomically. Fails entire batch on any duplicate signature.
	InsertBulk(ctx context.Context, events []*domain.SettlementEvent) error

	// GetByCollection retrieves events for a collection within [start, end] (inclusive, unix ms),
	// ordered by timestamp ASC.
	GetByCollection(ctx context.Context, collection string, start, end int64) ([]*domain.SettlementEvent, error)
}
