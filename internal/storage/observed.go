package storage

import (
	"context"
	"errors"
	"time"

	"hybrid-swap/internal/domain"
)

// QueryObserver receives the duration and outcome of each store call.
type QueryObserver func(database, operation string, d time.Duration, err error)

// ObserveJournal reports every call on j to fn under the database label.
func ObserveJournal(j OperationJournal, database string, fn QueryObserver) OperationJournal {
	if fn == nil {
		return j
	}
	return &observedJournal{next: j, database: database, observe: fn}
}

// ObserveEvents reports every call on s to fn under the database label.
func ObserveEvents(s SettlementEventStore, database string, fn QueryObserver) SettlementEventStore {
	if fn == nil {
		return s
	}
	return &observedEvents{next: s, database: database, observe: fn}
}

type observedJournal struct {
	next     OperationJournal
	database string
	observe  QueryObserver
}

func (o *observedJournal) done(op string, start time.Time, err error) {
	o.observe(o.database, op, time.Since(start), err)
}

func (o *observedJournal) Insert(ctx context.Context, r *domain.OperationRecord) error {
	start := time.Now()
	err := o.next.Insert(ctx, r)
	o.done("insert_operation", start, err)
	return err
}

func (o *observedJournal) UpdateStatus(ctx context.Context, signature string, status domain.OperationStatus, slot *int64, errMsg *string, updatedAt int64) error {
	start := time.Now()
	err := o.next.UpdateStatus(ctx, signature, status, slot, errMsg, updatedAt)
	o.done("update_operation", start, err)
	return err
}

func (o *observedJournal) GetBySignature(ctx context.Context, signature string) (*domain.OperationRecord, error) {
	start := time.Now()
	rec, err := o.next.GetBySignature(ctx, signature)
	o.done("get_operation", start, ignoreNotFound(err))
	return rec, err
}

func (o *observedJournal) GetByEscrow(ctx context.Context, escrow string) ([]*domain.OperationRecord, error) {
	start := time.Now()
	recs, err := o.next.GetByEscrow(ctx, escrow)
	o.done("list_operations", start, err)
	return recs, err
}

type observedEvents struct {
	next     SettlementEventStore
	database string
	observe  QueryObserver
}

func (o *observedEvents) InsertBulk(ctx context.Context, events []*domain.SettlementEvent) error {
	start := time.Now()
	err := o.next.InsertBulk(ctx, events)
	o.observe(o.database, "insert_settlements", time.Since(start), err)
	return err
}

func (o *observedEvents) GetByCollection(ctx context.Context, collection string, start, end int64) ([]*domain.SettlementEvent, error) {
	began := time.Now()
	events, err := o.next.GetByCollection(ctx, collection, start, end)
	o.observe(o.database, "list_settlements", time.Since(began), err)
	return events, err
}

// ignoreNotFound keeps lookups of unknown keys out of the error count.
func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}
