package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/storage"
	"hybrid-swap/internal/storage/memory"
)

type observation struct {
	database, operation string
	failed              bool
}

func recorder(out *[]observation) storage.QueryObserver {
	return func(database, operation string, _ time.Duration, err error) {
		*out = append(*out, observation{database, operation, err != nil})
	}
}

func TestObserveJournal(t *testing.T) {
	ctx := context.Background()
	var seen []observation
	j := storage.ObserveJournal(memory.NewOperationJournal(), "postgres", recorder(&seen))

	require.NoError(t, j.Insert(ctx, &domain.OperationRecord{Signature: "sig1", Status: domain.OperationSubmitted}))
	require.ErrorIs(t, j.Insert(ctx, &domain.OperationRecord{Signature: "sig1", Status: domain.OperationSubmitted}), storage.ErrDuplicateKey)
	_, err := j.GetBySignature(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	assert.Equal(t, []observation{
		{"postgres", "insert_operation", false},
		{"postgres", "insert_operation", true},
		{"postgres", "get_operation", false},
	}, seen)
}

func TestObserveEvents(t *testing.T) {
	ctx := context.Background()
	var seen []observation
	s := storage.ObserveEvents(memory.NewSettlementEventStore(), "clickhouse", recorder(&seen))

	_, err := s.GetByCollection(ctx, "c", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, []observation{{"clickhouse", "list_settlements", false}}, seen)
}

func TestObserveNilObserver(t *testing.T) {
	j := memory.NewOperationJournal()
	assert.Same(t, j, storage.ObserveJournal(j, "postgres", nil))
}
