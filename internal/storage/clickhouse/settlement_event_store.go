package clickhouse

import (
	"context"
	"fmt"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/storage"
)

// SettlementEventStore implements storage.SettlementEventStore using ClickHouse.
type SettlementEventStore struct {
	conn *Conn
}

// NewSettlementEventStore creates a new SettlementEventStore.
func NewSettlementEventStore(conn *Conn) *SettlementEventStore {
	return &SettlementEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.SettlementEventStore = (*SettlementEventStore)(nil)

// InsertBulk adds multiple events. Fails entire batch on duplicate signature.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
func (s *SettlementEventStore) InsertBulk(ctx context.Context, events []*domain.SettlementEvent) error {
	if len(events) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e == nil || e.Signature == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[e.Signature]; exists {
			return storage.ErrDuplicateKey
		}
		seen[e.Signature] = struct{}{}
	}

	for _, e := range events {
		exists, err := s.exists(ctx, e.Signature)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO settlement_events (
			signature, direction, collection, escrow, asset, owner, token,
			token_amount, fee_amount, slot, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.Signature, string(e.Direction), e.Collection, e.Escrow, e.Asset, e.Owner, e.Token,
			e.TokenAmount, e.FeeAmount, e.Slot, uint64(e.TimestampMs),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByCollection retrieves events for a collection within [start, end] (inclusive).
func (s *SettlementEventStore) GetByCollection(ctx context.Context, collection string, start, end int64) ([]*domain.SettlementEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT signature, direction, collection, escrow, asset, owner, token,
			token_amount, fee_amount, slot, timestamp_ms
		FROM settlement_events
		WHERE collection = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC, slot ASC
	`, collection, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query settlement events: %w", err)
	}
	defer rows.Close()

	var result []*domain.SettlementEvent
	for rows.Next() {
		var (
			e         domain.SettlementEvent
			direction string
			ts        uint64
		)
		if err := rows.Scan(
			&e.Signature, &direction, &e.Collection, &e.Escrow, &e.Asset, &e.Owner, &e.Token,
			&e.TokenAmount, &e.FeeAmount, &e.Slot, &ts,
		); err != nil {
			return nil, fmt.Errorf("scan settlement event: %w", err)
		}
		e.Direction = domain.Direction(direction)
		e.TimestampMs = int64(ts)
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate settlement events: %w", err)
	}

	return result, nil
}

func (s *SettlementEventStore) exists(ctx context.Context, signature string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx,
		`SELECT count() FROM settlement_events WHERE signature = ?`, signature,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}
