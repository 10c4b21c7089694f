package domain

// SettlementEvent is an append-only analytics row for a confirmed swap.
// Corresponds to settlement_events table in ClickHouse.
type SettlementEvent struct {
	Signature   string // transaction signature
	Direction   Direction
	Collection  string
	Escrow      string
	Asset       string
	Owner       string
	Token       string
	TokenAmount uint64
	FeeAmount   uint64
	Slot        uint64
	TimestampMs int64
}
