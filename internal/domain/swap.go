package domain

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Direction selects which side of the swap the caller gives up.
type Direction string

const (
	// AssetToToken releases an asset into the escrow for settlement tokens.
	AssetToToken Direction = "ASSET_TO_TOKEN"
	// TokenToAsset captures an escrow-held asset for settlement tokens.
	TokenToAsset Direction = "TOKEN_TO_ASSET"
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is a known value.
func (d Direction) IsValid() bool {
	return d == AssetToToken || d == TokenToAsset
}

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == AssetToToken {
		return TokenToAsset
	}
	return AssetToToken
}

// SwapRequest is the immutable description of a swap against a validated escrow.
// It is built once validation succeeds and passed by value afterwards.
type SwapRequest struct {
	collection      solana.PublicKey
	settlementToken solana.PublicKey
	direction       Direction
	escrowAddress   solana.PublicKey
	record          EscrowRecord
}

// NewSwapRequest builds a request from a validated escrow record.
func NewSwapRequest(record EscrowRecord, direction Direction) (SwapRequest, error) {
	if !direction.IsValid() {
		return SwapRequest{}, fmt.Errorf("invalid direction %q", direction)
	}
	if record.EscrowAddress.IsZero() || record.Collection.IsZero() || record.SettlementToken.IsZero() {
		return SwapRequest{}, fmt.Errorf("escrow record is incomplete")
	}
	return SwapRequest{
		collection:      record.Collection,
		settlementToken: record.SettlementToken,
		direction:       direction,
		escrowAddress:   record.EscrowAddress,
		record:          record,
	}, nil
}

func (r SwapRequest) Collection() solana.PublicKey      { return r.collection }
func (r SwapRequest) SettlementToken() solana.PublicKey { return r.settlementToken }
func (r SwapRequest) Direction() Direction              { return r.direction }
func (r SwapRequest) EscrowAddress() solana.PublicKey   { return r.escrowAddress }

// Escrow returns the validated record the request was built from.
func (r SwapRequest) Escrow() EscrowRecord { return r.record }

// SettlementReceipt is returned by a confirmed release or capture.
type SettlementReceipt struct {
	Signature   string           `json:"signature"` // settlement identifier
	Direction   Direction        `json:"direction"`
	Escrow      solana.PublicKey `json:"escrow"`
	Asset       solana.PublicKey `json:"asset"`
	Owner       solana.PublicKey `json:"owner"`
	TokenAmount uint64           `json:"token_amount"` // raw units moved between caller and vault, before fees
	FeeAmount   uint64           `json:"fee_amount"`   // raw units paid to the fee account
	Slot        uint64           `json:"slot"`
	ConfirmedAt int64            `json:"confirmed_at"` // unix ms
}
