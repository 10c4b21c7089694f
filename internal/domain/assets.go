package domain

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

// HeldAsset is one non-fungible unit of a collection owned by a wallet.
// It is a point-in-time observation: ownership changes with every swap.
type HeldAsset struct {
	MintID      solana.PublicKey `json:"mint_id"`
	DisplayName string           `json:"display_name"`
	MetadataURI string           `json:"metadata_uri,omitempty"`
	Collection  solana.PublicKey `json:"collection"` // zero when the asset is not grouped
	Owner       solana.PublicKey `json:"owner"`
	IsLocked    bool             `json:"is_locked"` // frozen or delegated on the escrow side
}

// HeldToken is one balance line of a fungible token owned by a wallet.
type HeldToken struct {
	TokenID   solana.PublicKey `json:"token_id"`
	Symbol    string           `json:"symbol,omitempty"`
	Decimals  uint8            `json:"decimals"`
	RawAmount uint64           `json:"raw_amount"` // smallest unit
}

// Display returns the human-facing amount (RawAmount / 10^Decimals).
func (t HeldToken) Display() decimal.Decimal {
	return ToDisplay(t.RawAmount, t.Decimals)
}
