package solana

import "encoding/json"

// Commitment levels accepted by the RPC node.
const (
	CommitmentProcessed = "processed"
	CommitmentConfirmed = "confirmed"
	CommitmentFinalized = "finalized"
)

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
	Slot       int64  `json:"-"`
}

// TokenAmount is the result of getTokenAccountBalance.
type TokenAmount struct {
	Amount         string `json:"amount"` // raw, base-10
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

// LatestBlockhash is the result of getLatestBlockhash.
type LatestBlockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
	Slot                 int64
}

// SendOpts configures sendTransaction.
type SendOpts struct {
	SkipPreflight       bool
	PreflightCommitment string
	MaxRetries          *uint
}

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64           `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	Err                json.RawMessage `json:"err"`
	ConfirmationStatus string          `json:"confirmationStatus"`
}

// Failed reports whether the transaction executed with an error.
func (s *SignatureStatus) Failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

// Reached reports whether the status satisfies the requested commitment.
func (s *SignatureStatus) Reached(commitment string) bool {
	rank := map[string]int{
		CommitmentProcessed: 1,
		CommitmentConfirmed: 2,
		CommitmentFinalized: 3,
	}
	return rank[s.ConfirmationStatus] >= rank[commitment] && rank[s.ConfirmationStatus] > 0
}

// SearchAssetsParams are the named parameters of the DAS searchAssets method.
type SearchAssetsParams struct {
	OwnerAddress string     `json:"ownerAddress,omitempty"`
	Grouping     []string   `json:"grouping,omitempty"`
	TokenType    string     `json:"tokenType,omitempty"`
	Burnt        *bool      `json:"burnt,omitempty"`
	Page         int        `json:"page"`
	Limit        int        `json:"limit"`
	Options      *DASOption `json:"options,omitempty"`
}

// DASOption toggles optional fields in DAS responses.
type DASOption struct {
	ShowFungible bool `json:"showFungible,omitempty"`
}

// AssetList is a page of DAS results.
type AssetList struct {
	Total int        `json:"total"`
	Limit int        `json:"limit"`
	Page  int        `json:"page"`
	Items []DASAsset `json:"items"`
}

// DASAsset is one DAS item; only the fields consumed here are decoded.
type DASAsset struct {
	ID        string        `json:"id"`
	Interface string        `json:"interface"`
	Burnt     bool          `json:"burnt"`
	Content   *DASContent   `json:"content"`
	Grouping  []DASGroup    `json:"grouping"`
	Ownership DASOwnership  `json:"ownership"`
	TokenInfo *DASTokenInfo `json:"token_info"`
}

// DASContent holds asset metadata references.
type DASContent struct {
	JSONURI  string      `json:"json_uri"`
	Metadata DASMetadata `json:"metadata"`
}

// DASMetadata holds on-chain metadata fields.
type DASMetadata struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// DASGroup is a grouping key/value pair, e.g. collection membership.
type DASGroup struct {
	GroupKey   string `json:"group_key"`
	GroupValue string `json:"group_value"`
}

// DASOwnership describes the current holder.
type DASOwnership struct {
	Owner     string `json:"owner"`
	Frozen    bool   `json:"frozen"`
	Delegated bool   `json:"delegated"`
}

// DASTokenInfo carries fungible balances.
type DASTokenInfo struct {
	Symbol   string `json:"symbol"`
	Balance  uint64 `json:"balance"`
	Decimals uint8  `json:"decimals"`
}
