package solana

import "context"

// RPCClient defines the Solana JSON-RPC surface used by the ledger adapter.
type RPCClient interface {
	// GetAccountInfo retrieves an account. Returns nil when the account does not exist.
	GetAccountInfo(ctx context.Context, pubkey string) (*AccountInfo, error)

	// GetTokenAccountBalance retrieves the balance of an SPL token account.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)

	// GetLatestBlockhash retrieves a blockhash and the last block height it is valid for.
	GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error)

	// GetBlockHeight retrieves the current block height.
	GetBlockHeight(ctx context.Context) (uint64, error)

	// GetSlot retrieves the current slot.
	GetSlot(ctx context.Context) (int64, error)

	// SendTransaction submits a signed, serialized transaction and returns its signature.
	SendTransaction(ctx context.Context, raw []byte, opts *SendOpts) (string, error)

	// GetSignatureStatuses retrieves statuses for signatures; unknown signatures yield nil entries.
	GetSignatureStatuses(ctx context.Context, signatures []string, searchHistory bool) ([]*SignatureStatus, error)

	// SearchAssets queries the Digital Asset Standard index.
	SearchAssets(ctx context.Context, params SearchAssetsParams) (*AssetList, error)
}
