package domain

import "github.com/gagliardetto/solana-go"

// IndexRange bounds the metadata indices an escrow may assign on capture.
type IndexRange struct {
	Min uint64
	Max uint64
}

// EscrowRecord is the on-chain configuration of one collection's swap facility.
// The account lives at the address derived from Collection; it is never stored
// independently of that derivation.
type EscrowRecord struct {
	EscrowAddress     solana.PublicKey // derive(Collection)
	Collection        solana.PublicKey // asset collection the escrow serves
	SettlementToken   solana.PublicKey // fungible token mint
	Authority         solana.PublicKey // configuration authority
	FeeLocation       solana.PublicKey // wallet receiving protocol fees
	Name              string
	MetadataBaseURI   string
	IndexRange        IndexRange
	ExchangeRate      uint64 // settlement token raw units per asset
	ProtocolFeeAmount uint64 // settlement token raw units charged on capture
	NetworkFeeAmount  uint64 // lamports charged on capture
	Count             uint64 // assets captured so far
	RerollEnabled     bool
	Bump              uint8
}

// EscrowParams are the values an escrow is expected to carry (validated on fetch)
// and the values used to initialize it when it does not exist yet.
type EscrowParams struct {
	Collection        solana.PublicKey
	SettlementToken   solana.PublicKey
	Authority         solana.PublicKey
	FeeLocation       solana.PublicKey
	Name              string
	MetadataBaseURI   string
	IndexRange        IndexRange
	ExchangeRate      uint64
	ProtocolFeeAmount uint64
	NetworkFeeAmount  uint64
	RerollEnabled     bool
}

// VaultAccount is the escrow's holding account for the settlement token.
type VaultAccount struct {
	Address solana.PublicKey // associated token account of (Owner, Token)
	Owner   solana.PublicKey // escrow address
	Token   solana.PublicKey
	Balance uint64 // raw units
	Exists  bool
}
