package pda

import (
	"github.com/gagliardetto/solana-go"
)

// Deriver computes escrow and vault addresses for one escrow program.
type Deriver struct {
	program solana.PublicKey
}

// NewDeriver creates a Deriver for the given escrow program.
func NewDeriver(program solana.PublicKey) *Deriver {
	return &Deriver{program: program}
}

// Program returns the escrow program the deriver is bound to.
func (d *Deriver) Program() solana.PublicKey {
	return d.program
}

// EscrowAddress derives the escrow address of a collection.
// Formula: PDA(program, ["escrow", collection])
func (d *Deriver) EscrowAddress(collection solana.PublicKey) (solana.PublicKey, uint8, error) {
	return FindProgramAddress([][]byte{[]byte(EscrowSeed), collection[:]}, d.program)
}

// Derive parses a base58 collection identifier and returns its escrow address.
func (d *Deriver) Derive(collectionID string) (solana.PublicKey, error) {
	collection, err := ParseIdentifier(collectionID)
	if err != nil {
		return solana.PublicKey{}, err
	}
	addr, _, err := d.EscrowAddress(collection)
	return addr, err
}

// VaultAddress derives the associated token account of owner for mint.
// The vault of an escrow is VaultAddress(escrow, settlementToken).
func (d *Deriver) VaultAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	return VaultAddress(owner, mint)
}

// VaultAddress derives the associated token account of owner for mint.
func VaultAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	return AssociatedTokenAddress(owner, mint)
}

// AssociatedTokenAddress derives the classic SPL associated token account
// of owner for mint. Every token account address in the service comes from here.
// Formula: PDA(associated-token program, [owner, token program, mint])
func AssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := FindProgramAddress([][]byte{
		owner[:],
		solana.TokenProgramID[:],
		mint[:],
	}, solana.SPLAssociatedTokenAccountProgramID)
	return addr, err
}
