// Package programs builds and decodes instructions for the native and SPL
// programs a swap touches: SPL Token, Associated Token Account and Compute Budget.
package programs

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/pda"
)

// Program IDs not exported by solana-go under stable names.
var (
	ComputeBudgetProgramID  = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")
	RecentBlockhashesSysvar = solana.MustPublicKeyFromBase58("SysvarRecentB1ockHashes11111111111111111111")
)

// Instruction tags.
const (
	tokenTransfer       = 3
	ataCreateIdempotent = 1
	computeSetUnitPrice = 3
)

// Token account layout.
const (
	tokenAccountLength     = 165
	tokenAccountAmountFrom = 64
)

// ErrShortData is returned when account or instruction data is truncated.
var ErrShortData = errors.New("data too short")

// Transfer moves amount raw units between token accounts owned by owner.
func Transfer(source, destination, owner solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = tokenTransfer
	binary.LittleEndian.PutUint64(data[1:], amount)

	return solana.NewInstruction(solana.TokenProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(source, true, false),
		solana.NewAccountMeta(destination, true, false),
		solana.NewAccountMeta(owner, false, true),
	}, data)
}

// CreateAssociatedIdempotent creates the associated token account of owner
// for mint unless it already exists.
func CreateAssociatedIdempotent(payer, owner, mint solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, err := pda.AssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("derive associated account: %w", err)
	}

	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, []byte{ataCreateIdempotent}), ata, nil
}

// SetComputeUnitPrice sets the priority fee in micro-lamports per compute unit.
func SetComputeUnitPrice(microLamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = computeSetUnitPrice
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(ComputeBudgetProgramID, solana.AccountMetaSlice{}, data)
}

// DecodeTransfer returns the amount of a token transfer instruction.
func DecodeTransfer(data []byte) (uint64, bool) {
	if len(data) != 9 || data[0] != tokenTransfer {
		return 0, false
	}
	return binary.LittleEndian.Uint64(data[1:]), true
}

// IsCreateAssociatedIdempotent reports whether data encodes CreateIdempotent.
func IsCreateAssociatedIdempotent(data []byte) bool {
	return len(data) == 1 && data[0] == ataCreateIdempotent
}

// TokenAccount is the decoded prefix of an SPL token account.
type TokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}

// DecodeTokenAccount decodes the mint, owner and amount of a token account.
func DecodeTokenAccount(data []byte) (TokenAccount, error) {
	if len(data) < tokenAccountAmountFrom+8 {
		return TokenAccount{}, fmt.Errorf("token account: %w (%d bytes)", ErrShortData, len(data))
	}
	return TokenAccount{
		Mint:   solana.PublicKeyFromBytes(data[0:32]),
		Owner:  solana.PublicKeyFromBytes(data[32:64]),
		Amount: binary.LittleEndian.Uint64(data[tokenAccountAmountFrom:]),
	}, nil
}

// EncodeTokenAccount lays out an initialized token account.
func EncodeTokenAccount(acc TokenAccount) []byte {
	data := make([]byte, tokenAccountLength)
	copy(data[0:32], acc.Mint[:])
	copy(data[32:64], acc.Owner[:])
	binary.LittleEndian.PutUint64(data[tokenAccountAmountFrom:], acc.Amount)
	data[108] = 1 // state: initialized
	return data
}
