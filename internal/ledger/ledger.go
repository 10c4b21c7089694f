// Package ledger defines how the swap services read from and submit
// operations to the ledger, with an RPC-backed implementation.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/domain"
)

var (
	// ErrAccountNotFound is the distinguished absence result of FetchAccount.
	ErrAccountNotFound = errors.New("account not found")

	// ErrConfirmationTimedOut means the confirmation window elapsed without a
	// final outcome. The operation may still land; check its status later.
	ErrConfirmationTimedOut = errors.New("confirmation timed out")

	// ErrBlockhashExpired means the operation can no longer land.
	ErrBlockhashExpired = errors.New("blockhash expired before confirmation")
)

// OutcomeUnknown reports whether err from Confirm leaves the fate of a
// submitted operation open: the confirmation window elapsed or the caller's
// deadline ran out first. Such operations are re-checked, never assumed lost.
func OutcomeUnknown(err error) bool {
	return errors.Is(err, ErrConfirmationTimedOut) || errors.Is(err, context.DeadlineExceeded)
}

// Account is a raw ledger account.
type Account struct {
	Address  solana.PublicKey
	Owner    solana.PublicKey // owning program
	Lamports uint64
	Data     []byte
	Slot     uint64
}

// AssetQuery selects one page of an owner's holdings from the asset index.
type AssetQuery struct {
	Owner      solana.PublicKey
	Collection solana.PublicKey // zero selects every collection
	Fungible   bool
	Page       int // 1-based
	Limit      int
}

// AssetRecord is one indexed holding.
type AssetRecord struct {
	ID         solana.PublicKey
	Owner      solana.PublicKey
	Collection solana.PublicKey
	Name       string
	URI        string
	Symbol     string
	Frozen     bool
	Delegated  bool
	Balance    uint64 // fungible only
	Decimals   uint8  // fungible only
}

// AssetPage is one page of AssetRecords.
type AssetPage struct {
	Items []AssetRecord
	Page  int
	Limit int
}

// Checkpoint is the recent ledger reference an operation is pinned to.
type Checkpoint struct {
	Blockhash       solana.Hash
	LastValidHeight uint64
	Slot            uint64
}

// Operation is an atomic list of instructions; all apply or none do.
type Operation struct {
	Kind         domain.OperationKind
	Escrow       solana.PublicKey
	Instructions []solana.Instruction
}

// Submission identifies an operation that reached the ledger.
type Submission struct {
	Signature   solana.Signature
	Operation   Operation
	Payer       solana.PublicKey
	Checkpoint  Checkpoint
	SubmittedAt time.Time
}

// Confirmation is the final successful outcome of a submission.
type Confirmation struct {
	Signature   solana.Signature
	Slot        uint64
	ConfirmedAt time.Time
}

// SignatureState is the current known state of a signature.
type SignatureState struct {
	Found  bool
	Status domain.OperationStatus
	Slot   uint64
	Err    string
}

// Reader is the read side of the ledger.
type Reader interface {
	// FetchAccount returns ErrAccountNotFound when the account does not exist.
	FetchAccount(ctx context.Context, addr solana.PublicKey) (*Account, error)
	// SearchAssets returns an empty page for an owner the index holds nothing
	// for. Indexers that answer with a not-found error instead yield
	// ErrAccountNotFound.
	SearchAssets(ctx context.Context, q AssetQuery) (*AssetPage, error)
	Checkpoint(ctx context.Context) (Checkpoint, error)
}

// Submitter signs and submits operations on behalf of one payer.
type Submitter interface {
	Payer() solana.PublicKey
	Submit(ctx context.Context, op Operation) (Submission, error)
	// Confirm waits for a final outcome. It returns ErrConfirmationTimedOut
	// when its window elapses; failures are returned as errors.
	Confirm(ctx context.Context, sub Submission) (*Confirmation, error)
	SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureState, error)
}

// Ledger is the full ledger surface.
type Ledger interface {
	Reader
	Submitter
}

// SubmitAndConfirm submits op and waits for its confirmation.
// The submission is returned even when confirmation fails so callers can
// report the signature.
func SubmitAndConfirm(ctx context.Context, l Submitter, op Operation) (Submission, *Confirmation, error) {
	sub, err := l.Submit(ctx, op)
	if err != nil {
		return Submission{}, nil, err
	}
	conf, err := l.Confirm(ctx, sub)
	return sub, conf, err
}
