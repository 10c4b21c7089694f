// Package escrow validates, initializes and funds the escrow of a collection.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/programs"
	"hybrid-swap/internal/swaperr"
)

// State is the validation state of one escrow resolution.
type State string

const (
	StateUnvalidated  State = "unvalidated"
	StateValidating   State = "validating"
	StateInitializing State = "initializing"
	StateValid        State = "valid"
	StateMismatched   State = "mismatched" // terminal
	StateFetchError   State = "fetch_error"
)

// Terminal reports whether no further transition is possible for the same inputs.
func (s State) Terminal() bool {
	return s == StateValid || s == StateMismatched
}

// Observer is notified of every state a resolution enters.
type Observer func(collection solana.PublicKey, state State)

// ErrNotInitialized is the cause reported by Verify for a missing escrow.
var ErrNotInitialized = errors.New("escrow is not initialized")

// submissionError maps a failed submit-and-confirm to a typed error.
// Confirmation timeouts keep their own code; anything else becomes fallback.
func submissionError(fallback swaperr.Code, what string, sig solana.Signature, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var se *swaperr.Error
	if !sig.IsZero() && ledger.OutcomeUnknown(err) {
		se = swaperr.New(swaperr.ConfirmationTimedOut, what+" not confirmed in time; check its status before retrying", err)
	} else {
		se = swaperr.New(fallback, what+" failed", err)
	}
	if !sig.IsZero() {
		se.With("signature", sig.String())
	}
	return se
}

// tokenAccount reads the token account at addr. exists is false when the
// account is absent.
func tokenAccount(ctx context.Context, r ledger.Reader, addr solana.PublicKey) (acc programs.TokenAccount, exists bool, err error) {
	raw, err := r.FetchAccount(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return programs.TokenAccount{}, false, nil
	}
	if err != nil {
		return programs.TokenAccount{}, false, err
	}
	if !raw.Owner.Equals(solana.TokenProgramID) {
		return programs.TokenAccount{}, true, fmt.Errorf("account %s is not a token account (owner %s)", addr, raw.Owner)
	}
	acc, err = programs.DecodeTokenAccount(raw.Data)
	if err != nil {
		return programs.TokenAccount{}, true, fmt.Errorf("decode %s: %w", addr, err)
	}
	return acc, true, nil
}
