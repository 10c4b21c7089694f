// Package pda derives program addresses deterministically from structured seeds.
// Nothing here performs I/O.
package pda

import (
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"hybrid-swap/internal/swaperr"
)

// Derivation limits enforced by the runtime.
const (
	MaxSeeds      = 16
	MaxSeedLength = 32
)

// EscrowSeed is the namespace tag of hybrid escrow addresses.
const EscrowSeed = "escrow"

var (
	// ErrMaxSeedLengthExceeded is returned when a seed is longer than MaxSeedLength.
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	// ErrNoViableBump is returned when every bump lands on the curve.
	ErrNoViableBump = errors.New("unable to find a viable program address bump")
	// ErrOnCurve is returned when a candidate address has a private key.
	ErrOnCurve = errors.New("derived address is on the ed25519 curve")
)

// ParseIdentifier decodes a base58 account identifier.
// Malformed input yields an INVALID_IDENTIFIER error.
func ParseIdentifier(s string) (solana.PublicKey, error) {
	if s == "" {
		return solana.PublicKey{}, swaperr.Newf(swaperr.InvalidIdentifier, "identifier is empty")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return solana.PublicKey{}, swaperr.New(swaperr.InvalidIdentifier, fmt.Sprintf("identifier %q is not base58", s), err)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, swaperr.Newf(swaperr.InvalidIdentifier,
			"identifier %q decodes to %d bytes, want %d", s, len(raw), solana.PublicKeyLength)
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// CreateProgramAddress returns the program address of seeds under programID.
// On-curve results are rejected with ErrOnCurve.
func CreateProgramAddress(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, error) {
	if err := checkSeeds(seeds, MaxSeeds); err != nil {
		return solana.PublicKey{}, err
	}
	addr, err := solana.CreateProgramAddress(seeds, programID)
	if err != nil {
		// Seeds are already checked; the only remaining rejection is the curve.
		return solana.PublicKey{}, fmt.Errorf("%w: %w", ErrOnCurve, err)
	}
	return addr, nil
}

// FindProgramAddress returns the first off-curve address of seeds under
// programID, searching bumps from 255 down, with its bump.
func FindProgramAddress(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	if err := checkSeeds(seeds, MaxSeeds-1); err != nil {
		return solana.PublicKey{}, 0, err
	}
	// solana-go appends the bump to the slice it is given.
	addr, bump, err := solana.FindProgramAddress(seeds[:len(seeds):len(seeds)], programID)
	if err != nil {
		return solana.PublicKey{}, 0, fmt.Errorf("%w: %w", ErrNoViableBump, err)
	}
	if isOnCurve(addr[:]) {
		return solana.PublicKey{}, 0, ErrOnCurve
	}
	return addr, bump, nil
}

func checkSeeds(seeds [][]byte, limit int) error {
	if len(seeds) > limit {
		return fmt.Errorf("too many seeds: %d > %d", len(seeds), limit)
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return ErrMaxSeedLengthExceeded
		}
	}
	return nil
}

// isOnCurve reports whether b decodes to a valid ed25519 point.
func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
