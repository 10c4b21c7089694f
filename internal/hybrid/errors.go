package hybrid

import (
	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/swaperr"
)

// Custom error codes raised by the escrow program.
const (
	ErrCodeNumericalOverflow  uint32 = 6000
	ErrCodeInvalidCollection  uint32 = 6001
	ErrCodeInvalidAsset       uint32 = 6002
	ErrCodeMaxSmallerThanMin  uint32 = 6003
	ErrCodeCannotReroll       uint32 = 6004
	ErrCodeInvalidUpdateAuth  uint32 = 6006
	ErrCodeInvalidTokenMint   uint32 = 6007
	ErrCodeInvalidFeeLocation uint32 = 6010
)

// Custom error codes raised by the core assets program.
const (
	CoreErrIncorrectAccount uint32 = 6
	CoreErrInvalidAuthority uint32 = 9
)

// Custom error codes raised by the SPL token program.
const (
	TokenErrInsufficientFunds uint32 = 1
)

// ClassifyProgramError maps a custom program error raised while settling to
// an error code. release selects the vault-side reading of token shortfalls.
// Unknown failures classify as SETTLEMENT_FAILED.
func ClassifyProgramError(program solana.PublicKey, code uint32, release bool) swaperr.Code {
	switch {
	case program.Equals(CoreProgramID) && code == CoreErrInvalidAuthority,
		program.Equals(ProgramID) && code == ErrCodeInvalidUpdateAuth:
		return swaperr.EscrowNotDelegated
	case program.Equals(CoreProgramID) && code == CoreErrIncorrectAccount,
		program.Equals(ProgramID) && code == ErrCodeInvalidAsset:
		return swaperr.AssetNotAvailable
	case program.Equals(solana.TokenProgramID) && code == TokenErrInsufficientFunds:
		if release {
			return swaperr.InsufficientVaultBalance
		}
		return swaperr.InsufficientBalance
	case program.Equals(ProgramID) && (code == ErrCodeInvalidCollection || code == ErrCodeInvalidTokenMint):
		return swaperr.ConfigurationMismatch
	default:
		return swaperr.SettlementFailed
	}
}
