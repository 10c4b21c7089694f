// Package hybrid encodes and decodes accounts and instructions of the
// MPL-Hybrid escrow program, which swaps core assets of a collection
// against a fungible token held in an escrow vault.
package hybrid

import (
	"crypto/sha256"

	"github.com/gagliardetto/solana-go"
)

// Program IDs and fixed accounts.
var (
	ProgramID     = solana.MustPublicKeyFromBase58("MPL4o4wMzndgh8T1NVDxELQCj5UQfYTYEkabX3wNKtb")
	CoreProgramID = solana.MustPublicKeyFromBase58("CoREENxT6tW1HoK8ypY1SxRMZTcVPm7R94rH4PZNhX7d")
	// FeeSOLAccount receives the network fee charged on every swap.
	FeeSOLAccount = solana.MustPublicKeyFromBase58("GjF4LqmEhV33riVyAwHwiEeAHx4XXFn2yMY3fmMigoP3")
)

// Instruction names.
const (
	InstrInitEscrowV1 = "init_escrow_v1"
	InstrReleaseV1    = "release_v1"
	InstrCaptureV1    = "capture_v1"
)

// Path values stored in the escrow account.
const (
	PathNoReroll uint16 = 0
	PathReroll   uint16 = 1
)

func discriminator(namespace, name string) [8]byte {
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	escrowAccountDisc = discriminator("account", "EscrowV1")
	initEscrowDisc    = discriminator("global", InstrInitEscrowV1)
	releaseDisc       = discriminator("global", InstrReleaseV1)
	captureDisc       = discriminator("global", InstrCaptureV1)
)
