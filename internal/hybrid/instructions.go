package hybrid

import (
	"bytes"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/programs"
)

// InitEscrowArgs are the configuration values written by init_escrow_v1.
type InitEscrowArgs struct {
	Name         string
	URI          string
	Max          uint64
	Min          uint64
	Amount       uint64
	FeeAmount    uint64
	SolFeeAmount uint64
	Path         uint16
}

// ArgsFromParams converts expected escrow parameters to instruction arguments.
func ArgsFromParams(p domain.EscrowParams) InitEscrowArgs {
	return InitEscrowArgs{
		Name:         p.Name,
		URI:          p.MetadataBaseURI,
		Max:          p.IndexRange.Max,
		Min:          p.IndexRange.Min,
		Amount:       p.ExchangeRate,
		FeeAmount:    p.ProtocolFeeAmount,
		SolFeeAmount: p.NetworkFeeAmount,
		Path:         pathOf(p.RerollEnabled),
	}
}

// InitEscrow builds init_escrow_v1 for the escrow at escrow, signed by authority.
func InitEscrow(escrow, authority, collection, token, feeLocation solana.PublicKey, args InitEscrowArgs) (solana.Instruction, error) {
	feeATA, err := pda.AssociatedTokenAddress(feeLocation, token)
	if err != nil {
		return nil, fmt.Errorf("derive fee account: %w", err)
	}

	w := newWriter()
	w.bytes(initEscrowDisc[:])
	w.str(args.Name)
	w.str(args.URI)
	w.u64(args.Max)
	w.u64(args.Min)
	w.u64(args.Amount)
	w.u64(args.FeeAmount)
	w.u64(args.SolFeeAmount)
	w.u16(args.Path)

	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.NewAccountMeta(escrow, true, false),
		solana.NewAccountMeta(authority, true, true),
		solana.NewAccountMeta(collection, false, false),
		solana.NewAccountMeta(token, false, false),
		solana.NewAccountMeta(feeLocation, false, false),
		solana.NewAccountMeta(feeATA, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
	}, w.data()), nil
}

// SettlementAccounts names the accounts shared by release_v1 and capture_v1.
type SettlementAccounts struct {
	Owner       solana.PublicKey // caller, signer and payer
	Authority   solana.PublicKey // escrow configuration authority
	Escrow      solana.PublicKey
	Asset       solana.PublicKey
	Collection  solana.PublicKey
	Token       solana.PublicKey
	FeeLocation solana.PublicKey
}

// Account positions inside release_v1 and capture_v1.
const (
	SettleOwner = iota
	SettleAuthority
	SettleEscrow
	SettleAsset
	SettleCollection
	SettleUserTokenAccount
	SettleEscrowTokenAccount
	SettleToken
	SettleFeeTokenAccount
	SettleFeeSOLAccount
	SettleFeeProjectAccount
	SettleRecentBlockhashes
	SettleCoreProgram
	SettleSystemProgram
	SettleTokenProgram
	SettleATAProgram
	settleAccountCount
)

// Release builds release_v1: the owner hands the asset to the escrow and
// receives the exchange rate in settlement tokens from the vault.
func Release(a SettlementAccounts) (solana.Instruction, error) {
	return settlement(releaseDisc, a)
}

// Capture builds capture_v1: the owner pays the exchange rate plus fees and
// receives the asset from the escrow.
func Capture(a SettlementAccounts) (solana.Instruction, error) {
	return settlement(captureDisc, a)
}

func settlement(disc [8]byte, a SettlementAccounts) (solana.Instruction, error) {
	userATA, err := pda.AssociatedTokenAddress(a.Owner, a.Token)
	if err != nil {
		return nil, fmt.Errorf("derive user token account: %w", err)
	}
	escrowATA, err := pda.AssociatedTokenAddress(a.Escrow, a.Token)
	if err != nil {
		return nil, fmt.Errorf("derive escrow token account: %w", err)
	}
	feeATA, err := pda.AssociatedTokenAddress(a.FeeLocation, a.Token)
	if err != nil {
		return nil, fmt.Errorf("derive fee token account: %w", err)
	}

	metas := make(solana.AccountMetaSlice, settleAccountCount)
	metas[SettleOwner] = solana.NewAccountMeta(a.Owner, true, true)
	metas[SettleAuthority] = solana.NewAccountMeta(a.Authority, true, false)
	metas[SettleEscrow] = solana.NewAccountMeta(a.Escrow, true, false)
	metas[SettleAsset] = solana.NewAccountMeta(a.Asset, true, false)
	metas[SettleCollection] = solana.NewAccountMeta(a.Collection, true, false)
	metas[SettleUserTokenAccount] = solana.NewAccountMeta(userATA, true, false)
	metas[SettleEscrowTokenAccount] = solana.NewAccountMeta(escrowATA, true, false)
	metas[SettleToken] = solana.NewAccountMeta(a.Token, false, false)
	metas[SettleFeeTokenAccount] = solana.NewAccountMeta(feeATA, true, false)
	metas[SettleFeeSOLAccount] = solana.NewAccountMeta(FeeSOLAccount, true, false)
	metas[SettleFeeProjectAccount] = solana.NewAccountMeta(a.FeeLocation, true, false)
	metas[SettleRecentBlockhashes] = solana.NewAccountMeta(programs.RecentBlockhashesSysvar, false, false)
	metas[SettleCoreProgram] = solana.NewAccountMeta(CoreProgramID, false, false)
	metas[SettleSystemProgram] = solana.NewAccountMeta(solana.SystemProgramID, false, false)
	metas[SettleTokenProgram] = solana.NewAccountMeta(solana.TokenProgramID, false, false)
	metas[SettleATAProgram] = solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false)

	return solana.NewInstruction(ProgramID, metas, disc[:]), nil
}

// Kind identifies a decoded hybrid instruction.
type Kind string

// Decoded instruction kinds.
const (
	KindInitEscrow Kind = InstrInitEscrowV1
	KindRelease    Kind = InstrReleaseV1
	KindCapture    Kind = InstrCaptureV1
)

// Decoded is a parsed hybrid instruction.
type Decoded struct {
	Kind Kind
	Init *InitEscrowArgs // set for KindInitEscrow
}

// DecodeInstruction parses hybrid instruction data.
func DecodeInstruction(data []byte) (Decoded, error) {
	if len(data) < 8 {
		return Decoded{}, fmt.Errorf("instruction data too short: %d bytes", len(data))
	}

	switch disc := data[:8]; {
	case bytes.Equal(disc, releaseDisc[:]):
		return Decoded{Kind: KindRelease}, nil
	case bytes.Equal(disc, captureDisc[:]):
		return Decoded{Kind: KindCapture}, nil
	case bytes.Equal(disc, initEscrowDisc[:]):
		r := newReader(data[8:])
		args := InitEscrowArgs{
			Name: r.str(),
			URI:  r.str(),
		}
		args.Max = r.u64()
		args.Min = r.u64()
		args.Amount = r.u64()
		args.FeeAmount = r.u64()
		args.SolFeeAmount = r.u64()
		args.Path = r.u16()
		if r.err != nil {
			return Decoded{}, fmt.Errorf("decode %s: %w", InstrInitEscrowV1, r.err)
		}
		return Decoded{Kind: KindInitEscrow, Init: &args}, nil
	default:
		return Decoded{}, fmt.Errorf("unknown instruction discriminator %x", disc)
	}
}
