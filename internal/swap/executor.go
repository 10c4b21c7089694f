// Package swap settles swaps against validated escrows.
package swap

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/hybrid"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/observability"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/programs"
	"hybrid-swap/internal/storage"
	"hybrid-swap/internal/swaperr"
)

// AssetFinder looks up whether an owner holds an asset of a collection.
type AssetFinder interface {
	Find(ctx context.Context, owner, collection, asset solana.PublicKey) (domain.HeldAsset, bool, error)
}

// SettlementParams select the asset settled against a validated escrow.
// The caller is the ledger's payer.
type SettlementParams struct {
	Request domain.SwapRequest
	Asset   solana.PublicKey
}

// Executor issues release and capture operations.
type Executor struct {
	ledger  ledger.Ledger
	assets  AssetFinder
	deriver *pda.Deriver
	events  storage.SettlementEventStore // may be nil
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewExecutor creates an Executor. events and metrics may be nil.
func NewExecutor(l ledger.Ledger, assets AssetFinder, deriver *pda.Deriver, events storage.SettlementEventStore, metrics *observability.Metrics, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{
		ledger:  l,
		assets:  assets,
		deriver: deriver,
		events:  events,
		metrics: metrics,
		log:     log.Named("swap"),
	}
}

// Release hands the caller's asset to the escrow for the exchange rate in
// settlement tokens. The vault must hold at least the exchange rate.
func (e *Executor) Release(ctx context.Context, p SettlementParams) (*domain.SettlementReceipt, error) {
	rec := p.Request.Escrow()
	log := e.log.With(zap.String("direction", "release"), zap.Stringer("escrow", rec.EscrowAddress), zap.Stringer("asset", p.Asset))

	vault, err := e.balance(ctx, rec.EscrowAddress, rec.SettlementToken)
	if err != nil {
		return nil, e.failed(domain.AssetToToken, swaperr.New(swaperr.SettlementFailed, "read vault balance", err))
	}
	if vault < rec.ExchangeRate {
		return nil, e.failed(domain.AssetToToken, swaperr.Newf(swaperr.InsufficientVaultBalance,
			"vault holds %d, release pays %d", vault, rec.ExchangeRate).
			With("escrow", rec.EscrowAddress.String()).
			With("available", strconv.FormatUint(vault, 10)))
	}

	ix, err := hybrid.Release(e.accounts(rec, p.Asset))
	if err != nil {
		return nil, e.failed(domain.AssetToToken, swaperr.New(swaperr.SettlementFailed, "build release", err))
	}
	log.Info("releasing asset", zap.Uint64("amount", rec.ExchangeRate))
	return e.settle(ctx, domain.AssetToToken, domain.OperationRelease, rec, p.Asset, ix, 0)
}

// Capture buys an escrow-held asset for the exchange rate plus the protocol
// fee. The asset must currently be held by the escrow.
func (e *Executor) Capture(ctx context.Context, p SettlementParams) (*domain.SettlementReceipt, error) {
	rec := p.Request.Escrow()
	log := e.log.With(zap.String("direction", "capture"), zap.Stringer("escrow", rec.EscrowAddress), zap.Stringer("asset", p.Asset))

	_, held, err := e.assets.Find(ctx, rec.EscrowAddress, rec.Collection, p.Asset)
	if err != nil {
		return nil, e.failed(domain.TokenToAsset, err)
	}
	if !held {
		return nil, e.failed(domain.TokenToAsset, swaperr.Newf(swaperr.AssetNotAvailable,
			"asset %s is no longer held by the escrow", p.Asset).
			With("asset", p.Asset.String()))
	}

	need := rec.ExchangeRate + rec.ProtocolFeeAmount
	have, err := e.balance(ctx, e.ledger.Payer(), rec.SettlementToken)
	if err != nil {
		return nil, e.failed(domain.TokenToAsset, swaperr.New(swaperr.SettlementFailed, "read caller balance", err))
	}
	if have < need {
		return nil, e.failed(domain.TokenToAsset, swaperr.Newf(swaperr.InsufficientBalance,
			"capture costs %d including fees, caller holds %d", need, have).
			With("required", strconv.FormatUint(need, 10)).
			With("available", strconv.FormatUint(have, 10)))
	}

	ix, err := hybrid.Capture(e.accounts(rec, p.Asset))
	if err != nil {
		return nil, e.failed(domain.TokenToAsset, swaperr.New(swaperr.SettlementFailed, "build capture", err))
	}
	log.Info("capturing asset", zap.Uint64("amount", rec.ExchangeRate), zap.Uint64("fee", rec.ProtocolFeeAmount))
	return e.settle(ctx, domain.TokenToAsset, domain.OperationCapture, rec, p.Asset, ix, rec.ProtocolFeeAmount)
}

func (e *Executor) accounts(rec domain.EscrowRecord, asset solana.PublicKey) hybrid.SettlementAccounts {
	return hybrid.SettlementAccounts{
		Owner:       e.ledger.Payer(),
		Authority:   rec.Authority,
		Escrow:      rec.EscrowAddress,
		Asset:       asset,
		Collection:  rec.Collection,
		Token:       rec.SettlementToken,
		FeeLocation: rec.FeeLocation,
	}
}

// balance returns the associated token balance of owner; absent accounts hold zero.
func (e *Executor) balance(ctx context.Context, owner, token solana.PublicKey) (uint64, error) {
	addr, err := e.deriver.VaultAddress(owner, token)
	if err != nil {
		return 0, err
	}
	acc, err := e.ledger.FetchAccount(ctx, addr)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	ta, err := programs.DecodeTokenAccount(acc.Data)
	if err != nil {
		return 0, err
	}
	return ta.Amount, nil
}

func (e *Executor) settle(ctx context.Context, dir domain.Direction, kind domain.OperationKind, rec domain.EscrowRecord, asset solana.PublicKey, ix solana.Instruction, fee uint64) (*domain.SettlementReceipt, error) {
	sub, conf, err := ledger.SubmitAndConfirm(ctx, e.ledger, ledger.Operation{
		Kind:         kind,
		Escrow:       rec.EscrowAddress,
		Instructions: []solana.Instruction{ix},
	})
	if err != nil {
		return nil, e.failed(dir, settlementError(dir, sub.Signature, err))
	}

	receipt := &domain.SettlementReceipt{
		Signature:   sub.Signature.String(),
		Direction:   dir,
		Escrow:      rec.EscrowAddress,
		Asset:       asset,
		Owner:       e.ledger.Payer(),
		TokenAmount: rec.ExchangeRate,
		FeeAmount:   fee,
		Slot:        conf.Slot,
		ConfirmedAt: conf.ConfirmedAt.UnixMilli(),
	}
	e.metrics.RecordSwap(dir.String(), "settled")
	e.emit(ctx, rec, receipt)
	return receipt, nil
}

// settlementError maps a settlement failure to its typed error.
func settlementError(dir domain.Direction, sig solana.Signature, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}

	var se *swaperr.Error
	switch pe, ok := ledger.AsProgramError(err); {
	case ok && pe.HasCode:
		code := hybrid.ClassifyProgramError(pe.Program, pe.Code, dir == domain.AssetToToken)
		se = swaperr.New(code, settlementMessage(code), err)
	case !sig.IsZero() && ledger.OutcomeUnknown(err):
		se = swaperr.New(swaperr.ConfirmationTimedOut, "settlement not confirmed in time; check its status before retrying", err)
	default:
		se = swaperr.New(swaperr.SettlementFailed, "settlement failed", err)
	}
	if !sig.IsZero() {
		se.With("signature", sig.String())
	}
	return se
}

func settlementMessage(code swaperr.Code) string {
	switch code {
	case swaperr.EscrowNotDelegated:
		return "escrow has no authority over the collection"
	case swaperr.AssetNotAvailable:
		return "asset was already swapped by another party"
	case swaperr.InsufficientVaultBalance:
		return "vault cannot pay the exchange rate"
	case swaperr.InsufficientBalance:
		return "caller cannot pay the exchange rate and fees"
	case swaperr.ConfigurationMismatch:
		return "escrow rejected the settlement accounts"
	default:
		return "settlement rejected"
	}
}

func (e *Executor) failed(dir domain.Direction, err error) error {
	e.metrics.RecordSwap(dir.String(), "failed")
	e.metrics.RecordError(string(swaperr.CodeOf(err)))
	return err
}

// emit appends the settlement to the analytics store. Failures are logged.
func (e *Executor) emit(ctx context.Context, rec domain.EscrowRecord, r *domain.SettlementReceipt) {
	if e.events == nil {
		return
	}
	ev := &domain.SettlementEvent{
		Signature:   r.Signature,
		Direction:   r.Direction,
		Collection:  rec.Collection.String(),
		Escrow:      rec.EscrowAddress.String(),
		Asset:       r.Asset.String(),
		Owner:       r.Owner.String(),
		Token:       rec.SettlementToken.String(),
		TokenAmount: r.TokenAmount,
		FeeAmount:   r.FeeAmount,
		Slot:        r.Slot,
		TimestampMs: r.ConfirmedAt,
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.events.InsertBulk(writeCtx, []*domain.SettlementEvent{ev}); err != nil {
		e.log.Error("settlement event not recorded", zap.String("signature", r.Signature), zap.Error(err))
	}
}
