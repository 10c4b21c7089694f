package swap

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/escrow"
	"hybrid-swap/internal/swaperr"
)

// Resolver validates escrows; *escrow.ConfigService implements it.
type Resolver interface {
	Ensure(ctx context.Context, p domain.EscrowParams) (*escrow.Resolution, error)
	Verify(ctx context.Context, p domain.EscrowParams) (*escrow.Resolution, error)
}

// Funder tops up escrow vaults; *escrow.FundingService implements it.
type Funder interface {
	EnsureFunded(ctx context.Context, escrow, token solana.PublicKey, minimum uint64) (*escrow.FundingResult, error)
}

// Settler issues settlements; *Executor implements it.
type Settler interface {
	Release(ctx context.Context, p SettlementParams) (*domain.SettlementReceipt, error)
	Capture(ctx context.Context, p SettlementParams) (*domain.SettlementReceipt, error)
}

// SwapInput identifies one swap.
type SwapInput struct {
	Params domain.EscrowParams // expected escrow parameters
	// Asset is the caller's asset for AssetToToken and the escrow-held
	// asset for TokenToAsset.
	Asset solana.PublicKey
	// Validated skips initialization: the escrow is only re-verified.
	Validated bool
}

// Outcome is the result of a successful swap.
type Outcome struct {
	Request    domain.SwapRequest
	Resolution *escrow.Resolution
	Funding    *escrow.FundingResult // AssetToToken only
	Receipt    *domain.SettlementReceipt
}

// Coordinator runs validate, fund and settle in order, one swap per escrow
// at a time.
type Coordinator struct {
	resolver Resolver
	funder   Funder
	settler  Settler
	minimum  uint64 // vault operating minimum; 0 uses the exchange rate
	locks    *keyedLock
	log      *zap.Logger
}

// NewCoordinator creates a Coordinator. minimum is the vault operating
// minimum enforced before releases; 0 means the escrow's exchange rate.
func NewCoordinator(r Resolver, f Funder, s Settler, minimum uint64, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{
		resolver: r,
		funder:   f,
		settler:  s,
		minimum:  minimum,
		locks:    newKeyedLock(),
		log:      log.Named("coordinator"),
	}
}

// ExecuteSwap validates the escrow, funds its vault for AssetToToken and
// settles. Each step completes before the next starts; a failed step ends
// the swap with its typed error.
func (c *Coordinator) ExecuteSwap(ctx context.Context, dir domain.Direction, in SwapInput) (*Outcome, error) {
	if !dir.IsValid() {
		return nil, swaperr.Newf(swaperr.InvalidTransition, "unknown direction %q", dir)
	}
	if in.Asset.IsZero() {
		return nil, swaperr.Newf(swaperr.MissingSelection, "no asset selected")
	}

	unlock, err := c.locks.lock(ctx, in.Params.Collection.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := c.log.With(zap.String("direction", dir.String()), zap.Stringer("collection", in.Params.Collection))

	var res *escrow.Resolution
	if in.Validated {
		res, err = c.resolver.Verify(ctx, in.Params)
	} else {
		res, err = c.resolver.Ensure(ctx, in.Params)
	}
	if err != nil {
		return nil, err
	}

	req, err := domain.NewSwapRequest(res.Record, dir)
	if err != nil {
		return nil, fmt.Errorf("build swap request: %w", err)
	}
	out := &Outcome{Request: req, Resolution: res}
	params := SettlementParams{Request: req, Asset: in.Asset}

	switch dir {
	case domain.AssetToToken:
		minimum := c.minimum
		if minimum == 0 {
			minimum = res.Record.ExchangeRate
		}
		out.Funding, err = c.funder.EnsureFunded(ctx, req.EscrowAddress(), req.SettlementToken(), minimum)
		if err != nil {
			return nil, err
		}
		out.Receipt, err = c.settler.Release(ctx, params)
	case domain.TokenToAsset:
		out.Receipt, err = c.settler.Capture(ctx, params)
	}
	if err != nil {
		return nil, err
	}

	log.Info("swap settled", zap.String("signature", out.Receipt.Signature), zap.Stringer("asset", in.Asset))
	return out, nil
}
