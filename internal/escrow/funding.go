package escrow

import (
	"context"
	"errors"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/hybrid"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/observability"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/programs"
	"hybrid-swap/internal/swaperr"
)

// FundingResult describes the vault after EnsureFunded.
type FundingResult struct {
	Vault       domain.VaultAccount
	Funded      bool // a transfer was made
	Created     bool // the vault was created by the transfer operation
	Transferred uint64
	Signature   string
}

// FundingService keeps escrow vaults above an operating minimum using the
// payer's own balance.
type FundingService struct {
	ledger  ledger.Ledger
	deriver *pda.Deriver
	metrics *observability.Metrics
	log     *zap.Logger
}

// NewFundingService creates a FundingService. metrics may be nil.
func NewFundingService(l ledger.Ledger, deriver *pda.Deriver, metrics *observability.Metrics, log *zap.Logger) *FundingService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FundingService{ledger: l, deriver: deriver, metrics: metrics, log: log.Named("funding")}
}

func fundingFailed(msg string, err error, escrow solana.PublicKey) error {
	return swaperr.New(swaperr.FundingFailed, msg, err).With("escrow", escrow.String())
}

// EnsureFunded transfers minimum from the payer into the vault of escrow when
// the vault holds less than minimum. A missing vault is created in the same
// operation as the transfer. Funding only ever adds to the vault.
func (s *FundingService) EnsureFunded(ctx context.Context, escrow, token solana.PublicKey, minimum uint64) (*FundingResult, error) {
	vaultAddr, err := s.deriver.VaultAddress(escrow, token)
	if err != nil {
		return nil, swaperr.New(swaperr.InvalidIdentifier, "derive vault", err)
	}
	log := s.log.With(zap.Stringer("escrow", escrow), zap.Stringer("vault", vaultAddr))

	vault, exists, err := tokenAccount(ctx, s.ledger, vaultAddr)
	if err != nil {
		s.metrics.RecordFunding("failed")
		return nil, fundingFailed("read vault "+vaultAddr.String(), err, escrow)
	}
	if exists && (!vault.Mint.Equals(token) || !vault.Owner.Equals(escrow)) {
		return nil, swaperr.Newf(swaperr.ConfigurationMismatch,
			"vault %s holds %s for %s, expected %s for %s", vaultAddr, vault.Mint, vault.Owner, token, escrow)
	}

	result := &FundingResult{Vault: domain.VaultAccount{
		Address: vaultAddr,
		Owner:   escrow,
		Token:   token,
		Balance: vault.Amount,
		Exists:  exists,
	}}
	if vault.Amount >= minimum && (exists || minimum == 0) {
		s.metrics.RecordFunding("noop")
		return result, nil
	}

	payer := s.ledger.Payer()
	sourceAddr, err := s.deriver.VaultAddress(payer, token)
	if err != nil {
		return nil, swaperr.New(swaperr.InvalidIdentifier, "derive caller token account", err)
	}
	source, _, err := tokenAccount(ctx, s.ledger, sourceAddr)
	if err != nil {
		s.metrics.RecordFunding("failed")
		return nil, fundingFailed("read caller balance", err, escrow)
	}
	if source.Amount < minimum {
		s.metrics.RecordFunding("insufficient")
		return nil, swaperr.Newf(swaperr.InsufficientBalance,
			"funding the vault needs %d, caller holds %d", minimum, source.Amount).
			With("required", strconv.FormatUint(minimum, 10)).
			With("available", strconv.FormatUint(source.Amount, 10)).
			With("token", token.String())
	}

	var ixs []solana.Instruction
	if !exists {
		create, _, err := programs.CreateAssociatedIdempotent(payer, escrow, token)
		if err != nil {
			return nil, fundingFailed("build vault creation", err, escrow)
		}
		ixs = append(ixs, create)
	}
	ixs = append(ixs, programs.Transfer(sourceAddr, vaultAddr, payer, minimum))

	log.Info("funding vault",
		zap.Uint64("balance", vault.Amount),
		zap.Uint64("minimum", minimum),
		zap.Bool("create", !exists),
	)
	sub, _, err := ledger.SubmitAndConfirm(ctx, s.ledger, ledger.Operation{
		Kind:         domain.OperationFundVault,
		Escrow:       escrow,
		Instructions: ixs,
	})
	if err != nil {
		s.metrics.RecordFunding("failed")
		if pe, ok := ledger.AsProgramError(err); ok && pe.HasCode &&
			pe.Program.Equals(solana.TokenProgramID) && pe.Code == hybrid.TokenErrInsufficientFunds {
			return nil, swaperr.New(swaperr.InsufficientBalance, "caller balance changed before funding", err)
		}
		return nil, submissionError(swaperr.FundingFailed, "vault funding", sub.Signature, err)
	}

	result.Funded = true
	result.Created = !exists
	result.Transferred = minimum
	result.Signature = sub.Signature.String()
	result.Vault.Exists = true
	result.Vault.Balance = vault.Amount + minimum

	// Re-read; the vault is shared and may have moved since.
	if after, ok, err := tokenAccount(ctx, s.ledger, vaultAddr); err == nil && ok {
		result.Vault.Balance = after.Amount
	} else if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("vault re-read failed", zap.Error(err))
	}

	s.metrics.RecordFunding("funded")
	return result, nil
}
