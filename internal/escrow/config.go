package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/hybrid"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/observability"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/swaperr"
)

// Resolution is the outcome of Ensure or Verify.
type Resolution struct {
	State       State
	Record      domain.EscrowRecord
	Vault       solana.PublicKey // associated token account of the escrow
	Initialized bool             // this call created the escrow
	Signature   string           // initialization signature, when Initialized
}

// ConfigService validates escrow records and creates missing ones.
type ConfigService struct {
	ledger   ledger.Ledger
	deriver  *pda.Deriver
	metrics  *observability.Metrics
	observer Observer
	log      *zap.Logger
}

// ConfigOption configures a ConfigService.
type ConfigOption func(*ConfigService)

// WithObserver reports state transitions to fn.
func WithObserver(fn Observer) ConfigOption {
	return func(s *ConfigService) { s.observer = fn }
}

// WithMetrics records resolutions.
func WithMetrics(m *observability.Metrics) ConfigOption {
	return func(s *ConfigService) { s.metrics = m }
}

// NewConfigService creates a ConfigService. Initialization is signed by the
// ledger's payer.
func NewConfigService(l ledger.Ledger, deriver *pda.Deriver, log *zap.Logger, opts ...ConfigOption) *ConfigService {
	if log == nil {
		log = zap.NewNop()
	}
	s := &ConfigService{ledger: l, deriver: deriver, log: log.Named("escrow")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ConfigService) enter(collection solana.PublicKey, st State) {
	if s.observer != nil {
		s.observer(collection, st)
	}
}

func (s *ConfigService) finish(collection solana.PublicKey, st State) {
	s.enter(collection, st)
	s.metrics.RecordResolution(string(st))
}

// Ensure returns the validated escrow for p.Collection, initializing it from
// p when it does not exist. A record that disagrees with p is a fatal
// CONFIGURATION_MISMATCH.
func (s *ConfigService) Ensure(ctx context.Context, p domain.EscrowParams) (*Resolution, error) {
	return s.resolve(ctx, p, true)
}

// Verify is the read-only form of Ensure; a missing escrow is reported as a
// CONFIGURATION_FETCH_FAILED wrapping ErrNotInitialized.
func (s *ConfigService) Verify(ctx context.Context, p domain.EscrowParams) (*Resolution, error) {
	return s.resolve(ctx, p, false)
}

func (s *ConfigService) resolve(ctx context.Context, p domain.EscrowParams, initialize bool) (*Resolution, error) {
	s.enter(p.Collection, StateValidating)

	addr, _, err := s.deriver.EscrowAddress(p.Collection)
	if err != nil {
		return nil, swaperr.New(swaperr.InvalidIdentifier, "derive escrow address", err).
			With("collection", p.Collection.String())
	}
	log := s.log.With(zap.Stringer("collection", p.Collection), zap.Stringer("escrow", addr))

	res, err := s.fetchAndCompare(ctx, addr, p)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		if !initialize {
			s.finish(p.Collection, StateFetchError)
			return nil, swaperr.New(swaperr.ConfigurationFetchFailed, "escrow "+addr.String()+" does not exist", ErrNotInitialized).
				With("escrow", addr.String())
		}
		return s.initialize(ctx, addr, p, log)
	}
	if err != nil {
		return nil, s.fail(p.Collection, addr, err, log)
	}

	s.finish(p.Collection, StateValid)
	return res, nil
}

// fail records the terminal state of err and returns it typed.
func (s *ConfigService) fail(collection, addr solana.PublicKey, err error, log *zap.Logger) error {
	if swaperr.Is(err, swaperr.ConfigurationMismatch) {
		log.Warn("escrow configuration mismatch", zap.Error(err))
		s.finish(collection, StateMismatched)
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	s.finish(collection, StateFetchError)
	if se, ok := swaperr.As(err); ok {
		return se
	}
	return swaperr.New(swaperr.ConfigurationFetchFailed, "fetch escrow "+addr.String(), err).
		With("escrow", addr.String())
}

// fetchAndCompare loads the record at addr and checks it against p.
// ledger.ErrAccountNotFound is returned unwrapped.
func (s *ConfigService) fetchAndCompare(ctx context.Context, addr solana.PublicKey, p domain.EscrowParams) (*Resolution, error) {
	acc, err := s.ledger.FetchAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	if !acc.Owner.Equals(s.deriver.Program()) {
		return nil, swaperr.Newf(swaperr.ConfigurationMismatch,
			"account %s is owned by %s, not the escrow program", addr, acc.Owner).
			With("escrow", addr.String())
	}

	rec, err := hybrid.DecodeEscrow(addr, acc.Data)
	if err != nil {
		return nil, swaperr.New(swaperr.ConfigurationMismatch, "account "+addr.String()+" is not an escrow", err).
			With("escrow", addr.String())
	}
	if err := Compare(rec, p); err != nil {
		return nil, err
	}

	vault, err := s.deriver.VaultAddress(addr, rec.SettlementToken)
	if err != nil {
		return nil, fmt.Errorf("derive vault: %w", err)
	}
	return &Resolution{State: StateValid, Record: rec, Vault: vault}, nil
}

// Compare checks the fields of rec a swap depends on against p.
func Compare(rec domain.EscrowRecord, p domain.EscrowParams) error {
	type field struct {
		name          string
		got, expected string
	}
	var diffs []field
	check := func(name string, got, expected solana.PublicKey) {
		if !got.Equals(expected) {
			diffs = append(diffs, field{name, got.String(), expected.String()})
		}
	}
	check("collection", rec.Collection, p.Collection)
	check("settlement_token", rec.SettlementToken, p.SettlementToken)
	check("authority", rec.Authority, p.Authority)
	if rec.ExchangeRate != p.ExchangeRate {
		diffs = append(diffs, field{"exchange_rate", strconv.FormatUint(rec.ExchangeRate, 10), strconv.FormatUint(p.ExchangeRate, 10)})
	}
	if len(diffs) == 0 {
		return nil
	}

	err := swaperr.Newf(swaperr.ConfigurationMismatch,
		"escrow %s %s is %s, expected %s", rec.EscrowAddress, diffs[0].name, diffs[0].got, diffs[0].expected).
		With("escrow", rec.EscrowAddress.String())
	for _, d := range diffs {
		err.With(d.name, d.got+" != "+d.expected)
	}
	return err
}

func (s *ConfigService) initialize(ctx context.Context, addr solana.PublicKey, p domain.EscrowParams, log *zap.Logger) (*Resolution, error) {
	s.enter(p.Collection, StateInitializing)

	payer := s.ledger.Payer()
	if !payer.Equals(p.Authority) {
		s.finish(p.Collection, StateFetchError)
		return nil, swaperr.Newf(swaperr.AuthorityMismatch,
			"escrow %s does not exist and only its authority %s can create it", addr, p.Authority).
			With("escrow", addr.String()).
			With("caller", payer.String())
	}

	ix, err := hybrid.InitEscrow(addr, payer, p.Collection, p.SettlementToken, p.FeeLocation, hybrid.ArgsFromParams(p))
	if err != nil {
		return nil, fmt.Errorf("build init escrow: %w", err)
	}

	log.Info("initializing escrow",
		zap.String("name", p.Name),
		zap.Uint64("exchange_rate", p.ExchangeRate),
		zap.Bool("reroll", p.RerollEnabled),
	)
	sub, _, err := ledger.SubmitAndConfirm(ctx, s.ledger, ledger.Operation{
		Kind:         domain.OperationInitEscrow,
		Escrow:       addr,
		Instructions: []solana.Instruction{ix},
	})
	created := err == nil
	switch {
	case created:
	case alreadyInUse(err):
		// Created concurrently; validate what is there.
		log.Info("escrow created concurrently")
	default:
		s.finish(p.Collection, StateFetchError)
		return nil, submissionError(swaperr.InitializationFailed, "escrow initialization", sub.Signature, err)
	}

	res, err := s.fetchAndCompare(ctx, addr, p)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		s.finish(p.Collection, StateFetchError)
		return nil, swaperr.New(swaperr.InitializationFailed, "escrow "+addr.String()+" missing after initialization", err)
	}
	if err != nil {
		return nil, s.fail(p.Collection, addr, err, log)
	}

	if created {
		res.Initialized = true
		res.Signature = sub.Signature.String()
	}
	s.finish(p.Collection, StateValid)
	return res, nil
}

// alreadyInUse reports the system program rejecting creation of an existing account.
func alreadyInUse(err error) bool {
	pe, ok := ledger.AsProgramError(err)
	return ok && pe.HasCode && pe.Code == 0 && pe.Program.Equals(solana.SystemProgramID)
}
