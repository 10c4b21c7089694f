package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/storage"
)

// StatusReader reports the current state of a signature.
type StatusReader interface {
	SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureState, error)
}

// Rechecker refreshes journal entries whose outcome was not final, typically
// after a confirmation timeout.
type Rechecker struct {
	journal storage.OperationJournal
	status  StatusReader
	log     *zap.Logger
	now     func() time.Time
}

// NewRechecker creates a Rechecker.
func NewRechecker(journal storage.OperationJournal, status StatusReader, log *zap.Logger) *Rechecker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rechecker{journal: journal, status: status, log: log.Named("recheck"), now: time.Now}
}

// Recheck returns the journal entry for signature, refreshed from the ledger
// when its status is not final. Returns storage.ErrNotFound for unknown
// signatures.
func (r *Rechecker) Recheck(ctx context.Context, signature string) (*domain.OperationRecord, error) {
	rec, err := r.journal.GetBySignature(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", signature, err)
	}
	if rec.Status.IsFinal() {
		return rec, nil
	}

	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("parse signature %s: %w", signature, err)
	}
	state, err := r.status.SignatureStatus(ctx, sig)
	if err != nil {
		return nil, err
	}
	if !state.Found || state.Status == rec.Status {
		r.log.Debug("no new status", zap.String("signature", signature), zap.Bool("found", state.Found))
		return rec, nil
	}

	var (
		slot   *int64
		errMsg *string
	)
	if state.Slot > 0 {
		s := int64(state.Slot)
		slot = &s
	}
	if state.Err != "" {
		errMsg = &state.Err
	}
	if err := r.journal.UpdateStatus(ctx, signature, state.Status, slot, errMsg, r.now().UnixMilli()); err != nil {
		return nil, fmt.Errorf("update %s: %w", signature, err)
	}
	r.log.Info("operation status refreshed",
		zap.String("signature", signature),
		zap.String("from", string(rec.Status)),
		zap.String("to", string(state.Status)),
	)
	return r.journal.GetBySignature(ctx, signature)
}
