package ledger

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/observability"
	"hybrid-swap/internal/storage"
)

// Journaled records every submission and its confirmation outcome in an
// operation journal. Journal failures are logged and never change the
// ledger outcome returned to the caller.
type Journaled struct {
	Ledger
	journal storage.OperationJournal
	metrics *observability.Metrics
	log     *zap.Logger
	now     func() time.Time
}

// NewJournaled wraps l. metrics may be nil.
func NewJournaled(l Ledger, journal storage.OperationJournal, metrics *observability.Metrics, log *zap.Logger) *Journaled {
	if log == nil {
		log = zap.NewNop()
	}
	return &Journaled{
		Ledger:  l,
		journal: journal,
		metrics: metrics,
		log:     log.Named("journal"),
		now:     time.Now,
	}
}

// Submit submits op and inserts a journal entry for its signature.
func (j *Journaled) Submit(ctx context.Context, op Operation) (Submission, error) {
	sub, err := j.Ledger.Submit(ctx, op)
	if err != nil {
		j.metrics.RecordOutcome(string(op.Kind), "rejected", 0)
		return sub, err
	}
	j.metrics.RecordSubmitted(string(op.Kind))

	rec := &domain.OperationRecord{
		Signature:   sub.Signature.String(),
		Kind:        op.Kind,
		Escrow:      op.Escrow.String(),
		Payer:       sub.Payer.String(),
		Status:      domain.OperationSubmitted,
		SubmittedAt: sub.SubmittedAt.UnixMilli(),
		UpdatedAt:   sub.SubmittedAt.UnixMilli(),
	}
	if err := j.journal.Insert(ctx, rec); err != nil {
		j.log.Error("journal insert failed", zap.String("signature", rec.Signature), zap.Error(err))
	}
	return sub, nil
}

// Confirm waits for sub and records the outcome.
func (j *Journaled) Confirm(ctx context.Context, sub Submission) (*Confirmation, error) {
	conf, err := j.Ledger.Confirm(ctx, sub)

	var (
		status domain.OperationStatus
		slot   *int64
		errMsg *string
	)
	switch {
	case err == nil:
		status = domain.OperationConfirmed
		s := int64(conf.Slot)
		slot = &s
	case errors.Is(err, context.Canceled):
		return conf, err
	case OutcomeUnknown(err):
		status = domain.OperationTimedOut
	default:
		status = domain.OperationFailed
		msg := err.Error()
		errMsg = &msg
	}

	kind := string(sub.Operation.Kind)
	j.metrics.RecordOutcome(kind, string(status), j.now().Sub(sub.SubmittedAt))

	// The caller's context may already be done; the outcome is still recorded.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	signature := sub.Signature.String()
	if uerr := j.journal.UpdateStatus(writeCtx, signature, status, slot, errMsg, j.now().UnixMilli()); uerr != nil {
		j.log.Error("journal update failed", zap.String("signature", signature), zap.Error(uerr))
	}
	return conf, err
}
