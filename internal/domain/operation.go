package domain

// OperationKind labels a submitted ledger operation.
type OperationKind string

const (
	OperationInitEscrow OperationKind = "init_escrow"
	OperationFundVault  OperationKind = "fund_vault"
	OperationRelease    OperationKind = "release"
	OperationCapture    OperationKind = "capture"
)

// OperationStatus is the last known settlement state of a submitted operation.
type OperationStatus string

const (
	OperationSubmitted OperationStatus = "submitted"
	OperationConfirmed OperationStatus = "confirmed"
	OperationFailed    OperationStatus = "failed"
	OperationTimedOut  OperationStatus = "timed_out"
)

// IsFinal reports whether the status can no longer change.
func (s OperationStatus) IsFinal() bool {
	return s == OperationConfirmed || s == OperationFailed
}

// OperationRecord is a journal entry for one submitted operation.
// Corresponds to operation_journal table in PostgreSQL.
type OperationRecord struct {
	Signature   string          // PK, base58 transaction signature
	Kind        OperationKind   // what the operation does
	Escrow      string          // escrow address (base58)
	Payer       string          // fee payer / caller (base58)
	Status      OperationStatus // last known status
	Error       *string         // failure description (nullable)
	Slot        *int64          // confirmation slot (nullable)
	SubmittedAt int64           // unix ms
	UpdatedAt   int64           // unix ms
}
