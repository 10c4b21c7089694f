package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/storage"
)

// OperationJournal implements storage.OperationJournal using PostgreSQL.
type OperationJournal struct {
	pool *Pool
}

// NewOperationJournal creates a new OperationJournal.
func NewOperationJournal(pool *Pool) *OperationJournal {
	return &OperationJournal{pool: pool}
}

// Compile-time interface check.
var _ storage.OperationJournal = (*OperationJournal)(nil)

// Insert adds a new entry. Returns ErrDuplicateKey if the signature exists.
func (j *OperationJournal) Insert(ctx context.Context, r *domain.OperationRecord) error {
	if r == nil || r.Signature == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO operation_journal (
			signature, kind, escrow, payer, status, error, slot, submitted_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := j.pool.Exec(ctx, query,
		r.Signature,
		string(r.Kind),
		r.Escrow,
		r.Payer,
		string(r.Status),
		r.Error,
		r.Slot,
		r.SubmittedAt,
		r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// UpdateStatus sets the status of an entry unless it is already final.
func (j *OperationJournal) UpdateStatus(ctx context.Context, signature string, status domain.OperationStatus, slot *int64, errMsg *string, updatedAt int64) error {
	query := `
		UPDATE operation_journal
		SET status = $2, slot = $3, error = $4, updated_at = $5
		WHERE signature = $1 AND status NOT IN ('confirmed', 'failed')
	`

	tag, err := j.pool.Exec(ctx, query, signature, string(status), slot, errMsg, updatedAt)
	if err != nil {
		return fmt.Errorf("update operation status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Nothing updated: either final already, or unknown.
	var exists bool
	if err := j.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM operation_journal WHERE signature = $1)`, signature,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check operation exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}

// GetBySignature retrieves an entry by signature.
func (j *OperationJournal) GetBySignature(ctx context.Context, signature string) (*domain.OperationRecord, error) {
	query := `
		SELECT signature, kind, escrow, payer, status, error, slot, submitted_at, updated_at
		FROM operation_journal
		WHERE signature = $1
	`

	r, err := scanOperation(j.pool.QueryRow(ctx, query, signature))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get operation: %w", err)
	}
	return r, nil
}

// GetByEscrow retrieves all entries for an escrow, ordered by submitted_at ASC.
func (j *OperationJournal) GetByEscrow(ctx context.Context, escrow string) ([]*domain.OperationRecord, error) {
	query := `
		SELECT signature, kind, escrow, payer, status, error, slot, submitted_at, updated_at
		FROM operation_journal
		WHERE escrow = $1
		ORDER BY submitted_at ASC, signature ASC
	`

	rows, err := j.pool.Query(ctx, query, escrow)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	var result []*domain.OperationRecord
	for rows.Next() {
		r, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}

	return result, nil
}

func scanOperation(row pgx.Row) (*domain.OperationRecord, error) {
	var (
		r      domain.OperationRecord
		kind   string
		status string
	)
	if err := row.Scan(
		&r.Signature,
		&kind,
		&r.Escrow,
		&r.Payer,
		&status,
		&r.Error,
		&r.Slot,
		&r.SubmittedAt,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Kind = domain.OperationKind(kind)
	r.Status = domain.OperationStatus(status)
	return &r, nil
}
