package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hybrid-swap/internal/domain"
)

type operationView struct {
	Signature   string                 `json:"signature"`
	Kind        domain.OperationKind   `json:"kind"`
	Escrow      string                 `json:"escrow"`
	Payer       string                 `json:"payer"`
	Status      domain.OperationStatus `json:"status"`
	Final       bool                   `json:"final"`
	Error       *string                `json:"error,omitempty"`
	Slot        *int64                 `json:"slot,omitempty"`
	SubmittedAt int64                  `json:"submitted_at"`
	UpdatedAt   int64                  `json:"updated_at"`
}

// GET /v1/operations/{signature}
// Refreshes non-final entries from the ledger.
func (s *Server) operation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Operations.Recheck(r.Context(), chi.URLParam(r, "signature"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, operationView{
		Signature:   rec.Signature,
		Kind:        rec.Kind,
		Escrow:      rec.Escrow,
		Payer:       rec.Payer,
		Status:      rec.Status,
		Final:       rec.Status.IsFinal(),
		Error:       rec.Error,
		Slot:        rec.Slot,
		SubmittedAt: rec.SubmittedAt,
		UpdatedAt:   rec.UpdatedAt,
	})
}
