package httpapi

import (
	"net/http"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/swap"
	"hybrid-swap/internal/swaperr"
)

type swapRequest struct {
	Direction  domain.Direction `json:"direction"`
	Collection string           `json:"collection"`
	Token      string           `json:"token"`
	Asset      string           `json:"asset"`
}

type swapResponse struct {
	Escrow  resolutionView            `json:"escrow"`
	Funding *fundingView              `json:"funding,omitempty"`
	Receipt *domain.SettlementReceipt `json:"receipt"`
}

// POST /v1/swaps
func (s *Server) executeSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !req.Direction.IsValid() {
		s.writeError(w, r, swaperr.Newf(swaperr.InvalidTransition, "unknown direction %q", req.Direction))
		return
	}
	keys, err := parseKeys(req.Collection, req.Token, req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.params(keys[0], keys[1])
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.deps.Swapper.ExecuteSwap(r.Context(), req.Direction, swap.SwapInput{Params: p, Asset: keys[2]})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, swapResponse{
		Escrow:  resolutionOf(out.Resolution),
		Funding: fundingOf(out.Funding),
		Receipt: out.Receipt,
	})
}
