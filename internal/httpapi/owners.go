package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/pda"
)

type tokenView struct {
	domain.HeldToken
	Display string `json:"display"`
}

// GET /v1/owners/{owner}/assets[?collection=]
func (s *Server) listAssets(w http.ResponseWriter, r *http.Request) {
	owner, err := pda.ParseIdentifier(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := filterFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	assets, err := s.deps.Holdings.ListNonFungible(r.Context(), owner, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner.String(), "assets": assets})
}

// GET /v1/owners/{owner}/tokens[?token=]
func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	owner, err := pda.ParseIdentifier(chi.URLParam(r, "owner"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f, err := filterFrom(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokens, err := s.deps.Holdings.ListFungible(r.Context(), owner, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]tokenView, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenView{HeldToken: t, Display: t.Display().String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner": owner.String(), "tokens": out})
}
