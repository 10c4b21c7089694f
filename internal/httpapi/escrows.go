package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"hybrid-swap/internal/discovery"
	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/escrow"
	"hybrid-swap/internal/swaperr"
)

type escrowRecord struct {
	Address           string `json:"address"`
	Collection        string `json:"collection"`
	SettlementToken   string `json:"settlement_token"`
	Authority         string `json:"authority"`
	FeeLocation       string `json:"fee_location"`
	Name              string `json:"name"`
	MetadataBaseURI   string `json:"metadata_base_uri"`
	MinIndex          uint64 `json:"min_index"`
	MaxIndex          uint64 `json:"max_index"`
	ExchangeRate      uint64 `json:"exchange_rate"`
	ProtocolFeeAmount uint64 `json:"protocol_fee_amount"`
	NetworkFeeAmount  uint64 `json:"network_fee_amount"`
	Count             uint64 `json:"count"`
	RerollEnabled     bool   `json:"reroll_enabled"`
}

func recordView(r domain.EscrowRecord) escrowRecord {
	return escrowRecord{
		Address:           r.EscrowAddress.String(),
		Collection:        r.Collection.String(),
		SettlementToken:   r.SettlementToken.String(),
		Authority:         r.Authority.String(),
		FeeLocation:       r.FeeLocation.String(),
		Name:              r.Name,
		MetadataBaseURI:   r.MetadataBaseURI,
		MinIndex:          r.IndexRange.Min,
		MaxIndex:          r.IndexRange.Max,
		ExchangeRate:      r.ExchangeRate,
		ProtocolFeeAmount: r.ProtocolFeeAmount,
		NetworkFeeAmount:  r.NetworkFeeAmount,
		Count:             r.Count,
		RerollEnabled:     r.RerollEnabled,
	}
}

type resolutionView struct {
	State       escrow.State `json:"state"`
	Escrow      escrowRecord `json:"escrow"`
	Vault       string       `json:"vault"`
	Initialized bool         `json:"initialized"`
	Signature   string       `json:"signature,omitempty"`
}

func resolutionOf(res *escrow.Resolution) resolutionView {
	return resolutionView{
		State:       res.State,
		Escrow:      recordView(res.Record),
		Vault:       res.Vault.String(),
		Initialized: res.Initialized,
		Signature:   res.Signature,
	}
}

type fundingView struct {
	Vault       string `json:"vault"`
	Balance     uint64 `json:"balance"`
	Funded      bool   `json:"funded"`
	Created     bool   `json:"created"`
	Transferred uint64 `json:"transferred"`
	Signature   string `json:"signature,omitempty"`
}

func fundingOf(f *escrow.FundingResult) *fundingView {
	if f == nil {
		return nil
	}
	return &fundingView{
		Vault:       f.Vault.Address.String(),
		Balance:     f.Vault.Balance,
		Funded:      f.Funded,
		Created:     f.Created,
		Transferred: f.Transferred,
		Signature:   f.Signature,
	}
}

// GET /v1/escrows/{collection}/address[?token=]
func (s *Server) deriveAddress(w http.ResponseWriter, r *http.Request) {
	collection := chi.URLParam(r, "collection")
	addr, err := s.deps.Deriver.Derive(collection)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := map[string]string{"collection": collection, "escrow": addr.String()}
	if t := r.URL.Query().Get("token"); t != "" {
		keys, err := parseKeys(t)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		vault, err := s.deps.Deriver.VaultAddress(addr, keys[0])
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		out["vault"] = vault.String()
	}
	writeJSON(w, http.StatusOK, out)
}

type escrowRequest struct {
	Collection string `json:"collection"`
	Token      string `json:"token"`
}

// POST /v1/escrows/ensure
func (s *Server) ensureEscrow(w http.ResponseWriter, r *http.Request) {
	var req escrowRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	keys, err := parseKeys(req.Collection, req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.params(keys[0], keys[1])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Resolver.Ensure(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolutionOf(res))
}

type fundRequest struct {
	Collection string `json:"collection"`
	Token      string `json:"token"`
	// Minimum is a display amount; MinimumRaw is used when it is empty.
	Minimum    string `json:"minimum,omitempty"`
	MinimumRaw uint64 `json:"minimum_raw,omitempty"`
}

// POST /v1/escrows/fund
func (s *Server) fundEscrow(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	keys, err := parseKeys(req.Collection, req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collection, token := keys[0], keys[1]

	minimum := req.MinimumRaw
	if req.Minimum != "" {
		tokens, err := s.deps.Holdings.ListFungible(r.Context(), s.deps.Owner, discovery.Filter{Token: token})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if len(tokens) == 0 {
			s.writeError(w, r, swaperr.Newf(swaperr.InsufficientBalance, "wallet holds no %s", token).
				With("required", req.Minimum).With("available", "0"))
			return
		}
		minimum, err = domain.ParseDisplay(req.Minimum, tokens[0].Decimals)
		if err != nil {
			s.writeError(w, r, swaperr.New(swaperr.InvalidAmount, "minimum is not a valid amount", err))
			return
		}
	}

	addr, _, err := s.deps.Deriver.EscrowAddress(collection)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Funder.EnsureFunded(r.Context(), addr, token, minimum)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fundingOf(res))
}
