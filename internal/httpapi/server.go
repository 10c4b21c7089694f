// Package httpapi exposes the swap services over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"hybrid-swap/internal/discovery"
	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/escrow"
	"hybrid-swap/internal/observability"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/wizard"
)

// Resolver validates escrows; *escrow.ConfigService implements it.
type Resolver interface {
	Ensure(ctx context.Context, p domain.EscrowParams) (*escrow.Resolution, error)
}

// Funder tops up vaults; *escrow.FundingService implements it.
type Funder interface {
	EnsureFunded(ctx context.Context, escrow, token solana.PublicKey, minimum uint64) (*escrow.FundingResult, error)
}

// Operations re-checks journaled operations; *ledger.Rechecker implements it.
type Operations interface {
	Recheck(ctx context.Context, signature string) (*domain.OperationRecord, error)
}

// Deps are the services behind the API.
type Deps struct {
	Owner      solana.PublicKey // the server wallet
	Authority  solana.PublicKey // expected escrow authority; zero means Owner
	Defaults   escrow.InitDefaults
	Deriver    *pda.Deriver
	Resolver   Resolver
	Funder     Funder
	Holdings   wizard.Holdings
	Swapper    wizard.Swapper
	Sessions   *wizard.Manager
	Operations Operations
	Metrics    *observability.Metrics
	Log        *zap.Logger
}

// Server is the HTTP API.
type Server struct {
	deps   Deps
	log    *zap.Logger
	router http.Handler
}

// New builds the router.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{deps: deps, log: log.Named("http")}
	s.router = s.buildRouter()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(s.logRequests)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.deps.Metrics != nil {
		r.Handle("/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/v1", func(api chi.Router) {
		api.Get("/escrows/{collection}/address", s.deriveAddress)
		api.Post("/escrows/ensure", s.ensureEscrow)
		api.Post("/escrows/fund", s.fundEscrow)

		api.Get("/owners/{owner}/assets", s.listAssets)
		api.Get("/owners/{owner}/tokens", s.listTokens)

		api.Post("/swaps", s.executeSwap)

		api.Post("/sessions", s.openSession)
		api.Route("/sessions/{id}", func(sr chi.Router) {
			sr.Get("/", s.getSession)
			sr.Delete("/", s.closeSession)
			sr.Get("/eligible", s.eligible)
			sr.Post("/collection", s.setCollection)
			sr.Post("/token", s.setToken)
			sr.Post("/direction", s.setDirection)
			sr.Post("/select", s.selectItem)
			sr.Post("/advance", s.advance)
			sr.Post("/retreat", s.retreat)
			sr.Post("/revalidate", s.revalidate)
		})

		api.Get("/operations/{signature}", s.operation)
	})
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

// params builds the expected parameters of an escrow from the defaults.
func (s *Server) params(collection, token solana.PublicKey) (domain.EscrowParams, error) {
	authority := s.deps.Authority
	if authority.IsZero() {
		authority = s.deps.Owner
	}
	return s.deps.Defaults.Params(collection, token, authority)
}

func parseKeys(values ...string) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, len(values))
	for i, v := range values {
		pk, err := pda.ParseIdentifier(v)
		if err != nil {
			return nil, err
		}
		out[i] = pk
	}
	return out, nil
}

func filterFrom(r *http.Request) (discovery.Filter, error) {
	var f discovery.Filter
	if c := r.URL.Query().Get("collection"); c != "" {
		pk, err := pda.ParseIdentifier(c)
		if err != nil {
			return f, err
		}
		f.Collection = pk
	}
	if t := r.URL.Query().Get("token"); t != "" {
		pk, err := pda.ParseIdentifier(t)
		if err != nil {
			return f, err
		}
		f.Token = pk
	}
	return f, nil
}
