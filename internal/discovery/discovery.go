// Package discovery lists the fungible and non-fungible holdings of an owner
// from the ledger's asset index.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/swaperr"
)

// DefaultPageSize is the largest page the asset index serves.
const DefaultPageSize = 1000

// DefaultNameConcurrency bounds the metadata lookups in flight per page.
const DefaultNameConcurrency = 8

// Searcher is the part of the ledger discovery reads from.
type Searcher interface {
	SearchAssets(ctx context.Context, q ledger.AssetQuery) (*ledger.AssetPage, error)
}

// Namer resolves display names from metadata documents.
type Namer interface {
	DisplayName(ctx context.Context, uri, fallback string) string
}

// Filter narrows a listing. Zero fields match everything.
type Filter struct {
	Collection solana.PublicKey // non-fungible grouping
	Token      solana.PublicKey // fungible mint
}

// Eligible is the combined listing of one owner.
type Eligible struct {
	Assets []domain.HeldAsset `json:"assets"`
	Tokens []domain.HeldToken `json:"tokens"`
}

// Service lists holdings.
type Service struct {
	search    Searcher
	names     Namer
	pageSize  int
	nameLimit int
	log       *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithNameConcurrency overrides DefaultNameConcurrency.
func WithNameConcurrency(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.nameLimit = n
		}
	}
}

// WithNamer resolves missing asset names from their metadata documents.
func WithNamer(n Namer) Option {
	return func(s *Service) {
		s.names = n
	}
}

// New creates a Service.
func New(search Searcher, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{search: search, pageSize: DefaultPageSize, nameLimit: DefaultNameConcurrency, log: log.Named("discovery")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// pages yields the index pages matching q, requesting pages 1..n until a
// page holds fewer than pageSize items. An owner the index does not know
// ends the sequence like an empty page. A failed page yields one
// DISCOVERY_FAILED error and ends the sequence.
func (s *Service) pages(ctx context.Context, q ledger.AssetQuery) iter.Seq2[[]ledger.AssetRecord, error] {
	return func(yield func([]ledger.AssetRecord, error) bool) {
		q.Limit = s.pageSize
		for page := 1; ; page++ {
			q.Page = page
			res, err := s.search.SearchAssets(ctx, q)
			if errors.Is(err, ledger.ErrAccountNotFound) {
				return
			}
			if err != nil {
				yield(nil, swaperr.New(swaperr.DiscoveryFailed,
					fmt.Sprintf("list holdings of %s, page %d", q.Owner, page), err).
					With("owner", q.Owner.String()))
				return
			}

			if len(res.Items) > 0 && !yield(res.Items, nil) {
				return
			}
			if len(res.Items) < s.pageSize {
				return
			}
		}
	}
}

// records yields the records of pages one at a time.
func (s *Service) records(ctx context.Context, q ledger.AssetQuery) iter.Seq2[ledger.AssetRecord, error] {
	return func(yield func(ledger.AssetRecord, error) bool) {
		for page, err := range s.pages(ctx, q) {
			if err != nil {
				yield(ledger.AssetRecord{}, err)
				return
			}
			for _, rec := range page {
				if !yield(rec, nil) {
					return
				}
			}
		}
	}
}

// NonFungible lazily yields the assets held by owner. Each iteration
// re-queries the index from the first page.
func (s *Service) NonFungible(ctx context.Context, owner solana.PublicKey, f Filter) iter.Seq2[domain.HeldAsset, error] {
	return func(yield func(domain.HeldAsset, error) bool) {
		for page, err := range s.pages(ctx, ledger.AssetQuery{Owner: owner, Collection: f.Collection}) {
			if err != nil {
				yield(domain.HeldAsset{}, err)
				return
			}
			for _, asset := range s.heldAssets(ctx, page, owner) {
				if !yield(asset, nil) {
					return
				}
			}
		}
	}
}

// heldAssets converts one page, resolving missing names at most nameLimit at
// a time. Order follows the page.
func (s *Service) heldAssets(ctx context.Context, page []ledger.AssetRecord, owner solana.PublicKey) []domain.HeldAsset {
	out := make([]domain.HeldAsset, len(page))
	var g errgroup.Group
	g.SetLimit(s.nameLimit)
	for i, rec := range page {
		g.Go(func() error {
			out[i] = s.heldAsset(ctx, rec, owner)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (s *Service) heldAsset(ctx context.Context, rec ledger.AssetRecord, owner solana.PublicKey) domain.HeldAsset {
	name := rec.Name
	if name == "" {
		fallback := rec.ID.String()
		if s.names != nil {
			name = s.names.DisplayName(ctx, rec.URI, fallback)
		} else {
			name = fallback
		}
	}

	holder := rec.Owner
	if holder.IsZero() {
		holder = owner
	}
	return domain.HeldAsset{
		MintID:      rec.ID,
		DisplayName: name,
		MetadataURI: rec.URI,
		Collection:  rec.Collection,
		Owner:       holder,
		IsLocked:    rec.Frozen,
	}
}

// Fungible lazily yields the token balances held by owner.
func (s *Service) Fungible(ctx context.Context, owner solana.PublicKey, f Filter) iter.Seq2[domain.HeldToken, error] {
	return func(yield func(domain.HeldToken, error) bool) {
		for rec, err := range s.records(ctx, ledger.AssetQuery{Owner: owner, Fungible: true}) {
			if err != nil {
				yield(domain.HeldToken{}, err)
				return
			}
			if !f.Token.IsZero() && !rec.ID.Equals(f.Token) {
				continue
			}
			tok := domain.HeldToken{
				TokenID:   rec.ID,
				Symbol:    rec.Symbol,
				Decimals:  rec.Decimals,
				RawAmount: rec.Balance,
			}
			if !yield(tok, nil) {
				return
			}
		}
	}
}

// ListNonFungible collects NonFungible.
func (s *Service) ListNonFungible(ctx context.Context, owner solana.PublicKey, f Filter) ([]domain.HeldAsset, error) {
	return collect(s.NonFungible(ctx, owner, f))
}

// ListFungible collects Fungible.
func (s *Service) ListFungible(ctx context.Context, owner solana.PublicKey, f Filter) ([]domain.HeldToken, error) {
	return collect(s.Fungible(ctx, owner, f))
}

// ListEligible lists both kinds of holdings concurrently.
func (s *Service) ListEligible(ctx context.Context, owner solana.PublicKey, f Filter) (*Eligible, error) {
	var out Eligible
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		assets, err := s.ListNonFungible(gctx, owner, f)
		out.Assets = assets
		return err
	})
	g.Go(func() error {
		tokens, err := s.ListFungible(gctx, owner, f)
		out.Tokens = tokens
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	s.log.Debug("listed holdings",
		zap.Stringer("owner", owner),
		zap.Int("assets", len(out.Assets)),
		zap.Int("tokens", len(out.Tokens)),
	)
	return &out, nil
}

// Find reports whether owner currently holds asset within collection.
func (s *Service) Find(ctx context.Context, owner, collection, asset solana.PublicKey) (domain.HeldAsset, bool, error) {
	for held, err := range s.NonFungible(ctx, owner, Filter{Collection: collection}) {
		if err != nil {
			return domain.HeldAsset{}, false, err
		}
		if held.MintID.Equals(asset) {
			return held, true, nil
		}
	}
	return domain.HeldAsset{}, false, nil
}

func collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	out := []T{}
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
