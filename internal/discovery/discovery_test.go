package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/ledger/memledger"
	"hybrid-swap/internal/swaperr"
)

// pagedSearcher serves a fixed number of records in pages and records
// every requested page.
type pagedSearcher struct {
	mu       sync.Mutex
	records  []ledger.AssetRecord
	failPage int
	err      error
	pages    []int
}

func (p *pagedSearcher) SearchAssets(_ context.Context, q ledger.AssetQuery) (*ledger.AssetPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pages = append(p.pages, q.Page)
	if p.err != nil && (p.failPage == 0 || p.failPage == q.Page) {
		return nil, p.err
	}
	from := (q.Page - 1) * q.Limit
	if from > len(p.records) {
		from = len(p.records)
	}
	to := min(from+q.Limit, len(p.records))
	return &ledger.AssetPage{Items: p.records[from:to], Page: q.Page, Limit: q.Limit}, nil
}

func records(n int) []ledger.AssetRecord {
	out := make([]ledger.AssetRecord, n)
	for i := range out {
		out[i] = ledger.AssetRecord{ID: solana.NewWallet().PublicKey(), Name: "asset"}
	}
	return out
}

func TestNonFungible_Pagination(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		wantPages []int
	}{
		{"empty", 0, []int{1}},
		{"partial page", 3, []int{1}},
		{"exact page", 4, []int{1, 2}},
		{"several pages", 9, []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &pagedSearcher{records: records(tt.total)}
			svc := New(src, nil, WithPageSize(4))

			got, err := svc.ListNonFungible(context.Background(), solana.NewWallet().PublicKey(), Filter{})
			require.NoError(t, err)
			require.Len(t, got, tt.total)
			for i, a := range got {
				assert.Equal(t, src.records[i].ID, a.MintID, "results keep page order")
			}
			assert.Equal(t, tt.wantPages, src.pages)
		})
	}
}

func TestNonFungible_FailureIsNotEmpty(t *testing.T) {
	src := &pagedSearcher{records: records(6), failPage: 2, err: errors.New("connection reset")}
	svc := New(src, nil, WithPageSize(4))

	got, err := svc.ListNonFungible(context.Background(), solana.NewWallet().PublicKey(), Filter{})
	require.Error(t, err)
	assert.Nil(t, got)
	assert.True(t, swaperr.Is(err, swaperr.DiscoveryFailed))
	assert.True(t, swaperr.Retryable(err))
}

func TestNonFungible_OwnerNotFound(t *testing.T) {
	src := &pagedSearcher{err: ledger.ErrAccountNotFound}
	svc := New(src, nil)

	got, err := svc.ListNonFungible(context.Background(), solana.NewWallet().PublicKey(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestNonFungible_LazyAndRestartable(t *testing.T) {
	src := &pagedSearcher{records: records(10)}
	svc := New(src, nil, WithPageSize(4))
	seq := svc.NonFungible(context.Background(), solana.NewWallet().PublicKey(), Filter{})

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, []int{1}, src.pages, "stopping early requests no further pages")

	n = 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 10, n)
	assert.Equal(t, []int{1, 1, 2, 3}, src.pages)
}

type fakeNamer map[string]string

func (f fakeNamer) DisplayName(_ context.Context, uri, fallback string) string {
	if n, ok := f[uri]; ok {
		return n
	}
	return fallback
}

func TestNonFungible_NameFallback(t *testing.T) {
	named := ledger.AssetRecord{ID: solana.NewWallet().PublicKey(), Name: "Lambo #1", URI: "u1"}
	fromDoc := ledger.AssetRecord{ID: solana.NewWallet().PublicKey(), URI: "u2"}
	bare := ledger.AssetRecord{ID: solana.NewWallet().PublicKey()}
	src := &pagedSearcher{records: []ledger.AssetRecord{named, fromDoc, bare}}
	svc := New(src, nil, WithNamer(fakeNamer{"u1": "ignored", "u2": "Lambo #2"}))

	got, err := svc.ListNonFungible(context.Background(), solana.NewWallet().PublicKey(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Lambo #1", got[0].DisplayName)
	assert.Equal(t, "Lambo #2", got[1].DisplayName)
	assert.Equal(t, bare.ID.String(), got[2].DisplayName)
}

// slowNamer names every document after its URI and tracks how many lookups
// run at once.
type slowNamer struct {
	inFlight, peak atomic.Int32
}

func (n *slowNamer) DisplayName(_ context.Context, uri, _ string) string {
	cur := n.inFlight.Add(1)
	defer n.inFlight.Add(-1)
	for {
		p := n.peak.Load()
		if cur <= p || n.peak.CompareAndSwap(p, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return uri
}

func TestNonFungible_NamesResolvedConcurrently(t *testing.T) {
	recs := make([]ledger.AssetRecord, 24)
	for i := range recs {
		recs[i] = ledger.AssetRecord{ID: solana.NewWallet().PublicKey(), URI: fmt.Sprintf("u%d", i)}
	}
	namer := &slowNamer{}
	svc := New(&pagedSearcher{records: recs}, nil, WithPageSize(12), WithNamer(namer), WithNameConcurrency(3))

	got, err := svc.ListNonFungible(context.Background(), solana.NewWallet().PublicKey(), Filter{})
	require.NoError(t, err)
	require.Len(t, got, len(recs))
	for i, a := range got {
		assert.Equal(t, recs[i].ID, a.MintID)
		assert.Equal(t, fmt.Sprintf("u%d", i), a.DisplayName)
	}
	assert.Greater(t, namer.peak.Load(), int32(1))
	assert.LessOrEqual(t, namer.peak.Load(), int32(3))
}

func TestListEligible(t *testing.T) {
	chain := memledger.New()
	owner := solana.NewWallet().PublicKey()
	collection := solana.NewWallet().PublicKey()
	token := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()

	chain.AddMint(token, 6, "LAMBO")
	chain.AddMint(other, 9, "OTHER")
	chain.Mint(owner, token, 2_500_000)
	chain.Mint(owner, other, 1)
	chain.AddAsset(memledger.Asset{ID: solana.NewWallet().PublicKey(), Owner: owner, Collection: collection, Name: "Lambo #1"})
	chain.AddAsset(memledger.Asset{ID: solana.NewWallet().PublicKey(), Owner: owner, Collection: solana.NewWallet().PublicKey()})

	svc := New(chain.Client(owner), nil)
	got, err := svc.ListEligible(context.Background(), owner, Filter{Collection: collection, Token: token})
	require.NoError(t, err)

	require.Len(t, got.Assets, 1)
	assert.Equal(t, "Lambo #1", got.Assets[0].DisplayName)
	assert.Equal(t, collection, got.Assets[0].Collection)

	require.Len(t, got.Tokens, 1)
	assert.Equal(t, token, got.Tokens[0].TokenID)
	assert.Equal(t, uint64(2_500_000), got.Tokens[0].RawAmount)
	assert.Equal(t, "2.5", got.Tokens[0].Display().String())
}

func TestListEligible_Failure(t *testing.T) {
	chain := memledger.New()
	chain.Fail(memledger.FaultSearch, errors.New("index unavailable"))
	owner := solana.NewWallet().PublicKey()

	_, err := New(chain.Client(owner), nil).ListEligible(context.Background(), owner, Filter{})
	assert.True(t, swaperr.Is(err, swaperr.DiscoveryFailed))
}

func TestFind(t *testing.T) {
	chain := memledger.New()
	escrow := solana.NewWallet().PublicKey()
	collection := solana.NewWallet().PublicKey()
	asset := solana.NewWallet().PublicKey()
	chain.AddAsset(memledger.Asset{ID: asset, Owner: escrow, Collection: collection})

	svc := New(chain.Client(escrow), nil)
	held, ok, err := svc.Find(context.Background(), escrow, collection, asset)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, escrow, held.Owner)

	_, ok, err = svc.Find(context.Background(), escrow, collection, solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.False(t, ok)
}
