package memledger

import (
	"context"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/hybrid"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/swaperr"
)

type world struct {
	chain      *Ledger
	authority  solana.PublicKey
	user       solana.PublicKey
	collection solana.PublicKey
	token      solana.PublicKey
	fee        solana.PublicKey
	escrow     solana.PublicKey
	asset      solana.PublicKey
}

func newWorld(t *testing.T) *world {
	t.Helper()
	w := &world{
		chain:      New(),
		authority:  solana.NewWallet().PublicKey(),
		user:       solana.NewWallet().PublicKey(),
		collection: solana.NewWallet().PublicKey(),
		token:      solana.NewWallet().PublicKey(),
		fee:        solana.NewWallet().PublicKey(),
		asset:      solana.NewWallet().PublicKey(),
	}
	escrow, _, err := pda.NewDeriver(hybrid.ProgramID).EscrowAddress(w.collection)
	require.NoError(t, err)
	w.escrow = escrow

	w.chain.AddMint(w.token, 6, "LAMBO")
	w.chain.AddCollection(Collection{ID: w.collection, Authority: w.authority, EscrowDelegated: true})
	w.chain.AddAsset(Asset{ID: w.asset, Owner: w.user, Collection: w.collection, Name: "Lambo #1"})
	return w
}

func (w *world) init(t *testing.T) {
	t.Helper()
	ix, err := hybrid.InitEscrow(w.escrow, w.authority, w.collection, w.token, w.fee, hybrid.InitEscrowArgs{
		Name: "Moonlambo", URI: "https://base-uri/", Max: 15, Amount: 100, FeeAmount: 5, SolFeeAmount: 1000, Path: hybrid.PathReroll,
	})
	require.NoError(t, err)
	_, _, err = ledger.SubmitAndConfirm(context.Background(), w.chain.Client(w.authority), ledger.Operation{
		Kind: domain.OperationInitEscrow, Escrow: w.escrow, Instructions: []solana.Instruction{ix},
	})
	require.NoError(t, err)
}

func (w *world) settle(t *testing.T, payer solana.PublicKey, release bool) error {
	t.Helper()
	accs := hybrid.SettlementAccounts{
		Owner: payer, Authority: w.authority, Escrow: w.escrow, Asset: w.asset,
		Collection: w.collection, Token: w.token, FeeLocation: w.fee,
	}
	build, kind := hybrid.Capture, domain.OperationCapture
	if release {
		build, kind = hybrid.Release, domain.OperationRelease
	}
	ix, err := build(accs)
	require.NoError(t, err)
	_, _, err = ledger.SubmitAndConfirm(context.Background(), w.chain.Client(payer), ledger.Operation{
		Kind: kind, Escrow: w.escrow, Instructions: []solana.Instruction{ix},
	})
	return err
}

func classify(t *testing.T, err error, release bool) swaperr.Code {
	t.Helper()
	pe, ok := ledger.AsProgramError(err)
	require.True(t, ok, "got %v", err)
	require.True(t, pe.HasCode)
	return hybrid.ClassifyProgramError(pe.Program, pe.Code, release)
}

func TestInitEscrow(t *testing.T) {
	w := newWorld(t)
	w.init(t)

	rec, ok := w.chain.Escrow(w.escrow)
	require.True(t, ok)
	assert.Equal(t, w.collection, rec.Collection)
	assert.Equal(t, w.authority, rec.Authority)
	assert.Equal(t, uint64(100), rec.ExchangeRate)
	assert.True(t, rec.RerollEnabled)

	acc, err := w.chain.Client(w.user).FetchAccount(context.Background(), w.escrow)
	require.NoError(t, err)
	assert.Equal(t, hybrid.ProgramID, acc.Owner)
}

func TestInitEscrow_WrongAuthority(t *testing.T) {
	w := newWorld(t)
	intruder := solana.NewWallet().PublicKey()
	ix, err := hybrid.InitEscrow(w.escrow, intruder, w.collection, w.token, w.fee, hybrid.InitEscrowArgs{Max: 1})
	require.NoError(t, err)

	_, err = w.chain.Client(intruder).Submit(context.Background(), ledger.Operation{Instructions: []solana.Instruction{ix}})
	pe, ok := ledger.AsProgramError(err)
	require.True(t, ok)
	assert.Equal(t, hybrid.ErrCodeInvalidUpdateAuth, pe.Code)

	_, ok = w.chain.Escrow(w.escrow)
	assert.False(t, ok)
}

func TestRelease(t *testing.T) {
	w := newWorld(t)
	w.init(t)
	w.chain.Mint(w.escrow, w.token, 250)

	require.NoError(t, w.settle(t, w.user, true))

	a, _ := w.chain.Asset(w.asset)
	assert.Equal(t, w.escrow, a.Owner)
	assert.Equal(t, uint64(150), w.chain.Balance(w.escrow, w.token))
	assert.Equal(t, uint64(100), w.chain.Balance(w.user, w.token))
}

func TestRelease_VaultShort(t *testing.T) {
	w := newWorld(t)
	w.init(t)
	w.chain.Mint(w.escrow, w.token, 99)

	err := w.settle(t, w.user, true)
	assert.Equal(t, swaperr.InsufficientVaultBalance, classify(t, err, true))

	a, _ := w.chain.Asset(w.asset)
	assert.Equal(t, w.user, a.Owner, "asset stays with the caller")
}

func TestRelease_NotDelegated(t *testing.T) {
	w := newWorld(t)
	w.chain.AddCollection(Collection{ID: w.collection, Authority: w.authority})
	w.init(t)
	w.chain.Mint(w.escrow, w.token, 500)

	err := w.settle(t, w.user, true)
	assert.Equal(t, swaperr.EscrowNotDelegated, classify(t, err, true))
}

func TestCapture(t *testing.T) {
	w := newWorld(t)
	w.init(t)
	w.chain.Mint(w.escrow, w.token, 100)
	require.NoError(t, w.settle(t, w.user, true))

	buyer := solana.NewWallet().PublicKey()
	w.chain.Mint(buyer, w.token, 105)
	require.NoError(t, w.settle(t, buyer, false))

	a, _ := w.chain.Asset(w.asset)
	assert.Equal(t, buyer, a.Owner)
	assert.Equal(t, "https://base-uri/0.json", a.URI)
	assert.Equal(t, uint64(0), w.chain.Balance(buyer, w.token))
	assert.Equal(t, uint64(100), w.chain.Balance(w.escrow, w.token))
	assert.Equal(t, uint64(5), w.chain.Balance(w.fee, w.token))
	assert.Equal(t, uint64(1000), w.chain.Lamports(hybrid.FeeSOLAccount))

	rec, _ := w.chain.Escrow(w.escrow)
	assert.Equal(t, uint64(1), rec.Count)
}

func TestCapture_Contested(t *testing.T) {
	w := newWorld(t)
	w.init(t)
	w.chain.Mint(w.escrow, w.token, 100)
	require.NoError(t, w.settle(t, w.user, true))

	first, second := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()
	w.chain.Mint(first, w.token, 105)
	w.chain.Mint(second, w.token, 105)

	require.NoError(t, w.settle(t, first, false))
	err := w.settle(t, second, false)
	assert.Equal(t, swaperr.AssetNotAvailable, classify(t, err, false))
	assert.Equal(t, uint64(105), w.chain.Balance(second, w.token))
}

func TestCapture_InsufficientBalance(t *testing.T) {
	w := newWorld(t)
	w.init(t)
	w.chain.Mint(w.escrow, w.token, 100)
	require.NoError(t, w.settle(t, w.user, true))

	buyer := solana.NewWallet().PublicKey()
	w.chain.Mint(buyer, w.token, 104)
	err := w.settle(t, buyer, false)
	assert.Equal(t, swaperr.InsufficientBalance, classify(t, err, false))
}

func TestSearchAssets_Paging(t *testing.T) {
	w := newWorld(t)
	for i := 0; i < 4; i++ {
		w.chain.AddAsset(Asset{ID: solana.NewWallet().PublicKey(), Owner: w.user, Collection: w.collection})
	}
	w.chain.AddAsset(Asset{ID: solana.NewWallet().PublicKey(), Owner: w.user, Collection: solana.NewWallet().PublicKey()})

	c := w.chain.Client(w.user)
	seen := map[solana.PublicKey]bool{}
	for page := 1; page <= 3; page++ {
		p, err := c.SearchAssets(context.Background(), ledger.AssetQuery{Owner: w.user, Collection: w.collection, Page: page, Limit: 2})
		require.NoError(t, err)
		for _, it := range p.Items {
			seen[it.ID] = true
		}
		if page == 3 {
			assert.Len(t, p.Items, 1)
		}
	}
	assert.Len(t, seen, 5)
}

func TestHold(t *testing.T) {
	w := newWorld(t)
	entered, release := w.chain.Hold()

	done := make(chan error, 1)
	go func() {
		_, err := w.chain.Client(w.user).FetchAccount(context.Background(), w.escrow)
		done <- err
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("call never reached the hold")
	}
	select {
	case <-done:
		t.Fatal("call returned while held")
	default:
	}

	release()
	assert.ErrorIs(t, <-done, ledger.ErrAccountNotFound)
}
