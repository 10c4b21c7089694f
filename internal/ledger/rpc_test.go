package ledger

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/hybrid"
	"hybrid-swap/internal/programs"
	solrpc "hybrid-swap/internal/solana"
	"hybrid-swap/internal/wallet"
)

// fakeRPC is a scripted solrpc.RPCClient.
type fakeRPC struct {
	mu sync.Mutex

	accounts  map[string]*solrpc.AccountInfo
	assets    *solrpc.AssetList
	height    uint64
	statuses  []*solrpc.SignatureStatus // consumed one per poll; last one repeats
	sendErr   error
	searchErr error

	sent         [][]byte
	searchParams []solrpc.SearchAssetsParams
	polls        int
}

func (f *fakeRPC) GetAccountInfo(_ context.Context, pubkey string) (*solrpc.AccountInfo, error) {
	return f.accounts[pubkey], nil
}

func (f *fakeRPC) GetTokenAccountBalance(context.Context, string) (*solrpc.TokenAmount, error) {
	return nil, errors.New("not scripted")
}

func (f *fakeRPC) GetLatestBlockhash(context.Context) (*solrpc.LatestBlockhash, error) {
	return &solrpc.LatestBlockhash{
		Blockhash:            "EETubP5AKHgjPAhzPAFcb8BAY1hMH639CWCFTqi3hq1k",
		LastValidBlockHeight: 1000,
		Slot:                 42,
	}, nil
}

func (f *fakeRPC) GetBlockHeight(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.height, nil
}

func (f *fakeRPC) GetSlot(context.Context) (int64, error) { return 42, nil }

func (f *fakeRPC) SendTransaction(_ context.Context, raw []byte, _ *solrpc.SendOpts) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, raw)
	if f.sendErr != nil {
		return "", f.sendErr
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", err
	}
	return tx.Signatures[0].String(), nil
}

func (f *fakeRPC) GetSignatureStatuses(context.Context, []string, bool) ([]*solrpc.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if len(f.statuses) == 0 {
		return []*solrpc.SignatureStatus{nil}, nil
	}
	st := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return []*solrpc.SignatureStatus{st}, nil
}

func (f *fakeRPC) SearchAssets(_ context.Context, params solrpc.SearchAssetsParams) (*solrpc.AssetList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchParams = append(f.searchParams, params)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.assets, nil
}

type fakeWS struct {
	ch chan solrpc.SignatureNotification
}

func (w *fakeWS) SubscribeSignature(context.Context, string, string) (<-chan solrpc.SignatureNotification, error) {
	return w.ch, nil
}

func (w *fakeWS) Close() error { return nil }

func newTestRPC(t *testing.T, client *fakeRPC, ws solrpc.WSClient, cfg RPCConfig) (*RPC, solana.PrivateKey) {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return NewRPC(client, ws, wallet.FromPrivateKey(key), cfg, nil), key
}

func transferOp(t *testing.T, owner solana.PublicKey) Operation {
	t.Helper()
	mint := solana.NewWallet().PublicKey()
	src, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	require.NoError(t, err)
	dst := solana.NewWallet().PublicKey()
	return Operation{
		Kind:         domain.OperationFundVault,
		Escrow:       solana.NewWallet().PublicKey(),
		Instructions: []solana.Instruction{programs.Transfer(src, dst, owner, 5)},
	}
}

func TestRPC_FetchAccount(t *testing.T) {
	addr := solana.NewWallet().PublicKey()
	client := &fakeRPC{accounts: map[string]*solrpc.AccountInfo{
		addr.String(): {
			Lamports: 7,
			Owner:    hybrid.ProgramID.String(),
			Data:     base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
			Slot:     9,
		},
	}}
	l, _ := newTestRPC(t, client, nil, DefaultRPCConfig())

	acc, err := l.FetchAccount(context.Background(), addr)
	require.NoError(t, err)
	assert.Equal(t, hybrid.ProgramID, acc.Owner)
	assert.Equal(t, []byte{1, 2, 3}, acc.Data)
	assert.Equal(t, uint64(7), acc.Lamports)
	assert.Equal(t, uint64(9), acc.Slot)

	_, err = l.FetchAccount(context.Background(), solana.NewWallet().PublicKey())
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRPC_SearchAssets(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	collection := solana.NewWallet().PublicKey()
	asset := solana.NewWallet().PublicKey()

	client := &fakeRPC{assets: &solrpc.AssetList{Items: []solrpc.DASAsset{
		{
			ID:        asset.String(),
			Content:   &solrpc.DASContent{JSONURI: "https://meta/1.json", Metadata: solrpc.DASMetadata{Name: "Lambo #1"}},
			Grouping:  []solrpc.DASGroup{{GroupKey: "collection", GroupValue: collection.String()}},
			Ownership: solrpc.DASOwnership{Owner: owner.String(), Frozen: true},
		},
		{ID: "not-a-key"},
	}}}
	l, _ := newTestRPC(t, client, nil, DefaultRPCConfig())

	page, err := l.SearchAssets(context.Background(), AssetQuery{Owner: owner, Collection: collection, Page: 2, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, page.Items, 1, "malformed items are skipped")

	rec := page.Items[0]
	assert.Equal(t, asset, rec.ID)
	assert.Equal(t, collection, rec.Collection)
	assert.Equal(t, owner, rec.Owner)
	assert.Equal(t, "Lambo #1", rec.Name)
	assert.True(t, rec.Frozen)

	require.Len(t, client.searchParams, 1)
	p := client.searchParams[0]
	assert.Equal(t, []string{"collection", collection.String()}, p.Grouping)
	assert.Equal(t, 2, p.Page)
	assert.Equal(t, 1000, p.Limit)
	assert.Empty(t, p.TokenType)
	require.NotNil(t, p.Burnt)
	assert.False(t, *p.Burnt)
}

func TestRPC_SearchAssets_IndexNotFound(t *testing.T) {
	client := &fakeRPC{searchErr: &solrpc.RPCError{Code: -32000, Message: "Asset Not Found"}}
	l, _ := newTestRPC(t, client, nil, DefaultRPCConfig())

	_, err := l.SearchAssets(context.Background(), AssetQuery{Owner: solana.NewWallet().PublicKey(), Page: 1, Limit: 10})
	assert.ErrorIs(t, err, ErrAccountNotFound)

	client.searchErr = &solrpc.RPCError{Code: -32603, Message: "internal error"}
	_, err = l.SearchAssets(context.Background(), AssetQuery{Owner: solana.NewWallet().PublicKey(), Page: 1, Limit: 10})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAccountNotFound)
}

func TestRPC_SearchAssets_Fungible(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	client := &fakeRPC{assets: &solrpc.AssetList{Items: []solrpc.DASAsset{{
		ID:        mint.String(),
		Ownership: solrpc.DASOwnership{Owner: owner.String()},
		TokenInfo: &solrpc.DASTokenInfo{Symbol: "LAMBO", Balance: 1500, Decimals: 2},
	}}}}
	l, _ := newTestRPC(t, client, nil, DefaultRPCConfig())

	page, err := l.SearchAssets(context.Background(), AssetQuery{Owner: owner, Fungible: true, Page: 1, Limit: 1000})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, uint64(1500), page.Items[0].Balance)
	assert.Equal(t, uint8(2), page.Items[0].Decimals)
	assert.Equal(t, "LAMBO", page.Items[0].Symbol)

	p := client.searchParams[0]
	assert.Equal(t, "fungible", p.TokenType)
	assert.Nil(t, p.Grouping)
	require.NotNil(t, p.Options)
	assert.True(t, p.Options.ShowFungible)
}

func TestRPC_Submit(t *testing.T) {
	client := &fakeRPC{}
	l, key := newTestRPC(t, client, nil, DefaultRPCConfig())
	op := transferOp(t, key.PublicKey())

	sub, err := l.Submit(context.Background(), op)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), sub.Payer)
	assert.Equal(t, uint64(1000), sub.Checkpoint.LastValidHeight)

	require.Len(t, client.sent, 1)
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(client.sent[0]))
	require.NoError(t, err)
	require.NoError(t, tx.VerifySignatures())
	assert.Equal(t, sub.Signature, tx.Signatures[0])
	assert.Equal(t, key.PublicKey(), tx.Message.AccountKeys[0], "payer is the first account")

	require.Len(t, tx.Message.Instructions, 2, "compute budget instruction is prepended")
	first, err := tx.Message.ResolveProgramIDIndex(tx.Message.Instructions[0].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, programs.ComputeBudgetProgramID, first)
	second, err := tx.Message.ResolveProgramIDIndex(tx.Message.Instructions[1].ProgramIDIndex)
	require.NoError(t, err)
	assert.Equal(t, solana.TokenProgramID, second)
}

func TestRPC_Submit_NoComputeBudget(t *testing.T) {
	client := &fakeRPC{}
	cfg := DefaultRPCConfig()
	cfg.ComputeUnitPrice = 0
	l, key := newTestRPC(t, client, nil, cfg)

	_, err := l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	require.NoError(t, err)

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(client.sent[0]))
	require.NoError(t, err)
	assert.Len(t, tx.Message.Instructions, 1)
}

func TestRPC_Submit_ForeignSigner(t *testing.T) {
	client := &fakeRPC{}
	l, _ := newTestRPC(t, client, nil, DefaultRPCConfig())

	// The transfer owner is not the payer and would need a second signature.
	_, err := l.Submit(context.Background(), transferOp(t, solana.NewWallet().PublicKey()))
	require.Error(t, err)
	assert.Empty(t, client.sent)
}

func TestRPC_Submit_PreflightProgramError(t *testing.T) {
	data, err := json.Marshal(map[string]any{
		"err": map[string]any{"InstructionError": []any{1, map[string]any{"Custom": 1}}},
		"logs": []string{
			"Program ComputeBudget111111111111111111111111111111 success",
			"Program TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA failed: custom program error: 0x1",
		},
	})
	require.NoError(t, err)
	client := &fakeRPC{sendErr: &solrpc.RPCError{
		Code:    solrpc.CodeSendTransactionPreflightFailure,
		Message: "Transaction simulation failed",
		Data:    data,
	}}
	l, key := newTestRPC(t, client, nil, DefaultRPCConfig())

	_, err = l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	pe, ok := AsProgramError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, 0, pe.Index, "index is relative to the operation")
	assert.True(t, pe.HasCode)
	assert.Equal(t, uint32(1), pe.Code)
	assert.Equal(t, solana.TokenProgramID, pe.Program)
	assert.Len(t, pe.Logs, 2)
}

func TestRPC_Confirm(t *testing.T) {
	client := &fakeRPC{statuses: []*solrpc.SignatureStatus{
		nil,
		{Slot: 50, ConfirmationStatus: solrpc.CommitmentProcessed},
		{Slot: 51, ConfirmationStatus: solrpc.CommitmentConfirmed},
	}}
	cfg := DefaultRPCConfig()
	cfg.PollInterval = time.Millisecond
	l, key := newTestRPC(t, client, nil, cfg)

	sub, err := l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	require.NoError(t, err)

	conf, err := l.Confirm(context.Background(), sub)
	require.NoError(t, err)
	assert.Equal(t, uint64(51), conf.Slot)
	assert.Equal(t, sub.Signature, conf.Signature)
	assert.Equal(t, 3, client.polls)
}

func TestRPC_Confirm_Failed(t *testing.T) {
	client := &fakeRPC{statuses: []*solrpc.SignatureStatus{{
		Slot:               60,
		ConfirmationStatus: solrpc.CommitmentConfirmed,
		Err:                json.RawMessage(`{"InstructionError":[1,{"Custom":6002}]}`),
	}}}
	cfg := DefaultRPCConfig()
	cfg.PollInterval = time.Millisecond
	l, key := newTestRPC(t, client, nil, cfg)

	sub, err := l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	require.NoError(t, err)

	_, err = l.Confirm(context.Background(), sub)
	pe, ok := AsProgramError(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, uint32(6002), pe.Code)
	assert.Equal(t, solana.TokenProgramID, pe.Program, "without logs the failing instruction's program is reported")
}

func TestRPC_Confirm_TimedOut(t *testing.T) {
	client := &fakeRPC{}
	cfg := DefaultRPCConfig()
	cfg.PollInterval = time.Millisecond
	cfg.ConfirmTimeout = 20 * time.Millisecond
	l, key := newTestRPC(t, client, nil, cfg)

	sub, err := l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	require.NoError(t, err)

	_, err = l.Confirm(context.Background(), sub)
	assert.ErrorIs(t, err, ErrConfirmationTimedOut)
}

func TestRPC_Confirm_BlockhashExpired(t *testing.T) {
	client := &fakeRPC{height: 1001}
	cfg := DefaultRPCConfig()
	cfg.PollInterval = time.Millisecond
	l, key := newTestRPC(t, client, nil, cfg)

	sub, err := l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	require.NoError(t, err)

	_, err = l.Confirm(context.Background(), sub)
	assert.ErrorIs(t, err, ErrBlockhashExpired)
}

func TestRPC_Confirm_Cancelled(t *testing.T) {
	client := &fakeRPC{}
	cfg := DefaultRPCConfig()
	cfg.PollInterval = time.Millisecond
	l, key := newTestRPC(t, client, nil, cfg)

	sub, err := l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Confirm(ctx, sub)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRPC_Confirm_CallerDeadline(t *testing.T) {
	client := &fakeRPC{}
	cfg := DefaultRPCConfig()
	cfg.PollInterval = time.Millisecond
	l, key := newTestRPC(t, client, nil, cfg)

	sub, err := l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Confirm(ctx, sub)
	assert.ErrorIs(t, err, ErrConfirmationTimedOut)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, OutcomeUnknown(err))
}

func TestRPC_Confirm_WebsocketWake(t *testing.T) {
	client := &fakeRPC{statuses: []*solrpc.SignatureStatus{
		nil,
		{Slot: 70, ConfirmationStatus: solrpc.CommitmentFinalized},
	}}
	ws := &fakeWS{ch: make(chan solrpc.SignatureNotification, 1)}
	cfg := DefaultRPCConfig()
	cfg.PollInterval = time.Hour
	l, key := newTestRPC(t, client, ws, cfg)

	sub, err := l.Submit(context.Background(), transferOp(t, key.PublicKey()))
	require.NoError(t, err)

	ws.ch <- solrpc.SignatureNotification{Signature: sub.Signature.String(), Slot: 70}
	close(ws.ch)

	done := make(chan error, 1)
	go func() {
		_, err := l.Confirm(context.Background(), sub)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("confirmation was not woken by the notification")
	}
}

func TestRPC_SignatureStatus(t *testing.T) {
	client := &fakeRPC{statuses: []*solrpc.SignatureStatus{
		{Slot: 80, ConfirmationStatus: solrpc.CommitmentConfirmed},
	}}
	l, _ := newTestRPC(t, client, nil, DefaultRPCConfig())

	state, err := l.SignatureStatus(context.Background(), solana.Signature{1})
	require.NoError(t, err)
	assert.True(t, state.Found)
	assert.Equal(t, domain.OperationConfirmed, state.Status)
	assert.Equal(t, uint64(80), state.Slot)

	client.statuses = nil
	state, err = l.SignatureStatus(context.Background(), solana.Signature{1})
	require.NoError(t, err)
	assert.False(t, state.Found)
}

func TestParseTxError(t *testing.T) {
	ixs := []solana.Instruction{programs.SetComputeUnitPrice(1)}

	err := parseTxError([]byte(`"BlockhashNotFound"`), ixs, 0, nil)
	var te *TransactionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "BlockhashNotFound", te.Reason)

	err = parseTxError([]byte(`{"InsufficientFundsForRent":{"account_index":0}}`), ixs, 0, nil)
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "InsufficientFundsForRent", te.Reason)

	err = parseTxError([]byte(`{"InstructionError":[0,"MissingRequiredSignature"]}`), ixs, 0, nil)
	pe, ok := AsProgramError(err)
	require.True(t, ok)
	assert.False(t, pe.HasCode)
	assert.Equal(t, "MissingRequiredSignature", pe.Reason)
	assert.Equal(t, programs.ComputeBudgetProgramID, pe.Program)

	err = parseTxError([]byte(`{"InstructionError":[0,{"Custom":3}]}`), ixs, 1, nil)
	pe, ok = AsProgramError(err)
	require.True(t, ok)
	assert.Equal(t, -1, pe.Index, "prepended instructions are not attributable")
}
