package ledger

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"hybrid-swap/internal/programs"
	solrpc "hybrid-swap/internal/solana"
	"hybrid-swap/internal/wallet"
)

// Defaults for RPCConfig.
const (
	DefaultConfirmTimeout   = 60 * time.Second
	DefaultPollInterval     = 2 * time.Second
	DefaultComputeUnitPrice = 100000 // micro-lamports
)

// RPCConfig configures the RPC-backed ledger.
type RPCConfig struct {
	Commitment       string
	ConfirmTimeout   time.Duration
	PollInterval     time.Duration
	ComputeUnitPrice uint64 // 0 disables the compute budget instruction
}

// DefaultRPCConfig returns the defaults used by the server.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Commitment:       solrpc.CommitmentConfirmed,
		ConfirmTimeout:   DefaultConfirmTimeout,
		PollInterval:     DefaultPollInterval,
		ComputeUnitPrice: DefaultComputeUnitPrice,
	}
}

// RPC implements Ledger over the JSON-RPC client, optionally woken early by
// websocket signature notifications.
type RPC struct {
	client solrpc.RPCClient
	ws     solrpc.WSClient // may be nil
	agent  wallet.Agent
	cfg    RPCConfig
	log    *zap.Logger
	now    func() time.Time
}

// NewRPC creates an RPC ledger. ws may be nil.
func NewRPC(client solrpc.RPCClient, ws solrpc.WSClient, agent wallet.Agent, cfg RPCConfig, log *zap.Logger) *RPC {
	if cfg.Commitment == "" {
		cfg.Commitment = solrpc.CommitmentConfirmed
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RPC{
		client: client,
		ws:     ws,
		agent:  agent,
		cfg:    cfg,
		log:    log.Named("ledger"),
		now:    time.Now,
	}
}

// Payer returns the wallet paying for and signing submitted operations.
func (l *RPC) Payer() solana.PublicKey {
	return l.agent.PublicKey()
}

// FetchAccount implements Reader.
func (l *RPC) FetchAccount(ctx context.Context, addr solana.PublicKey) (*Account, error) {
	info, err := l.client.GetAccountInfo(ctx, addr.String())
	if err != nil {
		return nil, fmt.Errorf("fetch account %s: %w", addr, err)
	}
	if info == nil {
		return nil, ErrAccountNotFound
	}

	owner, err := solana.PublicKeyFromBase58(info.Owner)
	if err != nil {
		return nil, fmt.Errorf("account %s owner: %w", addr, err)
	}
	data, err := base64.StdEncoding.DecodeString(info.Data)
	if err != nil {
		return nil, fmt.Errorf("account %s data: %w", addr, err)
	}

	return &Account{
		Address:  addr,
		Owner:    owner,
		Lamports: info.Lamports,
		Data:     data,
		Slot:     uint64(info.Slot),
	}, nil
}

// SearchAssets implements Reader.
func (l *RPC) SearchAssets(ctx context.Context, q AssetQuery) (*AssetPage, error) {
	burnt := false
	params := solrpc.SearchAssetsParams{
		OwnerAddress: q.Owner.String(),
		Burnt:        &burnt,
		Page:         q.Page,
		Limit:        q.Limit,
	}
	if !q.Collection.IsZero() {
		params.Grouping = []string{"collection", q.Collection.String()}
	}
	if q.Fungible {
		params.TokenType = "fungible"
		params.Options = &solrpc.DASOption{ShowFungible: true}
	}

	list, err := l.client.SearchAssets(ctx, params)
	if err != nil {
		if isIndexNotFound(err) {
			return nil, fmt.Errorf("search assets of %s: %w", q.Owner, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("search assets of %s: %w", q.Owner, err)
	}

	page := &AssetPage{Page: q.Page, Limit: q.Limit, Items: make([]AssetRecord, 0, len(list.Items))}
	for _, item := range list.Items {
		rec, err := assetRecord(item)
		if err != nil {
			l.log.Warn("skipping malformed asset", zap.String("id", item.ID), zap.Error(err))
			continue
		}
		page.Items = append(page.Items, rec)
	}
	return page, nil
}

// isIndexNotFound reports whether a DAS server rejected the query because it
// knows nothing about the owner or grouping.
func isIndexNotFound(err error) bool {
	var rpcErr *solrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	return strings.Contains(strings.ToLower(rpcErr.Message), "not found")
}

func assetRecord(item solrpc.DASAsset) (AssetRecord, error) {
	id, err := solana.PublicKeyFromBase58(item.ID)
	if err != nil {
		return AssetRecord{}, fmt.Errorf("id: %w", err)
	}
	rec := AssetRecord{
		ID:        id,
		Frozen:    item.Ownership.Frozen,
		Delegated: item.Ownership.Delegated,
	}
	if item.Ownership.Owner != "" {
		if rec.Owner, err = solana.PublicKeyFromBase58(item.Ownership.Owner); err != nil {
			return AssetRecord{}, fmt.Errorf("owner: %w", err)
		}
	}
	for _, g := range item.Grouping {
		if g.GroupKey != "collection" {
			continue
		}
		if rec.Collection, err = solana.PublicKeyFromBase58(g.GroupValue); err != nil {
			return AssetRecord{}, fmt.Errorf("collection: %w", err)
		}
	}
	if item.Content != nil {
		rec.Name = item.Content.Metadata.Name
		rec.Symbol = item.Content.Metadata.Symbol
		rec.URI = item.Content.JSONURI
	}
	if ti := item.TokenInfo; ti != nil {
		rec.Balance = ti.Balance
		rec.Decimals = ti.Decimals
		if ti.Symbol != "" {
			rec.Symbol = ti.Symbol
		}
	}
	return rec, nil
}

// Checkpoint implements Reader.
func (l *RPC) Checkpoint(ctx context.Context) (Checkpoint, error) {
	bh, err := l.client.GetLatestBlockhash(ctx)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	hash, err := solana.HashFromBase58(bh.Blockhash)
	if err != nil {
		return Checkpoint{}, fmt.Errorf("parse blockhash: %w", err)
	}
	return Checkpoint{Blockhash: hash, LastValidHeight: bh.LastValidBlockHeight, Slot: uint64(bh.Slot)}, nil
}

// prefix returns the instructions prepended to every operation.
func (l *RPC) prefix() []solana.Instruction {
	if l.cfg.ComputeUnitPrice == 0 {
		return nil
	}
	return []solana.Instruction{programs.SetComputeUnitPrice(l.cfg.ComputeUnitPrice)}
}

// Submit signs op with the wallet agent and sends it.
// Preflight program failures are returned as *ProgramError.
func (l *RPC) Submit(ctx context.Context, op Operation) (Submission, error) {
	if len(op.Instructions) == 0 {
		return Submission{}, errors.New("operation has no instructions")
	}

	cp, err := l.Checkpoint(ctx)
	if err != nil {
		return Submission{}, err
	}

	prefix := l.prefix()
	ixs := append(append([]solana.Instruction{}, prefix...), op.Instructions...)
	payer := l.agent.PublicKey()

	tx, err := solana.NewTransaction(ixs, cp.Blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return Submission{}, fmt.Errorf("build transaction: %w", err)
	}
	if n := tx.Message.Header.NumRequiredSignatures; n != 1 {
		return Submission{}, fmt.Errorf("operation requires %d signers, only the payer can sign", n)
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return Submission{}, fmt.Errorf("encode message: %w", err)
	}
	sig, err := l.agent.SignMessage(ctx, msg)
	if err != nil {
		return Submission{}, fmt.Errorf("sign %s: %w", op.Kind, err)
	}
	tx.Signatures = []solana.Signature{sig}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return Submission{}, fmt.Errorf("encode transaction: %w", err)
	}

	log := l.log.With(zap.String("kind", string(op.Kind)), zap.Stringer("escrow", op.Escrow))
	returned, err := l.client.SendTransaction(ctx, raw, &solrpc.SendOpts{PreflightCommitment: l.cfg.Commitment})
	if err != nil {
		var rpcErr *solrpc.RPCError
		if errors.As(err, &rpcErr) {
			if sim, ok := rpcErr.Simulation(); ok {
				log.Info("preflight rejected operation", zap.ByteString("err", sim.Err))
				return Submission{}, parseTxError(sim.Err, op.Instructions, len(prefix), sim.Logs)
			}
		}
		return Submission{}, fmt.Errorf("send %s: %w", op.Kind, err)
	}
	if returned != sig.String() {
		log.Warn("node returned unexpected signature", zap.String("returned", returned), zap.Stringer("signed", sig))
	}

	log.Info("operation submitted", zap.Stringer("signature", sig))
	return Submission{
		Signature:   sig,
		Operation:   op,
		Payer:       payer,
		Checkpoint:  cp,
		SubmittedAt: l.now(),
	}, nil
}

// Confirm polls the signature status until the configured commitment is
// reached, the operation fails, its blockhash expires or the confirmation
// window elapses.
func (l *RPC) Confirm(ctx context.Context, sub Submission) (*Confirmation, error) {
	waitCtx, cancel := context.WithTimeout(ctx, l.cfg.ConfirmTimeout)
	defer cancel()

	sig := sub.Signature.String()
	log := l.log.With(zap.String("signature", sig))

	var wake <-chan solrpc.SignatureNotification
	if l.ws != nil {
		ch, err := l.ws.SubscribeSignature(waitCtx, sig, l.cfg.Commitment)
		if err != nil {
			log.Debug("signature subscription unavailable, polling only", zap.Error(err))
		} else {
			wake = ch
		}
	}

	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()

	for {
		conf, done, err := l.poll(waitCtx, sub)
		if done {
			return conf, err
		}
		if err != nil {
			log.Warn("confirmation poll failed", zap.Error(err))
		}

		select {
		case <-waitCtx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil, ctx.Err()
			}
			if ctx.Err() != nil {
				log.Warn("caller deadline reached before confirmation")
				return nil, fmt.Errorf("%w: %w", ErrConfirmationTimedOut, ctx.Err())
			}
			log.Warn("confirmation window elapsed", zap.Duration("timeout", l.cfg.ConfirmTimeout))
			return nil, ErrConfirmationTimedOut
		case _, ok := <-wake:
			if !ok {
				wake = nil
			}
		case <-ticker.C:
		}
	}
}

// poll checks the status once. done reports a final outcome.
func (l *RPC) poll(ctx context.Context, sub Submission) (conf *Confirmation, done bool, err error) {
	statuses, err := l.client.GetSignatureStatuses(ctx, []string{sub.Signature.String()}, false)
	if err != nil {
		return nil, false, err
	}
	if len(statuses) > 0 && statuses[0] != nil {
		st := statuses[0]
		if st.Failed() {
			return nil, true, parseTxError(st.Err, sub.Operation.Instructions, len(l.prefix()), nil)
		}
		if st.Reached(l.cfg.Commitment) {
			return &Confirmation{Signature: sub.Signature, Slot: uint64(st.Slot), ConfirmedAt: l.now()}, true, nil
		}
		return nil, false, nil
	}

	height, err := l.client.GetBlockHeight(ctx)
	if err != nil {
		return nil, false, err
	}
	if sub.Checkpoint.LastValidHeight > 0 && height > sub.Checkpoint.LastValidHeight {
		return nil, true, ErrBlockhashExpired
	}
	return nil, false, nil
}

// SignatureStatus implements Submitter, searching the full status history.
func (l *RPC) SignatureStatus(ctx context.Context, sig solana.Signature) (SignatureState, error) {
	statuses, err := l.client.GetSignatureStatuses(ctx, []string{sig.String()}, true)
	if err != nil {
		return SignatureState{}, fmt.Errorf("signature status %s: %w", sig, err)
	}
	if len(statuses) == 0 || statuses[0] == nil {
		return SignatureState{}, nil
	}
	return stateOf(statuses[0], l.cfg.Commitment), nil
}
