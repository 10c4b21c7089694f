// Package memledger is an in-memory ledger for tests. It decodes submitted
// instructions and applies token, associated-account, escrow and core-asset
// effects atomically per operation.
package memledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/hybrid"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/programs"
)

// Asset is a core asset tracked by the ledger.
type Asset struct {
	ID         solana.PublicKey
	Owner      solana.PublicKey
	Collection solana.PublicKey
	Name       string
	URI        string
	Frozen     bool
}

// Collection is a core collection tracked by the ledger.
type Collection struct {
	ID        solana.PublicKey
	Authority solana.PublicKey
	// EscrowDelegated marks the escrow as update delegate of the collection,
	// which release and capture require.
	EscrowDelegated bool
}

type mint struct {
	decimals uint8
	symbol   string
}

type account struct {
	owner    solana.PublicKey
	lamports uint64
	data     []byte
}

type state struct {
	accounts    map[solana.PublicKey]*account
	assets      map[solana.PublicKey]*Asset
	collections map[solana.PublicKey]*Collection
	lamports    map[solana.PublicKey]uint64
}

func (s *state) clone() *state {
	c := &state{
		accounts:    make(map[solana.PublicKey]*account, len(s.accounts)),
		assets:      make(map[solana.PublicKey]*Asset, len(s.assets)),
		collections: s.collections,
		lamports:    make(map[solana.PublicKey]uint64, len(s.lamports)),
	}
	for k, v := range s.accounts {
		a := *v
		a.data = append([]byte(nil), v.data...)
		c.accounts[k] = &a
	}
	for k, v := range s.assets {
		a := *v
		c.assets[k] = &a
	}
	for k, v := range s.lamports {
		c.lamports[k] = v
	}
	return c
}

type landed struct {
	op    ledger.Operation
	slot  uint64
	payer solana.PublicKey
}

// Ledger holds the shared in-memory state. Use Client to act as a wallet.
type Ledger struct {
	mu       sync.Mutex
	st       *state
	mints    map[solana.PublicKey]mint
	slot     uint64
	seq      uint64
	landed   map[solana.Signature]*landed
	history  []ledger.Operation
	calls    int
	gate     chan struct{}
	entered  chan struct{}
	signaled bool
	faults   map[string]error
	timeouts bool
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		st: &state{
			accounts:    make(map[solana.PublicKey]*account),
			assets:      make(map[solana.PublicKey]*Asset),
			collections: make(map[solana.PublicKey]*Collection),
			lamports:    make(map[solana.PublicKey]uint64),
		},
		mints:  make(map[solana.PublicKey]mint),
		slot:   100,
		landed: make(map[solana.Signature]*landed),
		faults: make(map[string]error),
	}
}

// Fault targets.
const (
	FaultFetch   = "fetch"
	FaultSearch  = "search"
	FaultSubmit  = "submit"
	FaultConfirm = "confirm"
)

// Fail makes every call of kind fail with err until cleared with a nil err.
func (l *Ledger) Fail(kind string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.faults, kind)
		return
	}
	l.faults[kind] = err
}

// TimeoutConfirmations makes Confirm report ErrConfirmationTimedOut even
// though submitted operations still land.
func (l *Ledger) TimeoutConfirmations(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeouts = on
}

// Hold blocks every subsequent call until the returned release is invoked.
// entered is closed once the first call is blocked.
func (l *Ledger) Hold() (entered <-chan struct{}, release func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	gate := make(chan struct{})
	l.gate = gate
	l.entered = make(chan struct{})
	l.signaled = false
	var once sync.Once
	return l.entered, func() {
		once.Do(func() {
			l.mu.Lock()
			if l.gate == gate {
				l.gate = nil
			}
			l.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many ledger calls were made through any client.
func (l *Ledger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// Submitted returns every operation that landed, in order.
func (l *Ledger) Submitted() []ledger.Operation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ledger.Operation(nil), l.history...)
}

// enter counts a call, waits on an active hold and returns the injected fault.
func (l *Ledger) enter(ctx context.Context, kind string) error {
	l.mu.Lock()
	l.calls++
	gate := l.gate
	if gate != nil && !l.signaled {
		l.signaled = true
		close(l.entered)
	}
	l.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.faults[kind]
}

// AddMint registers a fungible token.
func (l *Ledger) AddMint(id solana.PublicKey, decimals uint8, symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mints[id] = mint{decimals: decimals, symbol: symbol}
}

// AddCollection registers a collection.
func (l *Ledger) AddCollection(c Collection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cc := c
	l.st.collections[c.ID] = &cc
}

// AddAsset registers a core asset.
func (l *Ledger) AddAsset(a Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	aa := a
	l.st.assets[a.ID] = &aa
}

// Asset returns a copy of an asset.
func (l *Ledger) Asset(id solana.PublicKey) (Asset, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.st.assets[id]
	if !ok {
		return Asset{}, false
	}
	return *a, true
}

// Mint credits amount to the associated token account of owner, creating it.
func (l *Ledger) Mint(owner, token solana.PublicKey, amount uint64) solana.PublicKey {
	l.mu.Lock()
	defer l.mu.Unlock()
	ata, err := pda.AssociatedTokenAddress(owner, token)
	if err != nil {
		panic(err)
	}
	acc, ok := l.st.tokenAccount(ata)
	if !ok {
		acc = programs.TokenAccount{Mint: token, Owner: owner}
	}
	acc.Amount += amount
	l.st.putTokenAccount(ata, acc)
	return ata
}

// Balance returns the associated token balance of owner for token.
func (l *Ledger) Balance(owner, token solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ata, err := pda.AssociatedTokenAddress(owner, token)
	if err != nil {
		return 0
	}
	acc, _ := l.st.tokenAccount(ata)
	return acc.Amount
}

// Lamports returns the lamports collected by addr.
func (l *Ledger) Lamports(addr solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.st.lamports[addr]
}

// PutEscrow stores an escrow record at its address.
func (l *Ledger) PutEscrow(rec domain.EscrowRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.accounts[rec.EscrowAddress] = &account{owner: hybrid.ProgramID, data: hybrid.EncodeEscrow(rec), lamports: 1}
}

// PutAccount stores a raw account.
func (l *Ledger) PutAccount(addr, owner solana.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.accounts[addr] = &account{owner: owner, data: append([]byte(nil), data...), lamports: 1}
}

// Escrow decodes the escrow stored at addr.
func (l *Ledger) Escrow(addr solana.PublicKey) (domain.EscrowRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acc, ok := l.st.accounts[addr]
	if !ok {
		return domain.EscrowRecord{}, false
	}
	rec, err := hybrid.DecodeEscrow(addr, acc.data)
	return rec, err == nil
}

func (s *state) tokenAccount(addr solana.PublicKey) (programs.TokenAccount, bool) {
	acc, ok := s.accounts[addr]
	if !ok || !acc.owner.Equals(solana.TokenProgramID) {
		return programs.TokenAccount{}, false
	}
	ta, err := programs.DecodeTokenAccount(acc.data)
	if err != nil {
		return programs.TokenAccount{}, false
	}
	return ta, true
}

func (s *state) putTokenAccount(addr solana.PublicKey, ta programs.TokenAccount) {
	s.accounts[addr] = &account{owner: solana.TokenProgramID, data: programs.EncodeTokenAccount(ta), lamports: 2039280}
}

// Client acts on the ledger as one wallet.
func (l *Ledger) Client(payer solana.PublicKey) *Client {
	return &Client{l: l, payer: payer}
}

// Client implements ledger.Ledger for one payer.
type Client struct {
	l     *Ledger
	payer solana.PublicKey
}

var _ ledger.Ledger = (*Client)(nil)

// Payer implements ledger.Submitter.
func (c *Client) Payer() solana.PublicKey { return c.payer }

// FetchAccount implements ledger.Reader.
func (c *Client) FetchAccount(ctx context.Context, addr solana.PublicKey) (*ledger.Account, error) {
	if err := c.l.enter(ctx, FaultFetch); err != nil {
		return nil, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()

	acc, ok := c.l.st.accounts[addr]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &ledger.Account{
		Address:  addr,
		Owner:    acc.owner,
		Lamports: acc.lamports,
		Data:     append([]byte(nil), acc.data...),
		Slot:     c.l.slot,
	}, nil
}

// SearchAssets implements ledger.Reader. Results are ordered by id.
func (c *Client) SearchAssets(ctx context.Context, q ledger.AssetQuery) (*ledger.AssetPage, error) {
	if err := c.l.enter(ctx, FaultSearch); err != nil {
		return nil, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()

	var all []ledger.AssetRecord
	if q.Fungible {
		all = c.l.fungibleOf(q.Owner)
	} else {
		for _, a := range c.l.st.assets {
			if !a.Owner.Equals(q.Owner) {
				continue
			}
			if !q.Collection.IsZero() && !a.Collection.Equals(q.Collection) {
				continue
			}
			all = append(all, ledger.AssetRecord{
				ID:         a.ID,
				Owner:      a.Owner,
				Collection: a.Collection,
				Name:       a.Name,
				URI:        a.URI,
				Frozen:     a.Frozen,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID.String() < all[j].ID.String() })

	page := &ledger.AssetPage{Page: q.Page, Limit: q.Limit}
	if q.Page < 1 || q.Limit < 1 {
		return page, nil
	}
	from := (q.Page - 1) * q.Limit
	if from >= len(all) {
		return page, nil
	}
	to := min(from+q.Limit, len(all))
	page.Items = append([]ledger.AssetRecord(nil), all[from:to]...)
	return page, nil
}

func (l *Ledger) fungibleOf(owner solana.PublicKey) []ledger.AssetRecord {
	balances := make(map[solana.PublicKey]uint64)
	for addr := range l.st.accounts {
		ta, ok := l.st.tokenAccount(addr)
		if !ok || !ta.Owner.Equals(owner) {
			continue
		}
		balances[ta.Mint] += ta.Amount
	}
	out := make([]ledger.AssetRecord, 0, len(balances))
	for id, bal := range balances {
		m := l.mints[id]
		out = append(out, ledger.AssetRecord{ID: id, Owner: owner, Symbol: m.symbol, Decimals: m.decimals, Balance: bal})
	}
	return out
}

// Checkpoint implements ledger.Reader.
func (c *Client) Checkpoint(ctx context.Context) (ledger.Checkpoint, error) {
	if err := c.l.enter(ctx, FaultFetch); err != nil {
		return ledger.Checkpoint{}, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()
	var h solana.Hash
	binary.LittleEndian.PutUint64(h[:], c.l.slot)
	return ledger.Checkpoint{Blockhash: h, LastValidHeight: c.l.slot + 150, Slot: c.l.slot}, nil
}

// Submit applies op atomically. Program failures are returned as
// *ledger.ProgramError and leave the state untouched.
func (c *Client) Submit(ctx context.Context, op ledger.Operation) (ledger.Submission, error) {
	if err := c.l.enter(ctx, FaultSubmit); err != nil {
		return ledger.Submission{}, err
	}
	if len(op.Instructions) == 0 {
		return ledger.Submission{}, errors.New("operation has no instructions")
	}

	c.l.mu.Lock()
	defer c.l.mu.Unlock()

	next := c.l.st.clone()
	if err := c.l.apply(next, c.payer, op.Instructions); err != nil {
		return ledger.Submission{}, err
	}
	c.l.st = next
	c.l.slot++
	c.l.seq++

	sum := sha256.Sum256(binary.LittleEndian.AppendUint64(append([]byte(nil), c.payer[:]...), c.l.seq))
	var sig solana.Signature
	copy(sig[:32], sum[:])
	copy(sig[32:], c.payer[:])

	c.l.landed[sig] = &landed{op: op, slot: c.l.slot, payer: c.payer}
	c.l.history = append(c.l.history, op)

	var bh solana.Hash
	binary.LittleEndian.PutUint64(bh[:], c.l.slot)
	return ledger.Submission{
		Signature:   sig,
		Operation:   op,
		Payer:       c.payer,
		Checkpoint:  ledger.Checkpoint{Blockhash: bh, LastValidHeight: c.l.slot + 150, Slot: c.l.slot},
		SubmittedAt: time.Now(),
	}, nil
}

// Confirm implements ledger.Submitter.
func (c *Client) Confirm(ctx context.Context, sub ledger.Submission) (*ledger.Confirmation, error) {
	if err := c.l.enter(ctx, FaultConfirm); err != nil {
		return nil, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()

	if c.l.timeouts {
		return nil, ledger.ErrConfirmationTimedOut
	}
	rec, ok := c.l.landed[sub.Signature]
	if !ok {
		return nil, ledger.ErrBlockhashExpired
	}
	return &ledger.Confirmation{Signature: sub.Signature, Slot: rec.slot, ConfirmedAt: time.Now()}, nil
}

// SignatureStatus implements ledger.Submitter.
func (c *Client) SignatureStatus(ctx context.Context, sig solana.Signature) (ledger.SignatureState, error) {
	if err := c.l.enter(ctx, FaultConfirm); err != nil {
		return ledger.SignatureState{}, err
	}
	c.l.mu.Lock()
	defer c.l.mu.Unlock()

	rec, ok := c.l.landed[sig]
	if !ok {
		return ledger.SignatureState{}, nil
	}
	return ledger.SignatureState{Found: true, Status: domain.OperationConfirmed, Slot: rec.slot}, nil
}
