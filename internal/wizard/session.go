package wizard

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"hybrid-swap/internal/discovery"
	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/escrow"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/swap"
	"hybrid-swap/internal/swaperr"
)

// DefaultPreResolveTimeout bounds background escrow resolution.
const DefaultPreResolveTimeout = 2 * time.Minute

// Resolver validates the escrow of a collection, creating it when missing.
type Resolver interface {
	Ensure(ctx context.Context, p domain.EscrowParams) (*escrow.Resolution, error)
}

// Holdings lists wallet holdings; *discovery.Service implements it.
type Holdings interface {
	ListNonFungible(ctx context.Context, owner solana.PublicKey, f discovery.Filter) ([]domain.HeldAsset, error)
	ListFungible(ctx context.Context, owner solana.PublicKey, f discovery.Filter) ([]domain.HeldToken, error)
	ListEligible(ctx context.Context, owner solana.PublicKey, f discovery.Filter) (*discovery.Eligible, error)
}

// Swapper executes swaps; *swap.Coordinator implements it.
type Swapper interface {
	ExecuteSwap(ctx context.Context, dir domain.Direction, in swap.SwapInput) (*swap.Outcome, error)
}

// Deps are the collaborators of a session.
type Deps struct {
	Owner     solana.PublicKey // the caller's wallet
	Authority solana.PublicKey // expected escrow authority; zero means Owner
	Defaults  escrow.InitDefaults
	Deriver   *pda.Deriver
	Resolver  Resolver
	Holdings  Holdings
	Swapper   Swapper

	PreResolveTimeout time.Duration
	Log               *zap.Logger
}

// View is a point-in-time copy of a session.
type View struct {
	ID               uuid.UUID                 `json:"id"`
	Step             Step                      `json:"step"`
	Steps            []Step                    `json:"steps"`
	Direction        domain.Direction          `json:"direction"`
	Collection       string                    `json:"collection,omitempty"`
	Token            string                    `json:"token,omitempty"`
	Escrow           string                    `json:"escrow,omitempty"`
	SourceAsset      string                    `json:"source_asset,omitempty"`
	SourceToken      string                    `json:"source_token,omitempty"`
	DestinationAsset string                    `json:"destination_asset,omitempty"`
	Busy             bool                      `json:"busy"`
	Validated        bool                      `json:"validated"`
	Resolving        bool                      `json:"resolving"`
	Closed           bool                      `json:"closed,omitempty"`
	Notification     *Notification             `json:"notification,omitempty"`
	LastReceipt      *domain.SettlementReceipt `json:"last_receipt,omitempty"`
	Holdings         *discovery.Eligible       `json:"holdings,omitempty"`
}

type preResolution struct {
	collection solana.PublicKey
	token      solana.PublicKey
	gen        uint64
	done       chan struct{}
}

// Session is one caller's pass through the wizard. All methods are safe for
// concurrent use; mutating calls made while a swap is executing fail with BUSY.
type Session struct {
	id   uuid.UUID
	deps Deps
	base context.Context
	log  *zap.Logger

	mu          sync.Mutex
	step        Step
	direction   domain.Direction
	collection  solana.PublicKey
	token       solana.PublicKey
	escrowAddr  solana.PublicKey
	source      solana.PublicKey
	sourceToken solana.PublicKey
	destination solana.PublicKey
	busy        bool
	closed      bool
	gen         uint64 // bumped on Close; stale results are dropped
	validated   map[solana.PublicKey]*escrow.Resolution
	pending     *preResolution
	notice      *Notification
	receipt     *domain.SettlementReceipt
	holdings    *discovery.Eligible

	background sync.WaitGroup
}

// NewSession creates a session at EnterCollection. Background work runs
// under base and outlives the calls that start it.
func NewSession(base context.Context, id uuid.UUID, deps Deps) *Session {
	if base == nil {
		base = context.Background()
	}
	if deps.PreResolveTimeout <= 0 {
		deps.PreResolveTimeout = DefaultPreResolveTimeout
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		id:        id,
		deps:      deps,
		base:      base,
		log:       log.Named("wizard").With(zap.Stringer("session", id), zap.Stringer("owner", deps.Owner)),
		step:      EnterCollection,
		direction: domain.AssetToToken,
		validated: make(map[solana.PublicKey]*escrow.Resolution),
	}
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

func busyError() error {
	return swaperr.Newf(swaperr.Busy, "a swap is already in progress")
}

func transitionError(step Step, action string) error {
	return swaperr.Newf(swaperr.InvalidTransition, "%s is not available at %s", action, step)
}

// guard rejects mutations of a closed or busy session. Callers hold mu.
func (s *Session) guard() error {
	if s.closed {
		return swaperr.Newf(swaperr.SessionClosed, "session %s is closed", s.id)
	}
	if s.busy {
		return busyError()
	}
	return nil
}

// fail records err as the current notification. Callers hold mu.
func (s *Session) fail(err error) (View, error) {
	n := Describe(err)
	s.notice = &n
	return s.view(), err
}

// SetCollection sets the collection while on EnterCollection. Only the
// validation of the chosen collection survives; choosing another drops it.
func (s *Session) SetCollection(id string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return View{}, err
	}
	if s.step != EnterCollection {
		return s.fail(transitionError(s.step, "setting the collection"))
	}
	pk, err := pda.ParseIdentifier(id)
	if err != nil {
		return s.fail(err)
	}
	addr, _, err := s.deps.Deriver.EscrowAddress(pk)
	if err != nil {
		return s.fail(swaperr.New(swaperr.InvalidIdentifier, "derive escrow address", err))
	}
	for c := range s.validated {
		if !c.Equals(pk) {
			delete(s.validated, c)
		}
	}
	if s.pending != nil && !s.pending.collection.Equals(pk) {
		s.pending = nil
	}
	s.collection, s.escrowAddr = pk, addr
	s.notice = nil
	return s.view(), nil
}

// SetToken sets the settlement token while on EnterToken.
func (s *Session) SetToken(id string) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return View{}, err
	}
	if s.step != EnterToken {
		return s.fail(transitionError(s.step, "setting the token"))
	}
	pk, err := pda.ParseIdentifier(id)
	if err != nil {
		return s.fail(err)
	}
	if !s.token.Equals(pk) {
		s.pending = nil
	}
	s.token = pk
	s.notice = nil
	return s.view(), nil
}

// ToggleDirection switches to the other direction.
func (s *Session) ToggleDirection() (View, error) {
	s.mu.Lock()
	dir := s.direction.Opposite()
	s.mu.Unlock()
	return s.SetDirection(dir)
}

// SetDirection changes the direction. Selections made under the previous
// direction are discarded and the current step is clamped into the new flow.
func (s *Session) SetDirection(dir domain.Direction) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return View{}, err
	}
	if !dir.IsValid() {
		return s.fail(swaperr.Newf(swaperr.InvalidTransition, "unknown direction %q", dir))
	}
	if dir == s.direction {
		return s.view(), nil
	}
	s.direction = dir
	s.source, s.sourceToken, s.destination = solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{}
	s.step = clamp(dir, s.step)
	s.notice = nil
	return s.view(), nil
}

// SelectSourceAsset selects the caller's asset to release (AssetToToken).
func (s *Session) SelectSourceAsset(id string) (View, error) {
	return s.selectOn(SelectSourceAsset, domain.AssetToToken, id, func(pk solana.PublicKey) error {
		s.source = pk
		return nil
	})
}

// SelectSourceToken selects the token paid for a capture (TokenToAsset).
// It must be the session's settlement token.
func (s *Session) SelectSourceToken(id string) (View, error) {
	return s.selectOn(SelectSourceAsset, domain.TokenToAsset, id, func(pk solana.PublicKey) error {
		if !pk.Equals(s.token) {
			return swaperr.Newf(swaperr.InvalidIdentifier, "token %s is not the settlement token %s", pk, s.token)
		}
		s.sourceToken = pk
		return nil
	})
}

// SelectDestinationAsset selects the escrow-held asset to capture.
func (s *Session) SelectDestinationAsset(id string) (View, error) {
	return s.selectOn(SelectDestinationAsset, domain.TokenToAsset, id, func(pk solana.PublicKey) error {
		s.destination = pk
		return nil
	})
}

func (s *Session) selectOn(step Step, dir domain.Direction, id string, set func(solana.PublicKey) error) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return View{}, err
	}
	if s.step != step || s.direction != dir {
		return s.fail(transitionError(s.step, "this selection"))
	}
	pk, err := pda.ParseIdentifier(id)
	if err != nil {
		return s.fail(err)
	}
	if err := set(pk); err != nil {
		return s.fail(err)
	}
	s.notice = nil
	return s.view(), nil
}

// Advance moves to the next step. Leaving EnterToken starts background
// escrow resolution; leaving the final selection step executes the swap and
// returns once it settles or fails.
func (s *Session) Advance(ctx context.Context) (View, error) {
	s.mu.Lock()
	if err := s.guard(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}

	var missing string
	switch s.step {
	case EnterCollection:
		if s.collection.IsZero() {
			missing = "collection"
		}
	case EnterToken:
		if s.token.IsZero() {
			missing = "settlement token"
		}
	case SelectSourceAsset:
		if s.direction == domain.AssetToToken && s.source.IsZero() {
			missing = "source asset"
		}
		if s.direction == domain.TokenToAsset && s.sourceToken.IsZero() {
			missing = "source token"
		}
	case SelectDestinationAsset:
		if s.destination.IsZero() {
			missing = "destination asset"
		}
	}
	if missing != "" {
		defer s.mu.Unlock()
		return s.fail(swaperr.Newf(swaperr.MissingSelection, "no %s selected", missing))
	}

	to, ok := next(s.direction, s.step)
	if !ok || !Legal(s.direction, s.step, to) {
		defer s.mu.Unlock()
		return s.fail(transitionError(s.step, "advancing"))
	}
	if to == Executing {
		// Unlocks mu.
		return s.execute(ctx)
	}
	defer s.mu.Unlock()

	s.step = to
	s.notice = nil
	if to == SelectDirection {
		s.preResolve()
	}
	return s.view(), nil
}

// Retreat moves back one step and discards selections of the steps no
// longer reached. It never re-triggers escrow initialization.
func (s *Session) Retreat() (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(); err != nil {
		return View{}, err
	}
	to, ok := prev(s.direction, s.step)
	if !ok || !Legal(s.direction, s.step, to) {
		return s.fail(transitionError(s.step, "going back"))
	}
	switch s.step {
	case EnterToken:
		s.token = solana.PublicKey{}
		s.pending = nil
	case SelectSourceAsset:
		s.source, s.sourceToken = solana.PublicKey{}, solana.PublicKey{}
	case SelectDestinationAsset:
		s.destination = solana.PublicKey{}
	}
	s.step = to
	s.notice = nil
	return s.view(), nil
}

// params builds the expected escrow parameters. Callers hold mu.
func (s *Session) params() (domain.EscrowParams, error) {
	authority := s.deps.Authority
	if authority.IsZero() {
		authority = s.deps.Owner
	}
	p, err := s.deps.Defaults.Params(s.collection, s.token, authority)
	if err != nil {
		return domain.EscrowParams{}, swaperr.New(swaperr.InvalidIdentifier, "configured fee location", err)
	}
	return p, nil
}

// cached returns the session's validation of p's collection when it still
// matches p. Callers hold mu.
func (s *Session) cached(p domain.EscrowParams) (*escrow.Resolution, bool) {
	res, ok := s.validated[p.Collection]
	if !ok || escrow.Compare(res.Record, p) != nil {
		return nil, false
	}
	return res, true
}

// preResolve starts background resolution unless the escrow is already
// validated or being resolved. Callers hold mu.
func (s *Session) preResolve() {
	p, err := s.params()
	if err != nil {
		n := Describe(err)
		n.Background = true
		s.notice = &n
		return
	}
	if _, ok := s.cached(p); ok {
		return
	}
	if s.pending != nil && s.pending.collection.Equals(p.Collection) && s.pending.token.Equals(p.SettlementToken) {
		return
	}

	pr := &preResolution{collection: p.Collection, token: p.SettlementToken, gen: s.gen, done: make(chan struct{})}
	s.pending = pr
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		defer close(pr.done)

		ctx, cancel := context.WithTimeout(s.base, s.deps.PreResolveTimeout)
		defer cancel()
		res, err := s.deps.Resolver.Ensure(ctx, p)

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.closed || s.gen != pr.gen || s.pending != pr {
			return
		}
		s.pending = nil
		if err != nil {
			s.log.Warn("background escrow resolution failed", zap.Stringer("collection", p.Collection), zap.Error(err))
			n := Describe(err)
			n.Background = true
			s.notice = &n
			return
		}
		s.validated[p.Collection] = res
	}()
}

// execute runs the swap. It is entered with mu held and releases it before
// the first ledger call.
func (s *Session) execute(ctx context.Context) (View, error) {
	p, err := s.params()
	if err != nil {
		defer s.mu.Unlock()
		return s.fail(err)
	}
	s.busy = true
	s.step = Executing
	s.notice = nil
	gen := s.gen
	dir := s.direction
	asset := s.source
	if dir == domain.TokenToAsset {
		asset = s.destination
	}
	pending := s.pending
	s.mu.Unlock()

	log := s.log.With(zap.String("direction", dir.String()), zap.Stringer("collection", p.Collection), zap.Stringer("asset", asset))

	if pending != nil {
		select {
		case <-pending.done:
		case <-ctx.Done():
			return s.finish(ctx, gen, dir, p, nil, ctx.Err())
		}
	}
	s.mu.Lock()
	_, validated := s.cached(p)
	s.mu.Unlock()

	log.Info("executing swap", zap.Bool("validated", validated))
	out, err := s.deps.Swapper.ExecuteSwap(ctx, dir, swap.SwapInput{Params: p, Asset: asset, Validated: validated})
	if err != nil {
		log.Warn("swap failed", zap.Error(err))
	}
	return s.finish(ctx, gen, dir, p, out, err)
}

func (s *Session) finish(ctx context.Context, gen uint64, dir domain.Direction, p domain.EscrowParams, out *swap.Outcome, err error) (View, error) {
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		if out != nil {
			s.log.Info("swap settled after session closed", zap.String("signature", out.Receipt.Signature))
		}
		return View{}, swaperr.Newf(swaperr.SessionClosed, "session %s closed during the swap", s.id)
	}
	s.busy = false

	if err != nil {
		defer s.mu.Unlock()
		s.step = finalSelection(dir)
		if swaperr.Is(err, swaperr.ConfigurationMismatch) {
			delete(s.validated, p.Collection)
		}
		return s.fail(err)
	}

	s.validated[p.Collection] = out.Resolution
	s.receipt = out.Receipt
	s.reset()
	s.mu.Unlock()

	s.refresh(ctx, gen)
	return s.Snapshot(), nil
}

// reset returns to EnterCollection with no selections. The validation
// cache survives for the session lifetime. Callers hold mu.
func (s *Session) reset() {
	s.step = EnterCollection
	s.direction = domain.AssetToToken
	s.collection, s.token, s.escrowAddr = solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{}
	s.source, s.sourceToken, s.destination = solana.PublicKey{}, solana.PublicKey{}, solana.PublicKey{}
	s.pending = nil
	s.notice = nil
}

// refresh reloads the caller's holdings after a swap.
func (s *Session) refresh(ctx context.Context, gen uint64) {
	held, err := s.deps.Holdings.ListEligible(ctx, s.deps.Owner, discovery.Filter{})

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return
	}
	if err != nil {
		n := Describe(err)
		n.Background = true
		s.notice = &n
		return
	}
	s.holdings = held
}

// ForceRevalidate drops the cached validation of the current collection and
// resolves the escrow again.
func (s *Session) ForceRevalidate(ctx context.Context) (View, error) {
	s.mu.Lock()
	if err := s.guard(); err != nil {
		s.mu.Unlock()
		return View{}, err
	}
	if s.collection.IsZero() || s.token.IsZero() {
		defer s.mu.Unlock()
		return s.fail(swaperr.Newf(swaperr.MissingSelection, "collection and token are required"))
	}
	p, err := s.params()
	if err != nil {
		defer s.mu.Unlock()
		return s.fail(err)
	}
	delete(s.validated, p.Collection)
	s.pending = nil
	s.busy = true
	gen := s.gen
	s.mu.Unlock()

	res, err := s.deps.Resolver.Ensure(ctx, p)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen != gen {
		return View{}, swaperr.Newf(swaperr.SessionClosed, "session %s closed during validation", s.id)
	}
	s.busy = false
	if err != nil {
		return s.fail(err)
	}
	s.validated[p.Collection] = res
	s.notice = nil
	return s.view(), nil
}

// EligibleAssets lists what can be selected at the current step: the
// caller's assets or tokens for the source, the escrow's assets for the
// destination, and all of the caller's holdings otherwise.
func (s *Session) EligibleAssets(ctx context.Context) (*discovery.Eligible, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, swaperr.Newf(swaperr.SessionClosed, "session %s is closed", s.id)
	}
	step, dir := s.step, s.direction
	filter := discovery.Filter{Collection: s.collection, Token: s.token}
	escrowAddr := s.escrowAddr
	s.mu.Unlock()

	owner := s.deps.Owner
	var (
		out discovery.Eligible
		err error
	)
	switch {
	case step == SelectSourceAsset && dir == domain.AssetToToken:
		out.Assets, err = s.deps.Holdings.ListNonFungible(ctx, owner, discovery.Filter{Collection: filter.Collection})
	case step == SelectSourceAsset && dir == domain.TokenToAsset:
		out.Tokens, err = s.deps.Holdings.ListFungible(ctx, owner, discovery.Filter{Token: filter.Token})
	case step == SelectDestinationAsset:
		out.Assets, err = s.deps.Holdings.ListNonFungible(ctx, escrowAddr, discovery.Filter{Collection: filter.Collection})
	default:
		var all *discovery.Eligible
		if all, err = s.deps.Holdings.ListEligible(ctx, owner, filter); all != nil {
			out = *all
		}
	}
	if err != nil {
		s.mu.Lock()
		n := Describe(err)
		s.notice = &n
		s.mu.Unlock()
		return nil, err
	}
	return &out, nil
}

// Close tears the session down. In-flight operations still settle on the
// ledger but their results are discarded.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.gen++
	s.pending = nil
	s.log.Debug("session closed")
}

// Snapshot returns the current view.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view()
}

func keyString(pk solana.PublicKey) string {
	if pk.IsZero() {
		return ""
	}
	return pk.String()
}

// view copies the session state. Callers hold mu.
func (s *Session) view() View {
	v := View{
		ID:               s.id,
		Step:             s.step,
		Steps:            Flow(s.direction),
		Direction:        s.direction,
		Collection:       keyString(s.collection),
		Token:            keyString(s.token),
		Escrow:           keyString(s.escrowAddr),
		SourceAsset:      keyString(s.source),
		SourceToken:      keyString(s.sourceToken),
		DestinationAsset: keyString(s.destination),
		Busy:             s.busy,
		Resolving:        s.pending != nil,
		Closed:           s.closed,
		Holdings:         s.holdings,
	}
	if !s.collection.IsZero() && !s.token.IsZero() {
		if p, err := s.params(); err == nil {
			_, v.Validated = s.cached(p)
		}
	}
	if s.notice != nil {
		n := *s.notice
		v.Notification = &n
	}
	if s.receipt != nil {
		r := *s.receipt
		v.LastReceipt = &r
	}
	return v
}
