package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/hybrid"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/ledger/memledger"
	"hybrid-swap/internal/pda"
	"hybrid-swap/internal/swaperr"
)

type env struct {
	chain      *memledger.Ledger
	deriver    *pda.Deriver
	authority  solana.PublicKey
	collection solana.PublicKey
	token      solana.PublicKey
	escrow     solana.PublicKey
	params     domain.EscrowParams
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		chain:      memledger.New(),
		deriver:    pda.NewDeriver(hybrid.ProgramID),
		authority:  solana.NewWallet().PublicKey(),
		collection: solana.NewWallet().PublicKey(),
		token:      solana.NewWallet().PublicKey(),
	}
	addr, _, err := e.deriver.EscrowAddress(e.collection)
	require.NoError(t, err)
	e.escrow = addr

	e.chain.AddMint(e.token, 6, "LAMBO")
	e.chain.AddCollection(memledger.Collection{ID: e.collection, Authority: e.authority, EscrowDelegated: true})

	e.params, err = DefaultInitDefaults().Params(e.collection, e.token, e.authority)
	require.NoError(t, err)
	return e
}

// recorder collects observed states.
type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) observe(_ solana.PublicKey, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (e *env) config(as solana.PublicKey, rec *recorder) *ConfigService {
	var opts []ConfigOption
	if rec != nil {
		opts = append(opts, WithObserver(rec.observe))
	}
	return NewConfigService(e.chain.Client(as), e.deriver, nil, opts...)
}

func TestEnsure_InitializesMissingEscrow(t *testing.T) {
	e := newEnv(t)
	rec := &recorder{}

	res, err := e.config(e.authority, rec).Ensure(context.Background(), e.params)
	require.NoError(t, err)
	assert.Equal(t, StateValid, res.State)
	assert.True(t, res.Initialized)
	assert.NotEmpty(t, res.Signature)
	assert.Equal(t, e.escrow, res.Record.EscrowAddress)
	assert.Equal(t, "Moonlambo "+e.authority.String()[:8], res.Record.Name)
	assert.Equal(t, "https://base-uri/", res.Record.MetadataBaseURI)
	assert.Equal(t, domain.IndexRange{Min: 0, Max: 15}, res.Record.IndexRange)
	assert.True(t, res.Record.RerollEnabled)

	vault, _, err := solana.FindAssociatedTokenAddress(e.escrow, e.token)
	require.NoError(t, err)
	assert.Equal(t, vault, res.Vault)
	assert.Equal(t, []State{StateValidating, StateInitializing, StateValid}, rec.states)
}

func TestEnsure_Idempotent(t *testing.T) {
	e := newEnv(t)
	svc := e.config(e.authority, nil)
	ctx := context.Background()

	_, err := svc.Ensure(ctx, e.params)
	require.NoError(t, err)
	before := len(e.chain.Submitted())

	rec := &recorder{}
	res, err := e.config(e.authority, rec).Ensure(ctx, e.params)
	require.NoError(t, err)
	assert.False(t, res.Initialized)
	assert.Equal(t, before, len(e.chain.Submitted()), "an existing escrow is never re-created")
	assert.Equal(t, []State{StateValidating, StateValid}, rec.states)
}

func TestEnsure_ValidatesForAnyCaller(t *testing.T) {
	e := newEnv(t)
	_, err := e.config(e.authority, nil).Ensure(context.Background(), e.params)
	require.NoError(t, err)

	res, err := e.config(solana.NewWallet().PublicKey(), nil).Ensure(context.Background(), e.params)
	require.NoError(t, err)
	assert.Equal(t, StateValid, res.State)
}

func TestEnsure_Mismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *domain.EscrowParams)
		field  string
	}{
		{"settlement token", func(p *domain.EscrowParams) { p.SettlementToken = solana.NewWallet().PublicKey() }, "settlement_token"},
		{"authority", func(p *domain.EscrowParams) { p.Authority = solana.NewWallet().PublicKey() }, "authority"},
		{"exchange rate", func(p *domain.EscrowParams) { p.ExchangeRate++ }, "exchange_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			_, err := e.config(e.authority, nil).Ensure(context.Background(), e.params)
			require.NoError(t, err)
			submitted := len(e.chain.Submitted())

			expected := e.params
			tt.mutate(&expected)
			rec := &recorder{}
			_, err = e.config(e.authority, rec).Ensure(context.Background(), expected)

			se, ok := swaperr.As(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, swaperr.ConfigurationMismatch, se.Code)
			assert.Equal(t, swaperr.Precondition, se.Kind)
			assert.False(t, se.Retryable())
			assert.Contains(t, se.Context, tt.field)
			assert.Equal(t, StateMismatched, rec.states[len(rec.states)-1])
			assert.Equal(t, submitted, len(e.chain.Submitted()), "a mismatch never submits anything")
		})
	}
}

func TestEnsure_ForeignAccountAtAddress(t *testing.T) {
	tests := []struct {
		name  string
		owner solana.PublicKey
		data  []byte
	}{
		{"foreign owner", solana.TokenProgramID, make([]byte, 165)},
		{"not an escrow", hybrid.ProgramID, []byte{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.chain.PutAccount(e.escrow, tt.owner, tt.data)

			_, err := e.config(e.authority, nil).Ensure(context.Background(), e.params)
			assert.True(t, swaperr.Is(err, swaperr.ConfigurationMismatch), "got %v", err)
			assert.Empty(t, e.chain.Submitted())
		})
	}
}

func TestEnsure_FetchErrorIsRetryable(t *testing.T) {
	e := newEnv(t)
	e.chain.Fail(memledger.FaultFetch, errors.New("connection refused"))
	rec := &recorder{}

	_, err := e.config(e.authority, rec).Ensure(context.Background(), e.params)
	assert.True(t, swaperr.Is(err, swaperr.ConfigurationFetchFailed))
	assert.True(t, swaperr.Retryable(err))
	assert.Equal(t, []State{StateValidating, StateFetchError}, rec.states)
	assert.Empty(t, e.chain.Submitted())
}

func TestEnsure_OnlyAuthorityInitializes(t *testing.T) {
	e := newEnv(t)

	_, err := e.config(solana.NewWallet().PublicKey(), nil).Ensure(context.Background(), e.params)
	se, ok := swaperr.As(err)
	require.True(t, ok)
	assert.Equal(t, swaperr.AuthorityMismatch, se.Code)
	assert.Equal(t, swaperr.Administrative, se.Kind)
	assert.Empty(t, e.chain.Submitted())
}

func TestEnsure_InitializationTimeout(t *testing.T) {
	e := newEnv(t)
	e.chain.TimeoutConfirmations(true)

	_, err := e.config(e.authority, nil).Ensure(context.Background(), e.params)
	se, ok := swaperr.As(err)
	require.True(t, ok)
	assert.Equal(t, swaperr.ConfirmationTimedOut, se.Code)
	assert.NotEmpty(t, se.Context["signature"])
}

func TestEnsure_ConcurrentInitialization(t *testing.T) {
	e := newEnv(t)
	svc := e.config(e.authority, nil)

	// Another party created the escrow between our fetch and submit.
	ix, err := hybrid.InitEscrow(e.escrow, e.authority, e.collection, e.token, e.authority, hybrid.ArgsFromParams(e.params))
	require.NoError(t, err)
	_, err = e.chain.Client(e.authority).Submit(context.Background(), ledger.Operation{Instructions: []solana.Instruction{ix}})
	require.NoError(t, err)

	res, err := svc.initialize(context.Background(), e.escrow, e.params, svc.log)
	require.NoError(t, err)
	assert.Equal(t, StateValid, res.State)
	assert.False(t, res.Initialized)
}

func TestVerify(t *testing.T) {
	e := newEnv(t)
	svc := e.config(e.authority, nil)

	_, err := svc.Verify(context.Background(), e.params)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.True(t, swaperr.Is(err, swaperr.ConfigurationFetchFailed))
	assert.Empty(t, e.chain.Submitted(), "verify never initializes")

	_, err = svc.Ensure(context.Background(), e.params)
	require.NoError(t, err)
	res, err := svc.Verify(context.Background(), e.params)
	require.NoError(t, err)
	assert.Equal(t, StateValid, res.State)
}

func TestSubmissionError_CallerDeadline(t *testing.T) {
	sig := solana.Signature{7}

	err := submissionError(swaperr.InitializationFailed, "escrow initialization", sig, context.DeadlineExceeded)
	se, ok := swaperr.As(err)
	require.True(t, ok)
	assert.Equal(t, swaperr.ConfirmationTimedOut, se.Code)
	assert.Equal(t, sig.String(), se.Context["signature"])

	err = submissionError(swaperr.InitializationFailed, "escrow initialization", solana.Signature{}, context.DeadlineExceeded)
	assert.True(t, swaperr.Is(err, swaperr.InitializationFailed))

	err = submissionError(swaperr.FundingFailed, "vault funding", sig, errors.New("boom"))
	assert.True(t, swaperr.Is(err, swaperr.FundingFailed))
}
