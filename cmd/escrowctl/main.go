// Command escrowctl inspects and prepares escrows from the command line.
//
//	escrowctl derive  --collection C [--token T]
//	escrowctl inspect --collection C --token T
//	escrowctl ensure  --collection C --token T
//	escrowctl fund    --collection C --token T [--minimum 1.5 | --minimum-raw N]
//	escrowctl recheck --signature S
//
// Settings come from the environment and .env, as for the server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"hybrid-swap/internal/config"
	"hybrid-swap/internal/discovery"
	"hybrid-swap/internal/domain"
	"hybrid-swap/internal/escrow"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/logging"
	"hybrid-swap/internal/pda"
	solrpc "hybrid-swap/internal/solana"
	"hybrid-swap/internal/storage"
	"hybrid-swap/internal/storage/memory"
	pgstore "hybrid-swap/internal/storage/postgres"
	"hybrid-swap/internal/swaperr"
	"hybrid-swap/internal/wallet"
)

type command struct {
	cfg  *config.Config
	log  *zap.Logger
	out  *json.Encoder
	args struct {
		collection string
		token      string
		minimum    string
		minimumRaw uint64
		signature  string
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: escrowctl derive|inspect|ensure|fund|recheck [flags]")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	name := os.Args[1]

	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	c := &command{cfg: cfg, out: json.NewEncoder(os.Stdout)}
	c.out.SetIndent("", "  ")

	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfg.RegisterFlags(fs)
	fs.StringVar(&c.args.collection, "collection", "", "Collection address")
	fs.StringVar(&c.args.token, "token", "", "Settlement token mint")
	fs.StringVar(&c.args.minimum, "minimum", "", "Vault operating minimum in display units")
	fs.Uint64Var(&c.args.minimumRaw, "minimum-raw", 0, "Vault operating minimum in raw units")
	fs.StringVar(&c.args.signature, "signature", "", "Operation signature")
	_ = fs.Parse(os.Args[2:])

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}
	c.log, err = logging.New(zapcore.Lock(os.Stderr), logging.Options{
		Service: "escrowctl",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = c.log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		c.log.Info("received signal, shutting down", zap.Stringer("signal", sig))
		cancel()
	}()

	run := map[string]func(context.Context) error{
		"derive":  c.derive,
		"inspect": c.inspect,
		"ensure":  c.ensure,
		"fund":    c.fund,
		"recheck": c.recheck,
	}[name]
	if run == nil {
		usage()
	}
	if err := run(ctx); err != nil {
		c.fail(err)
	}
}

// fail prints err with its code and exits non-zero.
func (c *command) fail(err error) {
	if se, ok := swaperr.As(err); ok {
		c.log.Error(se.Message,
			zap.String("code", string(se.Code)),
			zap.Bool("retryable", swaperr.Retryable(se)),
			zap.Any("context", se.Context),
			zap.Error(se.Cause),
		)
	} else {
		c.log.Error("command failed", zap.Error(err))
	}
	_ = c.log.Sync()
	os.Exit(1)
}

func (c *command) deriver() (*pda.Deriver, error) {
	program, err := c.cfg.ProgramID()
	if err != nil {
		return nil, err
	}
	return pda.NewDeriver(program), nil
}

// key parses a required identifier flag.
func key(flagName, value string) (solana.PublicKey, error) {
	if value == "" {
		return solana.PublicKey{}, fmt.Errorf("--%s is required", flagName)
	}
	return pda.ParseIdentifier(value)
}

// stack wires the RPC ledger for the configured wallet.
type stack struct {
	rpc     *ledger.RPC
	ledger  ledger.Ledger
	deriver *pda.Deriver
	journal storage.OperationJournal
	close   func()
}

func (c *command) stack(ctx context.Context) (*stack, error) {
	if c.cfg.KeypairPath == "" {
		return nil, errors.New("--keypair is required")
	}
	agent, err := wallet.FromKeygenFile(c.cfg.KeypairPath)
	if err != nil {
		return nil, err
	}
	deriver, err := c.deriver()
	if err != nil {
		return nil, err
	}

	st := &stack{deriver: deriver, close: func() {}}
	if c.cfg.UseMemory {
		st.journal = memory.NewOperationJournal()
	} else {
		pool, err := pgstore.NewPool(ctx, c.cfg.PostgresDSN, pgstore.WithApplicationName("escrowctl"))
		if err != nil {
			return nil, err
		}
		st.journal = pgstore.NewOperationJournal(pool)
		st.close = pool.Close
	}

	client := solrpc.NewHTTPClient(c.cfg.RPCEndpoint,
		solrpc.WithCommitment(c.cfg.Commitment),
		solrpc.WithRateLimit(c.cfg.RPCRateLimit, int(c.cfg.RPCRateLimit)+1),
		solrpc.WithLogger(c.log),
	)
	st.rpc = ledger.NewRPC(client, nil, agent, ledger.RPCConfig{
		Commitment:       c.cfg.Commitment,
		ConfirmTimeout:   c.cfg.ConfirmTimeout,
		PollInterval:     c.cfg.PollInterval,
		ComputeUnitPrice: c.cfg.ComputeUnitPrice,
	}, c.log)
	st.ledger = ledger.NewJournaled(st.rpc, st.journal, nil, c.log)
	return st, nil
}

func (c *command) params(st *stack) (domain.EscrowParams, error) {
	collection, err := key("collection", c.args.collection)
	if err != nil {
		return domain.EscrowParams{}, err
	}
	token, err := key("token", c.args.token)
	if err != nil {
		return domain.EscrowParams{}, err
	}
	authority, err := c.cfg.AuthorityKey()
	if err != nil {
		return domain.EscrowParams{}, err
	}
	if authority.IsZero() {
		authority = st.ledger.Payer()
	}
	return c.cfg.Escrow.Params(collection, token, authority)
}

func (c *command) derive(context.Context) error {
	deriver, err := c.deriver()
	if err != nil {
		return err
	}
	collection, err := key("collection", c.args.collection)
	if err != nil {
		return err
	}
	addr, bump, err := deriver.EscrowAddress(collection)
	if err != nil {
		return err
	}
	out := map[string]any{
		"collection": collection.String(),
		"escrow":     addr.String(),
		"bump":       bump,
	}
	if c.args.token != "" {
		token, err := key("token", c.args.token)
		if err != nil {
			return err
		}
		vault, err := deriver.VaultAddress(addr, token)
		if err != nil {
			return err
		}
		out["vault"] = vault.String()
	}
	return c.out.Encode(out)
}

func (c *command) resolve(ctx context.Context, initialize bool) error {
	st, err := c.stack(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	p, err := c.params(st)
	if err != nil {
		return err
	}
	svc := escrow.NewConfigService(st.ledger, st.deriver, c.log)
	resolve := svc.Verify
	if initialize {
		resolve = svc.Ensure
	}
	res, err := resolve(ctx, p)
	if err != nil {
		return err
	}
	return c.out.Encode(res)
}

func (c *command) inspect(ctx context.Context) error { return c.resolve(ctx, false) }

func (c *command) ensure(ctx context.Context) error { return c.resolve(ctx, true) }

func (c *command) fund(ctx context.Context) error {
	st, err := c.stack(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	p, err := c.params(st)
	if err != nil {
		return err
	}
	res, err := escrow.NewConfigService(st.ledger, st.deriver, c.log).Verify(ctx, p)
	if err != nil {
		return err
	}

	minimum := c.args.minimumRaw
	switch {
	case c.args.minimum != "":
		tokens, err := discovery.New(st.ledger, c.log).ListFungible(ctx, st.ledger.Payer(), discovery.Filter{Token: p.SettlementToken})
		if err != nil {
			return err
		}
		if len(tokens) == 0 {
			return swaperr.New(swaperr.InsufficientBalance, "the wallet holds none of the settlement token", nil)
		}
		minimum, err = domain.ParseDisplay(c.args.minimum, tokens[0].Decimals)
		if err != nil {
			return swaperr.New(swaperr.InvalidAmount, "minimum "+c.args.minimum, err)
		}
	case minimum == 0:
		minimum = res.Record.ExchangeRate
	}

	funded, err := escrow.NewFundingService(st.ledger, st.deriver, nil, c.log).
		EnsureFunded(ctx, res.Record.EscrowAddress, p.SettlementToken, minimum)
	if err != nil {
		return err
	}
	return c.out.Encode(funded)
}

func (c *command) recheck(ctx context.Context) error {
	if c.args.signature == "" {
		return errors.New("--signature is required")
	}
	st, err := c.stack(ctx)
	if err != nil {
		return err
	}
	defer st.close()

	rec, err := ledger.NewRechecker(st.journal, st.rpc, c.log).Recheck(ctx, c.args.signature)
	if errors.Is(err, storage.ErrNotFound) {
		// Not journaled here; report what the chain knows.
		sig, perr := solana.SignatureFromBase58(c.args.signature)
		if perr != nil {
			return swaperr.New(swaperr.InvalidIdentifier, "signature "+c.args.signature, perr)
		}
		state, err := st.rpc.SignatureStatus(ctx, sig)
		if err != nil {
			return err
		}
		return c.out.Encode(state)
	}
	if err != nil {
		return err
	}
	return c.out.Encode(rec)
}
