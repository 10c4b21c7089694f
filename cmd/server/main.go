// Package main runs the swap service: the HTTP API over escrow resolution,
// vault funding, swap execution and guided swap sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"hybrid-swap/internal/config"
	"hybrid-swap/internal/discovery"
	"hybrid-swap/internal/escrow"
	"hybrid-swap/internal/httpapi"
	"hybrid-swap/internal/ledger"
	"hybrid-swap/internal/logging"
	"hybrid-swap/internal/metadata"
	"hybrid-swap/internal/observability"
	"hybrid-swap/internal/pda"
	solrpc "hybrid-swap/internal/solana"
	"hybrid-swap/internal/storage"
	chstore "hybrid-swap/internal/storage/clickhouse"
	"hybrid-swap/internal/storage/memory"
	"hybrid-swap/internal/storage/migrations"
	pgstore "hybrid-swap/internal/storage/postgres"
	"hybrid-swap/internal/swap"
	"hybrid-swap/internal/wallet"
	"hybrid-swap/internal/wizard"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(2)
	}

	log, err := logging.Setup(logging.Options{
		Service: "hybrid-swap",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.KeypairPath == "" {
		return errors.New("--keypair is required")
	}
	agent, err := wallet.FromKeygenFile(cfg.KeypairPath)
	if err != nil {
		return err
	}
	program, err := cfg.ProgramID()
	if err != nil {
		return err
	}
	authority, err := cfg.AuthorityKey()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	stores, cleanup, err := createStores(ctx, cfg, metrics, log)
	if err != nil {
		return fmt.Errorf("create stores: %w", err)
	}
	defer cleanup()

	client := solrpc.NewHTTPClient(cfg.RPCEndpoint,
		solrpc.WithCommitment(cfg.Commitment),
		solrpc.WithRateLimit(cfg.RPCRateLimit, int(cfg.RPCRateLimit)+1),
		solrpc.WithLogger(log),
		solrpc.WithObserver(metrics.RecordRPC),
	)
	var ws solrpc.WSClient
	if cfg.WSEndpoint != "" {
		wsCfg := solrpc.DefaultWSConfig()
		wsc, err := solrpc.NewWSClient(ctx, cfg.WSEndpoint, &wsCfg, log)
		if err != nil {
			// Confirmation falls back to polling.
			log.Warn("websocket unavailable", zap.String("endpoint", cfg.WSEndpoint), zap.Error(err))
		} else {
			defer wsc.Close()
			ws = wsc
		}
	}

	rpc := ledger.NewRPC(client, ws, agent, ledger.RPCConfig{
		Commitment:       cfg.Commitment,
		ConfirmTimeout:   cfg.ConfirmTimeout,
		PollInterval:     cfg.PollInterval,
		ComputeUnitPrice: cfg.ComputeUnitPrice,
	}, log)
	l := ledger.NewJournaled(rpc, stores.journal, metrics, log)

	deriver := pda.NewDeriver(program)
	names := metadata.NewFetcher(&http.Client{Timeout: cfg.MetadataTimeout}, log)
	holdings := discovery.New(l, log, discovery.WithNamer(names))
	resolver := escrow.NewConfigService(l, deriver, log, escrow.WithMetrics(metrics))
	funder := escrow.NewFundingService(l, deriver, metrics, log)
	executor := swap.NewExecutor(l, holdings, deriver, stores.events, metrics, log)
	coordinator := swap.NewCoordinator(resolver, funder, executor, cfg.OperatingMinimum, log)

	owner := agent.PublicKey()
	sessions := wizard.NewManager(ctx, wizard.Deps{
		Owner:             owner,
		Authority:         authority,
		Defaults:          cfg.Escrow,
		Deriver:           deriver,
		Resolver:          resolver,
		Holdings:          holdings,
		Swapper:           coordinator,
		PreResolveTimeout: cfg.PreResolveTimeout,
	}, metrics, log)
	defer sessions.CloseAll()

	api := httpapi.New(httpapi.Deps{
		Owner:      owner,
		Authority:  authority,
		Defaults:   cfg.Escrow,
		Deriver:    deriver,
		Resolver:   resolver,
		Funder:     funder,
		Holdings:   holdings,
		Swapper:    coordinator,
		Sessions:   sessions,
		Operations: ledger.NewRechecker(stores.journal, rpc, log),
		Metrics:    metrics,
		Log:        log,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownDone := make(chan error, 1)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("received signal, initiating graceful shutdown", zap.Stringer("signal", sig))
		case <-ctx.Done():
		}
		cancel()

		go func() {
			sig := <-sigCh
			log.Error("received second signal, forcing immediate shutdown", zap.Stringer("signal", sig))
			os.Exit(1)
		}()

		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stop()
		shutdownDone <- srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving",
		zap.String("addr", cfg.HTTPAddr),
		zap.Stringer("wallet", owner),
		zap.Stringer("program", program),
		zap.String("commitment", cfg.Commitment),
		zap.Bool("websocket", ws != nil),
	)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownDone; err != nil {
		return fmt.Errorf("graceful shutdown did not finish in %s: %w", cfg.ShutdownTimeout, err)
	}
	return nil
}

type storeSet struct {
	journal storage.OperationJournal
	events  storage.SettlementEventStore
}

// createStores opens PostgreSQL for the operation journal and, when
// configured, ClickHouse for settlement events. Memory storage replaces both.
func createStores(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, log *zap.Logger) (*storeSet, func(), error) {
	if cfg.UseMemory {
		log.Info("using in-memory storage")
		return &storeSet{
			journal: memory.NewOperationJournal(),
			events:  memory.NewSettlementEventStore(),
		}, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, pgstore.WithApplicationName("hybrid-swap"))
	if err != nil {
		return nil, nil, err
	}
	if err := migrations.Postgres(ctx, pool, log); err != nil {
		pool.Close()
		return nil, nil, err
	}
	s := &storeSet{
		journal: storage.ObserveJournal(pgstore.NewOperationJournal(pool), "postgres", metrics.RecordDBQuery),
	}
	closers := []func(){pool.Close}

	if cfg.ClickHouseDSN == "" {
		log.Info("clickhouse not configured, settlement events kept in memory")
		s.events = memory.NewSettlementEventStore()
	} else {
		conn, err := migrations.ClickHouse(ctx, cfg.ClickHouseDSN, log)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		s.events = storage.ObserveEvents(chstore.NewSettlementEventStore(conn), "clickhouse", metrics.RecordDBQuery)
		closers = append(closers, func() { _ = conn.Close() })
	}

	return s, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}, nil
}
