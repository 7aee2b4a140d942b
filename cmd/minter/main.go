package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/weichain/gsol-minter/internal/api"
	"github.com/weichain/gsol-minter/internal/config"
	"github.com/weichain/gsol-minter/internal/deposit"
	"github.com/weichain/gsol-minter/internal/events"
	"github.com/weichain/gsol-minter/internal/ledger"
	"github.com/weichain/gsol-minter/internal/lifecycle"
	"github.com/weichain/gsol-minter/internal/logging"
	"github.com/weichain/gsol-minter/internal/principal"
	"github.com/weichain/gsol-minter/internal/scheduler"
	"github.com/weichain/gsol-minter/internal/signer"
	"github.com/weichain/gsol-minter/internal/solrpc"
	"github.com/weichain/gsol-minter/internal/state"
	"github.com/weichain/gsol-minter/internal/storage"
	"github.com/weichain/gsol-minter/internal/withdraw"
)

var version = "dev"

func main() {
	if len(os.Args) >= 2 && os.Args[1] == "version" {
		fmt.Printf("gsol-minter %s\n", version)
		return
	}

	if err := run(); err != nil {
		slog.Error("minter error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCloser, err := logging.Setup(cfg.LogLevel, cfg.LogDir)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer logCloser.Close()

	slog.Info("starting gsol minter",
		"version", version,
		"network", cfg.Network,
		"port", cfg.Port,
		"dbPath", cfg.DBPath,
	)

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()

	if err := store.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	mgr := state.NewManager(store, nil)
	if err := lifecycle.Boot(mgr, store, cfg); err != nil {
		return fmt.Errorf("failed to boot state: %w", err)
	}

	var network string
	mgr.MustRead(func(s *state.State) { network = s.Network.String() })
	slog.Info("state ready", "network", network)

	// Collaborators.
	oracle, err := signer.NewLocalSigner(cfg.EcdsaKeyName, cfg.MnemonicFile)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	ledgerID, err := principal.FromText(cfg.LedgerID)
	if err != nil {
		return fmt.Errorf("invalid ledger id: %w", err)
	}
	ledgerClient := ledger.NewHTTPClient(cfg.LedgerURL, ledgerID)

	self, err := principal.FromText(cfg.MinterAccountID)
	if err != nil {
		return fmt.Errorf("invalid minter account id: %w", err)
	}

	rpcClient := newRPCClient(cfg, mgr)

	pipeline := deposit.New(mgr, rpcClient, ledgerClient)
	withdrawSvc := withdraw.New(mgr, ledgerClient, oracle, self)

	// Scheduler: one immediate chain run, then periodic timers.
	sched := scheduler.New(scheduler.Tasks{
		GetLatestSignature:  pipeline.GetLatestSignature,
		ScanSignatureRanges: pipeline.ScanSignatureRanges,
		ScanSignatures:      pipeline.ScanSignatures,
		MintGSol:            pipeline.MintGSol,
	}, scheduler.DefaultIntervals())

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(runCtx)

	// HTTP API.
	router := api.NewRouter(cfg, mgr, withdrawSvc, store)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal or server failure.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown", "error", err)
	}

	cancel()
	sched.Stop()

	// Pin the cursor and counters for the next replay.
	if err := lifecycle.Shutdown(mgr); err != nil {
		slog.Warn("failed to record shutdown events", "error", err)
	}

	slog.Info("minter stopped")
	return nil
}

func newRPCClient(cfg *config.Config, mgr *state.Manager) *solrpc.Client {
	var network events.Network
	mgr.MustRead(func(s *state.State) { network = s.Network })

	override := cfg.RPCURLDevnet
	if network == events.NetworkMainnet {
		override = cfg.RPCURLMainnet
	}

	providers := solrpc.ProvidersForNetwork(network, override)
	limiter := solrpc.NewRateLimiter(providers[0].Name, cfg.RPCRateLimit)

	return solrpc.New(&http.Client{Timeout: 30 * time.Second}, providers, limiter, mgr.NextRequestID)
}
