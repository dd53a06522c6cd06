package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/dutchmarket/params"
	"github.com/uhyunpark/dutchmarket/pkg/abci"
	"github.com/uhyunpark/dutchmarket/pkg/api"
	"github.com/uhyunpark/dutchmarket/pkg/app/dutch"
	"github.com/uhyunpark/dutchmarket/pkg/crypto"
	"github.com/uhyunpark/dutchmarket/pkg/sequencer"
	"github.com/uhyunpark/dutchmarket/pkg/storage"
	"github.com/uhyunpark/dutchmarket/pkg/util"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "node:", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("") // "" means load from .env in current directory
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Node.LogFile, "level", cfg.Node.LogLevel)

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	wal, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "wal.log"))
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}
	defer wal.Close()

	// ---- App: DutchMarket venue ----
	domain := crypto.DefaultDomain()
	domain.ChainID = cfg.Venue.ChainID
	app := dutch.NewApp(dutch.Config{
		Operator:       cfg.Venue.Operator,
		PriceScale:     cfg.Venue.PriceScale,
		SelfTradeGuard: cfg.Venue.SelfTradeGuard,
		Domain:         domain,
	}, store, logger.Named("app"))

	restored, err := app.Restore()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	if restored {
		st := app.Status()
		sugar.Infow("state_restored", "height", st.Height, "app_hash", st.AppHash.Hex())
	} else {
		tok, err := app.InitChain(dutch.Genesis{
			Accounts:      cfg.Devnet.Accounts,
			NativeFunding: cfg.Devnet.NativeFunding,
			TokenFunding:  cfg.Devnet.TokenFunding,
			TokenSymbol:   cfg.Devnet.TokenSymbol,
		})
		if err != nil {
			return fmt.Errorf("genesis: %w", err)
		}
		sugar.Infow("genesis_applied", "accounts", len(cfg.Devnet.Accounts), "token", tok.Hex(), "symbol", cfg.Devnet.TokenSymbol)
	}

	// ---- Sequencer ----
	bridge := &abci.Bridge{App: app}
	engine := sequencer.NewEngine(sequencer.Config{
		MinBlockTime:    cfg.Node.MinBlockTime,
		SkipEmptyBlocks: cfg.Node.SkipEmptyBlocks,
		Proposer:        "sequencer-0",
	}, bridge, store, wal, util.RealClock{}, logger.Named("sequencer"))
	if err := engine.Resume(); err != nil {
		return fmt.Errorf("resume: %w", err)
	}
	sugar.Infow("block_time_config", "min_block_time_ms", cfg.Node.MinBlockTime.Milliseconds(), "skip_empty", cfg.Node.SkipEmptyBlocks)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- API Server ----
	apiServer := api.NewServer(app, cfg.API.AllowedOrigins, logger.Named("api"))

	// Hook app and sequencer to API server: broadcast updates on every block commit
	app.SetListeners(dutch.Listeners{
		OnFills: apiServer.BroadcastFills,
		OnPhase: apiServer.BroadcastPhase,
	})
	engine.Subscribe(apiServer.BroadcastBlock)

	errc := make(chan error, 2)
	go func() {
		errc <- apiServer.Start(ctx, cfg.API.Addr)
	}()
	go func() {
		errc <- engine.Run(ctx)
	}()

	sugar.Infow("node_starting",
		"head", uint64(engine.Head().Height),
		"operator", cfg.Venue.Operator.Hex(),
		"api_addr", cfg.API.Addr,
		"data_dir", cfg.Node.DataDir)

	select {
	case <-ctx.Done():
		sugar.Info("shutting_down")
		return nil
	case err := <-errc:
		if err != nil && ctx.Err() == nil {
			logger.Error("node_stopped", zap.Error(err))
			return err
		}
		return nil
	}
}
