package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakepool/internal/allowlist"
	"stakepool/internal/chain"
	"stakepool/internal/config"
	"stakepool/internal/engine"
	"stakepool/internal/exchange"
	"stakepool/internal/ledger"
	"stakepool/internal/randomness"
	"stakepool/internal/storage"
	"stakepool/internal/storage/postgres"
	"stakepool/internal/valuation"
	"stakepool/internal/watcher"
)

// app wires the engine and its adapters from configuration. Every command
// hydrates state from Postgres, performs one operation, and exits; `watch`
// stays up.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	chain  *chain.Client
	store  *postgres.Store
	allow  *allowlist.Allowlist
	eng    *engine.Engine
	val    *valuation.Client
	admin  common.Address
}

func buildApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("private key is required")
	}
	if cfg.PGDSN == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	for name, value := range map[string]string{
		"settlement-token": cfg.SettlementToken,
		"router":           cfg.Router,
		"coordinator":      cfg.Coordinator,
	} {
		if !common.IsHexAddress(value) {
			return nil, fmt.Errorf("%s must be a hex address, got %q", name, value)
		}
	}

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}

	chainID, err := chainClient.GetChainID(ctx)
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("get chain id: %w", err)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	opts, err := bind.NewKeyedTransactorWithChainID(key, chainID)
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("build transactor: %w", err)
	}
	admin := crypto.PubkeyToAddress(key.PublicKey)

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		chainClient.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		chainClient.Close()
		return nil, err
	}

	lgr := ledger.NewERC20(chainClient, opts, logger)

	allow := allowlist.New(admin)
	assets, err := store.LoadAssets(ctx)
	if err != nil {
		store.Close()
		chainClient.Close()
		return nil, fmt.Errorf("load assets: %w", err)
	}
	if err := allow.Restore(assets); err != nil {
		store.Close()
		chainClient.Close()
		return nil, err
	}

	settlementToken := common.HexToAddress(cfg.SettlementToken)
	coordinatorAddr := common.HexToAddress(cfg.Coordinator)

	router := exchange.NewV2Router(chainClient, opts, common.HexToAddress(cfg.Router), logger)
	adapter := exchange.NewAdapter(exchange.Config{
		SettlementToken: settlementToken,
		Custody:         admin,
		SlippageBps:     cfg.SlippageBps,
		DeadlineOffset:  cfg.SwapDeadline,
	}, router, lgr, logger)

	coordinator := randomness.NewCoordinator(chainClient, opts, randomness.CoordinatorConfig{
		Address:          coordinatorAddr,
		KeyHash:          common.HexToHash(cfg.KeyHash),
		SubscriptionID:   cfg.SubscriptionID,
		CallbackGasLimit: cfg.CallbackGasLimit,
	}, logger)
	manager := randomness.NewManager(coordinator)

	requests, err := store.LoadRequests(ctx)
	if err != nil {
		store.Close()
		chainClient.Close()
		return nil, fmt.Errorf("load requests: %w", err)
	}
	if err := manager.Restore(requests); err != nil {
		store.Close()
		chainClient.Close()
		return nil, err
	}

	sink := storage.MultiSink{storage.NewJsonlSink(cfg.EventsOut), store}

	eng, err := engine.New(engine.Config{
		Custody:         admin,
		SettlementToken: settlementToken,
		Coordinator:     coordinatorAddr,
		FeeRatePercent:  cfg.FeeRatePercent,
	}, engine.Dependencies{
		Allowlist:  allow,
		Ledger:     lgr,
		Exchange:   adapter,
		Randomness: manager,
		Sink:       sink,
		Store:      store,
	}, logger)
	if err != nil {
		store.Close()
		chainClient.Close()
		return nil, err
	}

	pools, err := store.LoadPools(ctx)
	if err != nil {
		store.Close()
		chainClient.Close()
		return nil, fmt.Errorf("load pools: %w", err)
	}
	if err := eng.Restore(pools); err != nil {
		store.Close()
		chainClient.Close()
		return nil, err
	}

	val := valuation.NewClient(allow, lgr, valuation.NewFeedOpener(chainClient), logger)

	return &app{
		cfg:    cfg,
		logger: logger,
		chain:  chainClient,
		store:  store,
		allow:  allow,
		eng:    eng,
		val:    val,
		admin:  admin,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.chain != nil {
		a.chain.Close()
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func (a *app) newWatcher() *watcher.Watcher {
	var checkpoint watcher.Checkpoint
	if a.cfg.CheckpointEnabled {
		if a.store != nil {
			checkpoint = &pgCheckpoint{store: a.store, name: "fulfillment_watcher"}
		} else {
			checkpoint = &watcher.FileCheckpoint{Path: a.cfg.Checkpoint}
		}
	}
	return watcher.New(watcher.Config{
		Coordinator:  common.HexToAddress(a.cfg.Coordinator),
		FromBlock:    a.cfg.FromBlock,
		BatchSize:    a.cfg.BatchSize,
		PollInterval: a.cfg.PollInterval,
		MaxRetries:   a.cfg.MaxRetries,
		RetryBackoff: a.cfg.RetryBackoff,
	}, a.chain, a.eng, checkpoint, a.logger)
}

// pgCheckpoint keeps the watcher scan position in the service_state table.
type pgCheckpoint struct {
	store *postgres.Store
	name  string
}

func (c *pgCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadState(ctx, c.name)
}

func (c *pgCheckpoint) Save(ctx context.Context, block uint64) error {
	return c.store.SaveState(ctx, c.name, block)
}
