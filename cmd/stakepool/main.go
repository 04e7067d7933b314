package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"stakepool/internal/model"
)

func main() {
	root := &cobra.Command{
		Use:          "stakepool",
		Short:        "Staked-pool lifecycle and settlement service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	assetsCmd := &cobra.Command{
		Use:   "assets",
		Short: "Administer the supported-asset allowlist",
	}

	assetsAddCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a supported asset with its price oracle",
		RunE:  runAssetsAdd,
	}
	addServiceFlags(assetsAddCmd)
	assetsAddCmd.Flags().String("asset", "", "asset token address")
	assetsAddCmd.Flags().String("oracle", "", "price oracle address")

	assetsRemoveCmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a supported asset",
		RunE:  runAssetsRemove,
	}
	addServiceFlags(assetsRemoveCmd)
	assetsRemoveCmd.Flags().String("asset", "", "asset token address")

	assetsCmd.AddCommand(assetsAddCmd, assetsRemoveCmd)
	root.AddCommand(assetsCmd)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a pool",
		RunE:  runCreate,
	}
	addServiceFlags(createCmd)
	createCmd.Flags().String("asset", "", "asset token address")
	createCmd.Flags().String("stake", "", "per-participant stake in base units")
	createCmd.Flags().Uint64("duration", 0, "pool duration in seconds")
	root.AddCommand(createCmd)

	joinCmd := &cobra.Command{
		Use:   "join",
		Short: "Join a pool with the configured identity",
		RunE:  runJoin,
	}
	addServiceFlags(joinCmd)
	joinCmd.Flags().Uint64("pool", 0, "pool id")
	root.AddCommand(joinCmd)

	closeCmd := &cobra.Command{
		Use:   "close",
		Short: "Liquidate an expired pool into settlement currency",
		RunE:  runClose,
	}
	addServiceFlags(closeCmd)
	closeCmd.Flags().Uint64("pool", 0, "pool id")
	root.AddCommand(closeCmd)

	requestCmd := &cobra.Command{
		Use:   "request",
		Short: "Request randomized winner selection for a closed pool",
		RunE:  runRequest,
	}
	addServiceFlags(requestCmd)
	requestCmd.Flags().Uint64("pool", 0, "pool id")
	root.AddCommand(requestCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Watch for randomness fulfillments and settle winners",
		RunE:  runWatch,
	}
	addServiceFlags(watchCmd)
	root.AddCommand(watchCmd)

	poolsCmd := &cobra.Command{
		Use:   "pools",
		Short: "List pool snapshots",
		RunE:  runPools,
	}
	addServiceFlags(poolsCmd)
	root.AddCommand(poolsCmd)

	valueCmd := &cobra.Command{
		Use:   "value",
		Short: "Value a token amount in settlement currency (informational)",
		RunE:  runValue,
	}
	addServiceFlags(valueCmd)
	valueCmd.Flags().String("asset", "", "asset token address")
	valueCmd.Flags().String("amount", "", "token amount in base units")
	root.AddCommand(valueCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addServiceFlags(cmd *cobra.Command) {
	cmd.Flags().String("rpc", "", "chain RPC URL")
	cmd.Flags().String("private-key", "", "hex private key of the operator identity")
	cmd.Flags().String("pg-dsn", "", "Postgres DSN")
	cmd.Flags().String("settlement-token", "", "settlement token address")
	cmd.Flags().String("router", "", "swap router address")
	cmd.Flags().String("coordinator", "", "randomness coordinator address")
	cmd.Flags().String("key-hash", "", "randomness key hash")
	cmd.Flags().Uint64("subscription-id", 0, "randomness subscription id")
	cmd.Flags().Uint64("callback-gas-limit", 0, "randomness callback gas limit")
	cmd.Flags().Uint64("fee-rate-percent", 1, "settlement fee rate percent")
	cmd.Flags().Uint64("slippage-bps", 50, "liquidation slippage tolerance in bps")
	cmd.Flags().Duration("swap-deadline", 300*time.Second, "liquidation deadline window")
	cmd.Flags().String("events-out", "./data/events.jsonl", "lifecycle events JSONL path")
	cmd.Flags().String("checkpoint", "./data/checkpoint.json", "watcher checkpoint file path")
	cmd.Flags().Bool("checkpoint-enabled", true, "enable watcher checkpointing")
	cmd.Flags().Uint64("from-block", 0, "first block to scan for fulfillments")
	cmd.Flags().Uint64("batch-size", 2000, "blocks per fulfillment scan batch")
	cmd.Flags().Duration("poll-interval", 10*time.Second, "fulfillment poll interval")
	cmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	cmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func runAssetsAdd(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	asset, oracle, err := addressFlags(cmd, "asset", "oracle")
	if err != nil {
		return err
	}

	if err := a.allow.Add(a.admin, asset, oracle); err != nil {
		return err
	}
	if err := a.store.UpsertAsset(ctx, model.AssetEntry{Asset: asset.Hex(), Oracle: oracle.Hex()}); err != nil {
		return fmt.Errorf("persist asset: %w", err)
	}

	a.logger.Info("asset added", zap.String("asset", asset.Hex()), zap.String("oracle", oracle.Hex()))
	return nil
}

func runAssetsRemove(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	asset, err := addressFlag(cmd, "asset")
	if err != nil {
		return err
	}

	if err := a.allow.Remove(a.admin, asset); err != nil {
		return err
	}
	if err := a.store.DeleteAsset(ctx, asset.Hex()); err != nil {
		return fmt.Errorf("remove asset: %w", err)
	}

	a.logger.Info("asset removed", zap.String("asset", asset.Hex()))
	return nil
}

func runCreate(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	asset, err := addressFlag(cmd, "asset")
	if err != nil {
		return err
	}
	stake, err := amountFlag(cmd, "stake")
	if err != nil {
		return err
	}
	duration, _ := cmd.Flags().GetUint64("duration")

	id, err := a.eng.Create(ctx, a.admin, asset, stake, duration)
	if err != nil {
		return err
	}

	fmt.Printf("pool %d created\n", id)
	return nil
}

func runJoin(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	poolID, _ := cmd.Flags().GetUint64("pool")
	if err := a.eng.Join(ctx, a.admin, poolID); err != nil {
		return err
	}

	fmt.Printf("joined pool %d\n", poolID)
	return nil
}

func runClose(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	poolID, _ := cmd.Flags().GetUint64("pool")
	if err := a.eng.Close(ctx, a.admin, poolID); err != nil {
		return err
	}

	pool, err := a.eng.Pool(poolID)
	if err != nil {
		return err
	}
	fmt.Printf("pool %d closed, settlement value %s\n", poolID, pool.SettlementValue)
	return nil
}

func runRequest(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	poolID, _ := cmd.Flags().GetUint64("pool")
	requestID, err := a.eng.RequestWinner(ctx, a.admin, poolID)
	if err != nil {
		return err
	}

	fmt.Printf("winner requested for pool %d, request id %s\n", poolID, requestID.String())
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("fulfillment watcher start",
		zap.String("coordinator", a.cfg.Coordinator),
		zap.Uint64("from_block", a.cfg.FromBlock),
		zap.Uint64("batch_size", a.cfg.BatchSize),
		zap.Duration("poll_interval", a.cfg.PollInterval),
	)

	return a.newWatcher().Run(ctx)
}

func runPools(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := json.MarshalIndent(a.eng.Pools(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func runValue(cmd *cobra.Command, _ []string) error {
	ctx, stop := serviceContext()
	defer stop()

	a, err := buildApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	asset, err := addressFlag(cmd, "asset")
	if err != nil {
		return err
	}
	amount, err := amountFlag(cmd, "amount")
	if err != nil {
		return err
	}

	value, err := a.val.ValueOf(ctx, asset, amount)
	if err != nil {
		return err
	}

	fmt.Printf("%s\n", value.String())
	return nil
}

func serviceContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func addressFlag(cmd *cobra.Command, name string) (common.Address, error) {
	value, _ := cmd.Flags().GetString(name)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("--%s must be a hex address, got %q", name, value)
	}
	return common.HexToAddress(value), nil
}

func addressFlags(cmd *cobra.Command, first, second string) (common.Address, common.Address, error) {
	a, err := addressFlag(cmd, first)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	b, err := addressFlag(cmd, second)
	if err != nil {
		return common.Address{}, common.Address{}, err
	}
	return a, b, nil
}

func amountFlag(cmd *cobra.Command, name string) (*big.Int, error) {
	value, _ := cmd.Flags().GetString(name)
	amount, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("--%s must be a decimal integer, got %q", name, value)
	}
	return amount, nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
