package config

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	RPCURL     string
	PrivateKey string
	PGDSN      string

	SettlementToken  string
	Router           string
	Coordinator      string
	KeyHash          string
	SubscriptionID   uint64
	CallbackGasLimit uint32

	FeeRatePercent uint64
	SlippageBps    uint64
	SwapDeadline   time.Duration

	EventsOut         string
	Checkpoint        string
	CheckpointEnabled bool
	FromBlock         uint64
	BatchSize         uint64
	PollInterval      time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAKEPOOL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("fee-rate-percent", uint64(1))
	v.SetDefault("slippage-bps", uint64(50))
	v.SetDefault("swap-deadline", 300*time.Second)
	v.SetDefault("events-out", "./data/events.jsonl")
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("poll-interval", 10*time.Second)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:            v.GetString("rpc"),
		PrivateKey:        v.GetString("private-key"),
		PGDSN:             v.GetString("pg-dsn"),
		SettlementToken:   v.GetString("settlement-token"),
		Router:            v.GetString("router"),
		Coordinator:       v.GetString("coordinator"),
		KeyHash:           v.GetString("key-hash"),
		SubscriptionID:    v.GetUint64("subscription-id"),
		CallbackGasLimit:  uint32(v.GetUint64("callback-gas-limit")),
		FeeRatePercent:    v.GetUint64("fee-rate-percent"),
		SlippageBps:       v.GetUint64("slippage-bps"),
		SwapDeadline:      v.GetDuration("swap-deadline"),
		EventsOut:         v.GetString("events-out"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		FromBlock:         v.GetUint64("from-block"),
		BatchSize:         v.GetUint64("batch-size"),
		PollInterval:      v.GetDuration("poll-interval"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		LogLevel:          v.GetString("log-level"),
	}

	if cfg.FeeRatePercent > 100 {
		return Config{}, fmt.Errorf("fee-rate-percent must be <= 100")
	}
	if cfg.SlippageBps >= 10000 {
		return Config{}, fmt.Errorf("slippage-bps must be < 10000")
	}
	if raw := v.GetUint64("callback-gas-limit"); raw > math.MaxUint32 {
		return Config{}, fmt.Errorf("callback-gas-limit must be <= %d", uint64(math.MaxUint32))
	}

	return cfg, nil
}
