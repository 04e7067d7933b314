package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"stakepool/internal/engine"
	"stakepool/internal/randomness"
)

// ChainSource is the slice of the chain client the watcher needs.
type ChainSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
}

// Resolver consumes randomness fulfillments. fulfilledAt is the timestamp of
// the block carrying the fulfillment, zero when it could not be read.
type Resolver interface {
	Resolve(ctx context.Context, caller common.Address, requestID, randomWord *big.Int, fulfilledAt uint64) (common.Address, error)
}

// Config holds runtime settings for the fulfillment watcher.
type Config struct {
	Coordinator  common.Address
	FromBlock    uint64
	BatchSize    uint64
	PollInterval time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
}

// Watcher polls the coordinator's fulfillment logs and drives winner
// settlement through the resolver. The checkpoint only advances past a block
// range once every fulfillment in it has either settled or been rejected as a
// duplicate, so a failed payout is retried on the next poll.
type Watcher struct {
	cfg        Config
	chain      ChainSource
	resolver   Resolver
	checkpoint Checkpoint
	logger     *zap.Logger
}

// New builds a Watcher with its dependencies.
func New(cfg Config, chain ChainSource, resolver Resolver, checkpoint Checkpoint, logger *zap.Logger) *Watcher {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 2000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		cfg:        cfg,
		chain:      chain,
		resolver:   resolver,
		checkpoint: checkpoint,
		logger:     logger,
	}
}

// Run executes the polling loop until the context is done.
func (w *Watcher) Run(ctx context.Context) error {
	if w.chain == nil {
		return fmt.Errorf("chain source is nil")
	}
	if w.resolver == nil {
		return fmt.Errorf("resolver is nil")
	}
	if w.cfg.Coordinator == (common.Address{}) {
		return fmt.Errorf("coordinator address is required")
	}

	topic, err := randomness.FulfilledTopic()
	if err != nil {
		return err
	}

	from := w.cfg.FromBlock
	if w.checkpoint != nil {
		last, ok, err := w.checkpoint.Load(ctx)
		if err != nil {
			return err
		}
		if ok && last >= from {
			from = last + 1
			w.logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
		}
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		next, err := w.scan(ctx, from, topic)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Warn("scan failed", zap.Uint64("from", from), zap.Error(err))
		} else {
			from = next
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// scan processes fulfillments from `from` up to the chain head and returns the
// next block to scan.
func (w *Watcher) scan(ctx context.Context, from uint64, topic common.Hash) (uint64, error) {
	var latest uint64
	err := withRetry(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
		var err error
		latest, err = w.chain.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return from, fmt.Errorf("get latest block: %w", err)
	}

	for from <= latest {
		to := from + w.cfg.BatchSize - 1
		if to > latest {
			to = latest
		}

		var logs []types.Log
		err := withRetry(ctx, w.cfg.MaxRetries, w.cfg.RetryBackoff, func(ctx context.Context) error {
			var err error
			logs, err = w.chain.FilterLogs(ctx, from, to, []common.Address{w.cfg.Coordinator}, []common.Hash{topic})
			if err != nil {
				w.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", from), zap.Uint64("to", to))
			}
			return err
		})
		if err != nil {
			return from, fmt.Errorf("filter logs: %w", err)
		}

		for _, log := range logs {
			if err := w.deliver(ctx, log); err != nil {
				// Leave the checkpoint behind this batch so the
				// fulfillment is redelivered on the next poll.
				return from, err
			}
		}

		if w.checkpoint != nil {
			if err := w.checkpoint.Save(ctx, to); err != nil {
				return from, err
			}
		}

		if len(logs) > 0 {
			w.logger.Info("batch complete", zap.Int("fulfillments", len(logs)), zap.Uint64("from", from), zap.Uint64("to", to))
		}

		from = to + 1
	}

	return from, nil
}

func (w *Watcher) deliver(ctx context.Context, log types.Log) error {
	requestID, words, err := randomness.ParseFulfillment(log)
	if err != nil {
		w.logger.Warn("skip undecodable fulfillment", zap.String("tx", log.TxHash.Hex()), zap.Error(err))
		return nil
	}

	// Stamp the settlement with the fulfillment block's time; a failed
	// lookup degrades to a zero stamp rather than blocking the payout.
	fulfilledAt, err := w.chain.BlockTimestamp(ctx, log.BlockNumber)
	if err != nil {
		w.logger.Warn("block timestamp lookup failed", zap.Uint64("block", log.BlockNumber), zap.Error(err))
		fulfilledAt = 0
	}

	winner, err := w.resolver.Resolve(ctx, log.Address, requestID, words[0], fulfilledAt)
	switch {
	case err == nil:
		w.logger.Info("fulfillment settled",
			zap.String("request_id", requestID.String()),
			zap.String("winner", winner.Hex()),
		)
		return nil
	case errors.Is(err, randomness.ErrUnknownRequest),
		errors.Is(err, engine.ErrWinnerAlreadySet):
		w.logger.Info("skip duplicate fulfillment",
			zap.String("request_id", requestID.String()),
			zap.Error(err),
		)
		return nil
	default:
		w.logger.Error("settlement failed, will retry",
			zap.String("request_id", requestID.String()),
			zap.Error(err),
		)
		return err
	}
}
