package randomness

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"stakepool/internal/chain"
)

// Fixed request shape: one random word at a constant confirmation depth.
const (
	requestConfirmations = uint16(3)
	requestWords         = uint32(1)
)

// CoordinatorConfig identifies the randomness coordinator and its billing
// parameters.
type CoordinatorConfig struct {
	Address          common.Address
	KeyHash          common.Hash
	SubscriptionID   uint64
	CallbackGasLimit uint32
}

// Coordinator implements Service against a VRF-style coordinator contract.
type Coordinator struct {
	client *chain.Client
	opts   *bind.TransactOpts
	cfg    CoordinatorConfig
	logger *zap.Logger
}

// NewCoordinator builds a Coordinator client.
func NewCoordinator(client *chain.Client, opts *bind.TransactOpts, cfg CoordinatorConfig, logger *zap.Logger) *Coordinator {
	if cfg.CallbackGasLimit == 0 {
		cfg.CallbackGasLimit = 200000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{client: client, opts: opts, cfg: cfg, logger: logger}
}

// SubmitRequest sends requestRandomWords and returns the request id parsed
// from the coordinator's RandomnessRequested log.
func (c *Coordinator) SubmitRequest(ctx context.Context) (*big.Int, error) {
	if c.opts == nil {
		return nil, fmt.Errorf("coordinator has no transactor")
	}
	parsed, err := coordinatorABIInstance()
	if err != nil {
		return nil, fmt.Errorf("parse coordinator abi: %w", err)
	}

	backend := c.client.Backend()
	contract := bind.NewBoundContract(c.cfg.Address, parsed, backend, backend, backend)

	opts := *c.opts
	opts.Context = ctx

	tx, err := contract.Transact(&opts, "requestRandomWords",
		[32]byte(c.cfg.KeyHash),
		c.cfg.SubscriptionID,
		requestConfirmations,
		c.cfg.CallbackGasLimit,
		requestWords,
	)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	receipt, err := bind.WaitMined(ctx, backend, tx)
	if err != nil {
		return nil, fmt.Errorf("wait request: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("request reverted: tx %s", tx.Hash().Hex())
	}

	requestID, err := requestIDFromReceipt(parsed, c.cfg.Address, receipt)
	if err != nil {
		return nil, err
	}

	c.logger.Info("randomness requested",
		zap.String("request_id", requestID.String()),
		zap.String("tx", tx.Hash().Hex()),
	)

	return requestID, nil
}

func requestIDFromReceipt(parsed abi.ABI, coordinator common.Address, receipt *types.Receipt) (*big.Int, error) {
	topic := parsed.Events["RandomnessRequested"].ID
	for _, log := range receipt.Logs {
		if log.Address != coordinator || len(log.Topics) < 2 || log.Topics[0] != topic {
			continue
		}
		return new(big.Int).SetBytes(log.Topics[1].Bytes()), nil
	}
	return nil, fmt.Errorf("no RandomnessRequested log in tx %s", receipt.TxHash.Hex())
}
