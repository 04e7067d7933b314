package engine

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"stakepool/internal/allowlist"
	"stakepool/internal/ledger"
	"stakepool/internal/model"
	"stakepool/internal/randomness"
	"stakepool/internal/storage"
)

// Clock supplies the engine's notion of now.
type Clock func() time.Time

// Liquidator converts pool assets into settlement currency.
type Liquidator interface {
	Liquidate(ctx context.Context, asset common.Address, amount *big.Int) (*big.Int, error)
}

// StateStore persists pool snapshots and randomness correlations so the
// engine survives process restarts. Optional; persistence failures are
// logged, never allowed to fail a fund-moving operation that already happened.
type StateStore interface {
	UpsertPool(ctx context.Context, pool model.Pool) error
	SaveRequest(ctx context.Context, rec model.RequestRecord) error
	DeleteRequest(ctx context.Context, requestID string) error
}

// Config holds engine identities and the payout fee rate.
type Config struct {
	// Custody holds escrowed stakes and the liquidated settlement balance.
	Custody common.Address
	// SettlementToken is the currency pools are liquidated into.
	SettlementToken common.Address
	// Coordinator is the only identity allowed to deliver randomness.
	Coordinator common.Address
	// FeeRatePercent of the settlement value is retained at payout.
	FeeRatePercent uint64
}

// Dependencies are the external services the engine orchestrates.
type Dependencies struct {
	Allowlist  *allowlist.Allowlist
	Ledger     ledger.Ledger
	Exchange   Liquidator
	Randomness *randomness.Manager
	Sink       storage.Sink
	Store      StateStore
	Now        Clock
}

type poolState struct {
	id           uint64
	creator      common.Address
	asset        common.Address
	stake        *big.Int
	deadline     time.Time
	closed       bool
	winner       common.Address
	participants []common.Address
	settlement   *big.Int
}

// Engine owns the pool map and enforces lifecycle transition legality.
//
// Every mutating operation runs under one mutex held for its full duration,
// nested external calls included, so no interleaving of two operations is
// observable and a re-entering external service cannot see mid-operation
// state.
type Engine struct {
	cfg Config

	mu     sync.Mutex
	pools  map[uint64]*poolState
	nextID uint64

	allow  *allowlist.Allowlist
	ledger ledger.Ledger
	exch   Liquidator
	rand   *randomness.Manager
	sink   storage.Sink
	store  StateStore
	now    Clock
	logger *zap.Logger
}

// New builds an Engine. Allowlist, Ledger, Exchange, and Randomness are
// required; Sink, Store, and Now are optional.
func New(cfg Config, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	if deps.Allowlist == nil {
		return nil, fmt.Errorf("allowlist is nil")
	}
	if deps.Ledger == nil {
		return nil, fmt.Errorf("ledger is nil")
	}
	if deps.Exchange == nil {
		return nil, fmt.Errorf("exchange is nil")
	}
	if deps.Randomness == nil {
		return nil, fmt.Errorf("randomness manager is nil")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		pools:  make(map[uint64]*poolState),
		nextID: 1,
		allow:  deps.Allowlist,
		ledger: deps.Ledger,
		exch:   deps.Exchange,
		rand:   deps.Randomness,
		sink:   deps.Sink,
		store:  deps.Store,
		now:    deps.Now,
		logger: logger,
	}, nil
}

// Create registers a new pool and returns its id.
func (e *Engine) Create(ctx context.Context, caller, asset common.Address, stake *big.Int, durationSeconds uint64) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if stake == nil || stake.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if durationSeconds == 0 {
		return 0, ErrInvalidDuration
	}
	if !e.allow.Supported(asset) {
		return 0, fmt.Errorf("asset %s: %w", asset.Hex(), ErrUnsupportedAsset)
	}

	id := e.nextID
	e.nextID++

	p := &poolState{
		id:       id,
		creator:  caller,
		asset:    asset,
		stake:    new(big.Int).Set(stake),
		deadline: e.now().Add(time.Duration(durationSeconds) * time.Second),
	}
	e.pools[id] = p

	e.persist(ctx, p)
	e.emit(ctx, model.EventPoolCreated, id, model.PoolCreatedData{
		Creator:  caller.Hex(),
		Asset:    asset.Hex(),
		Stake:    stake.String(),
		Deadline: p.deadline.Unix(),
	})

	e.logger.Info("pool created",
		zap.Uint64("pool_id", id),
		zap.String("creator", caller.Hex()),
		zap.String("asset", asset.Hex()),
		zap.String("stake", stake.String()),
		zap.Int64("deadline", p.deadline.Unix()),
	)

	return id, nil
}

// Join escrows the caller's stake into custody and records membership.
func (e *Engine) Join(ctx context.Context, caller common.Address, poolID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[poolID]
	if !ok {
		return ErrNotFound
	}
	if p.closed {
		return ErrAlreadyClosed
	}
	if !e.now().Before(p.deadline) {
		return ErrExpired
	}
	for _, participant := range p.participants {
		if participant == caller {
			return ErrAlreadyJoined
		}
	}

	balance, err := e.ledger.BalanceOf(ctx, p.asset, caller)
	if err != nil {
		return fmt.Errorf("balance check: %w", err)
	}
	if balance.Cmp(p.stake) < 0 {
		return ErrInsufficientBalance
	}

	granted, err := e.ledger.Allowance(ctx, p.asset, caller, e.cfg.Custody)
	if err != nil {
		return fmt.Errorf("allowance check: %w", err)
	}
	if granted.Cmp(p.stake) < 0 {
		return ErrInsufficientAllowance
	}

	if err := e.ledger.TransferFrom(ctx, p.asset, caller, e.cfg.Custody, p.stake); err != nil {
		return fmt.Errorf("escrow stake: %w", err)
	}

	p.participants = append(p.participants, caller)

	e.persist(ctx, p)
	e.emit(ctx, model.EventPoolJoined, poolID, model.PoolJoinedData{
		Participant:  caller.Hex(),
		Stake:        p.stake.String(),
		Participants: len(p.participants),
	})

	e.logger.Info("pool joined",
		zap.Uint64("pool_id", poolID),
		zap.String("participant", caller.Hex()),
		zap.Int("participants", len(p.participants)),
	)

	return nil
}

// Close liquidates the escrowed stake into settlement currency and freezes
// the settlement value. The only path that converts pool asset holdings; it
// executes once, irreversibly.
func (e *Engine) Close(ctx context.Context, caller common.Address, poolID uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[poolID]
	if !ok {
		return ErrNotFound
	}
	if !e.isCreatorOrParticipant(p, caller) {
		return ErrUnauthorized
	}
	if p.closed {
		return ErrAlreadyClosed
	}
	if !e.now().After(p.deadline) {
		return ErrNotExpiredYet
	}

	total := new(big.Int).Mul(p.stake, big.NewInt(int64(len(p.participants))))

	received, err := e.exch.Liquidate(ctx, p.asset, total)
	if err != nil {
		return fmt.Errorf("liquidate pool %d: %w", poolID, err)
	}
	if received == nil || received.Sign() <= 0 {
		return fmt.Errorf("liquidate pool %d: %w", poolID, ErrNoSettlementValue)
	}

	p.settlement = received
	p.closed = true

	e.persist(ctx, p)
	e.emit(ctx, model.EventPoolClosed, poolID, model.PoolClosedData{
		Caller:          caller.Hex(),
		TotalStaked:     total.String(),
		SettlementValue: received.String(),
	})

	e.logger.Info("pool closed",
		zap.Uint64("pool_id", poolID),
		zap.String("total_staked", total.String()),
		zap.String("settlement_value", received.String()),
	)

	return nil
}

// RequestWinner issues a randomness request for a closed pool. Winner
// selection completes only when the fulfillment callback arrives.
func (e *Engine) RequestWinner(ctx context.Context, caller common.Address, poolID uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[poolID]
	if !ok {
		return nil, ErrNotFound
	}
	if caller != p.creator {
		return nil, ErrUnauthorized
	}
	if !p.closed {
		return nil, ErrNotClosedYet
	}
	if p.winner != (common.Address{}) {
		return nil, ErrWinnerAlreadySet
	}
	if len(p.participants) == 0 {
		return nil, ErrNoParticipants
	}
	if p.settlement == nil || p.settlement.Sign() <= 0 {
		return nil, ErrNoSettlementValue
	}

	requestID, err := e.rand.Request(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("request winner for pool %d: %w", poolID, err)
	}

	if e.store != nil {
		rec := model.RequestRecord{RequestID: requestID.String(), PoolID: poolID}
		if err := e.store.SaveRequest(ctx, rec); err != nil {
			e.logger.Error("persist randomness request failed", zap.String("request_id", rec.RequestID), zap.Error(err))
		}
	}

	e.emit(ctx, model.EventWinnerRequested, poolID, model.WinnerRequestedData{
		RequestID: requestID.String(),
	})

	e.logger.Info("winner requested",
		zap.Uint64("pool_id", poolID),
		zap.String("request_id", requestID.String()),
	)

	return requestID, nil
}

// Resolve consumes a randomness fulfillment: it selects the winner and pays
// out in one step. Only the configured coordinator identity may call it; a
// duplicate fulfillment for a settled pool is rejected without a second
// payout. fulfilledAt is the block timestamp of the fulfillment, zero when
// unknown.
func (e *Engine) Resolve(ctx context.Context, caller common.Address, requestID, randomWord *big.Int, fulfilledAt uint64) (common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.cfg.Coordinator {
		return common.Address{}, ErrUnauthorizedCallback
	}

	poolID, ok := e.rand.Lookup(requestID)
	if !ok {
		return common.Address{}, fmt.Errorf("request %s: %w", requestID.String(), randomness.ErrUnknownRequest)
	}

	p, ok := e.pools[poolID]
	if !ok {
		return common.Address{}, ErrNotFound
	}
	if p.winner != (common.Address{}) {
		return common.Address{}, ErrWinnerAlreadySet
	}
	if !p.closed || p.settlement == nil || p.settlement.Sign() <= 0 {
		return common.Address{}, ErrNoSettlementValue
	}
	if len(p.participants) == 0 {
		return common.Address{}, ErrNoParticipants
	}

	index := new(big.Int).Mod(randomWord, big.NewInt(int64(len(p.participants))))
	winner := p.participants[index.Int64()]

	fee := new(big.Int).Mul(p.settlement, new(big.Int).SetUint64(e.cfg.FeeRatePercent))
	fee.Quo(fee, big.NewInt(100))
	payout := new(big.Int).Sub(p.settlement, fee)

	// Winner is written only after the transfer succeeds; a failed payout
	// leaves the pool Closed with no winner and keeps the correlation entry
	// so the fulfillment can be retried.
	if err := e.ledger.Transfer(ctx, e.cfg.SettlementToken, winner, payout); err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrPayoutTransferFailed, err)
	}

	p.winner = winner
	e.rand.Delete(requestID)

	if e.store != nil {
		if err := e.store.DeleteRequest(ctx, requestID.String()); err != nil {
			e.logger.Error("delete randomness request failed", zap.String("request_id", requestID.String()), zap.Error(err))
		}
	}

	e.persist(ctx, p)
	e.emit(ctx, model.EventWinnerSettled, poolID, model.WinnerSettledData{
		Winner:      winner.Hex(),
		Payout:      payout.String(),
		Fee:         fee.String(),
		FulfilledAt: fulfilledAt,
	})

	e.logger.Info("winner settled",
		zap.Uint64("pool_id", poolID),
		zap.String("winner", winner.Hex()),
		zap.String("payout", payout.String()),
		zap.String("fee", fee.String()),
		zap.Uint64("fulfilled_at", fulfilledAt),
	)

	return winner, nil
}

// Pool returns a snapshot of one pool.
func (e *Engine) Pool(poolID uint64) (model.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[poolID]
	if !ok {
		return model.Pool{}, ErrNotFound
	}
	return toModel(p), nil
}

// Pools returns snapshots of every pool ordered by id.
func (e *Engine) Pools() []model.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]model.Pool, 0, len(e.pools))
	for _, p := range e.pools {
		out = append(out, toModel(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) isCreatorOrParticipant(p *poolState, caller common.Address) bool {
	if caller == p.creator {
		return true
	}
	for _, participant := range p.participants {
		if participant == caller {
			return true
		}
	}
	return false
}

func (e *Engine) persist(ctx context.Context, p *poolState) {
	if e.store == nil {
		return
	}
	if err := e.store.UpsertPool(ctx, toModel(p)); err != nil {
		e.logger.Error("persist pool failed", zap.Uint64("pool_id", p.id), zap.Error(err))
	}
}

func (e *Engine) emit(ctx context.Context, name string, poolID uint64, decoded interface{}) {
	if e.sink == nil {
		return
	}
	event := model.Event{
		Name:      name,
		PoolID:    poolID,
		EmittedAt: e.now().UTC().Format(time.RFC3339Nano),
		Decoded:   decoded,
	}
	if err := e.sink.Put(ctx, event); err != nil {
		e.logger.Warn("emit event failed", zap.String("event", name), zap.Uint64("pool_id", poolID), zap.Error(err))
	}
}
