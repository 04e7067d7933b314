package watcher

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"stakepool/internal/randomness"
)

var coordinatorAddr = common.HexToAddress("0x00000000000000000000000000000000000000D1")

type blockRange struct {
	from, to uint64
}

type fakeChain struct {
	latest     uint64
	logs       []types.Log
	ranges     []blockRange
	timestamps map[uint64]uint64
}

func (c *fakeChain) LatestBlockNumber(_ context.Context) (uint64, error) {
	return c.latest, nil
}

func (c *fakeChain) FilterLogs(_ context.Context, fromBlock, toBlock uint64, _ []common.Address, _ []common.Hash) ([]types.Log, error) {
	c.ranges = append(c.ranges, blockRange{fromBlock, toBlock})
	var out []types.Log
	for _, log := range c.logs {
		if log.BlockNumber >= fromBlock && log.BlockNumber <= toBlock {
			out = append(out, log)
		}
	}
	return out, nil
}

func (c *fakeChain) BlockTimestamp(_ context.Context, number uint64) (uint64, error) {
	ts, ok := c.timestamps[number]
	if !ok {
		return 0, fmt.Errorf("unknown block %d", number)
	}
	return ts, nil
}

type resolveCall struct {
	caller      common.Address
	requestID   *big.Int
	word        *big.Int
	fulfilledAt uint64
}

type fakeResolver struct {
	err   error
	calls []resolveCall
}

func (r *fakeResolver) Resolve(_ context.Context, caller common.Address, requestID, randomWord *big.Int, fulfilledAt uint64) (common.Address, error) {
	r.calls = append(r.calls, resolveCall{caller, requestID, randomWord, fulfilledAt})
	if r.err != nil {
		return common.Address{}, r.err
	}
	return common.HexToAddress("0x00000000000000000000000000000000000000B1"), nil
}

func fulfillmentLog(t *testing.T, requestID, word int64, block uint64) types.Log {
	t.Helper()
	topic, err := randomness.FulfilledTopic()
	if err != nil {
		t.Fatalf("topic: %v", err)
	}

	var data []byte
	data = append(data, common.BigToHash(big.NewInt(32)).Bytes()...)
	data = append(data, common.BigToHash(big.NewInt(1)).Bytes()...)
	data = append(data, common.BigToHash(big.NewInt(word)).Bytes()...)

	return types.Log{
		Address:     coordinatorAddr,
		Topics:      []common.Hash{topic, common.BigToHash(big.NewInt(requestID))},
		Data:        data,
		BlockNumber: block,
	}
}

func newTestWatcher(chain *fakeChain, resolver *fakeResolver, checkpoint Checkpoint, batchSize uint64) (*Watcher, common.Hash) {
	topic, _ := randomness.FulfilledTopic()
	w := New(Config{
		Coordinator: coordinatorAddr,
		BatchSize:   batchSize,
	}, chain, resolver, checkpoint, nil)
	return w, topic
}

func TestScanSettlesFulfillments(t *testing.T) {
	chain := &fakeChain{
		latest:     10,
		logs:       []types.Log{fulfillmentLog(t, 7, 424242, 5)},
		timestamps: map[uint64]uint64{5: 1700000060},
	}
	resolver := &fakeResolver{}
	checkpoint := &FileCheckpoint{Path: filepath.Join(t.TempDir(), "checkpoint.json")}
	w, topic := newTestWatcher(chain, resolver, checkpoint, 2000)

	next, err := w.scan(context.Background(), 0, topic)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if next != 11 {
		t.Fatalf("next block mismatch: %d", next)
	}

	if len(resolver.calls) != 1 {
		t.Fatalf("resolve calls mismatch: %d", len(resolver.calls))
	}
	call := resolver.calls[0]
	if call.caller != coordinatorAddr {
		t.Fatalf("caller mismatch: %s", call.caller.Hex())
	}
	if call.requestID.Int64() != 7 || call.word.Int64() != 424242 {
		t.Fatalf("payload mismatch: %s %s", call.requestID, call.word)
	}
	if call.fulfilledAt != 1700000060 {
		t.Fatalf("fulfillment timestamp mismatch: %d", call.fulfilledAt)
	}

	last, ok, err := checkpoint.Load(context.Background())
	if err != nil || !ok || last != 10 {
		t.Fatalf("checkpoint mismatch: %d %v %v", last, ok, err)
	}
}

func TestScanHoldsCheckpointOnSettlementFailure(t *testing.T) {
	chain := &fakeChain{
		latest: 10,
		logs:   []types.Log{fulfillmentLog(t, 7, 1, 5)},
	}
	resolver := &fakeResolver{err: fmt.Errorf("payout transfer reverted")}
	checkpoint := &FileCheckpoint{Path: filepath.Join(t.TempDir(), "checkpoint.json")}
	w, topic := newTestWatcher(chain, resolver, checkpoint, 2000)

	next, err := w.scan(context.Background(), 0, topic)
	if err == nil {
		t.Fatalf("expected scan to surface the settlement failure")
	}
	if next != 0 {
		t.Fatalf("scan advanced past a failed settlement: %d", next)
	}
	if _, ok, _ := checkpoint.Load(context.Background()); ok {
		t.Fatalf("checkpoint written despite failed settlement")
	}
}

func TestScanSkipsConsumedRequests(t *testing.T) {
	chain := &fakeChain{
		latest: 10,
		logs:   []types.Log{fulfillmentLog(t, 7, 1, 5)},
	}
	resolver := &fakeResolver{err: randomness.ErrUnknownRequest}
	checkpoint := &FileCheckpoint{Path: filepath.Join(t.TempDir(), "checkpoint.json")}
	w, topic := newTestWatcher(chain, resolver, checkpoint, 2000)

	next, err := w.scan(context.Background(), 0, topic)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if next != 11 {
		t.Fatalf("next block mismatch: %d", next)
	}
	if last, ok, _ := checkpoint.Load(context.Background()); !ok || last != 10 {
		t.Fatalf("checkpoint mismatch: %d %v", last, ok)
	}
}

func TestScanBatches(t *testing.T) {
	chain := &fakeChain{latest: 7}
	w, topic := newTestWatcher(chain, &fakeResolver{}, nil, 3)

	next, err := w.scan(context.Background(), 0, topic)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if next != 8 {
		t.Fatalf("next block mismatch: %d", next)
	}

	want := []blockRange{{0, 2}, {3, 5}, {6, 7}}
	if len(chain.ranges) != len(want) {
		t.Fatalf("batch count mismatch: %v", chain.ranges)
	}
	for i, r := range want {
		if chain.ranges[i] != r {
			t.Fatalf("batch %d mismatch: %+v != %+v", i, chain.ranges[i], r)
		}
	}
}

func TestFileCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	checkpoint := &FileCheckpoint{Path: filepath.Join(t.TempDir(), "nested", "checkpoint.json")}

	if _, ok, err := checkpoint.Load(ctx); err != nil || ok {
		t.Fatalf("fresh checkpoint should be absent: %v %v", ok, err)
	}

	if err := checkpoint.Save(ctx, 42); err != nil {
		t.Fatalf("save: %v", err)
	}
	last, ok, err := checkpoint.Load(ctx)
	if err != nil || !ok || last != 42 {
		t.Fatalf("round trip mismatch: %d %v %v", last, ok, err)
	}

	if err := checkpoint.Save(ctx, 43); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if last, _, _ := checkpoint.Load(ctx); last != 43 {
		t.Fatalf("overwrite mismatch: %d", last)
	}
}
