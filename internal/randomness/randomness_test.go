package randomness

import (
	"context"
	"fmt"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"stakepool/internal/model"
)

type stubService struct {
	next int64
	err  error
}

func (s *stubService) SubmitRequest(_ context.Context) (*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.next++
	return big.NewInt(s.next), nil
}

func TestManagerCorrelation(t *testing.T) {
	m := NewManager(&stubService{})
	ctx := context.Background()

	first, err := m.Request(ctx, 7)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	second, err := m.Request(ctx, 9)
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if poolID, ok := m.Lookup(first); !ok || poolID != 7 {
		t.Fatalf("lookup first: %d %v", poolID, ok)
	}
	if poolID, ok := m.Lookup(second); !ok || poolID != 9 {
		t.Fatalf("lookup second: %d %v", poolID, ok)
	}

	m.Delete(first)
	if _, ok := m.Lookup(first); ok {
		t.Fatalf("deleted entry still resolvable")
	}
	if _, ok := m.Lookup(second); !ok {
		t.Fatalf("unrelated entry lost")
	}
}

func TestManagerRequestFailure(t *testing.T) {
	m := NewManager(&stubService{err: fmt.Errorf("coordinator down")})
	if _, err := m.Request(context.Background(), 1); err == nil {
		t.Fatalf("expected request to fail")
	}
	if pending := m.Pending(); len(pending) != 0 {
		t.Fatalf("failed request left correlation state: %+v", pending)
	}
}

func TestManagerRestoreAndPending(t *testing.T) {
	m := NewManager(&stubService{})

	records := []model.RequestRecord{
		{RequestID: "101", PoolID: 4},
		{RequestID: "33", PoolID: 2},
	}
	if err := m.Restore(records); err != nil {
		t.Fatalf("restore: %v", err)
	}

	want := []model.RequestRecord{
		{RequestID: "101", PoolID: 4},
		{RequestID: "33", PoolID: 2},
	}
	if got := m.Pending(); !reflect.DeepEqual(got, want) {
		t.Fatalf("pending mismatch: %+v != %+v", got, want)
	}

	if poolID, ok := m.Lookup(big.NewInt(33)); !ok || poolID != 2 {
		t.Fatalf("restored entry lookup: %d %v", poolID, ok)
	}

	if err := m.Restore([]model.RequestRecord{{RequestID: "not-a-number", PoolID: 1}}); err == nil {
		t.Fatalf("expected restore to reject bad request id")
	}
}

func TestParseFulfillment(t *testing.T) {
	parsed, err := coordinatorABIInstance()
	if err != nil {
		t.Fatalf("parse abi: %v", err)
	}
	event := parsed.Events["RandomnessFulfilled"]

	words := []*big.Int{big.NewInt(987654321)}
	data, err := event.Inputs.NonIndexed().Pack(words)
	if err != nil {
		t.Fatalf("pack words: %v", err)
	}

	topic, err := FulfilledTopic()
	if err != nil {
		t.Fatalf("topic: %v", err)
	}

	log := types.Log{
		Topics: []common.Hash{topic, common.BigToHash(big.NewInt(424242))},
		Data:   data,
	}

	requestID, gotWords, err := ParseFulfillment(log)
	if err != nil {
		t.Fatalf("parse fulfillment: %v", err)
	}
	if requestID.Int64() != 424242 {
		t.Fatalf("request id mismatch: %s", requestID)
	}
	if len(gotWords) != 1 || gotWords[0].Int64() != 987654321 {
		t.Fatalf("words mismatch: %v", gotWords)
	}
}

func TestParseFulfillmentRejectsForeignLog(t *testing.T) {
	log := types.Log{
		Topics: []common.Hash{common.HexToHash("0xdead"), common.BigToHash(big.NewInt(1))},
	}
	if _, _, err := ParseFulfillment(log); err == nil {
		t.Fatalf("expected parse to fail for foreign topic")
	}
}
