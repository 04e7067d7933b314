package randomness

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"stakepool/internal/model"
)

// ErrUnknownRequest means a fulfillment arrived for an id never issued or
// already consumed.
var ErrUnknownRequest = errors.New("unknown randomness request")

// Service is the external randomness provider the manager forwards requests to.
type Service interface {
	SubmitRequest(ctx context.Context) (*big.Int, error)
}

// Manager issues randomness requests and keeps the requestID -> poolID
// correlation until the fulfillment is consumed exactly once.
type Manager struct {
	svc Service

	mu      sync.Mutex
	pending map[string]uint64
}

// NewManager builds a Manager over the given service.
func NewManager(svc Service) *Manager {
	return &Manager{svc: svc, pending: make(map[string]uint64)}
}

// Request submits a randomness request for the pool and records the
// correlation entry.
func (m *Manager) Request(ctx context.Context, poolID uint64) (*big.Int, error) {
	requestID, err := m.svc.SubmitRequest(ctx)
	if err != nil {
		return nil, fmt.Errorf("submit randomness request: %w", err)
	}

	m.mu.Lock()
	m.pending[requestID.String()] = poolID
	m.mu.Unlock()

	return requestID, nil
}

// Lookup resolves a request id to its pool without consuming the entry.
func (m *Manager) Lookup(requestID *big.Int) (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	poolID, ok := m.pending[requestID.String()]
	return poolID, ok
}

// Delete consumes a correlation entry. Called only after settlement succeeds,
// so a failed payout leaves the entry available for a retried fulfillment.
func (m *Manager) Delete(requestID *big.Int) {
	m.mu.Lock()
	delete(m.pending, requestID.String())
	m.mu.Unlock()
}

// Pending returns outstanding correlation records, sorted by request id.
func (m *Manager) Pending() []model.RequestRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.RequestRecord, 0, len(m.pending))
	for id, poolID := range m.pending {
		out = append(out, model.RequestRecord{RequestID: id, PoolID: poolID})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestID < out[j].RequestID })
	return out
}

// Restore loads persisted correlation records.
func (m *Manager) Restore(records []model.RequestRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, rec := range records {
		if _, ok := new(big.Int).SetString(rec.RequestID, 10); !ok {
			return fmt.Errorf("invalid request id: %s", rec.RequestID)
		}
		m.pending[rec.RequestID] = rec.PoolID
	}
	return nil
}
