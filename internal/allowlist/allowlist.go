package allowlist

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/internal/model"
)

var (
	// ErrNotOwner rejects allowlist mutation by anyone but the administrator.
	ErrNotOwner = errors.New("caller is not the allowlist owner")
	// ErrZeroAddress rejects the zero asset or oracle address.
	ErrZeroAddress = errors.New("zero address")
	// ErrAlreadySupported rejects adding an asset twice.
	ErrAlreadySupported = errors.New("asset already supported")
	// ErrNotSupported rejects removing an asset that was never added.
	ErrNotSupported = errors.New("asset not supported")
)

// Allowlist maps supported assets to their price oracle reference.
// Mutation is gated on a single administrator identity.
type Allowlist struct {
	owner common.Address

	mu      sync.RWMutex
	entries map[common.Address]common.Address
}

// New builds an empty allowlist owned by the given administrator.
func New(owner common.Address) *Allowlist {
	return &Allowlist{
		owner:   owner,
		entries: make(map[common.Address]common.Address),
	}
}

// Add registers an asset with its oracle reference.
func (a *Allowlist) Add(caller, asset, oracle common.Address) error {
	if caller != a.owner {
		return ErrNotOwner
	}
	if asset == (common.Address{}) || oracle == (common.Address{}) {
		return ErrZeroAddress
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[asset]; ok {
		return ErrAlreadySupported
	}
	a.entries[asset] = oracle
	return nil
}

// Remove drops an asset from the allowlist.
func (a *Allowlist) Remove(caller, asset common.Address) error {
	if caller != a.owner {
		return ErrNotOwner
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[asset]; !ok {
		return ErrNotSupported
	}
	delete(a.entries, asset)
	return nil
}

// Supported reports whether the asset may back new pools.
func (a *Allowlist) Supported(asset common.Address) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.entries[asset]
	return ok
}

// Oracle returns the oracle reference registered for the asset.
func (a *Allowlist) Oracle(asset common.Address) (common.Address, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	oracle, ok := a.entries[asset]
	return oracle, ok
}

// Entries returns the allowlist as storage records, sorted by asset.
func (a *Allowlist) Entries() []model.AssetEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]model.AssetEntry, 0, len(a.entries))
	for asset, oracle := range a.entries {
		out = append(out, model.AssetEntry{Asset: asset.Hex(), Oracle: oracle.Hex()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out
}

// Restore loads persisted entries, bypassing the owner gate.
func (a *Allowlist) Restore(entries []model.AssetEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, entry := range entries {
		if !common.IsHexAddress(entry.Asset) {
			return fmt.Errorf("invalid asset address: %s", entry.Asset)
		}
		if !common.IsHexAddress(entry.Oracle) {
			return fmt.Errorf("invalid oracle address: %s", entry.Oracle)
		}
		a.entries[common.HexToAddress(entry.Asset)] = common.HexToAddress(entry.Oracle)
	}
	return nil
}
