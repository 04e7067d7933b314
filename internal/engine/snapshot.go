package engine

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/internal/model"
)

func toModel(p *poolState) model.Pool {
	participants := make([]string, 0, len(p.participants))
	for _, participant := range p.participants {
		participants = append(participants, participant.Hex())
	}

	winner := ""
	if p.winner != (common.Address{}) {
		winner = p.winner.Hex()
	}

	settlement := "0"
	if p.settlement != nil {
		settlement = p.settlement.String()
	}

	return model.Pool{
		ID:              p.id,
		Creator:         p.creator.Hex(),
		Asset:           p.asset.Hex(),
		Stake:           p.stake.String(),
		Deadline:        p.deadline.Unix(),
		Closed:          p.closed,
		Winner:          winner,
		Participants:    participants,
		SettlementValue: settlement,
	}
}

// Restore hydrates the engine from persisted pool snapshots. Only valid on a
// fresh engine before any operation has run.
func (e *Engine) Restore(pools []model.Pool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, rec := range pools {
		p, err := fromModel(rec)
		if err != nil {
			return fmt.Errorf("pool %d: %w", rec.ID, err)
		}
		e.pools[p.id] = p
		if p.id >= e.nextID {
			e.nextID = p.id + 1
		}
	}
	return nil
}

func fromModel(rec model.Pool) (*poolState, error) {
	if rec.ID == 0 {
		return nil, fmt.Errorf("pool id is zero")
	}
	if !common.IsHexAddress(rec.Creator) {
		return nil, fmt.Errorf("invalid creator address: %s", rec.Creator)
	}
	if !common.IsHexAddress(rec.Asset) {
		return nil, fmt.Errorf("invalid asset address: %s", rec.Asset)
	}

	stake, ok := new(big.Int).SetString(rec.Stake, 10)
	if !ok || stake.Sign() <= 0 {
		return nil, fmt.Errorf("invalid stake: %s", rec.Stake)
	}

	p := &poolState{
		id:       rec.ID,
		creator:  common.HexToAddress(rec.Creator),
		asset:    common.HexToAddress(rec.Asset),
		stake:    stake,
		deadline: time.Unix(rec.Deadline, 0),
		closed:   rec.Closed,
	}

	for _, participant := range rec.Participants {
		if !common.IsHexAddress(participant) {
			return nil, fmt.Errorf("invalid participant address: %s", participant)
		}
		p.participants = append(p.participants, common.HexToAddress(participant))
	}

	if rec.Winner != "" {
		if !common.IsHexAddress(rec.Winner) {
			return nil, fmt.Errorf("invalid winner address: %s", rec.Winner)
		}
		p.winner = common.HexToAddress(rec.Winner)
	}

	if rec.Closed {
		settlement, ok := new(big.Int).SetString(rec.SettlementValue, 10)
		if !ok || settlement.Sign() <= 0 {
			return nil, fmt.Errorf("closed pool with invalid settlement value: %s", rec.SettlementValue)
		}
		p.settlement = settlement
	}

	return p, nil
}
