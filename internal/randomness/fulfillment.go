package randomness

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FulfilledTopic returns the topic0 of the RandomnessFulfilled event.
func FulfilledTopic() (common.Hash, error) {
	parsed, err := coordinatorABIInstance()
	if err != nil {
		return common.Hash{}, fmt.Errorf("parse coordinator abi: %w", err)
	}
	return parsed.Events["RandomnessFulfilled"].ID, nil
}

// ParseFulfillment decodes a RandomnessFulfilled log into its request id and
// random words.
func ParseFulfillment(log types.Log) (*big.Int, []*big.Int, error) {
	parsed, err := coordinatorABIInstance()
	if err != nil {
		return nil, nil, fmt.Errorf("parse coordinator abi: %w", err)
	}
	event := parsed.Events["RandomnessFulfilled"]

	if len(log.Topics) < 2 || log.Topics[0] != event.ID {
		return nil, nil, fmt.Errorf("log is not a RandomnessFulfilled event")
	}
	requestID := new(big.Int).SetBytes(log.Topics[1].Bytes())

	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack fulfillment: %w", err)
	}
	if len(values) == 0 {
		return nil, nil, fmt.Errorf("fulfillment carries no words")
	}
	words, ok := values[0].([]*big.Int)
	if !ok {
		return nil, nil, fmt.Errorf("unexpected words type %T", values[0])
	}
	if len(words) == 0 {
		return nil, nil, fmt.Errorf("fulfillment carries no words")
	}

	return requestID, words, nil
}
