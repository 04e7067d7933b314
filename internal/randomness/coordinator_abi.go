package randomness

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const coordinatorABIJSON = `[
  {"inputs": [{"type": "bytes32"}, {"type": "uint64"}, {"type": "uint16"}, {"type": "uint32"}, {"type": "uint32"}], "name": "requestRandomWords", "outputs": [{"type": "uint256"}], "stateMutability": "nonpayable", "type": "function"},
  {"anonymous": false, "inputs": [{"indexed": true, "name": "requestId", "type": "uint256"}, {"indexed": true, "name": "requester", "type": "address"}], "name": "RandomnessRequested", "type": "event"},
  {"anonymous": false, "inputs": [{"indexed": true, "name": "requestId", "type": "uint256"}, {"indexed": false, "name": "words", "type": "uint256[]"}], "name": "RandomnessFulfilled", "type": "event"}
]`

var (
	coordinatorABI     abi.ABI
	coordinatorABIOnce sync.Once
	coordinatorABIErr  error
)

func coordinatorABIInstance() (abi.ABI, error) {
	coordinatorABIOnce.Do(func() {
		coordinatorABI, coordinatorABIErr = abi.JSON(strings.NewReader(coordinatorABIJSON))
	})
	return coordinatorABI, coordinatorABIErr
}
