package model

// Event names emitted over the pool lifecycle.
const (
	EventPoolCreated     = "pool_created"
	EventPoolJoined      = "pool_joined"
	EventPoolClosed      = "pool_closed"
	EventWinnerRequested = "winner_requested"
	EventWinnerSettled   = "winner_settled"
)

// Event is a lifecycle event enriched with its decoded payload.
type Event struct {
	Name      string      `json:"event_name"`
	PoolID    uint64      `json:"pool_id"`
	EmittedAt string      `json:"emitted_at"`
	Decoded   interface{} `json:"decoded"`
}

// PoolCreatedData is the pool_created event payload.
type PoolCreatedData struct {
	Creator  string `json:"creator"`
	Asset    string `json:"asset"`
	Stake    string `json:"stake"`
	Deadline int64  `json:"deadline"`
}

// PoolJoinedData is the pool_joined event payload.
type PoolJoinedData struct {
	Participant  string `json:"participant"`
	Stake        string `json:"stake"`
	Participants int    `json:"participants"`
}

// PoolClosedData is the pool_closed event payload.
type PoolClosedData struct {
	Caller          string `json:"caller"`
	TotalStaked     string `json:"total_staked"`
	SettlementValue string `json:"settlement_value"`
}

// WinnerRequestedData is the winner_requested event payload.
type WinnerRequestedData struct {
	RequestID string `json:"request_id"`
}

// WinnerSettledData is the winner_settled event payload. FulfilledAt is the
// timestamp of the block carrying the randomness fulfillment, zero when the
// settlement did not come from an on-chain delivery.
type WinnerSettledData struct {
	Winner      string `json:"winner"`
	Payout      string `json:"payout"`
	Fee         string `json:"fee"`
	FulfilledAt uint64 `json:"fulfilled_at,omitempty"`
}
