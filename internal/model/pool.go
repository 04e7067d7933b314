package model

// Pool is the storage representation of a staking pool.
//
// Addresses are 0x-prefixed hex strings and amounts are decimal strings so the
// record survives JSON and SQL round trips without precision loss.
type Pool struct {
	ID              uint64   `json:"id"`
	Creator         string   `json:"creator"`
	Asset           string   `json:"asset"`
	Stake           string   `json:"stake"`
	Deadline        int64    `json:"deadline"`
	Closed          bool     `json:"closed"`
	Winner          string   `json:"winner,omitempty"`
	Participants    []string `json:"participants"`
	SettlementValue string   `json:"settlement_value"`
}
