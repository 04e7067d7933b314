package model

// RequestRecord correlates an outstanding randomness request with its pool.
type RequestRecord struct {
	RequestID string `json:"request_id"`
	PoolID    uint64 `json:"pool_id"`
}
