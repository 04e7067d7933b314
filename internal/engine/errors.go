package engine

import "errors"

// Validation failures.
var (
	ErrInvalidAmount    = errors.New("stake amount must be positive")
	ErrInvalidDuration  = errors.New("duration must be positive")
	ErrUnsupportedAsset = errors.New("asset is not supported")
)

// Authorization failures.
var (
	ErrUnauthorized         = errors.New("caller is not authorized")
	ErrUnauthorizedCallback = errors.New("callback caller is not the randomness coordinator")
)

// Lifecycle-state failures.
var (
	ErrNotFound          = errors.New("pool not found")
	ErrAlreadyClosed     = errors.New("pool already closed")
	ErrExpired           = errors.New("pool deadline has passed")
	ErrAlreadyJoined     = errors.New("caller already joined this pool")
	ErrNotExpiredYet     = errors.New("pool deadline has not passed")
	ErrNotClosedYet      = errors.New("pool is not closed")
	ErrWinnerAlreadySet  = errors.New("winner already settled")
	ErrNoParticipants    = errors.New("pool has no participants")
	ErrNoSettlementValue = errors.New("pool has no settlement value")
)

// External-dependency failures.
var (
	ErrInsufficientBalance   = errors.New("caller balance below stake")
	ErrInsufficientAllowance = errors.New("caller allowance below stake")
	ErrPayoutTransferFailed  = errors.New("payout transfer failed")
)
