package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock already held")

	// Ingestion.
	ErrDecode             = errors.New("decode notification")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

	// Quote time. The attempt is aborted and never retried with the same quote.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrStaleState            = errors.New("stale venue state")
	ErrUnknownVenue          = errors.New("unknown venue")

	// Submission and confirmation. Retryable at the attempt level.
	ErrSubmissionExhausted = errors.New("submission exhausted on all relay paths")
	ErrExpired             = errors.New("transaction expired")
	ErrTxFailed            = errors.New("transaction failed on chain")

	// ErrRetriesExhausted ends a position transition whose attempts all
	// failed. It wraps the last attempt's error.
	ErrRetriesExhausted = errors.New("retry ceiling reached")

	// Risk.
	ErrCapacityExceeded  = errors.New("capacity exceeded")
	ErrPositionActive    = errors.New("position already active for token")
	ErrNoPosition        = errors.New("no position for token")
	ErrInvalidTransition = errors.New("invalid position state transition")
	ErrStuckPosition     = errors.New("stuck position")
)
