package domain

import "time"

// AttemptStatus is the confirmation state of one submission attempt.
type AttemptStatus string

const (
	AttemptPending   AttemptStatus = "pending"
	AttemptConfirmed AttemptStatus = "confirmed"
	AttemptExpired   AttemptStatus = "expired"
	AttemptFailed    AttemptStatus = "failed"
)

// Retryable reports whether the attempt ended in a state that allows another
// attempt for the same transition.
func (s AttemptStatus) Retryable() bool {
	return s == AttemptExpired || s == AttemptFailed
}

// SubmissionAttempt is one signed transaction sent for a position
// transition. Several attempts may exist per transition under retry.
type SubmissionAttempt struct {
	ID                   string
	PositionID           string
	Side                 Side
	Number               int
	Signature            string
	PathsTried           []string
	WinningPath          string
	LastValidBlockHeight uint64
	Quote                Quote
	Status               AttemptStatus
	Slot                 uint64
	Error                string
	SubmittedAt          time.Time
	ResolvedAt           *time.Time
}

// Fill is what a confirmed transaction actually moved for the wallet.
// SolDelta is signed and includes network fees and tips.
type Fill struct {
	Signature  string
	Slot       uint64
	TokenDelta int64
	SolDelta   int64
	Fee        uint64
}
