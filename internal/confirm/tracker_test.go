package confirm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/solbot/internal/domain"
	"github.com/alanyoungcy/solbot/internal/platform/solrpc"
)

type scriptedReader struct {
	mu       sync.Mutex
	statuses []solrpc.SignatureStatus
	heights  []uint64
	errs     int
}

func (s *scriptedReader) SignatureStatus(context.Context, solana.Signature) (solrpc.SignatureStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs > 0 {
		s.errs--
		return solrpc.SignatureStatus{}, errors.New("429 too many requests")
	}
	if len(s.statuses) == 0 {
		return solrpc.SignatureStatus{}, nil
	}
	st := s.statuses[0]
	if len(s.statuses) > 1 {
		s.statuses = s.statuses[1:]
	}
	return st, nil
}

func (s *scriptedReader) BlockHeight(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.heights) == 0 {
		return 0, nil
	}
	h := s.heights[0]
	if len(s.heights) > 1 {
		s.heights = s.heights[1:]
	}
	return h, nil
}

func newTracker(r StatusReader) *Tracker {
	return NewTracker(r, Config{PollInterval: time.Millisecond, Commitment: "finalized"},
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestTrackConfirmsAtTargetCommitment(t *testing.T) {
	r := &scriptedReader{
		errs: 2,
		statuses: []solrpc.SignatureStatus{
			{},
			{Found: true, Slot: 10, Commitment: "processed"},
			{Found: true, Slot: 10, Commitment: "confirmed"},
			{Found: true, Slot: 10, Commitment: "finalized"},
		},
		heights: []uint64{100},
	}
	out, err := newTracker(r).Track(context.Background(), solana.Signature{1}, 150)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptConfirmed, out.Status)
	assert.Equal(t, uint64(10), out.Slot)
}

func TestTrackExpiresPastValidityWindow(t *testing.T) {
	r := &scriptedReader{heights: []uint64{149, 150, 151}}
	out, err := newTracker(r).Track(context.Background(), solana.Signature{1}, 150)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptExpired, out.Status)
	assert.True(t, out.Status.Retryable())
}

func TestTrackIncludedTransactionDoesNotExpire(t *testing.T) {
	r := &scriptedReader{
		statuses: []solrpc.SignatureStatus{
			{Found: true, Slot: 5, Commitment: "confirmed"},
			{Found: true, Slot: 5, Commitment: "confirmed"},
			{Found: true, Slot: 5, Commitment: "finalized"},
		},
		heights: []uint64{1_000},
	}
	out, err := newTracker(r).Track(context.Background(), solana.Signature{1}, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptConfirmed, out.Status)
}

func TestTrackFailsOnChainError(t *testing.T) {
	r := &scriptedReader{statuses: []solrpc.SignatureStatus{
		{Found: true, Slot: 8, Commitment: "processed", Err: "map[InstructionError:[4 map[Custom:6002]]]"},
	}}
	out, err := newTracker(r).Track(context.Background(), solana.Signature{1}, 100)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptFailed, out.Status)
	assert.Contains(t, out.Err, "6002")
}

func TestTrackStopsOnContext(t *testing.T) {
	r := &scriptedReader{heights: []uint64{1}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, err := newTracker(r).Track(ctx, solana.Signature{1}, 100)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.AttemptPending, out.Status)
}

func TestRetryPolicy(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: 100 * time.Millisecond, Max: 300 * time.Millisecond}
	assert.True(t, p.Allow(1))
	assert.True(t, p.Allow(2))
	assert.False(t, p.Allow(3))

	assert.Equal(t, 100*time.Millisecond, p.Delay(1))
	assert.Equal(t, 200*time.Millisecond, p.Delay(2))
	assert.Equal(t, 300*time.Millisecond, p.Delay(3))
	assert.Equal(t, 300*time.Millisecond, p.Delay(10))
	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
}
