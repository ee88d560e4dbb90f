package executor

import (
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// Coalescer drops an intent while another intent for the same token and
// side is queued or running. It is safe for concurrent use.
type Coalescer struct {
	mu      sync.Mutex
	pending map[coalesceKey]struct{}
}

type coalesceKey struct {
	mint solana.PublicKey
	side domain.Side
}

func NewCoalescer() *Coalescer {
	return &Coalescer{pending: make(map[coalesceKey]struct{})}
}

// Claim records the intent's key and returns true, or returns false if the
// key is already claimed.
func (c *Coalescer) Claim(intent domain.TradeIntent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := coalesceKey{intent.Mint, intent.Side}
	if _, ok := c.pending[k]; ok {
		return false
	}
	c.pending[k] = struct{}{}
	return true
}

// Release frees the intent's key.
func (c *Coalescer) Release(intent domain.TradeIntent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, coalesceKey{intent.Mint, intent.Side})
}

// Len returns the number of claimed keys.
func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
