package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/solbot/internal/domain"
)

// SeenSet records notification identities with SET NX so several ingestion
// processes sharing one stream act on each notification once.
type SeenSet struct {
	c *Client
}

// NewSeenSet creates a SeenSet.
func NewSeenSet(c *Client) *SeenSet {
	return &SeenSet{c: c}
}

// MarkSeen returns true if key was not recorded within the last ttl.
func (s *SeenSet) MarkSeen(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	first, err := s.c.rdb.SetNX(ctx, s.c.key("seen", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: mark seen %s: %w", key, err)
	}
	return first, nil
}

var _ domain.SeenSet = (*SeenSet)(nil)
