package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ballotline/ballotline/internal/core/domain"
	"github.com/redis/go-redis/v9"
)

// CountCache mirrors aggregate counts in a Redis hash per election. It is
// eventually consistent with the ledger and rebuilt from it on loss.
type CountCache struct {
	client *redis.Client
}

func NewCountCache(addr, password string, db int) *CountCache {
	return &CountCache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
	}
}

func countsKey(electionID string) string {
	return fmt.Sprintf("votecounts:%s", electionID)
}

func (c *CountCache) ApplyDeltas(ctx context.Context, deltas []domain.CounterDelta) error {
	pipe := c.client.Pipeline()
	for _, d := range deltas {
		pipe.HIncrBy(ctx, countsKey(d.ElectionID), d.CandidateID, d.Delta)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply count deltas: %w", err)
	}
	return nil
}

func (c *CountCache) GetCounts(ctx context.Context, electionID string) (map[string]int64, error) {
	raw, err := c.client.HGetAll(ctx, countsKey(electionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get counts for %s: %w", electionID, err)
	}
	if len(raw) == 0 {
		return nil, domain.ErrNotFound
	}

	counts := make(map[string]int64, len(raw))
	for candidate, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed count for %s/%s: %w", electionID, candidate, err)
		}
		counts[candidate] = n
	}
	return counts, nil
}

func (c *CountCache) SetCounts(ctx context.Context, electionID string, counts map[string]int64) error {
	key := countsKey(electionID)
	fields := make(map[string]interface{}, len(counts))
	for candidate, n := range counts {
		fields[candidate] = n
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(fields) > 0 {
		pipe.HSet(ctx, key, fields)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set counts for %s: %w", electionID, err)
	}
	return nil
}

func (c *CountCache) Close() error {
	return c.client.Close()
}
