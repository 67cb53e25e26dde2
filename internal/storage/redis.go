package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sonson0910/moderntensor-aptos/internal/util"
)

const (
	keyPrefix = "mtcore:"

	// Key patterns
	keySummaries = keyPrefix + "phases"
	keyScores    = keyPrefix + "scores:%d"
	keyStats     = keyPrefix + "stats"
	keyLastSlot  = keyPrefix + "lastslot"
)

// How many phase summaries are retained, and for how long score vectors
// stay readable
const (
	summaryRetention = 256
	scoresTTL        = 24 * time.Hour
)

// RedisClient wraps Redis operations for the validator
type RedisClient struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisClient creates a new Redis client
func NewRedisClient(url, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	util.Info("Connected to Redis at ", url)
	return &RedisClient{client: client, ctx: ctx}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// WriteSummary stores a completed phase summary and advances the
// last-slot pointer
func (r *RedisClient) WriteSummary(s *PhaseSummary) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}

	pipe := r.client.Pipeline()
	pipe.LPush(r.ctx, keySummaries, data)
	pipe.LTrim(r.ctx, keySummaries, 0, summaryRetention-1)
	pipe.Set(r.ctx, keyLastSlot, s.SlotID, 0)
	_, err = pipe.Exec(r.ctx)
	return err
}

// GetRecentSummaries returns up to n most recent phase summaries,
// newest first
func (r *RedisClient) GetRecentSummaries(n int) ([]*PhaseSummary, error) {
	if n <= 0 {
		n = 16
	}
	raw, err := r.client.LRange(r.ctx, keySummaries, 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}

	summaries := make([]*PhaseSummary, 0, len(raw))
	for _, item := range raw {
		var s PhaseSummary
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			util.Warnf("Skipping undecodable phase summary: %v", err)
			continue
		}
		summaries = append(summaries, &s)
	}
	return summaries, nil
}

// WriteScores stores the final score vector for a slot
func (r *RedisClient) WriteScores(slotID uint64, scores map[string]float64) error {
	if len(scores) == 0 {
		return nil
	}

	key := fmt.Sprintf(keyScores, slotID)
	fields := make(map[string]interface{}, len(scores))
	for uid, score := range scores {
		fields[uid] = score
	}

	pipe := r.client.Pipeline()
	pipe.HSet(r.ctx, key, fields)
	pipe.Expire(r.ctx, key, scoresTTL)
	_, err := pipe.Exec(r.ctx)
	return err
}

// GetScores returns the stored score vector for a slot
func (r *RedisClient) GetScores(slotID uint64) (map[string]float64, error) {
	key := fmt.Sprintf(keyScores, slotID)
	raw, err := r.client.HGetAll(r.ctx, key).Result()
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64, len(raw))
	for uid, v := range raw {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			util.Warnf("Skipping undecodable score for %s: %v", util.ShortUID(uid), err)
			continue
		}
		scores[uid] = f
	}
	return scores, nil
}

// LastSlot returns the most recently completed slot id, zero when no
// phase has run yet
func (r *RedisClient) LastSlot() (uint64, error) {
	v, err := r.client.Get(r.ctx, keyLastSlot).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// SetValidatorStats stores the live validator stats
func (r *RedisClient) SetValidatorStats(stats *ValidatorStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return err
	}
	return r.client.Set(r.ctx, keyStats, data, 0).Err()
}

// GetValidatorStats returns the live validator stats
func (r *RedisClient) GetValidatorStats() (*ValidatorStats, error) {
	data, err := r.client.Get(r.ctx, keyStats).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var stats ValidatorStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
