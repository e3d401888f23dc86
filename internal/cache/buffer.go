package cache

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/kiranshivaraju/codereview/internal/pipeline"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

var bufferedStages = []string{models.StageScreening, models.StageDetection, models.StageSuggestions}

// StageBuffer keeps stage results in one Redis hash per analysis and stage,
// keyed by batch index. Hashes expire after ttl so abandoned analyses do not
// linger.
type StageBuffer struct {
	cache *RedisCache
	ttl   time.Duration
}

func NewStageBuffer(c *RedisCache, ttl time.Duration) *StageBuffer {
	return &StageBuffer{cache: c, ttl: ttl}
}

func (b *StageBuffer) Put(ctx context.Context, analysisID, stage string, batch int, raw []byte) error {
	key := StageBufferKey(analysisID, stage)
	pipe := b.cache.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(batch), raw)
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("buffer %s batch %d: %w", stage, batch, err)
	}
	return nil
}

func (b *StageBuffer) Get(ctx context.Context, analysisID, stage string) ([][]byte, error) {
	fields, err := b.cache.client.HGetAll(ctx, StageBufferKey(analysisID, stage)).Result()
	if err != nil {
		return nil, fmt.Errorf("read buffer %s: %w", stage, err)
	}

	byIndex := make(map[int][]byte, len(fields))
	for field, val := range fields {
		idx, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		byIndex[idx] = []byte(val)
	}
	out := make([][]byte, 0, len(byIndex))
	for _, idx := range slices.Sorted(maps.Keys(byIndex)) {
		out = append(out, byIndex[idx])
	}
	return out, nil
}

func (b *StageBuffer) Delete(ctx context.Context, analysisID string) error {
	keys := make([]string, len(bufferedStages))
	for i, stage := range bufferedStages {
		keys[i] = StageBufferKey(analysisID, stage)
	}
	return b.cache.client.Del(ctx, keys...).Err()
}

// AsyncResults is where asynchronously invoked suggestion functions publish their
// response, one key per analysis batch.
type AsyncResults struct {
	cache *RedisCache
	ttl   time.Duration
}

func NewAsyncResults(c *RedisCache, ttl time.Duration) *AsyncResults {
	return &AsyncResults{cache: c, ttl: ttl}
}

func (r *AsyncResults) Store(ctx context.Context, analysisID string, batch int, raw []byte) error {
	return r.cache.Set(ctx, SuggestionResultKey(analysisID, batch), raw, r.ttl)
}

func (r *AsyncResults) Fetch(ctx context.Context, analysisID string, batch int) ([]byte, bool, error) {
	return r.cache.Get(ctx, SuggestionResultKey(analysisID, batch))
}

var (
	_ pipeline.Buffer      = (*StageBuffer)(nil)
	_ pipeline.ResultStore = (*AsyncResults)(nil)
)
