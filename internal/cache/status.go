package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranshivaraju/codereview/internal/pipeline"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

func (c *RedisCache) SetStatus(ctx context.Context, status models.JobStatus, ttl time.Duration) error {
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode status: %w", err)
	}
	return c.client.Set(ctx, JobStatusKey(status.AnalysisID), data, ttl).Err()
}

func (c *RedisCache) GetStatus(ctx context.Context, analysisID string) (models.JobStatus, bool, error) {
	data, found, err := c.Get(ctx, JobStatusKey(analysisID))
	if err != nil || !found {
		return models.JobStatus{}, false, err
	}
	var st models.JobStatus
	if err := json.Unmarshal(data, &st); err != nil {
		return models.JobStatus{}, false, fmt.Errorf("decode status %s: %w", analysisID, err)
	}
	return st, true, nil
}

var _ pipeline.StatusStore = (*RedisCache)(nil)
