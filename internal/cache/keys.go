package cache

import (
	"fmt"
	"time"
)

func JobStatusKey(analysisID string) string {
	return fmt.Sprintf("job:%s", analysisID)
}

// RateLimitKey names the request counter of one API key for the window that
// starts at windowStart.
func RateLimitKey(keyPrefix string, windowStart time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", keyPrefix, windowStart.Unix())
}

func StageBufferKey(analysisID, stage string) string {
	return fmt.Sprintf("buffer:%s:%s", analysisID, stage)
}

func SuggestionResultKey(analysisID string, batch int) string {
	return fmt.Sprintf("suggestion_result:%s:%d", analysisID, batch)
}

func LockKey(key string) string {
	return fmt.Sprintf("lock:%s", key)
}
