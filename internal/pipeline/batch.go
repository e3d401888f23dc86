package pipeline

import (
	"encoding/json"
)

// splitBatches packs items greedily into batches of at most size items whose
// serialized form stays within maxBytes. An item larger than maxBytes gets a batch
// of its own.
func splitBatches[T any](items []T, size, maxBytes int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(items)
	}

	var (
		batches [][]T
		current []T
		bytes   int
	)
	for _, item := range items {
		n := 0
		if maxBytes > 0 {
			if b, err := json.Marshal(item); err == nil {
				n = len(b)
			}
		}
		if len(current) > 0 && (len(current) >= size || maxBytes > 0 && bytes+n > maxBytes) {
			batches = append(batches, current)
			current, bytes = nil, 0
		}
		current = append(current, item)
		bytes += n
	}
	return append(batches, current)
}
