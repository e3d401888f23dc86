package pipeline

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/kiranshivaraju/codereview/pkg/models"
)

// MemoryBuffer is a process-local Buffer.
type MemoryBuffer struct {
	mu   sync.Mutex
	data map[string]map[string]map[int][]byte
}

func NewMemoryBuffer() *MemoryBuffer {
	return &MemoryBuffer{data: make(map[string]map[string]map[int][]byte)}
}

func (b *MemoryBuffer) Put(_ context.Context, analysisID, stage string, batch int, raw []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	stages, ok := b.data[analysisID]
	if !ok {
		stages = make(map[string]map[int][]byte)
		b.data[analysisID] = stages
	}
	batches, ok := stages[stage]
	if !ok {
		batches = make(map[int][]byte)
		stages[stage] = batches
	}
	batches[batch] = slices.Clone(raw)
	return nil
}

func (b *MemoryBuffer) Get(_ context.Context, analysisID, stage string) ([][]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	batches := b.data[analysisID][stage]
	out := make([][]byte, 0, len(batches))
	for _, idx := range slices.Sorted(maps.Keys(batches)) {
		out = append(out, batches[idx])
	}
	return out, nil
}

func (b *MemoryBuffer) Delete(_ context.Context, analysisID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, analysisID)
	return nil
}

// Len returns the number of analyses with buffered responses.
func (b *MemoryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

type resultKey struct {
	analysisID string
	batch      int
}

// MemoryResultStore is a process-local ResultStore.
type MemoryResultStore struct {
	mu      sync.Mutex
	results map[resultKey][]byte
}

func NewMemoryResultStore() *MemoryResultStore {
	return &MemoryResultStore{results: make(map[resultKey][]byte)}
}

func (s *MemoryResultStore) Store(_ context.Context, analysisID string, batch int, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[resultKey{analysisID, batch}] = slices.Clone(raw)
	return nil
}

func (s *MemoryResultStore) Fetch(_ context.Context, analysisID string, batch int) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.results[resultKey{analysisID, batch}]
	return raw, ok, nil
}

// MemoryStatusStore is a process-local StatusStore. TTLs are ignored.
type MemoryStatusStore struct {
	mu       sync.Mutex
	statuses map[string]models.JobStatus
}

func NewMemoryStatusStore() *MemoryStatusStore {
	return &MemoryStatusStore{statuses: make(map[string]models.JobStatus)}
}

func (s *MemoryStatusStore) SetStatus(_ context.Context, status models.JobStatus, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[status.AnalysisID] = status
	return nil
}

func (s *MemoryStatusStore) GetStatus(_ context.Context, analysisID string) (models.JobStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[analysisID]
	return st, ok, nil
}

var (
	_ Buffer      = (*MemoryBuffer)(nil)
	_ ResultStore = (*MemoryResultStore)(nil)
	_ StatusStore = (*MemoryStatusStore)(nil)
)
