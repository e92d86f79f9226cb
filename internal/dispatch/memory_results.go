package dispatch

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avdeev/poizon-sync/internal/queue"
)

// memoryResults records inline execution outcomes. Inline mode has no
// broker, so results live only for the lifetime of the process.
type memoryResults struct {
	mu      sync.RWMutex
	results map[uuid.UUID]*queue.Result
}

func newMemoryResults() *memoryResults {
	return &memoryResults{results: make(map[uuid.UUID]*queue.Result)}
}

func (m *memoryResults) set(res *queue.Result) {
	res.UpdatedAt = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[res.ID] = res
}

func (m *memoryResults) get(id uuid.UUID) (*queue.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", queue.ErrResultNotFound, id)
	}
	return res, nil
}
