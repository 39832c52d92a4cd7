package callbacks

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// FailedDelivery is a callback that exhausted all retry attempts.
type FailedDelivery struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	EventType   string          `json:"eventType"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError"`
	LastAttempt time.Time       `json:"lastAttempt"`
}

// DeadLetterStore keeps failed deliveries for inspection and manual replay.
type DeadLetterStore interface {
	SaveFailedDelivery(ctx context.Context, delivery FailedDelivery) error
	ListFailedDeliveries(ctx context.Context, limit int) ([]FailedDelivery, error)
}

// MemoryDeadLetterStore keeps failed deliveries in memory.
type MemoryDeadLetterStore struct {
	mu         sync.RWMutex
	deliveries map[string]FailedDelivery
}

func NewMemoryDeadLetterStore() *MemoryDeadLetterStore {
	return &MemoryDeadLetterStore{deliveries: make(map[string]FailedDelivery)}
}

func (m *MemoryDeadLetterStore) SaveFailedDelivery(_ context.Context, delivery FailedDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[delivery.ID] = delivery
	return nil
}

// ListFailedDeliveries returns the most recent failures first.
func (m *MemoryDeadLetterStore) ListFailedDeliveries(_ context.Context, limit int) ([]FailedDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FailedDelivery, 0, len(m.deliveries))
	for _, d := range m.deliveries {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].LastAttempt.After(result[j].LastAttempt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
