package orders

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps orders in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]Order)}
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	if !ok {
		return Order{}, ErrNotFound
	}
	return order.Clone(), nil
}

func (s *MemoryStore) SaveOrder(_ context.Context, order Order) error {
	if err := prepareForSave(&order); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// Notes are append-only through AddNote; an update never replaces them.
	if existing, ok := s.orders[order.ID]; ok {
		order.CreatedAt = existing.CreatedAt
		order.Notes = existing.Notes
	}
	s.orders[order.ID] = order.Clone()
	return nil
}

func (s *MemoryStore) SavePayment(_ context.Context, orderID string, update PaymentUpdate) (Order, bool, error) {
	if err := update.Record.Validate(); err != nil {
		return Order{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return Order{}, false, ErrNotFound
	}
	if !update.apply(&order) {
		return order.Clone(), false, nil
	}
	s.orders[orderID] = order.Clone()
	return order.Clone(), true, nil
}

func (s *MemoryStore) AddNote(_ context.Context, orderID string, note Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return ErrNotFound
	}
	order.Notes = append(append([]Note(nil), order.Notes...), note)
	order.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = order
	return nil
}

func (s *MemoryStore) Close() error { return nil }
