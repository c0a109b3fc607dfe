package ledger

import (
	"context"
	"fmt"
	"sync"

	"sleipnir/internal/domain"
)

// MemStore is an in-memory Store for tests and unpersisted runs.
type MemStore struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
}

func NewMemStore() *MemStore {
	return &MemStore{orders: make(map[string]domain.Order)}
}

func (s *MemStore) Load(_ context.Context, orderID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	return order, nil
}

func (s *MemStore) Save(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
	return nil
}
