package quote

import (
	"context"
	"errors"
	"sync"
)

var ErrNoQuotes = errors.New("no quotes for symbol")

// Static is a Source backed by a fixed set of snapshots. The demo binary
// seeds it from config; tests seed it directly.
type Static struct {
	mu    sync.RWMutex
	books map[string]map[string]*BookSnapshot // symbol -> venue -> book
}

func NewStatic() *Static {
	return &Static{books: make(map[string]map[string]*BookSnapshot)}
}

func (s *Static) Put(book *BookSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byVenue, ok := s.books[book.Symbol]
	if !ok {
		byVenue = make(map[string]*BookSnapshot)
		s.books[book.Symbol] = byVenue
	}
	byVenue[book.Venue] = book
}

func (s *Static) Snapshot(_ context.Context, symbol string, venues []string) (map[string]*BookSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byVenue, ok := s.books[symbol]
	if !ok {
		return nil, ErrNoQuotes
	}

	out := make(map[string]*BookSnapshot, len(venues))
	for _, v := range venues {
		if book, ok := byVenue[v]; ok {
			out[v] = book
		}
	}
	return out, nil
}
