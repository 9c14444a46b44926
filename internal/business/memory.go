package business

import (
	"context"
	"sync"
)

type memoryRepository struct {
	mu         sync.RWMutex
	businesses map[string]Business
	emails     map[string]string
}

// NewMemoryRepository builds an in-memory business store.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		businesses: make(map[string]Business),
		emails:     make(map[string]string),
	}
}

func (r *memoryRepository) Create(_ context.Context, b Business) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.emails[b.Email]; exists {
		return ErrEmailTaken
	}
	r.businesses[b.ID] = b
	r.emails[b.Email] = b.ID
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.businesses[id]
	if !ok {
		return Business{}, ErrNotFound
	}
	return b, nil
}
