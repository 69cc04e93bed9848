package userstore

import (
	"context"
	"sync"

	"butler/internal/auth"
)

// MemoryStore mantém o usuário apenas em memória
type MemoryStore struct {
	mu   sync.Mutex
	user *auth.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load(context.Context) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user == nil {
		return nil, nil
	}
	clone := *s.user
	return &clone, nil
}

func (s *MemoryStore) Save(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user == nil {
		s.user = nil
		return nil
	}
	clone := *user
	s.user = &clone
	return nil
}

func (s *MemoryStore) Delete(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = nil
	return nil
}

func (s *MemoryStore) Close() error { return nil }
