package auth

import (
	"context"
	"sync"
)

// MemoryStore: storage.driver=memory 用（再起動で消える）
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]*Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: map[string]*Account{}}
}

func (m *MemoryStore) GetByID(_ context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if a, ok := m.byID[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *MemoryStore) Create(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[a.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *a
	m.byID[a.ID] = &cp
	return nil
}

func (m *MemoryStore) SetApproved(_ context.Context, id string, approved bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return 0, nil
	}
	a.IsApproved = approved
	return 1, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return 0, nil
	}
	delete(m.byID, id)
	return 1, nil
}

var _ AccountStore = (*MemoryStore)(nil)
