package suppliers

import (
	"context"
	"sort"
	"strings"
	"sync"
)

type MemoryStore struct {
	mu   sync.Mutex
	next int64
	rows map[int64]Supplier
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{next: 1, rows: map[int64]Supplier{}} }

func (m *MemoryStore) Insert(_ context.Context, s *Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.next
	m.next++
	m.rows[s.ID] = *s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id int64) (*Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) Update(_ context.Context, s *Supplier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[s.ID]; ok {
		m.rows[s.ID] = *s
	}
	return nil
}

// Delete: メモリ版は備品側の参照を持たないので消すだけ
func (m *MemoryStore) Delete(_ context.Context, id int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return 0, nil
	}
	delete(m.rows, id)
	return 1, nil
}

func (m *MemoryStore) List(_ context.Context, q string, p Page) ([]Supplier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q = strings.ToLower(q)
	out := []Supplier{}
	for _, s := range m.rows {
		if q == "" || strings.Contains(strings.ToLower(s.Name), q) || strings.Contains(strings.ToLower(s.City), q) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	if p.Offset > 0 {
		if p.Offset >= len(out) {
			return []Supplier{}, nil
		}
		out = out[p.Offset:]
	}
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
