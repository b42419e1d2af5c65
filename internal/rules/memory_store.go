package rules

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory rule store for demo/development mode.
type MemoryStore struct {
	mu    sync.RWMutex
	rules map[Key]*Rule
}

// NewMemoryStore creates a new in-memory rule store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rules: make(map[Key]*Rule)}
}

func (m *MemoryStore) EnsureCatalog(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range Catalog {
		if _, ok := m.rules[key]; ok {
			continue
		}
		r := DefaultRule(key)
		r.UpdatedAt = time.Now()
		m.rules[key] = r
	}
	return nil
}

func (m *MemoryStore) ListEnabled(ctx context.Context) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Rule
	for _, r := range m.rules {
		if r.Enabled {
			cp := *r
			result = append(result, &cp)
		}
	}
	return sortCatalogOrder(result), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		cp := *r
		result = append(result, &cp)
	}
	return sortCatalogOrder(result), nil
}

func (m *MemoryStore) Get(ctx context.Context, key Key) (*Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rules[key]
	if !ok {
		return nil, ErrRuleNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, key Key, u Update) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rules[key]
	if !ok {
		return nil, ErrRuleNotFound
	}
	applyUpdate(r, u)
	r.UpdatedAt = time.Now()
	cp := *r
	return &cp, nil
}

func applyUpdate(r *Rule, u Update) {
	if u.Enabled != nil {
		r.Enabled = *u.Enabled
	}
	if u.PeriodDays != nil {
		r.PeriodDays = u.PeriodDays
	}
	if u.ThresholdFiat != nil {
		r.ThresholdFiat = u.ThresholdFiat
	}
	if u.MinCount != nil {
		r.MinCount = u.MinCount
	}
	if u.PercentThreshold != nil {
		r.PercentThreshold = u.PercentThreshold
	}
}
