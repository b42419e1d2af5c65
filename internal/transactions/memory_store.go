package transactions

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory transaction store for demo/development mode.
// It implements both Store and Query.
type MemoryStore struct {
	mu     sync.RWMutex
	txs    map[int64]*Transaction
	nextID int64
}

// NewMemoryStore creates a new in-memory transaction store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{txs: make(map[int64]*Transaction)}
}

func (m *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	tx.ID = m.nextID
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	if tx.Status == "" {
		tx.Status = StatusPending
	}
	cp := *tx
	m.txs[tx.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *MemoryStore) UpdateStatus(ctx context.Context, id int64, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[id]
	if !ok {
		return ErrTransactionNotFound
	}
	tx.Status = status
	return nil
}

// matches reports whether tx passes the filter.
func matches(tx *Transaction, f Filter) bool {
	if tx.ID == f.ExcludeID {
		return false
	}
	switch f.Role {
	case RoleSender:
		if tx.SenderID != f.CustomerID {
			return false
		}
	case RoleReceiver:
		if tx.ReceiverID != f.CustomerID {
			return false
		}
	default:
		return false
	}
	if f.CustomerID == 0 {
		return false
	}
	if !f.Since.IsZero() && tx.CreatedAt.Before(f.Since) {
		return false
	}
	if f.MinAmount != nil && tx.AmountBase.LessThan(*f.MinAmount) {
		return false
	}
	return true
}

func (m *MemoryStore) Count(ctx context.Context, f Filter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, tx := range m.txs {
		if matches(tx, f) {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Sum(ctx context.Context, f Filter) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := decimal.Zero
	for _, tx := range m.txs {
		if matches(tx, f) {
			sum = sum.Add(tx.AmountBase)
		}
	}
	return sum, nil
}

func (m *MemoryStore) GroupBySender(ctx context.Context, f Filter) ([]SenderGroup, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := make(map[int64]*SenderGroup)
	for _, tx := range m.txs {
		if !matches(tx, f) || tx.SenderID == 0 {
			continue
		}
		g, ok := byID[tx.SenderID]
		if !ok {
			g = &SenderGroup{SenderID: tx.SenderID, Sum: decimal.Zero}
			byID[tx.SenderID] = g
		}
		g.Count++
		g.Sum = g.Sum.Add(tx.AmountBase)
	}

	result := make([]SenderGroup, 0, len(byID))
	for _, g := range byID {
		result = append(result, *g)
	}
	return result, nil
}

func (m *MemoryStore) MostRecent(ctx context.Context, f Filter) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Transaction
	for _, tx := range m.txs {
		if !matches(tx, f) {
			continue
		}
		if latest == nil || tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}
