package cases

import (
	"context"
	"sync"
	"time"

	"github.com/meridianpay/sentinel/internal/transactions"
)

// MemoryStore is an in-memory case store for demo/development mode. It
// carries the transaction store so Resolve can flip both statuses under
// one lock, mirroring the single-transaction semantics of the Postgres
// implementation.
type MemoryStore struct {
	mu     sync.Mutex
	cases  map[int64]*Case
	nextID int64
	txs    transactions.Store
}

// NewMemoryStore creates a new in-memory case store.
func NewMemoryStore(txs transactions.Store) *MemoryStore {
	return &MemoryStore{cases: make(map[int64]*Case), txs: txs}
}

func (m *MemoryStore) OpenCase(ctx context.Context, c *Case) (*Case, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.cases {
		if existing.TransactionID == c.TransactionID && existing.Status == StatusOpen {
			cp := *existing
			return &cp, false, nil
		}
	}

	m.nextID++
	c.ID = m.nextID
	c.Status = StatusOpen
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	cp := *c
	m.cases[c.ID] = &cp
	out := *c
	return &out, true, nil
}

func (m *MemoryStore) Get(ctx context.Context, id int64) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context, status Status, limit int) ([]*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []*Case
	for _, c := range m.cases {
		if status != "" && c.Status != status {
			continue
		}
		cp := *c
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, id int64, decision Status, txStatus transactions.Status) (*Case, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[id]
	if !ok {
		return nil, ErrCaseNotFound
	}
	if c.Status != StatusOpen {
		return nil, ErrCaseAlreadyResolved
	}

	if err := m.txs.UpdateStatus(ctx, c.TransactionID, txStatus); err != nil {
		return nil, err
	}
	c.Status = decision
	c.UpdatedAt = time.Now()
	cp := *c
	return &cp, nil
}
