package transactions

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
)

func seedTx(t *testing.T, store *MemoryStore, sender, receiver int64, base string, age time.Duration) *Transaction {
	t.Helper()
	tx := &Transaction{
		Kind:       KindTransfer,
		Asset:      assets.USD,
		Amount:     decimal.RequireFromString(base),
		AmountBase: decimal.RequireFromString(base),
		SenderID:   sender,
		ReceiverID: receiver,
		CreatedAt:  time.Now().Add(-age),
	}
	if err := store.Create(context.Background(), tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return tx
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	tx := seedTx(t, store, 1, 2, "100", 0)

	if tx.ID == 0 {
		t.Fatal("expected assigned id")
	}
	got, err := store.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != StatusPending {
		t.Errorf("expected PENDING, got %s", got.Status)
	}
	if !got.AmountBase.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected 100, got %s", got.AmountBase)
	}

	if _, err := store.Get(context.Background(), 9999); err != ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestMemoryStore_UpdateStatus(t *testing.T) {
	store := NewMemoryStore()
	tx := seedTx(t, store, 1, 2, "100", 0)

	if err := store.UpdateStatus(context.Background(), tx.ID, StatusFlagged); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, _ := store.Get(context.Background(), tx.ID)
	if got.Status != StatusFlagged {
		t.Errorf("expected FLAGGED, got %s", got.Status)
	}

	if err := store.UpdateStatus(context.Background(), 9999, StatusSuccess); err != ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestMemoryStore_CountWindowAndMinAmount(t *testing.T) {
	store := NewMemoryStore()
	seedTx(t, store, 1, 2, "150", time.Hour)
	seedTx(t, store, 1, 3, "50", 2*time.Hour)
	seedTx(t, store, 1, 4, "200", 40*24*time.Hour) // outside window
	seedTx(t, store, 9, 1, "500", time.Hour)       // different sender

	since := time.Now().Add(-30 * 24 * time.Hour)
	n, err := store.Count(context.Background(), Filter{Role: RoleSender, CustomerID: 1, Since: since})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 in-window outgoing, got %d", n)
	}

	min := decimal.NewFromInt(100)
	n, err = store.Count(context.Background(), Filter{Role: RoleSender, CustomerID: 1, Since: since, MinAmount: &min})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 above min amount, got %d", n)
	}
}

func TestMemoryStore_MinAmountInclusive(t *testing.T) {
	store := NewMemoryStore()
	seedTx(t, store, 1, 2, "100", time.Hour)

	min := decimal.NewFromInt(100)
	n, err := store.Count(context.Background(), Filter{Role: RoleSender, CustomerID: 1, MinAmount: &min})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected boundary amount to be included, got %d", n)
	}
}

func TestMemoryStore_SumExcludesCurrent(t *testing.T) {
	store := NewMemoryStore()
	seedTx(t, store, 1, 2, "300", time.Hour)
	current := seedTx(t, store, 1, 3, "700", 0)

	sum, err := store.Sum(context.Background(), Filter{Role: RoleSender, CustomerID: 1, ExcludeID: current.ID})
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if !sum.Equal(decimal.NewFromInt(300)) {
		t.Errorf("expected 300, got %s", sum)
	}
}

func TestMemoryStore_GroupBySender(t *testing.T) {
	store := NewMemoryStore()
	seedTx(t, store, 10, 1, "100", time.Hour)
	seedTx(t, store, 10, 1, "200", 2*time.Hour)
	seedTx(t, store, 11, 1, "50", time.Hour)
	seedTx(t, store, 12, 2, "999", time.Hour) // different receiver

	groups, err := store.GroupBySender(context.Background(), Filter{Role: RoleReceiver, CustomerID: 1})
	if err != nil {
		t.Fatalf("GroupBySender failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 sender groups, got %d", len(groups))
	}
	byID := make(map[int64]SenderGroup)
	for _, g := range groups {
		byID[g.SenderID] = g
	}
	if g := byID[10]; g.Count != 2 || !g.Sum.Equal(decimal.NewFromInt(300)) {
		t.Errorf("sender 10: expected count 2 sum 300, got count %d sum %s", g.Count, g.Sum)
	}
	if g := byID[11]; g.Count != 1 || !g.Sum.Equal(decimal.NewFromInt(50)) {
		t.Errorf("sender 11: expected count 1 sum 50, got count %d sum %s", g.Count, g.Sum)
	}
}

func TestMemoryStore_MostRecent(t *testing.T) {
	store := NewMemoryStore()

	got, err := store.MostRecent(context.Background(), Filter{Role: RoleSender, CustomerID: 1})
	if err != nil {
		t.Fatalf("MostRecent failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for empty history")
	}

	seedTx(t, store, 1, 2, "100", 48*time.Hour)
	latest := seedTx(t, store, 1, 3, "200", time.Hour)

	got, err = store.MostRecent(context.Background(), Filter{Role: RoleSender, CustomerID: 1})
	if err != nil {
		t.Fatalf("MostRecent failed: %v", err)
	}
	if got == nil || got.ID != latest.ID {
		t.Errorf("expected most recent tx %d, got %+v", latest.ID, got)
	}
}
