package transactions_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
	"github.com/meridianpay/sentinel/internal/testutil"
	"github.com/meridianpay/sentinel/internal/transactions"
)

func newPGStore(t *testing.T) (*transactions.PostgresStore, *sql.DB) {
	t.Helper()
	db := testutil.PG(t)
	return transactions.NewPostgresStore(db), db
}

// seedPGTx inserts a transaction and backdates it. The store stamps
// created_at with NOW(), so window tests adjust it directly.
func seedPGTx(t *testing.T, store *transactions.PostgresStore, db *sql.DB, sender, receiver int64, base string, age time.Duration) *transactions.Transaction {
	t.Helper()
	tx := &transactions.Transaction{
		Kind:       transactions.KindTransfer,
		Asset:      assets.USD,
		Amount:     decimal.RequireFromString(base),
		AmountBase: decimal.RequireFromString(base),
		SenderID:   sender,
		ReceiverID: receiver,
	}
	if err := store.Create(context.Background(), tx); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if age > 0 {
		_, err := db.ExecContext(context.Background(),
			"UPDATE transactions SET created_at = created_at - $2::INTERVAL WHERE id = $1",
			tx.ID, age.String())
		if err != nil {
			t.Fatalf("backdate transaction: %v", err)
		}
		tx.CreatedAt = tx.CreatedAt.Add(-age)
	}
	return tx
}

func TestPostgresStore_CreateAndGet(t *testing.T) {
	store, db := newPGStore(t)

	tx := seedPGTx(t, store, db, 1, 2, "100.50", 0)
	if tx.ID == 0 {
		t.Fatal("expected assigned id")
	}
	if tx.CreatedAt.IsZero() {
		t.Fatal("expected created_at from database")
	}

	got, err := store.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != transactions.StatusPending {
		t.Errorf("expected PENDING, got %s", got.Status)
	}
	if !got.AmountBase.Equal(decimal.RequireFromString("100.50")) {
		t.Errorf("expected 100.50, got %s", got.AmountBase)
	}
	if got.SenderID != 1 || got.ReceiverID != 2 {
		t.Errorf("expected sender 1 receiver 2, got %d/%d", got.SenderID, got.ReceiverID)
	}

	if _, err := store.Get(context.Background(), 9999); err != transactions.ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestPostgresStore_AbsentCustomerIsNull(t *testing.T) {
	store, db := newPGStore(t)

	// A deposit has no sender; zero maps to NULL and must not be matched
	// by aggregates for customer 0.
	tx := seedPGTx(t, store, db, 0, 7, "100", 0)

	got, err := store.Get(context.Background(), tx.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.SenderID != 0 {
		t.Errorf("expected zero sender id, got %d", got.SenderID)
	}

	n, err := store.Count(context.Background(), transactions.Filter{
		Role: transactions.RoleSender, CustomerID: 0,
	})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 0 {
		t.Errorf("NULL sender matched customer 0: count %d", n)
	}
}

func TestPostgresStore_UpdateStatus(t *testing.T) {
	store, db := newPGStore(t)
	tx := seedPGTx(t, store, db, 1, 2, "100", 0)

	if err := store.UpdateStatus(context.Background(), tx.ID, transactions.StatusFlagged); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	got, _ := store.Get(context.Background(), tx.ID)
	if got.Status != transactions.StatusFlagged {
		t.Errorf("expected FLAGGED, got %s", got.Status)
	}

	if err := store.UpdateStatus(context.Background(), 9999, transactions.StatusSuccess); err != transactions.ErrTransactionNotFound {
		t.Errorf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestPostgresStore_CountWindowAndMinAmount(t *testing.T) {
	store, db := newPGStore(t)
	seedPGTx(t, store, db, 1, 2, "150", time.Hour)
	seedPGTx(t, store, db, 1, 3, "50", 2*time.Hour)
	seedPGTx(t, store, db, 1, 4, "200", 40*24*time.Hour) // outside window
	seedPGTx(t, store, db, 9, 1, "500", time.Hour)       // different sender

	since := time.Now().Add(-30 * 24 * time.Hour)
	n, err := store.Count(context.Background(), transactions.Filter{
		Role: transactions.RoleSender, CustomerID: 1, Since: since,
	})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 in-window outgoing, got %d", n)
	}

	min := decimal.NewFromInt(100)
	n, err = store.Count(context.Background(), transactions.Filter{
		Role: transactions.RoleSender, CustomerID: 1, Since: since, MinAmount: &min,
	})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 above min amount, got %d", n)
	}
}

func TestPostgresStore_SumExcludesCurrent(t *testing.T) {
	store, db := newPGStore(t)
	seedPGTx(t, store, db, 1, 2, "300.25", time.Hour)
	current := seedPGTx(t, store, db, 1, 3, "700", 0)

	sum, err := store.Sum(context.Background(), transactions.Filter{
		Role: transactions.RoleSender, CustomerID: 1, ExcludeID: current.ID,
	})
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if !sum.Equal(decimal.RequireFromString("300.25")) {
		t.Errorf("expected 300.25, got %s", sum)
	}
}

func TestPostgresStore_SumEmptyIsZero(t *testing.T) {
	store, _ := newPGStore(t)

	sum, err := store.Sum(context.Background(), transactions.Filter{
		Role: transactions.RoleSender, CustomerID: 42,
	})
	if err != nil {
		t.Fatalf("Sum failed: %v", err)
	}
	if !sum.IsZero() {
		t.Errorf("expected zero sum for empty history, got %s", sum)
	}
}

func TestPostgresStore_GroupBySender(t *testing.T) {
	store, db := newPGStore(t)
	seedPGTx(t, store, db, 10, 1, "100", time.Hour)
	seedPGTx(t, store, db, 10, 1, "200", 2*time.Hour)
	seedPGTx(t, store, db, 11, 1, "50", time.Hour)
	seedPGTx(t, store, db, 12, 2, "999", time.Hour) // different receiver
	seedPGTx(t, store, db, 0, 1, "75", time.Hour)   // anonymous deposit, no sender group

	groups, err := store.GroupBySender(context.Background(), transactions.Filter{
		Role: transactions.RoleReceiver, CustomerID: 1,
	})
	if err != nil {
		t.Fatalf("GroupBySender failed: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 sender groups, got %d", len(groups))
	}
	byID := make(map[int64]transactions.SenderGroup)
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

func TestPostgresStore_MostRecent(t *testing.T) {
	store, db := newPGStore(t)

	got, err := store.MostRecent(context.Background(), transactions.Filter{
		Role: transactions.RoleSender, CustomerID: 1,
	})
	if err != nil {
		t.Fatalf("MostRecent failed: %v", err)
	}
	if got != nil {
		t.Fatal("expected nil for empty history")
	}

	seedPGTx(t, store, db, 1, 2, "100", 48*time.Hour)
	latest := seedPGTx(t, store, db, 1, 3, "200", time.Hour)

	got, err = store.MostRecent(context.Background(), transactions.Filter{
		Role: transactions.RoleSender, CustomerID: 1,
	})
	if err != nil {
		t.Fatalf("MostRecent failed: %v", err)
	}
	if got == nil || got.ID != latest.ID {
		t.Errorf("expected most recent tx %d, got %+v", latest.ID, got)
	}
}
