package cases_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
	"github.com/meridianpay/sentinel/internal/cases"
	"github.com/meridianpay/sentinel/internal/rules"
	"github.com/meridianpay/sentinel/internal/testutil"
	"github.com/meridianpay/sentinel/internal/transactions"
)

func newPGCaseStore(t *testing.T) (*cases.PostgresStore, *transactions.PostgresStore) {
	t.Helper()
	db := testutil.PG(t)
	return cases.NewPostgresStore(db), transactions.NewPostgresStore(db)
}

// flaggedTx creates the transaction a case will reference. Cases carry a
// foreign key to transactions, so every case test needs a real row.
func flaggedTx(t *testing.T, txStore *transactions.PostgresStore) *transactions.Transaction {
	t.Helper()
	tx := &transactions.Transaction{
		Kind:       transactions.KindWithdrawal,
		Asset:      assets.USD,
		Amount:     decimal.NewFromInt(700_000),
		AmountBase: decimal.NewFromInt(700_000),
		SenderID:   1,
	}
	if err := txStore.Create(context.Background(), tx); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return tx
}

func TestPostgresStore_OpenCaseAndGet(t *testing.T) {
	store, txStore := newPGCaseStore(t)
	ctx := context.Background()
	tx := flaggedTx(t, txStore)

	c, created, err := store.OpenCase(ctx, &cases.Case{
		TransactionID: tx.ID,
		RuleKey:       rules.KeyOneTimeLarge,
		Reason:        "amount 700000 at or above threshold 600000",
	})
	if err != nil {
		t.Fatalf("OpenCase failed: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for first open")
	}
	if c.ID == 0 || c.Status != cases.StatusOpen {
		t.Fatalf("expected assigned id and OPEN status, got %+v", c)
	}

	got, err := store.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.RuleKey != rules.KeyOneTimeLarge || got.TransactionID != tx.ID {
		t.Errorf("unexpected case: %+v", got)
	}

	if _, err := store.Get(ctx, 9999); err != cases.ErrCaseNotFound {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestPostgresStore_OpenCaseDeduplicates(t *testing.T) {
	store, txStore := newPGCaseStore(t)
	ctx := context.Background()
	tx := flaggedTx(t, txStore)

	first, created, err := store.OpenCase(ctx, &cases.Case{
		TransactionID: tx.ID, RuleKey: rules.KeyOneTimeLarge, Reason: "first",
	})
	if err != nil || !created {
		t.Fatalf("first open: created=%v err=%v", created, err)
	}

	second, created, err := store.OpenCase(ctx, &cases.Case{
		TransactionID: tx.ID, RuleKey: rules.KeySplitting, Reason: "duplicate",
	})
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	if created {
		t.Fatal("expected created=false for duplicate open")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing case %d, got %d", first.ID, second.ID)
	}
	if second.RuleKey != rules.KeyOneTimeLarge {
		t.Errorf("duplicate open overwrote the original rule: %s", second.RuleKey)
	}
}

func TestPostgresStore_ReopenAfterResolution(t *testing.T) {
	store, txStore := newPGCaseStore(t)
	ctx := context.Background()
	tx := flaggedTx(t, txStore)

	first, _, err := store.OpenCase(ctx, &cases.Case{
		TransactionID: tx.ID, RuleKey: rules.KeyOneTimeLarge,
	})
	if err != nil {
		t.Fatalf("OpenCase failed: %v", err)
	}
	if _, err := store.Resolve(ctx, first.ID, cases.StatusApproved, transactions.StatusSuccess); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// The partial index only guards OPEN cases; a later re-evaluation may
	// open a fresh case for the same transaction.
	second, created, err := store.OpenCase(ctx, &cases.Case{
		TransactionID: tx.ID, RuleKey: rules.KeyFiatAnyGe1M,
	})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if !created || second.ID == first.ID {
		t.Errorf("expected a new case after resolution, created=%v id=%d", created, second.ID)
	}
}

func TestPostgresStore_ResolveIsAtomicWithTransaction(t *testing.T) {
	store, txStore := newPGCaseStore(t)
	ctx := context.Background()
	tx := flaggedTx(t, txStore)

	c, _, err := store.OpenCase(ctx, &cases.Case{
		TransactionID: tx.ID, RuleKey: rules.KeyOneTimeLarge,
	})
	if err != nil {
		t.Fatalf("OpenCase failed: %v", err)
	}

	resolved, err := store.Resolve(ctx, c.ID, cases.StatusRejected, transactions.StatusRejected)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.Status != cases.StatusRejected {
		t.Errorf("expected REJECTED case, got %s", resolved.Status)
	}

	gotTx, err := txStore.Get(ctx, tx.ID)
	if err != nil {
		t.Fatalf("Get transaction failed: %v", err)
	}
	if gotTx.Status != transactions.StatusRejected {
		t.Errorf("expected transaction REJECTED, got %s", gotTx.Status)
	}
}

func TestPostgresStore_ResolveTwice(t *testing.T) {
	store, txStore := newPGCaseStore(t)
	ctx := context.Background()
	tx := flaggedTx(t, txStore)

	c, _, err := store.OpenCase(ctx, &cases.Case{
		TransactionID: tx.ID, RuleKey: rules.KeyOneTimeLarge,
	})
	if err != nil {
		t.Fatalf("OpenCase failed: %v", err)
	}

	if _, err := store.Resolve(ctx, c.ID, cases.StatusApproved, transactions.StatusSuccess); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if _, err := store.Resolve(ctx, c.ID, cases.StatusRejected, transactions.StatusRejected); err != cases.ErrCaseAlreadyResolved {
		t.Errorf("expected ErrCaseAlreadyResolved, got %v", err)
	}

	// The losing resolution must not touch the transaction.
	gotTx, _ := txStore.Get(ctx, tx.ID)
	if gotTx.Status != transactions.StatusSuccess {
		t.Errorf("double resolve changed transaction status to %s", gotTx.Status)
	}

	if _, err := store.Resolve(ctx, 9999, cases.StatusApproved, transactions.StatusSuccess); err != cases.ErrCaseNotFound {
		t.Errorf("expected ErrCaseNotFound, got %v", err)
	}
}

func TestPostgresStore_ListFiltersByStatus(t *testing.T) {
	store, txStore := newPGCaseStore(t)
	ctx := context.Background()

	open := make([]*cases.Case, 0, 3)
	for i := 0; i < 3; i++ {
		tx := flaggedTx(t, txStore)
		c, _, err := store.OpenCase(ctx, &cases.Case{
			TransactionID: tx.ID, RuleKey: rules.KeyOneTimeLarge,
		})
		if err != nil {
			t.Fatalf("OpenCase failed: %v", err)
		}
		open = append(open, c)
	}
	if _, err := store.Resolve(ctx, open[0].ID, cases.StatusApproved, transactions.StatusSuccess); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	openOnly, err := store.List(ctx, cases.StatusOpen, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(openOnly) != 2 {
		t.Errorf("expected 2 open cases, got %d", len(openOnly))
	}

	all, err := store.List(ctx, "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 cases total, got %d", len(all))
	}

	limited, err := store.List(ctx, "", 1)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("expected limit 1 honored, got %d", len(limited))
	}
}
