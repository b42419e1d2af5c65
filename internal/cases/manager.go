package cases

import (
	"context"
	"fmt"

	"github.com/meridianpay/sentinel/internal/logging"
	"github.com/meridianpay/sentinel/internal/metrics"
	"github.com/meridianpay/sentinel/internal/rules"
	"github.com/meridianpay/sentinel/internal/traces"
	"github.com/meridianpay/sentinel/internal/transactions"
)

// Notifier receives case lifecycle events. Delivery is best-effort.
type Notifier interface {
	CaseOpened(c *Case)
}

// Manager coordinates case opening and resolution.
type Manager struct {
	store    Store
	txs      transactions.Store
	notifier Notifier
}

// NewManager creates a case manager. notifier may be nil.
func NewManager(store Store, txs transactions.Store, notifier Notifier) *Manager {
	return &Manager{store: store, txs: txs, notifier: notifier}
}

// Open opens a review case for a triggered rule and flags the transaction.
// Opening twice for the same transaction is a benign no-op returning the
// existing open case.
func (m *Manager) Open(ctx context.Context, txID int64, ruleKey rules.Key, reason string) (*Case, error) {
	ctx, span := traces.StartSpan(ctx, "cases.Open",
		traces.TransactionID(txID), traces.RuleKey(string(ruleKey)))
	defer span.End()

	c, created, err := m.store.OpenCase(ctx, &Case{
		TransactionID: txID,
		RuleKey:       ruleKey,
		Reason:        reason,
	})
	if err != nil {
		return nil, fmt.Errorf("open case: %w", err)
	}
	if !created {
		logging.L(ctx).Info("open case already exists",
			"case_id", c.ID, "transaction_id", txID)
		return c, nil
	}

	metrics.CasesOpenedTotal.Inc()
	logging.L(ctx).Warn("review case opened",
		"case_id", c.ID, "transaction_id", txID, "rule", string(ruleKey), "reason", reason)

	// Flagging the transaction is best-effort: the case row is the source
	// of truth for review state.
	if err := m.txs.UpdateStatus(ctx, txID, transactions.StatusFlagged); err != nil {
		logging.L(ctx).Error("failed to flag transaction",
			"transaction_id", txID, "error", err)
	}

	if m.notifier != nil {
		m.notifier.CaseOpened(c)
	}
	return c, nil
}

// Resolve transitions an open case to the decision and the transaction to
// the matching terminal status, atomically. Only APPROVED and REJECTED are
// valid decisions.
func (m *Manager) Resolve(ctx context.Context, id int64, decision Status) (*Case, error) {
	ctx, span := traces.StartSpan(ctx, "cases.Resolve", traces.CaseID(id))
	defer span.End()

	var txStatus transactions.Status
	switch decision {
	case StatusApproved:
		txStatus = transactions.StatusSuccess
	case StatusRejected:
		txStatus = transactions.StatusRejected
	default:
		return nil, fmt.Errorf("invalid decision %q", decision)
	}

	c, err := m.store.Resolve(ctx, id, decision, txStatus)
	if err != nil {
		return nil, err
	}

	metrics.CasesResolvedTotal.WithLabelValues(string(decision)).Inc()
	logging.L(ctx).Info("case resolved",
		"case_id", c.ID, "transaction_id", c.TransactionID, "decision", string(decision))
	return c, nil
}

// Get returns one case by id.
func (m *Manager) Get(ctx context.Context, id int64) (*Case, error) {
	return m.store.Get(ctx, id)
}

// List returns cases, optionally filtered by status.
func (m *Manager) List(ctx context.Context, status Status, limit int) ([]*Case, error) {
	return m.store.List(ctx, status, limit)
}
