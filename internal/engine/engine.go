// Package engine evaluates the fraud rule catalog against one transaction.
//
// Evaluation is first-match-wins over the fixed catalog order: the engine
// flags "some risk" per transaction, not every matching risk. A match opens
// a review case; the rule key is returned to the calling pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
	"github.com/meridianpay/sentinel/internal/cases"
	"github.com/meridianpay/sentinel/internal/currency"
	"github.com/meridianpay/sentinel/internal/logging"
	"github.com/meridianpay/sentinel/internal/metrics"
	"github.com/meridianpay/sentinel/internal/rules"
	"github.com/meridianpay/sentinel/internal/traces"
	"github.com/meridianpay/sentinel/internal/transactions"
)

// TransactionContext is the immutable input for one evaluation.
type TransactionContext struct {
	Kind       transactions.Kind `json:"kind"`
	Asset      assets.Code       `json:"asset"`
	Amount     decimal.Decimal   `json:"amount"`
	SenderID   int64             `json:"senderCustomerId,omitempty"`
	ReceiverID int64             `json:"receiverCustomerId,omitempty"`
}

// Result is the outcome of one evaluation.
type Result struct {
	Matched bool      `json:"matched"`
	RuleKey rules.Key `json:"ruleKey,omitempty"`
	CaseID  int64     `json:"caseId,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

// Engine runs the enabled rule catalog against transactions.
type Engine struct {
	rules      rules.Store
	normalizer *currency.Normalizer
	history    transactions.Query
	cases      *cases.Manager
	timeout    time.Duration
}

// New creates an engine. timeout bounds one full evaluation; on expiry the
// evaluation fails closed.
func New(ruleStore rules.Store, normalizer *currency.Normalizer, history transactions.Query, caseManager *cases.Manager, timeout time.Duration) *Engine {
	return &Engine{
		rules:      ruleStore,
		normalizer: normalizer,
		history:    history,
		cases:      caseManager,
		timeout:    timeout,
	}
}

// Evaluate runs the enabled catalog against one transaction and opens a
// case on the first match.
//
// A missing price skips amount-dependent rules and continues; a history
// failure aborts with transactions.ErrHistoryUnavailable so the pipeline
// can hold the transaction instead of missing a signal. The caller must
// guarantee at most one concurrent Evaluate per transaction id.
func (e *Engine) Evaluate(ctx context.Context, txID int64, tc *TransactionContext) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ctx, span := traces.StartSpan(ctx, "engine.Evaluate",
		traces.TransactionID(txID),
		traces.Asset(string(tc.Asset)),
		traces.Amount(tc.Amount.String()))
	defer span.End()

	timer := time.Now()
	result, err := e.evaluate(ctx, txID, tc)
	metrics.EvaluationDuration.Observe(time.Since(timer).Seconds())

	switch {
	case err != nil:
		metrics.EvaluationsTotal.WithLabelValues("error").Inc()
	case result.Matched:
		metrics.EvaluationsTotal.WithLabelValues("matched").Inc()
	default:
		metrics.EvaluationsTotal.WithLabelValues("clean").Inc()
	}
	return result, err
}

func (e *Engine) evaluate(ctx context.Context, txID int64, tc *TransactionContext) (*Result, error) {
	if err := e.rules.EnsureCatalog(ctx); err != nil {
		return nil, fmt.Errorf("ensure catalog: %w", err)
	}

	in := &evalInput{
		txID:            txID,
		tx:              tc,
		now:             time.Now(),
		history:         e.history,
		isCanonicalFiat: e.isCanonicalFiat(tc.Asset),
	}

	amountBase, err := e.normalizer.ToCanonical(ctx, tc.Asset, tc.Amount)
	switch {
	case err == nil:
		in.amountBase = amountBase
		in.hasAmount = true
	case errors.Is(err, currency.ErrPriceUnavailable):
		// Amount-dependent rules get skipped below; the engine must never
		// block a transaction purely because a price feed is down.
		logging.L(ctx).Warn("amount normalization unavailable",
			"transaction_id", txID, "asset", string(tc.Asset), "error", err)
	default:
		return nil, fmt.Errorf("normalize amount: %w", err)
	}

	enabled, err := e.rules.ListEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}

	for _, r := range enabled {
		p := buildPredicate(r)
		if p == nil {
			logging.L(ctx).Warn("no predicate for rule key", "key", string(r.Key))
			continue
		}
		if p.needsAmount() && !in.hasAmount {
			metrics.RuleSkipsTotal.WithLabelValues(string(r.Key)).Inc()
			logging.L(ctx).Warn("rule skipped: normalized amount unavailable",
				"transaction_id", txID, "rule", string(r.Key))
			continue
		}

		predCtx, predSpan := traces.StartSpan(ctx, "engine.rule", traces.RuleKey(string(r.Key)))
		matched, reason, err := p.evaluate(predCtx, in)
		predSpan.End()
		if err != nil {
			if errors.Is(err, transactions.ErrHistoryUnavailable) || ctx.Err() != nil {
				return nil, fmt.Errorf("rule %s: %w", r.Key, errWithTimeout(ctx, err))
			}
			return nil, fmt.Errorf("rule %s: %w", r.Key, err)
		}
		if !matched {
			continue
		}

		metrics.RuleTriggersTotal.WithLabelValues(string(r.Key)).Inc()
		c, err := e.cases.Open(ctx, txID, r.Key, reason)
		if err != nil {
			return nil, fmt.Errorf("open case: %w", err)
		}
		return &Result{Matched: true, RuleKey: r.Key, CaseID: c.ID, Reason: reason}, nil
	}

	return &Result{}, nil
}

func (e *Engine) isCanonicalFiat(asset assets.Code) bool {
	return string(asset) == e.normalizer.BaseFiat() ||
		asset == assets.USD || asset == assets.USDC
}

// errWithTimeout folds a deadline expiry into the history error so the
// caller sees one fail-closed signal.
func errWithTimeout(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %v", transactions.ErrHistoryUnavailable, ctxErr)
	}
	return err
}
