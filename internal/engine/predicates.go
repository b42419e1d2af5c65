package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/rules"
	"github.com/meridianpay/sentinel/internal/transactions"
)

// evalInput carries everything a predicate may read. amountBase is only
// valid when hasAmount is true; predicates that declare needsAmount are
// never invoked without it.
type evalInput struct {
	txID       int64
	tx         *TransactionContext
	amountBase decimal.Decimal
	hasAmount  bool
	now        time.Time
	history    transactions.Query
	// isCanonicalFiat reports whether the transaction's asset is the
	// canonical fiat or its 1:1 peg.
	isCanonicalFiat bool
}

// predicate is one rule variant with its typed parameters. Evaluate returns
// whether the rule triggered and a human-readable reason for the case.
type predicate interface {
	key() rules.Key
	// needsAmount marks predicates that read the normalized amount; they
	// are skipped, not failed, when normalization is impossible.
	needsAmount() bool
	evaluate(ctx context.Context, in *evalInput) (bool, string, error)
}

// buildPredicate materializes a catalog rule into its typed variant using
// the rule's effective (tuned-or-default) parameters.
func buildPredicate(r *rules.Rule) predicate {
	switch r.Key {
	case rules.KeyDormantActivity:
		return &dormantActivity{periodDays: r.EffectivePeriodDays()}
	case rules.KeyFiatAnyGe1M:
		return &fiatAnyLarge{threshold: r.EffectiveThresholdFiat()}
	case rules.KeyOneTimeLarge:
		return &oneTimeLarge{threshold: r.EffectiveThresholdFiat()}
	case rules.KeyFrequentSmallOps:
		return &frequentSmallOps{
			periodDays: r.EffectivePeriodDays(),
			threshold:  r.EffectiveThresholdFiat(),
			minCount:   r.EffectiveMinCount(),
		}
	case rules.KeyWithdrawAfterInflow:
		return &withdrawAfterInflow{
			periodDays: r.EffectivePeriodDays(),
			threshold:  r.EffectiveThresholdFiat(),
			percent:    r.EffectivePercentThreshold(),
		}
	case rules.KeySplitting:
		return &splitting{
			periodDays: r.EffectivePeriodDays(),
			threshold:  r.EffectiveThresholdFiat(),
		}
	case rules.KeyFanInSum:
		return &fanInSum{
			periodDays: r.EffectivePeriodDays(),
			minCount:   r.EffectiveMinCount(),
			threshold:  r.EffectiveThresholdFiat(),
		}
	case rules.KeyFanInCount:
		return &fanInCount{
			periodDays: r.EffectivePeriodDays(),
			minCount:   r.EffectiveMinCount(),
		}
	}
	return nil
}

func windowStart(now time.Time, periodDays int) time.Time {
	return now.AddDate(0, 0, -periodDays)
}

// ---------------------------------------------------------------------------
// dormantActivity: sender with no prior transaction, or whose latest prior
// transaction predates the dormancy window
// ---------------------------------------------------------------------------

type dormantActivity struct {
	periodDays int
}

func (p *dormantActivity) key() rules.Key { return rules.KeyDormantActivity }
func (p *dormantActivity) needsAmount() bool { return false }

func (p *dormantActivity) evaluate(ctx context.Context, in *evalInput) (bool, string, error) {
	if in.tx.SenderID == 0 {
		return false, "", nil
	}

	// Prior activity on either side counts: a customer who has only been
	// receiving is not dormant.
	var latest *transactions.Transaction
	for _, role := range []transactions.Role{transactions.RoleSender, transactions.RoleReceiver} {
		tx, err := in.history.MostRecent(ctx, transactions.Filter{
			Role:       role,
			CustomerID: in.tx.SenderID,
			ExcludeID:  in.txID,
		})
		if err != nil {
			return false, "", err
		}
		if tx != nil && (latest == nil || tx.CreatedAt.After(latest.CreatedAt)) {
			latest = tx
		}
	}

	if latest == nil {
		return true, "first transaction for this customer", nil
	}
	cutoff := windowStart(in.now, p.periodDays)
	if latest.CreatedAt.Before(cutoff) {
		return true, fmt.Sprintf("no activity for over %d days (last on %s)",
			p.periodDays, latest.CreatedAt.Format("2006-01-02")), nil
	}
	return false, "", nil
}

// ---------------------------------------------------------------------------
// fiatAnyLarge: canonical-fiat (or pegged) transaction at or above threshold
// ---------------------------------------------------------------------------

type fiatAnyLarge struct {
	threshold decimal.Decimal
}

func (p *fiatAnyLarge) key() rules.Key { return rules.KeyFiatAnyGe1M }
func (p *fiatAnyLarge) needsAmount() bool { return true }

func (p *fiatAnyLarge) evaluate(_ context.Context, in *evalInput) (bool, string, error) {
	if !in.isCanonicalFiat {
		return false, "", nil
	}
	if in.amountBase.GreaterThanOrEqual(p.threshold) {
		return true, fmt.Sprintf("fiat amount %s at or above %s",
			in.amountBase.String(), p.threshold.String()), nil
	}
	return false, "", nil
}

// ---------------------------------------------------------------------------
// oneTimeLarge: single transaction in any asset at or above threshold
// ---------------------------------------------------------------------------

type oneTimeLarge struct {
	threshold decimal.Decimal
}

func (p *oneTimeLarge) key() rules.Key { return rules.KeyOneTimeLarge }
func (p *oneTimeLarge) needsAmount() bool { return true }

func (p *oneTimeLarge) evaluate(_ context.Context, in *evalInput) (bool, string, error) {
	if in.amountBase.GreaterThanOrEqual(p.threshold) {
		return true, fmt.Sprintf("single transaction worth %s at or above %s",
			in.amountBase.String(), p.threshold.String()), nil
	}
	return false, "", nil
}

// ---------------------------------------------------------------------------
// frequentSmallOps: many sizeable outgoing transactions in the window
// ---------------------------------------------------------------------------

type frequentSmallOps struct {
	periodDays int
	threshold  decimal.Decimal
	minCount   int
}

func (p *frequentSmallOps) key() rules.Key { return rules.KeyFrequentSmallOps }
func (p *frequentSmallOps) needsAmount() bool { return false }

func (p *frequentSmallOps) evaluate(ctx context.Context, in *evalInput) (bool, string, error) {
	if in.tx.SenderID == 0 {
		return false, "", nil
	}
	n, err := in.history.Count(ctx, transactions.Filter{
		Role:       transactions.RoleSender,
		CustomerID: in.tx.SenderID,
		Since:      windowStart(in.now, p.periodDays),
		MinAmount:  &p.threshold,
	})
	if err != nil {
		return false, "", err
	}
	if n >= p.minCount {
		return true, fmt.Sprintf("%d outgoing transactions of at least %s in %d days",
			n, p.threshold.String(), p.periodDays), nil
	}
	return false, "", nil
}

// ---------------------------------------------------------------------------
// withdrawAfterInflow: outflow consuming most of a recent large inflow
// ---------------------------------------------------------------------------

type withdrawAfterInflow struct {
	periodDays int
	threshold  decimal.Decimal
	percent    decimal.Decimal
}

func (p *withdrawAfterInflow) key() rules.Key { return rules.KeyWithdrawAfterInflow }
func (p *withdrawAfterInflow) needsAmount() bool { return true }

func (p *withdrawAfterInflow) evaluate(ctx context.Context, in *evalInput) (bool, string, error) {
	if in.tx.SenderID == 0 {
		return false, "", nil
	}
	inflow, err := in.history.Sum(ctx, transactions.Filter{
		Role:       transactions.RoleReceiver,
		CustomerID: in.tx.SenderID,
		Since:      windowStart(in.now, p.periodDays),
		MinAmount:  &p.threshold,
	})
	if err != nil {
		return false, "", err
	}
	if inflow.Sign() <= 0 {
		return false, "", nil
	}
	required := inflow.Mul(p.percent).Div(decimal.NewFromInt(100))
	if in.amountBase.GreaterThanOrEqual(required) {
		return true, fmt.Sprintf("outflow %s is %s%% or more of recent inflow %s",
			in.amountBase.String(), p.percent.String(), inflow.String()), nil
	}
	return false, "", nil
}

// ---------------------------------------------------------------------------
// splitting: aggregate outgoing volume in the window at or above threshold
// ---------------------------------------------------------------------------

type splitting struct {
	periodDays int
	threshold  decimal.Decimal
}

func (p *splitting) key() rules.Key { return rules.KeySplitting }
func (p *splitting) needsAmount() bool { return false }

func (p *splitting) evaluate(ctx context.Context, in *evalInput) (bool, string, error) {
	if in.tx.SenderID == 0 {
		return false, "", nil
	}
	sum, err := in.history.Sum(ctx, transactions.Filter{
		Role:       transactions.RoleSender,
		CustomerID: in.tx.SenderID,
		Since:      windowStart(in.now, p.periodDays),
	})
	if err != nil {
		return false, "", err
	}
	if sum.GreaterThanOrEqual(p.threshold) {
		return true, fmt.Sprintf("outgoing volume %s in %d days at or above %s",
			sum.String(), p.periodDays, p.threshold.String()), nil
	}
	return false, "", nil
}

// ---------------------------------------------------------------------------
// fanInSum: enough distinct senders pooling an aggregate at or above threshold
// ---------------------------------------------------------------------------

type fanInSum struct {
	periodDays int
	minCount   int
	threshold  decimal.Decimal
}

func (p *fanInSum) key() rules.Key { return rules.KeyFanInSum }
func (p *fanInSum) needsAmount() bool { return false }

func (p *fanInSum) evaluate(ctx context.Context, in *evalInput) (bool, string, error) {
	if in.tx.ReceiverID == 0 {
		return false, "", nil
	}
	groups, err := in.history.GroupBySender(ctx, transactions.Filter{
		Role:       transactions.RoleReceiver,
		CustomerID: in.tx.ReceiverID,
		Since:      windowStart(in.now, p.periodDays),
	})
	if err != nil {
		return false, "", err
	}

	senders := 0
	total := decimal.Zero
	for _, g := range groups {
		if g.Sum.Sign() > 0 {
			senders++
		}
		total = total.Add(g.Sum)
	}
	if senders >= p.minCount && total.GreaterThanOrEqual(p.threshold) {
		return true, fmt.Sprintf("%s pooled from %d senders in %d days",
			total.String(), senders, p.periodDays), nil
	}
	return false, "", nil
}

// ---------------------------------------------------------------------------
// fanInCount: too many distinct senders to one receiver in the window
// ---------------------------------------------------------------------------

type fanInCount struct {
	periodDays int
	minCount   int
}

func (p *fanInCount) key() rules.Key { return rules.KeyFanInCount }
func (p *fanInCount) needsAmount() bool { return false }

func (p *fanInCount) evaluate(ctx context.Context, in *evalInput) (bool, string, error) {
	if in.tx.ReceiverID == 0 {
		return false, "", nil
	}
	groups, err := in.history.GroupBySender(ctx, transactions.Filter{
		Role:       transactions.RoleReceiver,
		CustomerID: in.tx.ReceiverID,
		Since:      windowStart(in.now, p.periodDays),
	})
	if err != nil {
		return false, "", err
	}
	if len(groups) >= p.minCount {
		return true, fmt.Sprintf("%d distinct senders in %d days",
			len(groups), p.periodDays), nil
	}
	return false, "", nil
}
