// Package rules holds the configurable fraud rule catalog.
//
// The catalog is a fixed set of rule keys. Every key always exists in the
// store (self-healing defaults); administrators tune parameters or disable
// individual rules but never add or remove keys. Evaluation order is the
// declaration order of Catalog, independent of storage order.
package rules

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrRuleNotFound = errors.New("rule not found")

// Key identifies a rule in the catalog.
type Key string

const (
	KeyDormantActivity    Key = "DORMANT_ACTIVITY"
	KeyFiatAnyGe1M        Key = "FIAT_ANY_GE_1M"
	KeyOneTimeLarge       Key = "ONE_TIME_LARGE"
	KeyFrequentSmallOps   Key = "FREQUENT_SMALL_OPS"
	KeyWithdrawAfterInflow Key = "WITHDRAW_AFTER_INFLOW"
	KeySplitting          Key = "SPLITTING"
	KeyFanInSum           Key = "FAN_IN_SUM"
	KeyFanInCount         Key = "FAN_IN_COUNT"
)

// Catalog is the fixed evaluation order. First match wins, so position here
// is rule priority.
var Catalog = []Key{
	KeyDormantActivity,
	KeyFiatAnyGe1M,
	KeyOneTimeLarge,
	KeyFrequentSmallOps,
	KeyWithdrawAfterInflow,
	KeySplitting,
	KeyFanInSum,
	KeyFanInCount,
}

// Rule is one catalog entry. Parameter fields are nullable; a nil parameter
// means "use the documented default" for that key.
type Rule struct {
	Key              Key              `json:"key"`
	Enabled          bool             `json:"enabled"`
	PeriodDays       *int             `json:"periodDays,omitempty"`
	ThresholdFiat    *decimal.Decimal `json:"thresholdFiat,omitempty"`
	MinCount         *int             `json:"minCount,omitempty"`
	PercentThreshold *decimal.Decimal `json:"percentThreshold,omitempty"`
	Description      string           `json:"description"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Update carries the admin-mutable fields of a rule. Nil fields are left
// untouched.
type Update struct {
	Enabled          *bool            `json:"enabled"`
	PeriodDays       *int             `json:"periodDays"`
	ThresholdFiat    *decimal.Decimal `json:"thresholdFiat"`
	MinCount         *int             `json:"minCount"`
	PercentThreshold *decimal.Decimal `json:"percentThreshold"`
}

// Store persists the rule catalog.
type Store interface {
	// EnsureCatalog inserts any missing catalog keys with their defaults.
	// Existing rows are never modified, so tunables survive restarts and
	// catalog additions alike.
	EnsureCatalog(ctx context.Context) error
	// ListEnabled returns enabled rules in catalog order.
	ListEnabled(ctx context.Context) ([]*Rule, error)
	Get(ctx context.Context, key Key) (*Rule, error)
	List(ctx context.Context) ([]*Rule, error)
	Update(ctx context.Context, key Key, u Update) (*Rule, error)
}

// defaults holds the documented default parameters per key, in canonical
// fiat units.
type defaults struct {
	periodDays       int
	thresholdFiat    decimal.Decimal
	minCount         int
	percentThreshold decimal.Decimal
	description      string
}

var defaultsByKey = map[Key]defaults{
	KeyDormantActivity: {
		periodDays:  180,
		description: "Activity after a long dormant period, or a first-ever transaction",
	},
	KeyFiatAnyGe1M: {
		thresholdFiat: decimal.NewFromInt(1_000_000),
		description:   "Any fiat transaction at or above the large-amount threshold",
	},
	KeyOneTimeLarge: {
		thresholdFiat: decimal.NewFromInt(600_000),
		description:   "Single transaction in any asset at or above the threshold",
	},
	KeyFrequentSmallOps: {
		periodDays:    30,
		thresholdFiat: decimal.NewFromInt(100_000),
		minCount:      10,
		description:   "Many sizeable outgoing transactions in a short period",
	},
	KeyWithdrawAfterInflow: {
		periodDays:       7,
		thresholdFiat:    decimal.NewFromInt(100_000),
		percentThreshold: decimal.NewFromInt(80),
		description:      "Outflow consuming most of a recent large inflow",
	},
	KeySplitting: {
		periodDays:    30,
		thresholdFiat: decimal.NewFromInt(600_000),
		description:   "Aggregate outgoing volume suggesting a split large transfer",
	},
	KeyFanInSum: {
		periodDays:    30,
		thresholdFiat: decimal.NewFromInt(600_000),
		minCount:      5,
		description:   "Funds pooled from many senders above an aggregate threshold",
	},
	KeyFanInCount: {
		periodDays:  30,
		minCount:    10,
		description: "Unusually many distinct senders to one receiver",
	},
}

// DefaultRule builds the catalog default row for a key.
func DefaultRule(key Key) *Rule {
	d := defaultsByKey[key]
	r := &Rule{Key: key, Enabled: true, Description: d.description}
	if d.periodDays > 0 {
		v := d.periodDays
		r.PeriodDays = &v
	}
	if d.thresholdFiat.Sign() > 0 {
		v := d.thresholdFiat
		r.ThresholdFiat = &v
	}
	if d.minCount > 0 {
		v := d.minCount
		r.MinCount = &v
	}
	if d.percentThreshold.Sign() > 0 {
		v := d.percentThreshold
		r.PercentThreshold = &v
	}
	return r
}

// Effective parameter accessors. A missing or non-positive stored value
// falls back to the key's documented default, so a misconfigured rule
// degrades to its default rather than poisoning the whole evaluation.

func (r *Rule) EffectivePeriodDays() int {
	if r.PeriodDays != nil && *r.PeriodDays > 0 {
		return *r.PeriodDays
	}
	return defaultsByKey[r.Key].periodDays
}

func (r *Rule) EffectiveThresholdFiat() decimal.Decimal {
	if r.ThresholdFiat != nil && r.ThresholdFiat.Sign() > 0 {
		return *r.ThresholdFiat
	}
	return defaultsByKey[r.Key].thresholdFiat
}

func (r *Rule) EffectiveMinCount() int {
	if r.MinCount != nil && *r.MinCount > 0 {
		return *r.MinCount
	}
	return defaultsByKey[r.Key].minCount
}

func (r *Rule) EffectivePercentThreshold() decimal.Decimal {
	if r.PercentThreshold != nil && r.PercentThreshold.Sign() > 0 {
		return *r.PercentThreshold
	}
	return defaultsByKey[r.Key].percentThreshold
}

// ParseKey validates a rule key string.
func ParseKey(s string) (Key, error) {
	for _, k := range Catalog {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrRuleNotFound
}

// sortCatalogOrder reorders rules into catalog order, dropping unknown keys.
func sortCatalogOrder(in []*Rule) []*Rule {
	byKey := make(map[Key]*Rule, len(in))
	for _, r := range in {
		byKey[r.Key] = r
	}
	out := make([]*Rule, 0, len(in))
	for _, k := range Catalog {
		if r, ok := byKey[k]; ok {
			out = append(out, r)
		}
	}
	return out
}
