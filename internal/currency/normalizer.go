// Package currency converts transaction amounts into the canonical fiat
// currency that rule thresholds are denominated in.
package currency

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
	"github.com/meridianpay/sentinel/internal/pricing"
)

// ErrPriceUnavailable is returned when an amount cannot be normalized because
// no quote exists for the asset. Callers skip amount-dependent rules rather
// than fail the whole evaluation.
var ErrPriceUnavailable = errors.New("currency: price unavailable")

// Normalizer converts asset amounts to the canonical fiat currency.
type Normalizer struct {
	oracle     pricing.Oracle
	baseFiat   string
	fiatPerUSD decimal.Decimal
}

// NewNormalizer creates a normalizer that converts via USD quotes from the
// oracle, then into baseFiat at the fiatPerUSD rate. Stablecoins pegged to
// USD are converted at the peg without consulting the oracle.
func NewNormalizer(oracle pricing.Oracle, baseFiat string, fiatPerUSD decimal.Decimal) *Normalizer {
	return &Normalizer{
		oracle:     oracle,
		baseFiat:   baseFiat,
		fiatPerUSD: fiatPerUSD,
	}
}

// BaseFiat returns the canonical fiat currency code.
func (n *Normalizer) BaseFiat() string { return n.baseFiat }

// ToCanonical converts an amount of the given asset into the canonical fiat.
// Amounts already denominated in the canonical fiat pass through unchanged.
func (n *Normalizer) ToCanonical(ctx context.Context, asset assets.Code, amount decimal.Decimal) (decimal.Decimal, error) {
	if string(asset) == n.baseFiat {
		return amount, nil
	}
	if asset == assets.USD || asset == assets.USDC {
		// USD and USD-pegged stablecoins convert at the configured rate.
		return amount.Mul(n.fiatPerUSD), nil
	}

	prices, err := n.oracle.USDPrices(ctx, []assets.Code{asset})
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrPriceUnavailable, err)
	}
	price, ok := prices[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no quote for %s", ErrPriceUnavailable, asset)
	}

	return amount.Mul(price).Mul(n.fiatPerUSD), nil
}
