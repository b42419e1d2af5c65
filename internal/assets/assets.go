// Package assets defines the asset codes the platform screens and the
// canonical-fiat classification used for threshold comparisons.
//
// Thresholds are always expressed in the canonical fiat unit. An asset is
// "canonical" when it either is that fiat currency or is its 1:1 electronic
// peg, in which case amounts pass through normalization unchanged.
package assets

import (
	"fmt"
	"strings"
)

// Code identifies a supported asset.
type Code string

const (
	USD  Code = "USD"  // canonical fiat (bank money)
	USDC Code = "USDC" // electronic peg, 1:1 with USD
	USDT Code = "USDT"
	BTC  Code = "BTC"
	ETH  Code = "ETH"
)

// Priced is the fixed set of assets quoted by the price oracle.
// USD and its peg are excluded: they never need a quote.
var Priced = []Code{USDT, BTC, ETH}

var supported = map[Code]bool{
	USD:  true,
	USDC: true,
	USDT: true,
	BTC:  true,
	ETH:  true,
}

// Parse normalizes a user-supplied asset code. Returns an error for assets
// outside the supported set.
func Parse(s string) (Code, error) {
	c := Code(strings.ToUpper(strings.TrimSpace(s)))
	if !supported[c] {
		return "", fmt.Errorf("unsupported asset %q", s)
	}
	return c, nil
}

// CoinGecko id mapping for the priced set.
var geckoIDs = map[Code]string{
	USDT: "tether",
	BTC:  "bitcoin",
	ETH:  "ethereum",
}

// GeckoID returns the CoinGecko identifier for a priced asset.
func GeckoID(c Code) (string, bool) {
	id, ok := geckoIDs[c]
	return id, ok
}
