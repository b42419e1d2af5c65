package pricing

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
)

// Static is a fixed-price oracle for demo/testing.
type Static struct {
	mu     sync.RWMutex
	prices map[assets.Code]decimal.Decimal
	err    error
}

// NewStatic creates an empty static oracle.
func NewStatic() *Static {
	return &Static{prices: make(map[assets.Code]decimal.Decimal)}
}

// SetPrice sets the USD price for an asset.
func (s *Static) SetPrice(code assets.Code, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[code] = price
}

// RemovePrice drops an asset's quote, simulating a provider outage for it.
func (s *Static) RemovePrice(code assets.Code) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prices, code)
}

// Fail makes all subsequent calls return err (nil restores normal operation).
func (s *Static) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Static) USDPrices(_ context.Context, codes []assets.Code) (map[assets.Code]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[assets.Code]decimal.Decimal, len(codes))
	for _, code := range codes {
		if p, ok := s.prices[code]; ok {
			out[code] = p
		}
	}
	return out, nil
}
