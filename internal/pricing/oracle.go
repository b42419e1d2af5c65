// Package pricing supplies current USD prices for the screened asset set.
//
// The production implementation fetches batch quotes from the CoinGecko
// simple-price API and caches them with a bounded TTL. A partial result
// (some assets missing) is a valid response; callers must treat an absent
// key as the quote being unavailable for that asset only.
package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
	"github.com/meridianpay/sentinel/internal/circuitbreaker"
	"github.com/meridianpay/sentinel/internal/metrics"
	"github.com/meridianpay/sentinel/internal/retry"
)

// ErrQuoteUnavailable is returned when no price can be supplied for any
// requested asset.
var ErrQuoteUnavailable = errors.New("pricing: quote unavailable")

// Oracle supplies USD prices for a set of assets. Implementations may return
// a partial map, omitting assets they cannot quote.
type Oracle interface {
	USDPrices(ctx context.Context, codes []assets.Code) (map[assets.Code]decimal.Decimal, error)
}

const defaultAPIURL = "https://api.coingecko.com/api/v3/simple/price"

// Client fetches quotes from the CoinGecko simple-price API with a TTL cache.
// Cache misses for the same refresh window are deduplicated so a burst of
// evaluations produces a single upstream request. Transient upstream errors
// are retried with backoff; a circuit breaker quarantines the API after
// repeated failures so evaluations degrade fast instead of stacking up on a
// dead endpoint.
type Client struct {
	apiURL    string
	ttl       time.Duration
	client    *http.Client
	breaker   *circuitbreaker.Breaker
	attempts  int
	baseDelay time.Duration

	mu         sync.Mutex
	prices     map[assets.Code]decimal.Decimal
	lastUpdate time.Time
	inflight   chan struct{} // non-nil while a fetch is running
}

// NewClient creates a CoinGecko-backed oracle. apiURL may be empty to use
// the public endpoint; ttl bounds quote staleness.
func NewClient(apiURL string, ttl time.Duration) *Client {
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &Client{
		apiURL:    apiURL,
		ttl:       ttl,
		client:    &http.Client{Timeout: 5 * time.Second},
		breaker:   circuitbreaker.New("price_api", 5, 30*time.Second),
		attempts:  3,
		baseDelay: 200 * time.Millisecond,
	}
}

// USDPrices returns cached quotes when fresh, refreshing the whole priced
// set on expiry. Assets the upstream could not quote are absent from the map.
func (c *Client) USDPrices(ctx context.Context, codes []assets.Code) (map[assets.Code]decimal.Decimal, error) {
	for {
		c.mu.Lock()
		if c.prices != nil && time.Since(c.lastUpdate) < c.ttl {
			out := pick(c.prices, codes)
			c.mu.Unlock()
			metrics.PriceCacheHits.Inc()
			if len(out) == 0 {
				return nil, ErrQuoteUnavailable
			}
			return out, nil
		}
		if c.inflight != nil {
			// Another goroutine is already refreshing; wait for it.
			done := c.inflight
			c.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		done := make(chan struct{})
		c.inflight = done
		c.mu.Unlock()

		metrics.PriceCacheMisses.Inc()
		var fresh map[assets.Code]decimal.Decimal
		var err error
		if c.breaker.Allow() {
			fresh, err = c.fetch(ctx)
			if err != nil {
				c.breaker.RecordFailure()
			} else {
				c.breaker.RecordSuccess()
			}
		} else {
			err = errors.New("circuit open")
		}

		c.mu.Lock()
		c.inflight = nil
		close(done)
		if err == nil {
			c.prices = fresh
			c.lastUpdate = time.Now()
		}
		stale := c.prices
		c.mu.Unlock()

		if err != nil {
			// Serve the last known quotes rather than fail the evaluation.
			if stale != nil {
				out := pick(stale, codes)
				if len(out) > 0 {
					return out, nil
				}
			}
			return nil, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
		}

		out := pick(fresh, codes)
		if len(out) == 0 {
			return nil, ErrQuoteUnavailable
		}
		return out, nil
	}
}

// fetch requests quotes with bounded retries. Client errors other than 429
// will not heal on retry and fail immediately.
func (c *Client) fetch(ctx context.Context) (map[assets.Code]decimal.Decimal, error) {
	var prices map[assets.Code]decimal.Decimal
	err := retry.Do(ctx, c.attempts, c.baseDelay, func() error {
		var err error
		prices, err = c.fetchOnce(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return prices, nil
}

// fetchOnce requests quotes for the full priced set in one batch call.
func (c *Client) fetchOnce(ctx context.Context) (map[assets.Code]decimal.Decimal, error) {
	var ids []string
	for _, code := range assets.Priced {
		if id, ok := assets.GeckoID(code); ok {
			ids = append(ids, id)
		}
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("price API returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}

	var body map[string]struct {
		USD json.Number `json:"usd"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}

	prices := make(map[assets.Code]decimal.Decimal)
	for _, code := range assets.Priced {
		id, ok := assets.GeckoID(code)
		if !ok {
			continue
		}
		entry, ok := body[id]
		if !ok {
			continue // absent asset: quote unavailable for it, not an error
		}
		price, err := decimal.NewFromString(entry.USD.String())
		if err != nil || price.Sign() <= 0 {
			continue
		}
		prices[code] = price
	}
	return prices, nil
}

func pick(all map[assets.Code]decimal.Decimal, codes []assets.Code) map[assets.Code]decimal.Decimal {
	out := make(map[assets.Code]decimal.Decimal, len(codes))
	for _, code := range codes {
		if p, ok := all[code]; ok {
			out[code] = p
		}
	}
	return out
}
