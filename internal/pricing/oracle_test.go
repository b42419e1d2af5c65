package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridianpay/sentinel/internal/assets"
	"github.com/meridianpay/sentinel/internal/circuitbreaker"
)

func quoteServer(t *testing.T, hits *atomic.Int64, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
}

func TestClient_CachesWithinTTL(t *testing.T) {
	var hits atomic.Int64
	srv := quoteServer(t, &hits, `{"bitcoin":{"usd":65000.5},"ethereum":{"usd":3500},"tether":{"usd":1.0}}`)
	defer srv.Close()

	c := NewClient(srv.URL, time.Minute)
	ctx := context.Background()

	first, err := c.USDPrices(ctx, []assets.Code{assets.BTC, assets.ETH})
	if err != nil {
		t.Fatalf("USDPrices failed: %v", err)
	}
	if !first[assets.BTC].Equal(decimal.RequireFromString("65000.5")) {
		t.Errorf("expected BTC 65000.5, got %s", first[assets.BTC])
	}

	// Second call within TTL must be served from cache.
	_, err = c.USDPrices(ctx, []assets.Code{assets.ETH})
	if err != nil {
		t.Fatalf("cached USDPrices failed: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 upstream hit, got %d", hits.Load())
	}
}

func TestClient_RefreshesAfterTTL(t *testing.T) {
	var hits atomic.Int64
	srv := quoteServer(t, &hits, `{"bitcoin":{"usd":65000},"ethereum":{"usd":3500},"tether":{"usd":1.0}}`)
	defer srv.Close()

	c := NewClient(srv.URL, time.Nanosecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := c.USDPrices(ctx, []assets.Code{assets.BTC}); err != nil {
			t.Fatalf("USDPrices failed: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 upstream hits after expiry, got %d", hits.Load())
	}
}

func TestClient_PartialResponseOmitsAsset(t *testing.T) {
	var hits atomic.Int64
	srv := quoteServer(t, &hits, `{"bitcoin":{"usd":65000}}`)
	defer srv.Close()

	c := NewClient(srv.URL, time.Minute)
	got, err := c.USDPrices(context.Background(), []assets.Code{assets.BTC, assets.ETH})
	if err != nil {
		t.Fatalf("USDPrices failed: %v", err)
	}
	if _, ok := got[assets.BTC]; !ok {
		t.Error("expected BTC quote")
	}
	if _, ok := got[assets.ETH]; ok {
		t.Error("ETH should be absent from a partial response")
	}
}

func TestClient_AllRequestedMissing(t *testing.T) {
	var hits atomic.Int64
	srv := quoteServer(t, &hits, `{"bitcoin":{"usd":65000}}`)
	defer srv.Close()

	c := NewClient(srv.URL, time.Minute)
	_, err := c.USDPrices(context.Background(), []assets.Code{assets.ETH})
	if !errors.Is(err, ErrQuoteUnavailable) {
		t.Errorf("expected ErrQuoteUnavailable, got %v", err)
	}
}

func TestClient_ServesStaleOnUpstreamFailure(t *testing.T) {
	var hits atomic.Int64
	var failing atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000},"ethereum":{"usd":3500},"tether":{"usd":1.0}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Nanosecond)
	c.attempts = 1 // retries are not the subject here
	ctx := context.Background()

	if _, err := c.USDPrices(ctx, []assets.Code{assets.BTC}); err != nil {
		t.Fatalf("initial fetch failed: %v", err)
	}

	failing.Store(true)
	time.Sleep(time.Millisecond)

	got, err := c.USDPrices(ctx, []assets.Code{assets.BTC})
	if err != nil {
		t.Fatalf("expected stale quotes, got error: %v", err)
	}
	if !got[assets.BTC].Equal(decimal.NewFromInt(65000)) {
		t.Errorf("expected stale BTC 65000, got %s", got[assets.BTC])
	}
}

func TestClient_RetriesTransientFailure(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000},"ethereum":{"usd":3500},"tether":{"usd":1.0}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Minute)
	c.baseDelay = time.Millisecond

	got, err := c.USDPrices(context.Background(), []assets.Code{assets.BTC})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if !got[assets.BTC].Equal(decimal.NewFromInt(65000)) {
		t.Errorf("expected BTC 65000, got %s", got[assets.BTC])
	}
	if hits.Load() != 3 {
		t.Errorf("expected 3 upstream attempts, got %d", hits.Load())
	}
}

func TestClient_ClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Minute)
	c.baseDelay = time.Millisecond

	if _, err := c.USDPrices(context.Background(), []assets.Code{assets.BTC}); !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("expected ErrQuoteUnavailable, got %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected a single attempt for a 401, got %d", hits.Load())
	}
}

func TestClient_BreakerQuarantinesUpstream(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Nanosecond)
	c.attempts = 1
	c.breaker = circuitbreaker.New("price_api_test", 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.USDPrices(ctx, []assets.Code{assets.BTC}); err == nil {
			t.Fatal("expected failure")
		}
		time.Sleep(time.Millisecond)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected 2 upstream attempts before trip, got %d", hits.Load())
	}

	// Circuit is open: the next miss fails without touching the upstream.
	if _, err := c.USDPrices(ctx, []assets.Code{assets.BTC}); err == nil {
		t.Fatal("expected failure while open")
	}
	if hits.Load() != 2 {
		t.Errorf("open circuit still reached upstream: %d attempts", hits.Load())
	}
}

func TestClient_DeduplicatesConcurrentFetches(t *testing.T) {
	var hits atomic.Int64
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000},"ethereum":{"usd":3500},"tether":{"usd":1.0}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.USDPrices(ctx, []assets.Code{assets.BTC})
		}()
	}
	// Give the goroutines time to pile up on the single in-flight fetch.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("expected a single deduplicated upstream hit, got %d", hits.Load())
	}
}
