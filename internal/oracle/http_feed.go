package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// HTTPFeed polls a REST ticker endpoint per source and caches the latest observation.
// Endpoint holds one %s verb for the source, e.g.
// https://api.binance.com/api/v3/ticker/price?symbol=%s
type HTTPFeed struct {
	HTTP   *http.Client
	Logger *zap.Logger

	Endpoint     string
	Exponent     int32
	PollInterval time.Duration
	Sources      []string
	Now          func() time.Time

	once      sync.Once
	mu        sync.Mutex
	last      map[string]Price
	lastError map[string]string
}

func (f *HTTPFeed) init() { f.once.Do(f.defaults) }

func (f *HTTPFeed) defaults() {
	if f.HTTP == nil {
		f.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if f.Logger == nil {
		f.Logger = zap.NewNop()
	}
	if f.Now == nil {
		f.Now = time.Now
	}
	if f.Exponent == 0 {
		f.Exponent = DefaultExponent
	}
	f.last = make(map[string]Price)
	f.lastError = make(map[string]string)
}

// Start polls every configured source until ctx is done.
func (f *HTTPFeed) Start(ctx context.Context) error {
	f.init()
	interval := f.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	f.pollAll(ctx)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			f.pollAll(ctx)
		}
	}
}

func (f *HTTPFeed) pollAll(ctx context.Context) {
	for _, src := range f.Sources {
		if _, err := f.Refresh(ctx, src); err != nil {
			f.Logger.Warn("price poll failed", zap.String("source", src), zap.Error(err))
		}
	}
}

// Refresh fetches one source synchronously and caches the result.
func (f *HTTPFeed) Refresh(ctx context.Context, source string) (Price, error) {
	f.init()
	value, err := f.fetch(ctx, source)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.lastError[source] = err.Error()
		return Price{}, err
	}
	p := Price{Source: source, Value: value, Exponent: f.Exponent, ObservedAt: f.Now().UTC()}
	f.last[source] = p
	delete(f.lastError, source)
	return p, nil
}

// ReadPrice serves the cached observation. A stale or missing one triggers a single
// synchronous refresh before giving up.
func (f *HTTPFeed) ReadPrice(ctx context.Context, source string, staleness time.Duration) (Price, error) {
	f.init()
	f.mu.Lock()
	p, ok := f.last[source]
	f.mu.Unlock()
	if ok && fresh(p, f.Now(), staleness) {
		return p, nil
	}

	p, err := f.Refresh(ctx, source)
	if err != nil {
		if ok {
			return Price{}, fmt.Errorf("%w: refresh: %v", ErrStalePrice, err)
		}
		return Price{}, err
	}
	if !fresh(p, f.Now(), staleness) {
		return Price{}, ErrStalePrice
	}
	return p, nil
}

// Health reports the last error per source, empty when every source is healthy.
func (f *HTTPFeed) Health() map[string]string {
	f.init()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.lastError))
	for k, v := range f.lastError {
		out[k] = v
	}
	return out
}

func (f *HTTPFeed) fetch(ctx context.Context, source string) (uint64, error) {
	endpoint := strings.TrimSpace(f.Endpoint)
	if endpoint == "" {
		return 0, fmt.Errorf("missing endpoint")
	}
	if strings.Contains(endpoint, "%s") {
		endpoint = fmt.Sprintf(endpoint, source)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("http %d", resp.StatusCode)
	}
	var parsed struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return 0, err
	}
	return ParsePrice(parsed.Price, f.Exponent)
}
