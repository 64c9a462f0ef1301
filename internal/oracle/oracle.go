package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrStalePrice    = errors.New("price is older than the staleness threshold")
	ErrUnknownSource = errors.New("unknown price source")
	ErrInvalidPrice  = errors.New("price must be positive and fit in 64 bits")
)

// DefaultExponent is the number of decimals kept when a quoted price is scaled to an integer.
const DefaultExponent int32 = 8

// Price is an integer quote: the real price is Value * 10^-Exponent.
type Price struct {
	Source     string    `json:"source"`
	Value      uint64    `json:"value"`
	Exponent   int32     `json:"exponent"`
	ObservedAt time.Time `json:"observed_at"`
}

func (p Price) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(p.Value), -p.Exponent)
}

// PriceReader is the price collaborator the engine closes and opens rounds with.
// A zero staleness accepts any cached observation.
type PriceReader interface {
	ReadPrice(ctx context.Context, source string, staleness time.Duration) (Price, error)
}

var maxUint64 = decimal.NewFromBigInt(new(big.Int).SetUint64(^uint64(0)), 0)

// ParsePrice scales a decimal quote such as "64123.45000000" to an integer with exp decimals,
// truncating anything finer.
func ParsePrice(raw string, exp int32) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	scaled := d.Shift(exp).Truncate(0)
	if !scaled.IsPositive() || scaled.GreaterThan(maxUint64) {
		return 0, ErrInvalidPrice
	}
	return scaled.BigInt().Uint64(), nil
}

func fresh(p Price, now time.Time, staleness time.Duration) bool {
	return staleness <= 0 || now.Sub(p.ObservedAt) <= staleness
}

// ManualFeed serves prices set by hand. It backs tests and local development.
type ManualFeed struct {
	Now func() time.Time

	mu     sync.RWMutex
	prices map[string]Price
}

func NewManualFeed() *ManualFeed {
	return &ManualFeed{Now: time.Now, prices: make(map[string]Price)}
}

func (f *ManualFeed) Set(source string, value uint64) {
	f.SetPrice(Price{Source: source, Value: value, Exponent: DefaultExponent, ObservedAt: f.Now()})
}

func (f *ManualFeed) SetPrice(p Price) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[p.Source] = p
}

func (f *ManualFeed) ReadPrice(_ context.Context, source string, staleness time.Duration) (Price, error) {
	f.mu.RLock()
	p, ok := f.prices[source]
	f.mu.RUnlock()
	if !ok {
		return Price{}, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	if p.Value == 0 {
		return Price{}, ErrInvalidPrice
	}
	if !fresh(p, f.Now(), staleness) {
		return Price{}, ErrStalePrice
	}
	return p, nil
}
