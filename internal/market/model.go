package market

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	HistoryMax       = 20
	DefaultPeriod    = 8.0
	DefaultCacheSize = 1000

	Momentum = 0.7

	FallbackMinFactor = 0.4
	FallbackMaxFactor = 2.5

	trendWindow    = 5
	trendThreshold = 0.03
	forceMinChange = 0.01
)

var (
	ErrInvalidProductSpec = errors.New("invalid product spec")
	ErrModifierOutOfRange = errors.New("modifier out of range")
	ErrCacheInconsistency = errors.New("cache inconsistency")
	ErrProductNotFound    = errors.New("product not found")
	ErrUnknownScope       = errors.New("unknown modifier scope")
	ErrModifierKey        = errors.New("modifier key required")
)

// Validate reports the first contradiction in the spec. A spec that fails
// validation is still priced when its base price is usable; see Bounds.
func (p ProductSpec) Validate() error {
	switch {
	case strings.TrimSpace(p.ID) == "":
		return fmt.Errorf("%w: empty id", ErrInvalidProductSpec)
	case !finite(p.BasePrice) || p.BasePrice <= 0:
		return fmt.Errorf("%w: %s base price %v", ErrInvalidProductSpec, p.ID, p.BasePrice)
	case !finite(p.MinPrice) || !finite(p.MaxPrice):
		return fmt.Errorf("%w: %s non-finite bounds", ErrInvalidProductSpec, p.ID)
	case p.MinPrice >= p.BasePrice || p.BasePrice >= p.MaxPrice:
		return fmt.Errorf("%w: %s bounds %v < %v < %v violated", ErrInvalidProductSpec, p.ID, p.MinPrice, p.BasePrice, p.MaxPrice)
	case !finite(p.Volatility) || p.Volatility < 0:
		return fmt.Errorf("%w: %s volatility %v", ErrInvalidProductSpec, p.ID, p.Volatility)
	}
	return nil
}

// Bounds returns the valid price band. Missing or contradictory bounds fall
// back to a band relative to the base price; fallback is true in that case.
func (p ProductSpec) Bounds() (lo, hi float64, fallback bool) {
	if finite(p.MinPrice) && finite(p.MaxPrice) && p.MinPrice > 0 && p.MinPrice < p.MaxPrice &&
		p.MinPrice <= p.BasePrice && p.BasePrice <= p.MaxPrice {
		return p.MinPrice, p.MaxPrice, false
	}
	return p.BasePrice * FallbackMinFactor, p.BasePrice * FallbackMaxFactor, true
}

func (p ProductSpec) period() float64 {
	if !finite(p.Period) || p.Period <= 0 {
		return DefaultPeriod
	}
	return p.Period
}

func (p ProductSpec) usableBase() bool {
	return finite(p.BasePrice) && p.BasePrice > 0
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ChangePercent is the move from base to price in percent, rounded to cents.
func ChangePercent(price, base float64) float64 {
	if base <= 0 {
		return 0
	}
	return round2((price - base) / base * 100)
}
