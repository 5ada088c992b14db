package market

import "time"

type ProductSpec struct {
	ID         string  `json:"id" yaml:"id"`
	Category   string  `json:"category" yaml:"category"`
	BasePrice  float64 `json:"base_price" yaml:"base_price"`
	MinPrice   float64 `json:"min_price" yaml:"min_price"`
	MaxPrice   float64 `json:"max_price" yaml:"max_price"`
	Volatility float64 `json:"volatility" yaml:"volatility"`
	Period     float64 `json:"period,omitempty" yaml:"period,omitempty"`
}

type Trend string

const (
	TrendRising   Trend = "rising"
	TrendFalling  Trend = "falling"
	TrendStable   Trend = "stable"
	TrendVolatile Trend = "volatile"
)

func (t Trend) Valid() bool {
	switch t {
	case TrendRising, TrendFalling, TrendStable, TrendVolatile:
		return true
	}
	return false
}

type PriceRecord struct {
	Price         float64   `json:"price"`
	PrevPrice     float64   `json:"prevPrice"`
	Trend         Trend     `json:"trend"`
	ChangePercent float64   `json:"changePercent"`
	History       []float64 `json:"history"`
}

func (r PriceRecord) clone() PriceRecord {
	r.History = append([]float64(nil), r.History...)
	return r
}

// Quote is one PriceModel result.
type Quote struct {
	Price         float64 `json:"price"`
	ChangePercent float64 `json:"change_percent"`
	TrendDelta    float64 `json:"trend_delta"`
	Forced        bool    `json:"forced"`
}

type TrendReading struct {
	Trend    Trend   `json:"trend"`
	Strength float64 `json:"strength"`
	Average  float64 `json:"average"`
}

type TrendView struct {
	Trend         Trend   `json:"trend"`
	ChangePercent float64 `json:"change_percent"`
	Strength      float64 `json:"strength"`
}

type TickSummary struct {
	Week             int           `json:"week"`
	Updated          int           `json:"updated"`
	Failed           int           `json:"failed"`
	Forced           int           `json:"forced"`
	Rising           int           `json:"rising"`
	Falling          int           `json:"falling"`
	Stable           int           `json:"stable"`
	MeanChangePct    float64       `json:"mean_change_percent"`
	Balance          BalanceReport `json:"balance"`
	PriceCacheHits   int           `json:"price_cache_hits"`
	PriceCacheMisses int           `json:"price_cache_misses"`
	Duration         time.Duration `json:"duration_ns"`
}
