package game

import (
	"time"

	"bazaar/internal/market"
)

type SessionInfo struct {
	SessionID string             `json:"session_id"`
	Week      int                `json:"week"`
	CreatedAt time.Time          `json:"created_at"`
	Summary   market.TickSummary `json:"summary"`
}

type AdvanceResult struct {
	SessionID string             `json:"session_id"`
	Week      int                `json:"week"`
	Summary   market.TickSummary `json:"summary"`
	Prices    []PriceRow         `json:"prices"`
	Replayed  bool               `json:"replayed,omitempty"`
}

type PriceRow struct {
	ProductID     string       `json:"product_id"`
	Category      string       `json:"category"`
	Location      string       `json:"location,omitempty"`
	Price         float64      `json:"price"`
	PrevPrice     float64      `json:"prev_price"`
	BasePrice     float64      `json:"base_price"`
	Trend         market.Trend `json:"trend"`
	ChangePercent float64      `json:"change_percent"`
	Strength      float64      `json:"strength"`
}

type HistoryView struct {
	ProductID string    `json:"product_id"`
	Week      int       `json:"week"`
	Prices    []float64 `json:"prices"`
}

type ModifierEvent struct {
	Scope string  `json:"scope"`
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}
