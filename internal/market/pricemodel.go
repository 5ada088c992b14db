package market

import (
	"fmt"
	"log/slog"
	"math"
)

// Modifiers are the multipliers that apply to one product at computation
// time. Zero or non-finite fields count as 1.
type Modifiers struct {
	Global          float64
	Category        float64
	Product         float64
	Location        float64
	LocationProduct float64
}

func (m Modifiers) Scalar() float64 {
	out := 1.0
	for _, v := range []float64{m.Global, m.Category, m.Product, m.Location, m.LocationProduct} {
		if !finite(v) || v <= 0 {
			continue
		}
		out *= v
	}
	return out
}

type PriceModel struct {
	rng    Source
	tuning Tuning
	log    *slog.Logger
}

func NewPriceModel(rng Source, tuning Tuning, logger *slog.Logger) *PriceModel {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = NewEntropySource()
	}
	return &PriceModel{rng: rng, tuning: tuning, log: logger}
}

// NextPrice computes the price a product moves to for the given week.
func (m *PriceModel) NextPrice(spec ProductSpec, current float64, week int, priorDelta float64, mods Modifiers) (Quote, error) {
	if !spec.usableBase() {
		return Quote{}, fmt.Errorf("%w: %s base price %v", ErrInvalidProductSpec, spec.ID, spec.BasePrice)
	}
	lo, hi, fallback := spec.Bounds()
	if fallback {
		m.log.Warn("product bounds invalid, using fallback band",
			"product", spec.ID, "min", spec.MinPrice, "max", spec.MaxPrice, "lo", lo, "hi", hi)
	}
	if !finite(current) || current <= 0 {
		m.log.Warn("current price unusable, resetting to base", "product", spec.ID, "price", current)
		current = spec.BasePrice
	}
	if !finite(priorDelta) {
		priorDelta = 0
	}
	volatility := spec.Volatility
	if !finite(volatility) || volatility < 0 {
		volatility = 0
	}

	periodic := math.Sin(float64(week)/spec.period()) * 0.1
	random := (m.rng.Float64() - 0.5) * volatility * m.tuning.VolatilityScale
	raw := periodic + random + priorDelta*Momentum

	candidate := clamp(math.Round(current*(1+raw)*mods.Scalar()), lo, hi)

	q := Quote{Price: candidate, TrendDelta: raw}
	if math.Abs(candidate-current) < 1 || math.Abs(raw) < forceMinChange {
		q.Price, q.TrendDelta = m.forcedMove(spec.ID, current, week, lo, hi)
		q.Forced = true
	}
	q.ChangePercent = ChangePercent(q.Price, spec.BasePrice)
	return q, nil
}

// forcedMove guarantees visible movement for a flat week. Direction and size
// come from hash(productID, week), skewed toward decline.
func (m *PriceModel) forcedMove(productID string, current float64, week int, lo, hi float64) (float64, float64) {
	dirSeed, magSeed := weekHash(productID, week)
	upChance := m.tuning.ForcedUpChance
	if upChance <= 0 {
		upChance = 0.3
	}
	dir := -1.0
	if dirSeed < upChance {
		dir = 1
	}
	step := current * (0.01 + 0.04*magSeed)
	if step < 1 {
		step = 1
	}

	next := clamp(math.Round(current+dir*step), lo, hi)
	if next == current {
		dir = -dir
		next = clamp(math.Round(current+dir*step), lo, hi)
	}
	if next == current && hi > lo {
		// Band narrower than one unit around current.
		if current-lo > hi-current {
			next = lo
		} else {
			next = hi
		}
	}
	return next, (next - current) / current
}
