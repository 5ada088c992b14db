package market

import (
	"errors"
	"math"
	"testing"
)

type fixedSource float64

func (f fixedSource) Float64() float64 { return float64(f) }

func scenarioSpec() ProductSpec {
	return ProductSpec{ID: "rice", Category: "food", BasePrice: 100, MinPrice: 50, MaxPrice: 300, Volatility: 0.1, Period: 8}
}

func TestNextPriceScenario(t *testing.T) {
	m := NewPriceModel(fixedSource(0.9), TuningFor("normal"), nil)
	q, err := m.NextPrice(scenarioSpec(), 100, 1, 0, Modifiers{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 105 {
		t.Fatalf("price got=%v want=105", q.Price)
	}
	if q.ChangePercent != 5 {
		t.Fatalf("change got=%v want=5", q.ChangePercent)
	}
	if q.Forced {
		t.Fatalf("scenario should not trigger forced movement")
	}
	reading := NewTrendClassifier().Classify([]float64{100, q.Price})
	if reading.Trend != TrendRising {
		t.Fatalf("trend got=%s want=rising", reading.Trend)
	}
	if math.Abs(reading.Strength-0.5) > 1e-9 {
		t.Fatalf("strength got=%v want=0.5", reading.Strength)
	}
}

func TestNextPriceAppliesModifiers(t *testing.T) {
	m := NewPriceModel(fixedSource(0.9), TuningFor("normal"), nil)
	q, err := m.NextPrice(scenarioSpec(), 100, 1, 0, Modifiers{Global: 1.2, Category: 1.1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 100 * 1.0524675 * 1.32 = 138.93
	if q.Price != 139 {
		t.Fatalf("price got=%v want=139", q.Price)
	}
	if q.ChangePercent != 39 {
		t.Fatalf("change got=%v want=39", q.ChangePercent)
	}
}

func TestNextPriceClampsToBand(t *testing.T) {
	m := NewPriceModel(fixedSource(0.99), TuningFor("normal"), nil)
	spec := scenarioSpec()
	q, err := m.NextPrice(spec, 290, 1, 0.5, Modifiers{Global: 1.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != spec.MaxPrice {
		t.Fatalf("price got=%v want=%v", q.Price, spec.MaxPrice)
	}

	m = NewPriceModel(fixedSource(0.0), TuningFor("normal"), nil)
	q, err = m.NextPrice(spec, 55, 1, -0.5, Modifiers{Global: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != spec.MinPrice {
		t.Fatalf("price got=%v want=%v", q.Price, spec.MinPrice)
	}
}

func TestNextPriceFallbackBand(t *testing.T) {
	m := NewPriceModel(fixedSource(0.99), TuningFor("wild"), nil)
	spec := ProductSpec{ID: "broken", Category: "junk", BasePrice: 100, MinPrice: 400, MaxPrice: 10, Volatility: 0.5}
	price := 100.0
	for week := 1; week <= 60; week++ {
		q, err := m.NextPrice(spec, price, week, 0.3, Modifiers{Global: 1.5})
		if err != nil {
			t.Fatalf("week %d: unexpected error: %v", week, err)
		}
		if q.Price < 40 || q.Price > 250 {
			t.Fatalf("week %d: price %v outside fallback band", week, q.Price)
		}
		price = q.Price
	}
}

func TestNextPriceRecoversFromNaN(t *testing.T) {
	m := NewPriceModel(fixedSource(0.9), TuningFor("normal"), nil)
	q, err := m.NextPrice(scenarioSpec(), math.NaN(), 1, math.NaN(), Modifiers{Global: math.NaN()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Price != 105 {
		t.Fatalf("price got=%v want=105", q.Price)
	}
}

func TestNextPriceRejectsUnusableBase(t *testing.T) {
	m := NewPriceModel(fixedSource(0.5), TuningFor("normal"), nil)
	_, err := m.NextPrice(ProductSpec{ID: "x", BasePrice: math.NaN()}, 10, 1, 0, Modifiers{})
	if !errors.Is(err, ErrInvalidProductSpec) {
		t.Fatalf("expected ErrInvalidProductSpec, got %v", err)
	}
}

func TestForcedMovementAlwaysMoves(t *testing.T) {
	// Source at 0.5 removes noise and a huge period flattens the cycle, so
	// every week lands in the forced branch.
	m := NewPriceModel(fixedSource(0.5), TuningFor("normal"), nil)
	spec := ProductSpec{ID: "salt", Category: "food", BasePrice: 100, MinPrice: 50, MaxPrice: 300, Volatility: 0.1, Period: 1e12}
	for _, current := range []float64{50, 100, 300} {
		for week := 1; week <= 200; week++ {
			q, err := m.NextPrice(spec, current, week, 0, Modifiers{})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !q.Forced {
				t.Fatalf("current=%v week=%d: expected forced move", current, week)
			}
			if q.Price == current {
				t.Fatalf("current=%v week=%d: forced move left price unchanged", current, week)
			}
			if q.Price < spec.MinPrice || q.Price > spec.MaxPrice {
				t.Fatalf("current=%v week=%d: price %v out of band", current, week, q.Price)
			}
		}
	}
}

func TestForcedMovementSkewsDown(t *testing.T) {
	m := NewPriceModel(fixedSource(0.5), TuningFor("normal"), nil)
	spec := ProductSpec{ID: "salt", Category: "food", BasePrice: 100, MinPrice: 10, MaxPrice: 1000, Volatility: 0.1, Period: 1e12}
	ups := 0
	const weeks = 4000
	for week := 1; week <= weeks; week++ {
		q, err := m.NextPrice(spec, 100, week, 0, Modifiers{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if q.Price > 100 {
			ups++
		}
	}
	share := float64(ups) / weeks
	if share < 0.2 || share > 0.4 {
		t.Fatalf("up share got=%.3f want about 0.3", share)
	}
}

func TestForcedMovementIsDeterministic(t *testing.T) {
	spec := ProductSpec{ID: "salt", Category: "food", BasePrice: 100, MinPrice: 50, MaxPrice: 300, Period: 1e12}
	a := NewPriceModel(fixedSource(0.5), TuningFor("normal"), nil)
	b := NewPriceModel(fixedSource(0.5), TuningFor("normal"), nil)
	for week := 1; week <= 20; week++ {
		qa, _ := a.NextPrice(spec, 100, week, 0, Modifiers{})
		qb, _ := b.NextPrice(spec, 100, week, 0, Modifiers{})
		if qa != qb {
			t.Fatalf("week %d: %+v != %+v", week, qa, qb)
		}
	}
}

func TestModifiersScalarDefaults(t *testing.T) {
	if got := (Modifiers{}).Scalar(); got != 1 {
		t.Fatalf("empty modifiers scalar got=%v want=1", got)
	}
	got := Modifiers{Global: 1.2, Category: 0.5, Product: math.Inf(1), Location: 2}.Scalar()
	if math.Abs(got-1.2) > 1e-9 {
		t.Fatalf("scalar got=%v want=1.2", got)
	}
}
