package market

import (
	"math"
	"testing"
)

func TestClassify(t *testing.T) {
	c := NewTrendClassifier()
	tests := []struct {
		name     string
		history  []float64
		want     Trend
		strength float64
	}{
		{name: "empty", history: nil, want: TrendStable, strength: 0},
		{name: "single point", history: []float64{100}, want: TrendStable, strength: 0},
		{name: "steady climb", history: []float64{100, 105, 110.25, 115.7625}, want: TrendRising, strength: 0.5},
		{name: "steady fall", history: []float64{100, 90, 81}, want: TrendFalling, strength: 1},
		{name: "flat", history: []float64{100, 101, 100, 101}, want: TrendStable},
		{name: "just above threshold", history: []float64{100, 103.5}, want: TrendRising, strength: 0.35},
		{name: "exactly threshold stays stable", history: []float64{100, 103}, want: TrendStable, strength: 0.3},
		// Only the last five points count: the early crash is ignored.
		{name: "window", history: []float64{100, 20, 20, 21, 22, 23, 24}, want: TrendRising},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.history)
			if got.Trend != tc.want {
				t.Fatalf("trend got=%s want=%s (avg=%v)", got.Trend, tc.want, got.Average)
			}
			if tc.strength != 0 && math.Abs(got.Strength-tc.strength) > 1e-9 {
				t.Fatalf("strength got=%v want=%v", got.Strength, tc.strength)
			}
			if got.Strength < 0 || got.Strength > 1 {
				t.Fatalf("strength %v out of [0,1]", got.Strength)
			}
		})
	}
}

func TestClassifyThresholdProperty(t *testing.T) {
	c := NewTrendClassifier()
	src := NewSeededSource(7)
	for i := 0; i < 500; i++ {
		history := []float64{100}
		for j := 0; j < 8; j++ {
			last := history[len(history)-1]
			history = append(history, last*(1+(src.Float64()-0.5)*0.2))
		}
		tail := history[len(history)-5:]
		sum := 0.0
		for j := 1; j < len(tail); j++ {
			sum += (tail[j] - tail[j-1]) / tail[j-1]
		}
		avg := sum / float64(len(tail)-1)
		got := c.Classify(history).Trend
		switch {
		case avg > 0.03 && got != TrendRising:
			t.Fatalf("avg=%v got=%s want rising", avg, got)
		case avg < -0.03 && got != TrendFalling:
			t.Fatalf("avg=%v got=%s want falling", avg, got)
		case avg >= -0.03 && avg <= 0.03 && got != TrendStable:
			t.Fatalf("avg=%v got=%s want stable", avg, got)
		}
	}
}
