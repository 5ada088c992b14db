package market

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TrendClassifier labels the short-term direction of a price series.
type TrendClassifier struct {
	Window    int
	Threshold float64
}

func NewTrendClassifier() TrendClassifier {
	return TrendClassifier{Window: trendWindow, Threshold: trendThreshold}
}

// Classify averages the step changes over the last Window points.
func (c TrendClassifier) Classify(history []float64) TrendReading {
	window := c.Window
	if window < 2 {
		window = trendWindow
	}
	if len(history) < 2 {
		return TrendReading{Trend: TrendStable}
	}
	if len(history) > window {
		history = history[len(history)-window:]
	}

	steps := make([]float64, 0, len(history)-1)
	for i := 1; i < len(history); i++ {
		prev := history[i-1]
		if prev <= 0 || !finite(prev) || !finite(history[i]) {
			continue
		}
		steps = append(steps, (history[i]-prev)/prev)
	}
	if len(steps) == 0 {
		return TrendReading{Trend: TrendStable}
	}

	avg := stat.Mean(steps, nil)
	out := TrendReading{
		Trend:    TrendStable,
		Strength: clamp(math.Abs(avg)*10, 0, 1),
		Average:  avg,
	}
	switch {
	case avg > c.Threshold:
		out.Trend = TrendRising
	case avg < -c.Threshold:
		out.Trend = TrendFalling
	}
	return out
}
