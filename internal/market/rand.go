package market

import (
	"hash/fnv"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Source yields floats in [0, 1).
type Source interface {
	Float64() float64
}

type lockedSource struct {
	mu   sync.Mutex
	rand *mathrand.Rand
}

// NewSeededSource returns a reproducible source.
func NewSeededSource(seed int64) Source {
	return &lockedSource{rand: mathrand.New(mathrand.NewSource(seed))}
}

// NewEntropySource returns a source seeded from the wall clock.
func NewEntropySource() Source {
	return NewSeededSource(time.Now().UnixNano())
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rand.Float64()
}

// weekHash maps (productID, week) to two independent uniforms in [0, 1).
func weekHash(productID string, week int) (float64, float64) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(productID))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.Itoa(week)))
	x := h.Sum64()
	// splitmix64 finalizer; raw FNV high bits barely move for adjacent weeks.
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	first := float64(x>>11) / float64(1<<53)
	second := float64(x&0xfffff) / float64(1<<20)
	return first, second
}

// Tuning holds the knobs that decide how hard the market is to play.
type Tuning struct {
	Mode              string
	VolatilityScale   float64
	UpProbability     float64
	HotUpProbability  float64
	ColdUpProbability float64
	ForcedUpChance    float64
	InterventionShare float64
	ExtremeRatio      float64
	CoolingModifier   float64
	HeatingModifier   float64
}

func TuningFor(mode string) Tuning {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "calm":
		return Tuning{
			Mode:              "calm",
			VolatilityScale:   0.6,
			UpProbability:     0.48,
			HotUpProbability:  0.25,
			ColdUpProbability: 0.75,
			ForcedUpChance:    0.3,
			InterventionShare: 0.10,
			ExtremeRatio:      0.7,
			CoolingModifier:   0.8,
			HeatingModifier:   1.2,
		}
	case "wild":
		return Tuning{
			Mode:              "wild",
			VolatilityScale:   1.6,
			UpProbability:     0.42,
			HotUpProbability:  0.15,
			ColdUpProbability: 0.85,
			ForcedUpChance:    0.3,
			InterventionShare: 0.15,
			ExtremeRatio:      0.7,
			CoolingModifier:   0.7,
			HeatingModifier:   1.3,
		}
	default:
		return Tuning{
			Mode:              "normal",
			VolatilityScale:   1.0,
			UpProbability:     0.45,
			HotUpProbability:  0.2,
			ColdUpProbability: 0.8,
			ForcedUpChance:    0.3,
			InterventionShare: 0.10,
			ExtremeRatio:      0.7,
			CoolingModifier:   0.7,
			HeatingModifier:   1.3,
		}
	}
}
