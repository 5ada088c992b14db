package market

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

type Options struct {
	Source     Source
	Tuning     Tuning
	HistoryMax int
	CacheSize  int
	Locations  []string
	Logger     *slog.Logger
}

type priceKey struct {
	productID string
	week      int
	price     int64
	location  string
}

type trendKey struct {
	productID string
	week      int
}

// Simulator runs the weekly price update for a whole catalog. It is not safe
// for concurrent use; callers serialize WeeklyTick and queries.
type Simulator struct {
	log      *slog.Logger
	specs    map[string]ProductSpec
	order    []string
	model    *PriceModel
	registry *ModifierRegistry
	history  *HistoryStore
	trends   TrendClassifier

	priceCache *Cache[priceKey, Quote]
	trendCache *Cache[trendKey, TrendReading]

	records map[string]PriceRecord
	deltas  map[string]float64
	week    int
	summary TickSummary
}

func NewSimulator(specs []ProductSpec, opts Options) *Simulator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "market")
	src := opts.Source
	if src == nil {
		src = NewEntropySource()
	}
	tuning := opts.Tuning
	if tuning.Mode == "" {
		tuning = TuningFor("")
	}

	s := &Simulator{
		log:        logger,
		specs:      make(map[string]ProductSpec, len(specs)),
		model:      NewPriceModel(src, tuning, logger),
		registry:   NewModifierRegistry(src, tuning, logger),
		history:    NewHistoryStore(opts.HistoryMax),
		trends:     NewTrendClassifier(),
		priceCache: NewCache[priceKey, Quote](opts.CacheSize),
		trendCache: NewCache[trendKey, TrendReading](opts.CacheSize),
	}

	var categories []string
	for _, spec := range specs {
		if _, dup := s.specs[spec.ID]; dup {
			logger.Warn("duplicate product id in catalog, keeping first", "product", spec.ID)
			continue
		}
		if err := spec.Validate(); err != nil {
			logger.Warn("product spec invalid", "product", spec.ID, "err", err)
		}
		s.specs[spec.ID] = spec
		s.order = append(s.order, spec.ID)
		if !slices.Contains(categories, spec.Category) {
			categories = append(categories, spec.Category)
		}
	}
	slices.Sort(s.order)
	s.registry.Register(categories, opts.Locations)
	s.initRecords()
	return s
}

func (s *Simulator) initRecords() {
	s.records = make(map[string]PriceRecord, len(s.order))
	s.deltas = make(map[string]float64, len(s.order))
	s.history.Reset()
	for _, id := range s.order {
		spec := s.specs[id]
		if !spec.usableBase() {
			continue
		}
		s.history.Push(id, spec.BasePrice)
		s.records[id] = PriceRecord{
			Price:     spec.BasePrice,
			PrevPrice: spec.BasePrice,
			Trend:     TrendStable,
			History:   s.history.Values(id),
		}
	}
}

// WeeklyTick advances every product by one week and returns the new records.
// It consumes randomness and appends history, so each week must be ticked
// at most once.
func (s *Simulator) WeeklyTick(week int) map[string]PriceRecord {
	start := time.Now()
	s.priceCache.Clear()
	s.trendCache.Clear()

	summary := TickSummary{Week: week}
	changes := make([]float64, 0, len(s.order))
	for _, id := range s.order {
		rec, forced, err := s.tickProduct(id, week)
		if err != nil {
			summary.Failed++
			s.log.Warn("product tick failed, keeping previous price", "product", id, "week", week, "err", err)
			continue
		}
		s.records[id] = rec
		summary.Updated++
		if forced {
			summary.Forced++
		}
		switch rec.Trend {
		case TrendRising:
			summary.Rising++
		case TrendFalling:
			summary.Falling++
		default:
			summary.Stable++
		}
		if rec.PrevPrice > 0 {
			changes = append(changes, (rec.Price-rec.PrevPrice)/rec.PrevPrice*100)
		}
	}
	if len(changes) > 0 {
		summary.MeanChangePct = round2(stat.Mean(changes, nil))
	}

	summary.Balance = s.registry.Rebalance(s.records)
	stats := s.priceCache.Stats()
	summary.PriceCacheHits, summary.PriceCacheMisses = stats.Hits, stats.Misses
	summary.Duration = time.Since(start)
	s.week = week
	s.summary = summary

	s.log.Debug("weekly tick complete",
		"week", week,
		"updated", summary.Updated,
		"failed", summary.Failed,
		"forced", summary.Forced,
		"condition", summary.Balance.Condition,
		"mean_change_pct", summary.MeanChangePct)
	return s.Records()
}

func (s *Simulator) tickProduct(id string, week int) (rec PriceRecord, forced bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic computing %s: %v", id, p)
		}
	}()

	spec, ok := s.specs[id]
	if !ok {
		return PriceRecord{}, false, fmt.Errorf("%w: %s", ErrProductNotFound, id)
	}
	prior, ok := s.records[id]
	if !ok {
		return PriceRecord{}, false, fmt.Errorf("%w: %s has no prior record", ErrInvalidProductSpec, id)
	}

	key := priceKey{productID: id, week: week, price: roundKey(prior.Price)}
	q, err := s.priceCache.GetOrCompute(key, func() (Quote, error) {
		return s.model.NextPrice(spec, prior.Price, week, s.deltas[id], s.registry.For(spec, ""))
	})
	if err != nil {
		return PriceRecord{}, false, err
	}

	s.history.Push(id, q.Price)
	s.deltas[id] = q.TrendDelta
	history := s.history.Values(id)
	reading, _ := s.trendCache.GetOrCompute(trendKey{productID: id, week: week}, func() (TrendReading, error) {
		return s.trends.Classify(history), nil
	})

	return PriceRecord{
		Price:         q.Price,
		PrevPrice:     prior.Price,
		Trend:         reading.Trend,
		ChangePercent: q.ChangePercent,
		History:       history,
	}, q.Forced, nil
}

func roundKey(price float64) int64 {
	if !finite(price) {
		return math.MinInt64
	}
	return int64(math.Round(price))
}

func (s *Simulator) CurrentPrice(productID string) (float64, error) {
	rec, ok := s.records[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return rec.Price, nil
}

func (s *Simulator) Trend(productID string) (TrendView, error) {
	rec, ok := s.records[productID]
	if !ok {
		return TrendView{}, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	reading, _ := s.trendCache.GetOrCompute(trendKey{productID: productID, week: s.week}, func() (TrendReading, error) {
		return s.trends.Classify(rec.History), nil
	})
	return TrendView{Trend: rec.Trend, ChangePercent: rec.ChangePercent, Strength: reading.Strength}, nil
}

func (s *Simulator) History(productID string) ([]float64, error) {
	if _, ok := s.records[productID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return s.history.Values(productID), nil
}

// PriceAt is the price of a product in one district: the current price with
// the location multipliers applied, clamped to the product band.
func (s *Simulator) PriceAt(productID, location string) (float64, error) {
	rec, ok := s.records[productID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	if location == "" {
		return rec.Price, nil
	}
	spec := s.specs[productID]
	lo, hi, _ := spec.Bounds()
	compute := func() (Quote, error) {
		m := s.registry.For(spec, location)
		p := clamp(math.Round(rec.Price*m.Location*m.LocationProduct), lo, hi)
		return Quote{Price: p, ChangePercent: ChangePercent(p, spec.BasePrice)}, nil
	}
	key := priceKey{productID: productID, week: s.week, price: roundKey(rec.Price), location: location}
	q, err := s.priceCache.GetOrCompute(key, compute)
	if err != nil {
		return 0, fmt.Errorf("district price %s@%s: %w", productID, location, err)
	}
	if q.Price < lo || q.Price > hi || !finite(q.Price) {
		s.log.Debug("cached district price out of band, recomputing",
			"product", productID, "location", location, "err", ErrCacheInconsistency)
		s.priceCache.Clear()
		if q, err = compute(); err != nil {
			return 0, fmt.Errorf("district price %s@%s: %w", productID, location, err)
		}
	}
	return q.Price, nil
}

// Records returns a deep copy of every product's record.
func (s *Simulator) Records() map[string]PriceRecord {
	out := make(map[string]PriceRecord, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.clone()
	}
	return out
}

func (s *Simulator) Specs() []ProductSpec {
	out := make([]ProductSpec, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.specs[id])
	}
	return out
}

func (s *Simulator) Locations() []string {
	return sortedKeys(s.registry.set.Locations)
}

func (s *Simulator) Week() int {
	return s.week
}

func (s *Simulator) Summary() TickSummary {
	return s.summary
}

func (s *Simulator) Registry() *ModifierRegistry {
	return s.registry
}

// ApplyModifier is the entry point for narrative events. Cached district
// prices depend on the modifier set, so they are dropped.
func (s *Simulator) ApplyModifier(scope Scope, key string, value float64) error {
	if err := s.registry.Set(scope, key, value); err != nil {
		return err
	}
	s.priceCache.Clear()
	return nil
}

// Reset starts a new game: base prices, empty history, neutral modifiers.
func (s *Simulator) Reset() {
	s.priceCache.Clear()
	s.trendCache.Clear()
	s.registry.Reset()
	s.initRecords()
	s.week = 0
	s.summary = TickSummary{}
}
