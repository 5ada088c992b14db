package market

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
)

type Scope uint8

const (
	ScopeGlobal Scope = iota
	ScopeCategory
	ScopeProduct
	ScopeLocation
	ScopeLocationProduct
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeCategory:
		return "category"
	case ScopeProduct:
		return "product"
	case ScopeLocation:
		return "location"
	case ScopeLocationProduct:
		return "location_product"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

func ParseScope(v string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "global":
		return ScopeGlobal, nil
	case "category":
		return ScopeCategory, nil
	case "product":
		return ScopeProduct, nil
	case "location":
		return ScopeLocation, nil
	case "location_product", "locationproduct":
		return ScopeLocationProduct, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownScope, v)
	}
}

// Band is the inclusive range a scope's multiplier is clamped to.
func (s Scope) Band() (lo, hi float64) {
	switch s {
	case ScopeGlobal:
		return 0.5, 1.5
	case ScopeCategory:
		return 0.7, 1.3
	case ScopeProduct:
		return 0.6, 1.4
	case ScopeLocation:
		return 0.8, 1.2
	default:
		return 0.7, 1.3
	}
}

// LocationProductKey joins a district and a product id into the key used by
// ScopeLocationProduct.
func LocationProductKey(location, productID string) string {
	return location + "/" + productID
}

func splitLocationProductKey(key string) (string, string, bool) {
	location, product, ok := strings.Cut(key, "/")
	if !ok || location == "" || product == "" {
		return "", "", false
	}
	return location, product, true
}

type UnchangedWeeks struct {
	Global     int            `json:"global"`
	Categories map[string]int `json:"perCategory"`
	Products   map[string]int `json:"perProduct"`
	Locations  map[string]int `json:"perLocation"`
}

type ModifierSet struct {
	Global           float64                       `json:"global"`
	Categories       map[string]float64            `json:"categories"`
	Products         map[string]float64            `json:"products"`
	Locations        map[string]float64            `json:"locations"`
	LocationProducts map[string]map[string]float64 `json:"locationProducts"`
	Unchanged        UnchangedWeeks                `json:"unchangedWeeks"`
}

func newModifierSet() ModifierSet {
	return ModifierSet{
		Global:           1,
		Categories:       map[string]float64{},
		Products:         map[string]float64{},
		Locations:        map[string]float64{},
		LocationProducts: map[string]map[string]float64{},
		Unchanged: UnchangedWeeks{
			Categories: map[string]int{},
			Products:   map[string]int{},
			Locations:  map[string]int{},
		},
	}
}

func (m ModifierSet) clone() ModifierSet {
	out := newModifierSet()
	out.Global = m.Global
	out.Unchanged.Global = m.Unchanged.Global
	for k, v := range m.Categories {
		out.Categories[k] = v
	}
	for k, v := range m.Products {
		out.Products[k] = v
	}
	for k, v := range m.Locations {
		out.Locations[k] = v
	}
	for loc, inner := range m.LocationProducts {
		cp := make(map[string]float64, len(inner))
		for k, v := range inner {
			cp[k] = v
		}
		out.LocationProducts[loc] = cp
	}
	for k, v := range m.Unchanged.Categories {
		out.Unchanged.Categories[k] = v
	}
	for k, v := range m.Unchanged.Products {
		out.Unchanged.Products[k] = v
	}
	for k, v := range m.Unchanged.Locations {
		out.Unchanged.Locations[k] = v
	}
	return out
}

type MarketCondition string

const (
	ConditionNeutral MarketCondition = "neutral"
	ConditionHot     MarketCondition = "hot"
	ConditionCold    MarketCondition = "cold"
)

type BalanceReport struct {
	RisingRatio   float64         `json:"rising_ratio"`
	FallingRatio  float64         `json:"falling_ratio"`
	Condition     MarketCondition `json:"condition"`
	Adjusted      []string        `json:"adjusted,omitempty"`
	Interventions []string        `json:"interventions,omitempty"`
}

// ModifierRegistry owns the multipliers applied on top of the price model.
// Narrative events and the weekly self-balancing write to the same set.
type ModifierRegistry struct {
	set    ModifierSet
	rng    Source
	tuning Tuning
	log    *slog.Logger
}

func NewModifierRegistry(rng Source, tuning Tuning, logger *slog.Logger) *ModifierRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	if rng == nil {
		rng = NewEntropySource()
	}
	return &ModifierRegistry{set: newModifierSet(), rng: rng, tuning: tuning, log: logger}
}

// Register makes categories and locations eligible for scheduled adjustment.
func (r *ModifierRegistry) Register(categories, locations []string) {
	for _, c := range categories {
		if c == "" {
			continue
		}
		if _, ok := r.set.Categories[c]; !ok {
			r.set.Categories[c] = 1
			r.set.Unchanged.Categories[c] = 0
		}
	}
	for _, l := range locations {
		if l == "" {
			continue
		}
		if _, ok := r.set.Locations[l]; !ok {
			r.set.Locations[l] = 1
			r.set.Unchanged.Locations[l] = 0
		}
	}
}

func (r *ModifierRegistry) Get(scope Scope, key string) float64 {
	var (
		v  float64
		ok bool
	)
	switch scope {
	case ScopeGlobal:
		return r.set.Global
	case ScopeCategory:
		v, ok = r.set.Categories[key]
	case ScopeProduct:
		v, ok = r.set.Products[key]
	case ScopeLocation:
		v, ok = r.set.Locations[key]
	case ScopeLocationProduct:
		if loc, product, valid := splitLocationProductKey(key); valid {
			v, ok = r.set.LocationProducts[loc][product]
		}
	}
	if !ok {
		return 1
	}
	return v
}

// Set stores a clamped multiplier and restarts that scope's unchanged counter.
func (r *ModifierRegistry) Set(scope Scope, key string, value float64) error {
	if !finite(value) {
		return fmt.Errorf("%w: %v", ErrModifierOutOfRange, value)
	}
	lo, hi := scope.Band()
	value = clamp(value, lo, hi)
	switch scope {
	case ScopeGlobal:
		r.set.Global = value
		r.set.Unchanged.Global = 0
	case ScopeCategory:
		if key == "" {
			return fmt.Errorf("%w: %s", ErrModifierKey, scope)
		}
		r.set.Categories[key] = value
		r.set.Unchanged.Categories[key] = 0
	case ScopeProduct:
		if key == "" {
			return fmt.Errorf("%w: %s", ErrModifierKey, scope)
		}
		r.set.Products[key] = value
		r.set.Unchanged.Products[key] = 0
	case ScopeLocation:
		if key == "" {
			return fmt.Errorf("%w: %s", ErrModifierKey, scope)
		}
		r.set.Locations[key] = value
		r.set.Unchanged.Locations[key] = 0
	case ScopeLocationProduct:
		loc, product, ok := splitLocationProductKey(key)
		if !ok {
			return fmt.Errorf("%w: %s wants location/product, got %q", ErrModifierKey, scope, key)
		}
		inner := r.set.LocationProducts[loc]
		if inner == nil {
			inner = map[string]float64{}
			r.set.LocationProducts[loc] = inner
		}
		inner[product] = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownScope, scope)
	}
	return nil
}

// For resolves every multiplier that applies to spec in location. An empty
// location means the catalog-wide price.
func (r *ModifierRegistry) For(spec ProductSpec, location string) Modifiers {
	m := Modifiers{
		Global:          r.set.Global,
		Category:        r.Get(ScopeCategory, spec.Category),
		Product:         r.Get(ScopeProduct, spec.ID),
		Location:        1,
		LocationProduct: 1,
	}
	if location != "" {
		m.Location = r.Get(ScopeLocation, location)
		m.LocationProduct = r.Get(ScopeLocationProduct, LocationProductKey(location, spec.ID))
	}
	return m
}

// Rebalance runs the weekly modifier schedule and counters extreme markets.
func (r *ModifierRegistry) Rebalance(records map[string]PriceRecord) BalanceReport {
	report := BalanceReport{Condition: ConditionNeutral}
	var rising, falling []string
	for id, rec := range records {
		switch rec.Trend {
		case TrendRising:
			rising = append(rising, id)
		case TrendFalling:
			falling = append(falling, id)
		}
	}
	slices.Sort(rising)
	slices.Sort(falling)
	if n := len(records); n > 0 {
		report.RisingRatio = float64(len(rising)) / float64(n)
		report.FallingRatio = float64(len(falling)) / float64(n)
	}

	extreme := r.tuning.ExtremeRatio
	if extreme <= 0 {
		extreme = 0.7
	}
	upChance := r.tuning.UpProbability
	switch {
	case report.RisingRatio > extreme:
		report.Condition = ConditionHot
		upChance = r.tuning.HotUpProbability
	case report.FallingRatio > extreme:
		report.Condition = ConditionCold
		upChance = r.tuning.ColdUpProbability
	}

	r.age()

	if g := r.set.Unchanged.Global; g >= 8 || (g >= 4 && r.rng.Float64() < 0.25) {
		r.walk(ScopeGlobal, "", upChance)
		report.Adjusted = append(report.Adjusted, "global")
	}
	for _, cat := range sortedKeys(r.set.Categories) {
		if r.set.Unchanged.Categories[cat] >= 4 || r.rng.Float64() < 0.3 {
			r.walk(ScopeCategory, cat, upChance)
			report.Adjusted = append(report.Adjusted, "category:"+cat)
		}
	}
	for _, loc := range sortedKeys(r.set.Locations) {
		if r.set.Unchanged.Locations[loc] >= 5 || r.rng.Float64() < 0.2 {
			r.walk(ScopeLocation, loc, upChance)
			report.Adjusted = append(report.Adjusted, "location:"+loc)
		}
	}
	r.relaxProducts()

	switch report.Condition {
	case ConditionHot:
		report.Interventions = r.intervene(rising, len(records), r.tuning.CoolingModifier)
	case ConditionCold:
		report.Interventions = r.intervene(falling, len(records), r.tuning.HeatingModifier)
	}
	if report.Condition != ConditionNeutral {
		r.log.Info("market extreme detected",
			"condition", report.Condition,
			"rising_ratio", report.RisingRatio,
			"falling_ratio", report.FallingRatio,
			"interventions", len(report.Interventions))
	}
	return report
}

func (r *ModifierRegistry) age() {
	r.set.Unchanged.Global++
	for k := range r.set.Categories {
		r.set.Unchanged.Categories[k]++
	}
	for k := range r.set.Products {
		r.set.Unchanged.Products[k]++
	}
	for k := range r.set.Locations {
		r.set.Unchanged.Locations[k]++
	}
}

// walk moves a scope by 0.1..0.2; the direction is up with probability upChance.
func (r *ModifierRegistry) walk(scope Scope, key string, upChance float64) {
	step := 0.1 + r.rng.Float64()*0.1
	if r.rng.Float64() >= upChance {
		step = -step
	}
	_ = r.Set(scope, key, r.Get(scope, key)+step)
}

// relaxProducts halves the distance to 1 for product modifiers nobody has
// touched for three weeks and drops the ones that have settled.
func (r *ModifierRegistry) relaxProducts() {
	for _, id := range sortedKeys(r.set.Products) {
		if r.set.Unchanged.Products[id] < 3 {
			continue
		}
		v := 1 + (r.set.Products[id]-1)/2
		if math.Abs(v-1) < 0.01 {
			delete(r.set.Products, id)
			delete(r.set.Unchanged.Products, id)
			continue
		}
		_ = r.Set(ScopeProduct, id, v)
	}
}

// intervene forces a random share of the candidates to value.
func (r *ModifierRegistry) intervene(candidates []string, total int, value float64) []string {
	if len(candidates) == 0 {
		return nil
	}
	share := r.tuning.InterventionShare
	if share <= 0 {
		share = 0.1
	}
	n := int(math.Round(share * float64(total)))
	if n < 1 {
		n = 1
	}
	if n > len(candidates) {
		n = len(candidates)
	}
	pool := slices.Clone(candidates)
	for i := 0; i < n; i++ {
		j := i + int(r.rng.Float64()*float64(len(pool)-i))
		if j >= len(pool) {
			j = len(pool) - 1
		}
		pool[i], pool[j] = pool[j], pool[i]
		_ = r.Set(ScopeProduct, pool[i], value)
	}
	return pool[:n]
}

func (r *ModifierRegistry) Snapshot() ModifierSet {
	return r.set.clone()
}

// Restore replaces the set, clamping every stored value into its band.
func (r *ModifierRegistry) Restore(set ModifierSet) {
	base := set.clone()
	if !finite(base.Global) || base.Global == 0 {
		base.Global = 1
	}
	base.Global = clamp(base.Global, 0.5, 1.5)
	clampAll(base.Categories, ScopeCategory)
	clampAll(base.Products, ScopeProduct)
	clampAll(base.Locations, ScopeLocation)
	for _, inner := range base.LocationProducts {
		clampAll(inner, ScopeLocationProduct)
	}
	r.set = base
}

func (r *ModifierRegistry) Reset() {
	categories := sortedKeys(r.set.Categories)
	locations := sortedKeys(r.set.Locations)
	r.set = newModifierSet()
	r.Register(categories, locations)
}

func clampAll(m map[string]float64, scope Scope) {
	lo, hi := scope.Band()
	for k, v := range m {
		if !finite(v) {
			v = 1
		}
		m[k] = clamp(v, lo, hi)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
