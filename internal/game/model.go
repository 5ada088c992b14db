package game

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"

	"bazaar/internal/market"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrWeekInProgress   = errors.New("a week is already advancing for this session")
	ErrUnknownLocation  = errors.New("unknown location")
	ErrInvalidModifier  = errors.New("invalid modifier event")
	ErrInvalidSessionID = errors.New("session id must be a uuid")
)

var sessionIDRE = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func ValidateSessionID(id string) error {
	if !sessionIDRE.MatchString(strings.TrimSpace(id)) {
		return ErrInvalidSessionID
	}
	return nil
}

// ParseModifierEvent turns the string form of an event effect into engine
// terms. Location-product keys may be written "location/product" or as the
// two words "location product".
func ParseModifierEvent(scope, key string, value float64) (market.Scope, string, float64, error) {
	sc, err := market.ParseScope(scope)
	if err != nil {
		return 0, "", 0, fmt.Errorf("%w: %w", ErrInvalidModifier, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, "", 0, fmt.Errorf("%w: value %v: %w", ErrInvalidModifier, value, market.ErrModifierOutOfRange)
	}
	key = strings.TrimSpace(key)
	switch sc {
	case market.ScopeGlobal:
		key = ""
	case market.ScopeLocationProduct:
		if loc, product, ok := strings.Cut(key, " "); ok && !strings.Contains(key, "/") {
			key = market.LocationProductKey(strings.TrimSpace(loc), strings.TrimSpace(product))
		}
		fallthrough
	default:
		if key == "" {
			return 0, "", 0, fmt.Errorf("%w: %s scope needs a key", ErrInvalidModifier, sc)
		}
	}
	return sc, key, value, nil
}

// priceRow builds the client view of one product. A district price keeps
// the catalog-wide trend but reports its own change against base.
func priceRow(spec market.ProductSpec, rec market.PriceRecord, view market.TrendView, districtPrice float64, location string) PriceRow {
	row := PriceRow{
		ProductID:     spec.ID,
		Category:      spec.Category,
		Location:      location,
		Price:         rec.Price,
		PrevPrice:     rec.PrevPrice,
		BasePrice:     spec.BasePrice,
		Trend:         rec.Trend,
		ChangePercent: rec.ChangePercent,
		Strength:      view.Strength,
	}
	if location != "" {
		row.Price = districtPrice
		row.ChangePercent = market.ChangePercent(districtPrice, spec.BasePrice)
	}
	return row
}
