package game

import (
	"errors"
	"math"
	"testing"

	"bazaar/internal/market"
)

func TestValidateSessionID(t *testing.T) {
	if err := ValidateSessionID("3f1c2a9e-5b7d-4c1e-9a2b-0c4d5e6f7a8b"); err != nil {
		t.Fatalf("expected valid id: %v", err)
	}
	for _, id := range []string{"", "abc", "../../etc/passwd", "3F1C2A9E-5B7D-4C1E-9A2B-0C4D5E6F7A8B"} {
		if err := ValidateSessionID(id); !errors.Is(err, ErrInvalidSessionID) {
			t.Fatalf("id %q: expected ErrInvalidSessionID, got %v", id, err)
		}
	}
}

func TestParseModifierEvent(t *testing.T) {
	tests := []struct {
		scope, key string
		wantScope  market.Scope
		wantKey    string
	}{
		{"global", "ignored", market.ScopeGlobal, ""},
		{"category", " food ", market.ScopeCategory, "food"},
		{"product", "rice", market.ScopeProduct, "rice"},
		{"location", "harbor", market.ScopeLocation, "harbor"},
		{"location_product", "harbor rice", market.ScopeLocationProduct, "harbor/rice"},
		{"location_product", "harbor/rice", market.ScopeLocationProduct, "harbor/rice"},
	}
	for _, tc := range tests {
		sc, key, _, err := ParseModifierEvent(tc.scope, tc.key, 1.1)
		if err != nil {
			t.Fatalf("%s %q: %v", tc.scope, tc.key, err)
		}
		if sc != tc.wantScope || key != tc.wantKey {
			t.Fatalf("%s %q: got (%s, %q) want (%s, %q)", tc.scope, tc.key, sc, key, tc.wantScope, tc.wantKey)
		}
	}

	if _, _, _, err := ParseModifierEvent("weather", "rain", 1); !errors.Is(err, ErrInvalidModifier) || !errors.Is(err, market.ErrUnknownScope) {
		t.Fatalf("expected unknown scope, got %v", err)
	}
	if _, _, _, err := ParseModifierEvent("global", "", math.Inf(1)); !errors.Is(err, market.ErrModifierOutOfRange) {
		t.Fatalf("expected ErrModifierOutOfRange, got %v", err)
	}
	if _, _, _, err := ParseModifierEvent("category", "  ", 1.1); !errors.Is(err, ErrInvalidModifier) {
		t.Fatalf("expected missing key error, got %v", err)
	}
}
