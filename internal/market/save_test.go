package market

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestSaveRoundTrip(t *testing.T) {
	sim := NewSimulator(testCatalog(), Options{Source: NewSeededSource(21), Locations: []string{"harbor"}})
	for week := 1; week <= 30; week++ {
		sim.WeeklyTick(week)
	}
	records := sim.Records()

	raw, err := EncodeSave(SaveFile{ProductPrices: ToSaved(records)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeSave(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	back, err := FromSaved(decoded.ProductPrices)
	if err != nil {
		t.Fatalf("FromSaved: %v", err)
	}
	if !reflect.DeepEqual(records, back) {
		t.Fatalf("round trip mismatch:\n got=%+v\nwant=%+v", back, records)
	}
}

func TestSaveShape(t *testing.T) {
	sim := NewSimulator(testCatalog()[:1], Options{Source: NewSeededSource(1)})
	sim.WeeklyTick(1)
	raw, err := EncodeSave(sim.Save("s-1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	var prices map[string]map[string]json.RawMessage
	if err := json.Unmarshal(doc["productPrices"], &prices); err != nil {
		t.Fatalf("productPrices: %v", err)
	}
	entry, ok := prices["rice"]
	if !ok {
		t.Fatalf("rice missing from productPrices: %s", raw)
	}
	for _, key := range []string{"price", "prevPrice", "trend", "changePercent", "history"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("key %q missing in %s", key, raw)
		}
	}
}

func TestSimulatorRestoreContinues(t *testing.T) {
	a := NewSimulator(testCatalog(), Options{Source: NewSeededSource(8), Locations: []string{"harbor"}})
	for week := 1; week <= 12; week++ {
		a.WeeklyTick(week)
	}
	save := a.Save("abc")

	b := NewSimulator(testCatalog(), Options{Source: NewSeededSource(99), Locations: []string{"harbor"}})
	if err := b.Restore(save); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if b.Week() != 12 {
		t.Fatalf("week got=%d want=12", b.Week())
	}
	if got, want := b.Summary(), a.Summary(); got.Week != 12 || got.Rising != want.Rising || got.Balance.Condition != want.Balance.Condition {
		t.Fatalf("summary after restore got=%+v want=%+v", got, want)
	}
	if !reflect.DeepEqual(a.Records(), b.Records()) {
		t.Fatalf("records differ after restore")
	}
	if !reflect.DeepEqual(a.Registry().Snapshot(), b.Registry().Snapshot()) {
		t.Fatalf("modifiers differ after restore")
	}
	h, _ := b.History("rice")
	b.WeeklyTick(13)
	h2, _ := b.History("rice")
	if len(h2) != len(h)+1 && len(h2) != HistoryMax {
		t.Fatalf("history did not continue: %d -> %d", len(h), len(h2))
	}
}

func TestFromSavedRejectsUnknownTrend(t *testing.T) {
	_, err := FromSaved(map[string]SavedPrice{"rice": {Price: 1, Trend: "sideways"}})
	if err == nil || !strings.Contains(err.Error(), "sideways") {
		t.Fatalf("expected trend error, got %v", err)
	}
	if _, err := FromSaved(map[string]SavedPrice{"rice": {Price: 1, Trend: "volatile"}}); err != nil {
		t.Fatalf("volatile must be accepted: %v", err)
	}
}
