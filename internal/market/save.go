package market

import (
	"encoding/json"
	"fmt"
	"time"
)

// SavedPrice is the per-product entry under "productPrices" in a save file.
type SavedPrice struct {
	Price         float64   `json:"price"`
	PrevPrice     float64   `json:"prevPrice"`
	Trend         string    `json:"trend"`
	ChangePercent float64   `json:"changePercent"`
	History       []float64 `json:"history"`
}

type SaveFile struct {
	SessionID        string                `json:"sessionId"`
	CurrentWeek      int                   `json:"currentWeek"`
	SavedAt          time.Time             `json:"savedAt"`
	ProductPrices    map[string]SavedPrice `json:"productPrices"`
	MarketModifiers  ModifierSet           `json:"marketModifiers"`
	PriorTrendDeltas map[string]float64    `json:"priorTrendDeltas,omitempty"`
	LastTick         *TickSummary          `json:"lastTick,omitempty"`
	LastAdvanceKey   string                `json:"lastAdvanceKey,omitempty"`
}

func ToSaved(records map[string]PriceRecord) map[string]SavedPrice {
	out := make(map[string]SavedPrice, len(records))
	for id, rec := range records {
		history := rec.History
		if len(history) > HistoryMax {
			history = history[len(history)-HistoryMax:]
		}
		out[id] = SavedPrice{
			Price:         rec.Price,
			PrevPrice:     rec.PrevPrice,
			Trend:         string(rec.Trend),
			ChangePercent: rec.ChangePercent,
			History:       append([]float64{}, history...),
		}
	}
	return out
}

func FromSaved(saved map[string]SavedPrice) (map[string]PriceRecord, error) {
	out := make(map[string]PriceRecord, len(saved))
	for id, sp := range saved {
		trend := Trend(sp.Trend)
		if !trend.Valid() {
			return nil, fmt.Errorf("product %s: unknown trend %q", id, sp.Trend)
		}
		if !finite(sp.Price) {
			return nil, fmt.Errorf("product %s: price %v", id, sp.Price)
		}
		history := sp.History
		if len(history) > HistoryMax {
			history = history[len(history)-HistoryMax:]
		}
		out[id] = PriceRecord{
			Price:         sp.Price,
			PrevPrice:     sp.PrevPrice,
			Trend:         trend,
			ChangePercent: sp.ChangePercent,
			History:       append([]float64{}, history...),
		}
	}
	return out, nil
}

func EncodeSave(save SaveFile) ([]byte, error) {
	return json.MarshalIndent(save, "", "  ")
}

func DecodeSave(raw []byte) (SaveFile, error) {
	var save SaveFile
	if err := json.Unmarshal(raw, &save); err != nil {
		return SaveFile{}, fmt.Errorf("decode save: %w", err)
	}
	return save, nil
}

// Save snapshots the session state in the persisted shape.
func (s *Simulator) Save(sessionID string) SaveFile {
	deltas := make(map[string]float64, len(s.deltas))
	for id, d := range s.deltas {
		deltas[id] = d
	}
	save := SaveFile{
		SessionID:        sessionID,
		CurrentWeek:      s.week,
		SavedAt:          time.Now().UTC(),
		ProductPrices:    ToSaved(s.records),
		MarketModifiers:  s.registry.Snapshot(),
		PriorTrendDeltas: deltas,
	}
	if s.week > 0 {
		summary := s.summary
		save.LastTick = &summary
	}
	return save
}

// Restore loads a save. Products missing from the save keep their base
// price; products the catalog no longer has are dropped.
func (s *Simulator) Restore(save SaveFile) error {
	records, err := FromSaved(save.ProductPrices)
	if err != nil {
		return err
	}
	s.Reset()
	for id, rec := range records {
		if _, ok := s.specs[id]; !ok {
			s.log.Warn("saved product not in catalog, dropping", "product", id)
			continue
		}
		s.records[id] = rec
		s.history.Seed(id, rec.History)
	}
	for id, d := range save.PriorTrendDeltas {
		if _, ok := s.specs[id]; ok && finite(d) {
			s.deltas[id] = d
		}
	}
	locations := s.Locations()
	s.registry.Restore(save.MarketModifiers)
	s.registry.Register(nil, locations)
	categories := make([]string, 0)
	for _, spec := range s.specs {
		categories = append(categories, spec.Category)
	}
	s.registry.Register(categories, nil)
	s.week = save.CurrentWeek
	if save.LastTick != nil {
		s.summary = *save.LastTick
	}
	return nil
}
