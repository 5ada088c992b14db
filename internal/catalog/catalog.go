package catalog

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"bazaar/internal/market"
)

var ErrEmptyCatalog = errors.New("catalog has no products")

// Catalog is the immutable set of tradable goods and the districts they are
// traded in.
type Catalog struct {
	Products  []market.ProductSpec `yaml:"products"`
	Districts []string             `yaml:"locations"`
}

func (c *Catalog) All() []market.ProductSpec {
	return slices.Clone(c.Products)
}

func (c *Catalog) Locations() []string {
	return slices.Clone(c.Districts)
}

func (c *Catalog) Lookup(id string) (market.ProductSpec, bool) {
	for _, p := range c.Products {
		if p.ID == id {
			return p, true
		}
	}
	return market.ProductSpec{}, false
}

// Default is the built-in catalog used when no catalog file is configured.
func Default() *Catalog {
	return &Catalog{
		Products: []market.ProductSpec{
			{ID: "rice", Category: "food", BasePrice: 50, MinPrice: 25, MaxPrice: 120, Volatility: 0.08, Period: 8},
			{ID: "noodles", Category: "food", BasePrice: 30, MinPrice: 15, MaxPrice: 70, Volatility: 0.1},
			{ID: "tea", Category: "food", BasePrice: 80, MinPrice: 40, MaxPrice: 200, Volatility: 0.12, Period: 10},
			{ID: "seafood", Category: "food", BasePrice: 220, MinPrice: 100, MaxPrice: 520, Volatility: 0.2, Period: 6},
			{ID: "phone", Category: "electronics", BasePrice: 3200, MinPrice: 1600, MaxPrice: 7500, Volatility: 0.18, Period: 12},
			{ID: "laptop", Category: "electronics", BasePrice: 6500, MinPrice: 3200, MaxPrice: 15000, Volatility: 0.2},
			{ID: "headphones", Category: "electronics", BasePrice: 900, MinPrice: 400, MaxPrice: 2200, Volatility: 0.22},
			{ID: "sneakers", Category: "fashion", BasePrice: 600, MinPrice: 250, MaxPrice: 1600, Volatility: 0.25, Period: 5},
			{ID: "jacket", Category: "fashion", BasePrice: 1100, MinPrice: 500, MaxPrice: 2800, Volatility: 0.2},
			{ID: "perfume", Category: "luxury", BasePrice: 1500, MinPrice: 700, MaxPrice: 4000, Volatility: 0.22},
			{ID: "watch", Category: "luxury", BasePrice: 12000, MinPrice: 5500, MaxPrice: 32000, Volatility: 0.3, Period: 9},
			{ID: "handbag", Category: "luxury", BasePrice: 8000, MinPrice: 3500, MaxPrice: 21000, Volatility: 0.28},
		},
		Districts: []string{"harbor", "old-town", "tech-park", "uptown"},
	}
}

// Load reads a catalog from a YAML file. An empty path returns Default.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog.Load: read %q: %w", path, err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("catalog.Parse: %w", err)
	}
	if len(c.Products) == 0 {
		return nil, ErrEmptyCatalog
	}
	seen := make(map[string]struct{}, len(c.Products))
	for i, p := range c.Products {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return nil, fmt.Errorf("catalog.Parse: product %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("catalog.Parse: duplicate product %q", id)
		}
		seen[id] = struct{}{}
		c.Products[i].ID = id
	}
	for i, loc := range c.Districts {
		c.Districts[i] = strings.TrimSpace(loc)
	}
	c.Districts = slices.DeleteFunc(c.Districts, func(s string) bool { return s == "" })
	return &c, nil
}
