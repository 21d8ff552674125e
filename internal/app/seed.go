package app

import (
	"encoding/json"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/floracart/checkout-server/db"
	"github.com/floracart/checkout-server/internal/domain/catalog"
	"github.com/floracart/checkout-server/internal/domain/pricing"
)

type seedRule struct {
	Code      string          `json:"code"`
	Kind      string          `json:"kind"`
	Value     decimal.Decimal `json:"value"`
	Title     string          `json:"title"`
	ItemIDs   []string        `json:"item_ids"`
	Automatic bool            `json:"automatic"`
}

// LoadSeedCatalog decodes the embedded product catalog.
func LoadSeedCatalog() ([]catalog.Item, error) {
	var items []catalog.Item
	if err := json.Unmarshal(db.SeedProducts, &items); err != nil {
		return nil, errors.Wrap(err, "decode seed products")
	}
	return items, nil
}

// LoadSeedRules decodes the embedded discount rules.
func LoadSeedRules() ([]pricing.Rule, error) {
	var seeds []seedRule
	if err := json.Unmarshal(db.SeedDiscounts, &seeds); err != nil {
		return nil, errors.Wrap(err, "decode seed discounts")
	}
	rules := make([]pricing.Rule, len(seeds))
	for i, s := range seeds {
		rules[i] = pricing.Rule{
			Code:      s.Code,
			Kind:      pricing.Kind(s.Kind),
			Value:     s.Value,
			Title:     s.Title,
			ItemIDs:   s.ItemIDs,
			Automatic: s.Automatic,
		}
	}
	return rules, nil
}
