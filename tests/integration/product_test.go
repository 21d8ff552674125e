//go:build integration

package integration

import (
	"net/http"
	"testing"
)

func TestListProducts(t *testing.T) {
	resp := doGet(t, "/products")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	products := decodeJSON[[]productResponse](t, resp)
	if len(products) != 8 {
		t.Fatalf("expected 8 products, got %d", len(products))
	}

	byID := make(map[string]productResponse, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	roses, ok := byID["bouquet_roses"]
	if !ok {
		t.Fatal("bouquet_roses not in catalog")
	}
	if roses.UnitPrice != 3500 {
		t.Errorf("bouquet_roses price: got %d, want 3500", roses.UnitPrice)
	}
	if roses.Currency != "USD" {
		t.Errorf("bouquet_roses currency: got %q, want USD", roses.Currency)
	}
}
