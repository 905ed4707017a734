package recommendation

import (
	"testing"
	"time"

	"retailpos/backend/internal/domain"
)

var now = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestSuggestSkipsWellStockedProducts(t *testing.T) {
	engine := NewEngine(14, 7)

	suggestions := engine.Suggest([]domain.Product{
		{ID: "prod-full", Name: "Full", SKU: "SKU-FULL", Quantity: 50, MinStock: 5},
	}, nil, now)
	if len(suggestions) != 0 {
		t.Fatalf("expected no suggestions, got %+v", suggestions)
	}
}

func TestSuggestBufferAndDemandSizing(t *testing.T) {
	engine := NewEngine(14, 7)

	products := []domain.Product{
		// No sales history: order back up to twice the minimum.
		{ID: "prod-slow", Name: "Slow", SKU: "SKU-SLOW", Quantity: 2, MinStock: 5, CostCents: 400},
		// 28 sold over 14 days = 2/day; 7 days of cover beats the buffer.
		{ID: "prod-fast", Name: "Fast", SKU: "SKU-FAST", Quantity: 1, MinStock: 2, PriceCents: 900},
	}
	sales := []domain.Sale{
		{CreatedAt: now.Add(-48 * time.Hour), Items: []domain.SaleItem{{ProductID: "prod-fast", Quantity: 28}}},
		// Outside the horizon, must not count.
		{CreatedAt: now.Add(-20 * 24 * time.Hour), Items: []domain.SaleItem{{ProductID: "prod-fast", Quantity: 100}}},
	}

	suggestions := engine.Suggest(products, sales, now)
	if len(suggestions) != 2 {
		t.Fatalf("expected 2 suggestions, got %d", len(suggestions))
	}

	// Lowest stock first.
	fast, slow := suggestions[0], suggestions[1]
	if fast.ProductID != "prod-fast" || slow.ProductID != "prod-slow" {
		t.Fatalf("unexpected ordering: %+v", suggestions)
	}

	if slow.RecommendedQty != 8 {
		t.Fatalf("expected buffer order 8 for slow mover, got %d", slow.RecommendedQty)
	}
	if slow.EstimatedPurchaseCents != 8*400 {
		t.Fatalf("expected cost-based estimate, got %d", slow.EstimatedPurchaseCents)
	}

	if fast.DailySalesRate != 2 {
		t.Fatalf("expected daily rate 2, got %f", fast.DailySalesRate)
	}
	if fast.RecommendedQty != 14 {
		t.Fatalf("expected demand order 14 for fast mover, got %d", fast.RecommendedQty)
	}
	// No cost on record, fall back to the sale price.
	if fast.EstimatedPurchaseCents != 14*900 {
		t.Fatalf("expected price-based estimate, got %d", fast.EstimatedPurchaseCents)
	}
}

func TestNewEngineClampsBadWindows(t *testing.T) {
	engine := NewEngine(0, -3)
	if engine.horizonDays != 14 || engine.coverDays != 7 {
		t.Fatalf("expected defaults 14/7, got %d/%d", engine.horizonDays, engine.coverDays)
	}
}
