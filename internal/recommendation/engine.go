// Package recommendation turns the product catalog and recent sales
// history into restock suggestions for store managers.
package recommendation

import (
	"math"
	"sort"
	"time"

	"retailpos/backend/internal/domain"
)

type Engine struct {
	horizonDays int
	coverDays   int
}

// NewEngine builds an engine that reads sales velocity over horizonDays
// and sizes orders to cover coverDays of demand.
func NewEngine(horizonDays int, coverDays int) *Engine {
	if horizonDays < 1 {
		horizonDays = 14
	}
	if coverDays < 1 {
		coverDays = 7
	}
	return &Engine{horizonDays: horizonDays, coverDays: coverDays}
}

// Suggest returns reorder hints for every product at or below its
// minimum stock level, most urgent first.
func (e *Engine) Suggest(products []domain.Product, sales []domain.Sale, now time.Time) []domain.ReorderSuggestion {
	cutoff := now.Add(-time.Duration(e.horizonDays) * 24 * time.Hour)

	soldQty := make(map[string]int, len(products))
	for _, sale := range sales {
		if sale.CreatedAt.Before(cutoff) {
			continue
		}
		for _, item := range sale.Items {
			soldQty[item.ProductID] += item.Quantity
		}
	}

	suggestions := make([]domain.ReorderSuggestion, 0, 16)
	for _, product := range products {
		if product.Quantity > product.MinStock {
			continue
		}

		dailyRate := float64(soldQty[product.ID]) / float64(e.horizonDays)

		// Order enough to restore a double-minimum buffer, or to cover
		// the demand window, whichever is larger.
		bufferQty := product.MinStock*2 - product.Quantity
		demandQty := int(math.Ceil(dailyRate * float64(e.coverDays)))
		recommended := bufferQty
		if demandQty > recommended {
			recommended = demandQty
		}
		if recommended < 1 {
			continue
		}

		unitCost := product.CostCents
		if unitCost < 1 {
			unitCost = product.PriceCents
		}

		suggestions = append(suggestions, domain.ReorderSuggestion{
			ProductID:              product.ID,
			Name:                   product.Name,
			SKU:                    product.SKU,
			Category:               product.Category,
			CurrentStock:           product.Quantity,
			MinStock:               product.MinStock,
			DailySalesRate:         math.Round(dailyRate*100) / 100,
			RecommendedQty:         recommended,
			EstimatedPurchaseCents: int64(recommended) * unitCost,
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].CurrentStock == suggestions[j].CurrentStock {
			return suggestions[i].EstimatedPurchaseCents > suggestions[j].EstimatedPurchaseCents
		}
		return suggestions[i].CurrentStock < suggestions[j].CurrentStock
	})

	return suggestions
}
