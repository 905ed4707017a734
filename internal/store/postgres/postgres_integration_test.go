package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"retailpos/backend/internal/domain"
)

func TestSaleAndReturnRoundTrip(t *testing.T) {
	databaseURL := os.Getenv("RETAILPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set RETAILPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	storeID := fmt.Sprintf("store-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	sku := fmt.Sprintf("SKU-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM return_items WHERE return_id IN (SELECT id FROM returns WHERE store_id = $1)`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM returns WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id IN (SELECT id FROM sales WHERE store_id = $1)`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE store_id = $1`, storeID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stores WHERE id = $1`, storeID)
	})

	if _, err := s.CreateStore(ctx, domain.Store{ID: storeID, Name: "Integration Store"}, nil); err != nil {
		t.Fatalf("create store: %v", err)
	}
	if _, err := s.CreateProduct(ctx, domain.Product{
		ID: productID, StoreID: storeID, Name: "Integration Widget", SKU: sku, PriceCents: 1500, Quantity: 5, MinStock: 1,
	}); err != nil {
		t.Fatalf("create product: %v", err)
	}

	sale, err := s.CreateSale(ctx, domain.Sale{
		StoreID:       storeID,
		CashierID:     "user-it",
		PaymentMethod: domain.PaymentCash,
		Status:        domain.SaleStatusCompleted,
		SubtotalCents: 3000,
		TaxCents:      150,
		FeeCents:      100,
		TotalCents:    3250,
		Items: []domain.SaleItem{
			{ProductID: productID, Name: "Integration Widget", SKU: sku, Quantity: 2, PriceCents: 1500, TotalCents: 3000},
		},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if sale.Number == "" {
		t.Fatalf("expected a sale number")
	}

	product, err := s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.Quantity != 3 {
		t.Fatalf("expected stock 3 after sale, got %d", product.Quantity)
	}

	ret, err := s.CreateReturn(ctx, domain.Return{
		SaleID:          sale.ID,
		StoreID:         storeID,
		ProcessedBy:     "user-it",
		Reason:          "integration test",
		RefundCents:     1500,
		RestockFeeCents: 150,
		NetRefundCents:  1350,
		Items: []domain.ReturnItem{
			{SaleItemID: sale.Items[0].ID, ProductID: productID, Quantity: 1, RefundCents: 1500},
		},
	})
	if err != nil {
		t.Fatalf("create return: %v", err)
	}
	if ret.Number == "" {
		t.Fatalf("expected a return number")
	}
	if ret.SaleStatus != domain.SaleStatusPartialReturn {
		t.Fatalf("expected PARTIAL_RETURN on the return record, got %s", ret.SaleStatus)
	}

	product, err = s.GetProduct(ctx, productID)
	if err != nil {
		t.Fatalf("get product after return: %v", err)
	}
	if product.Quantity != 4 {
		t.Fatalf("expected stock 4 after restock, got %d", product.Quantity)
	}

	after, err := s.GetSale(ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale: %v", err)
	}
	if after.Status != domain.SaleStatusPartialReturn {
		t.Fatalf("expected PARTIAL_RETURN, got %s", after.Status)
	}

	returned, err := s.ReturnedQtyBySaleItem(ctx, sale.ID)
	if err != nil {
		t.Fatalf("returned qty: %v", err)
	}
	if returned[sale.Items[0].ID] != 1 {
		t.Fatalf("expected returned qty 1, got %d", returned[sale.Items[0].ID])
	}
}
