// Package notify delivers out-of-band messages such as receipts and
// low stock alerts. The default implementation writes them to the
// process log; a real transport can be swapped in behind Notifier.
package notify

import (
	"context"
	"log"

	"retailpos/backend/internal/domain"
)

type Notifier interface {
	SaleReceipt(ctx context.Context, sale domain.Sale, rendered string) error
	WelcomeManager(ctx context.Context, email string, storeName string) error
	LowStockAlert(ctx context.Context, product domain.Product) error
}

type LogNotifier struct {
	logger *log.Logger
}

func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) SaleReceipt(_ context.Context, sale domain.Sale, rendered string) error {
	n.logger.Printf("[notify] receipt sale=%s total=%d\n%s", sale.Number, sale.TotalCents, rendered)
	return nil
}

func (n *LogNotifier) WelcomeManager(_ context.Context, email string, storeName string) error {
	n.logger.Printf("[notify] welcome manager=%s store=%q", email, storeName)
	return nil
}

func (n *LogNotifier) LowStockAlert(_ context.Context, product domain.Product) error {
	n.logger.Printf("[notify] low stock sku=%s store=%s qty=%d min=%d", product.SKU, product.StoreID, product.Quantity, product.MinStock)
	return nil
}
