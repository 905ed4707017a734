package store

import (
	"context"
	"errors"

	"retailpos/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrConflict          = errors.New("already exists")
	ErrEmptyCart         = errors.New("empty cart")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidReturn     = errors.New("invalid return item")
	ErrQuantityExceeded  = errors.New("return quantity exceeds remaining")
)

// Repository is the persistence boundary. CreateSale and CreateReturn are
// transactional: the caller hands over a fully priced record and the
// implementation either commits everything (record, items, stock movement,
// sequential number, status change) or nothing.
type Repository interface {
	CreateStore(ctx context.Context, st domain.Store, manager *domain.User) (*domain.Store, error)
	GetStore(ctx context.Context, id string) (*domain.Store, error)
	ListStores(ctx context.Context) ([]domain.Store, error)

	CreateUser(ctx context.Context, user domain.User) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	ListUsers(ctx context.Context, storeID string) ([]domain.User, error)
	SetUserActive(ctx context.Context, id string, active bool) (*domain.User, error)
	UpdateUserPassword(ctx context.Context, id string, passwordHash string) error

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context, storeID string) ([]domain.Product, error)
	AdjustStock(ctx context.Context, productID string, delta int) (*domain.Product, error)

	// CreateSale persists the sale, decrements stock for every item, and
	// assigns the next sequential sale number, all atomically.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id string) (*domain.Sale, error)
	ListSales(ctx context.Context, storeID string, limit int) ([]domain.Sale, error)

	// CreateReturn persists the return, restocks the returned quantities,
	// and assigns the next sequential return number, all atomically. It
	// re-checks remaining returnable quantities under the same transaction
	// and moves the sale to RETURNED or PARTIAL_RETURN based on the
	// committed history; the resulting status is reported on the returned
	// record's SaleStatus.
	CreateReturn(ctx context.Context, ret domain.Return) (*domain.Return, error)
	ListReturns(ctx context.Context, storeID string, limit int) ([]domain.Return, error)
	// ReturnedQtyBySaleItem sums previously returned quantities per sale
	// item across every prior return of the sale.
	ReturnedQtyBySaleItem(ctx context.Context, saleID string) (map[string]int, error)

	GetOrCreateSettings(ctx context.Context, defaults domain.Settings) (*domain.Settings, error)
	UpdateSettings(ctx context.Context, settings domain.Settings) (*domain.Settings, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, limit int) ([]domain.AuditLog, error)
}
