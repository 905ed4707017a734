package cache

import (
	"context"
	"time"

	"retailpos/backend/internal/domain"
)

// CatalogCache holds short-lived copies of the receipt settings and
// per-store product lists so hot read paths skip the database.
type CatalogCache interface {
	GetSettings(ctx context.Context) (*domain.Settings, bool, error)
	SetSettings(ctx context.Context, settings *domain.Settings, ttl time.Duration) error
	InvalidateSettings(ctx context.Context) error

	GetProducts(ctx context.Context, storeID string) ([]domain.Product, bool, error)
	SetProducts(ctx context.Context, storeID string, products []domain.Product, ttl time.Duration) error
	InvalidateProducts(ctx context.Context, storeID string) error
}

type NoopCatalogCache struct{}

func (NoopCatalogCache) GetSettings(_ context.Context) (*domain.Settings, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetSettings(_ context.Context, _ *domain.Settings, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) InvalidateSettings(_ context.Context) error {
	return nil
}

func (NoopCatalogCache) GetProducts(_ context.Context, _ string) ([]domain.Product, bool, error) {
	return nil, false, nil
}

func (NoopCatalogCache) SetProducts(_ context.Context, _ string, _ []domain.Product, _ time.Duration) error {
	return nil
}

func (NoopCatalogCache) InvalidateProducts(_ context.Context, _ string) error {
	return nil
}
