package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

// CatalogService is the thin query layer around products and their key pools.
type CatalogService struct {
	store  port.DatabaseRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewCatalogService(store port.DatabaseRepository, logger *zap.Logger) *CatalogService {
	return &CatalogService{store: store, logger: logger, now: time.Now}
}

type ProductInput struct {
	Name                  string
	Description           string
	Price                 int64
	Status                domain.ProductStatus
	StockWarningThreshold *int
}

type CatalogEntry struct {
	Product domain.Product
	InStock bool
}

func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput, actor string) (*domain.Product, error) {
	if in.Price < 0 {
		return nil, fmt.Errorf("price %d: %w", in.Price, domain.ErrInvalidInput)
	}
	status := in.Status
	if status == "" {
		status = domain.ProductStatusActive
	}
	if status != domain.ProductStatusActive && status != domain.ProductStatusInactive {
		return nil, fmt.Errorf("status %q: %w", status, domain.ErrInvalidInput)
	}
	threshold := domain.DefaultStockWarningThreshold
	if in.StockWarningThreshold != nil {
		if *in.StockWarningThreshold < 0 {
			return nil, fmt.Errorf("threshold %d: %w", *in.StockWarningThreshold, domain.ErrInvalidInput)
		}
		threshold = *in.StockWarningThreshold
	}

	now := s.clock()
	product := domain.Product{
		Name:                  in.Name,
		Description:           in.Description,
		Price:                 in.Price,
		Status:                status,
		StockWarningThreshold: threshold,
		CreatedBy:             actor,
		UpdatedBy:             actor,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.store.CreateProduct(ctx, &product); err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}
	s.logger.Info("product created", zap.Int64("product_id", product.ID), zap.String("actor", actor))
	return &product, nil
}

// AddKeys loads a batch of unused keys into a product's pool.
func (s *CatalogService) AddKeys(ctx context.Context, productID int64, inputs []domain.KeyInput, actor string) ([]domain.Key, error) {
	if _, err := s.Product(ctx, productID); err != nil {
		return nil, err
	}

	now := s.clock()
	keys := make([]domain.Key, 0, len(inputs))
	for i, in := range inputs {
		pin := strings.TrimSpace(in.Pin)
		if pin == "" {
			return nil, fmt.Errorf("key %d has empty pin: %w", i, domain.ErrInvalidInput)
		}
		keys = append(keys, domain.Key{
			ProductID:     productID,
			SerialNoValue: strings.TrimSpace(in.SerialNo),
			Pin:           pin,
			CreatedBy:     actor,
			UpdatedBy:     actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	if err := s.store.CreateKeys(ctx, keys); err != nil {
		return nil, fmt.Errorf("create keys: %w", err)
	}
	s.logger.Info("keys added", zap.Int64("product_id", productID), zap.Int("count", len(keys)))
	return keys, nil
}

// Product returns a product that has not been soft-deleted.
func (s *CatalogService) Product(ctx context.Context, productID int64) (*domain.Product, error) {
	product, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	if product == nil || !product.Purchasable() {
		return nil, domain.ErrProductNotFound
	}
	return product, nil
}

// ListCatalog returns the public catalog: active, non-deleted products with their stock flag.
func (s *CatalogService) ListCatalog(ctx context.Context) ([]CatalogEntry, error) {
	products, err := s.store.ListProducts(ctx, domain.ProductFilter{ListedOnly: true})
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	entries := make([]CatalogEntry, 0, len(products))
	for _, p := range products {
		level, err := s.store.CountKeys(ctx, p.ID)
		if err != nil {
			return nil, fmt.Errorf("count keys for product %d: %w", p.ID, err)
		}
		entries = append(entries, CatalogEntry{Product: p, InStock: level.InStock()})
	}
	return entries, nil
}

// Stock reads the Stock Gauge for a product, fresh on every call.
func (s *CatalogService) Stock(ctx context.Context, productID int64) (domain.StockLevel, error) {
	if _, err := s.Product(ctx, productID); err != nil {
		return domain.StockLevel{}, err
	}
	level, err := s.store.CountKeys(ctx, productID)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("count keys: %w", err)
	}
	return level, nil
}

func (s *CatalogService) SoftDeleteProduct(ctx context.Context, productID int64, actor string) error {
	ok, err := s.store.SoftDeleteProduct(ctx, productID, actor, s.clock())
	if err != nil {
		return fmt.Errorf("soft delete product: %w", err)
	}
	if !ok {
		return domain.ErrProductNotFound
	}
	s.logger.Info("product deleted", zap.Int64("product_id", productID), zap.String("actor", actor))
	return nil
}

// SoftDeleteKey makes a key permanently ineligible, whatever its use state.
func (s *CatalogService) SoftDeleteKey(ctx context.Context, keyID int64, actor string) error {
	ok, err := s.store.SoftDeleteKey(ctx, keyID, actor, s.clock())
	if err != nil {
		return fmt.Errorf("soft delete key: %w", err)
	}
	if !ok {
		return domain.ErrKeyNotFound
	}
	s.logger.Info("key deleted", zap.Int64("key_id", keyID), zap.String("actor", actor))
	return nil
}

func (s *CatalogService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
