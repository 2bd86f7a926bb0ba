package handler

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/keyshop/internal/adapter/storage"
	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/core/service"
)

const testMaxQuantity = 100

type testEnv struct {
	store         *storage.MemoryAdapter
	orders        *service.OrderService
	notifications *service.NotificationService
	catalog       *service.CatalogService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := storage.NewMemoryAdapter()
	logger := zaptest.NewLogger(t)
	return &testEnv{
		store:         store,
		orders:        service.NewOrderService(store, logger),
		notifications: service.NewNotificationService(store, logger),
		catalog:       service.NewCatalogService(store, logger),
	}
}

// seed creates an active product priced at 1500 with n keys.
func (e *testEnv) seed(t *testing.T, name string, n, threshold int) domain.Product {
	t.Helper()
	ctx := context.Background()
	product, err := e.catalog.CreateProduct(ctx, service.ProductInput{
		Name:                  name,
		Description:           name + " key",
		Price:                 1500,
		StockWarningThreshold: &threshold,
	}, "seed")
	require.NoError(t, err)

	inputs := make([]domain.KeyInput, 0, n)
	for i := 0; i < n; i++ {
		inputs = append(inputs, domain.KeyInput{Pin: fmt.Sprintf("%s-PIN-%02d", name, i)})
	}
	_, err = e.catalog.AddKeys(ctx, product.ID, inputs, "seed")
	require.NoError(t, err)
	return *product
}
