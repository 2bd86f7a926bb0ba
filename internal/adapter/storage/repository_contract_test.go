package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

// runRepositoryContract exercises behaviour every DatabaseRepository must share. Stores backed by
// a live database keep earlier rows, so assertions stay scoped to rows created here.
func runRepositoryContract(t *testing.T, store port.DatabaseRepository) {
	t.Run("GetProduct_Missing", func(t *testing.T) { testGetProductMissing(t, store) })
	t.Run("ProductRoundTrip", func(t *testing.T) { testProductRoundTrip(t, store) })
	t.Run("ListProducts_Filter", func(t *testing.T) { testListProductsFilter(t, store) })
	t.Run("CountKeys", func(t *testing.T) { testCountKeys(t, store) })
	t.Run("Allocation_Commit", func(t *testing.T) { testAllocationCommit(t, store) })
	t.Run("Allocation_Rollback", func(t *testing.T) { testAllocationRollback(t, store) })
	t.Run("ConsumeKey_OnlyOnce", func(t *testing.T) { testConsumeKeyOnlyOnce(t, store) })
	t.Run("OrderLine_KeyUnique", func(t *testing.T) { testOrderLineKeyUnique(t, store) })
	t.Run("SoftDelete", func(t *testing.T) { testSoftDelete(t, store) })
	t.Run("FindOrderByTransaction_FirstWins", func(t *testing.T) { testFindOrderFirstWins(t, store) })
	t.Run("FindOrderByTransaction_Stable", func(t *testing.T) { testFindOrderStable(t, store) })
	t.Run("Notifications", func(t *testing.T) { testNotifications(t, store) })
	t.Run("Concurrent_Allocations", func(t *testing.T) { testConcurrentAllocations(t, store) })
}

var contractClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedProduct(t *testing.T, store port.DatabaseRepository, name string, keys int) (domain.Product, []domain.Key) {
	t.Helper()
	ctx := context.Background()

	product := domain.Product{
		Name:                  name,
		Description:           "contract fixture",
		Price:                 1500,
		Status:                domain.ProductStatusActive,
		StockWarningThreshold: domain.DefaultStockWarningThreshold,
		CreatedBy:             "admin",
		UpdatedBy:             "admin",
		CreatedAt:             contractClock,
		UpdatedAt:             contractClock,
	}
	require.NoError(t, store.CreateProduct(ctx, &product))
	require.NotZero(t, product.ID)

	batch := make([]domain.Key, 0, keys)
	for i := 0; i < keys; i++ {
		serial := ""
		if i%2 == 0 {
			serial = fmt.Sprintf("%s-SERIAL-%02d", name, i)
		}
		batch = append(batch, domain.Key{
			ProductID:     product.ID,
			SerialNoValue: serial,
			Pin:           fmt.Sprintf("PIN-%02d", i),
			CreatedBy:     "admin",
			UpdatedBy:     "admin",
			CreatedAt:     contractClock,
			UpdatedAt:     contractClock,
		})
	}
	if keys > 0 {
		require.NoError(t, store.CreateKeys(ctx, batch))
	}
	return product, batch
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func testGetProductMissing(t *testing.T, store port.DatabaseRepository) {
	p, err := store.GetProduct(context.Background(), 987654321)
	require.NoError(t, err)
	assert.Nil(t, p)
}

func testProductRoundTrip(t *testing.T, store port.DatabaseRepository) {
	created, _ := seedProduct(t, store, uniqueName("roundtrip"), 0)

	got, err := store.GetProduct(context.Background(), created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, created.Name, got.Name)
	assert.Equal(t, int64(1500), got.Price)
	assert.Equal(t, domain.ProductStatusActive, got.Status)
	assert.False(t, got.Lifecycle.IsDeleted())
	assert.Equal(t, domain.DefaultStockWarningThreshold, got.StockWarningThreshold)
	assert.True(t, contractClock.Equal(got.CreatedAt))
}

func testListProductsFilter(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	listed, _ := seedProduct(t, store, uniqueName("listed"), 0)

	hidden := domain.Product{
		Name:      uniqueName("inactive"),
		Price:     10,
		Status:    domain.ProductStatusInactive,
		CreatedAt: contractClock,
		UpdatedAt: contractClock,
	}
	require.NoError(t, store.CreateProduct(ctx, &hidden))

	all, err := store.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.True(t, containsProduct(all, listed.ID))
	assert.True(t, containsProduct(all, hidden.ID))

	onlyListed, err := store.ListProducts(ctx, domain.ProductFilter{ListedOnly: true})
	require.NoError(t, err)
	assert.True(t, containsProduct(onlyListed, listed.ID))
	assert.False(t, containsProduct(onlyListed, hidden.ID))
}

func containsProduct(items []domain.Product, id int64) bool {
	for _, p := range items {
		if p.ID == id {
			return true
		}
	}
	return false
}

func testCountKeys(t *testing.T, store port.DatabaseRepository) {
	product, keys := seedProduct(t, store, uniqueName("count"), 4)
	for i := 1; i < len(keys); i++ {
		assert.Greater(t, keys[i].ID, keys[i-1].ID, "ids follow insertion order")
	}

	level, err := store.CountKeys(context.Background(), product.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockLevel{Available: 4, Used: 0}, level)
}

// allocateN runs the same steps as the order service against a single transaction.
func allocateN(ctx context.Context, store port.DatabaseRepository, product domain.Product, n int, txID string) (domain.Order, int, error) {
	var (
		order     domain.Order
		remaining int
	)
	err := store.WithinTx(ctx, func(tx port.AllocationTx) error {
		keys, err := tx.ClaimKeys(ctx, product.ID, n)
		if err != nil {
			return err
		}
		if len(keys) < n {
			return domain.ErrAllocationRace
		}
		order = domain.Order{
			ProductID:     product.ID,
			Quantity:      n,
			TransactionID: txID,
			Product:       domain.SummarizeProduct(product),
			CreatedBy:     "buyer",
			UpdatedBy:     "buyer",
			CreatedAt:     contractClock,
			UpdatedAt:     contractClock,
		}
		if err := tx.CreateOrder(ctx, &order); err != nil {
			return err
		}
		for _, k := range keys {
			ok, err := tx.ConsumeKey(ctx, k.ID, order.ID, "buyer", contractClock)
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrAllocationRace
			}
			line := domain.NewOrderLine(order.ID, k, order.Product, contractClock)
			if err := tx.CreateOrderLine(ctx, &line); err != nil {
				return err
			}
			order.Lines = append(order.Lines, line)
		}
		remaining, err = tx.CountAvailable(ctx, product.ID)
		return err
	})
	return order, remaining, err
}

func testAllocationCommit(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, keys := seedProduct(t, store, uniqueName("commit"), 5)
	txID := uniqueName("tx-commit")

	order, remaining, err := allocateN(ctx, store, product, 3, txID)
	require.NoError(t, err)
	assert.Equal(t, 2, remaining, "count inside the transaction sees its own writes")
	require.Len(t, order.Lines, 3)
	for i, line := range order.Lines {
		assert.Equal(t, keys[i].ID, line.KeyID, "lowest ids are claimed first")
		assert.NotZero(t, line.ID)
	}

	level, err := store.CountKeys(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockLevel{Available: 2, Used: 3}, level)

	found, err := store.FindOrderByTransaction(ctx, txID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, order.ID, found.ID)
	assert.Equal(t, product.Name, found.Product.Name)
	require.Len(t, found.Lines, 3)
	assert.Equal(t, keys[0].SerialNoValue, found.Lines[0].SerialNo)
	assert.Equal(t, fmt.Sprintf("SN-%06d-%04d", keys[1].ID, product.ID), found.Lines[1].SerialNo)
	assert.Equal(t, "PIN-02", found.Lines[2].Pin)
	assert.Equal(t, int64(1500), found.Lines[2].Price)
	assert.Equal(t, int64(4500), found.TotalPrice())
}

func testAllocationRollback(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, _ := seedProduct(t, store, uniqueName("rollback"), 3)
	txID := uniqueName("tx-rollback")
	boom := errors.New("boom")

	err := store.WithinTx(ctx, func(tx port.AllocationTx) error {
		keys, err := tx.ClaimKeys(ctx, product.ID, 2)
		require.NoError(t, err)
		order := domain.Order{ProductID: product.ID, Quantity: 2, TransactionID: txID, CreatedAt: contractClock, UpdatedAt: contractClock}
		require.NoError(t, tx.CreateOrder(ctx, &order))
		for _, k := range keys {
			ok, err := tx.ConsumeKey(ctx, k.ID, order.ID, "buyer", contractClock)
			require.NoError(t, err)
			require.True(t, ok)
		}
		n := domain.NewLowStockNotification(product, 1, "buyer", contractClock)
		require.NoError(t, tx.CreateNotification(ctx, &n))
		return boom
	})
	require.ErrorIs(t, err, boom)

	level, err := store.CountKeys(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockLevel{Available: 3, Used: 0}, level)

	found, err := store.FindOrderByTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Nil(t, found)

	unread, err := store.ListUnreadNotifications(ctx)
	require.NoError(t, err)
	for _, n := range unread {
		if n.ProductID != nil {
			assert.NotEqual(t, product.ID, *n.ProductID, "notification must roll back with the order")
		}
	}
}

func testConsumeKeyOnlyOnce(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, keys := seedProduct(t, store, uniqueName("consume"), 1)

	_, _, err := allocateN(ctx, store, product, 1, uniqueName("tx-consume"))
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(tx port.AllocationTx) error {
		ok, err := tx.ConsumeKey(ctx, keys[0].ID, 1, "buyer", contractClock)
		require.NoError(t, err)
		assert.False(t, ok, "a used key never flips again")

		claimed, err := tx.ClaimKeys(ctx, product.ID, 1)
		require.NoError(t, err)
		assert.Empty(t, claimed)
		return nil
	})
	require.NoError(t, err)
}

func testOrderLineKeyUnique(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, keys := seedProduct(t, store, uniqueName("unique"), 1)

	err := store.WithinTx(ctx, func(tx port.AllocationTx) error {
		order := domain.Order{ProductID: product.ID, Quantity: 2, TransactionID: uniqueName("tx-unique"), CreatedAt: contractClock, UpdatedAt: contractClock}
		if err := tx.CreateOrder(ctx, &order); err != nil {
			return err
		}
		first := domain.NewOrderLine(order.ID, keys[0], order.Product, contractClock)
		if err := tx.CreateOrderLine(ctx, &first); err != nil {
			return err
		}
		second := domain.NewOrderLine(order.ID, keys[0], order.Product, contractClock)
		return tx.CreateOrderLine(ctx, &second)
	})
	require.ErrorIs(t, err, errDuplicateKeyLine)
}

func testSoftDelete(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, keys := seedProduct(t, store, uniqueName("softdelete"), 3)

	ok, err := store.SoftDeleteKey(ctx, keys[0].ID, "admin", contractClock)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.SoftDeleteKey(ctx, keys[0].ID, "admin", contractClock)
	require.NoError(t, err)
	assert.False(t, ok, "second delete matches nothing")

	level, err := store.CountKeys(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockLevel{Available: 2, Used: 0}, level)

	order, _, err := allocateN(ctx, store, product, 2, uniqueName("tx-softdelete"))
	require.NoError(t, err)
	for _, line := range order.Lines {
		assert.NotEqual(t, keys[0].ID, line.KeyID, "deleted keys are never offered")
	}

	ok, err = store.SoftDeleteProduct(ctx, product.ID, "admin", contractClock)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	require.NotNil(t, got, "soft-deleted rows stay readable")
	assert.True(t, got.Lifecycle.IsDeleted())
	assert.Equal(t, "admin", got.UpdatedBy)

	all, err := store.ListProducts(ctx, domain.ProductFilter{})
	require.NoError(t, err)
	assert.False(t, containsProduct(all, product.ID))
}

func testFindOrderStable(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, _ := seedProduct(t, store, uniqueName("stable"), 4)
	txID := uniqueName("tx-a")

	_, _, err := allocateN(ctx, store, product, 2, txID)
	require.NoError(t, err)

	before, err := store.FindOrderByTransaction(ctx, txID)
	require.NoError(t, err)
	require.NotNil(t, before)

	_, _, err = allocateN(ctx, store, product, 1, uniqueName("tx-b"))
	require.NoError(t, err)

	after, err := store.FindOrderByTransaction(ctx, txID)
	require.NoError(t, err)
	assert.Equal(t, before, after, "unrelated orders do not change the lookup")
}

func testFindOrderFirstWins(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, _ := seedProduct(t, store, uniqueName("dup"), 3)
	txID := uniqueName("tx-dup")

	first, _, err := allocateN(ctx, store, product, 1, txID)
	require.NoError(t, err)
	_, _, err = allocateN(ctx, store, product, 2, txID)
	require.NoError(t, err)

	found, err := store.FindOrderByTransaction(ctx, txID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)
	assert.Equal(t, 1, found.Quantity)
	assert.Len(t, found.Lines, 1)

	missing, err := store.FindOrderByTransaction(ctx, uniqueName("tx-none"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testNotifications(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, _ := seedProduct(t, store, uniqueName("notify"), 0)

	var older, newer domain.Notification
	err := store.WithinTx(ctx, func(tx port.AllocationTx) error {
		older = domain.NewLowStockNotification(product, 3, "buyer", contractClock)
		if err := tx.CreateNotification(ctx, &older); err != nil {
			return err
		}
		newer = domain.NewLowStockNotification(product, 2, "buyer", contractClock.Add(time.Minute))
		return tx.CreateNotification(ctx, &newer)
	})
	require.NoError(t, err)
	require.NotZero(t, older.ID)

	unread, err := store.ListUnreadNotifications(ctx)
	require.NoError(t, err)
	olderAt, newerAt := indexOfNotification(unread, older.ID), indexOfNotification(unread, newer.ID)
	require.GreaterOrEqual(t, olderAt, 0)
	require.GreaterOrEqual(t, newerAt, 0)
	assert.Less(t, newerAt, olderAt, "newest first")
	assert.Equal(t, "The stock for product '"+product.Name+"' is low. Only 2 keys left.", unread[newerAt].Message)

	ok, err := store.MarkNotificationRead(ctx, older.ID, "admin", contractClock)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.MarkNotificationRead(ctx, older.ID, "admin", contractClock)
	require.NoError(t, err)
	assert.True(t, ok, "marking twice still finds the notification")

	ok, err = store.MarkNotificationRead(ctx, 987654321, "admin", contractClock)
	require.NoError(t, err)
	assert.False(t, ok)

	unread, err = store.ListUnreadNotifications(ctx)
	require.NoError(t, err)
	assert.Equal(t, -1, indexOfNotification(unread, older.ID))
	assert.GreaterOrEqual(t, indexOfNotification(unread, newer.ID), 0)
}

func indexOfNotification(items []domain.Notification, id int64) int {
	for i, n := range items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func testConcurrentAllocations(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	initialKeys := 12
	totalRequests := 30
	product, _ := seedProduct(t, store, uniqueName("concurrent"), initialKeys)

	var (
		successCount atomic.Int32
		mu           sync.Mutex
		seen         = make(map[int64]int)
		wg           sync.WaitGroup
	)
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, _, err := allocateN(ctx, store, product, 1, fmt.Sprintf("%s-%d", product.Name, i))
			if errors.Is(err, domain.ErrAllocationRace) {
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			successCount.Add(1)
			mu.Lock()
			seen[order.Lines[0].KeyID]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(initialKeys), successCount.Load())
	for keyID, n := range seen {
		assert.Equal(t, 1, n, "key %d sold more than once", keyID)
	}

	level, err := store.CountKeys(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StockLevel{Available: 0, Used: initialKeys}, level)
}
