package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/rl1809/keyshop/internal/adapter/storage"
	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/core/service"
	"github.com/rl1809/keyshop/internal/port"
)

func main() {
	keys := flag.Int("keys", 20, "keys loaded into the pool")
	requests := flag.Int("requests", 50, "concurrent single-key orders")
	threshold := flag.Int("threshold", 5, "low-stock warning threshold")
	flag.Parse()

	ctx := context.Background()
	logger := zap.NewNop()

	store, cleanup := openStore(ctx)
	defer cleanup()

	catalog := service.NewCatalogService(store, logger)
	product, err := catalog.CreateProduct(ctx, service.ProductInput{
		Name:                  fmt.Sprintf("stress-%d", time.Now().UnixNano()),
		Price:                 1000,
		StockWarningThreshold: threshold,
	}, "stress")
	if err != nil {
		log.Fatalf("failed to create product: %v", err)
	}
	inputs := make([]domain.KeyInput, 0, *keys)
	for i := 0; i < *keys; i++ {
		inputs = append(inputs, domain.KeyInput{Pin: fmt.Sprintf("STRESS-%04d", i)})
	}
	if _, err := catalog.AddKeys(ctx, product.ID, inputs, "stress"); err != nil {
		log.Fatalf("failed to load keys: %v", err)
	}

	orders := service.NewOrderService(store, logger)

	var successCount, soldOutCount, errorCount atomic.Int32
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < *requests; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			_, err := orders.PlaceOrder(ctx, service.PlaceOrderRequest{
				ProductID:     product.ID,
				Quantity:      1,
				TransactionID: fmt.Sprintf("stress-tx-%d", n),
				Actor:         "stress",
			})
			switch {
			case err == nil:
				successCount.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				soldOutCount.Add(1)
			default:
				errorCount.Add(1)
				log.Printf("order %d failed: %v", n, err)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	success := int(successCount.Load())
	soldOut := int(soldOutCount.Load())
	expected := min(*keys, *requests)

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Keys Loaded:      %d\n", *keys)
	fmt.Printf("Total Requests:   %d\n", *requests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", errorCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == expected && soldOut == *requests-expected {
		fmt.Printf("PASS: exactly %d orders succeeded\n", expected)
	} else {
		fmt.Printf("FAIL: expected %d success/%d sold out, got %d/%d\n", expected, *requests-expected, success, soldOut)
	}

	level, err := store.CountKeys(ctx, product.ID)
	if err != nil {
		log.Fatalf("failed to count keys: %v", err)
	}
	fmt.Printf("Remaining Keys:   %d\n", level.Available)
	if level.Available == *keys-expected && level.Used == expected {
		fmt.Println("PASS: every sold key is used exactly once")
	} else {
		fmt.Printf("FAIL: expected %d available/%d used, got %d/%d\n", *keys-expected, expected, level.Available, level.Used)
	}
}

// openStore uses MySQL when MYSQL_DSN is set and the in-memory store otherwise.
func openStore(ctx context.Context) (port.DatabaseRepository, func()) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		return storage.NewMemoryAdapter(), func() {}
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	db.SetMaxOpenConns(50)
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	return adapter, func() { db.Close() }
}
