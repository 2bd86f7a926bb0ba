package storage

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

func getMySQLAdapter(t *testing.T) *MySQLAdapter {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		dsn = "root:root@tcp(localhost:3306)/keyshop?parseTime=true&loc=UTC"
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}

	adapter := NewMySQLAdapter(db)
	if err := adapter.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter
}

func TestMySQLAdapter_Contract(t *testing.T) {
	runRepositoryContract(t, getMySQLAdapter(t))
}

func TestMySQLAdapter_ClaimSkipsLockedKeys(t *testing.T) {
	adapter := getMySQLAdapter(t)
	testClaimSkipsLockedKeys(t, adapter)
}

// testClaimSkipsLockedKeys holds one claim open while a second transaction claims from the same pool.
func testClaimSkipsLockedKeys(t *testing.T, store port.DatabaseRepository) {
	ctx := context.Background()
	product, keys := seedProduct(t, store, uniqueName("skiplocked"), 4)

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- store.WithinTx(ctx, func(tx port.AllocationTx) error {
			claimed, err := tx.ClaimKeys(ctx, product.ID, 3)
			if err != nil {
				close(holding)
				return err
			}
			if len(claimed) != 3 {
				t.Errorf("expected 3 claimed keys, got %d", len(claimed))
			}
			close(holding)
			<-release
			return nil
		})
	}()

	<-holding
	var second []domain.Key
	err := store.WithinTx(ctx, func(tx port.AllocationTx) error {
		var err error
		second, err = tx.ClaimKeys(ctx, product.ID, 3)
		return err
	})
	close(release)

	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if len(second) != 1 {
		t.Fatalf("expected only the unlocked key, got %d", len(second))
	}
	if second[0].ID != keys[3].ID {
		t.Errorf("expected key %d, got %d", keys[3].ID, second[0].ID)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first claim failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("first transaction never finished")
	}
}
