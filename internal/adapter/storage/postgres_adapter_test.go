//go:build integration

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgresAdapter(t *testing.T) *PostgresAdapter {
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("keyshop"),
		postgres.WithUsername("keyshop"),
		postgres.WithPassword("keyshop"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start PostgreSQL container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create connection pool: %v", err)
	}

	t.Cleanup(func() {
		pool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	adapter := NewPostgresAdapter(pool)
	if err := adapter.Migrate(ctx); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
	return adapter
}

func TestPostgresAdapter(t *testing.T) {
	adapter := setupPostgresAdapter(t)

	t.Run("Contract", func(t *testing.T) { runRepositoryContract(t, adapter) })
	t.Run("ClaimSkipsLockedKeys", func(t *testing.T) { testClaimSkipsLockedKeys(t, adapter) })
	t.Run("MigrateTwice", func(t *testing.T) {
		if err := adapter.Migrate(context.Background()); err != nil {
			t.Fatalf("second migrate failed: %v", err)
		}
	})
}
