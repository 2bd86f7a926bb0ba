package port

import (
	"context"

	"github.com/rl1809/keyshop/internal/core/domain"
)

// OrderCache holds immutable orders by transaction id. Stock counts never go through it.
type OrderCache interface {
	// GetOrder returns nil on a miss
	GetOrder(ctx context.Context, transactionID string) (*domain.Order, error)

	// SetOrder stores the order unless one is already cached for the transaction
	SetOrder(ctx context.Context, order domain.Order) error
}
