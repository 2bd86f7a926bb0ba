package port

import (
	"context"
	"time"

	"github.com/rl1809/keyshop/internal/core/domain"
)

type DatabaseRepository interface {
	// GetProduct returns nil when the product does not exist
	GetProduct(ctx context.Context, productID int64) (*domain.Product, error)

	ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error)

	CreateProduct(ctx context.Context, product *domain.Product) error

	// CreateKeys inserts keys in order and fills in their ids
	CreateKeys(ctx context.Context, keys []domain.Key) error

	// SoftDeleteProduct returns false when no live product matched
	SoftDeleteProduct(ctx context.Context, productID int64, actor string, at time.Time) (bool, error)

	// SoftDeleteKey returns false when no live key matched
	SoftDeleteKey(ctx context.Context, keyID int64, actor string, at time.Time) (bool, error)

	// CountKeys is the Stock Gauge query: fresh counts of unused and used live keys
	CountKeys(ctx context.Context, productID int64) (domain.StockLevel, error)

	// FindOrderByTransaction returns the lowest-id order for the transaction, nil when none
	FindOrderByTransaction(ctx context.Context, transactionID string) (*domain.Order, error)

	// MarkNotificationRead returns false when the notification does not exist
	MarkNotificationRead(ctx context.Context, notificationID int64, actor string, at time.Time) (bool, error)

	// ListUnreadNotifications returns unread notifications newest first
	ListUnreadNotifications(ctx context.Context) ([]domain.Notification, error)

	// WithinTx runs fn inside one read-committed transaction; any error rolls everything back
	WithinTx(ctx context.Context, fn func(tx AllocationTx) error) error
}

// AllocationTx is the set of writes the fulfillment engine performs atomically.
type AllocationTx interface {
	// ClaimKeys locks up to limit unused live keys of the product in id order,
	// skipping rows already locked by a concurrent allocation
	ClaimKeys(ctx context.Context, productID int64, limit int) ([]domain.Key, error)

	CreateOrder(ctx context.Context, order *domain.Order) error

	CreateOrderLine(ctx context.Context, line *domain.OrderLine) error

	// ConsumeKey flips an unused key to used; false when the key was no longer unused
	ConsumeKey(ctx context.Context, keyID, orderID int64, actor string, at time.Time) (bool, error)

	// CountAvailable sees committed state plus this transaction's own writes
	CountAvailable(ctx context.Context, productID int64) (int, error)

	CreateNotification(ctx context.Context, notification *domain.Notification) error
}
