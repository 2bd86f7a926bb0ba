package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

const (
	mysqlDuplicateEntry  = 1062 // ER_DUP_ENTRY
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// mysqlContention marks lock-wait timeouts and deadlocks as a lost claim so the caller retries.
func mysqlContention(err error) error {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && (myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWaitTimeout) {
		return fmt.Errorf("%w: %w", domain.ErrAllocationRace, err)
	}
	return err
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

var _ port.DatabaseRepository = (*MySQLAdapter)(nil)

// Migrate applies the embedded schema. Every statement is idempotent.
func (m *MySQLAdapter) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations("mysql")
	if err != nil {
		return err
	}
	for _, mig := range migrations {
		for _, stmt := range mig.statements {
			if _, err := m.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s: %w", mig.name, err)
			}
		}
	}
	return nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	p, err := scanProduct(m.db.QueryRowContext(ctx, selectProductSQL, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if filter.ListedOnly {
		rows, err = m.db.QueryContext(ctx, listListedProductsSQL, string(domain.ProductStatusActive))
	} else {
		rows, err = m.db.QueryContext(ctx, listProductsSQL)
	}
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (m *MySQLAdapter) CreateProduct(ctx context.Context, product *domain.Product) error {
	result, err := m.db.ExecContext(ctx, insertProductSQL,
		product.Name, product.Description, product.Price, string(product.Status),
		product.Lifecycle.IsDeleted(), product.StockWarningThreshold,
		product.CreatedBy, product.UpdatedBy, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("product id: %w", err)
	}
	product.ID = id
	return nil
}

func (m *MySQLAdapter) CreateKeys(ctx context.Context, keys []domain.Key) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i := range keys {
		k := &keys[i]
		result, err := tx.ExecContext(ctx, insertKeySQL,
			k.ProductID, nullableSerial(k.SerialNoValue), k.Pin, k.Used, k.Lifecycle.IsDeleted(),
			k.CreatedBy, k.UpdatedBy, k.CreatedAt, k.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert key: %w", err)
		}
		if k.ID, err = result.LastInsertId(); err != nil {
			return fmt.Errorf("key id: %w", err)
		}
	}

	return tx.Commit()
}

func (m *MySQLAdapter) SoftDeleteProduct(ctx context.Context, productID int64, actor string, at time.Time) (bool, error) {
	return m.execAffected(ctx, softDeleteProductSQL, actor, at, productID)
}

func (m *MySQLAdapter) SoftDeleteKey(ctx context.Context, keyID int64, actor string, at time.Time) (bool, error) {
	return m.execAffected(ctx, softDeleteKeySQL, actor, at, keyID)
}

func (m *MySQLAdapter) CountKeys(ctx context.Context, productID int64) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := m.db.QueryRowContext(ctx, countKeysSQL, productID).Scan(&level.Available, &level.Used)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("count keys: %w", err)
	}
	return level, nil
}

func (m *MySQLAdapter) FindOrderByTransaction(ctx context.Context, transactionID string) (*domain.Order, error) {
	order, err := scanOrderHeader(m.db.QueryRowContext(ctx, selectOrderByTransactionSQL, transactionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, selectOrderLinesSQL, order.ID)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	order.Lines = make([]domain.OrderLine, 0, order.Quantity)
	for rows.Next() {
		line, err := scanOrderLine(rows, order.ID)
		if err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}
	return &order, nil
}

func (m *MySQLAdapter) MarkNotificationRead(ctx context.Context, notificationID int64, actor string, at time.Time) (bool, error) {
	changed, err := m.execAffected(ctx, markNotificationReadSQL, actor, at, notificationID)
	if err != nil || changed {
		return changed, err
	}

	// already read or missing
	var count int
	if err := m.db.QueryRowContext(ctx, notificationExistsSQL, notificationID).Scan(&count); err != nil {
		return false, fmt.Errorf("query notification: %w", err)
	}
	return count > 0, nil
}

func (m *MySQLAdapter) ListUnreadNotifications(ctx context.Context) ([]domain.Notification, error) {
	rows, err := m.db.QueryContext(ctx, listUnreadNotificationsSQL)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	items := make([]domain.Notification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

func (m *MySQLAdapter) WithinTx(ctx context.Context, fn func(tx port.AllocationTx) error) error {
	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&mysqlTx{tx: tx}); err != nil {
		return mysqlContention(err)
	}
	if err := tx.Commit(); err != nil {
		return mysqlContention(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (m *MySQLAdapter) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	result, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

type mysqlTx struct {
	tx *sql.Tx
}

func (t *mysqlTx) ClaimKeys(ctx context.Context, productID int64, limit int) ([]domain.Key, error) {
	rows, err := t.tx.QueryContext(ctx, claimKeysSQL, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("lock keys: %w", err)
	}
	defer rows.Close()

	keys := make([]domain.Key, 0, limit)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (t *mysqlTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	result, err := t.tx.ExecContext(ctx, insertOrderSQL,
		order.ProductID, order.Quantity, order.TransactionID,
		order.CreatedBy, order.UpdatedBy, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if order.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("order id: %w", err)
	}
	return nil
}

func (t *mysqlTx) CreateOrderLine(ctx context.Context, line *domain.OrderLine) error {
	result, err := t.tx.ExecContext(ctx, insertOrderLineSQL, line.OrderID, line.KeyID, line.CreatedAt)
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return fmt.Errorf("key %d: %w", line.KeyID, errDuplicateKeyLine)
	}
	if err != nil {
		return fmt.Errorf("insert order line: %w", err)
	}
	if line.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("order line id: %w", err)
	}
	return nil
}

func (t *mysqlTx) ConsumeKey(ctx context.Context, keyID, orderID int64, actor string, at time.Time) (bool, error) {
	result, err := t.tx.ExecContext(ctx, consumeKeySQL, orderID, at, actor, at, keyID)
	if err != nil {
		return false, fmt.Errorf("update key: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}

func (t *mysqlTx) CountAvailable(ctx context.Context, productID int64) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, countAvailableSQL, productID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count available: %w", err)
	}
	return n, nil
}

func (t *mysqlTx) CreateNotification(ctx context.Context, n *domain.Notification) error {
	result, err := t.tx.ExecContext(ctx, insertNotificationSQL,
		n.Title, n.Message, n.Read, n.ProductID, n.CreatedBy, n.UpdatedBy, n.CreatedAt, n.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if n.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("notification id: %w", err)
	}
	return nil
}
