package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

const (
	pgUniqueViolation  = "23505"
	pgSerialization    = "40001"
	pgDeadlock         = "40P01"
	pgLockNotAvailable = "55P03"
)

func pgContention(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerialization, pgDeadlock, pgLockNotAvailable:
			return fmt.Errorf("%w: %w", domain.ErrAllocationRace, err)
		}
	}
	return err
}

// PostgresAdapter runs the same schema and queries as MySQLAdapter over a pgx pool.
type PostgresAdapter struct {
	pool *pgxpool.Pool
}

func NewPostgresAdapter(pool *pgxpool.Pool) *PostgresAdapter {
	return &PostgresAdapter{pool: pool}
}

var _ port.DatabaseRepository = (*PostgresAdapter)(nil)

func (p *PostgresAdapter) Migrate(ctx context.Context) error {
	migrations, err := loadMigrations("postgres")
	if err != nil {
		return err
	}
	for _, mig := range migrations {
		for _, stmt := range mig.statements {
			if _, err := p.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("migration %s: %w", mig.name, err)
			}
		}
	}
	return nil
}

func (p *PostgresAdapter) GetProduct(ctx context.Context, productID int64) (*domain.Product, error) {
	product, err := scanProduct(p.pool.QueryRow(ctx, rebind(selectProductSQL), productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &product, nil
}

func (p *PostgresAdapter) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if filter.ListedOnly {
		rows, err = p.pool.Query(ctx, rebind(listListedProductsSQL), string(domain.ProductStatusActive))
	} else {
		rows, err = p.pool.Query(ctx, listProductsSQL)
	}
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0)
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (p *PostgresAdapter) CreateProduct(ctx context.Context, product *domain.Product) error {
	err := p.pool.QueryRow(ctx, rebind(insertProductSQL)+" RETURNING id",
		product.Name, product.Description, product.Price, string(product.Status),
		product.Lifecycle.IsDeleted(), product.StockWarningThreshold,
		product.CreatedBy, product.UpdatedBy, product.CreatedAt, product.UpdatedAt,
	).Scan(&product.ID)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) CreateKeys(ctx context.Context, keys []domain.Key) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := rebind(insertKeySQL) + " RETURNING id"
	batch := &pgx.Batch{}
	for _, k := range keys {
		batch.Queue(query,
			k.ProductID, nullableSerial(k.SerialNoValue), k.Pin, k.Used, k.Lifecycle.IsDeleted(),
			k.CreatedBy, k.UpdatedBy, k.CreatedAt, k.UpdatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := range keys {
		if err := results.QueryRow().Scan(&keys[i].ID); err != nil {
			results.Close()
			return fmt.Errorf("insert key: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *PostgresAdapter) SoftDeleteProduct(ctx context.Context, productID int64, actor string, at time.Time) (bool, error) {
	return p.execAffected(ctx, softDeleteProductSQL, actor, at, productID)
}

func (p *PostgresAdapter) SoftDeleteKey(ctx context.Context, keyID int64, actor string, at time.Time) (bool, error) {
	return p.execAffected(ctx, softDeleteKeySQL, actor, at, keyID)
}

func (p *PostgresAdapter) CountKeys(ctx context.Context, productID int64) (domain.StockLevel, error) {
	var level domain.StockLevel
	err := p.pool.QueryRow(ctx, rebind(countKeysSQL), productID).Scan(&level.Available, &level.Used)
	if err != nil {
		return domain.StockLevel{}, fmt.Errorf("count keys: %w", err)
	}
	return level, nil
}

func (p *PostgresAdapter) FindOrderByTransaction(ctx context.Context, transactionID string) (*domain.Order, error) {
	order, err := scanOrderHeader(p.pool.QueryRow(ctx, rebind(selectOrderByTransactionSQL), transactionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}

	rows, err := p.pool.Query(ctx, rebind(selectOrderLinesSQL), order.ID)
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

func (p *PostgresAdapter) MarkNotificationRead(ctx context.Context, notificationID int64, actor string, at time.Time) (bool, error) {
	changed, err := p.execAffected(ctx, markNotificationReadSQL, actor, at, notificationID)
	if err != nil || changed {
		return changed, err
	}

	var count int
	if err := p.pool.QueryRow(ctx, rebind(notificationExistsSQL), notificationID).Scan(&count); err != nil {
		return false, fmt.Errorf("query notification: %w", err)
	}
	return count > 0, nil
}

func (p *PostgresAdapter) ListUnreadNotifications(ctx context.Context) ([]domain.Notification, error) {
	rows, err := p.pool.Query(ctx, listUnreadNotificationsSQL)
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

func (p *PostgresAdapter) WithinTx(ctx context.Context, fn func(tx port.AllocationTx) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&postgresTx{tx: tx}); err != nil {
		return pgContention(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return pgContention(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (p *PostgresAdapter) execAffected(ctx context.Context, query string, args ...any) (bool, error) {
	tag, err := p.pool.Exec(ctx, rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("exec: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) ClaimKeys(ctx context.Context, productID int64, limit int) ([]domain.Key, error) {
	rows, err := t.tx.Query(ctx, rebind(claimKeysSQL), productID, limit)
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

func (t *postgresTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	err := t.tx.QueryRow(ctx, rebind(insertOrderSQL)+" RETURNING id",
		order.ProductID, order.Quantity, order.TransactionID,
		order.CreatedBy, order.UpdatedBy, order.CreatedAt, order.UpdatedAt,
	).Scan(&order.ID)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *postgresTx) CreateOrderLine(ctx context.Context, line *domain.OrderLine) error {
	err := t.tx.QueryRow(ctx, rebind(insertOrderLineSQL)+" RETURNING id",
		line.OrderID, line.KeyID, line.CreatedAt,
	).Scan(&line.ID)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("key %d: %w", line.KeyID, errDuplicateKeyLine)
	}
	if err != nil {
		return fmt.Errorf("insert order line: %w", err)
	}
	return nil
}

func (t *postgresTx) ConsumeKey(ctx context.Context, keyID, orderID int64, actor string, at time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, rebind(consumeKeySQL), orderID, at, actor, at, keyID)
	if err != nil {
		return false, fmt.Errorf("update key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTx) CountAvailable(ctx context.Context, productID int64) (int, error) {
	var n int
	if err := t.tx.QueryRow(ctx, rebind(countAvailableSQL), productID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count available: %w", err)
	}
	return n, nil
}

func (t *postgresTx) CreateNotification(ctx context.Context, n *domain.Notification) error {
	err := t.tx.QueryRow(ctx, rebind(insertNotificationSQL)+" RETURNING id",
		n.Title, n.Message, n.Read, n.ProductID, n.CreatedBy, n.UpdatedBy, n.CreatedAt, n.UpdatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}
