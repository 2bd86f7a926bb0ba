package storage

import (
	"strconv"
	"strings"
	"time"

	"github.com/rl1809/keyshop/internal/core/domain"
)

// Queries are written with ? placeholders; the Postgres adapter rebinds them.
const (
	productColumns = `id, name, description, price, status, is_deleted, stock_warning_threshold,
		created_by, updated_by, created_at, updated_at`
	keyColumns = `id, product_id, serial_no_value, pin, is_used, is_deleted, used_order_id, used_at,
		created_by, updated_by, created_at, updated_at`
	notificationColumns = `id, title, message, is_read, product_id, created_by, updated_by, created_at, updated_at`

	selectProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = ?`

	listProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE is_deleted = FALSE ORDER BY id`

	listListedProductsSQL = `SELECT ` + productColumns + ` FROM products
		WHERE is_deleted = FALSE AND status = ? ORDER BY id`

	insertProductSQL = `INSERT INTO products
		(name, description, price, status, is_deleted, stock_warning_threshold, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertKeySQL = `INSERT INTO product_keys
		(product_id, serial_no_value, pin, is_used, is_deleted, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	softDeleteProductSQL = `UPDATE products SET is_deleted = TRUE, updated_by = ?, updated_at = ?
		WHERE id = ? AND is_deleted = FALSE`

	softDeleteKeySQL = `UPDATE product_keys SET is_deleted = TRUE, updated_by = ?, updated_at = ?
		WHERE id = ? AND is_deleted = FALSE`

	countKeysSQL = `SELECT
			COUNT(CASE WHEN is_used = FALSE THEN 1 END),
			COUNT(CASE WHEN is_used = TRUE THEN 1 END)
		FROM product_keys WHERE product_id = ? AND is_deleted = FALSE`

	claimKeysSQL = `SELECT ` + keyColumns + ` FROM product_keys
		WHERE product_id = ? AND is_used = FALSE AND is_deleted = FALSE
		ORDER BY id LIMIT ?
		FOR UPDATE SKIP LOCKED`

	consumeKeySQL = `UPDATE product_keys
		SET is_used = TRUE, used_order_id = ?, used_at = ?, updated_by = ?, updated_at = ?
		WHERE id = ? AND is_used = FALSE AND is_deleted = FALSE`

	countAvailableSQL = `SELECT COUNT(*) FROM product_keys
		WHERE product_id = ? AND is_used = FALSE AND is_deleted = FALSE`

	insertOrderSQL = `INSERT INTO orders
		(product_id, quantity, transaction_id, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertOrderLineSQL = `INSERT INTO order_lines (order_id, key_id, created_at) VALUES (?, ?, ?)`

	insertNotificationSQL = `INSERT INTO notifications
		(title, message, is_read, product_id, created_by, updated_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectOrderByTransactionSQL = `SELECT o.id, o.product_id, o.quantity, o.transaction_id,
			o.created_by, o.updated_by, o.created_at, o.updated_at,
			p.name, p.description, p.price
		FROM orders o JOIN products p ON p.id = o.product_id
		WHERE o.transaction_id = ?
		ORDER BY o.id LIMIT 1`

	selectOrderLinesSQL = `SELECT l.id, l.created_at, k.id, k.product_id, k.serial_no_value, k.pin,
			p.name, p.description, p.price
		FROM order_lines l
		JOIN product_keys k ON k.id = l.key_id
		JOIN products p ON p.id = k.product_id
		WHERE l.order_id = ?
		ORDER BY l.id`

	markNotificationReadSQL = `UPDATE notifications SET is_read = TRUE, updated_by = ?, updated_at = ?
		WHERE id = ? AND is_read = FALSE`

	notificationExistsSQL = `SELECT COUNT(*) FROM notifications WHERE id = ?`

	listUnreadNotificationsSQL = `SELECT ` + notificationColumns + ` FROM notifications
		WHERE is_read = FALSE ORDER BY created_at DESC, id DESC`
)

// rebind rewrites ? placeholders to the $n form.
func rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// rowScanner is satisfied by both database/sql and pgx rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var (
		p       domain.Product
		status  string
		deleted bool
	)
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &status, &deleted, &p.StockWarningThreshold,
		&p.CreatedBy, &p.UpdatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, err
	}
	p.Status = domain.ProductStatus(status)
	p.Lifecycle = domain.LifecycleFromDeleted(deleted)
	return p, nil
}

func scanKey(row rowScanner) (domain.Key, error) {
	var (
		k        domain.Key
		serialNo *string
		deleted  bool
	)
	err := row.Scan(&k.ID, &k.ProductID, &serialNo, &k.Pin, &k.Used, &deleted, &k.UsedOrderID, &k.UsedAt,
		&k.CreatedBy, &k.UpdatedBy, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return domain.Key{}, err
	}
	if serialNo != nil {
		k.SerialNoValue = *serialNo
	}
	k.Lifecycle = domain.LifecycleFromDeleted(deleted)
	return k, nil
}

func scanNotification(row rowScanner) (domain.Notification, error) {
	var n domain.Notification
	err := row.Scan(&n.ID, &n.Title, &n.Message, &n.Read, &n.ProductID,
		&n.CreatedBy, &n.UpdatedBy, &n.CreatedAt, &n.UpdatedAt)
	return n, err
}

func scanOrderHeader(row rowScanner) (domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.ProductID, &o.Quantity, &o.TransactionID,
		&o.CreatedBy, &o.UpdatedBy, &o.CreatedAt, &o.UpdatedAt,
		&o.Product.Name, &o.Product.Description, &o.Product.Price)
	return o, err
}

func scanOrderLine(row rowScanner, orderID int64) (domain.OrderLine, error) {
	var (
		lineID    int64
		createdAt time.Time
		key       domain.Key
		serialNo  *string
		summary   domain.ProductSummary
	)
	err := row.Scan(&lineID, &createdAt, &key.ID, &key.ProductID, &serialNo, &key.Pin,
		&summary.Name, &summary.Description, &summary.Price)
	if err != nil {
		return domain.OrderLine{}, err
	}
	if serialNo != nil {
		key.SerialNoValue = *serialNo
	}
	line := domain.NewOrderLine(orderID, key, summary, createdAt)
	line.ID = lineID
	return line, nil
}

// nullableSerial stores a blank serial as NULL so the derived form applies.
func nullableSerial(serialNo string) *string {
	if serialNo == "" {
		return nil
	}
	return &serialNo
}
