package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

const (
	orderKeyPrefix       = "order:tx:"
	DefaultOrderCacheTTL = time.Hour
)

// RedisAdapter caches committed orders by transaction id. Orders never change after commit,
// so the first write wins and expiry is the only invalidation.
type RedisAdapter struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisAdapter(client *redis.Client, ttl time.Duration) *RedisAdapter {
	if ttl <= 0 {
		ttl = DefaultOrderCacheTTL
	}
	return &RedisAdapter{client: client, ttl: ttl}
}

var _ port.OrderCache = (*RedisAdapter)(nil)

type cachedLine struct {
	ID          int64     `json:"id"`
	KeyID       int64     `json:"key_id"`
	CreatedAt   time.Time `json:"created_at"`
	SerialNo    string    `json:"serial_no"`
	Pin         string    `json:"pin"`
	Price       int64     `json:"price"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
}

type cachedOrder struct {
	ID            int64        `json:"id"`
	ProductID     int64        `json:"product_id"`
	Quantity      int          `json:"quantity"`
	TransactionID string       `json:"transaction_id"`
	Name          string       `json:"name"`
	Description   string       `json:"description"`
	Price         int64        `json:"price"`
	Lines         []cachedLine `json:"lines"`
	CreatedBy     string       `json:"created_by"`
	UpdatedBy     string       `json:"updated_by"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (r *RedisAdapter) GetOrder(ctx context.Context, transactionID string) (*domain.Order, error) {
	raw, err := r.client.Get(ctx, orderKeyPrefix+transactionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var rec cachedOrder
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode cached order: %w", err)
	}
	order := rec.toDomain()
	return &order, nil
}

func (r *RedisAdapter) SetOrder(ctx context.Context, order domain.Order) error {
	raw, err := json.Marshal(newCachedOrder(order))
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	return r.client.SetNX(ctx, orderKeyPrefix+order.TransactionID, raw, r.ttl).Err()
}

func newCachedOrder(o domain.Order) cachedOrder {
	rec := cachedOrder{
		ID:            o.ID,
		ProductID:     o.ProductID,
		Quantity:      o.Quantity,
		TransactionID: o.TransactionID,
		Name:          o.Product.Name,
		Description:   o.Product.Description,
		Price:         o.Product.Price,
		Lines:         make([]cachedLine, 0, len(o.Lines)),
		CreatedBy:     o.CreatedBy,
		UpdatedBy:     o.UpdatedBy,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	for _, l := range o.Lines {
		rec.Lines = append(rec.Lines, cachedLine{
			ID:          l.ID,
			KeyID:       l.KeyID,
			CreatedAt:   l.CreatedAt,
			SerialNo:    l.SerialNo,
			Pin:         l.Pin,
			Price:       l.Price,
			Name:        l.Name,
			Description: l.Description,
		})
	}
	return rec
}

func (rec cachedOrder) toDomain() domain.Order {
	o := domain.Order{
		ID:            rec.ID,
		ProductID:     rec.ProductID,
		Quantity:      rec.Quantity,
		TransactionID: rec.TransactionID,
		Product:       domain.ProductSummary{Name: rec.Name, Description: rec.Description, Price: rec.Price},
		Lines:         make([]domain.OrderLine, 0, len(rec.Lines)),
		CreatedBy:     rec.CreatedBy,
		UpdatedBy:     rec.UpdatedBy,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	for _, l := range rec.Lines {
		o.Lines = append(o.Lines, domain.OrderLine{
			ID:          l.ID,
			OrderID:     rec.ID,
			KeyID:       l.KeyID,
			CreatedAt:   l.CreatedAt,
			SerialNo:    l.SerialNo,
			Pin:         l.Pin,
			Price:       l.Price,
			Name:        l.Name,
			Description: l.Description,
		})
	}
	return o
}
