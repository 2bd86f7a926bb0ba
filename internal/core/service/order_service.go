package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

const (
	tracerName = "github.com/rl1809/keyshop/internal/core/service"

	// one regular attempt plus one retry after a lost key claim
	maxAllocationAttempts = 2
)

type OrderService struct {
	store     port.DatabaseRepository
	cache     port.OrderCache
	publisher port.EventPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time
}

type Option func(*OrderService)

func WithOrderCache(cache port.OrderCache) Option {
	return func(s *OrderService) { s.cache = cache }
}

func WithEventPublisher(publisher port.EventPublisher) Option {
	return func(s *OrderService) { s.publisher = publisher }
}

func WithClock(now func() time.Time) Option {
	return func(s *OrderService) { s.now = now }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *OrderService) { s.tracer = tracer }
}

func NewOrderService(store port.DatabaseRepository, logger *zap.Logger, opts ...Option) *OrderService {
	s := &OrderService{
		store:  store,
		logger: logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type PlaceOrderRequest struct {
	ProductID     int64
	Quantity      int
	TransactionID string
	Actor         string
}

type allocation struct {
	order        domain.Order
	remaining    int
	notification *domain.Notification
}

// PlaceOrder allocates req.Quantity unused keys to a new order. Either the order, all of its
// lines, every key transition and the optional low-stock notification commit together, or nothing does.
func (s *OrderService) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.place_order", trace.WithAttributes(
		attribute.Int64("product.id", req.ProductID),
		attribute.Int("order.quantity", req.Quantity),
		attribute.String("order.transaction_id", req.TransactionID),
	))
	defer span.End()

	log := s.logger.With(
		zap.Int64("product_id", req.ProductID),
		zap.Int("quantity", req.Quantity),
		zap.String("transaction_id", req.TransactionID),
	)

	if req.Quantity <= 0 {
		return nil, s.reject(span, log, req, domain.ErrInvalidQuantity)
	}

	product, err := s.store.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, s.fail(span, log, req, fmt.Errorf("get product: %w", err))
	}
	if product == nil || !product.Purchasable() {
		return nil, s.reject(span, log, req, domain.ErrProductNotFound)
	}

	// fast-path rejection only, the claim below is what guarantees exclusivity
	level, err := s.store.CountKeys(ctx, product.ID)
	if err != nil {
		return nil, s.fail(span, log, req, fmt.Errorf("count keys: %w", err))
	}
	if !level.Covers(req.Quantity) {
		return nil, s.reject(span, log, req, domain.ErrInsufficientStock)
	}

	for attempt := 1; attempt <= maxAllocationAttempts; attempt++ {
		result, err := s.allocate(ctx, *product, req)
		if err == nil {
			s.afterCommit(ctx, log, *product, req, result)
			span.SetAttributes(
				attribute.Int64("order.id", result.order.ID),
				attribute.Int("stock.remaining", result.remaining),
			)
			span.SetStatus(codes.Ok, "order placed")
			log.Info("order placed",
				zap.Int64("order_id", result.order.ID),
				zap.Int("remaining", result.remaining),
				zap.Int("attempt", attempt),
			)
			return &result.order, nil
		}
		if !errors.Is(err, domain.ErrAllocationRace) {
			return nil, s.fail(span, log, req, fmt.Errorf("allocate: %w", err))
		}
		log.Warn("allocation lost a key claim race", zap.Int("attempt", attempt), zap.Error(err))
	}

	return nil, s.reject(span, log, req, domain.ErrInsufficientStock)
}

func (s *OrderService) allocate(ctx context.Context, product domain.Product, req PlaceOrderRequest) (*allocation, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.allocate")
	defer span.End()

	var result *allocation
	err := s.store.WithinTx(ctx, func(tx port.AllocationTx) error {
		keys, err := tx.ClaimKeys(ctx, product.ID, req.Quantity)
		if err != nil {
			return fmt.Errorf("claim keys: %w", err)
		}
		if len(keys) < req.Quantity {
			return fmt.Errorf("claimed %d of %d keys: %w", len(keys), req.Quantity, domain.ErrAllocationRace)
		}

		now := s.clock()
		order := domain.Order{
			ProductID:     product.ID,
			Quantity:      req.Quantity,
			TransactionID: req.TransactionID,
			Product:       domain.SummarizeProduct(product),
			Lines:         make([]domain.OrderLine, 0, len(keys)),
			CreatedBy:     req.Actor,
			UpdatedBy:     req.Actor,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.CreateOrder(ctx, &order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, key := range keys {
			ok, err := tx.ConsumeKey(ctx, key.ID, order.ID, req.Actor, now)
			if err != nil {
				return fmt.Errorf("consume key %d: %w", key.ID, err)
			}
			if !ok {
				return fmt.Errorf("key %d no longer unused: %w", key.ID, domain.ErrAllocationRace)
			}

			line := domain.NewOrderLine(order.ID, key, order.Product, now)
			if err := tx.CreateOrderLine(ctx, &line); err != nil {
				return fmt.Errorf("create order line: %w", err)
			}
			order.Lines = append(order.Lines, line)
		}
		if !order.Fulfilled() {
			return fmt.Errorf("order has %d of %d lines: %w", len(order.Lines), order.Quantity, domain.ErrAllocationRace)
		}

		remaining, err := tx.CountAvailable(ctx, product.ID)
		if err != nil {
			return fmt.Errorf("count remaining: %w", err)
		}

		result = &allocation{order: order, remaining: remaining}
		if product.LowStock(remaining) {
			n := domain.NewLowStockNotification(product, remaining, req.Actor, now)
			if err := tx.CreateNotification(ctx, &n); err != nil {
				return fmt.Errorf("create notification: %w", err)
			}
			result.notification = &n
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocation rolled back")
		return nil, err
	}
	return result, nil
}

// afterCommit runs the best-effort side effects of a committed allocation.
func (s *OrderService) afterCommit(ctx context.Context, log *zap.Logger, product domain.Product, req PlaceOrderRequest, result *allocation) {
	if result.notification == nil {
		return
	}
	log.Warn("low stock",
		zap.Int64("notification_id", result.notification.ID),
		zap.Int("remaining", result.remaining),
		zap.Int("threshold", product.StockWarningThreshold),
	)
	if s.publisher == nil {
		return
	}

	event := domain.LowStockEvent{
		NotificationID: result.notification.ID,
		ProductID:      product.ID,
		ProductName:    product.Name,
		Remaining:      result.remaining,
		Threshold:      product.StockWarningThreshold,
		OrderID:        result.order.ID,
		TransactionID:  req.TransactionID,
		OccurredAt:     result.notification.CreatedAt,
	}
	if err := s.publisher.PublishLowStock(ctx, event); err != nil {
		log.Error("failed to publish low stock event", zap.Error(err))
	}
}

// FindByTransaction returns the first order recorded for the transaction id.
func (s *OrderService) FindByTransaction(ctx context.Context, transactionID string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "fulfillment.find_by_transaction", trace.WithAttributes(
		attribute.String("order.transaction_id", transactionID),
	))
	defer span.End()

	log := s.logger.With(zap.String("transaction_id", transactionID))

	if s.cache != nil {
		cached, err := s.cache.GetOrder(ctx, transactionID)
		if err != nil {
			log.Warn("order cache read failed", zap.Error(err))
		} else if cached != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	order, err := s.store.FindOrderByTransaction(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		log.Error("transaction lookup failed", zap.Error(err))
		return nil, domain.WithTransaction(transactionID, fmt.Errorf("find order: %w", err))
	}
	if order == nil {
		return nil, domain.WithTransaction(transactionID, domain.ErrTransactionNotFound)
	}

	if s.cache != nil {
		if err := s.cache.SetOrder(ctx, *order); err != nil {
			log.Warn("order cache write failed", zap.Error(err))
		}
	}
	return order, nil
}

func (s *OrderService) reject(span trace.Span, log *zap.Logger, req PlaceOrderRequest, err error) error {
	span.SetStatus(codes.Error, err.Error())
	log.Info("order rejected", zap.Error(err))
	return domain.WithTransaction(req.TransactionID, err)
}

func (s *OrderService) fail(span trace.Span, log *zap.Logger, req PlaceOrderRequest, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "order failed")
	log.Error("order failed", zap.Error(err))
	return domain.WithTransaction(req.TransactionID, err)
}

func (s *OrderService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
