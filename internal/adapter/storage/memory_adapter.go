package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/port"
)

// MemoryAdapter keeps the whole store in process. Transactions are serialized and work on a
// copy of the state that replaces the live state only on success.
type MemoryAdapter struct {
	mu    sync.Mutex
	state *memoryState
}

type memoryState struct {
	products      map[int64]domain.Product
	keys          map[int64]domain.Key
	orders        map[int64]domain.Order
	lines         map[int64]domain.OrderLine
	notifications map[int64]domain.Notification

	nextProductID      int64
	nextKeyID          int64
	nextOrderID        int64
	nextLineID         int64
	nextNotificationID int64
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{state: &memoryState{
		products:      make(map[int64]domain.Product),
		keys:          make(map[int64]domain.Key),
		orders:        make(map[int64]domain.Order),
		lines:         make(map[int64]domain.OrderLine),
		notifications: make(map[int64]domain.Notification),
	}}
}

var _ port.DatabaseRepository = (*MemoryAdapter)(nil)

func (m *MemoryAdapter) GetProduct(_ context.Context, productID int64) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.state.products[productID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *MemoryAdapter) ListProducts(_ context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.Product, 0, len(m.state.products))
	for _, p := range m.state.products {
		if p.Lifecycle.IsDeleted() || (filter.ListedOnly && !p.Listed()) {
			continue
		}
		items = append(items, p)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryAdapter) CreateProduct(_ context.Context, product *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.nextProductID++
	product.ID = m.state.nextProductID
	m.state.products[product.ID] = *product
	return nil
}

func (m *MemoryAdapter) CreateKeys(_ context.Context, keys []domain.Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range keys {
		m.state.nextKeyID++
		keys[i].ID = m.state.nextKeyID
		m.state.keys[keys[i].ID] = keys[i]
	}
	return nil
}

func (m *MemoryAdapter) SoftDeleteProduct(_ context.Context, productID int64, actor string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.state.products[productID]
	if !ok || p.Lifecycle.IsDeleted() {
		return false, nil
	}
	p.Lifecycle = domain.LifecycleDeleted
	p.UpdatedBy = actor
	p.UpdatedAt = at
	m.state.products[productID] = p
	return true, nil
}

func (m *MemoryAdapter) SoftDeleteKey(_ context.Context, keyID int64, actor string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k, ok := m.state.keys[keyID]
	if !ok || k.Lifecycle.IsDeleted() {
		return false, nil
	}
	k.Lifecycle = domain.LifecycleDeleted
	k.UpdatedBy = actor
	k.UpdatedAt = at
	m.state.keys[keyID] = k
	return true, nil
}

func (m *MemoryAdapter) CountKeys(_ context.Context, productID int64) (domain.StockLevel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return domain.GaugeKeys(m.state.productKeys(productID)), nil
}

// Keys returns a snapshot of a product's pool in id order, deleted keys included.
func (m *MemoryAdapter) Keys(productID int64) []domain.Key {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.state.productKeys(productID)
}

// Orders returns a snapshot of every order with its lines, in id order.
func (m *MemoryAdapter) Orders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]int64, 0, len(m.state.orders))
	for id := range m.state.orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	orders := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		orders = append(orders, m.state.loadOrder(m.state.orders[id]))
	}
	return orders
}

func (m *MemoryAdapter) FindOrderByTransaction(_ context.Context, transactionID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var first *domain.Order
	for _, o := range m.state.orders {
		if o.TransactionID != transactionID {
			continue
		}
		if first == nil || o.ID < first.ID {
			first = &o
		}
	}
	if first == nil {
		return nil, nil
	}
	order := m.state.loadOrder(*first)
	return &order, nil
}

func (m *MemoryAdapter) MarkNotificationRead(_ context.Context, notificationID int64, actor string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.state.notifications[notificationID]
	if !ok {
		return false, nil
	}
	if !n.Read {
		n.Read = true
		n.UpdatedBy = actor
		n.UpdatedAt = at
		m.state.notifications[notificationID] = n
	}
	return true, nil
}

func (m *MemoryAdapter) ListUnreadNotifications(_ context.Context) ([]domain.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]domain.Notification, 0)
	for _, n := range m.state.notifications {
		if !n.Read {
			items = append(items, n)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.AllocationTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	draft := m.state.clone()
	if err := fn(&memoryTx{state: draft}); err != nil {
		return err
	}
	m.state = draft
	return nil
}

type memoryTx struct {
	state *memoryState
}

func (t *memoryTx) ClaimKeys(_ context.Context, productID int64, limit int) ([]domain.Key, error) {
	claimed := make([]domain.Key, 0, limit)
	for _, k := range t.state.productKeys(productID) {
		if len(claimed) == limit {
			break
		}
		if k.Available() {
			claimed = append(claimed, k)
		}
	}
	return claimed, nil
}

func (t *memoryTx) CreateOrder(_ context.Context, order *domain.Order) error {
	t.state.nextOrderID++
	order.ID = t.state.nextOrderID
	stored := *order
	stored.Lines = nil
	t.state.orders[order.ID] = stored
	return nil
}

func (t *memoryTx) CreateOrderLine(_ context.Context, line *domain.OrderLine) error {
	for _, existing := range t.state.lines {
		if existing.KeyID == line.KeyID {
			return errDuplicateKeyLine
		}
	}
	t.state.nextLineID++
	line.ID = t.state.nextLineID
	t.state.lines[line.ID] = domain.OrderLine{
		ID:        line.ID,
		OrderID:   line.OrderID,
		KeyID:     line.KeyID,
		CreatedAt: line.CreatedAt,
	}
	return nil
}

func (t *memoryTx) ConsumeKey(_ context.Context, keyID, orderID int64, actor string, at time.Time) (bool, error) {
	k, ok := t.state.keys[keyID]
	if !ok {
		return false, nil
	}
	if err := k.Consume(orderID, at, actor); err != nil {
		return false, nil
	}
	t.state.keys[keyID] = k
	return true, nil
}

func (t *memoryTx) CountAvailable(_ context.Context, productID int64) (int, error) {
	return domain.GaugeKeys(t.state.productKeys(productID)).Available, nil
}

func (t *memoryTx) CreateNotification(_ context.Context, n *domain.Notification) error {
	t.state.nextNotificationID++
	n.ID = t.state.nextNotificationID
	t.state.notifications[n.ID] = *n
	return nil
}

func (s *memoryState) productKeys(productID int64) []domain.Key {
	keys := make([]domain.Key, 0)
	for _, k := range s.keys {
		if k.ProductID == productID {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys
}

// loadOrder attaches lines with their key and product projections, as the SQL join does.
func (s *memoryState) loadOrder(o domain.Order) domain.Order {
	if p, ok := s.products[o.ProductID]; ok {
		o.Product = domain.SummarizeProduct(p)
	}

	lines := make([]domain.OrderLine, 0, o.Quantity)
	for _, l := range s.lines {
		if l.OrderID == o.ID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })

	o.Lines = make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		key := s.keys[l.KeyID]
		summary := o.Product
		if p, ok := s.products[key.ProductID]; ok {
			summary = domain.SummarizeProduct(p)
		}
		line := domain.NewOrderLine(l.OrderID, key, summary, l.CreatedAt)
		line.ID = l.ID
		o.Lines = append(o.Lines, line)
	}
	return o
}

func (s *memoryState) clone() *memoryState {
	c := *s
	c.products = make(map[int64]domain.Product, len(s.products))
	for id, v := range s.products {
		c.products[id] = v
	}
	c.keys = make(map[int64]domain.Key, len(s.keys))
	for id, v := range s.keys {
		c.keys[id] = v
	}
	c.orders = make(map[int64]domain.Order, len(s.orders))
	for id, v := range s.orders {
		c.orders[id] = v
	}
	c.lines = make(map[int64]domain.OrderLine, len(s.lines))
	for id, v := range s.lines {
		c.lines[id] = v
	}
	c.notifications = make(map[int64]domain.Notification, len(s.notifications))
	for id, v := range s.notifications {
		c.notifications[id] = v
	}
	return &c
}
