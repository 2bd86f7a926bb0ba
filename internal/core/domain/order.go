package domain

import "time"

type Order struct {
	ID            int64
	ProductID     int64
	Quantity      int
	TransactionID string
	Product       ProductSummary
	Lines         []OrderLine
	CreatedBy     string
	UpdatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductSummary is projected through the product relation, not stored on the order.
type ProductSummary struct {
	Name        string
	Description string
	Price       int64
}

func SummarizeProduct(p Product) ProductSummary {
	return ProductSummary{Name: p.Name, Description: p.Description, Price: p.Price}
}

func (o Order) TotalPrice() int64 {
	return o.Product.Price * int64(o.Quantity)
}

// Fulfilled reports whether every requested unit is bound to a key.
func (o Order) Fulfilled() bool {
	return len(o.Lines) == o.Quantity
}

type OrderLine struct {
	ID        int64
	OrderID   int64
	KeyID     int64
	CreatedAt time.Time

	// projections through key -> product
	SerialNo    string
	Pin         string
	Price       int64
	Name        string
	Description string
}

func NewOrderLine(orderID int64, key Key, product ProductSummary, at time.Time) OrderLine {
	return OrderLine{
		OrderID:     orderID,
		KeyID:       key.ID,
		CreatedAt:   at,
		SerialNo:    key.SerialNo(),
		Pin:         key.Pin,
		Price:       product.Price,
		Name:        product.Name,
		Description: product.Description,
	}
}
