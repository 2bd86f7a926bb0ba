package domain

import (
	"fmt"
	"time"
)

const LowStockTitle = "Low Stock Warning"

type Notification struct {
	ID        int64
	Title     string
	Message   string
	Read      bool
	ProductID *int64
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewLowStockNotification(product Product, remaining int, actor string, at time.Time) Notification {
	productID := product.ID
	return Notification{
		Title:     LowStockTitle,
		Message:   fmt.Sprintf("The stock for product '%s' is low. Only %d keys left.", product.Name, remaining),
		ProductID: &productID,
		CreatedBy: actor,
		UpdatedBy: actor,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

// LowStockEvent is the outbound copy of a low-stock notification.
type LowStockEvent struct {
	NotificationID int64     `json:"notification_id"`
	ProductID      int64     `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Remaining      int       `json:"remaining"`
	Threshold      int       `json:"threshold"`
	OrderID        int64     `json:"order_id"`
	TransactionID  string    `json:"transaction_id"`
	OccurredAt     time.Time `json:"occurred_at"`
}
