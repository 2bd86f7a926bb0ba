package handler

import (
	"time"

	"github.com/rl1809/keyshop/internal/core/domain"
	"github.com/rl1809/keyshop/internal/core/service"
)

const (
	msgSuccess             = "Success"
	msgProductNotFound     = "Product not found"
	msgNotEnoughKeys       = "Not enough keys available"
	msgInvalidQuantity     = "Quantity must be a positive integer"
	msgTransactionNotFound = "Transaction not found"
	msgNotificationMissing = "Notification not found"
	msgNotificationRead    = "Notification marked as read"
	msgKeyNotFound         = "Key not found"
	msgProductDeleted      = "Product deleted"
	msgKeyDeleted          = "Key deleted"
	msgInvalidRequest      = "Invalid request body"
	msgInternal            = "Internal server error"
)

type OrderLineView struct {
	SerialNo    string `json:"serial_no"`
	Pin         string `json:"pin"`
	Price       int64  `json:"price"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// OrderView is the wire form of a fulfilled order, shared by HTTP and gRPC.
type OrderView struct {
	Status        bool            `json:"status"`
	Message       string          `json:"message"`
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	ProductID     int64           `json:"product_id"`
	Quantity      int             `json:"quantity"`
	Lines         []OrderLineView `json:"lines"`
	TotalPrice    int64           `json:"total_price"`
	Created       time.Time       `json:"created"`
}

// Envelope is the body of every failure and of plain acknowledgements.
type Envelope struct {
	Status        bool   `json:"status"`
	Message       string `json:"message"`
	TransactionID string `json:"transaction_id,omitempty"`
}

type NotificationView struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	ProductID *int64    `json:"product_id,omitempty"`
	Created   time.Time `json:"created"`
}

type ProductView struct {
	ID                    int64     `json:"id"`
	Name                  string    `json:"name"`
	Description           string    `json:"description"`
	Price                 int64     `json:"price"`
	Status                string    `json:"status"`
	StockWarningThreshold int       `json:"stock_warning_threshold"`
	Stock                 *bool     `json:"stock,omitempty"`
	Created               time.Time `json:"created"`
}

type StockView struct {
	Status    bool   `json:"status"`
	Message   string `json:"message"`
	ProductID int64  `json:"product_id"`
	Available int    `json:"available"`
	Used      int    `json:"used"`
	Total     int    `json:"total"`
	InStock   bool   `json:"in_stock"`
}

func presentOrder(o domain.Order) OrderView {
	view := OrderView{
		Status:        true,
		Message:       msgSuccess,
		ID:            o.ID,
		TransactionID: o.TransactionID,
		ProductID:     o.ProductID,
		Quantity:      o.Quantity,
		Lines:         make([]OrderLineView, 0, len(o.Lines)),
		TotalPrice:    o.TotalPrice(),
		Created:       o.CreatedAt,
	}
	for _, l := range o.Lines {
		view.Lines = append(view.Lines, OrderLineView{
			SerialNo:    l.SerialNo,
			Pin:         l.Pin,
			Price:       l.Price,
			Name:        l.Name,
			Description: l.Description,
		})
	}
	return view
}

func presentNotification(n domain.Notification) NotificationView {
	return NotificationView{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		IsRead:    n.Read,
		ProductID: n.ProductID,
		Created:   n.CreatedAt,
	}
}

func presentProduct(p domain.Product) ProductView {
	return ProductView{
		ID:                    p.ID,
		Name:                  p.Name,
		Description:           p.Description,
		Price:                 p.Price,
		Status:                string(p.Status),
		StockWarningThreshold: p.StockWarningThreshold,
		Created:               p.CreatedAt,
	}
}

func presentCatalogEntry(e service.CatalogEntry) ProductView {
	view := presentProduct(e.Product)
	inStock := e.InStock
	view.Stock = &inStock
	return view
}

func presentStock(productID int64, level domain.StockLevel) StockView {
	return StockView{
		Status:    true,
		Message:   msgSuccess,
		ProductID: productID,
		Available: level.Available,
		Used:      level.Used,
		Total:     level.Total(),
		InStock:   level.InStock(),
	}
}
