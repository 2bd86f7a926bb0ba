package domain

import "time"

type ProductStatus string

const (
	ProductStatusActive   ProductStatus = "active"
	ProductStatusInactive ProductStatus = "inactive"
)

const DefaultStockWarningThreshold = 5

type Product struct {
	ID                    int64
	Name                  string
	Description           string
	Price                 int64 // smallest currency unit
	Status                ProductStatus
	Lifecycle             Lifecycle
	StockWarningThreshold int
	CreatedBy             string
	UpdatedBy             string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Purchasable reports whether orders may reference the product.
func (p Product) Purchasable() bool {
	return !p.Lifecycle.IsDeleted()
}

// Listed reports whether the product belongs in the public catalog.
func (p Product) Listed() bool {
	return !p.Lifecycle.IsDeleted() && p.Status == ProductStatusActive
}

// LowStock reports whether remaining available keys sit at or below the warning threshold.
func (p Product) LowStock(available int) bool {
	return available <= p.StockWarningThreshold
}

type ProductFilter struct {
	ListedOnly bool
}
