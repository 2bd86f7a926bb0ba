package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderTotals(t *testing.T) {
	product := Product{ID: 3, Name: "Game", Description: "Steam key", Price: 1500}
	at := time.Now()
	o := Order{ID: 1, ProductID: 3, Quantity: 2, Product: SummarizeProduct(product)}
	o.Lines = append(o.Lines, NewOrderLine(o.ID, Key{ID: 11, ProductID: 3, Pin: "AAAA"}, o.Product, at))

	assert.Equal(t, int64(3000), o.TotalPrice())
	assert.False(t, o.Fulfilled())

	o.Lines = append(o.Lines, NewOrderLine(o.ID, Key{ID: 12, ProductID: 3, Pin: "BBBB"}, o.Product, at))
	assert.True(t, o.Fulfilled())

	line := o.Lines[0]
	assert.Equal(t, "SN-000011-0003", line.SerialNo)
	assert.Equal(t, "AAAA", line.Pin)
	assert.Equal(t, int64(1500), line.Price)
	assert.Equal(t, "Game", line.Name)
}

func TestLowStockNotificationMessage(t *testing.T) {
	n := NewLowStockNotification(Product{ID: 8, Name: "Antivirus"}, 4, "buyer", time.Now())
	assert.Equal(t, LowStockTitle, n.Title)
	assert.Equal(t, "The stock for product 'Antivirus' is low. Only 4 keys left.", n.Message)
	assert.False(t, n.Read)
	assert.Equal(t, int64(8), *n.ProductID)
}

func TestTransactionError(t *testing.T) {
	err := WithTransaction("tx-9", ErrInsufficientStock)
	assert.True(t, errors.Is(err, ErrInsufficientStock))

	id, ok := TransactionIDOf(err)
	assert.True(t, ok)
	assert.Equal(t, "tx-9", id)

	_, ok = TransactionIDOf(ErrProductNotFound)
	assert.False(t, ok)
}
