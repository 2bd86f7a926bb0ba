package domain

import (
	"fmt"
	"time"
)

type KeyState string

const (
	KeyStateUnused  KeyState = "unused"
	KeyStateUsed    KeyState = "used"
	KeyStateDeleted KeyState = "deleted"
)

type Key struct {
	ID            int64
	ProductID     int64
	SerialNoValue string
	Pin           string
	Used          bool
	Lifecycle     Lifecycle
	UsedOrderID   *int64
	UsedAt        *time.Time
	CreatedBy     string
	UpdatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SerialNo falls back to a serial derived from the key and product ids.
func (k Key) SerialNo() string {
	if k.SerialNoValue != "" {
		return k.SerialNoValue
	}
	return fmt.Sprintf("SN-%06d-%04d", k.ID, k.ProductID)
}

// State collapses the two flags; deletion wins over use.
func (k Key) State() KeyState {
	switch {
	case k.Lifecycle.IsDeleted():
		return KeyStateDeleted
	case k.Used:
		return KeyStateUsed
	default:
		return KeyStateUnused
	}
}

func (k Key) Available() bool {
	return k.State() == KeyStateUnused
}

// Consume flips an unused key to used. There is no inverse.
func (k *Key) Consume(orderID int64, at time.Time, actor string) error {
	if !k.Available() {
		return fmt.Errorf("key %d is %s: %w", k.ID, k.State(), ErrAllocationRace)
	}
	k.Used = true
	k.UsedOrderID = &orderID
	k.UsedAt = &at
	k.UpdatedBy = actor
	k.UpdatedAt = at
	return nil
}

type KeyInput struct {
	SerialNo string
	Pin      string
}
