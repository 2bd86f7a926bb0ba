package domain

import "errors"

var (
	ErrProductNotFound      = errors.New("product not found")
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrAllocationRace       = errors.New("allocation race")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrKeyNotFound          = errors.New("key not found")
	ErrInvalidInput         = errors.New("invalid input")
)

// TransactionError ties a failure to the caller's transaction id so boundaries can echo it.
type TransactionError struct {
	TransactionID string
	Err           error
}

func (e *TransactionError) Error() string {
	return e.Err.Error() + " (transaction " + e.TransactionID + ")"
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func WithTransaction(transactionID string, err error) error {
	return &TransactionError{TransactionID: transactionID, Err: err}
}

// TransactionIDOf returns the echoed transaction id, if err carries one.
func TransactionIDOf(err error) (string, bool) {
	var txErr *TransactionError
	if errors.As(err, &txErr) {
		return txErr.TransactionID, true
	}
	return "", false
}
