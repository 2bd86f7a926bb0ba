package storage

import "errors"

var errDuplicateKeyLine = errors.New("key already bound to an order line")
