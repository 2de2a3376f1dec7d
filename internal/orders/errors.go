package orders

import "errors"

var (
	ErrInvalidPayload   = errors.New("orders: invalid webhook payload")
	ErrInvalidTimestamp = errors.New("orders: created_at must be RFC3339")
)
