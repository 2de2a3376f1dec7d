package attribution

import "errors"

var (
	// ErrMissingOrderID indicates the order payload carried no identifier.
	ErrMissingOrderID = errors.New("attribution: order id is required")
	// ErrMissingOrderTime indicates the order payload carried no timestamp.
	ErrMissingOrderTime = errors.New("attribution: order created_at is required")
)
