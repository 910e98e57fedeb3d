package reconcile

import "errors"

var (
	ErrOrderNotFound      = errors.New("order not found")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)
