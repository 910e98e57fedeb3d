package orders

import "errors"

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrTierNotFound          = errors.New("ticket tier not found")
	ErrInsufficientInventory = errors.New("insufficient ticket inventory")
	ErrValidation            = errors.New("invalid order request")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrGatewayRejected       = errors.New("payment gateway rejected the session")
	ErrSessionExists         = errors.New("a payment session may already exist for this order")
	ErrCheckoutTimeout       = errors.New("checkout transaction timed out")
	ErrOrderNotFound         = errors.New("order not found")
	ErrOrderNotPending       = errors.New("order is no longer pending")
	ErrRateLimited           = errors.New("rate limited")
)
