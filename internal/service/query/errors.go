package query

import (
	"errors"
)

var (
	ErrEventNotFound = errors.New("event not found")
	ErrTierNotFound  = errors.New("ticket tier not found")
	ErrOrderNotFound = errors.New("order not found")
)
