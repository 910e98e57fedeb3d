package repository

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrOrderNotPending       = errors.New("order is not pending")
	ErrAlreadyUsed           = errors.New("ticket already used")
	ErrNotRedeemable         = errors.New("ticket is not redeemable")
)
