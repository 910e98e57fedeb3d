package redemption

import "errors"

var (
	ErrTicketNotFound = errors.New("ticket code not found")
	ErrAlreadyUsed    = errors.New("ticket already checked in")
	ErrNotRedeemable  = errors.New("ticket is not redeemable")
)
