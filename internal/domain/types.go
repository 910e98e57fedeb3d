package domain

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPaid      OrderStatus = "PAID"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the order status admits no further transitions.
func (s OrderStatus) Terminal() bool {
	return s == OrderPaid || s == OrderCancelled
}

type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "PENDING"
	PaymentSettlement PaymentStatus = "SETTLEMENT"
	PaymentCancelled  PaymentStatus = "CANCELLED"
)

type TicketStatus string

const (
	TicketAvailable TicketStatus = "AVAILABLE"
	TicketSold      TicketStatus = "SOLD"
	TicketCheckedIn TicketStatus = "CHECKED_IN"
	TicketCancelled TicketStatus = "CANCELLED"
)

// GatewayOutcome is the normalized result of a provider transaction status.
type GatewayOutcome string

const (
	OutcomePaid          GatewayOutcome = "paid"
	OutcomeCancelled     GatewayOutcome = "cancelled"
	OutcomeIndeterminate GatewayOutcome = "indeterminate"
)

// MapTransactionStatus normalizes the provider's transaction_status
// vocabulary. Unknown statuses map to OutcomeIndeterminate and must not
// change any state.
func MapTransactionStatus(status string) GatewayOutcome {
	switch status {
	case "settlement", "capture":
		return OutcomePaid
	case "deny", "cancel", "expire":
		return OutcomeCancelled
	default:
		return OutcomeIndeterminate
	}
}

type Event struct {
	ID     int64     `json:"id"`
	Title  string    `json:"title"`
	Venue  string    `json:"venue"`
	Starts time.Time `json:"starts_at"`
}

type TicketTier struct {
	ID         int64  `json:"id"`
	EventID    int64  `json:"event_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Remaining  int    `json:"remaining"`
	Total      int    `json:"total"`
}

type TierAvailability struct {
	TierID    int64 `json:"tier_id"`
	Remaining int   `json:"remaining"`
	Total     int   `json:"total"`
}

type BuyerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Order struct {
	ID         uuid.UUID   `json:"id"`
	UserID     int64       `json:"user_id"`
	EventID    int64       `json:"event_id"`
	TierID     int64       `json:"tier_id"`
	Quantity   int         `json:"quantity"`
	TotalCents int64       `json:"total_cents"`
	Status     OrderStatus `json:"status"`
	Buyer      BuyerInfo   `json:"buyer"`
	CreatedAt  time.Time   `json:"created_at"`
}

type Payment struct {
	ID            uuid.UUID     `json:"id"`
	OrderID       uuid.UUID     `json:"order_id"`
	AmountCents   int64         `json:"amount_cents"`
	Method        string        `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionAt *time.Time    `json:"transaction_at,omitempty"`
}

type Invoice struct {
	ID          uuid.UUID `json:"id"`
	PaymentID   uuid.UUID `json:"payment_id"`
	Number      string    `json:"number"`
	AmountCents int64     `json:"amount_cents"`
	IssuedAt    time.Time `json:"issued_at"`
}

type Ticket struct {
	ID        uuid.UUID    `json:"id"`
	OrderID   uuid.UUID    `json:"order_id"`
	TierID    int64        `json:"tier_id"`
	Code      string       `json:"code"`
	Status    TicketStatus `json:"status"`
	Used      bool         `json:"used"`
	CreatedAt time.Time    `json:"created_at"`
}

// PaymentSession is the provider-issued handle the buyer completes
// payment with.
type PaymentSession struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

// Checkout is the full result of a successful order creation.
type Checkout struct {
	Order   Order          `json:"order"`
	Tickets []Ticket       `json:"tickets"`
	Payment Payment        `json:"payment"`
	Invoice Invoice        `json:"invoice"`
	Session PaymentSession `json:"session"`
}

type OrderWithTickets struct {
	Order   Order    `json:"order"`
	Tickets []Ticket `json:"tickets"`
	Payment Payment  `json:"payment"`
}

// GatewayNotification is the parsed webhook body from the payment provider.
type GatewayNotification struct {
	OrderID           string `json:"order_id"`
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	GrossAmount       string `json:"gross_amount"`
	SignatureKey      string `json:"signature_key"`
	FraudStatus       string `json:"fraud_status"`
	TransactionTime   string `json:"transaction_time"`
}

// RedeemedTicket is what gate staff see after a successful check-in.
type RedeemedTicket struct {
	Code        string    `json:"code"`
	EventTitle  string    `json:"event_title"`
	Venue       string    `json:"venue"`
	TierName    string    `json:"tier_name"`
	BuyerName   string    `json:"buyer_name"`
	BuyerEmail  string    `json:"buyer_email"`
	PurchasedAt time.Time `json:"purchased_at"`
}
