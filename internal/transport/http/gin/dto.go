package httpgin

import (
	"github.com/karcis-id/karcis/internal/domain"
)

type CreateOrderRequest struct {
	UserID        int64     `json:"user_id" binding:"required"`
	EventID       int64     `json:"event_id" binding:"required"`
	TierID        int64     `json:"tier_id" binding:"required"`
	Quantity      int       `json:"quantity" binding:"required,gt=0"`
	TotalCents    int64     `json:"total_cents" binding:"required,gt=0"`
	Buyer         BuyerInfo `json:"buyer" binding:"required"`
	PaymentMethod string    `json:"payment_method" binding:"required"`
}

type BuyerInfo struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone"`
}

type CreateOrderResponse struct {
	Order   domain.Order          `json:"order"`
	Tickets []domain.Ticket       `json:"tickets"`
	Payment domain.Payment        `json:"payment"`
	Invoice domain.Invoice        `json:"invoice"`
	Session domain.PaymentSession `json:"session"`
}

type ContinuePaymentResponse struct {
	OrderID string                `json:"order_id"`
	Session domain.PaymentSession `json:"session"`
}

type PaymentStatusResponse struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

type VerifyTicketRequest struct {
	Code string `json:"code" binding:"required"`
}

type VerifyTicketResponse struct {
	Valid  bool                   `json:"valid"`
	Ticket *domain.RedeemedTicket `json:"ticket,omitempty"`
	Reason string                 `json:"reason,omitempty"`
}

type TicketStatusResponse struct {
	Code   string `json:"code"`
	Status string `json:"status"`
	Used   bool   `json:"used"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
