package httpgin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/karcis-id/karcis/internal/domain"
	redisrepo "github.com/karcis-id/karcis/internal/repository/redis"
	"github.com/karcis-id/karcis/internal/service"
	"github.com/karcis-id/karcis/internal/service/orders"
	"github.com/karcis-id/karcis/internal/service/query"
	"github.com/karcis-id/karcis/internal/service/reconcile"
	"github.com/karcis-id/karcis/internal/service/redemption"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

func NewRouter(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
	logger *slog.Logger,
	middlewares ...gin.HandlerFunc,
) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery(), LoggingMiddleware(logger), RequestIDMiddleware(), MetricsMiddleware(), CORS())
	for _, m := range middlewares {
		if m != nil {
			r.Use(m)
		}
	}

	// Swagger UI
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// health + metrics
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public API
	r.POST("/orders", handleCreateOrder(svcs, idem))
	r.GET("/orders/:id", handleGetOrder(svcs))
	r.GET("/orders/:id/payment", handleContinuePayment(svcs))

	r.GET("/payments/status/:orderID", handlePaymentStatus(svcs))
	r.POST("/webhook/payment", handlePaymentWebhook(svcs, logger))

	r.POST("/tickets/verify", handleVerifyTicket(svcs))
	r.GET("/tickets/:code", handleTicketStatus(svcs))

	r.GET("/events/:id", handleGetEvent(svcs))
	r.GET("/tiers/:id/availability", handleTierAvailability(svcs))

	return r
}

// --- Handlers with Swagger annotations ---

// @Summary  Create order (idempotent via Idempotency-Key)
// @Param    req body  CreateOrderRequest true "payload"
// @Header   201 {string} Idempotency-Key "echo"
// @Success  201 {object} CreateOrderResponse
// @Failure  400 {object} ErrorResponse "validation"
// @Failure  404 {object} ErrorResponse "event/tier unknown"
// @Failure  408 {object} ErrorResponse "checkout timeout, safe to retry"
// @Failure  409 {object} ErrorResponse "insufficient inventory / session exists / idem in progress"
// @Failure  429 {object} ErrorResponse "rate limited"
// @Failure  502 {object} ErrorResponse "gateway failure, safe to retry"
// @Router   /orders [post]
func handleCreateOrder(
	svcs *service.Services,
	idem *redisrepo.IdempotencyStore,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		idemKey := strings.TrimSpace(c.GetHeader("Idempotency-Key"))
		var idemStorageKey string
		if idem != nil && idemKey != "" {
			idemStorageKey = redisrepo.KeyIdemOrder(req.UserID, idemKey)

			if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
				c.Header("Idempotency-Key", idemKey)
				c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
				return
			}

			locked, err := idem.AcquireLock(c.Request.Context(), idemStorageKey, 60*time.Second)
			if err != nil {
				respondErr(c, err)
				return
			}
			if !locked {
				if payload, ok, _ := idem.GetResult(c.Request.Context(), idemStorageKey); ok {
					c.Header("Idempotency-Key", idemKey)
					c.Data(http.StatusCreated, "application/json; charset=utf-8", []byte(payload))
					return
				}
				c.Header("Retry-After", "1")
				c.JSON(http.StatusConflict, ErrorResponse{Error: "idempotency key in progress"})
				return
			}
		}

		rlKey := "ip:" + c.ClientIP()

		checkout, err := svcs.Orders.CreateOrder(c.Request.Context(), orders.CreateOrderParams{
			UserID:     req.UserID,
			EventID:    req.EventID,
			TierID:     req.TierID,
			Quantity:   req.Quantity,
			TotalCents: req.TotalCents,
			Buyer: domain.BuyerInfo{
				Name:  req.Buyer.Name,
				Email: req.Buyer.Email,
				Phone: req.Buyer.Phone,
			},
			Method: req.PaymentMethod,
		}, rlKey)
		if err != nil {
			if idemStorageKey != "" && idem != nil {
				_ = idem.Release(c.Request.Context(), idemStorageKey)
			}
			respondErr(c, err)
			return
		}

		resp := CreateOrderResponse{
			Order:   checkout.Order,
			Tickets: checkout.Tickets,
			Payment: checkout.Payment,
			Invoice: checkout.Invoice,
			Session: checkout.Session,
		}

		if idemStorageKey != "" && idem != nil {
			b, _ := json.Marshal(resp)
			_ = idem.SaveResult(c.Request.Context(), idemStorageKey, string(b))
			c.Header("Idempotency-Key", idemKey)
		}

		c.JSON(http.StatusCreated, resp)
	}
}

// @Summary  Get order with tickets and payment
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} domain.OrderWithTickets
// @Failure  404 {object} ErrorResponse
// @Router   /orders/{id} [get]
func handleGetOrder(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		o, err := svcs.Query.GetOrderWithTickets(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// @Summary  Continue payment for a still-pending order
// @Param    id  path  string  true  "Order ID (uuid)"
// @Success  200 {object} ContinuePaymentResponse
// @Failure  404 {object} ErrorResponse
// @Failure  409 {object} ErrorResponse "order no longer pending"
// @Router   /orders/{id}/payment [get]
func handleContinuePayment(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "id")
		if !ok {
			return
		}
		session, err := svcs.Orders.ContinuePayment(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, ContinuePaymentResponse{
			OrderID: orderID.String(),
			Session: *session,
		})
	}
}

// @Summary  Reconcile an order against the gateway on demand
// @Param    orderID  path  string  true  "Order ID (uuid)"
// @Success  200 {object} PaymentStatusResponse
// @Failure  404 {object} ErrorResponse
// @Failure  502 {object} ErrorResponse "gateway unavailable"
// @Router   /payments/status/{orderID} [get]
func handlePaymentStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID, ok := parseUUIDParam(c, "orderID")
		if !ok {
			return
		}
		status, err := svcs.Reconcile.RefreshStatus(c.Request.Context(), orderID)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, PaymentStatusResponse{
			OrderID: orderID.String(),
			Status:  string(status),
		})
	}
}

// @Summary  Payment gateway webhook
// @Param    req body  domain.GatewayNotification true "notification"
// @Success  200 {object} map[string]string "acknowledged, including no-op duplicates"
// @Failure  404 {object} ErrorResponse "unknown order; provider should retry"
// @Router   /webhook/payment [post]
func handlePaymentWebhook(svcs *service.Services, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var n domain.GatewayNotification
		if err := c.ShouldBindJSON(&n); err != nil {
			// Malformed payloads are logged and acknowledged so the
			// provider does not retry-storm us.
			logger.Warn("malformed webhook payload", "error", err)
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}

		if err := svcs.Reconcile.OnNotification(c.Request.Context(), n); err != nil {
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// @Summary  Verify (redeem) a ticket at the gate
// @Param    req body  VerifyTicketRequest true "payload"
// @Success  200 {object} VerifyTicketResponse
// @Failure  404 {object} VerifyTicketResponse "unknown code"
// @Failure  409 {object} VerifyTicketResponse "already used / not redeemable"
// @Router   /tickets/verify [post]
func handleVerifyTicket(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyTicketRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}

		t, err := svcs.Redemption.Redeem(c.Request.Context(), req.Code)
		if err != nil {
			switch {
			case errors.Is(err, redemption.ErrTicketNotFound):
				c.JSON(http.StatusNotFound, VerifyTicketResponse{Valid: false, Reason: "ticket code not found"})
			case errors.Is(err, redemption.ErrAlreadyUsed):
				c.JSON(http.StatusConflict, VerifyTicketResponse{Valid: false, Reason: "ticket already checked in"})
			case errors.Is(err, redemption.ErrNotRedeemable):
				c.JSON(http.StatusConflict, VerifyTicketResponse{Valid: false, Reason: "ticket is not redeemable"})
			default:
				respondErr(c, err)
			}
			return
		}

		c.JSON(http.StatusOK, VerifyTicketResponse{Valid: true, Ticket: t})
	}
}

// @Summary  Look up a ticket by code without consuming it
// @Param    code  path  string  true  "Redemption code"
// @Success  200 {object} TicketStatusResponse
// @Failure  404 {object} ErrorResponse "unknown code"
// @Router   /tickets/{code} [get]
func handleTicketStatus(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svcs.Redemption.Preview(c.Request.Context(), c.Param("code"))
		if err != nil {
			if errors.Is(err, redemption.ErrTicketNotFound) {
				c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket code not found"})
				return
			}
			respondErr(c, err)
			return
		}

		c.JSON(http.StatusOK, TicketStatusResponse{
			Code:   t.Code,
			Status: string(t.Status),
			Used:   t.Used,
		})
	}
}

// @Summary  Get event summary
// @Param    id  path  int  true  "Event ID"
// @Success  200  {object}  domain.Event
// @Failure  404  {object}  ErrorResponse
// @Router   /events/{id} [get]
func handleGetEvent(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		e, err := svcs.Query.GetEvent(c.Request.Context(), eventID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, e, "public, max-age=60", true)
	}
}

// @Summary  Get tier availability counters
// @Param    id  path  int  true  "Tier ID"
// @Success  200  {object}  domain.TierAvailability
// @Failure  404  {object}  ErrorResponse
// @Router   /tiers/{id}/availability [get]
func handleTierAvailability(svcs *service.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		tierID, ok := parseInt64Param(c, "id")
		if !ok {
			return
		}
		a, err := svcs.Query.TierAvailability(c.Request.Context(), tierID)
		if err != nil {
			respondErr(c, err)
			return
		}
		writeJSONWithCache(c, http.StatusOK, a, "public, max-age=5", true)
	}
}

// --- Helpers ---

func parseInt64Param(c *gin.Context, name string) (int64, bool) {
	s := c.Param(name)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	v, err := uuid.Parse(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name)
		return uuid.Nil, false
	}
	return v, true
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func respondErr(c *gin.Context, err error) {
	if err == nil {
		c.Status(http.StatusNoContent)
		return
	}

	switch {
	// orders service
	case errors.Is(err, orders.ErrValidation):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case errors.Is(err, orders.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, orders.ErrTierNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket tier not found"})
		return
	case errors.Is(err, orders.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
		return
	case errors.Is(err, orders.ErrInsufficientInventory):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "insufficient ticket inventory"})
		return
	case errors.Is(err, orders.ErrSessionExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "a payment session may already exist, retry"})
		return
	case errors.Is(err, orders.ErrOrderNotPending):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "order is no longer pending"})
		return
	case errors.Is(err, orders.ErrCheckoutTimeout):
		c.JSON(http.StatusRequestTimeout, ErrorResponse{Error: "checkout timed out, safe to retry"})
		return
	case errors.Is(err, orders.ErrGatewayRejected),
		errors.Is(err, orders.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway failure, safe to retry"})
		return
	case errors.Is(err, orders.ErrRateLimited):
		c.Header("Retry-After", "60")
		c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limited"})
		return
	// reconcile service
	case errors.Is(err, reconcile.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
		return
	case errors.Is(err, reconcile.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: "payment gateway unavailable"})
		return
	// query service
	case errors.Is(err, query.ErrEventNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "event not found"})
		return
	case errors.Is(err, query.ErrTierNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "ticket tier not found"})
		return
	case errors.Is(err, query.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "order not found"})
		return
	}

	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
