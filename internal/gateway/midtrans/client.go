package midtrans

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/karcis-id/karcis/internal/domain"
)

var (
	ErrUnavailable    = errors.New("payment gateway unavailable")
	ErrRejected       = errors.New("payment gateway rejected the request")
	ErrDuplicateOrder = errors.New("order id already has a session")
)

type Config struct {
	BaseURL   string
	ServerKey string
	Timeout   time.Duration
}

// Client is a thin translation layer over the provider's HTTP API. It
// carries no business logic; callers interpret its sentinel errors.
type Client struct {
	baseURL   string
	serverKey string
	authHdr   string
	hc        *http.Client
	logger    *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		serverKey: cfg.ServerKey,
		authHdr:   "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.ServerKey+":")),
		hc:        &http.Client{Timeout: cfg.Timeout},
		logger:    logger,
	}
}

// CreateSession opens a payment session and returns the token/redirect
// pair the buyer completes payment with.
//
// Returns:
//   - error: midtrans.ErrDuplicateOrder if the provider reports the order
//     reference as already taken (a session may already exist).
//   - error: midtrans.ErrRejected for any other provider rejection.
//   - error: midtrans.ErrUnavailable on transport failure or 5xx.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*domain.PaymentSession, error) {
	const op = "midtrans.Client.CreateSession"

	body := snapRequest{
		TransactionDetails: TransactionDetails{
			OrderID:     req.OrderRef,
			GrossAmount: req.GrossAmount,
		},
		ItemDetails:     truncateItemNames(req.Items),
		CustomerDetails: req.Customer,
	}

	var resp snapResponse
	status, err := c.do(ctx, http.MethodPost, c.baseURL+"/snap/v1/transactions", body, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	switch {
	case status >= 200 && status < 300:
		return &domain.PaymentSession{Token: resp.Token, RedirectURL: resp.RedirectURL}, nil
	case status >= 500:
		return nil, fmt.Errorf("%s: status %d:%w", op, status, ErrUnavailable)
	case isDuplicateOrder(status, resp.ErrorMessages):
		return nil, fmt.Errorf("%s:%w", op, ErrDuplicateOrder)
	default:
		c.logger.Warn("gateway rejected session request",
			"status", status, "errors", strings.Join(resp.ErrorMessages, "; "))
		return nil, fmt.Errorf("%s: status %d:%w", op, status, ErrRejected)
	}
}

// QueryStatus fetches the provider's authoritative transaction status for
// an order reference.
//
// Returns:
//   - error: midtrans.ErrRejected if the provider does not know the order.
//   - error: midtrans.ErrUnavailable on transport failure or 5xx.
func (c *Client) QueryStatus(ctx context.Context, orderRef string) (*TransactionStatus, error) {
	const op = "midtrans.Client.QueryStatus"

	var resp TransactionStatus
	status, err := c.do(ctx, http.MethodGet, fmt.Sprintf("%s/v2/%s/status", c.baseURL, orderRef), nil, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	switch {
	case status >= 200 && status < 300:
		return &resp, nil
	case status >= 500:
		return nil, fmt.Errorf("%s: status %d:%w", op, status, ErrUnavailable)
	default:
		return nil, fmt.Errorf("%s: status %d:%w", op, status, ErrRejected)
	}
}

func (c *Client) do(ctx context.Context, method, url string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(buf)
	}

	hr, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, err
	}

	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Accept", "application/json")
	hr.Header.Set("Authorization", c.authHdr)

	hresp, err := c.hc.Do(hr)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	defer hresp.Body.Close()

	respBody, err := io.ReadAll(hresp.Body)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return 0, fmt.Errorf("%w: malformed response body", ErrUnavailable)
		}
	}

	return hresp.StatusCode, nil
}

func isDuplicateOrder(status int, msgs []string) bool {
	if status == http.StatusNotAcceptable {
		return true
	}
	for _, m := range msgs {
		if strings.Contains(strings.ToLower(m), "order_id") &&
			strings.Contains(strings.ToLower(m), "taken") {
			return true
		}
	}
	return false
}
