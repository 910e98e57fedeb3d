package midtrans

// itemNameLimit is the provider's maximum item_details name length.
const itemNameLimit = 50

type TransactionDetails struct {
	OrderID     string `json:"order_id"`
	GrossAmount int64  `json:"gross_amount"`
}

type ItemDetail struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"`
	Quantity int    `json:"quantity"`
}

type CustomerDetails struct {
	FirstName string `json:"first_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
}

type snapRequest struct {
	TransactionDetails TransactionDetails `json:"transaction_details"`
	ItemDetails        []ItemDetail       `json:"item_details,omitempty"`
	CustomerDetails    CustomerDetails    `json:"customer_details"`
}

type snapResponse struct {
	Token         string   `json:"token"`
	RedirectURL   string   `json:"redirect_url"`
	ErrorMessages []string `json:"error_messages"`
}

// TransactionStatus is the provider's authoritative view of a payment,
// returned by the status endpoint and mirrored by webhook notifications.
type TransactionStatus struct {
	StatusCode        string `json:"status_code"`
	StatusMessage     string `json:"status_message"`
	TransactionID     string `json:"transaction_id"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	TransactionTime   string `json:"transaction_time"`
	TransactionStatus string `json:"transaction_status"`
	FraudStatus       string `json:"fraud_status"`
	SignatureKey      string `json:"signature_key"`
}

// SessionRequest carries everything the core hands the provider to open
// a payment session.
type SessionRequest struct {
	OrderRef    string
	GrossAmount int64
	Items       []ItemDetail
	Customer    CustomerDetails
}

func truncateItemNames(items []ItemDetail) []ItemDetail {
	out := make([]ItemDetail, len(items))
	for i, it := range items {
		if len(it.Name) > itemNameLimit {
			it.Name = it.Name[:itemNameLimit]
		}
		out[i] = it
	}
	return out
}
