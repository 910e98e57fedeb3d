package midtrans

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"

	"github.com/karcis-id/karcis/internal/domain"
)

// VerifySignature checks the notification's signature_key:
// SHA-512 over order_id + status_code + gross_amount + server key.
// Notifications that fail this check must be acknowledged and ignored.
func (c *Client) VerifySignature(n domain.GatewayNotification) bool {
	sum := sha512.Sum512([]byte(n.OrderID + n.StatusCode + n.GrossAmount + c.serverKey))
	want := hex.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(want), []byte(n.SignatureKey)) == 1
}
