package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// Order is an external payment order sized in minor currency units.
type Order struct {
	ID       string `json:"orderId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

// Gateway creates and cancels payment orders with an external provider.
// Calls sharing an idempotency key return the same order.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt, idempotencyKey string) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// Signer checks client-reported payments against the provider's shared secret.
type Signer struct {
	secret []byte
}

func NewSigner(secret string) *Signer { return &Signer{secret: []byte(secret)} }

// Sign returns the hex HMAC-SHA256 of "orderID|paymentID".
func (s *Signer) Sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares signature with the expected value in constant time.
func (s *Signer) Verify(orderID, paymentID, signature string) bool {
	return hmac.Equal([]byte(s.Sign(orderID, paymentID)), []byte(signature))
}
