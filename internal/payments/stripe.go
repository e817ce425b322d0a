package payments

import (
	"context"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeGateway backs payment orders with Stripe PaymentIntents. The intent
// id is the order id handed to the client.
type StripeGateway struct{}

// NewStripeGateway initializes the stripe client with the given API key.
func NewStripeGateway(apiKey string) *StripeGateway {
	stripe.Key = apiKey
	return &StripeGateway{}
}

func (s *StripeGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt, idempotencyKey string) (Order, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(strings.ToLower(currency)),
	}
	params.Context = ctx
	params.AddMetadata("receipt", receipt)
	params.SetIdempotencyKey(idempotencyKey)
	pi, err := paymentintent.New(params)
	if err != nil {
		return Order{}, err
	}
	return Order{ID: pi.ID, Amount: pi.Amount, Currency: strings.ToUpper(string(pi.Currency)), Receipt: receipt}, nil
}

// CancelOrder releases an unpaid PaymentIntent.
func (s *StripeGateway) CancelOrder(ctx context.Context, orderID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(orderID, params)
	return err
}
