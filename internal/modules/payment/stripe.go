// README: Stripe-backed gateway (payment intents and refunds).
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"cvneat/internal/types"
)

type Stripe struct {
	api *client.API
}

// NewStripe builds the adapter. A nil backends value uses the public Stripe API.
func NewStripe(secretKey string, backends *stripe.Backends) *Stripe {
	return &Stripe{api: client.New(secretKey, backends)}
}

func (s *Stripe) Retrieve(ctx context.Context, reference string) (Charge, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(reference, params)
	if err != nil {
		return Charge{}, wrapStripe("retrieve "+reference, err)
	}
	amount := pi.AmountReceived
	if amount == 0 && pi.Status == stripe.PaymentIntentStatusSucceeded {
		amount = pi.Amount
	}
	return Charge{
		Reference: pi.ID,
		Amount:    types.FromCents(amount),
		Currency:  string(pi.Currency),
		Status:    Canonical(string(pi.Status)),
	}, nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.Reference),
		Amount:        stripe.Int64(types.ToCents(req.Amount)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	r, err := s.api.Refunds.New(params)
	if err != nil {
		return Refund{}, wrapStripe("refund "+req.Reference, err)
	}
	return Refund{ID: r.ID, Amount: types.FromCents(r.Amount), Status: string(r.Status)}, nil
}

func wrapStripe(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("stripe %s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("stripe %s: %w", op, err)
}
