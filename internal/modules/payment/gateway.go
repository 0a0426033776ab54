// README: Payment gateway contract and payment status vocabulary.
package payment

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Canonical maps stored values and gateway-native statuses onto the internal
// vocabulary. "succeeded" is the gateway's word for paid.
func Canonical(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "paid", "succeeded":
		return StatusPaid
	case "refunded":
		return StatusRefunded
	case "failed":
		return StatusFailed
	case "cancelled", "canceled":
		return StatusCancelled
	}
	return StatusPending
}

var ErrNotFound = errors.New("payment not found")

// Charge is the gateway's view of a payment.
type Charge struct {
	Reference string          `json:"reference"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Status    Status          `json:"status"`
}

type RefundRequest struct {
	Reference      string
	Amount         decimal.Decimal
	IdempotencyKey string
	Metadata       map[string]string
}

type Refund struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
	Status string          `json:"status"`
}

type Gateway interface {
	Retrieve(ctx context.Context, reference string) (Charge, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}
