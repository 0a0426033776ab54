// README: Expiry sweep (cancel and refund orders no driver claimed) and admin refunds.
package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cvneat/internal/modules/payment"
	"cvneat/internal/modules/pricing"
	"cvneat/internal/types"
)

const ReasonNoDriver = "no driver available within timeout"

// SweepFailure is one order the sweep could not fully process.
type SweepFailure struct {
	OrderID types.ID
	Stage   string
	Err     error
}

func (f SweepFailure) Error() string {
	return fmt.Sprintf("order %s: %s: %v", f.OrderID, f.Stage, f.Err)
}

type SweepResult struct {
	Cancelled int
	Failures  []SweepFailure
}

// SweepExpired cancels paid orders that waited longer than ExpireAfter
// without a driver and refunds them. Each order is handled on its own and
// the cancel is conditional, so concurrent or repeated sweeps cancel an order
// at most once. A refund failure never undoes the cancellation; it is
// reported in Failures and the payment status is left as it was.
func (s *Service) SweepExpired(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	cutoff := s.now().Add(-s.cfg.ExpireAfter)
	expired, err := s.store.ListExpired(ctx, cutoff, s.cfg.SweepBatch)
	if err != nil {
		return res, storeErr("list expired orders", err)
	}

	for _, o := range expired {
		if ctx.Err() != nil {
			break
		}
		cancelled, failure := s.expire(ctx, o)
		if cancelled {
			res.Cancelled++
		}
		if failure != nil {
			res.Failures = append(res.Failures, *failure)
		}
	}
	return res, nil
}

func (s *Service) expire(ctx context.Context, o *Order) (bool, *SweepFailure) {
	owed, err := s.amountOwed(ctx, o)
	if err != nil {
		return false, &SweepFailure{OrderID: o.ID, Stage: "line_items", Err: err}
	}

	ok, err := s.store.UpdateStatus(ctx, StatusUpdate{
		OrderID:            o.ID,
		From:               StatusPending,
		To:                 StatusCancelled,
		RequireNoDriver:    true,
		CancellationReason: ReasonNoDriver,
	})
	if err != nil {
		return false, &SweepFailure{OrderID: o.ID, Stage: "cancel", Err: storeErr("cancel order", err)}
	}
	if !ok {
		// A driver claimed it or another sweep got there first.
		return false, nil
	}
	cancelled := *o
	cancelled.Status = StatusCancelled
	cancelled.CancellationReason = ReasonNoDriver
	e := eventFor(EventStatusChanged, &cancelled, StatusPending, StatusCancelled, systemActor)
	e.Note = ReasonNoDriver
	s.record(ctx, e)

	if o.PaymentStatus != payment.StatusPaid || o.PaymentReference == "" || !owed.IsPositive() {
		return true, nil
	}
	if _, err := s.refund(ctx, &cancelled, owed, "expired"); err != nil {
		s.log.Error("refund after expiry failed",
			zap.String("order_id", string(o.ID)),
			zap.String("amount", owed.String()),
			zap.Error(err),
		)
		return true, &SweepFailure{OrderID: o.ID, Stage: "refund", Err: err}
	}
	return true, nil
}

// amountOwed is the recomputed subtotal plus the delivery fee. The stored
// subtotal is only used when the order has no line items.
func (s *Service) amountOwed(ctx context.Context, o *Order) (decimal.Decimal, error) {
	items, err := s.store.LineItems(ctx, o.ID)
	if err != nil {
		return decimal.Zero, storeErr("load line items", err)
	}
	subtotal := o.Subtotal
	if len(items) > 0 {
		lines := make([]pricing.Line, len(items))
		for i, it := range items {
			lines[i] = pricing.Line{UnitPrice: it.UnitPrice, Quantity: it.Quantity}
		}
		subtotal = pricing.RecomputeTotals(lines, decimal.Zero, decimal.Zero, decimal.Zero).Subtotal
	} else {
		s.log.Warn("order has no line items, refunding stored subtotal", zap.String("order_id", string(o.ID)))
	}
	return types.Round2(subtotal.Add(o.DeliveryFee)), nil
}

func (s *Service) refund(ctx context.Context, o *Order, amount decimal.Decimal, reason string) (payment.Refund, error) {
	if s.gateway == nil {
		return payment.Refund{}, dependency("refund", errors.New("no payment gateway configured"))
	}
	gctx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()
	r, err := s.gateway.Refund(gctx, payment.RefundRequest{
		Reference:      o.PaymentReference,
		Amount:         amount,
		IdempotencyKey: "refund-" + string(o.ID),
		Metadata: map[string]string{
			"order_id": string(o.ID),
			"reason":   reason,
		},
	})
	if err != nil {
		return payment.Refund{}, dependency("refund", err)
	}

	refunded := amount
	if r.Amount.IsPositive() {
		refunded = r.Amount
	}
	ok, err := s.store.RecordRefund(ctx, o.ID, RefundRecord{Reference: r.ID, Amount: refunded, At: s.now()})
	if err != nil {
		return r, storeErr("record refund", err)
	}
	if !ok {
		s.log.Warn("refund issued but order was no longer marked paid",
			zap.String("order_id", string(o.ID)),
			zap.String("refund_id", r.ID),
		)
		return r, nil
	}
	e := eventFor(EventRefunded, o, o.Status, o.Status, systemActor)
	e.Note = r.ID
	s.record(ctx, e)
	return r, nil
}

// Refund reimburses a rejected or cancelled paid order on an admin's request.
func (s *Service) Refund(ctx context.Context, actor Actor, id types.ID) (*Order, error) {
	if actor.Role != RoleAdmin && actor.Role != RoleSystem {
		return nil, ErrForbidden
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("load order", err)
	}
	if o.Status != StatusRejected && o.Status != StatusCancelled {
		return nil, ErrNotRefundable
	}
	if o.PaymentStatus != payment.StatusPaid || o.PaymentReference == "" {
		return nil, ErrNotRefundable
	}
	owed, err := s.amountOwed(ctx, o)
	if err != nil {
		return nil, err
	}
	if !owed.IsPositive() {
		return nil, ErrNotRefundable
	}
	if _, err := s.refund(ctx, o, owed, "requested_by_customer"); err != nil {
		return nil, err
	}
	updated, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeErr("reload order", err)
	}
	return updated, nil
}

// RunExpirySweeper runs SweepExpired every SweepInterval until ctx is done.
func (s *Service) RunExpirySweeper(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := s.SweepExpired(ctx)
			if err != nil {
				s.log.Error("expiry sweep failed", zap.Error(err))
				continue
			}
			if res.Cancelled == 0 && len(res.Failures) == 0 {
				continue
			}
			fields := []zap.Field{zap.Int("cancelled", res.Cancelled), zap.Int("failures", len(res.Failures))}
			for _, f := range res.Failures {
				fields = append(fields, zap.NamedError(string(f.OrderID), f))
			}
			s.log.Info("expiry sweep finished", fields...)
		}
	}
}
