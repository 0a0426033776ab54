package order

import (
	"context"
	"strings"

	"cvneat/internal/modules/payment"
	"cvneat/internal/types"
)

type TransitionCommand struct {
	OrderID types.ID
	Actor   Actor
	To      Status
	// Reason is stored as rejection_reason or cancellation_reason depending on To.
	Reason             string
	PreparationMinutes *int
}

// Transition moves an order along the state flow on behalf of an actor. The
// write is conditional on the status read here, so a concurrent change makes
// it fail instead of overwriting.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Order, error) {
	if cmd.PreparationMinutes != nil && *cmd.PreparationMinutes <= 0 {
		return nil, validationf("preparation_time must be positive")
	}
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, storeErr("load order", err)
	}
	if !CanTransition(o.Status, cmd.To) {
		return nil, ErrInvalidTransition
	}
	if err := authorize(o, cmd.Actor, cmd.To); err != nil {
		return nil, err
	}
	if o.Status == StatusPending && o.PaymentStatus != payment.StatusPaid &&
		(cmd.Actor.Role == RoleRestaurant || cmd.Actor.Role == RoleDriver) {
		return nil, ErrPaymentPending
	}

	upd := StatusUpdate{OrderID: o.ID, From: o.Status, To: cmd.To}
	reason := strings.TrimSpace(cmd.Reason)
	switch cmd.To {
	case StatusRejected:
		upd.RejectionReason = reason
	case StatusCancelled:
		upd.CancellationReason = reason
	case StatusAccepted:
		upd.PreparationMinutes = cmd.PreparationMinutes
	}
	if needsAttachedDriver(o.Status, cmd.To) {
		upd.DriverID = &cmd.Actor.ID
	}

	ok, err := s.store.UpdateStatus(ctx, upd)
	if err != nil {
		return nil, storeErr("update status", err)
	}
	if !ok {
		cur, err := s.store.Get(ctx, o.ID)
		if err != nil {
			return nil, storeErr("reload order", err)
		}
		if cur.Status != o.Status {
			return nil, ErrInvalidTransition
		}
		return nil, ErrConflict
	}

	updated, err := s.store.Get(ctx, o.ID)
	if err != nil {
		return nil, storeErr("reload order", err)
	}
	e := eventFor(EventStatusChanged, updated, o.Status, cmd.To, cmd.Actor)
	e.Note = reason
	s.record(ctx, e)
	return updated, nil
}
