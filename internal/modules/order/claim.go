// README: Driver claim race and the available-orders query.
package order

import (
	"context"

	"go.uber.org/zap"

	"cvneat/internal/types"
)

type ClaimCommand struct {
	OrderID         types.ID
	DriverID        types.ID
	DeliveryMinutes *int
}

// ListAvailable returns paid, unclaimed orders still waiting, oldest first.
func (s *Service) ListAvailable(ctx context.Context, driverID types.ID) ([]*Order, error) {
	orders, err := s.store.ListAvailable(ctx, s.cfg.ListLimit)
	if err != nil {
		return nil, storeErr("list available orders", err)
	}
	s.log.Debug("available orders listed", zap.String("driver_id", string(driverID)), zap.Int("count", len(orders)))
	return orders, nil
}

// Claim attaches the driver to the order. Exactly one of several concurrent
// claims wins; the store's conditional update decides. A claim on an order
// still en_attente only attaches the driver, a claim on one being prepared or
// ready also starts the delivery.
func (s *Service) Claim(ctx context.Context, cmd ClaimCommand) (*Order, error) {
	if cmd.DriverID == "" {
		return nil, ErrForbidden
	}
	if cmd.DeliveryMinutes != nil && *cmd.DeliveryMinutes <= 0 {
		return nil, validationf("delivery_time must be positive")
	}
	// Read only to know which status the claim started from, for the audit trail.
	before, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, storeErr("load order", err)
	}

	o, ok, err := s.store.Claim(ctx, cmd.OrderID, cmd.DriverID, cmd.DeliveryMinutes)
	if err != nil {
		return nil, storeErr("claim order", err)
	}
	if !ok {
		return s.claimMiss(ctx, cmd)
	}

	actor := Actor{Role: RoleDriver, ID: cmd.DriverID}
	from := before.Status
	if o.Status == StatusDelivering && !claimStartsDelivery(from) {
		from = StatusReady
	}
	s.record(ctx, eventFor(EventClaimed, o, from, o.Status, actor))
	return o, nil
}

// claimMiss works out why the conditional update matched nothing.
func (s *Service) claimMiss(ctx context.Context, cmd ClaimCommand) (*Order, error) {
	cur, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, storeErr("reload order", err)
	}
	if cur.HasDriver() {
		if *cur.DriverID == cmd.DriverID {
			return cur, nil
		}
		return nil, ErrAlreadyClaimed
	}
	return nil, ErrNotClaimable
}
