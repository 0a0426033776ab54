// README: Live order tracking mirrored into Firebase RTDB; the apps listen on order_tracking/{orderID}.
package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/db"

	"cvneat/internal/modules/order"
)

const trackingNode = "order_tracking"

type TrackingPublisher struct {
	client *db.Client
}

func NewTrackingPublisher(ctx context.Context, app *firebase.App) (*TrackingPublisher, error) {
	client, err := app.Database(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase RTDB client: %w", err)
	}
	return &TrackingPublisher{client: client}, nil
}

func (p *TrackingPublisher) Publish(ctx context.Context, e order.Event) error {
	ref := p.client.NewRef(trackingNode).Child(string(e.OrderID))
	if err := ref.Update(ctx, trackingFields(e)); err != nil {
		return fmt.Errorf("updating tracking for %s: %w", e.OrderID, err)
	}
	return nil
}

// trackingFields only carries what the event changed so concurrent updates
// to other fields are not overwritten.
func trackingFields(e order.Event) map[string]interface{} {
	out := map[string]interface{}{
		"event":     string(e.Kind),
		"timestamp": e.CreatedAt.UnixMilli(),
	}
	if e.ToStatus != order.StatusNone {
		out["status"] = string(e.ToStatus)
	}
	if e.DriverID != nil {
		out["driver_id"] = string(*e.DriverID)
	}
	return out
}
