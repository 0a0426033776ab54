// README: Order event payloads shared by the Kafka, RabbitMQ and FCM publishers.
package notify

import (
	"time"

	"cvneat/internal/modules/order"
)

// Message is the wire form of an order event on the brokers.
type Message struct {
	Kind         order.EventKind `json:"kind"`
	OrderID      string          `json:"order_id"`
	RestaurantID string          `json:"restaurant_id"`
	UserID       string          `json:"user_id"`
	DriverID     string          `json:"driver_id,omitempty"`
	FromStatus   order.Status    `json:"from_status,omitempty"`
	ToStatus     order.Status    `json:"to_status,omitempty"`
	ActorType    order.Role      `json:"actor_type"`
	ActorID      string          `json:"actor_id,omitempty"`
	Note         string          `json:"note,omitempty"`
	At           time.Time       `json:"at"`
}

func NewMessage(e order.Event) Message {
	m := Message{
		Kind:         e.Kind,
		OrderID:      string(e.OrderID),
		RestaurantID: string(e.RestaurantID),
		UserID:       string(e.UserID),
		FromStatus:   e.FromStatus,
		ToStatus:     e.ToStatus,
		ActorType:    e.ActorType,
		Note:         e.Note,
		At:           e.CreatedAt.UTC(),
	}
	if e.DriverID != nil {
		m.DriverID = string(*e.DriverID)
	}
	if e.ActorID != nil {
		m.ActorID = string(*e.ActorID)
	}
	return m
}

// RoutingKey is "order.<status>" for status changes and the event kind otherwise.
func RoutingKey(e order.Event) string {
	if e.Kind == order.EventStatusChanged && e.ToStatus != order.StatusNone {
		return "order." + string(e.ToStatus)
	}
	return string(e.Kind)
}
