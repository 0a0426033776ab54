// README: Push notifications to drivers, restaurants and customers through FCM topics.
package notify

import (
	"context"
	"errors"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"

	"cvneat/internal/modules/order"
)

// Topic names the mobile apps subscribe to.
const DriversTopic = "drivers"

func RestaurantTopic(id string) string { return "restaurant_" + id }
func CustomerTopic(id string) string   { return "customer_" + id }
func DriverTopic(id string) string     { return "driver_" + id }

var statusLabels = map[order.Status]string{
	order.StatusAccepted:   "Commande acceptée",
	order.StatusRejected:   "Commande refusée",
	order.StatusPreparing:  "Commande en préparation",
	order.StatusReady:      "Commande prête",
	order.StatusDelivering: "Commande en livraison",
	order.StatusDelivered:  "Commande livrée",
	order.StatusCancelled:  "Commande annulée",
}

type FCMPublisher struct {
	client *messaging.Client
}

func NewFCMPublisher(ctx context.Context, app *firebase.App) (*FCMPublisher, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return &FCMPublisher{client: client}, nil
}

func (p *FCMPublisher) Publish(ctx context.Context, e order.Event) error {
	var errs []error
	for _, msg := range PushMessages(e) {
		if _, err := p.client.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("sending FCM to topic %s: %w", msg.Topic, err))
		}
	}
	return errors.Join(errs...)
}

// PushMessages lists the pushes an event triggers. Events nobody needs to hear
// about yield nil.
func PushMessages(e order.Event) []*messaging.Message {
	m := NewMessage(e)
	data := map[string]string{
		"type":     string(e.Kind),
		"order_id": m.OrderID,
		"status":   string(m.ToStatus),
	}
	push := func(topic, title, body string) *messaging.Message {
		return &messaging.Message{
			Topic:        topic,
			Data:         data,
			Notification: &messaging.Notification{Title: title, Body: body},
			Android:      &messaging.AndroidConfig{Priority: "high"},
		}
	}

	switch e.Kind {
	case order.EventPaid:
		return []*messaging.Message{
			push(RestaurantTopic(m.RestaurantID), "Nouvelle commande", "Une nouvelle commande payée vous attend."),
			push(DriversTopic, "Nouvelle livraison disponible", "Une commande attend un livreur."),
		}
	case order.EventClaimed:
		return []*messaging.Message{
			push(RestaurantTopic(m.RestaurantID), "Livreur assigné", "Un livreur a pris en charge la commande."),
			push(CustomerTopic(m.UserID), "Livreur assigné", "Un livreur a pris en charge votre commande."),
		}
	case order.EventStatusChanged:
		label, ok := statusLabels[e.ToStatus]
		if !ok {
			return nil
		}
		out := []*messaging.Message{push(CustomerTopic(m.UserID), label, statusBody(e))}
		if e.ToStatus == order.StatusReady && m.DriverID != "" {
			out = append(out, push(DriverTopic(m.DriverID), label, "La commande est prête à être récupérée."))
		}
		if e.ToStatus == order.StatusCancelled && e.ActorType != order.RoleRestaurant {
			out = append(out, push(RestaurantTopic(m.RestaurantID), label, statusBody(e)))
		}
		return out
	case order.EventRefunded:
		return []*messaging.Message{
			push(CustomerTopic(m.UserID), "Remboursement effectué", "Votre commande a été remboursée."),
		}
	}
	return nil
}

func statusBody(e order.Event) string {
	if e.Note != "" {
		return e.Note
	}
	return statusLabels[e.ToStatus] + "."
}
