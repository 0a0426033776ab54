// README: Order aggregate, line items, audit events and actors.
package order

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"cvneat/internal/modules/payment"
	"cvneat/internal/types"
)

// Status values are part of the wire contract and are never translated.
type Status string

const (
	StatusNone       Status = ""
	StatusPending    Status = "en_attente"
	StatusAccepted   Status = "acceptee"
	StatusRejected   Status = "refusee"
	StatusPreparing  Status = "en_preparation"
	StatusReady      Status = "pret_a_livrer"
	StatusDelivering Status = "en_livraison"
	StatusDelivered  Status = "livree"
	StatusCancelled  Status = "annulee"
)

var allStatuses = []Status{
	StatusPending, StatusAccepted, StatusRejected, StatusPreparing,
	StatusReady, StatusDelivering, StatusDelivered, StatusCancelled,
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return StatusNone, false
}

// Role identifies who drives an operation. Values match the role claim of the
// auth token.
type Role string

const (
	RoleCustomer   Role = "customer"
	RoleRestaurant Role = "restaurant"
	RoleDriver     Role = "delivery"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

type Actor struct {
	Role Role
	ID   types.ID
	// RestaurantID is set for restaurant actors only.
	RestaurantID types.ID
}

var systemActor = Actor{Role: RoleSystem}

type ItemKind string

const (
	ItemKindItem    ItemKind = "item"
	ItemKindFormula ItemKind = "formula"
	ItemKindCombo   ItemKind = "combo"
)

type Order struct {
	ID            types.ID `json:"id"`
	Status        Status   `json:"status"`
	StatusVersion int      `json:"status_version"`

	RestaurantID types.ID  `json:"restaurant_id"`
	UserID       types.ID  `json:"user_id"`
	DriverID     *types.ID `json:"driver_id"`

	Subtotal         decimal.Decimal `json:"subtotal"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee"`
	PlatformFee      decimal.Decimal `json:"platform_fee"`
	DiscountAmount   decimal.Decimal `json:"discount_amount"`
	CommissionRate   decimal.Decimal `json:"commission_rate"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	RestaurantPayout decimal.Decimal `json:"restaurant_payout"`

	PaymentStatus    payment.Status      `json:"payment_status"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	RefundAmount     decimal.NullDecimal `json:"refund_amount"`
	RefundReference  string              `json:"refund_reference,omitempty"`
	RefundedAt       *time.Time          `json:"refunded_at,omitempty"`

	DeliveryAddress string `json:"delivery_address"`
	City            string `json:"city"`
	PostalCode      string `json:"postal_code"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	// SecurityCode is only handed to the customer at creation.
	SecurityCode string `json:"-"`

	RejectionReason    string `json:"rejection_reason,omitempty"`
	CancellationReason string `json:"cancellation_reason,omitempty"`
	PreparationMinutes *int   `json:"preparation_time,omitempty"`
	DeliveryMinutes    *int   `json:"delivery_time,omitempty"`

	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	DeliveryRequestedAt time.Time  `json:"delivery_requested_at"`
	ClaimedAt           *time.Time `json:"claimed_at,omitempty"`
}

// Total is what the customer was asked to pay.
func (o *Order) Total() decimal.Decimal {
	return types.Round2(types.NonNegative(o.Subtotal.Add(o.DeliveryFee).Add(o.PlatformFee).Sub(o.DiscountAmount)))
}

func (o *Order) HasDriver() bool {
	return o.DriverID != nil && *o.DriverID != ""
}

func (o *Order) attachedTo(driverID types.ID) bool {
	return o.HasDriver() && *o.DriverID == driverID
}

type LineItem struct {
	ID        int64           `json:"id"`
	OrderID   types.ID        `json:"order_id"`
	MenuRefID types.ID        `json:"menu_id"`
	Kind      ItemKind        `json:"kind"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Extras    Extras          `json:"extras"`
}

type Restaurant struct {
	ID             types.ID
	OwnerID        types.ID
	Name           string
	Address        string
	City           string
	PostalCode     string
	CommissionRate *decimal.Decimal
}

func (r *Restaurant) FullAddress() string {
	return joinAddress(r.Address, r.PostalCode, r.City)
}

type Address struct {
	Street       string `json:"street"`
	City         string `json:"city"`
	PostalCode   string `json:"postal_code"`
	Instructions string `json:"instructions"`
}

// Composed is the single-line form stored on the order.
func (a Address) Composed() string {
	s := joinAddress(a.Street, a.PostalCode, a.City)
	if a.Instructions != "" {
		s += " (" + strings.TrimSpace(a.Instructions) + ")"
	}
	return s
}

func (a Address) routable() string {
	return joinAddress(a.Street, a.PostalCode, a.City)
}

func joinAddress(street, postalCode, city string) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(street); s != "" {
		parts = append(parts, s)
	}
	if tail := strings.TrimSpace(strings.TrimSpace(postalCode) + " " + strings.TrimSpace(city)); tail != "" {
		parts = append(parts, tail)
	}
	return strings.Join(parts, ", ")
}

type EventKind string

const (
	EventCreated       EventKind = "order.created"
	EventStatusChanged EventKind = "order.status_changed"
	EventClaimed       EventKind = "order.claimed"
	EventPaid          EventKind = "order.paid"
	EventRefunded      EventKind = "order.refunded"
)

type Event struct {
	ID           int64
	Kind         EventKind
	OrderID      types.ID
	RestaurantID types.ID
	UserID       types.ID
	DriverID     *types.ID
	FromStatus   Status
	ToStatus     Status
	ActorType    Role
	ActorID      *types.ID
	Note         string
	CreatedAt    time.Time
}
