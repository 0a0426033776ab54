// README: Order state flow and who may drive each edge.
package order

import "slices"

// AllowedTransitions is the order state flow. Statuses without an entry are terminal.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:   {StatusPreparing, StatusRejected, StatusCancelled},
	StatusPreparing:  {StatusReady, StatusRejected, StatusCancelled},
	StatusReady:      {StatusDelivering, StatusCancelled},
	StatusDelivering: {StatusDelivered, StatusCancelled},
}

type edge struct {
	from, to Status
}

var (
	restaurantOnly = []Role{RoleRestaurant}
	driverOnly     = []Role{RoleDriver}
	staffCancel    = []Role{RoleRestaurant, RoleAdmin, RoleSystem}
	opsCancel      = []Role{RoleAdmin, RoleSystem}
)

var transitionActors = map[edge][]Role{
	{StatusPending, StatusAccepted}:     restaurantOnly,
	{StatusPending, StatusRejected}:     restaurantOnly,
	{StatusPending, StatusCancelled}:    {RoleCustomer, RoleRestaurant, RoleAdmin, RoleSystem},
	{StatusAccepted, StatusPreparing}:   restaurantOnly,
	{StatusAccepted, StatusRejected}:    restaurantOnly,
	{StatusAccepted, StatusCancelled}:   staffCancel,
	{StatusPreparing, StatusReady}:      restaurantOnly,
	{StatusPreparing, StatusRejected}:   restaurantOnly,
	{StatusPreparing, StatusCancelled}:  staffCancel,
	{StatusReady, StatusDelivering}:     driverOnly,
	{StatusReady, StatusCancelled}:      opsCancel,
	{StatusDelivering, StatusDelivered}: driverOnly,
	{StatusDelivering, StatusCancelled}: opsCancel,
}

func CanTransition(from, to Status) bool {
	return slices.Contains(AllowedTransitions[from], to)
}

// ActorsFor lists the roles allowed to move an order from one status to another.
func ActorsFor(from, to Status) []Role {
	return transitionActors[edge{from, to}]
}

func IsTerminal(s Status) bool {
	_, ok := AllowedTransitions[s]
	return !ok
}

// needsAttachedDriver reports whether the edge may only be driven by the
// driver holding the order.
func needsAttachedDriver(from, to Status) bool {
	return (from == StatusReady && to == StatusDelivering) ||
		(from == StatusDelivering && to == StatusDelivered)
}

// Claimable statuses accept a driver attachment.
var claimableStatuses = []Status{StatusPending, StatusPreparing, StatusReady}

// A claim on one of these statuses also starts the delivery.
func claimStartsDelivery(s Status) bool {
	return s == StatusPreparing || s == StatusReady
}

func authorize(o *Order, a Actor, to Status) error {
	if !slices.Contains(ActorsFor(o.Status, to), a.Role) {
		return ErrForbidden
	}
	switch a.Role {
	case RoleRestaurant:
		if a.RestaurantID == "" || a.RestaurantID != o.RestaurantID {
			return ErrForbidden
		}
	case RoleDriver:
		if !o.attachedTo(a.ID) {
			return ErrForbidden
		}
	case RoleCustomer:
		if a.ID == "" || a.ID != o.UserID {
			return ErrForbidden
		}
	}
	return nil
}

// canView decides read access. Drivers may look at unclaimed orders before
// claiming them.
func canView(o *Order, a Actor) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleRestaurant:
		return a.RestaurantID != "" && a.RestaurantID == o.RestaurantID
	case RoleDriver:
		return !o.HasDriver() || o.attachedTo(a.ID)
	case RoleCustomer:
		return a.ID != "" && a.ID == o.UserID
	}
	return false
}
