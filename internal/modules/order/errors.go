package order

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("invalid order request")
	ErrNotFound           = errors.New("order not found")
	ErrRestaurantNotFound = errors.New("restaurant not found")
	ErrItemNotFound       = errors.New("menu item not found")
	ErrInvalidTransition  = errors.New("this order is no longer in a state that allows this action")
	ErrAlreadyClaimed     = errors.New("already taken by another driver")
	ErrNotClaimable       = errors.New("order is not available for delivery")
	ErrConflict           = errors.New("order was modified concurrently")
	ErrPaymentPending     = errors.New("order payment is not confirmed")
	ErrNotRefundable      = errors.New("order is not eligible for a refund")
	ErrForbidden          = errors.New("action not allowed for this user")
	ErrDependency         = errors.New("dependency unavailable")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// storeErr keeps business outcomes reported by the store as they are and
// wraps everything else as a dependency failure.
func storeErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrRestaurantNotFound),
		errors.Is(err, ErrItemNotFound),
		errors.Is(err, ErrConflict):
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrDependency, op, err)
}

func dependency(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrDependency, op, err)
}
