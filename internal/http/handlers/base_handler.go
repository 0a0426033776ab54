// README: Base handler utilities (JSON helpers, error mapping, caller resolution).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"cvneat/internal/http/middleware"
	"cvneat/internal/modules/order"
	"cvneat/internal/types"
)

// OrderService is the part of order.Service the handlers use.
type OrderService interface {
	Create(ctx context.Context, cmd order.CreateCommand) (*order.CreateResult, error)
	Get(ctx context.Context, viewer order.Actor, id types.ID) (*order.View, error)
	ConfirmPayment(ctx context.Context, actor order.Actor, id types.ID, reference string) (*order.Order, error)
	Transition(ctx context.Context, cmd order.TransitionCommand) (*order.Order, error)
	Claim(ctx context.Context, cmd order.ClaimCommand) (*order.Order, error)
	ListAvailable(ctx context.Context, driverID types.ID) ([]*order.Order, error)
	ListForDriver(ctx context.Context, driverID types.ID) ([]*order.Order, error)
	ListForRestaurant(ctx context.Context, actor order.Actor, status order.Status) ([]*order.Order, error)
	RestaurantForOwner(ctx context.Context, ownerID types.ID) (*order.Restaurant, error)
	SweepExpired(ctx context.Context) (order.SweepResult, error)
	Refund(ctx context.Context, actor order.Actor, id types.ID) (*order.Order, error)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", order.ErrValidation, msg)
}

func writeOrderError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, order.ErrValidation):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound),
		errors.Is(err, order.ErrRestaurantNotFound),
		errors.Is(err, order.ErrItemNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrForbidden):
		writeError(c, http.StatusForbidden, order.ErrForbidden.Error())
	case errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrAlreadyClaimed),
		errors.Is(err, order.ErrNotClaimable),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrPaymentPending),
		errors.Is(err, order.ErrNotRefundable):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, order.ErrDependency):
		writeError(c, http.StatusServiceUnavailable, "service temporarily unavailable, please retry")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// roleFromClaim maps the token role claim to an order role. Tokens without a
// role belong to customers.
func roleFromClaim(claim string) (order.Role, bool) {
	switch claim {
	case "", string(order.RoleCustomer):
		return order.RoleCustomer, true
	case string(order.RoleRestaurant):
		return order.RoleRestaurant, true
	case string(order.RoleDriver), "driver":
		return order.RoleDriver, true
	case string(order.RoleAdmin):
		return order.RoleAdmin, true
	}
	return "", false
}

// callerActor builds the actor for the authenticated caller. Restaurant
// callers are bound to the restaurant they own.
func callerActor(c *gin.Context, svc OrderService) (order.Actor, bool) {
	uid := middleware.CallerUID(c)
	role, ok := roleFromClaim(middleware.CallerRole(c))
	if uid == "" || !ok {
		writeError(c, http.StatusForbidden, order.ErrForbidden.Error())
		return order.Actor{}, false
	}
	actor := order.Actor{Role: role, ID: types.ID(uid)}
	if role != order.RoleRestaurant {
		return actor, true
	}
	r, err := svc.RestaurantForOwner(c.Request.Context(), actor.ID)
	if errors.Is(err, order.ErrRestaurantNotFound) {
		writeError(c, http.StatusForbidden, "no restaurant is linked to this account")
		return order.Actor{}, false
	}
	if err != nil {
		writeOrderError(c, err)
		return order.Actor{}, false
	}
	actor.RestaurantID = r.ID
	return actor, true
}

func orderID(c *gin.Context) (types.ID, bool) {
	id := c.Param("id")
	if id == "" || len(id) > 64 {
		writeError(c, http.StatusBadRequest, "missing or malformed order id")
		return "", false
	}
	return types.ID(id), true
}

type reasonReq struct {
	Reason string `json:"reason"`
}

// bindOptional decodes a JSON body when one was sent.
func bindOptional(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}
