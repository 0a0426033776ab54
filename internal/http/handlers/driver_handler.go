// README: Delivery handlers: available orders, own orders, claim, pickup and drop-off.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvneat/internal/modules/order"
)

type DriverHandler struct {
	order OrderService
}

func NewDriverHandler(svc OrderService) *DriverHandler {
	return &DriverHandler{order: svc}
}

func (h *DriverHandler) driver(c *gin.Context) (order.Actor, bool) {
	actor, ok := callerActor(c, h.order)
	if !ok {
		return actor, false
	}
	if actor.Role != order.RoleDriver {
		writeError(c, http.StatusForbidden, "only delivery accounts can do this")
		return order.Actor{}, false
	}
	return actor, true
}

func (h *DriverHandler) ListAvailable(c *gin.Context) {
	actor, ok := h.driver(c)
	if !ok {
		return
	}
	orders, err := h.order.ListAvailable(c.Request.Context(), actor.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": nonNil(orders)})
}

func (h *DriverHandler) ListMine(c *gin.Context) {
	actor, ok := h.driver(c)
	if !ok {
		return
	}
	orders, err := h.order.ListForDriver(c.Request.Context(), actor.ID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": nonNil(orders)})
}

type claimReq struct {
	DeliveryTime *int `json:"delivery_time"`
}

func (h *DriverHandler) Claim(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor, ok := h.driver(c)
	if !ok {
		return
	}
	var req claimReq
	if !bindOptional(c, &req) {
		return
	}
	o, err := h.order.Claim(c.Request.Context(), order.ClaimCommand{
		OrderID:         id,
		DriverID:        actor.ID,
		DeliveryMinutes: req.DeliveryTime,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

type driverStatusReq struct {
	Status string `json:"status"`
}

// UpdateStatus moves a held order to en_livraison or livree.
func (h *DriverHandler) UpdateStatus(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor, ok := h.driver(c)
	if !ok {
		return
	}
	var req driverStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	to, ok := order.ParseStatus(req.Status)
	if !ok || (to != order.StatusDelivering && to != order.StatusDelivered) {
		writeError(c, http.StatusBadRequest, "status must be en_livraison or livree")
		return
	}
	o, err := h.order.Transition(c.Request.Context(), order.TransitionCommand{OrderID: id, Actor: actor, To: to})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func nonNil(orders []*order.Order) []*order.Order {
	if orders == nil {
		return []*order.Order{}
	}
	return orders
}
