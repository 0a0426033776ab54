// README: Restaurant handlers: order queue and status updates.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvneat/internal/modules/order"
)

type RestaurantHandler struct {
	order OrderService
}

func NewRestaurantHandler(svc OrderService) *RestaurantHandler {
	return &RestaurantHandler{order: svc}
}

func (h *RestaurantHandler) restaurant(c *gin.Context) (order.Actor, bool) {
	actor, ok := callerActor(c, h.order)
	if !ok {
		return actor, false
	}
	if actor.Role != order.RoleRestaurant {
		writeError(c, http.StatusForbidden, "only restaurant accounts can do this")
		return order.Actor{}, false
	}
	return actor, true
}

func (h *RestaurantHandler) List(c *gin.Context) {
	actor, ok := h.restaurant(c)
	if !ok {
		return
	}
	status := order.StatusNone
	if raw := c.Query("status"); raw != "" {
		s, ok := order.ParseStatus(raw)
		if !ok {
			writeError(c, http.StatusBadRequest, "unknown status "+raw)
			return
		}
		status = s
	}
	orders, err := h.order.ListForRestaurant(c.Request.Context(), actor, status)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": nonNil(orders)})
}

type restaurantUpdateReq struct {
	Status          string `json:"status"`
	Reason          string `json:"reason"`
	PreparationTime *int   `json:"preparation_time"`
}

func (h *RestaurantHandler) Update(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor, ok := h.restaurant(c)
	if !ok {
		return
	}
	var req restaurantUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	to, ok := order.ParseStatus(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "unknown status "+req.Status)
		return
	}
	o, err := h.order.Transition(c.Request.Context(), order.TransitionCommand{
		OrderID:            id,
		Actor:              actor,
		To:                 to,
		Reason:             req.Reason,
		PreparationMinutes: req.PreparationTime,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}
