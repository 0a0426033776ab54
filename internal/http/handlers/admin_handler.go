// README: Admin handlers: manual sweep, forced cancellation, refunds.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"cvneat/internal/modules/order"
)

type AdminHandler struct {
	order OrderService
}

func NewAdminHandler(svc OrderService) *AdminHandler {
	return &AdminHandler{order: svc}
}

type sweepFailure struct {
	OrderID string `json:"order_id"`
	Stage   string `json:"stage"`
	Error   string `json:"error"`
}

func (h *AdminHandler) Sweep(c *gin.Context) {
	res, err := h.order.SweepExpired(c.Request.Context())
	if err != nil {
		writeOrderError(c, err)
		return
	}
	failures := make([]sweepFailure, 0, len(res.Failures))
	for _, f := range res.Failures {
		failures = append(failures, sweepFailure{OrderID: string(f.OrderID), Stage: f.Stage, Error: f.Err.Error()})
	}
	writeJSON(c, http.StatusOK, gin.H{"cancelled": res.Cancelled, "failures": failures})
}

func (h *AdminHandler) Cancel(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor, ok := callerActor(c, h.order)
	if !ok {
		return
	}
	var req reasonReq
	if !bindOptional(c, &req) {
		return
	}
	o, err := h.order.Transition(c.Request.Context(), order.TransitionCommand{
		OrderID: id,
		Actor:   actor,
		To:      order.StatusCancelled,
		Reason:  req.Reason,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *AdminHandler) Refund(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor, ok := callerActor(c, h.order)
	if !ok {
		return
	}
	o, err := h.order.Refund(c.Request.Context(), actor, id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}
