// README: Customer order handlers: create, view, confirm payment, cancel.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"cvneat/internal/modules/order"
	"cvneat/internal/types"
)

type OrderHandler struct {
	order OrderService
}

func NewOrderHandler(svc OrderService) *OrderHandler {
	return &OrderHandler{order: svc}
}

type createOrderReq struct {
	RestaurantID     string              `json:"restaurant_id"`
	Items            []order.CartItem    `json:"items"`
	DeliveryAddress  order.Address       `json:"delivery_address"`
	Customer         order.Customer      `json:"customer"`
	DeliveryFee      decimal.Decimal     `json:"delivery_fee"`
	PlatformFee      decimal.NullDecimal `json:"platform_fee"`
	Discount         decimal.Decimal     `json:"discount_amount"`
	Total            decimal.NullDecimal `json:"total"`
	PaymentReference string              `json:"payment_intent_id"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	actor, ok := callerActor(c, h.order)
	if !ok {
		return
	}
	if actor.Role != order.RoleCustomer {
		writeError(c, http.StatusForbidden, "only customers can place orders")
		return
	}
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeOrderError(c, validationError("invalid json: "+err.Error()))
		return
	}
	res, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		UserID:            actor.ID,
		RestaurantID:      types.ID(req.RestaurantID),
		Items:             req.Items,
		Address:           req.DeliveryAddress,
		Customer:          req.Customer,
		DeliveryFee:       req.DeliveryFee,
		Discount:          req.Discount,
		ClientPlatformFee: req.PlatformFee,
		ClientTotal:       req.Total,
		PaymentReference:  req.PaymentReference,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, res)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor, ok := callerActor(c, h.order)
	if !ok {
		return
	}
	v, err := h.order.Get(c.Request.Context(), actor, id)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, v)
}

type confirmPaymentReq struct {
	PaymentReference string `json:"payment_intent_id"`
}

func (h *OrderHandler) ConfirmPayment(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	actor, ok := callerActor(c, h.order)
	if !ok {
		return
	}
	var req confirmPaymentReq
	if !bindOptional(c, &req) {
		return
	}
	o, err := h.order.ConfirmPayment(c.Request.Context(), actor, id, req.PaymentReference)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, o)
}

func (h *OrderHandler) Cancel(c *gin.Context) {
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
