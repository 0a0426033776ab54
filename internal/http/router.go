// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cvneat/internal/http/handlers"
	"cvneat/internal/http/middleware"
	"cvneat/internal/infra"
)

func NewRouter(orders handlers.OrderService, verifier infra.TokenVerifier, log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	api := r.Group("/api", middleware.Auth(verifier))

	orderHandler := handlers.NewOrderHandler(orders)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/confirm-payment", orderHandler.ConfirmPayment)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)

	driverHandler := handlers.NewDriverHandler(orders)
	delivery := api.Group("/delivery/orders")
	delivery.GET("/available", driverHandler.ListAvailable)
	delivery.GET("", driverHandler.ListMine)
	delivery.POST("/:id/claim", driverHandler.Claim)
	delivery.POST("/:id/status", driverHandler.UpdateStatus)

	restaurantHandler := handlers.NewRestaurantHandler(orders)
	api.GET("/restaurants/orders", restaurantHandler.List)
	api.PUT("/restaurants/orders/:id", restaurantHandler.Update)

	adminHandler := handlers.NewAdminHandler(orders)
	admin := api.Group("/admin/orders", middleware.RequireRole("admin"))
	admin.POST("/sweep", adminHandler.Sweep)
	admin.POST("/:id/cancel", adminHandler.Cancel)
	admin.POST("/:id/refund", adminHandler.Refund)

	return r
}
