package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"soilify/internal/auth"
	"soilify/internal/chat"
	"soilify/internal/realtime"
	"soilify/internal/service"
	"soilify/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the services behind the HTTP surface.
type Deps struct {
	Workflow *service.OrderWorkflow
	Catalog  *service.CatalogService
	Shipping *service.ShippingService
	Payments *service.PaymentService
	Chat     *chat.Service
	Hub      *realtime.Hub
	Verifier *auth.Verifier
	Checks   map[string]Pinger
}

// Handler contains HTTP handlers
type Handler struct {
	workflow *service.OrderWorkflow
	catalog  *service.CatalogService
	shipping *service.ShippingService
	payments *service.PaymentService
	chat     *chat.Service
	hub      *realtime.Hub
	verifier *auth.Verifier
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		workflow: deps.Workflow,
		catalog:  deps.Catalog,
		shipping: deps.Shipping,
		payments: deps.Payments,
		chat:     deps.Chat,
		hub:      deps.Hub,
		verifier: deps.Verifier,
		checks:   deps.Checks,
		logger:   util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.GET("/products/:id/stock", h.getStock)
		v1.GET("/shipping/quote", h.quoteShipping)
		v1.GET("/changes", h.streamChanges)
		v1.POST("/payments/callback", h.paymentCallback)
	}

	authed := v1.Group("", h.authMiddleware())
	{
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.GET("/orders/:id/actions", h.allowedActions)
		authed.POST("/orders/:id/actions/:action", h.advanceOrder)

		authed.POST("/payments/checkout", h.createCheckout)

		authed.POST("/chat/messages", h.chatMessage)
		authed.DELETE("/chat/session", h.resetChat)
	}

	admin := authed.Group("/admin", requireAdmin())
	{
		admin.POST("/products", h.createProduct)
		admin.PATCH("/products/:id", h.updateProduct)
		admin.DELETE("/products/:id", h.deleteProduct)

		admin.GET("/orders", h.listAllOrders)
		admin.POST("/orders/clear-history", h.clearHistory)
		admin.GET("/summary", h.summary)

		admin.GET("/shipping-rates", h.listShippingRates)
		admin.PUT("/shipping-rates/:region", h.upsertShippingRate)
		admin.DELETE("/shipping-rates/:region", h.deleteShippingRate)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every backing dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, dep := range h.checks {
		if err := dep.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError maps service errors onto HTTP status codes
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrAuthRequired), errors.Is(err, auth.ErrInvalidToken):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConflict), errors.Is(err, service.ErrInvalidTransition):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
