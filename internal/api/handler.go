package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"storefront-service/internal/auth"
	"storefront-service/internal/models"
	"storefront-service/internal/service"
	"storefront-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// CatalogService serves the product read API
type CatalogService interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, slug string) (*models.Product, error)
}

// CartService manages the caller's cart
type CartService interface {
	GetCart(ctx context.Context, userID int64) (*service.CartView, error)
	AddItem(ctx context.Context, userID int64, req *service.AddCartItemRequest) (*service.CartView, error)
	UpdateItem(ctx context.Context, userID, itemID int64, req *service.UpdateCartItemRequest) (*service.CartView, error)
	RemoveItem(ctx context.Context, userID, itemID int64) (*service.CartView, error)
	ClearCart(ctx context.Context, userID int64) error
}

// OrderService covers checkout, history and status changes
type OrderService interface {
	CreateOrder(ctx context.Context, userID int64, req *service.CreateOrderRequest, idempotencyKey string) (*models.Order, error)
	GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	ListOrders(ctx context.Context, userID int64) ([]models.Order, error)
	ListAllOrders(ctx context.Context, status models.OrderStatus, limit, offset int) ([]models.Order, error)
	CancelOrder(ctx context.Context, userID, orderID int64) (*models.Order, error)
	UpdateStatus(ctx context.Context, orderID int64, req *service.UpdateStatusRequest) (*models.Order, error)
}

// PaymentService issues hosted checkout links
type PaymentService interface {
	IssuePaymentLink(ctx context.Context, userID, orderID int64) (*service.PaymentLink, error)
}

// Pinger is a dependency checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	catalog  CatalogService
	carts    CartService
	orders   OrderService
	payments PaymentService
	verifier *auth.Verifier
	probes   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	catalog CatalogService,
	carts CartService,
	orders OrderService,
	payments PaymentService,
	verifier *auth.Verifier,
	probes map[string]Pinger,
) *Handler {
	return &Handler{
		catalog:  catalog,
		carts:    carts,
		orders:   orders,
		payments: payments,
		verifier: verifier,
		probes:   probes,
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
	v1.Use(auth.Middleware(h.verifier, h.writeError))
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:slug", h.getProduct)

		v1.GET("/cart", h.getCart)
		v1.POST("/cart/items", h.addCartItem)
		v1.PATCH("/cart/items/:itemId", h.updateCartItem)
		v1.DELETE("/cart/items/:itemId", h.removeCartItem)
		v1.DELETE("/cart", h.clearCart)

		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.POST("/orders/:id/payment-link", h.issuePaymentLink)

		admin := v1.Group("/admin", auth.RequireAdmin(h.writeError))
		admin.GET("/orders", h.adminListOrders)
		admin.PATCH("/orders/:id/status", h.adminUpdateStatus)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency the service cannot work without
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var err error
	checks := gin.H{}
	for name, p := range h.probes {
		if pingErr := p.Ping(ctx); pingErr != nil {
			checks[name] = pingErr.Error()
			err = multierr.Append(err, pingErr)
			continue
		}
		checks[name] = "ok"
	}

	if err != nil {
		h.logger.Warn("Readiness check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"checks": checks,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"checks": checks,
		"time":   time.Now().Unix(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			path,
			status,
		).Inc()
	}
}

// requestLogger logs one line per request
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id, ok := auth.FromContext(c); ok {
			fields = append(fields, zap.Int64("user_id", id.UserID))
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			logger.Error("HTTP request", fields...)
		case c.Writer.Status() >= http.StatusBadRequest:
			logger.Warn("HTTP request", fields...)
		default:
			logger.Info("HTTP request", fields...)
		}
	}
}
