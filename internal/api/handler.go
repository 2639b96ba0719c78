package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/service"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	// UserIDHeader carries the caller identity established by the upstream auth layer
	UserIDHeader = "X-User-ID"
	// SignatureHeader carries the payment provider's webhook signature
	SignatureHeader = "Stripe-Signature"

	userIDKey       = "userID"
	maxWebhookBytes = 65536
)

// OrderAPI is what the handler needs from the order builder
type OrderAPI interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, trackIDs []uuid.UUID) (*models.Order, error)
	GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
}

// CheckoutAPI opens checkout sessions
type CheckoutAPI interface {
	CreateCheckoutSession(ctx context.Context, userID, orderID uuid.UUID) (*service.CheckoutSessionResponse, error)
}

// WebhookAPI consumes payment provider notifications
type WebhookAPI interface {
	HandleNotification(ctx context.Context, payload []byte, signatureHeader string) (*service.Ack, error)
}

// LibraryAPI reads a user's entitlements
type LibraryAPI interface {
	PurchasedTracks(ctx context.Context, userID uuid.UUID) ([]models.Track, error)
}

// Pinger is a readiness dependency
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders   OrderAPI
	checkout CheckoutAPI
	webhook  WebhookAPI
	library  LibraryAPI
	checks   map[string]Pinger
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler. checks are pinged by /ready.
func NewHandler(orders OrderAPI, checkout CheckoutAPI, webhook WebhookAPI, library LibraryAPI, checks map[string]Pinger) *Handler {
	return &Handler{
		orders:   orders,
		checkout: checkout,
		webhook:  webhook,
		library:  library,
		checks:   checks,
		logger:   util.ComponentLogger("api"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")

	// the processor authenticates with its signature, not a user identity
	api.POST("/payment/webhook", h.paymentWebhook)

	authed := api.Group("", requireUser())
	{
		authed.POST("/orders", h.createOrder)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/payment/checkout/:orderId", h.createCheckoutSession)
		authed.GET("/library", h.getLibrary)
	}
}

// requireUser resolves the caller from the identity header
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.GetHeader(UserIDHeader))
		if err != nil || userID == uuid.Nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

func callerID(c *gin.Context) uuid.UUID {
	return c.MustGet(userIDKey).(uuid.UUID)
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.logger.Warn("Readiness check failed", zap.String("dependency", name), zap.Error(err))
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), callerID(c), req.TrackIDs)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, service.NewOrderResponse(order))
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := parseID(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), callerID(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, service.NewOrderResponse(order))
}

// createCheckoutSession opens a hosted checkout for a PENDING order
func (h *Handler) createCheckoutSession(c *gin.Context) {
	orderID, ok := parseID(c, "orderId")
	if !ok {
		return
	}

	resp, err := h.checkout.CreateCheckoutSession(c.Request.Context(), callerID(c), orderID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// paymentWebhook hands the raw body to the confirmation handler. Signature
// checks need the exact bytes, so the body is never bound.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable request body"})
		return
	}

	ack, err := h.webhook.HandleNotification(c.Request.Context(), payload, c.GetHeader(SignatureHeader))
	status := webhookStatus(err)
	if status != http.StatusOK {
		if status == http.StatusInternalServerError {
			h.logger.Error("Webhook processing failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": publicMessage(err)})
		return
	}

	body := gin.H{"status": "received"}
	if ack != nil {
		body["outcome"] = ack.Outcome
	}
	c.JSON(http.StatusOK, body)
}

// getLibrary lists the caller's purchased tracks
func (h *Handler) getLibrary(c *gin.Context) {
	tracks, err := h.library.PurchasedTracks(c.Request.Context(), callerID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if tracks == nil {
		tracks = []models.Track{}
	}

	c.JSON(http.StatusOK, tracks)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid " + param,
		})
		return uuid.Nil, false
	}
	return id, true
}

// StatusFor maps a service error onto an HTTP status
func StatusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, service.ErrInvalidSignature),
		errors.Is(err, service.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidState):
		return http.StatusConflict
	case errors.Is(err, service.ErrPaymentProvider):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// webhookStatus tells the processor whether redelivery can help. Business
// errors after verification are acknowledged since retrying changes nothing.
func webhookStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, service.ErrInvalidSignature), errors.Is(err, service.ErrMalformedEvent):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotFound):
		return http.StatusOK
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	var serr *service.Error
	if errors.As(err, &serr) {
		return serr.Message
	}
	return "Internal server error"
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
	}

	body := gin.H{"error": publicMessage(err)}
	var perr *payment.ProviderError
	if errors.As(err, &perr) {
		body["providerCode"] = perr.Code
		body["details"] = perr.Message
	}
	c.JSON(status, body)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
