package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutConfig describes how hosted checkout sessions are opened
type CheckoutConfig struct {
	Currency   string
	SuccessURL string
	CancelURL  string
}

// CheckoutService turns PENDING orders into hosted checkout sessions
type CheckoutService struct {
	repo     OrderRepository
	provider payment.Provider
	cfg      CheckoutConfig
	logger   *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(repo OrderRepository, provider payment.Provider, cfg CheckoutConfig) *CheckoutService {
	return &CheckoutService{
		repo:     repo,
		provider: provider,
		cfg:      cfg,
		logger:   util.ComponentLogger("checkout"),
	}
}

// CheckoutSessionResponse carries the redirect to the provider's page
type CheckoutSessionResponse struct {
	URL string `json:"url"`
}

// CreateCheckoutSession re-reads the order, checks that the caller owns it and
// that it can still be paid, and opens a provider session charging exactly
// the order total. A failure here leaves the order untouched.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, userID, orderID uuid.UUID) (*CheckoutSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateCheckoutSession")
	defer span.End()

	order, err := loadOrder(ctx, s.repo, orderID)
	if err != nil {
		util.CheckoutSessionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if !order.IsOwnedBy(userID) {
		util.CheckoutSessionsTotal.WithLabelValues("rejected").Inc()
		s.logger.Warn("Checkout attempted on foreign order",
			zap.String("order_id", orderID.String()),
			zap.String("caller_id", userID.String()))
		return nil, newError(ErrForbidden, "order %s does not belong to caller", orderID)
	}

	if !order.Status.Payable() {
		util.CheckoutSessionsTotal.WithLabelValues("rejected").Inc()
		return nil, newError(ErrInvalidState, "order %s can no longer be paid, current status: %s", orderID, order.Status)
	}

	req, err := s.buildSessionRequest(order)
	if err != nil {
		util.CheckoutSessionsTotal.WithLabelValues("rejected").Inc()
		s.logger.Error("Order total does not match its items",
			zap.String("order_id", orderID.String()),
			zap.Error(err))
		return nil, err
	}

	start := time.Now()
	session, err := s.provider.CreateSession(ctx, req)
	util.CheckoutSessionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		util.CheckoutSessionsTotal.WithLabelValues("provider_error").Inc()

		fields := []zap.Field{zap.String("order_id", orderID.String()), zap.Error(err)}
		var perr *payment.ProviderError
		if errors.As(err, &perr) {
			fields = append(fields,
				zap.String("provider_code", perr.Code),
				zap.Int("provider_status", perr.HTTPStatus))
		}
		s.logger.Error("Checkout session creation failed", fields...)

		return nil, wrapError(ErrPaymentProvider, err, "could not open checkout session for order %s", orderID)
	}

	util.CheckoutSessionsTotal.WithLabelValues("created").Inc()
	s.logger.Info("Checkout session created",
		zap.String("order_id", orderID.String()),
		zap.String("session_id", session.ID))

	return &CheckoutSessionResponse{URL: session.URL}, nil
}

// buildSessionRequest prices one line item per order item and checks the
// charged minor units against the stored total.
func (s *CheckoutService) buildSessionRequest(order *models.Order) (payment.SessionRequest, error) {
	items := make([]payment.LineItem, 0, len(order.Items))
	var charged int64
	for _, item := range order.Items {
		amount := models.ToMinorUnits(item.Price)
		charged += amount

		items = append(items, payment.LineItem{
			Name:        item.TrackTitle,
			Description: "Instrumental - " + item.TrackTitle,
			UnitAmount:  amount,
			Quantity:    1,
		})
	}

	if expected := models.ToMinorUnits(order.TotalAmount); charged != expected || len(items) == 0 {
		return payment.SessionRequest{}, fmt.Errorf("order %s: line items charge %d minor units, total is %d", order.ID, charged, expected)
	}

	correlation := order.ID.String()
	return payment.SessionRequest{
		CorrelationID: correlation,
		Currency:      s.cfg.Currency,
		SuccessURL:    s.cfg.SuccessURL,
		CancelURL:     s.cfg.CancelURL,
		Items:         items,
		Metadata:      map[string]string{payment.MetadataOrderID: correlation},
	}, nil
}
