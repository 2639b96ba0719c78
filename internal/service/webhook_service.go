package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/payment"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Webhook outcomes
const (
	OutcomeCompleted        = "completed"
	OutcomeAlreadyCompleted = "already_completed"
	OutcomeDuplicateEvent   = "duplicate_event"
	OutcomeIgnored          = "ignored"
)

const confirmationTimeout = 10 * time.Second

// Ack is returned for every notification the processor should not redeliver
type Ack struct {
	EventID string `json:"eventId,omitempty"`
	Outcome string `json:"outcome"`
}

// WebhookService applies the payment provider's confirmations to orders
type WebhookService struct {
	repo      OrderRepository
	provider  payment.Provider
	publisher EventPublisher
	cache     LibraryCache
	logger    *zap.Logger

	inflight sync.WaitGroup
}

// NewWebhookService creates a new webhook service. cache may be nil.
func NewWebhookService(repo OrderRepository, provider payment.Provider, publisher EventPublisher, cache LibraryCache) *WebhookService {
	return &WebhookService{
		repo:      repo,
		provider:  provider,
		publisher: publisher,
		cache:     cache,
		logger:    util.ComponentLogger("webhook"),
	}
}

// HandleNotification authenticates, decodes and applies one notification.
// Redelivery of an already applied confirmation is acknowledged without
// touching the order again.
func (s *WebhookService) HandleNotification(ctx context.Context, payload []byte, signatureHeader string) (*Ack, error) {
	ctx, span := util.StartSpan(ctx, "WebhookService.HandleNotification")
	defer span.End()

	event, err := s.provider.VerifyEvent(payload, signatureHeader)
	if err != nil {
		return nil, s.rejectUnverified(payload, signatureHeader, err)
	}

	if event.ID != "" {
		processed, err := s.repo.IsEventProcessed(ctx, event.ID)
		if err != nil {
			s.logger.Warn("Could not check event log, applying anyway",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
		if processed {
			util.WebhookEventsTotal.WithLabelValues(eventTypeLabel(event.Type), OutcomeDuplicateEvent).Inc()
			s.logger.Info("Event already processed", zap.String("event_id", event.ID))
			return &Ack{EventID: event.ID, Outcome: OutcomeDuplicateEvent}, nil
		}
	}

	var outcome string
	switch event.Type {
	case payment.EventCheckoutSessionCompleted:
		outcome, err = s.handleCheckoutCompleted(ctx, event)
		if err != nil {
			util.WebhookEventsTotal.WithLabelValues(eventTypeLabel(event.Type), "error").Inc()
			return nil, err
		}

	case payment.EventChargeRefunded:
		// Refunds have no order transition yet.
		s.logger.Info("Refund notification received, no state change", zap.String("event_id", event.ID))
		outcome = OutcomeIgnored

	default:
		s.logger.Info("Unhandled event type", zap.String("type", event.Type), zap.String("event_id", event.ID))
		outcome = OutcomeIgnored
	}

	util.WebhookEventsTotal.WithLabelValues(eventTypeLabel(event.Type), outcome).Inc()

	if event.ID != "" && outcome != OutcomeIgnored {
		if err := s.repo.MarkEventProcessed(ctx, event.ID, event.Type); err != nil {
			s.logger.Error("Failed to mark event processed", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	return &Ack{EventID: event.ID, Outcome: outcome}, nil
}

// eventTypeLabel bounds the metric's type label to the events handled here.
func eventTypeLabel(eventType string) string {
	switch eventType {
	case payment.EventCheckoutSessionCompleted, payment.EventChargeRefunded:
		return eventType
	default:
		return "other"
	}
}

// rejectUnverified logs without the secret or the header value
func (s *WebhookService) rejectUnverified(payload []byte, signatureHeader string, err error) error {
	fields := []zap.Field{
		zap.Int("payload_bytes", len(payload)),
		zap.Bool("signature_present", signatureHeader != ""),
		zap.Error(err),
	}

	if errors.Is(err, payment.ErrMalformedPayload) {
		util.WebhookEventsTotal.WithLabelValues("unknown", "malformed").Inc()
		s.logger.Error("Rejected malformed webhook payload", fields...)
		return wrapError(ErrMalformedEvent, err, "notification could not be decoded")
	}

	util.WebhookEventsTotal.WithLabelValues("unknown", "invalid_signature").Inc()
	s.logger.Error("Rejected webhook with invalid signature", fields...)
	return wrapError(ErrInvalidSignature, err, "notification signature verification failed")
}

func (s *WebhookService) handleCheckoutCompleted(ctx context.Context, event *payment.Event) (string, error) {
	session, err := event.CheckoutSession()
	if err != nil {
		s.logger.Error("Checkout session object unreadable", zap.String("event_id", event.ID), zap.Error(err))
		return "", wrapError(ErrMalformedEvent, err, "event %s carries no checkout session", event.ID)
	}

	orderID, err := CorrelatedOrderID(session)
	if err != nil {
		s.logger.Error("Checkout session without usable order reference",
			zap.String("event_id", event.ID),
			zap.String("session_id", session.ID),
			zap.Error(err))
		return "", err
	}

	order, transitioned, err := s.repo.CompleteOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Payment confirmed for unknown order",
			zap.String("event_id", event.ID),
			zap.String("order_id", orderID.String()))
		return "", newError(ErrNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to complete order %s: %w", orderID, err)
	}

	if !transitioned {
		s.logger.Info("Order already completed, nothing to do",
			zap.String("event_id", event.ID),
			zap.String("order_id", orderID.String()))
		return OutcomeAlreadyCompleted, nil
	}

	util.OrdersCompletedTotal.Inc()
	s.logger.Info("Order completed",
		zap.String("event_id", event.ID),
		zap.String("order_id", orderID.String()),
		zap.String("total", models.FormatAmount(order.TotalAmount)))

	s.invalidateLibrary(ctx, order.UserID)
	s.dispatchConfirmation(order)

	return OutcomeCompleted, nil
}

// CorrelatedOrderID recovers the order id from a checkout session: the client
// reference first, the metadata entry when the reference is absent.
func CorrelatedOrderID(session *payment.CheckoutSession) (uuid.UUID, error) {
	ref := session.ClientReferenceID
	source := "client_reference_id"
	if ref == "" {
		ref = session.Metadata[payment.MetadataOrderID]
		source = "metadata." + payment.MetadataOrderID
	}
	if ref == "" {
		return uuid.Nil, newError(ErrMalformedEvent, "checkout session %s has no order reference", session.ID)
	}

	id, err := uuid.Parse(ref)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, newError(ErrMalformedEvent, "%s %q is not an order id", source, ref)
	}
	return id, nil
}

func (s *WebhookService) invalidateLibrary(ctx context.Context, userID uuid.UUID) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateLibrary(ctx, userID); err != nil {
		s.logger.Warn("Failed to invalidate library cache",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}
}

// dispatchConfirmation runs after the transition committed, detached from the
// request. Its failures are logged only.
func (s *WebhookService) dispatchConfirmation(order *models.Order) {
	event := models.NewOrderCompletedEvent(order)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				util.ConfirmationDispatchFailed.Inc()
				s.logger.Error("Order confirmation dispatch panicked",
					zap.String("order_id", order.ID.String()),
					zap.Any("panic", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), confirmationTimeout)
		defer cancel()

		if err := s.publisher.PublishOrderCompleted(ctx, event); err != nil {
			util.ConfirmationDispatchFailed.Inc()
			s.logger.Error("Failed to dispatch order confirmation",
				zap.String("order_id", order.ID.String()),
				zap.Error(err))
		}
	}()
}

// Wait blocks until every detached confirmation has finished
func (s *WebhookService) Wait() {
	s.inflight.Wait()
}
