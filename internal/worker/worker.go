package worker

import (
	"context"
	"fmt"
	"strings"

	"checkout-service/internal/broker"
	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Confirmation is the message sent to a buyer once their payment committed
type Confirmation struct {
	UserID  string
	OrderID string
	Subject string
	Body    string
}

// Mailer delivers confirmations. The transport lives outside this service.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, c Confirmation) error
}

// LogMailer writes confirmations to the log instead of sending them
type LogMailer struct {
	logger *zap.Logger
}

// NewLogMailer creates a mailer that only logs
func NewLogMailer() *LogMailer {
	return &LogMailer{logger: util.ComponentLogger("mailer")}
}

func (m *LogMailer) SendOrderConfirmation(_ context.Context, c Confirmation) error {
	m.logger.Info("Order confirmation",
		zap.String("user_id", c.UserID),
		zap.String("order_id", c.OrderID),
		zap.String("subject", c.Subject))
	return nil
}

// ConfirmationSubject is "Order confirmation #" plus the short order reference
func ConfirmationSubject(event *models.OrderCompletedEvent) string {
	ref := strings.ToUpper(event.OrderID.String()[:8])
	return "Order confirmation #" + ref
}

// NewConfirmation renders the confirmation for a completed order
func NewConfirmation(event *models.OrderCompletedEvent) (Confirmation, error) {
	total, err := decimal.NewFromString(event.TotalAmount)
	if err != nil {
		return Confirmation{}, fmt.Errorf("order %s: bad total %q: %w", event.OrderID, event.TotalAmount, err)
	}

	body := fmt.Sprintf("Thank you for your purchase.\n\nOrder: %s\nTotal: %s\nCompleted: %s\n\nYour tracks are now in your library.",
		event.OrderID,
		models.FormatAmount(total),
		event.CompletedAt.UTC().Format("2006-01-02 15:04 MST"))

	return Confirmation{
		UserID:  event.UserID.String(),
		OrderID: event.OrderID.String(),
		Subject: ConfirmationSubject(event),
		Body:    body,
	}, nil
}

// ConfirmationWorker turns ORDER_COMPLETED events into buyer confirmations
type ConfirmationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	mailer       Mailer
	logger       *zap.Logger
}

// NewConfirmationWorker creates a new confirmation worker
func NewConfirmationWorker(consumer *broker.Consumer, mailer Mailer) *ConfirmationWorker {
	w := &ConfirmationWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		mailer:       mailer,
		logger:       util.ComponentLogger("worker"),
	}
	w.eventHandler.OnOrderCompleted(w.HandleOrderCompleted)
	return w
}

// HandleOrderCompleted sends one confirmation. A failed send is logged and
// counted, the message is still committed.
func (w *ConfirmationWorker) HandleOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error {
	c, err := NewConfirmation(event)
	if err != nil {
		util.ConfirmationDispatchFailed.Inc()
		w.logger.Error("Cannot render order confirmation", zap.Error(err))
		return nil
	}

	if err := w.mailer.SendOrderConfirmation(ctx, c); err != nil {
		util.ConfirmationDispatchFailed.Inc()
		w.logger.Error("Failed to send order confirmation",
			zap.String("order_id", c.OrderID),
			zap.Error(err))
	}
	return nil
}

// Start starts the worker
func (w *ConfirmationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting confirmation worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *ConfirmationWorker) Stop() error {
	w.logger.Info("Stopping confirmation worker")
	return w.consumer.Close()
}
