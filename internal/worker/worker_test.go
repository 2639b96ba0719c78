package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = util.InitLogger("test")
	os.Exit(m.Run())
}

type recordingMailer struct {
	sent []Confirmation
	err  error
}

func (m *recordingMailer) SendOrderConfirmation(_ context.Context, c Confirmation) error {
	m.sent = append(m.sent, c)
	return m.err
}

func completedEvent(t *testing.T) *models.OrderCompletedEvent {
	t.Helper()
	order := &models.Order{
		ID:          uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000000"),
		UserID:      uuid.New(),
		TotalAmount: decimal.RequireFromString("30.00"),
		Status:      models.OrderStatusCompleted,
		UpdatedAt:   time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC),
	}
	return models.NewOrderCompletedEvent(order)
}

func TestConfirmationSubjectUsesShortReference(t *testing.T) {
	assert.Equal(t, "Order confirmation #A1B2C3D4", ConfirmationSubject(completedEvent(t)))
}

func TestNewConfirmation(t *testing.T) {
	event := completedEvent(t)

	c, err := NewConfirmation(event)
	require.NoError(t, err)
	assert.Equal(t, event.OrderID.String(), c.OrderID)
	assert.Equal(t, event.UserID.String(), c.UserID)
	assert.True(t, strings.Contains(c.Body, "Total: 30.00"), c.Body)
}

func TestNewConfirmationRejectsBadTotal(t *testing.T) {
	event := completedEvent(t)
	event.TotalAmount = "thirty"

	_, err := NewConfirmation(event)
	assert.Error(t, err)
}

func TestHandleOrderCompletedSends(t *testing.T) {
	mailer := &recordingMailer{}
	w := NewConfirmationWorker(nil, mailer)

	require.NoError(t, w.HandleOrderCompleted(context.Background(), completedEvent(t)))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Order confirmation #A1B2C3D4", mailer.sent[0].Subject)
}

func TestHandleOrderCompletedSwallowsMailerFailure(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	w := NewConfirmationWorker(nil, mailer)

	assert.NoError(t, w.HandleOrderCompleted(context.Background(), completedEvent(t)))
	assert.Len(t, mailer.sent, 1)
}

func TestLogMailer(t *testing.T) {
	assert.NoError(t, NewLogMailer().SendOrderConfirmation(context.Background(), Confirmation{Subject: "x"}))
}
