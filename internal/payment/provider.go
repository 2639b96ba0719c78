// Package payment describes the narrow capability the checkout core needs from
// an external payment processor, plus the Stripe implementation of it.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Event types the core reacts to
const (
	EventCheckoutSessionCompleted = "checkout.session.completed"
	EventChargeRefunded           = "charge.refunded"
)

// MetadataOrderID is the metadata key carrying the order id on a session
const MetadataOrderID = "order_id"

var (
	// ErrInvalidSignature means the notification could not be authenticated
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrMalformedPayload means an authenticated notification could not be decoded
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// LineItem is one charged entry of a hosted checkout session
type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64 // minor units
	Quantity    int64
}

// SessionRequest asks the provider for a hosted checkout session
type SessionRequest struct {
	CorrelationID string
	Currency      string
	SuccessURL    string
	CancelURL     string
	Items         []LineItem
	Metadata      map[string]string
}

// Session is the provider's answer to a SessionRequest
type Session struct {
	ID  string
	URL string
}

// Event is an authenticated provider notification
type Event struct {
	ID     string
	Type   string
	Object json.RawMessage
}

// CheckoutSession is the object of a checkout.session.completed event
type CheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
	PaymentStatus     string            `json:"payment_status"`
}

// CheckoutSession decodes the event object as a checkout session
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	if len(e.Object) == 0 {
		return nil, fmt.Errorf("%w: event %s has no object", ErrMalformedPayload, e.ID)
	}

	var s CheckoutSession
	if err := json.Unmarshal(e.Object, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return &s, nil
}

// Provider is everything the reconciliation core needs from a processor
type Provider interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	VerifyEvent(payload []byte, signatureHeader string) (*Event, error)
}

// ProviderError carries the processor's own diagnosis of a failed call
type ProviderError struct {
	Code       string
	Message    string
	HTTPStatus int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment provider error %s (http %d): %s", e.Code, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("payment provider error: %s", e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
