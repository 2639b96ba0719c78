package models

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderCompleted = "ORDER_COMPLETED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      uuid.UUID       `json:"user_id"`
	TotalAmount int64           `json:"total_amount"`
	Items       []OrderItemData `json:"items"`
}

// OrderCompletedEvent published after the payment confirmation committed
type OrderCompletedEvent struct {
	BaseEvent
	OrderID     uuid.UUID `json:"order_id"`
	UserID      uuid.UUID `json:"user_id"`
	TotalAmount string    `json:"total_amount"`
	CompletedAt time.Time `json:"completed_at"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	TrackID   uuid.UUID `json:"track_id"`
	UnitPrice int64     `json:"unit_price"`
}

// NewBaseEvent stamps a fresh event envelope
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// NewOrderCreatedEvent builds the ORDER_CREATED event for o
func NewOrderCreatedEvent(o *Order) *OrderCreatedEvent {
	items := make([]OrderItemData, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemData{
			TrackID:   item.TrackID,
			UnitPrice: ToMinorUnits(item.Price),
		})
	}

	return &OrderCreatedEvent{
		BaseEvent:   NewBaseEvent(EventTypeOrderCreated),
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: ToMinorUnits(o.TotalAmount),
		Items:       items,
	}
}

// NewOrderCompletedEvent builds the ORDER_COMPLETED event for o
func NewOrderCompletedEvent(o *Order) *OrderCompletedEvent {
	return &OrderCompletedEvent{
		BaseEvent:   NewBaseEvent(EventTypeOrderCompleted),
		OrderID:     o.ID,
		UserID:      o.UserID,
		TotalAmount: FormatAmount(o.TotalAmount),
		CompletedAt: o.UpdatedAt,
	}
}
