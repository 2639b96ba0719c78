package service

import (
	"context"
	"time"

	"checkout-service/internal/models"

	"github.com/google/uuid"
)

// OrderRepository is the durable order store
type OrderRepository interface {
	CreateOrderWithItems(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CompleteOrder(ctx context.Context, id uuid.UUID) (*models.Order, bool, error)
	GetCompletedOrderTracks(ctx context.Context, userID uuid.UUID) ([]models.Track, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// CatalogReader resolves tracks from the catalog
type CatalogReader interface {
	GetTrack(ctx context.Context, id uuid.UUID) (*models.Track, error)
}

// EventPublisher emits order domain events
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderCompleted(ctx context.Context, event *models.OrderCompletedEvent) error
}

// LibraryCache caches the entitlement view per user. SetLibrary is a no-op
// when InvalidateLibrary ran after LibraryGeneration returned gen.
type LibraryCache interface {
	LibraryGeneration(ctx context.Context, userID uuid.UUID) (int64, error)
	GetLibrary(ctx context.Context, userID uuid.UUID) ([]models.Track, bool, error)
	SetLibrary(ctx context.Context, userID uuid.UUID, gen int64, tracks []models.Track, ttl time.Duration) (bool, error)
	InvalidateLibrary(ctx context.Context, userID uuid.UUID) error
}
