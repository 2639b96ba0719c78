package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OrderService builds priced orders from a cart of track ids
type OrderService struct {
	repo           OrderRepository
	catalog        CatalogReader
	eventPublisher EventPublisher
	logger         *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo OrderRepository, catalog CatalogReader, eventPublisher EventPublisher) *OrderService {
	return &OrderService{
		repo:           repo,
		catalog:        catalog,
		eventPublisher: eventPublisher,
		logger:         util.ComponentLogger("orders"),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	TrackIDs []uuid.UUID `json:"trackIds"`
}

// OrderResponse is the public shape of an order
type OrderResponse struct {
	ID          uuid.UUID           `json:"id"`
	Status      models.OrderStatus  `json:"status"`
	TotalAmount decimal.Decimal     `json:"totalAmount"`
	CreatedAt   time.Time           `json:"createdAt"`
	Items       []OrderItemResponse `json:"items"`
}

// OrderItemResponse is the public shape of an order item
type OrderItemResponse struct {
	TrackID    uuid.UUID       `json:"trackId"`
	TrackTitle string          `json:"trackTitle"`
	Price      decimal.Decimal `json:"price"`
}

// NewOrderResponse converts an order to its public shape
func NewOrderResponse(o *models.Order) *OrderResponse {
	items := make([]OrderItemResponse, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemResponse{
			TrackID:    item.TrackID,
			TrackTitle: item.TrackTitle,
			Price:      item.Price,
		})
	}

	return &OrderResponse{
		ID:          o.ID,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		CreatedAt:   o.CreatedAt,
		Items:       items,
	}
}

// CreateOrder resolves every track, snapshots its price and persists a
// PENDING order with all of its items in one transaction. Any unresolvable
// track aborts the whole order.
func (s *OrderService) CreateOrder(ctx context.Context, userID uuid.UUID, trackIDs []uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	if userID == uuid.Nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, newError(ErrInvalidRequest, "missing buyer")
	}
	if len(trackIDs) == 0 {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, newError(ErrInvalidRequest, "an order must contain at least one track")
	}

	tracks, err := s.resolveTracks(ctx, trackIDs)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:     uuid.New(),
		UserID: userID,
		Status: models.OrderStatusPending,
		Items:  make([]models.OrderItem, 0, len(tracks)),
	}

	total := decimal.Zero
	for _, track := range tracks {
		price := track.Price
		total = total.Add(price)

		order.Items = append(order.Items, models.OrderItem{
			ID:         uuid.New(),
			OrderID:    order.ID,
			TrackID:    track.ID,
			TrackTitle: track.Title,
			Price:      price,
		})
	}
	order.TotalAmount = total

	if err := s.repo.CreateOrderWithItems(ctx, order); err != nil {
		util.OrdersFailedTotal.WithLabelValues("db_error").Inc()
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("items", len(order.Items)),
		zap.String("total", models.FormatAmount(order.TotalAmount)))

	if err := s.eventPublisher.PublishOrderCreated(ctx, models.NewOrderCreatedEvent(order)); err != nil {
		s.logger.Error("Failed to publish OrderCreated event",
			zap.String("order_id", order.ID.String()),
			zap.Error(err))
	}

	return order, nil
}

// resolveTracks looks up every id in cart order and refuses prices that
// cannot be charged exactly
func (s *OrderService) resolveTracks(ctx context.Context, trackIDs []uuid.UUID) ([]*models.Track, error) {
	tracks := make([]*models.Track, 0, len(trackIDs))
	for _, id := range trackIDs {
		track, err := s.catalog.GetTrack(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			util.OrdersFailedTotal.WithLabelValues("track_not_found").Inc()
			return nil, newError(ErrNotFound, "track %s not found", id)
		}
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues("catalog_error").Inc()
			return nil, fmt.Errorf("failed to resolve track %s: %w", id, err)
		}
		if err := models.ValidatePrice(track.Price); err != nil {
			util.OrdersFailedTotal.WithLabelValues("invalid_price").Inc()
			s.logger.Error("Catalog price not chargeable",
				zap.String("track_id", id.String()),
				zap.String("price", track.Price.String()))
			return nil, fmt.Errorf("track %s: %w", id, err)
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// GetOrder retrieves an order owned by userID
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := loadOrder(ctx, s.repo, orderID)
	if err != nil {
		return nil, err
	}

	if !order.IsOwnedBy(userID) {
		s.logger.Warn("Order read by non-owner",
			zap.String("order_id", orderID.String()),
			zap.String("caller_id", userID.String()))
		return nil, newError(ErrForbidden, "order %s does not belong to caller", orderID)
	}

	return order, nil
}

// loadOrder maps the store's not-found onto the service taxonomy
func loadOrder(ctx context.Context, repo OrderRepository, orderID uuid.UUID) (*models.Order, error) {
	order, err := repo.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(ErrNotFound, "order %s not found", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", orderID, err)
	}
	return order, nil
}
