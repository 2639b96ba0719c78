package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"checkout-service/internal/models"

	"github.com/google/uuid"
)

const orderColumns = "id, user_id, total_amount, status, created_at, updated_at"

// CreateOrderWithItems inserts the order row and all of its item rows in one
// transaction. On any failure nothing is persisted.
func (s *Store) CreateOrderWithItems(ctx context.Context, order *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO orders (id, user_id, total_amount, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`,
		order.ID, order.UserID, order.TotalAmount, order.Status,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, track_id, price, position)
			VALUES ($1, $2, $3, $4, $5)`,
			item.ID, order.ID, item.TrackID, item.Price, i)
		if err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit order: %w", err)
	}
	return nil
}

// GetOrderByID loads an order together with its items
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", id, err)
	}

	items, err := s.GetOrderItemsByOrderID(ctx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order in cart order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	items := []models.OrderItem{}
	err := s.db.SelectContext(ctx, &items, `
		SELECT oi.id, oi.order_id, oi.track_id, t.title AS track_title, oi.price
		FROM order_items oi
		JOIN tracks t ON t.id = oi.track_id
		WHERE oi.order_id = $1
		ORDER BY oi.position`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get items of order %s: %w", orderID, err)
	}
	return items, nil
}

// CompleteOrder moves an order from PENDING to COMPLETED with a conditional
// update. The returned flag is true only for the caller whose update hit the
// row; a concurrent or repeated call gets the already completed order and
// false.
func (s *Store) CompleteOrder(ctx context.Context, id uuid.UUID) (*models.Order, bool, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		UPDATE orders SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
		RETURNING `+orderColumns,
		models.OrderStatusCompleted, id, models.OrderStatusPending)
	if err == nil {
		return &order, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to complete order %s: %w", id, err)
	}

	existing, err := s.GetOrderByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetCompletedOrderTracks returns the tracks of every COMPLETED order owned by
// userID, one row per order item. Duplicates are left to the caller.
func (s *Store) GetCompletedOrderTracks(ctx context.Context, userID uuid.UUID) ([]models.Track, error) {
	tracks := []models.Track{}
	err := s.db.SelectContext(ctx, &tracks, `
		SELECT t.id, t.title, t.price, t.created_at
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN tracks t ON t.id = oi.track_id
		WHERE o.user_id = $1 AND o.status = $2`,
		userID, models.OrderStatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("failed to get purchased tracks of user %s: %w", userID, err)
	}
	return tracks, nil
}
