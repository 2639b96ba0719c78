package service

import (
	"context"
	"testing"

	"checkout-service/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrderFixture() (*OrderService, *fakeRepo, *fakePublisher) {
	repo := newFakeRepo()
	pub := &fakePublisher{}
	return NewOrderService(repo, &fakeCatalog{}, pub), repo, pub
}

func TestCreateOrderSumsCatalogPrices(t *testing.T) {
	svc, repo, pub := newOrderFixture()
	buyer := uuid.New()

	order, err := svc.CreateOrder(context.Background(), buyer, []uuid.UUID{trackA.ID, trackB.ID})
	require.NoError(t, err)

	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, buyer, order.UserID)
	assert.True(t, decimal.RequireFromString("30.00").Equal(order.TotalAmount))
	require.Len(t, order.Items, 2)
	assert.Equal(t, trackA.ID, order.Items[0].TrackID)
	assert.Equal(t, trackB.ID, order.Items[1].TrackID)
	assert.Equal(t, "Night Drive", order.Items[0].TrackTitle)
	assert.True(t, order.TotalAmount.Equal(order.ItemsTotal()))

	stored := repo.order(order.ID)
	assert.Len(t, stored.Items, 2)
	assert.False(t, stored.CreatedAt.IsZero())

	require.Len(t, pub.created, 1)
	assert.Equal(t, int64(3000), pub.created[0].TotalAmount)
}

func TestCreateOrderAllowsDuplicateTracks(t *testing.T) {
	svc, _, _ := newOrderFixture()

	order, err := svc.CreateOrder(context.Background(), uuid.New(), []uuid.UUID{trackA.ID, trackA.ID, trackC.ID})
	require.NoError(t, err)

	require.Len(t, order.Items, 3)
	assert.Equal(t, "0.35", order.Items[2].Price.StringFixed(2))
	assert.Equal(t, "20.35", order.TotalAmount.StringFixed(2))
}

func TestCreateOrderRejectsSubCentPrice(t *testing.T) {
	svc, repo, pub := newOrderFixture()

	_, err := svc.CreateOrder(context.Background(), uuid.New(), []uuid.UUID{trackA.ID, trackFractional.ID})
	require.ErrorIs(t, err, models.ErrUnchargeablePrice)
	assert.Contains(t, err.Error(), trackFractional.ID.String())

	assert.Zero(t, repo.createCalls)
	assert.Empty(t, pub.created)
}

func TestCreateOrderRejectsEmptyCart(t *testing.T) {
	svc, repo, _ := newOrderFixture()

	for _, ids := range [][]uuid.UUID{nil, {}} {
		_, err := svc.CreateOrder(context.Background(), uuid.New(), ids)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	assert.Zero(t, repo.createCalls)
}

func TestCreateOrderRejectsMissingBuyer(t *testing.T) {
	svc, repo, _ := newOrderFixture()

	_, err := svc.CreateOrder(context.Background(), uuid.Nil, []uuid.UUID{trackA.ID})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, repo.createCalls)
}

func TestCreateOrderUnknownTrackPersistsNothing(t *testing.T) {
	svc, repo, pub := newOrderFixture()
	missing := uuid.New()

	_, err := svc.CreateOrder(context.Background(), uuid.New(), []uuid.UUID{trackA.ID, missing, trackB.ID})
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), missing.String())

	assert.Zero(t, repo.createCalls)
	assert.Empty(t, repo.orders)
	assert.Empty(t, pub.created)
}

func TestCreateOrderCatalogFailure(t *testing.T) {
	repo := newFakeRepo()
	svc := NewOrderService(repo, &fakeCatalog{err: errBoom}, &fakePublisher{})

	_, err := svc.CreateOrder(context.Background(), uuid.New(), []uuid.UUID{trackA.ID})
	require.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Zero(t, repo.createCalls)
}

func TestCreateOrderStoreFailure(t *testing.T) {
	svc, repo, pub := newOrderFixture()
	repo.createErr = errBoom

	_, err := svc.CreateOrder(context.Background(), uuid.New(), []uuid.UUID{trackA.ID})
	require.ErrorIs(t, err, errBoom)
	assert.Empty(t, pub.created)
}

func TestCreateOrderSurvivesPublishFailure(t *testing.T) {
	svc, repo, pub := newOrderFixture()
	pub.createdErr = errBoom

	order, err := svc.CreateOrder(context.Background(), uuid.New(), []uuid.UUID{trackB.ID})
	require.NoError(t, err)
	assert.NotNil(t, repo.order(order.ID))
}

func TestGetOrderOwnership(t *testing.T) {
	svc, _, _ := newOrderFixture()
	buyer := uuid.New()

	order, err := svc.CreateOrder(context.Background(), buyer, []uuid.UUID{trackA.ID})
	require.NoError(t, err)

	got, err := svc.GetOrder(context.Background(), buyer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = svc.GetOrder(context.Background(), uuid.New(), order.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.GetOrder(context.Background(), buyer, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNewOrderResponse(t *testing.T) {
	svc, _, _ := newOrderFixture()

	order, err := svc.CreateOrder(context.Background(), uuid.New(), []uuid.UUID{trackA.ID})
	require.NoError(t, err)

	resp := NewOrderResponse(order)
	assert.Equal(t, order.ID, resp.ID)
	assert.Equal(t, models.OrderStatusPending, resp.Status)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, trackA.ID, resp.Items[0].TrackID)
	assert.Equal(t, "Night Drive", resp.Items[0].TrackTitle)
}
