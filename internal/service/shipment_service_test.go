package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clevora/clevora-api/internal/models"
	apperrors "github.com/clevora/clevora-api/pkg/errors"
	"github.com/clevora/clevora-api/pkg/logger"
)

func newShipmentFixture(t *testing.T, customerID *int64) (*ShipmentService, *fakeShipmentStore, *models.Order) {
	t.Helper()

	orders := newFakeOrderStore()
	shipments := newFakeShipmentStore()

	order := &models.Order{
		OrderID:        "20250101120000123456",
		Amount:         2990,
		ItemNames:      "Jacket x 1",
		Status:         string(models.OrderStatusSuccess),
		CustomerID:     customerID,
		DeliveryType:   models.DeliveryTypeCVS,
		RecipientName:  "Lin Hsiao-ming",
		RecipientPhone: "0912345678",
		CreatedAt:      time.Now().UTC(),
	}
	orders.orders[order.OrderID] = order

	return NewShipmentService(shipments, orders, logger.NewNopLogger()), shipments, order
}

func TestCreateForOrderIdempotent(t *testing.T) {
	svc, store, order := newShipmentFixture(t, nil)

	first, err := svc.CreateForOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusPending), first.Status)
	assert.Equal(t, order.OrderID, first.OrderID)

	// A duplicate callback replay must not create a second shipment.
	second, err := svc.CreateForOrder(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, first.ShipmentID, second.ShipmentID)

	assert.Len(t, store.shipments, 1)
	assert.Len(t, store.events, 1)
}

func TestFulfillmentHappyPath(t *testing.T) {
	customerID := int64(42)
	svc, _, order := newShipmentFixture(t, &customerID)
	ctx := context.Background()

	_, err := svc.CreateForOrder(ctx, order)
	require.NoError(t, err)

	shipment, err := svc.MarkShipped(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusShipped), shipment.Status)
	assert.Nil(t, shipment.DeliveredAt)

	shipment, err = svc.MarkArrived(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusArrived), shipment.Status)
	assert.NotNil(t, shipment.DeliveredAt)

	shipment, err = svc.MarkPickedUp(ctx, order.OrderID, &customerID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusPickedUp), shipment.Status)
	assert.NotNil(t, shipment.PickedUpAt)

	shipment, err = svc.Complete(ctx, order.OrderID, &customerID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusCompleted), shipment.Status)
}

func TestSkipAheadRejected(t *testing.T) {
	svc, _, order := newShipmentFixture(t, nil)
	ctx := context.Background()

	_, err := svc.CreateForOrder(ctx, order)
	require.NoError(t, err)

	// Still pending: picking up requires arrived first.
	_, err = svc.MarkPickedUp(ctx, order.OrderID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	_, err = svc.Complete(ctx, order.OrderID, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestTerminalStateHasNoExits(t *testing.T) {
	customerID := int64(42)
	svc, store, order := newShipmentFixture(t, &customerID)
	ctx := context.Background()

	_, err := svc.CreateForOrder(ctx, order)
	require.NoError(t, err)
	store.shipments[order.OrderID].Status = string(models.ShipmentStatusCompleted)

	_, err = svc.RequestReturn(ctx, order.OrderID, &customerID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	_, err = svc.MarkShipped(ctx, order.OrderID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestReturnFlow(t *testing.T) {
	customerID := int64(42)
	svc, _, order := newShipmentFixture(t, &customerID)
	ctx := context.Background()

	_, err := svc.CreateForOrder(ctx, order)
	require.NoError(t, err)

	_, err = svc.MarkShipped(ctx, order.OrderID)
	require.NoError(t, err)
	_, err = svc.MarkArrived(ctx, order.OrderID)
	require.NoError(t, err)

	_, err = svc.MarkPickedUp(ctx, order.OrderID, &customerID)
	require.NoError(t, err)

	shipment, err := svc.RequestReturn(ctx, order.OrderID, &customerID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusReturnPending), shipment.Status)

	shipment, err = svc.SetReturnLogistics(ctx, order.OrderID, &customerID, "7-11 Xinyi Store")
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusReturning), shipment.Status)
	require.NotNil(t, shipment.ReturnStoreName)
	assert.Equal(t, "7-11 Xinyi Store", *shipment.ReturnStoreName)
	require.NotNil(t, shipment.ReturnTrackingNumber)
	assert.True(t, strings.HasPrefix(*shipment.ReturnTrackingNumber, "711-"+order.OrderID+"-"))

	shipment, err = svc.MarkReturned(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusReturned), shipment.Status)
}

func TestSetReturnLogisticsRequiresOpenReturn(t *testing.T) {
	customerID := int64(42)
	svc, _, order := newShipmentFixture(t, &customerID)
	ctx := context.Background()

	_, err := svc.CreateForOrder(ctx, order)
	require.NoError(t, err)

	_, err = svc.SetReturnLogistics(ctx, order.OrderID, &customerID, "7-11 Xinyi Store")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidTransition))

	_, err = svc.SetReturnLogistics(ctx, order.OrderID, &customerID, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
}

func TestCustomerTransitionsForbiddenForStrangers(t *testing.T) {
	owner := int64(42)
	svc, store, order := newShipmentFixture(t, &owner)
	ctx := context.Background()

	_, err := svc.CreateForOrder(ctx, order)
	require.NoError(t, err)
	store.shipments[order.OrderID].Status = string(models.ShipmentStatusArrived)

	stranger := int64(7)
	_, err = svc.MarkPickedUp(ctx, order.OrderID, &stranger)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	// The owner can.
	_, err = svc.MarkPickedUp(ctx, order.OrderID, &owner)
	require.NoError(t, err)
}

func TestCustomerTransitionsForbiddenOnGuestOrder(t *testing.T) {
	svc, store, order := newShipmentFixture(t, nil)
	ctx := context.Background()

	_, err := svc.CreateForOrder(ctx, order)
	require.NoError(t, err)
	store.shipments[order.OrderID].Status = string(models.ShipmentStatusArrived)

	// A guest order is bound to nobody; an identified customer cannot claim
	// its transitions.
	caller := int64(42)
	_, err = svc.MarkPickedUp(ctx, order.OrderID, &caller)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrForbidden))

	// Internal paths stay unchecked.
	_, err = svc.MarkPickedUp(ctx, order.OrderID, nil)
	require.NoError(t, err)
}

func TestAutoComplete(t *testing.T) {
	svc, store, order := newShipmentFixture(t, nil)
	ctx := context.Background()

	_, err := svc.CreateForOrder(ctx, order)
	require.NoError(t, err)

	oldDelivery := time.Now().UTC().Add(-8 * 24 * time.Hour)
	store.shipments[order.OrderID].Status = string(models.ShipmentStatusShipped)
	store.shipments[order.OrderID].DeliveredAt = &oldDelivery

	orderIDs, err := svc.AutoComplete(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, orderIDs, 1)
	assert.Equal(t, order.OrderID, orderIDs[0])

	shipment, err := svc.GetByOrderID(ctx, order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, string(models.ShipmentStatusCompleted), shipment.Status)

	// Nothing left to complete on a second pass.
	orderIDs, err = svc.AutoComplete(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, orderIDs)
}

func TestShipmentNotFound(t *testing.T) {
	svc, _, order := newShipmentFixture(t, nil)

	_, err := svc.GetByOrderID(context.Background(), order.OrderID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = svc.MarkShipped(context.Background(), order.OrderID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}
