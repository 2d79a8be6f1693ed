package service

import (
	"context"
	"time"

	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/repository"
)

// fakeOrderStore is an in-memory OrderStore with the same conditional-update
// semantics as the SQL implementation.
type fakeOrderStore struct {
	orders     map[string]*models.Order
	events     []*models.OutboxMessage
	createErrs []error
}

func newFakeOrderStore() *fakeOrderStore {
	return &fakeOrderStore{orders: make(map[string]*models.Order)}
}

func (f *fakeOrderStore) Create(ctx context.Context, order *models.Order, event *models.OutboxMessage) error {
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return err
		}
	}

	if _, exists := f.orders[order.OrderID]; exists {
		return repository.ErrDuplicate
	}

	clone := *order
	f.orders[order.OrderID] = &clone
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOrderStore) GetByID(ctx context.Context, orderID string) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *order
	return &clone, nil
}

func (f *fakeOrderStore) GetByCustomerID(ctx context.Context, customerID int64, limit, offset int) ([]*models.Order, error) {
	var out []*models.Order
	for _, order := range f.orders {
		if order.CustomerID != nil && *order.CustomerID == customerID {
			clone := *order
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) SettlePending(ctx context.Context, orderID string, newStatus models.OrderStatus, paidAt *time.Time, failReason *string, event *models.OutboxMessage) (bool, error) {
	order, ok := f.orders[orderID]
	if !ok || order.Status != string(models.OrderStatusPending) {
		return false, nil
	}

	order.Status = string(newStatus)
	order.PaidAt = paidAt
	order.FailReason = failReason
	f.events = append(f.events, event)
	return true, nil
}

func (f *fakeOrderStore) OverrideStatus(ctx context.Context, orderID string, status models.OrderStatus, event *models.OutboxMessage) error {
	order, ok := f.orders[orderID]
	if !ok {
		return repository.ErrNotFound
	}

	order.Status = string(status)
	f.events = append(f.events, event)
	return nil
}

func (f *fakeOrderStore) GetPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	var out []*models.Order
	for _, order := range f.orders {
		if order.Status == string(models.OrderStatusPending) && order.CreatedAt.Before(cutoff) {
			clone := *order
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeOrderStore) eventsOfType(eventType string) []*models.OutboxMessage {
	var out []*models.OutboxMessage
	for _, event := range f.events {
		if event != nil && event.EventType == eventType {
			out = append(out, event)
		}
	}
	return out
}

// fakeShipmentStore is an in-memory ShipmentStore keyed by order ID,
// mirroring the unique(order_id) constraint and conditional transitions.
type fakeShipmentStore struct {
	shipments map[string]*models.Shipment
	events    []*models.OutboxMessage
}

func newFakeShipmentStore() *fakeShipmentStore {
	return &fakeShipmentStore{shipments: make(map[string]*models.Shipment)}
}

func (f *fakeShipmentStore) Create(ctx context.Context, shipment *models.Shipment, event *models.OutboxMessage) error {
	if _, exists := f.shipments[shipment.OrderID]; exists {
		return repository.ErrDuplicate
	}

	clone := *shipment
	f.shipments[shipment.OrderID] = &clone
	f.events = append(f.events, event)
	return nil
}

func (f *fakeShipmentStore) GetByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	shipment, ok := f.shipments[orderID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *shipment
	return &clone, nil
}

func (f *fakeShipmentStore) Transition(ctx context.Context, orderID string, upd repository.TransitionUpdate, event *models.OutboxMessage) (bool, error) {
	shipment, ok := f.shipments[orderID]
	if !ok || shipment.Status != string(upd.From) {
		return false, nil
	}

	now := time.Now().UTC()
	shipment.Status = string(upd.To)

	if upd.StampDeliveredAt {
		shipment.DeliveredAt = &now
	}
	if upd.StampPickedUpAt {
		shipment.PickedUpAt = &now
	}
	if upd.ReturnStoreName != nil {
		shipment.ReturnStoreName = upd.ReturnStoreName
	}
	if upd.ReturnTrackingNumber != nil {
		shipment.ReturnTrackingNumber = upd.ReturnTrackingNumber
	}

	f.events = append(f.events, event)
	return true, nil
}

func (f *fakeShipmentStore) AutoComplete(ctx context.Context, cutoff time.Time) ([]string, error) {
	var orderIDs []string
	for orderID, shipment := range f.shipments {
		if shipment.Status == string(models.ShipmentStatusShipped) &&
			shipment.DeliveredAt != nil &&
			shipment.DeliveredAt.Before(cutoff) {
			shipment.Status = string(models.ShipmentStatusCompleted)
			orderIDs = append(orderIDs, orderID)
		}
	}
	return orderIDs, nil
}
