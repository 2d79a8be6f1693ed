package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/repository"
	apperrors "github.com/clevora/clevora-api/pkg/errors"
	"github.com/clevora/clevora-api/pkg/logger"
)

// ShipmentStore is the persistence surface the shipment service needs.
// Implemented by repository.ShipmentRepository.
type ShipmentStore interface {
	Create(ctx context.Context, shipment *models.Shipment, event *models.OutboxMessage) error
	GetByOrderID(ctx context.Context, orderID string) (*models.Shipment, error)
	Transition(ctx context.Context, orderID string, upd repository.TransitionUpdate, event *models.OutboxMessage) (bool, error)
	AutoComplete(ctx context.Context, cutoff time.Time) ([]string, error)
}

// orderGetter is the slice of the order store needed for ownership checks
type orderGetter interface {
	GetByID(ctx context.Context, orderID string) (*models.Order, error)
}

// ShipmentService drives the forward-only shipment state machine. Every
// transition is conditional on the expected current status, so concurrent or
// replayed requests cannot skip states or move backwards.
type ShipmentService struct {
	shipments ShipmentStore
	orders    orderGetter
	logger    logger.Logger
}

// NewShipmentService creates a new ShipmentService
func NewShipmentService(shipments ShipmentStore, orders orderGetter, logger logger.Logger) *ShipmentService {
	return &ShipmentService{
		shipments: shipments,
		orders:    orders,
		logger:    logger,
	}
}

// CreateForOrder creates the pending shipment for a successfully settled
// order. At most one shipment exists per order; if one is already there,
// from a duplicate callback replay, it is returned unchanged.
func (s *ShipmentService) CreateForOrder(ctx context.Context, order *models.Order) (*models.Shipment, error) {
	shipment := models.NewShipmentForOrder(order)

	event, err := models.NewShipmentCreatedEvent(shipment)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build shipment event: %v", err))
	}

	err = s.shipments.Create(ctx, shipment, event)

	if err == nil {
		s.logger.Info("Shipment created", "orderID", order.OrderID, "shipmentID", shipment.ShipmentID)
		return shipment, nil
	}

	if errors.Is(err, repository.ErrDuplicate) {
		existing, getErr := s.shipments.GetByOrderID(ctx, order.OrderID)

		if getErr != nil {
			return nil, apperrors.NewInternalError(fmt.Sprintf("failed to load existing shipment: %v", getErr))
		}

		s.logger.Info("Shipment already exists, reusing", "orderID", order.OrderID, "shipmentID", existing.ShipmentID)
		return existing, nil
	}

	return nil, apperrors.NewInternalError(fmt.Sprintf("failed to create shipment: %v", err))
}

// GetByOrderID retrieves the shipment for an order
func (s *ShipmentService) GetByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	shipment, err := s.shipments.GetByOrderID(ctx, orderID)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("no shipment for order %s", orderID))
		}
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to load shipment: %v", err))
	}

	return shipment, nil
}

// MarkShipped moves a pending shipment to shipped
func (s *ShipmentService) MarkShipped(ctx context.Context, orderID string) (*models.Shipment, error) {
	return s.transition(ctx, orderID, nil, repository.TransitionUpdate{
		From: models.ShipmentStatusPending,
		To:   models.ShipmentStatusShipped,
	})
}

// MarkArrived records arrival at the pickup store. delivered_at is stamped
// here, exactly once.
func (s *ShipmentService) MarkArrived(ctx context.Context, orderID string) (*models.Shipment, error) {
	return s.transition(ctx, orderID, nil, repository.TransitionUpdate{
		From:             models.ShipmentStatusShipped,
		To:               models.ShipmentStatusArrived,
		StampDeliveredAt: true,
	})
}

// MarkPickedUp records the customer collecting the parcel. picked_up_at is
// stamped here, exactly once.
func (s *ShipmentService) MarkPickedUp(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error) {
	return s.transition(ctx, orderID, customerID, repository.TransitionUpdate{
		From:            models.ShipmentStatusArrived,
		To:              models.ShipmentStatusPickedUp,
		StampPickedUpAt: true,
	})
}

// Complete closes out a picked-up shipment at the customer's confirmation
func (s *ShipmentService) Complete(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error) {
	return s.transition(ctx, orderID, customerID, repository.TransitionUpdate{
		From: models.ShipmentStatusPickedUp,
		To:   models.ShipmentStatusCompleted,
	})
}

// RequestReturn opens a return for a picked-up shipment
func (s *ShipmentService) RequestReturn(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error) {
	return s.transition(ctx, orderID, customerID, repository.TransitionUpdate{
		From: models.ShipmentStatusPickedUp,
		To:   models.ShipmentStatusReturnPending,
	})
}

// SetReturnLogistics binds the drop-off store to an open return and issues
// the return tracking number, moving the shipment to returning.
func (s *ShipmentService) SetReturnLogistics(ctx context.Context, orderID string, customerID *int64, returnStoreName string) (*models.Shipment, error) {
	if returnStoreName == "" {
		return nil, apperrors.NewInvalidInputError("return store name is required")
	}

	tracking := newReturnTrackingNumber(orderID)

	return s.transition(ctx, orderID, customerID, repository.TransitionUpdate{
		From:                 models.ShipmentStatusReturnPending,
		To:                   models.ShipmentStatusReturning,
		ReturnStoreName:      &returnStoreName,
		ReturnTrackingNumber: &tracking,
	})
}

// MarkReturned records the returned parcel arriving back at the warehouse
func (s *ShipmentService) MarkReturned(ctx context.Context, orderID string) (*models.Shipment, error) {
	return s.transition(ctx, orderID, nil, repository.TransitionUpdate{
		From: models.ShipmentStatusReturning,
		To:   models.ShipmentStatusReturned,
	})
}

// AutoComplete closes out shipped shipments delivered more than the given
// window ago and returns the affected order IDs.
func (s *ShipmentService) AutoComplete(ctx context.Context, window time.Duration) ([]string, error) {
	cutoff := models.GetCurrentTime().Add(-window)

	orderIDs, err := s.shipments.AutoComplete(ctx, cutoff)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to auto-complete shipments: %v", err))
	}

	if len(orderIDs) > 0 {
		s.logger.Info("Auto-completed shipments", "count", len(orderIDs))
	}

	return orderIDs, nil
}

// transition loads the shipment, enforces ownership and the state machine,
// then applies the conditional update. A concurrent transition that changes
// the status between the read and the update makes the update a no-op, which
// surfaces as an invalid transition rather than corrupting state.
func (s *ShipmentService) transition(ctx context.Context, orderID string, customerID *int64, upd repository.TransitionUpdate) (*models.Shipment, error) {
	if customerID != nil {
		order, err := s.orders.GetByID(ctx, orderID)

		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", orderID))
			}
			return nil, apperrors.NewInternalError(fmt.Sprintf("failed to load order: %v", err))
		}

		if err := checkOwnership(order, customerID); err != nil {
			return nil, err
		}
	}

	shipment, err := s.shipments.GetByOrderID(ctx, orderID)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("no shipment for order %s", orderID))
		}
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to load shipment: %v", err))
	}

	if shipment.Status != string(upd.From) {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("shipment for order %s is %s, not %s", orderID, shipment.Status, upd.From))
	}

	if !models.CanTransition(upd.From, upd.To) {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("shipment cannot move from %s to %s", upd.From, upd.To))
	}

	updated := *shipment
	updated.Status = string(upd.To)

	event, err := models.NewShipmentStatusChangedEvent(&updated, shipment.Status)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build transition event: %v", err))
	}

	applied, err := s.shipments.Transition(ctx, orderID, upd, event)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to transition shipment: %v", err))
	}

	if !applied {
		return nil, apperrors.NewInvalidTransitionError(
			fmt.Sprintf("shipment for order %s left %s concurrently", orderID, upd.From))
	}

	s.logger.Info("Shipment transitioned",
		"orderID", orderID,
		"from", upd.From,
		"to", upd.To)

	return s.shipments.GetByOrderID(ctx, orderID)
}

// newReturnTrackingNumber issues a 7-11 style return tracking number
func newReturnTrackingNumber(orderID string) string {
	return fmt.Sprintf("711-%s-%s-%04d",
		orderID,
		models.GetCurrentTime().Format("20060102150405"),
		rand.Intn(9000)+1000)
}
