package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/repository"
	apperrors "github.com/clevora/clevora-api/pkg/errors"
	"github.com/clevora/clevora-api/pkg/logger"
)

// OrderStore is the persistence surface the order service needs. Implemented
// by repository.OrderRepository.
type OrderStore interface {
	Create(ctx context.Context, order *models.Order, event *models.OutboxMessage) error
	GetByID(ctx context.Context, orderID string) (*models.Order, error)
	GetByCustomerID(ctx context.Context, customerID int64, limit, offset int) ([]*models.Order, error)
	SettlePending(ctx context.Context, orderID string, newStatus models.OrderStatus, paidAt *time.Time, failReason *string, event *models.OutboxMessage) (bool, error)
	OverrideStatus(ctx context.Context, orderID string, status models.OrderStatus, event *models.OutboxMessage) error
	GetPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error)
}

// CreateOrderInput carries a validated checkout request into the ledger
type CreateOrderInput struct {
	Items          []models.LineItem
	CustomerID     *int64
	DeliveryType   string
	StoreID        *string
	StoreName      *string
	CVSType        *string
	Address        *string
	RecipientName  string
	RecipientPhone string
}

// OrderService owns the order ledger: creation, settlement and the payment
// timeout policy.
type OrderService struct {
	orders OrderStore
	logger logger.Logger
}

// NewOrderService creates a new OrderService
func NewOrderService(orders OrderStore, logger logger.Logger) *OrderService {
	return &OrderService{
		orders: orders,
		logger: logger,
	}
}

// CreateOrder validates the checkout request and persists a pending order.
// The amount is computed server-side from the line items; client-supplied
// totals are never trusted.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if len(input.Items) == 0 {
		return nil, apperrors.NewInvalidInputError("order must contain at least one item")
	}

	var amount int64

	for _, item := range input.Items {
		if item.Name == "" {
			return nil, apperrors.NewInvalidInputError("item name is required")
		}
		if item.Quantity <= 0 {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid quantity for item %q", item.Name))
		}
		if item.UnitPrice <= 0 {
			return nil, apperrors.NewInvalidInputError(fmt.Sprintf("invalid price for item %q", item.Name))
		}
		amount += item.Total()
	}

	if input.RecipientName == "" || input.RecipientPhone == "" {
		return nil, apperrors.NewInvalidInputError("recipient name and phone are required")
	}

	switch input.DeliveryType {
	case models.DeliveryTypeCVS:
		if input.StoreID == nil || input.StoreName == nil {
			return nil, apperrors.NewInvalidInputError("store pickup requires store_id and store_name")
		}
	case models.DeliveryTypeHome:
		if input.Address == nil || *input.Address == "" {
			return nil, apperrors.NewInvalidInputError("home delivery requires an address")
		}
	default:
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown delivery type %q", input.DeliveryType))
	}

	order := &models.Order{
		Amount:         amount,
		ItemNames:      models.ItemNamesSummary(input.Items),
		Status:         string(models.OrderStatusPending),
		CustomerID:     input.CustomerID,
		DeliveryType:   input.DeliveryType,
		StoreID:        input.StoreID,
		StoreName:      input.StoreName,
		CVSType:        input.CVSType,
		Address:        input.Address,
		RecipientName:  input.RecipientName,
		RecipientPhone: input.RecipientPhone,
	}

	// The random suffix narrows same-second collisions but cannot rule them
	// out, so a duplicate key gets one regenerated retry.
	for attempt := 0; attempt < 2; attempt++ {
		order.OrderID = models.NewOrderID(models.GetCurrentTime())
		order.CreatedAt = models.GetCurrentTime()

		event, err := models.NewOrderCreatedEvent(order)

		if err != nil {
			return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build order event: %v", err))
		}

		err = s.orders.Create(ctx, order, event)

		if err == nil {
			s.logger.Info("Order created", "orderID", order.OrderID, "amount", order.Amount)
			return order, nil
		}

		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewInternalError(fmt.Sprintf("failed to persist order: %v", err))
		}

		s.logger.Warn("Order ID collision, regenerating", "orderID", order.OrderID)
	}

	return nil, apperrors.NewConflictError("could not allocate a unique order id")
}

// Settle applies a terminal payment outcome to a pending order. The
// underlying update is conditional on the pending status, which makes
// duplicate provider callbacks idempotent: the first settlement wins and a
// replay changes nothing. Returns the order and whether this call performed
// the transition.
//
// A replay that disagrees with the recorded outcome is logged as an
// inconsistent settlement signal but not surfaced; the committed state stays
// authoritative.
func (s *OrderService) Settle(ctx context.Context, orderID string, success bool, paidAt *time.Time, failReason *string) (*models.Order, bool, error) {
	newStatus := models.OrderStatusFail
	outcome := "fail"

	if success {
		newStatus = models.OrderStatusSuccess
		outcome = "success"
	}

	event, err := models.NewOrderSettledEvent(orderID, outcome, paidAt)

	if err != nil {
		return nil, false, apperrors.NewInternalError(fmt.Sprintf("failed to build settle event: %v", err))
	}

	applied, err := s.orders.SettlePending(ctx, orderID, newStatus, paidAt, failReason, event)

	if err != nil {
		return nil, false, apperrors.NewInternalError(fmt.Sprintf("failed to settle order: %v", err))
	}

	order, err := s.orders.GetByID(ctx, orderID)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", orderID))
		}
		return nil, false, apperrors.NewInternalError(fmt.Sprintf("failed to load order: %v", err))
	}

	if applied {
		s.logger.Info("Order settled", "orderID", orderID, "outcome", outcome)
		return order, true, nil
	}

	if order.Status != string(newStatus) {
		s.logger.Warn("Conflicting settlement signal ignored, first settlement wins",
			"orderID", orderID,
			"recordedStatus", order.Status,
			"replayedOutcome", outcome)
	}

	return order, false, nil
}

// Cancel withdraws a pending order before payment completes. A settled
// order can no longer be cancelled.
func (s *OrderService) Cancel(ctx context.Context, orderID string, customerID *int64) (*models.Order, error) {
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

	reason := "cancelled by customer"

	event, err := models.NewOrderSettledEvent(orderID, string(models.OrderStatusCancelled), nil)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build cancel event: %v", err))
	}

	applied, err := s.orders.SettlePending(ctx, orderID, models.OrderStatusCancelled, nil, &reason, event)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to cancel order: %v", err))
	}

	if !applied {
		return nil, apperrors.NewConflictError(fmt.Sprintf("order %s is no longer pending", orderID))
	}

	s.logger.Info("Order cancelled", "orderID", orderID)

	return s.orders.GetByID(ctx, orderID)
}

// GetOrder retrieves an order by ID
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.orders.GetByID(ctx, orderID)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", orderID))
		}
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to load order: %v", err))
	}

	return order, nil
}

// GetCustomerOrders retrieves a customer's orders with pagination
func (s *OrderService) GetCustomerOrders(ctx context.Context, customerID int64, limit, offset int) ([]*models.Order, error) {
	orders, err := s.orders.GetByCustomerID(ctx, customerID, limit, offset)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to load orders: %v", err))
	}

	return orders, nil
}

// OverrideStatus sets an order's status directly, bypassing the conditional
// settlement path. Reserved for admin tooling.
func (s *OrderService) OverrideStatus(ctx context.Context, orderID string, status string) (*models.Order, error) {
	switch models.OrderStatus(status) {
	case models.OrderStatusPending, models.OrderStatusSuccess, models.OrderStatusFail, models.OrderStatusCancelled:
	default:
		return nil, apperrors.NewInvalidInputError(fmt.Sprintf("unknown order status %q", status))
	}

	event, err := models.NewOrderSettledEvent(orderID, status, nil)

	if err != nil {
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to build override event: %v", err))
	}

	err = s.orders.OverrideStatus(ctx, orderID, models.OrderStatus(status), event)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFoundError(fmt.Sprintf("order %s not found", orderID))
		}
		return nil, apperrors.NewInternalError(fmt.Sprintf("failed to override order status: %v", err))
	}

	s.logger.Warn("Order status overridden", "orderID", orderID, "status", status)

	return s.orders.GetByID(ctx, orderID)
}

// FailTimedOut fails orders that stayed pending past the payment window.
// Settlement goes through the same conditional update as callbacks, so a
// late provider notify for a swept order is a no-op.
func (s *OrderService) FailTimedOut(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.orders.GetPendingOlderThan(ctx, cutoff, limit)

	if err != nil {
		return 0, fmt.Errorf("failed to list stale pending orders: %w", err)
	}

	reason := "payment window expired"
	failed := 0

	for _, order := range stale {
		event, err := models.NewOrderSettledEvent(order.OrderID, "fail", nil)

		if err != nil {
			return failed, fmt.Errorf("failed to build timeout event: %w", err)
		}

		applied, err := s.orders.SettlePending(ctx, order.OrderID, models.OrderStatusFail, nil, &reason, event)

		if err != nil {
			s.logger.Error("Failed to expire order", "error", err, "orderID", order.OrderID)
			continue
		}

		if applied {
			s.logger.Info("Order failed by payment timeout", "orderID", order.OrderID)
			failed++
		}
	}

	return failed, nil
}

// checkOwnership rejects customer operations on an order the caller does not
// own. A nil customerID means the call came through an internal path and is
// not ownership-checked; an identified customer can only act on orders bound
// to them, so guest orders reject every identified caller.
func checkOwnership(order *models.Order, customerID *int64) error {
	if customerID == nil {
		return nil
	}

	if order.CustomerID == nil || *order.CustomerID != *customerID {
		return apperrors.NewForbiddenError("order belongs to a different customer")
	}

	return nil
}
