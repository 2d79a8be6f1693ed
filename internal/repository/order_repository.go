package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/clevora/clevora-api/internal/database"
	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/pkg/logger"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDatabase  = errors.New("database error")
	ErrDuplicate = errors.New("duplicate record")
)

// isUniqueViolation reports whether the error is a Postgres unique
// constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

const orderColumns = `
	order_id, amount, item_names, status, customer_id, delivery_type,
	store_id, store_name, cvs_type, address, recipient_name, recipient_phone,
	fail_reason, created_at, paid_at
`

// OrderRepository handles database operations for orders. State changes and
// their outbox events commit in the same transaction.
type OrderRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewOrderRepository creates a new OrderRepository
func NewOrderRepository(db *database.Database, logger logger.Logger) *OrderRepository {
	return &OrderRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new pending order together with its outbox event. A
// colliding order_id returns ErrDuplicate so the caller can regenerate.
func (r *OrderRepository) Create(ctx context.Context, order *models.Order, event *models.OutboxMessage) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			order_id, amount, item_names, status, customer_id, delivery_type,
			store_id, store_name, cvs_type, address, recipient_name, recipient_phone,
			created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		order.OrderID,
		order.Amount,
		order.ItemNames,
		order.Status,
		order.CustomerID,
		order.DeliveryType,
		order.StoreID,
		order.StoreName,
		order.CVSType,
		order.Address,
		order.RecipientName,
		order.RecipientPhone,
		order.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.logger.Error("Failed to create order", "error", err, "orderID", order.OrderID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err = insertOutboxInTx(ctx, tx, event); err != nil {
		r.logger.Error("Failed to create order outbox message", "error", err, "orderID", order.OrderID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetByID retrieves an order by its ID
func (r *OrderRepository) GetByID(ctx context.Context, orderID string) (*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE order_id = $1`

	var order models.Order
	err := r.db.DB.GetContext(ctx, &order, query, orderID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get order by ID", "error", err, "orderID", orderID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &order, nil
}

// GetByCustomerID retrieves a customer's orders, newest first
func (r *OrderRepository) GetByCustomerID(ctx context.Context, customerID int64, limit, offset int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	var orders []*models.Order
	err := r.db.DB.SelectContext(ctx, &orders, query, customerID, limit, offset)

	if err != nil {
		r.logger.Error("Failed to get orders by customer ID", "error", err, "customerID", customerID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return orders, nil
}

// SettlePending moves a pending order to a terminal payment status. The
// update is conditional on status = 'pending', so a replayed callback or a
// late settlement after the timeout sweep changes nothing and returns false.
// The outbox event is written only when the row actually transitioned.
func (r *OrderRepository) SettlePending(
	ctx context.Context,
	orderID string,
	newStatus models.OrderStatus,
	paidAt *time.Time,
	failReason *string,
	event *models.OutboxMessage,
) (bool, error) {
	tx, err := r.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	query := `
		UPDATE orders
		SET status = $1, paid_at = $2, fail_reason = $3
		WHERE order_id = $4 AND status = $5
	`

	result, err := tx.ExecContext(
		ctx,
		query,
		string(newStatus),
		paidAt,
		failReason,
		orderID,
		string(models.OrderStatusPending),
	)

	if err != nil {
		r.logger.Error("Failed to settle order", "error", err, "orderID", orderID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return false, nil
	}

	if err = insertOutboxInTx(ctx, tx, event); err != nil {
		r.logger.Error("Failed to create settle outbox message", "error", err, "orderID", orderID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return true, nil
}

// OverrideStatus unconditionally sets an order's status. Admin tooling
// only; the regular settlement path goes through SettlePending.
func (r *OrderRepository) OverrideStatus(ctx context.Context, orderID string, status models.OrderStatus, event *models.OutboxMessage) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(
		ctx,
		`UPDATE orders SET status = $1 WHERE order_id = $2`,
		string(status),
		orderID,
	)

	if err != nil {
		r.logger.Error("Failed to override order status", "error", err, "orderID", orderID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	rowsAffected, err := result.RowsAffected()

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err = insertOutboxInTx(ctx, tx, event); err != nil {
		r.logger.Error("Failed to create override outbox message", "error", err, "orderID", orderID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetPendingOlderThan lists pending orders created before the cutoff, for
// the payment timeout sweep.
func (r *OrderRepository) GetPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3
	`

	var orders []*models.Order
	err := r.db.DB.SelectContext(ctx, &orders, query, string(models.OrderStatusPending), cutoff, limit)

	if err != nil {
		r.logger.Error("Failed to get pending orders for sweep", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return orders, nil
}

// Count counts the total number of orders
func (r *OrderRepository) Count(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM orders`

	err := r.db.DB.GetContext(ctx, &count, query)

	if err != nil {
		r.logger.Error("Failed to count orders", "error", err)
		return 0, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return count, nil
}
