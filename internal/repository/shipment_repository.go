package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clevora/clevora-api/internal/database"
	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/pkg/logger"
)

const shipmentColumns = `
	shipment_id, order_id, recipient_name, delivery_type, store_id, store_name,
	cvs_type, address, status, return_store_name, return_tracking_number,
	created_at, delivered_at, picked_up_at
`

// TransitionUpdate describes a conditional shipment status change. The
// update only applies while the row is still in From, which makes replayed
// or racing transitions lose cleanly.
type TransitionUpdate struct {
	From models.ShipmentStatus
	To   models.ShipmentStatus

	// Timestamps stamped exactly once, by the transition that owns them.
	StampDeliveredAt bool
	StampPickedUpAt  bool

	// Return logistics fields, set by the returning transition only.
	ReturnStoreName      *string
	ReturnTrackingNumber *string
}

// ShipmentRepository handles database operations for shipments
type ShipmentRepository struct {
	db     *database.Database
	logger logger.Logger
}

// NewShipmentRepository creates a new ShipmentRepository
func NewShipmentRepository(db *database.Database, logger logger.Logger) *ShipmentRepository {
	return &ShipmentRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a shipment together with its outbox event. The unique
// constraint on order_id enforces at most one shipment per order; a
// duplicate insert returns ErrDuplicate and the caller treats the shipment
// as already created.
func (r *ShipmentRepository) Create(ctx context.Context, shipment *models.Shipment, event *models.OutboxMessage) error {
	tx, err := r.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO shipments (
			shipment_id, order_id, recipient_name, delivery_type, store_id,
			store_name, cvs_type, address, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		shipment.ShipmentID,
		shipment.OrderID,
		shipment.RecipientName,
		shipment.DeliveryType,
		shipment.StoreID,
		shipment.StoreName,
		shipment.CVSType,
		shipment.Address,
		shipment.Status,
		shipment.CreatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		r.logger.Error("Failed to create shipment", "error", err, "orderID", shipment.OrderID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err = insertOutboxInTx(ctx, tx, event); err != nil {
		r.logger.Error("Failed to create shipment outbox message", "error", err, "orderID", shipment.OrderID)
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return nil
}

// GetByOrderID retrieves the shipment for an order
func (r *ShipmentRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	query := `SELECT ` + shipmentColumns + ` FROM shipments WHERE order_id = $1`

	var shipment models.Shipment
	err := r.db.DB.GetContext(ctx, &shipment, query, orderID)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.logger.Error("Failed to get shipment by order ID", "error", err, "orderID", orderID)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return &shipment, nil
}

// Transition applies a conditional status change and writes its outbox
// event in the same transaction. Returns false when the row was not in the
// expected From status (or does not exist); the caller distinguishes the two.
func (r *ShipmentRepository) Transition(ctx context.Context, orderID string, upd TransitionUpdate, event *models.OutboxMessage) (bool, error) {
	tx, err := r.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	query := `
		UPDATE shipments
		SET status = $1,
			delivered_at = CASE WHEN $2::boolean THEN NOW() ELSE delivered_at END,
			picked_up_at = CASE WHEN $3::boolean THEN NOW() ELSE picked_up_at END,
			return_store_name = COALESCE($4, return_store_name),
			return_tracking_number = COALESCE($5, return_tracking_number)
		WHERE order_id = $6 AND status = $7
	`

	result, err := tx.ExecContext(
		ctx,
		query,
		string(upd.To),
		upd.StampDeliveredAt,
		upd.StampPickedUpAt,
		upd.ReturnStoreName,
		upd.ReturnTrackingNumber,
		orderID,
		string(upd.From),
	)

	if err != nil {
		r.logger.Error("Failed to transition shipment", "error", err, "orderID", orderID, "to", upd.To)
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
		r.logger.Error("Failed to create transition outbox message", "error", err, "orderID", orderID)
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return true, nil
}

// AutoComplete closes out shipped shipments whose delivery is older than the
// cutoff and returns the affected order IDs. One outbox event per completed
// shipment commits with the update.
func (r *ShipmentRepository) AutoComplete(ctx context.Context, cutoff time.Time) ([]string, error) {
	tx, err := r.db.DB.BeginTxx(ctx, nil)

	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}
	defer tx.Rollback()

	query := `
		UPDATE shipments
		SET status = $1
		WHERE status = $2
		  AND delivered_at IS NOT NULL
		  AND delivered_at < $3
		RETURNING shipment_id, order_id
	`

	rows, err := tx.QueryContext(
		ctx,
		query,
		string(models.ShipmentStatusCompleted),
		string(models.ShipmentStatusShipped),
		cutoff,
	)

	if err != nil {
		r.logger.Error("Failed to auto-complete shipments", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	type completed struct {
		shipmentID string
		orderID    string
	}

	var done []completed

	for rows.Next() {
		var c completed
		if err = rows.Scan(&c.shipmentID, &c.orderID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}
		done = append(done, c)
	}

	rows.Close()

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	orderIDs := make([]string, 0, len(done))

	for _, c := range done {
		event, evtErr := models.NewShipmentStatusChangedEvent(&models.Shipment{
			ShipmentID: c.shipmentID,
			OrderID:    c.orderID,
			Status:     string(models.ShipmentStatusCompleted),
		}, string(models.ShipmentStatusShipped))

		if evtErr != nil {
			return nil, fmt.Errorf("failed to build auto-complete event: %w", evtErr)
		}

		if err = insertOutboxInTx(ctx, tx, event); err != nil {
			r.logger.Error("Failed to create auto-complete outbox message", "error", err, "orderID", c.orderID)
			return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
		}

		orderIDs = append(orderIDs, c.orderID)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabase, err)
	}

	return orderIDs, nil
}
