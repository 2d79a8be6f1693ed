package models

import (
	"encoding/json"
	"time"
)

// OutboxStatus represents the status of an outbox message
type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "pending"
	OutboxStatusProcessing OutboxStatus = "processing"
	OutboxStatusCompleted  OutboxStatus = "completed"
	OutboxStatusFailed     OutboxStatus = "failed"
)

// Event types emitted by the order/shipment core
const (
	EventOrderCreated           = "order_created"
	EventOrderSettled           = "order_settled"
	EventShipmentCreated        = "shipment_created"
	EventShipmentStatusChanged  = "shipment_status_changed"
)

// OutboxMessage represents an event written in the same transaction as the
// state change it describes, published asynchronously by the outbox processor.
type OutboxMessage struct {
	ID                 int64        `db:"id" json:"id"`
	AggregateType      string       `db:"aggregate_type" json:"aggregate_type"`
	AggregateID        string       `db:"aggregate_id" json:"aggregate_id"`
	EventType          string       `db:"event_type" json:"event_type"`
	Payload            []byte       `db:"payload" json:"payload"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	ProcessedAt        *time.Time   `db:"processed_at" json:"processed_at,omitempty"`
	ProcessingAttempts int          `db:"processing_attempts" json:"processing_attempts"`
	LastError          *string      `db:"last_error" json:"last_error,omitempty"`
	Status             OutboxStatus `db:"status" json:"status"`
}

// OutboxMessageEvent represents the event data in the outbox message
type OutboxMessageEvent struct {
	EventType   string      `json:"event_type"`
	EventID     string      `json:"event_id"`
	AggregateID string      `json:"aggregate_id"`
	OccurredAt  time.Time   `json:"occurred_at"`
	Data        interface{} `json:"data"`
}

func newOutboxMessage(aggregateType, aggregateID, eventType string, data interface{}) (*OutboxMessage, error) {
	event := OutboxMessageEvent{
		EventType:   eventType,
		EventID:     GenerateID("evt"),
		AggregateID: aggregateID,
		OccurredAt:  GetCurrentTime(),
		Data:        data,
	}

	payload, err := json.Marshal(event)

	if err != nil {
		return nil, err
	}

	return &OutboxMessage{
		AggregateType:      aggregateType,
		AggregateID:        aggregateID,
		EventType:          eventType,
		Payload:            payload,
		CreatedAt:          GetCurrentTime(),
		ProcessingAttempts: 0,
		Status:             OutboxStatusPending,
	}, nil
}

// NewOrderCreatedEvent creates the event emitted when a checkout persists a
// pending order.
func NewOrderCreatedEvent(order *Order) (*OutboxMessage, error) {
	return newOutboxMessage("order", order.OrderID, EventOrderCreated, order)
}

// NewOrderSettledEvent creates the event emitted when an order leaves the
// pending state for a terminal payment outcome.
func NewOrderSettledEvent(orderID, outcome string, paidAt *time.Time) (*OutboxMessage, error) {
	return newOutboxMessage("order", orderID, EventOrderSettled, map[string]interface{}{
		"order_id": orderID,
		"outcome":  outcome,
		"paid_at":  paidAt,
	})
}

// NewShipmentCreatedEvent creates the event emitted when settlement spawns a
// shipment.
func NewShipmentCreatedEvent(shipment *Shipment) (*OutboxMessage, error) {
	return newOutboxMessage("shipment", shipment.OrderID, EventShipmentCreated, shipment)
}

// NewShipmentStatusChangedEvent creates the event emitted on every shipment
// state transition.
func NewShipmentStatusChangedEvent(shipment *Shipment, oldStatus string) (*OutboxMessage, error) {
	return newOutboxMessage("shipment", shipment.OrderID, EventShipmentStatusChanged, map[string]interface{}{
		"order_id":    shipment.OrderID,
		"shipment_id": shipment.ShipmentID,
		"old_status":  oldStatus,
		"new_status":  shipment.Status,
	})
}
