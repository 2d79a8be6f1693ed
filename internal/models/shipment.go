package models

import (
	"time"
)

// ShipmentStatus defines the fulfillment states of a shipment
type ShipmentStatus string

const (
	ShipmentStatusPending        ShipmentStatus = "pending"
	ShipmentStatusShipped        ShipmentStatus = "shipped"
	ShipmentStatusArrived        ShipmentStatus = "arrived"
	ShipmentStatusPickedUp       ShipmentStatus = "picked_up"
	ShipmentStatusCompleted      ShipmentStatus = "completed"
	ShipmentStatusReturnPending  ShipmentStatus = "returned_pending"
	ShipmentStatusReturning      ShipmentStatus = "returning"
	ShipmentStatusReturned       ShipmentStatus = "returned"
)

// shipmentTransitions is the forward-only transition table. Statuses never
// move backwards and terminal states have no outgoing edges.
var shipmentTransitions = map[ShipmentStatus][]ShipmentStatus{
	ShipmentStatusPending:       {ShipmentStatusShipped},
	ShipmentStatusShipped:       {ShipmentStatusArrived, ShipmentStatusCompleted},
	ShipmentStatusArrived:       {ShipmentStatusPickedUp},
	ShipmentStatusPickedUp:      {ShipmentStatusCompleted, ShipmentStatusReturnPending},
	ShipmentStatusReturnPending: {ShipmentStatusReturning},
	ShipmentStatusReturning:     {ShipmentStatusReturned},
}

// CanTransition reports whether a shipment may move from one status to another
func CanTransition(from, to ShipmentStatus) bool {
	for _, next := range shipmentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Shipment tracks fulfillment of a successfully paid order. Exactly one
// shipment exists per settled order.
type Shipment struct {
	ShipmentID           string     `db:"shipment_id" json:"shipment_id"`
	OrderID              string     `db:"order_id" json:"order_id"`
	RecipientName        string     `db:"recipient_name" json:"recipient_name"`
	DeliveryType         string     `db:"delivery_type" json:"delivery_type"`
	StoreID              *string    `db:"store_id" json:"store_id,omitempty"`
	StoreName            *string    `db:"store_name" json:"store_name,omitempty"`
	CVSType              *string    `db:"cvs_type" json:"cvs_type,omitempty"`
	Address              *string    `db:"address" json:"address,omitempty"`
	Status               string     `db:"status" json:"status"`
	ReturnStoreName      *string    `db:"return_store_name" json:"return_store_name,omitempty"`
	ReturnTrackingNumber *string    `db:"return_tracking_number" json:"return_tracking_number,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	DeliveredAt          *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
	PickedUpAt           *time.Time `db:"picked_up_at" json:"picked_up_at,omitempty"`
}

// NewShipmentForOrder creates a pending shipment carrying the order's
// delivery details.
func NewShipmentForOrder(order *Order) *Shipment {
	return &Shipment{
		ShipmentID:    GenerateID("shp"),
		OrderID:       order.OrderID,
		RecipientName: order.RecipientName,
		DeliveryType:  order.DeliveryType,
		StoreID:       order.StoreID,
		StoreName:     order.StoreName,
		CVSType:       order.CVSType,
		Address:       order.Address,
		Status:        string(ShipmentStatusPending),
		CreatedAt:     GetCurrentTime(),
	}
}
