package models

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// OrderStatus represents the settlement status of an order. Provider-specific
// intermediate codes collapse into this set.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSuccess   OrderStatus = "success"
	OrderStatusFail      OrderStatus = "fail"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// DeliveryType is how the shipment reaches the customer
const (
	DeliveryTypeHome = "home"
	DeliveryTypeCVS  = "cvs"
)

// Order represents an order in the system. OrderID doubles as the merchant
// trade number handed to the payment provider.
type Order struct {
	OrderID        string     `db:"order_id" json:"order_id"`
	Amount         int64      `db:"amount" json:"amount"`
	ItemNames      string     `db:"item_names" json:"item_names"`
	Status         string     `db:"status" json:"status"`
	CustomerID     *int64     `db:"customer_id" json:"customer_id,omitempty"`
	DeliveryType   string     `db:"delivery_type" json:"delivery_type"`
	StoreID        *string    `db:"store_id" json:"store_id,omitempty"`
	StoreName      *string    `db:"store_name" json:"store_name,omitempty"`
	CVSType        *string    `db:"cvs_type" json:"cvs_type,omitempty"`
	Address        *string    `db:"address" json:"address,omitempty"`
	RecipientName  string     `db:"recipient_name" json:"recipient_name"`
	RecipientPhone string     `db:"recipient_phone" json:"recipient_phone"`
	FailReason     *string    `db:"fail_reason" json:"fail_reason,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	PaidAt         *time.Time `db:"paid_at" json:"paid_at,omitempty"`
}

// LineItem is a single cart entry at checkout
type LineItem struct {
	Name      string `json:"name"`
	UnitPrice int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
}

// Total returns the line total
func (li LineItem) Total() int64 {
	return li.UnitPrice * li.Quantity
}

// NewOrderID generates a merchant trade number: timestamp plus a 6-digit
// random suffix. The suffix only narrows same-second collisions; the insert
// still has to surface a uniqueness violation.
func NewOrderID(now time.Time) string {
	return fmt.Sprintf("%s%06d", now.Format("20060102150405"), rand.Intn(1000000))
}

// ItemNamesSummary builds the denormalized item summary persisted with the
// order and sent to the provider as ItemName ("Jacket x 1#Scarf x 2").
func ItemNamesSummary(items []LineItem) string {
	parts := make([]string, 0, len(items))

	for _, item := range items {
		parts = append(parts, fmt.Sprintf("%s x %d", item.Name, item.Quantity))
	}

	return strings.Join(parts, "#")
}

// Settled reports whether the order has left the pending state
func (o *Order) Settled() bool {
	return o.Status != string(OrderStatusPending)
}
