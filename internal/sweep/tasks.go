package sweep

import (
	"context"
	"time"

	"github.com/clevora/clevora-api/pkg/logger"
)

// orderExpirer fails orders whose payment window has passed
type orderExpirer interface {
	FailTimedOut(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// shipmentCompleter closes out shipments delivered longer ago than the window
type shipmentCompleter interface {
	AutoComplete(ctx context.Context, window time.Duration) ([]string, error)
}

// PaymentTimeoutTask fails orders left pending past the payment window. A
// provider callback arriving after the sweep loses the settlement race and
// changes nothing.
type PaymentTimeoutTask struct {
	orders    orderExpirer
	window    time.Duration
	batchSize int
	logger    logger.Logger
}

// NewPaymentTimeoutTask creates the payment timeout sweep
func NewPaymentTimeoutTask(orders orderExpirer, window time.Duration, batchSize int, logger logger.Logger) *PaymentTimeoutTask {
	return &PaymentTimeoutTask{
		orders:    orders,
		window:    window,
		batchSize: batchSize,
		logger:    logger,
	}
}

func (t *PaymentTimeoutTask) Name() string {
	return "payment-timeout"
}

func (t *PaymentTimeoutTask) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-t.window)

	failed, err := t.orders.FailTimedOut(ctx, cutoff, t.batchSize)

	if err != nil {
		return err
	}

	if failed > 0 {
		t.logger.Info("Expired pending orders", "count", failed)
	}

	return nil
}

// ShipmentAutoCompleteTask completes shipped shipments whose delivery is
// older than the window.
type ShipmentAutoCompleteTask struct {
	shipments shipmentCompleter
	window    time.Duration
	logger    logger.Logger
}

// NewShipmentAutoCompleteTask creates the shipment auto-complete sweep
func NewShipmentAutoCompleteTask(shipments shipmentCompleter, window time.Duration, logger logger.Logger) *ShipmentAutoCompleteTask {
	return &ShipmentAutoCompleteTask{
		shipments: shipments,
		window:    window,
		logger:    logger,
	}
}

func (t *ShipmentAutoCompleteTask) Name() string {
	return "shipment-auto-complete"
}

func (t *ShipmentAutoCompleteTask) Run(ctx context.Context) error {
	orderIDs, err := t.shipments.AutoComplete(ctx, t.window)

	if err != nil {
		return err
	}

	if len(orderIDs) > 0 {
		t.logger.Info("Auto-completed shipments", "count", len(orderIDs), "orderIDs", orderIDs)
	}

	return nil
}
