package api

import (
	"context"
	"time"

	"github.com/clevora/clevora-api/internal/config"
	"github.com/clevora/clevora-api/internal/gateway"
	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/repository"
	"github.com/clevora/clevora-api/internal/service"
	"github.com/clevora/clevora-api/pkg/circuitbreaker"
	apperrors "github.com/clevora/clevora-api/pkg/errors"
	"github.com/clevora/clevora-api/pkg/logger"
	"github.com/clevora/clevora-api/pkg/middleware"

	"github.com/gorilla/mux"
)

// newTestServer builds a Server wired to in-memory fakes, with the same
// route table as production.
func newTestServer() (*Server, *fakeOrderAPI, *fakeShipmentAPI, *fakeReconciler, *fakeDLQ) {
	orders := &fakeOrderAPI{orders: make(map[string]*models.Order)}
	shipments := &fakeShipmentAPI{shipments: make(map[string]*models.Shipment)}
	reconciler := &fakeReconciler{ack: "1|OK"}
	dlq := &fakeDLQ{messages: make(map[int64]*models.DeadLetterMessage)}

	s := &Server{
		config: &config.Config{
			Sweep: config.SweepConfig{ShipmentWindow: 7 * 24 * time.Hour},
		},
		logger:          logger.NewNopLogger(),
		router:          mux.NewRouter(),
		orderService:    orders,
		shipmentService: shipments,
		reconciler:      reconciler,
		ecpay:           &fakeECPayCheckout{},
		linepay:         &fakeLinePayCheckout{},
		dlq:             dlq,
		rateLimiter: middleware.NewRateLimiterMiddleware(&middleware.RateLimiterConfig{
			GlobalMaxTokens:  1000,
			GlobalRefillRate: 1000,
			IPMaxTokens:      1000,
			IPRefillRate:     1000,
		}, logger.NewNopLogger()),
	}
	s.setupRoutes()

	return s, orders, shipments, reconciler, dlq
}

type fakeOrderAPI struct {
	orders      map[string]*models.Order
	createErr   error
	cancelCalls int
}

func (f *fakeOrderAPI) CreateOrder(ctx context.Context, input service.CreateOrderInput) (*models.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	var amount int64
	for _, item := range input.Items {
		amount += item.Total()
	}

	order := &models.Order{
		OrderID:        "20250101120000123456",
		Amount:         amount,
		ItemNames:      models.ItemNamesSummary(input.Items),
		Status:         string(models.OrderStatusPending),
		CustomerID:     input.CustomerID,
		DeliveryType:   input.DeliveryType,
		RecipientName:  input.RecipientName,
		RecipientPhone: input.RecipientPhone,
		CreatedAt:      time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.orders[order.OrderID] = order
	return order, nil
}

func (f *fakeOrderAPI) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, apperrors.NewNotFoundError("order not found")
	}
	return order, nil
}

func (f *fakeOrderAPI) GetCustomerOrders(ctx context.Context, customerID int64, limit, offset int) ([]*models.Order, error) {
	var out []*models.Order
	for _, order := range f.orders {
		if order.CustomerID != nil && *order.CustomerID == customerID {
			out = append(out, order)
		}
	}
	return out, nil
}

func (f *fakeOrderAPI) Cancel(ctx context.Context, orderID string, customerID *int64) (*models.Order, error) {
	f.cancelCalls++

	order, ok := f.orders[orderID]
	if !ok {
		return nil, apperrors.NewNotFoundError("order not found")
	}
	if order.Settled() {
		return nil, apperrors.NewConflictError("order is no longer pending")
	}

	order.Status = string(models.OrderStatusCancelled)
	return order, nil
}

func (f *fakeOrderAPI) OverrideStatus(ctx context.Context, orderID string, status string) (*models.Order, error) {
	order, ok := f.orders[orderID]
	if !ok {
		return nil, apperrors.NewNotFoundError("order not found")
	}
	order.Status = status
	return order, nil
}

type fakeShipmentAPI struct {
	shipments     map[string]*models.Shipment
	autoCompleted []string
	window        time.Duration
}

func (f *fakeShipmentAPI) get(orderID string) (*models.Shipment, error) {
	shipment, ok := f.shipments[orderID]
	if !ok {
		return nil, apperrors.NewNotFoundError("shipment not found")
	}
	return shipment, nil
}

func (f *fakeShipmentAPI) setStatus(orderID string, status models.ShipmentStatus) (*models.Shipment, error) {
	shipment, err := f.get(orderID)
	if err != nil {
		return nil, err
	}
	shipment.Status = string(status)
	return shipment, nil
}

func (f *fakeShipmentAPI) GetByOrderID(ctx context.Context, orderID string) (*models.Shipment, error) {
	return f.get(orderID)
}

func (f *fakeShipmentAPI) MarkShipped(ctx context.Context, orderID string) (*models.Shipment, error) {
	return f.setStatus(orderID, models.ShipmentStatusShipped)
}

func (f *fakeShipmentAPI) MarkArrived(ctx context.Context, orderID string) (*models.Shipment, error) {
	return f.setStatus(orderID, models.ShipmentStatusArrived)
}

func (f *fakeShipmentAPI) MarkReturned(ctx context.Context, orderID string) (*models.Shipment, error) {
	return f.setStatus(orderID, models.ShipmentStatusReturned)
}

func (f *fakeShipmentAPI) MarkPickedUp(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error) {
	return f.setStatus(orderID, models.ShipmentStatusPickedUp)
}

func (f *fakeShipmentAPI) Complete(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error) {
	return f.setStatus(orderID, models.ShipmentStatusCompleted)
}

func (f *fakeShipmentAPI) RequestReturn(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error) {
	return f.setStatus(orderID, models.ShipmentStatusReturnPending)
}

func (f *fakeShipmentAPI) SetReturnLogistics(ctx context.Context, orderID string, customerID *int64, returnStoreName string) (*models.Shipment, error) {
	if returnStoreName == "" {
		return nil, apperrors.NewInvalidInputError("return store name is required")
	}

	shipment, err := f.setStatus(orderID, models.ShipmentStatusReturning)
	if err != nil {
		return nil, err
	}
	shipment.ReturnStoreName = &returnStoreName
	return shipment, nil
}

func (f *fakeShipmentAPI) AutoComplete(ctx context.Context, window time.Duration) ([]string, error) {
	f.window = window
	return f.autoCompleted, nil
}

type fakeReconciler struct {
	ack        string
	notifyForm map[string]string

	confirmOrder *models.Order
	confirmErr   error
	confirmTxn   string
	confirmOID   string
}

func (f *fakeReconciler) HandleECPayNotify(ctx context.Context, form map[string]string) string {
	f.notifyForm = form
	return f.ack
}

func (f *fakeReconciler) HandleLinePayConfirm(ctx context.Context, transactionID, orderID string) (*models.Order, error) {
	f.confirmTxn = transactionID
	f.confirmOID = orderID

	if f.confirmErr != nil {
		return nil, f.confirmErr
	}
	return f.confirmOrder, nil
}

type fakeECPayCheckout struct{}

func (f *fakeECPayCheckout) BuildCheckout(order *models.Order) *gateway.CheckoutForm {
	return &gateway.CheckoutForm{
		URL: "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5",
		Params: map[string]string{
			"MerchantTradeNo": order.OrderID,
			"CheckMacValue":   "ABC123",
		},
	}
}

type fakeLinePayCheckout struct {
	err error
}

func (f *fakeLinePayCheckout) BreakerState() circuitbreaker.State {
	return circuitbreaker.StateClosed
}

func (f *fakeLinePayCheckout) RequestPayment(ctx context.Context, order *models.Order, items []models.LineItem) (*gateway.PaymentRequestResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &gateway.PaymentRequestResult{
		PaymentURL:    "https://sandbox-web-pay.line.me/web/payment/wait?transactionReserveId=abc",
		TransactionID: 2025010112345,
	}, nil
}

type fakeDLQ struct {
	messages  map[int64]*models.DeadLetterMessage
	requeued  []int64
	discarded map[int64]string
}

func (f *fakeDLQ) GetMessages(ctx context.Context, limit, offset int) ([]*models.DeadLetterMessage, error) {
	var out []*models.DeadLetterMessage
	for _, msg := range f.messages {
		out = append(out, msg)
	}
	return out, nil
}

func (f *fakeDLQ) GetMessage(ctx context.Context, id int64) (*models.DeadLetterMessage, error) {
	msg, ok := f.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return msg, nil
}

func (f *fakeDLQ) ResetToRetry(ctx context.Context, id int64) error {
	f.requeued = append(f.requeued, id)
	f.messages[id].Status = string(models.DeadLetterStatusPending)
	return nil
}

func (f *fakeDLQ) MarkAsDiscarded(ctx context.Context, id int64, reason string) error {
	if _, ok := f.messages[id]; !ok {
		return repository.ErrNotFound
	}
	if f.discarded == nil {
		f.discarded = make(map[int64]string)
	}
	f.discarded[id] = reason
	f.messages[id].Status = string(models.DeadLetterStatusDiscarded)
	return nil
}
