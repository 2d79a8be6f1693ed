package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/clevora/clevora-api/internal/gateway"
	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/pkg/cache"
	apperrors "github.com/clevora/clevora-api/pkg/errors"
	"github.com/clevora/clevora-api/pkg/logger"
)

// Acknowledgment tokens ECPay expects in the callback response body. Anything
// other than AckOK makes the provider re-send the notification.
const (
	AckOK    = "1|OK"
	AckError = "0|Error"
)

const (
	paymentDateLayout = "2006/01/02 15:04:05"
	ackCacheTTL       = 24 * time.Hour
)

// orderSettler is the slice of the order service the reconciler drives
type orderSettler interface {
	Settle(ctx context.Context, orderID string, success bool, paidAt *time.Time, failReason *string) (*models.Order, bool, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
}

// shipmentCreator spawns the shipment for a successfully settled order
type shipmentCreator interface {
	CreateForOrder(ctx context.Context, order *models.Order) (*models.Shipment, error)
}

// notifyVerifier checks the signature on an inbound ECPay callback
type notifyVerifier interface {
	VerifyNotify(params map[string]string) bool
}

// confirmer finalizes a LINE Pay transaction after customer approval
type confirmer interface {
	Confirm(ctx context.Context, transactionID string, amount int64) (*gateway.ConfirmResult, error)
}

// Reconciler turns raw provider callbacks into settled orders and shipments.
// It never returns an HTTP error to the provider: every path ends in an
// ack token, and AckOK is only emitted once the transition is durably
// committed (or was committed by an earlier delivery of the same callback).
type Reconciler struct {
	orders    orderSettler
	shipments shipmentCreator
	ecpay     notifyVerifier
	linepay   confirmer
	ackCache  cache.Cache
	logger    logger.Logger
}

// NewReconciler creates a Reconciler. ackCache may be nil, which disables
// the replay-ack fast path.
func NewReconciler(
	orders orderSettler,
	shipments shipmentCreator,
	ecpay notifyVerifier,
	linepay confirmer,
	ackCache cache.Cache,
	logger logger.Logger,
) *Reconciler {
	return &Reconciler{
		orders:    orders,
		shipments: shipments,
		ecpay:     ecpay,
		linepay:   linepay,
		ackCache:  ackCache,
		logger:    logger,
	}
}

// HandleECPayNotify processes an ECPay server-to-server payment notification
// and returns the ack token for the response body.
//
// Verification comes first: a CheckMacValue mismatch changes no state and
// acks AckError. A verified callback settles through the conditional update,
// so replays are no-ops, and a success settlement spawns the order's single
// shipment before AckOK is returned.
func (r *Reconciler) HandleECPayNotify(ctx context.Context, form map[string]string) string {
	orderID := form["MerchantTradeNo"]

	if orderID == "" {
		r.logger.Warn("ECPay notify without MerchantTradeNo")
		return AckError
	}

	if !r.ecpay.VerifyNotify(form) {
		r.logger.Warn("ECPay notify failed CheckMacValue verification", "orderID", orderID)
		return AckError
	}

	// Replay fast path: a notification already acked for this order skips
	// the settlement machinery. Only consulted after verification.
	if r.cachedAck(ctx, orderID) {
		r.logger.Debug("ECPay notify answered from ack cache", "orderID", orderID)
		return AckOK
	}

	rtnCode := form["RtnCode"]

	switch gateway.Normalize(gateway.ProviderECPay, rtnCode) {
	case gateway.OutcomeSuccess:
		return r.settleSuccess(ctx, orderID, form["PaymentDate"])

	case gateway.OutcomePendingRetry:
		// Not terminal. Leave the order pending; the provider re-notifies.
		r.logger.Info("ECPay notify with intermediate code, leaving order pending",
			"orderID", orderID, "rtnCode", rtnCode)
		return AckError

	default:
		return r.settleFail(ctx, orderID, rtnCode, form["RtnMsg"])
	}
}

func (r *Reconciler) settleSuccess(ctx context.Context, orderID, paymentDate string) string {
	paidAt := models.GetCurrentTime()

	if paymentDate != "" {
		if parsed, err := time.Parse(paymentDateLayout, paymentDate); err == nil {
			paidAt = parsed
		} else {
			r.logger.Warn("Unparseable PaymentDate, using current time",
				"orderID", orderID, "paymentDate", paymentDate)
		}
	}

	order, applied, err := r.orders.Settle(ctx, orderID, true, &paidAt, nil)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			r.logger.Warn("ECPay notify for unknown order", "orderID", orderID)
		} else {
			r.logger.Error("Failed to settle order from ECPay notify", "error", err, "orderID", orderID)
		}
		return AckError
	}

	if order.Status != string(models.OrderStatusSuccess) {
		// The order settled to a different outcome first. That settlement
		// is authoritative; ack so the provider stops retrying.
		r.logger.Warn("ECPay success notify for order settled otherwise",
			"orderID", orderID, "recordedStatus", order.Status)
		r.storeAck(ctx, orderID)
		return AckOK
	}

	if _, err := r.shipments.CreateForOrder(ctx, order); err != nil {
		// No durable shipment yet; withhold the ack so the provider
		// redelivers and the idempotent create gets another chance.
		r.logger.Error("Failed to create shipment for settled order", "error", err, "orderID", orderID)
		return AckError
	}

	if applied {
		r.logger.Info("Payment settled from ECPay notify", "orderID", orderID)
	}

	r.storeAck(ctx, orderID)
	return AckOK
}

func (r *Reconciler) settleFail(ctx context.Context, orderID, rtnCode, rtnMsg string) string {
	reason := rtnMsg

	if reason == "" {
		reason = "payment failed with code " + rtnCode
	}

	_, _, err := r.orders.Settle(ctx, orderID, false, nil, &reason)

	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			r.logger.Warn("ECPay notify for unknown order", "orderID", orderID)
		} else {
			r.logger.Error("Failed to fail order from ECPay notify", "error", err, "orderID", orderID)
		}
		return AckError
	}

	r.logger.Info("Payment failure recorded from ECPay notify", "orderID", orderID, "rtnCode", rtnCode)
	r.storeAck(ctx, orderID)
	return AckOK
}

// HandleLinePayConfirm finalizes a LINE Pay transaction after the customer
// is redirected back. The confirm call to the provider is signed and
// authenticated, so its returnCode is trusted the way a verified ECPay
// callback is.
func (r *Reconciler) HandleLinePayConfirm(ctx context.Context, transactionID, orderID string) (*models.Order, error) {
	order, err := r.orders.GetOrder(ctx, orderID)

	if err != nil {
		return nil, err
	}

	if order.Settled() {
		// Refreshing the confirm page replays the redirect.
		r.logger.Info("LINE Pay confirm for already-settled order", "orderID", orderID, "status", order.Status)
		return order, nil
	}

	result, err := r.linepay.Confirm(ctx, transactionID, order.Amount)

	if err != nil {
		// Gateway trouble: the order stays pending and confirm can be retried.
		return nil, err
	}

	switch gateway.Normalize(gateway.ProviderLinePay, result.ReturnCode) {
	case gateway.OutcomeSuccess:
		paidAt := models.GetCurrentTime()

		order, _, err = r.orders.Settle(ctx, orderID, true, &paidAt, nil)

		if err != nil {
			return nil, err
		}

		if order.Status == string(models.OrderStatusSuccess) {
			if _, err := r.shipments.CreateForOrder(ctx, order); err != nil {
				return nil, err
			}
		}

		r.logger.Info("Payment settled from LINE Pay confirm", "orderID", orderID, "transactionID", transactionID)
		return order, nil

	case gateway.OutcomePendingRetry:
		r.logger.Info("LINE Pay confirm still pending", "orderID", orderID, "returnCode", result.ReturnCode)
		return order, nil

	default:
		reason := result.ReturnMessage

		if reason == "" {
			reason = "payment failed with code " + result.ReturnCode
		}

		order, _, err = r.orders.Settle(ctx, orderID, false, nil, &reason)

		if err != nil {
			return nil, err
		}

		r.logger.Info("Payment failure recorded from LINE Pay confirm",
			"orderID", orderID, "returnCode", result.ReturnCode)
		return order, nil
	}
}

// cachedAck reports whether an ack for this order was already issued. Cache
// errors degrade to a miss; the full settlement path is always safe.
func (r *Reconciler) cachedAck(ctx context.Context, orderID string) bool {
	if r.ackCache == nil {
		return false
	}

	value, err := r.ackCache.Get(ctx, "ack:"+orderID)

	if err != nil {
		r.logger.Warn("Ack cache unavailable, using full path", "error", err)
		return false
	}

	return value != ""
}

func (r *Reconciler) storeAck(ctx context.Context, orderID string) {
	if r.ackCache == nil {
		return
	}

	if err := r.ackCache.Set(ctx, "ack:"+orderID, AckOK, ackCacheTTL); err != nil {
		r.logger.Warn("Failed to store ack in cache", "error", err, "orderID", orderID)
	}
}
