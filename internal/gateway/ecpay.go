package gateway

import (
	"strconv"

	"github.com/clevora/clevora-api/internal/config"
	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/signature"
	"github.com/clevora/clevora-api/pkg/logger"
)

// CheckoutForm is the parameter set the storefront posts to ECPay's cashier.
// It is ephemeral: rebuilt per checkout, never persisted.
type CheckoutForm struct {
	URL    string            `json:"ecpay_url"`
	Params map[string]string `json:"params"`
}

// ECPay builds signed AioCheckOut parameter sets. ECPay checkout is a
// client-side form post, so there is no server-side dispatch here; the
// asynchronous result arrives on the ReturnURL callback.
type ECPay struct {
	merchantID  string
	checkoutURL string
	domain      string
	signer      *signature.ECPaySigner
	logger      logger.Logger
}

// NewECPay creates the ECPay adapter
func NewECPay(cfg config.ECPayConfig, domain string, signer *signature.ECPaySigner, logger logger.Logger) *ECPay {
	return &ECPay{
		merchantID:  cfg.MerchantID,
		checkoutURL: cfg.CheckoutURL,
		domain:      domain,
		signer:      signer,
		logger:      logger,
	}
}

// BuildCheckout translates an order into the signed flat form-parameter map
// ECPay expects, with the merchant trade number set to the order id.
func (g *ECPay) BuildCheckout(order *models.Order) *CheckoutForm {
	params := map[string]string{
		"MerchantID":        g.merchantID,
		"MerchantTradeNo":   order.OrderID,
		"MerchantTradeDate": order.CreatedAt.Format("2006/01/02 15:04:05"),
		"PaymentType":       "aio",
		"TotalAmount":       strconv.FormatInt(order.Amount, 10),
		"TradeDesc":         "Clevora checkout",
		"ItemName":          order.ItemNames,
		"ReturnURL":         g.domain + "/ecpay/notify",
		"ChoosePayment":     "Credit",
		"ClientBackURL":     g.domain + "/pay/return",
		"PlatformID":        g.merchantID,
	}
	params["CheckMacValue"] = g.signer.CheckMacValue(params)

	g.logger.Debug("Built ECPay checkout parameters",
		"orderID", order.OrderID,
		"amount", order.Amount)

	return &CheckoutForm{
		URL:    g.checkoutURL,
		Params: params,
	}
}

// VerifyNotify checks the CheckMacValue on an inbound callback payload
func (g *ECPay) VerifyNotify(params map[string]string) bool {
	return g.signer.Verify(params)
}
