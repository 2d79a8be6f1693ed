package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clevora/clevora-api/internal/models"
	apperrors "github.com/clevora/clevora-api/pkg/errors"
)

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader

	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) ApiResponse {
	t.Helper()

	var resp ApiResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthCheck(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodGet, "/api/v1/health", nil, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeResponse(t, rec).Success)
}

func TestCheckoutECPay(t *testing.T) {
	s, orders, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pay", map[string]interface{}{
		"products": []map[string]interface{}{
			{"name": "Jacket", "price": 1890, "quantity": 1},
		},
		"delivery_type":   "home",
		"address":         "No. 7, Xinyi Rd, Taipei",
		"recipient_name":  "Lin Hsiao-ming",
		"recipient_phone": "0912345678",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)

	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "20250101120000123456", data["order_id"])
	assert.Contains(t, data["ecpay_url"], "ecpay.com.tw")

	params := data["params"].(map[string]interface{})
	assert.Equal(t, "20250101120000123456", params["MerchantTradeNo"])
	assert.NotEmpty(t, params["CheckMacValue"])

	assert.Len(t, orders.orders, 1)
}

func TestCheckoutLinePay(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pay", map[string]interface{}{
		"products": []map[string]interface{}{
			{"name": "Scarf", "price": 1000, "quantity": 2},
		},
		"provider":        "linepay",
		"delivery_type":   "home",
		"address":         "No. 7, Xinyi Rd, Taipei",
		"recipient_name":  "Lin Hsiao-ming",
		"recipient_phone": "0912345678",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)

	data := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Contains(t, data["payment_url"], "line.me")
	assert.NotEmpty(t, data["transaction_id"])
}

func TestCheckoutLinePayGatewayDown(t *testing.T) {
	s, orders, _, _, _ := newTestServer()
	s.linepay = &fakeLinePayCheckout{err: apperrors.NewGatewayUnavailableError("payment gateway unavailable")}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pay", map[string]interface{}{
		"products": []map[string]interface{}{
			{"name": "Scarf", "price": 1000, "quantity": 2},
		},
		"provider":        "linepay",
		"delivery_type":   "home",
		"address":         "No. 7, Xinyi Rd, Taipei",
		"recipient_name":  "Lin Hsiao-ming",
		"recipient_phone": "0912345678",
	}, nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The order was created and stays pending; the timeout sweep owns it now.
	require.Len(t, orders.orders, 1)
	for _, order := range orders.orders {
		assert.Equal(t, string(models.OrderStatusPending), order.Status)
	}
}

func TestCheckoutUnknownProvider(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pay", map[string]interface{}{
		"products": []map[string]interface{}{
			{"name": "Jacket", "price": 1890, "quantity": 1},
		},
		"provider": "applepay",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckoutInvalidCustomerHeader(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/pay", map[string]interface{}{
		"products": []map[string]interface{}{
			{"name": "Jacket", "price": 1890, "quantity": 1},
		},
	}, map[string]string{"X-Customer-ID": "not-a-number"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestECPayNotifyReturnsPlainTextAck(t *testing.T) {
	s, _, _, reconciler, _ := newTestServer()

	form := url.Values{}
	form.Set("MerchantTradeNo", "20250101120000123456")
	form.Set("RtnCode", "1")
	form.Set("CheckMacValue", "ABC123")

	req := httptest.NewRequest(http.MethodPost, "/ecpay/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1|OK", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))

	// The handler flattens the form into single values for the reconciler.
	assert.Equal(t, "20250101120000123456", reconciler.notifyForm["MerchantTradeNo"])
	assert.Equal(t, "1", reconciler.notifyForm["RtnCode"])
}

func TestECPayNotifyErrorAckStillHTTP200(t *testing.T) {
	s, _, _, reconciler, _ := newTestServer()
	reconciler.ack = "0|Error"

	form := url.Values{}
	form.Set("MerchantTradeNo", "20250101120000123456")

	req := httptest.NewRequest(http.MethodPost, "/ecpay/notify", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0|Error", rec.Body.String())
}

func TestLinePayConfirm(t *testing.T) {
	s, _, _, reconciler, _ := newTestServer()
	reconciler.confirmOrder = &models.Order{
		OrderID: "20250101120000123456",
		Status:  string(models.OrderStatusSuccess),
	}

	rec := doJSON(t, s, http.MethodGet, "/pay/confirm?transactionId=2025010112345&orderId=20250101120000123456", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2025010112345", reconciler.confirmTxn)
	assert.Equal(t, "20250101120000123456", reconciler.confirmOID)

	data := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "success", data["status"])
}

func TestLinePayConfirmMissingParams(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodGet, "/pay/confirm?orderId=20250101120000123456", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrderAndStatus(t *testing.T) {
	s, orders, _, _, _ := newTestServer()

	paidAt := time.Date(2025, 1, 1, 12, 5, 0, 0, time.UTC)
	orders.orders["20250101120000123456"] = &models.Order{
		OrderID: "20250101120000123456",
		Amount:  1890,
		Status:  string(models.OrderStatusSuccess),
		PaidAt:  &paidAt,
	}

	rec := doJSON(t, s, http.MethodGet, "/api/v1/orders/20250101120000123456", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders/20250101120000123456/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "success", data["status"])
	assert.NotEmpty(t, data["paid_at"])
}

func TestGetOrderNotFound(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodGet, "/api/v1/orders/nope", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, decodeResponse(t, rec).Success)
}

func TestListOrdersRequiresCustomer(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodGet, "/api/v1/orders", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doJSON(t, s, http.MethodGet, "/api/v1/orders", nil, map[string]string{"X-Customer-ID": "42"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCancelOrder(t *testing.T) {
	s, orders, _, _, _ := newTestServer()

	customerID := int64(42)
	orders.orders["20250101120000123456"] = &models.Order{
		OrderID:    "20250101120000123456",
		Status:     string(models.OrderStatusPending),
		CustomerID: &customerID,
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders/20250101120000123456/cancel", nil,
		map[string]string{"X-Customer-ID": "42"})

	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "cancelled", data["status"])
}

func TestCancelSettledOrderConflicts(t *testing.T) {
	s, orders, _, _, _ := newTestServer()

	orders.orders["20250101120000123456"] = &models.Order{
		OrderID: "20250101120000123456",
		Status:  string(models.OrderStatusSuccess),
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/orders/20250101120000123456/cancel", nil, nil)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGatewayStatus(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodGet, "/api/v1/admin/gateway/status", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Equal(t, "closed", data["linepay_breaker"])
}

func TestAdminOverrideOrderStatus(t *testing.T) {
	s, orders, _, _, _ := newTestServer()

	orders.orders["20250101120000123456"] = &models.Order{
		OrderID: "20250101120000123456",
		Status:  string(models.OrderStatusPending),
	}

	rec := doJSON(t, s, http.MethodPost, "/api/v1/admin/orders/20250101120000123456/status",
		map[string]string{"status": "success"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", orders.orders["20250101120000123456"].Status)
}
