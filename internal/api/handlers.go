package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/reconcile"
	"github.com/clevora/clevora-api/internal/service"
	apperrors "github.com/clevora/clevora-api/pkg/errors"
)

// ApiResponse is a standardized API response structure
type ApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// respondWithJSON writes a JSON response
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)

	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Error marshalling JSON response"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

// respondWithError writes an error response
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ApiResponse{
		Success: false,
		Error:   message,
	})
}

// respondWithAppError maps a service error onto the HTTP response
func respondWithAppError(w http.ResponseWriter, err error) {
	respondWithError(w, apperrors.StatusCode(err), err.Error())
}

// customerIDFromRequest reads the optional X-Customer-ID header. Absent means
// guest checkout; a malformed value is a client error.
func customerIDFromRequest(r *http.Request) (*int64, error) {
	raw := r.Header.Get("X-Customer-ID")

	if raw == "" {
		return nil, nil
	}

	id, err := strconv.ParseInt(raw, 10, 64)

	if err != nil {
		return nil, fmt.Errorf("invalid X-Customer-ID header")
	}

	return &id, nil
}

// healthCheckHandler returns the health status of the service
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    map[string]string{"status": "ok"},
	})
}

type checkoutRequest struct {
	Products       []models.LineItem `json:"products"`
	Provider       string            `json:"provider"`
	DeliveryType   string            `json:"delivery_type"`
	StoreID        *string           `json:"store_id"`
	StoreName      *string           `json:"store_name"`
	CVSType        *string           `json:"cvs_type"`
	Address        *string           `json:"address"`
	RecipientName  string            `json:"recipient_name"`
	RecipientPhone string            `json:"recipient_phone"`
}

// checkoutHandler creates a pending order and hands back the provider
// checkout material: a signed form-parameter set for ECPay, or a redirect
// URL for LINE Pay.
func (s *Server) checkoutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	customerID, err := customerIDFromRequest(r)

	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Provider == "" {
		req.Provider = "ecpay"
	}

	if req.Provider != "ecpay" && req.Provider != "linepay" {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("unknown payment provider %q", req.Provider))
		return
	}

	if req.DeliveryType == "" {
		req.DeliveryType = models.DeliveryTypeHome
	}

	order, err := s.orderService.CreateOrder(r.Context(), service.CreateOrderInput{
		Items:          req.Products,
		CustomerID:     customerID,
		DeliveryType:   req.DeliveryType,
		StoreID:        req.StoreID,
		StoreName:      req.StoreName,
		CVSType:        req.CVSType,
		Address:        req.Address,
		RecipientName:  req.RecipientName,
		RecipientPhone: req.RecipientPhone,
	})

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	switch req.Provider {
	case "linepay":
		result, err := s.linepay.RequestPayment(r.Context(), order, req.Products)

		if err != nil {
			// The order stays pending; the customer can retry checkout or
			// the timeout sweep will fail it.
			respondWithAppError(w, err)
			return
		}

		respondWithJSON(w, http.StatusCreated, ApiResponse{
			Success: true,
			Data: map[string]interface{}{
				"order_id":       order.OrderID,
				"payment_url":    result.PaymentURL,
				"transaction_id": result.TransactionID,
			},
		})

	default:
		form := s.ecpay.BuildCheckout(order)

		respondWithJSON(w, http.StatusCreated, ApiResponse{
			Success: true,
			Data: map[string]interface{}{
				"order_id":  order.OrderID,
				"ecpay_url": form.URL,
				"params":    form.Params,
			},
		})
	}
}

// ecpayNotifyHandler receives ECPay's server-to-server payment notification.
// The response is always HTTP 200 with a plain-text ack token; anything other
// than "1|OK" makes the provider redeliver.
func (s *Server) ecpayNotifyHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		s.logger.Warn("Failed to parse ECPay notify form", "error", err)
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(reconcile.AckError))
		return
	}

	form := make(map[string]string, len(r.PostForm))

	for key, values := range r.PostForm {
		if len(values) > 0 {
			form[key] = values[0]
		}
	}

	ack := s.reconciler.HandleECPayNotify(r.Context(), form)

	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(ack))
}

// linePayConfirmHandler finalizes a LINE Pay payment when the customer lands
// back on the confirm URL.
func (s *Server) linePayConfirmHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := r.URL.Query().Get("transactionId")
	orderID := r.URL.Query().Get("orderId")

	if transactionID == "" || orderID == "" {
		respondWithError(w, http.StatusBadRequest, "transactionId and orderId are required")
		return
	}

	order, err := s.reconciler.HandleLinePayConfirm(r.Context(), transactionID, orderID)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// getOrderHandler retrieves an order by ID
func (s *Server) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := s.orderService.GetOrder(r.Context(), orderID)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// getOrderStatusHandler returns just the settlement status, for storefront
// result-page polling.
func (s *Server) getOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	order, err := s.orderService.GetOrder(r.Context(), orderID)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"order_id": order.OrderID,
			"status":   order.Status,
			"paid_at":  order.PaidAt,
		},
	})
}

// getCustomerOrdersHandler lists the calling customer's orders
func (s *Server) getCustomerOrdersHandler(w http.ResponseWriter, r *http.Request) {
	customerID, err := customerIDFromRequest(r)

	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if customerID == nil {
		respondWithError(w, http.StatusUnauthorized, "X-Customer-ID header is required")
		return
	}

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	orders, err := s.orderService.GetCustomerOrders(r.Context(), *customerID, pageSize, (page-1)*pageSize)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"orders":   orders,
			"page":     page,
			"pageSize": pageSize,
		},
	})
}

// cancelOrderHandler withdraws a pending order
func (s *Server) cancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	customerID, err := customerIDFromRequest(r)

	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	order, err := s.orderService.Cancel(r.Context(), orderID, customerID)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}

// gatewayStatusHandler reports the LINE Pay circuit breaker state. ECPay has
// no outbound dispatch, so there is nothing to report for it.
func (s *Server) gatewayStatusHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"linepay_breaker": s.linepay.BreakerState().String(),
		},
	})
}

// overrideOrderStatusHandler sets an order's status directly. Admin only.
func (s *Server) overrideOrderStatusHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	var req struct {
		Status string `json:"status"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	order, err := s.orderService.OverrideStatus(r.Context(), orderID, req.Status)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    order,
	})
}
