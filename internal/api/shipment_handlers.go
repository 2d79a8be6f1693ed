package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/clevora/clevora-api/internal/models"
)

// getShipmentHandler retrieves the shipment for an order
func (s *Server) getShipmentHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	shipment, err := s.shipmentService.GetByOrderID(r.Context(), orderID)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    shipment,
	})
}

// customerShipmentAction runs a shipment transition on behalf of the calling
// customer. These endpoints require the X-Customer-ID header so ownership can
// be enforced.
func (s *Server) customerShipmentAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, orderID string, customerID *int64) (*models.Shipment, error),
) {
	orderID := mux.Vars(r)["id"]

	customerID, err := customerIDFromRequest(r)

	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if customerID == nil {
		respondWithError(w, http.StatusUnauthorized, "X-Customer-ID header is required")
		return
	}

	shipment, err := action(r.Context(), orderID, customerID)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    shipment,
	})
}

// markPickedUpHandler confirms the customer collected the parcel
func (s *Server) markPickedUpHandler(w http.ResponseWriter, r *http.Request) {
	s.customerShipmentAction(w, r, s.shipmentService.MarkPickedUp)
}

// completeShipmentHandler finalizes a picked-up shipment
func (s *Server) completeShipmentHandler(w http.ResponseWriter, r *http.Request) {
	s.customerShipmentAction(w, r, s.shipmentService.Complete)
}

// requestReturnHandler opens a return on a picked-up shipment
func (s *Server) requestReturnHandler(w http.ResponseWriter, r *http.Request) {
	s.customerShipmentAction(w, r, s.shipmentService.RequestReturn)
}

// setReturnLogisticsHandler records the drop-off store for an open return
// and allocates the return tracking number.
func (s *Server) setReturnLogisticsHandler(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["id"]

	customerID, err := customerIDFromRequest(r)

	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	if customerID == nil {
		respondWithError(w, http.StatusUnauthorized, "X-Customer-ID header is required")
		return
	}

	var req struct {
		ReturnStoreName string `json:"return_store_name"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	shipment, err := s.shipmentService.SetReturnLogistics(r.Context(), orderID, customerID, req.ReturnStoreName)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    shipment,
	})
}

// adminShipmentAction runs an operator-side shipment transition
func (s *Server) adminShipmentAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, orderID string) (*models.Shipment, error),
) {
	orderID := mux.Vars(r)["id"]

	shipment, err := action(r.Context(), orderID)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data:    shipment,
	})
}

// markShippedHandler dispatches a pending shipment
func (s *Server) markShippedHandler(w http.ResponseWriter, r *http.Request) {
	s.adminShipmentAction(w, r, s.shipmentService.MarkShipped)
}

// markArrivedHandler records arrival at the pickup point and stamps the
// delivery time the auto-complete sweep keys off.
func (s *Server) markArrivedHandler(w http.ResponseWriter, r *http.Request) {
	s.adminShipmentAction(w, r, s.shipmentService.MarkArrived)
}

// markReturnedHandler confirms a returning parcel reached the warehouse
func (s *Server) markReturnedHandler(w http.ResponseWriter, r *http.Request) {
	s.adminShipmentAction(w, r, s.shipmentService.MarkReturned)
}

// autoCompleteHandler runs the delivery auto-complete sweep on demand
func (s *Server) autoCompleteHandler(w http.ResponseWriter, r *http.Request) {
	orderIDs, err := s.shipmentService.AutoComplete(r.Context(), s.config.Sweep.ShipmentWindow)

	if err != nil {
		respondWithAppError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"completed": len(orderIDs),
			"order_ids": orderIDs,
		},
	})
}
