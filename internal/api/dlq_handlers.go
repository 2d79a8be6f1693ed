package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/internal/repository"
)

// getDeadLettersHandler returns a list of dead letter messages
func (s *Server) getDeadLettersHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	page, err := strconv.Atoi(r.URL.Query().Get("page"))

	if err != nil || page < 1 {
		page = 1
	}

	pageSize, err := strconv.Atoi(r.URL.Query().Get("pageSize"))

	if err != nil || pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}

	offset := (page - 1) * pageSize

	messages, err := s.dlq.GetMessages(ctx, pageSize, offset)

	if err != nil {
		s.logger.Error("Failed to fetch dead letter messages", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter messages")
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]interface{}{
			"messages": messages,
			"page":     page,
			"pageSize": pageSize,
		},
	})
}

// retryDeadLetterHandler queues a parked message for republication
func (s *Server) retryDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idStr := mux.Vars(r)["id"]

	id, err := strconv.ParseInt(idStr, 10, 64)

	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid message ID")
		return
	}

	message, err := s.dlq.GetMessage(ctx, id)

	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Dead letter message not found")
			return
		}
		s.logger.Error("Failed to fetch dead letter message", "error", err, "messageID", id)
		respondWithError(w, http.StatusInternalServerError, "Failed to fetch dead letter message")
		return
	}

	switch message.Status {
	case string(models.DeadLetterStatusResolved):
		respondWithError(w, http.StatusBadRequest, "Message is already resolved")
		return
	case string(models.DeadLetterStatusPending):
		respondWithError(w, http.StatusBadRequest, "Message is already queued for retry")
		return
	}

	if err := s.dlq.ResetToRetry(ctx, id); err != nil {
		s.logger.Error("Failed to queue message for retry", "error", err, "messageID", id)
		respondWithError(w, http.StatusInternalServerError, "Failed to queue message for retry")
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Dead letter message queued for retry",
			"id":      idStr,
		},
	})
}

// discardDeadLetterHandler discards a dead letter message
func (s *Server) discardDeadLetterHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idStr := mux.Vars(r)["id"]

	id, err := strconv.ParseInt(idStr, 10, 64)

	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid message ID")
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	defer r.Body.Close()

	if req.Reason == "" {
		req.Reason = "No reason provided"
	}

	if err := s.dlq.MarkAsDiscarded(ctx, id, req.Reason); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Dead letter message not found")
			return
		}
		s.logger.Error("Failed to discard message", "error", err, "messageID", id)
		respondWithError(w, http.StatusInternalServerError, "Failed to discard message")
		return
	}

	respondWithJSON(w, http.StatusOK, ApiResponse{
		Success: true,
		Data: map[string]string{
			"message": "Dead letter message discarded",
			"id":      idStr,
		},
	})
}
