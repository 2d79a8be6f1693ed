package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clevora/clevora-api/internal/models"
)

func seedDeadLetter(dlq *fakeDLQ, id int64, status models.DeadLetterStatus) {
	dlq.messages[id] = &models.DeadLetterMessage{
		ID:            id,
		EventType:     models.EventOrderSettled,
		Payload:       []byte(`{}`),
		FailureReason: "max retries exceeded",
		Status:        string(status),
	}
}

func TestGetDeadLetters(t *testing.T) {
	s, _, _, _, dlq := newTestServer()
	seedDeadLetter(dlq, 1, models.DeadLetterStatusDiscarded)
	seedDeadLetter(dlq, 2, models.DeadLetterStatusPending)

	rec := doJSON(t, s, http.MethodGet, "/api/v1/admin/dead-letters", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)

	data := decodeResponse(t, rec).Data.(map[string]interface{})
	assert.Len(t, data["messages"], 2)
}

func TestRetryDeadLetter(t *testing.T) {
	s, _, _, _, dlq := newTestServer()
	seedDeadLetter(dlq, 7, models.DeadLetterStatusDiscarded)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/admin/dead-letters/7/retry", nil, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{7}, dlq.requeued)
	assert.Equal(t, string(models.DeadLetterStatusPending), dlq.messages[7].Status)
}

func TestRetryDeadLetterAlreadyQueued(t *testing.T) {
	s, _, _, _, dlq := newTestServer()
	seedDeadLetter(dlq, 7, models.DeadLetterStatusPending)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/admin/dead-letters/7/retry", nil, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, dlq.requeued)
}

func TestRetryDeadLetterNotFound(t *testing.T) {
	s, _, _, _, _ := newTestServer()

	rec := doJSON(t, s, http.MethodPost, "/api/v1/admin/dead-letters/99/retry", nil, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiscardDeadLetter(t *testing.T) {
	s, _, _, _, dlq := newTestServer()
	seedDeadLetter(dlq, 3, models.DeadLetterStatusPending)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/admin/dead-letters/3/discard",
		map[string]string{"reason": "payload references a deleted order"}, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "payload references a deleted order", dlq.discarded[3])
}
