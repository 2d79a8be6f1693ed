package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clevora/clevora-api/internal/models"
	"github.com/clevora/clevora-api/pkg/logger"
)

// fakeOutboxStore mirrors the SQL repository's semantics: polling selects
// pending rows only and returns copies, MarkAsProcessing flips the status to
// processing, and only ReleaseToPending makes a row pollable again.
type fakeOutboxStore struct {
	rows      []*models.OutboxMessage
	completed []int64
	failed    map[int64]string
}

func newFakeOutboxStore(messages ...*models.OutboxMessage) *fakeOutboxStore {
	return &fakeOutboxStore{rows: messages, failed: make(map[int64]string)}
}

func (f *fakeOutboxStore) find(id int64) *models.OutboxMessage {
	for _, msg := range f.rows {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

func (f *fakeOutboxStore) GetPendingMessages(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	var out []*models.OutboxMessage
	for _, msg := range f.rows {
		if msg.Status == models.OutboxStatusPending {
			clone := *msg
			out = append(out, &clone)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeOutboxStore) MarkAsProcessing(ctx context.Context, id int64) error {
	if msg := f.find(id); msg != nil {
		msg.Status = models.OutboxStatusProcessing
		msg.ProcessingAttempts++
	}
	return nil
}

func (f *fakeOutboxStore) ReleaseToPending(ctx context.Context, id int64, errorMessage string) error {
	if msg := f.find(id); msg != nil && msg.Status == models.OutboxStatusProcessing {
		msg.Status = models.OutboxStatusPending
		msg.LastError = &errorMessage
	}
	return nil
}

func (f *fakeOutboxStore) MarkAsCompleted(ctx context.Context, id int64) error {
	f.completed = append(f.completed, id)
	if msg := f.find(id); msg != nil {
		msg.Status = models.OutboxStatusCompleted
	}
	return nil
}

func (f *fakeOutboxStore) MarkAsFailed(ctx context.Context, id int64, errorMessage string) error {
	f.failed[id] = errorMessage
	if msg := f.find(id); msg != nil {
		msg.Status = models.OutboxStatusFailed
	}
	return nil
}

type fakeDLQStore struct {
	parked []*models.DeadLetterMessage
}

func (f *fakeDLQStore) Create(ctx context.Context, message *models.DeadLetterMessage) error {
	f.parked = append(f.parked, message)
	return nil
}

type recordingHandler struct {
	handled []int64
	errs    int
}

func (h *recordingHandler) HandleMessage(ctx context.Context, message *models.OutboxMessage) error {
	if h.errs > 0 {
		h.errs--
		return errors.New("broker unavailable")
	}
	h.handled = append(h.handled, message.ID)
	return nil
}

func settledMessage(t *testing.T, id int64) *models.OutboxMessage {
	t.Helper()

	msg, err := models.NewOrderSettledEvent("20250101120000123456", "success", nil)
	require.NoError(t, err)
	msg.ID = id
	return msg
}

func newTestProcessor(store *fakeOutboxStore, dlq *fakeDLQStore, maxRetries int) *Processor {
	return NewProcessor(store, dlq, ProcessorConfig{
		PollingInterval: 50 * time.Millisecond,
		BatchSize:       10,
		MaxRetries:      maxRetries,
	}, logger.NewNopLogger())
}

func TestProcessBatchPublishesAndCompletes(t *testing.T) {
	store := newFakeOutboxStore(settledMessage(t, 1), settledMessage(t, 2))
	dlq := &fakeDLQStore{}
	handler := &recordingHandler{}

	p := newTestProcessor(store, dlq, 3)
	p.RegisterHandler(models.EventOrderSettled, handler)

	require.NoError(t, p.ProcessBatch())

	assert.Equal(t, []int64{1, 2}, handler.handled)
	assert.Equal(t, []int64{1, 2}, store.completed)
	assert.Empty(t, dlq.parked)
}

func TestProcessBatchRetriesTransientFailure(t *testing.T) {
	store := newFakeOutboxStore(settledMessage(t, 1))
	dlq := &fakeDLQStore{}
	handler := &recordingHandler{errs: 1}

	p := newTestProcessor(store, dlq, 3)
	p.RegisterHandler(models.EventOrderSettled, handler)

	// First pass fails; the row is released back to pending so the next
	// poll can pick it up again.
	require.NoError(t, p.ProcessBatch())
	assert.Empty(t, store.completed)
	assert.Empty(t, dlq.parked)
	assert.Equal(t, models.OutboxStatusPending, store.rows[0].Status)
	require.NotNil(t, store.rows[0].LastError)
	assert.Contains(t, *store.rows[0].LastError, "broker unavailable")

	// Second pass succeeds.
	require.NoError(t, p.ProcessBatch())
	assert.Equal(t, []int64{1}, store.completed)
	assert.Equal(t, models.OutboxStatusCompleted, store.rows[0].Status)
}

func TestProcessBatchDeadLettersAfterMaxRetries(t *testing.T) {
	store := newFakeOutboxStore(settledMessage(t, 1))
	dlq := &fakeDLQStore{}
	handler := &recordingHandler{errs: 10}

	p := newTestProcessor(store, dlq, 2)
	p.RegisterHandler(models.EventOrderSettled, handler)

	// Each poll reads the attempt count as it was at select time, so the
	// message keeps being released until a poll sees maxRetries attempts.
	for i := 0; i < 5; i++ {
		require.NoError(t, p.ProcessBatch())
	}

	require.Len(t, dlq.parked, 1)
	assert.Equal(t, int64(1), dlq.parked[0].OriginalMessageID)
	assert.Equal(t, models.EventOrderSettled, dlq.parked[0].EventType)
	assert.Equal(t, models.OutboxStatusFailed, store.rows[0].Status)
	assert.Contains(t, store.failed[1], "broker unavailable")
}

func TestTransientFailureNeverStrandsMessage(t *testing.T) {
	store := newFakeOutboxStore(settledMessage(t, 1))
	dlq := &fakeDLQStore{}
	handler := &recordingHandler{errs: 1}

	p := newTestProcessor(store, dlq, 3)
	p.RegisterHandler(models.EventOrderSettled, handler)

	// One broker hiccup followed by healthy polls: the message must end up
	// published, not stuck in processing with nobody selecting it.
	for i := 0; i < 10; i++ {
		require.NoError(t, p.ProcessBatch())
	}

	assert.Equal(t, []int64{1}, store.completed)
	assert.Equal(t, []int64{1}, handler.handled)
	assert.Empty(t, dlq.parked)
}

func TestProcessBatchDeadLettersUnknownEventType(t *testing.T) {
	store := newFakeOutboxStore(settledMessage(t, 1))
	dlq := &fakeDLQStore{}

	p := newTestProcessor(store, dlq, 3)
	// No handler registered.

	require.NoError(t, p.ProcessBatch())

	require.Len(t, dlq.parked, 1)
	assert.Equal(t, "no handler registered", dlq.parked[0].FailureReason)
}
