package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clevora/clevora-api/pkg/logger"
)

type countingTask struct {
	runs int32
	err  error
}

func (t *countingTask) Name() string { return "counting" }

func (t *countingTask) Run(ctx context.Context) error {
	atomic.AddInt32(&t.runs, 1)
	return t.err
}

func TestRunnerRunsTasksPeriodically(t *testing.T) {
	task := &countingTask{}

	runner := NewRunner(logger.NewNopLogger())
	runner.Register(task, 10*time.Millisecond)
	runner.Start()

	time.Sleep(55 * time.Millisecond)
	runner.Stop()

	runs := atomic.LoadInt32(&task.runs)
	assert.GreaterOrEqual(t, runs, int32(2))

	// No more runs after Stop.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, atomic.LoadInt32(&task.runs))
}

func TestRunnerKeepsGoingAfterTaskError(t *testing.T) {
	task := &countingTask{err: errors.New("boom")}

	runner := NewRunner(logger.NewNopLogger())
	runner.Register(task, 10*time.Millisecond)
	runner.Start()

	time.Sleep(55 * time.Millisecond)
	runner.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&task.runs), int32(2))
}

type fakeExpirer struct {
	cutoff time.Time
	limit  int
	failed int
}

func (f *fakeExpirer) FailTimedOut(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	f.cutoff = cutoff
	f.limit = limit
	return f.failed, nil
}

func TestPaymentTimeoutTaskCutoff(t *testing.T) {
	expirer := &fakeExpirer{failed: 3}
	task := NewPaymentTimeoutTask(expirer, 20*time.Minute, 100, logger.NewNopLogger())

	before := time.Now().UTC().Add(-20 * time.Minute)
	require.NoError(t, task.Run(context.Background()))
	after := time.Now().UTC().Add(-20 * time.Minute)

	assert.False(t, expirer.cutoff.Before(before))
	assert.False(t, expirer.cutoff.After(after))
	assert.Equal(t, 100, expirer.limit)
}

type fakeCompleter struct {
	window   time.Duration
	orderIDs []string
}

func (f *fakeCompleter) AutoComplete(ctx context.Context, window time.Duration) ([]string, error) {
	f.window = window
	return f.orderIDs, nil
}

func TestShipmentAutoCompleteTask(t *testing.T) {
	completer := &fakeCompleter{orderIDs: []string{"20250101120000123456"}}
	task := NewShipmentAutoCompleteTask(completer, 7*24*time.Hour, logger.NewNopLogger())

	require.NoError(t, task.Run(context.Background()))
	assert.Equal(t, 7*24*time.Hour, completer.window)
}
