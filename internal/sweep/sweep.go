package sweep

import (
	"context"
	"sync"
	"time"

	"github.com/clevora/clevora-api/pkg/logger"
)

// Task is a unit of periodic maintenance work
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type scheduledTask struct {
	task     Task
	interval time.Duration
}

// Runner executes registered tasks on their own intervals, one goroutine
// per task.
type Runner struct {
	tasks   []scheduledTask
	logger  logger.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewRunner creates a sweep runner
func NewRunner(logger logger.Logger) *Runner {
	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register adds a task to run at the given interval. Must be called before
// Start.
func (r *Runner) Register(task Task, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = append(r.tasks, scheduledTask{task: task, interval: interval})
}

// Start launches the sweep loops
func (r *Runner) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}

	r.running = true

	for _, st := range r.tasks {
		r.wg.Add(1)

		go func(st scheduledTask) {
			defer r.wg.Done()
			r.loop(st)
		}(st)
	}

	r.logger.Info("Sweep runner started", "tasks", len(r.tasks))
}

// Stop stops the sweep loops and waits for in-flight runs to finish
func (r *Runner) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}

	r.cancel()
	r.wg.Wait()
	r.running = false

	r.logger.Info("Sweep runner stopped")
}

func (r *Runner) loop(st scheduledTask) {
	ticker := time.NewTicker(st.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(r.ctx, st.interval)

			if err := st.task.Run(ctx); err != nil {
				r.logger.Error("Sweep task failed", "task", st.task.Name(), "error", err)
			}

			cancel()
		}
	}
}
