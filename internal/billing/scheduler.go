package billing

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/core-coin/x402/internal/models"
	"github.com/core-coin/x402/pkg/logger"
)

const (
	// DefaultInterval is how often the scheduler polls the queue.
	DefaultInterval = 5 * time.Second
	// DefaultRetryDelay is the delay before a failed task runs again.
	DefaultRetryDelay = time.Minute
	// MaxAttempts bounds how often a failing task is retried.
	MaxAttempts = 10

	batchSize = 100
)

// TaskHandler executes one due task.
type TaskHandler interface {
	HandleTask(ctx context.Context, task *models.ScheduledTask) error
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Queue      models.TaskQueue
	Handler    TaskHandler
	Interval   time.Duration
	RetryDelay time.Duration
	Now        func() time.Time
	Logger     *logger.Logger
}

// Scheduler fires deferred subscription transitions when they come due.
type Scheduler struct {
	queue      models.TaskQueue
	handler    TaskHandler
	interval   time.Duration
	retryDelay time.Duration
	now        func() time.Time
	logger     *logger.Logger

	trigger chan struct{}
	stop    chan struct{}
	wg      sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Scheduler{
		queue:      cfg.Queue,
		handler:    cfg.Handler,
		interval:   cfg.Interval,
		retryDelay: cfg.RetryDelay,
		now:        cfg.Now,
		logger:     cfg.Logger.Named("scheduler"),
		trigger:    make(chan struct{}, 1),
		stop:       make(chan struct{}),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.run(ctx)
	})
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
	})
}

// Trigger asks the worker to poll the queue now.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-s.trigger:
			s.RunDue(ctx)
		case <-ticker.C:
			s.RunDue(ctx)
		}
	}
}

// RunDue executes every task due now and returns how many ran successfully.
func (s *Scheduler) RunDue(ctx context.Context) int {
	done := 0
	for {
		now := s.now()
		tasks, err := s.queue.PopDue(ctx, now, batchSize)
		if err != nil {
			s.logger.Error("Failed to pop due tasks", "error", err)
			return done
		}
		for _, task := range tasks {
			if s.execute(ctx, task) {
				done++
			}
		}
		if len(tasks) < batchSize {
			return done
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, task *models.ScheduledTask) (ok bool) {
	log := s.logger.With("task", task.ID, "kind", task.Kind, "subscription", task.SubscriptionID)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Task handler panicked", "panic", r, "stack", string(debug.Stack()))
			s.retry(ctx, log, task)
			ok = false
		}
	}()

	if err := s.handler.HandleTask(ctx, task); err != nil {
		log.Warn("Task failed", "attempts", task.Attempts+1, "error", err)
		s.retry(ctx, log, task)
		return false
	}
	log.Debug("Task done")
	return true
}

func (s *Scheduler) retry(ctx context.Context, log *logger.Logger, task *models.ScheduledTask) {
	task.Attempts++
	if task.Attempts >= MaxAttempts {
		log.Error("Dropping task after too many attempts")
		return
	}
	task.DueAt = s.now().Add(s.retryDelay)
	if err := s.queue.Schedule(ctx, task); err != nil {
		log.Error("Failed to reschedule task", "error", err)
	}
}
