package perception

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"taxod/internal/logging"
)

// =============================================================================
// SLOT SCHEDULER - GLOBAL LLM CALL BUDGET
// =============================================================================
//
// The SlotScheduler caps concurrent LLM API calls across the whole process.
// The refinement pass and the deep-analysis task manager both draw from the
// same slot pool, so neither can starve the provider's connection limit on
// its own. Callers acquire a slot, make exactly one call, and release.

// SlotSchedulerConfig configures the scheduler.
type SlotSchedulerConfig struct {
	MaxConcurrentCalls int           // Max simultaneous API calls (matches provider limit)
	AcquireTimeout     time.Duration // Max time to wait for a slot
}

// DefaultSlotSchedulerConfig returns sensible defaults.
func DefaultSlotSchedulerConfig() SlotSchedulerConfig {
	return SlotSchedulerConfig{
		MaxConcurrentCalls: 5,
		AcquireTimeout:     5 * time.Minute,
	}
}

// SlotScheduler manages LLM call slots.
type SlotScheduler struct {
	config SlotSchedulerConfig
	slots  chan struct{}

	// Metrics
	totalCalls         int64
	totalWaitNanos     int64
	currentlyWaiting   int32
	currentlyExecuting int32

	stopCh chan struct{}
}

// SlotMetrics is a point-in-time scheduler snapshot.
type SlotMetrics struct {
	TotalCalls         int64
	AverageWait        time.Duration
	CurrentlyWaiting   int32
	CurrentlyExecuting int32
	MaxConcurrent      int
}

// NewSlotScheduler creates a scheduler.
func NewSlotScheduler(config SlotSchedulerConfig) *SlotScheduler {
	if config.MaxConcurrentCalls <= 0 {
		config.MaxConcurrentCalls = DefaultSlotSchedulerConfig().MaxConcurrentCalls
	}
	return &SlotScheduler{
		config: config,
		slots:  make(chan struct{}, config.MaxConcurrentCalls),
		stopCh: make(chan struct{}),
	}
}

// Acquire blocks until a call slot is free, the context is cancelled, the
// acquire timeout elapses, or the scheduler is stopped.
func (s *SlotScheduler) Acquire(ctx context.Context) error {
	waitStart := time.Now()
	atomic.AddInt32(&s.currentlyWaiting, 1)
	defer atomic.AddInt32(&s.currentlyWaiting, -1)

	if active := len(s.slots); active >= s.config.MaxConcurrentCalls {
		logging.APIDebug("scheduler: waiting for slot (active=%d/%d, waiting=%d)",
			active, s.config.MaxConcurrentCalls, atomic.LoadInt32(&s.currentlyWaiting))
	}

	var timeout <-chan time.Time
	if s.config.AcquireTimeout > 0 {
		t := time.NewTimer(s.config.AcquireTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case s.slots <- struct{}{}:
		atomic.AddInt64(&s.totalWaitNanos, int64(time.Since(waitStart)))
		atomic.AddInt64(&s.totalCalls, 1)
		atomic.AddInt32(&s.currentlyExecuting, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timeout:
		return fmt.Errorf("timed out waiting for LLM call slot after %v", s.config.AcquireTimeout)
	case <-s.stopCh:
		return fmt.Errorf("scheduler stopped")
	}
}

// Release returns a slot to the pool. Must be called exactly once per
// successful Acquire.
func (s *SlotScheduler) Release() {
	atomic.AddInt32(&s.currentlyExecuting, -1)
	select {
	case <-s.slots:
	default:
		// Release without acquire is a programmer error; don't block.
		logging.APIWarn("scheduler: release without matching acquire")
	}
}

// Stop unblocks all waiters with an error. In-flight calls finish normally.
func (s *SlotScheduler) Stop() {
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Metrics returns a snapshot of scheduler counters.
func (s *SlotScheduler) Metrics() SlotMetrics {
	calls := atomic.LoadInt64(&s.totalCalls)
	var avg time.Duration
	if calls > 0 {
		avg = time.Duration(atomic.LoadInt64(&s.totalWaitNanos) / calls)
	}
	return SlotMetrics{
		TotalCalls:         calls,
		AverageWait:        avg,
		CurrentlyWaiting:   atomic.LoadInt32(&s.currentlyWaiting),
		CurrentlyExecuting: atomic.LoadInt32(&s.currentlyExecuting),
		MaxConcurrent:      s.config.MaxConcurrentCalls,
	}
}

// ScheduledClient wraps an LLMClient so every call passes through the
// scheduler's slot pool.
type ScheduledClient struct {
	inner     LLMClient
	scheduler *SlotScheduler
}

// NewScheduledClient wraps client with scheduler-managed concurrency.
func NewScheduledClient(client LLMClient, scheduler *SlotScheduler) *ScheduledClient {
	return &ScheduledClient{inner: client, scheduler: scheduler}
}

func (c *ScheduledClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.scheduler.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.scheduler.Release()
	return c.inner.Complete(ctx, prompt)
}

func (c *ScheduledClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := c.scheduler.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.scheduler.Release()
	return c.inner.CompleteWithSystem(ctx, systemPrompt, userPrompt)
}

func (c *ScheduledClient) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	if err := c.scheduler.Acquire(ctx); err != nil {
		return "", err
	}
	defer c.scheduler.Release()
	return c.inner.CompleteJSON(ctx, prompt)
}
