package perception

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockClient counts concurrent calls and returns a canned response.
type mockClient struct {
	mu         sync.Mutex
	inFlight   int
	maxSeen    int
	calls      int32
	delay      time.Duration
	response   string
	responseFn func(prompt string) (string, error)
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	m.mu.Unlock()
	atomic.AddInt32(&m.calls, 1)

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			m.mu.Lock()
			m.inFlight--
			m.mu.Unlock()
			return "", ctx.Err()
		}
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()

	if m.responseFn != nil {
		return m.responseFn(prompt)
	}
	return m.response, nil
}

func (m *mockClient) CompleteWithSystem(ctx context.Context, _, user string) (string, error) {
	return m.Complete(ctx, user)
}

func (m *mockClient) CompleteJSON(ctx context.Context, prompt string) (string, error) {
	return m.Complete(ctx, prompt)
}

func TestScheduledClientCapsConcurrency(t *testing.T) {
	mock := &mockClient{delay: 20 * time.Millisecond, response: "ok"}
	sched := NewSlotScheduler(SlotSchedulerConfig{MaxConcurrentCalls: 2, AcquireTimeout: time.Second})
	client := NewScheduledClient(mock, sched)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := client.Complete(context.Background(), "p")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, mock.maxSeen, 2)
	assert.Equal(t, int32(8), atomic.LoadInt32(&mock.calls))
	assert.Equal(t, int64(8), sched.Metrics().TotalCalls)
}

func TestAcquireRespectsContext(t *testing.T) {
	sched := NewSlotScheduler(SlotSchedulerConfig{MaxConcurrentCalls: 1, AcquireTimeout: time.Minute})
	require.NoError(t, sched.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sched.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	sched.Release()
}

func TestAcquireTimesOut(t *testing.T) {
	sched := NewSlotScheduler(SlotSchedulerConfig{MaxConcurrentCalls: 1, AcquireTimeout: 10 * time.Millisecond})
	require.NoError(t, sched.Acquire(context.Background()))

	err := sched.Acquire(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestStopUnblocksWaiters(t *testing.T) {
	sched := NewSlotScheduler(SlotSchedulerConfig{MaxConcurrentCalls: 1, AcquireTimeout: time.Minute})
	require.NoError(t, sched.Acquire(context.Background()))

	done := make(chan error, 1)
	go func() { done <- sched.Acquire(context.Background()) }()

	time.Sleep(10 * time.Millisecond)
	sched.Stop()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter not unblocked by Stop")
	}
}

func TestFilenameInspectorNeverFails(t *testing.T) {
	sig, err := FilenameInspector{}.Inspect(context.Background(), FileRef{
		ID:          "f1",
		Path:        "/files/magic_trick.mp4",
		DisplayName: "magic_trick.mp4",
	})
	require.NoError(t, err)
	assert.Contains(t, sig.TextCue, "magic")
	assert.Equal(t, "video", string(sig.Kind))
}
