package deepscan

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"taxod/internal/config"
	"taxod/internal/logging"
	"taxod/internal/scan"
	"taxod/internal/taxonomy"
)

// =============================================================================
// DEEP ANALYSIS TASK MANAGER
// =============================================================================
//
// The TaskManager owns the re-analysis queue: a priority heap of per-file
// tasks, a management loop that launches up to MaxConcurrentTasks of them
// with a start-delay throttle, a per-task timeout race, and the
// recategorization rule that decides whether a completed analysis may move
// the file. All queue and running state lives behind one mutex; the tree
// has its own lock and is only touched outside ours.

var (
	// ErrQueueFull is returned by Enqueue when MaxQueueDepth is set and
	// reached.
	ErrQueueFull = errors.New("deepscan: task queue full")

	// ErrAlreadyStarted guards double Start.
	ErrAlreadyStarted = errors.New("deepscan: manager already started")
)

// emaAlpha weights the newest task duration in the remaining-time estimate.
const emaAlpha = 0.3

// Status is a point-in-time queue snapshot, pushed on every state change.
type Status struct {
	Queued             int
	Running            int
	Completed          int
	Failed             int
	Cancelled          int
	RunningIDs         []string
	Progress           float64
	EstimatedRemaining time.Duration
	IsRunning          bool
	IsPaused           bool
}

// TaskRecorder persists terminal tasks to the completed-task ledger.
// Persistence is best-effort; errors are logged, never propagated.
type TaskRecorder interface {
	RecordTask(t Task) error
}

// TaskManager schedules deep-analysis tasks against a taxonomy tree.
type TaskManager struct {
	cfg      config.AnalysisConfig
	analyzer FileAnalyzer
	tree     *taxonomy.Tree
	recorder TaskRecorder // optional

	mu       sync.Mutex
	queue    taskHeap
	running  map[string]*Task
	cancels  map[string]context.CancelFunc
	ledger   []*Task
	seq      uint64
	total    int
	started  bool
	paused   bool
	stopping bool

	cancelAll  context.CancelFunc
	wake       chan struct{}
	loopDone   chan struct{}
	statusCh   chan Status
	lastStatus Status
	emaNanos   float64
}

// NewTaskManager creates a manager over tree. recorder may be nil.
func NewTaskManager(cfg config.AnalysisConfig, analyzer FileAnalyzer, tree *taxonomy.Tree, recorder TaskRecorder) *TaskManager {
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 1
	}
	return &TaskManager{
		cfg:      cfg,
		analyzer: analyzer,
		tree:     tree,
		recorder: recorder,
		running:  make(map[string]*Task),
		cancels:  make(map[string]context.CancelFunc),
		wake:     make(chan struct{}, 1),
		statusCh: make(chan Status, 64),
	}
}

// StatusEvents is the push stream: one snapshot per state change. A slow
// consumer loses intermediate snapshots, never the latest (GetStatus).
func (m *TaskManager) StatusEvents() <-chan Status { return m.statusCh }

// GetStatus returns the last pushed snapshot.
func (m *TaskManager) GetStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastStatus
}

// IsRunning reports whether the management loop is live.
func (m *TaskManager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Enqueue adds a re-evaluation task for file. oldConfidence and oldPath are
// the placement being doubted; priority orders the queue; userApproved
// tasks are never recategorized while RespectUserApprovals is set.
func (m *TaskManager) Enqueue(file scan.FileRecord, oldConfidence float64, oldPath []string, priority Priority, userApproved bool) (*Task, error) {
	m.mu.Lock()
	if m.cfg.MaxQueueDepth > 0 && m.queue.Len() >= m.cfg.MaxQueueDepth {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w (depth %d)", ErrQueueFull, m.cfg.MaxQueueDepth)
	}
	m.seq++
	t := &Task{
		ID:              uuid.NewString(),
		File:            file,
		OldConfidence:   oldConfidence,
		OldCategoryPath: append([]string(nil), oldPath...),
		Priority:        priority,
		UserApproved:    userApproved,
		Status:          TaskQueued,
		EnqueuedAt:      time.Now(),
		seq:             m.seq,
	}
	heap.Push(&m.queue, t)
	m.total++
	m.pushStatusLocked()
	m.mu.Unlock()

	logging.AuditTask(logging.AuditTaskEnqueue, t.ID, file.Name, map[string]interface{}{
		"priority":   priority.String(),
		"confidence": oldConfidence,
	})
	m.kick()
	return t, nil
}

// Start launches the management loop. The manager self-stops once the
// queue and the running set are both empty.
func (m *TaskManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.stopping = false
	m.paused = false
	ctx, m.cancelAll = context.WithCancel(ctx)
	m.loopDone = make(chan struct{})
	m.pushStatusLocked()
	m.mu.Unlock()

	logging.DeepScan("task manager started (max_concurrent=%d)", m.cfg.MaxConcurrentTasks)
	go m.loop(ctx)
	return nil
}

// Pause withholds new launches; in-flight tasks finish. Resumable.
func (m *TaskManager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.pushStatusLocked()
	m.mu.Unlock()
	logging.DeepScan("task manager paused")
}

// Resume lifts a pause.
func (m *TaskManager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.pushStatusLocked()
	m.mu.Unlock()
	m.kick()
	logging.DeepScan("task manager resumed")
}

// Stop cancels every running task, drops the queue, and waits for the loop
// to exit. Not resumable without re-enqueueing.
func (m *TaskManager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.stopping = true
	for id, cancel := range m.cancels {
		logging.DeepScan("stopping task %s", id)
		cancel()
	}
	dropped := make([]*Task, 0, m.queue.Len())
	for m.queue.Len() > 0 {
		t := heap.Pop(&m.queue).(*Task)
		t.Status = TaskCancelled
		t.EndedAt = time.Now()
		dropped = append(dropped, t)
		m.ledger = append(m.ledger, t)
	}
	loopDone := m.loopDone
	m.pushStatusLocked()
	m.mu.Unlock()

	for _, t := range dropped {
		m.record(t)
		logging.AuditTask(logging.AuditTaskCancel, t.ID, t.File.Name, nil)
	}
	m.cancelAll()
	m.kick()
	if loopDone != nil {
		<-loopDone
	}
}

// Cancel cancels one task by id, queued or running.
func (m *TaskManager) Cancel(taskID string) bool {
	m.mu.Lock()
	if cancel, ok := m.cancels[taskID]; ok {
		m.mu.Unlock()
		cancel() // executor records the terminal state
		return true
	}
	for i, t := range m.queue {
		if t.ID == taskID {
			heap.Remove(&m.queue, i)
			t.Status = TaskCancelled
			t.EndedAt = time.Now()
			m.ledger = append(m.ledger, t)
			m.pushStatusLocked()
			m.mu.Unlock()
			m.record(t)
			logging.AuditTask(logging.AuditTaskCancel, t.ID, t.File.Name, nil)
			m.kick()
			return true
		}
	}
	m.mu.Unlock()
	return false
}

// RetryFailed re-enqueues failed tasks one priority level up. Tasks past
// MaxRetries stay failed; silent retry loops hide failures, so requeueing
// is always this explicit call.
func (m *TaskManager) RetryFailed() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	retried := 0
	kept := m.ledger[:0]
	for _, t := range m.ledger {
		if t.Status != TaskFailed || t.Attempts > m.cfg.MaxRetries {
			kept = append(kept, t)
			continue
		}
		t.Status = TaskQueued
		t.Err = ""
		if t.Priority < PriorityCritical {
			t.Priority++
		}
		m.seq++
		t.seq = m.seq
		heap.Push(&m.queue, t)
		retried++
	}
	m.ledger = kept
	if retried > 0 {
		m.pushStatusLocked()
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
	return retried
}

// Ledger returns copies of all terminal tasks.
func (m *TaskManager) Ledger() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, len(m.ledger))
	for i, t := range m.ledger {
		out[i] = *t
	}
	return out
}

func (m *TaskManager) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// loop is the management loop: launch while capacity allows, throttle
// between launches, self-stop when idle.
func (m *TaskManager) loop(ctx context.Context) {
	defer close(m.loopDone)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	ctxDone := ctx.Done()

	for {
		launched := m.launchReady(ctx)
		if launched {
			// TaskStartDelay throttles consecutive launches.
			select {
			case <-time.After(m.cfg.GetTaskStartDelay()):
			case <-ctx.Done():
			}
			continue
		}

		m.mu.Lock()
		idle := m.queue.Len() == 0 && len(m.running) == 0
		stopping := m.stopping
		m.mu.Unlock()

		if stopping && len(m.runningIDs()) == 0 {
			m.finish("stopped")
			return
		}
		if idle {
			m.finish("all tasks terminal")
			return
		}

		select {
		case <-m.wake:
		case <-ticker.C:
		case <-ctxDone:
			// Whole-manager cancellation behaves like Stop: drop the
			// queue, let executors settle as cancelled. Nil the channel
			// so the select falls back to the ticker afterwards.
			ctxDone = nil
			m.mu.Lock()
			m.stopping = true
			for m.queue.Len() > 0 {
				t := heap.Pop(&m.queue).(*Task)
				t.Status = TaskCancelled
				t.EndedAt = time.Now()
				m.ledger = append(m.ledger, t)
			}
			m.pushStatusLocked()
			m.mu.Unlock()
		}
	}
}

// launchReady pops and starts at most one task when capacity allows.
func (m *TaskManager) launchReady(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopping || m.paused || ctx.Err() != nil {
		return false
	}
	if len(m.running) >= m.cfg.MaxConcurrentTasks || m.queue.Len() == 0 {
		return false
	}

	t := heap.Pop(&m.queue).(*Task)
	t.Status = TaskRunning
	t.StartedAt = time.Now()
	t.Attempts++
	m.running[t.ID] = t

	tctx, cancel := context.WithTimeout(ctx, m.cfg.GetTaskTimeout())
	m.cancels[t.ID] = cancel
	m.pushStatusLocked()

	logging.AuditTask(logging.AuditTaskStart, t.ID, t.File.Name, map[string]interface{}{
		"priority": t.Priority.String(),
	})
	go m.execute(tctx, t)
	return true
}

// execute races the analyzer against the task timeout; whichever resolves
// first wins. Failures are terminal for this task only.
func (m *TaskManager) execute(ctx context.Context, t *Task) {
	existing := m.existingCategories()
	proposal, err := m.analyzer.Analyze(ctx, t.File, existing)

	m.mu.Lock()
	if cancel, ok := m.cancels[t.ID]; ok {
		delete(m.cancels, t.ID)
		defer cancel()
	}
	delete(m.running, t.ID)
	t.EndedAt = time.Now()
	m.observeDurationLocked(t.EndedAt.Sub(t.StartedAt))
	stopping := m.stopping
	m.mu.Unlock()

	switch {
	case err != nil && (stopping || errors.Is(err, context.Canceled)):
		m.settle(t, TaskCancelled, err.Error(), nil)
	case errors.Is(err, context.DeadlineExceeded):
		m.settle(t, TaskFailed, fmt.Sprintf("timed out after %v", m.cfg.GetTaskTimeout()), nil)
	case err != nil:
		m.settle(t, TaskFailed, err.Error(), nil)
	default:
		t.Recategorized = m.maybeRecategorize(t, proposal)
		m.settle(t, TaskCompleted, "", proposal)
	}
	m.kick()
}

func (m *TaskManager) settle(t *Task, status TaskStatus, errMsg string, result *Proposal) {
	m.mu.Lock()
	t.Status = status
	t.Err = errMsg
	t.Result = result
	m.ledger = append(m.ledger, t)
	m.pushStatusLocked()
	m.mu.Unlock()

	m.record(t)
	switch status {
	case TaskCompleted:
		logging.AuditTask(logging.AuditTaskComplete, t.ID, t.File.Name, map[string]interface{}{
			"recategorized": t.Recategorized,
		})
	case TaskFailed:
		logging.DeepScanWarn("task %s failed: %s", t.ID, errMsg)
		logging.AuditTask(logging.AuditTaskFail, t.ID, t.File.Name, map[string]interface{}{"error": errMsg})
	case TaskCancelled:
		logging.AuditTask(logging.AuditTaskCancel, t.ID, t.File.Name, nil)
	}
}

// maybeRecategorize applies the recategorization rule:
//
//	recategorize iff (confidenceImproved OR categoryChanged)
//	                 AND newConfidence > oldConfidence
//
// where confidenceImproved means newConfidence exceeds oldConfidence by at
// least MinConfidenceImprovement. User-approved tasks short-circuit the
// whole rule while RespectUserApprovals is set.
func (m *TaskManager) maybeRecategorize(t *Task, p *Proposal) bool {
	if m.cfg.RespectUserApprovals && t.UserApproved {
		logging.Guard("task %s: user-approved placement, skipping recategorization", t.ID)
		return false
	}

	improved := p.Confidence > t.OldConfidence+m.cfg.MinConfidenceImprovement
	changed := !samePath(t.OldCategoryPath, p.CategoryPath)
	if !(improved || changed) || p.Confidence <= t.OldConfidence {
		return false
	}

	// The user-edited lock covers the scheduler too: a locked category's
	// file list must never change on an automatic path, whatever the
	// task-level flags say.
	if a, _, ok := m.tree.AssignmentOf(t.File.ID); ok {
		if owner, exists := m.tree.NodeByID(a.CategoryID); exists && owner.IsUserEdited() {
			logging.Guard("task %s: %q is user-edited, skipping recategorization of %s",
				t.ID, owner.Name, t.File.Name)
			return false
		}
	}

	source := p.Source
	if source == "" {
		source = taxonomy.SourceContent
	}
	_, err := m.tree.ReassignFile(t.File.ID, t.File.Path, t.File.Name, p.CategoryPath, p.Confidence, source)
	if err != nil {
		logging.DeepScanWarn("task %s: reassign failed: %v", t.ID, err)
		return false
	}
	logging.DeepScan("recategorized %s -> %s (%.2f -> %.2f)",
		t.File.Name, strings.Join(p.CategoryPath, "/"), t.OldConfidence, p.Confidence)
	return true
}

// existingCategories snapshots category context for the analyzer: paths
// recorded on currently queued tasks plus the tree's live categories.
func (m *TaskManager) existingCategories() []string {
	set := make(map[string]bool)

	m.mu.Lock()
	for _, t := range m.queue {
		if len(t.OldCategoryPath) > 0 {
			set[strings.Join(t.OldCategoryPath, "/")] = true
		}
	}
	m.mu.Unlock()

	if m.tree != nil {
		for _, n := range m.tree.Categories() {
			set[strings.Join(m.tree.PathOf(n.ID), "/")] = true
		}
	}

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *TaskManager) runningIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.running))
	for id := range m.running {
		ids = append(ids, id)
	}
	return ids
}

func (m *TaskManager) finish(reason string) {
	m.mu.Lock()
	m.started = false
	m.paused = false
	m.cancelAll()
	m.pushStatusLocked()
	m.mu.Unlock()
	logging.DeepScan("task manager stopped: %s", reason)
}

func (m *TaskManager) record(t *Task) {
	if m.recorder == nil {
		return
	}
	if err := m.recorder.RecordTask(*t); err != nil {
		logging.Get(logging.CategoryStore).Warn("record task %s: %v", t.ID, err)
	}
}

// observeDurationLocked folds one task duration into the EMA.
func (m *TaskManager) observeDurationLocked(d time.Duration) {
	if m.emaNanos == 0 {
		m.emaNanos = float64(d.Nanoseconds())
		return
	}
	m.emaNanos = emaAlpha*float64(d.Nanoseconds()) + (1-emaAlpha)*m.emaNanos
}

// pushStatusLocked recomputes the snapshot and pushes it. Callers hold mu.
func (m *TaskManager) pushStatusLocked() {
	var completed, failed, cancelled int
	for _, t := range m.ledger {
		switch t.Status {
		case TaskCompleted:
			completed++
		case TaskFailed:
			failed++
		case TaskCancelled:
			cancelled++
		}
	}

	runningIDs := make([]string, 0, len(m.running))
	for id := range m.running {
		runningIDs = append(runningIDs, id)
	}
	sort.Strings(runningIDs)

	s := Status{
		Queued:     m.queue.Len(),
		Running:    len(m.running),
		Completed:  completed,
		Failed:     failed,
		Cancelled:  cancelled,
		RunningIDs: runningIDs,
		IsRunning:  m.started,
		IsPaused:   m.paused,
	}
	if m.total > 0 {
		s.Progress = float64(completed+failed+cancelled) / float64(m.total)
	}
	if pending := s.Queued + s.Running; pending > 0 && m.emaNanos > 0 {
		per := time.Duration(m.emaNanos)
		s.EstimatedRemaining = per * time.Duration((pending+m.cfg.MaxConcurrentTasks-1)/m.cfg.MaxConcurrentTasks)
	}

	m.lastStatus = s
	select {
	case m.statusCh <- s:
	default:
		// Slow consumer: drop the oldest pending snapshot to make room.
		select {
		case <-m.statusCh:
		default:
		}
		select {
		case m.statusCh <- s:
		default:
		}
	}
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
