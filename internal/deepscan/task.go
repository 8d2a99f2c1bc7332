// Package deepscan re-evaluates low-confidence file placements in the
// background: a priority queue of per-file analysis tasks with bounded
// concurrency, per-task timeouts, and guardrails that keep automatic
// recategorization away from user-approved placements.
package deepscan

import (
	"fmt"
	"time"

	"taxod/internal/scan"
	"taxod/internal/taxonomy"
)

// Priority orders tasks in the queue. Higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return fmt.Sprintf("unknown(%d)", int(p))
	}
}

// TaskStatus is the task lifecycle state.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// Proposal is the analyzer's structured answer for one file. Source records
// where the evidence came from; LLM responses carry content, learned-pattern
// hits carry memory.
type Proposal struct {
	CategoryPath []string `json:"category_path"`
	Confidence   float64  `json:"confidence"`
	Reasoning    string   `json:"reasoning"`

	Source taxonomy.AssignmentSource `json:"-"`
}

// Task is one queued re-evaluation unit. OldConfidence and OldCategoryPath
// are captured at enqueue time; the recategorization rule compares the
// analyzer's proposal against them.
type Task struct {
	ID              string
	File            scan.FileRecord
	OldConfidence   float64
	OldCategoryPath []string
	Priority        Priority
	UserApproved    bool
	Status          TaskStatus
	Attempts        int
	EnqueuedAt      time.Time
	StartedAt       time.Time
	EndedAt         time.Time
	Err             string
	Result          *Proposal
	Recategorized   bool

	seq uint64 // FIFO tiebreak within equal priority+confidence
}

// taskHeap orders by priority descending, then confidence ascending
// (least-confident first), then enqueue sequence.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	if h[i].OldConfidence != h[j].OldConfidence {
		return h[i].OldConfidence < h[j].OldConfidence
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
