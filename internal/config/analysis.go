package config

import "time"

// AnalysisConfig controls the deep-analysis task manager.
type AnalysisConfig struct {
	// MaxConcurrentTasks bounds simultaneously running analysis tasks.
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`

	// TaskTimeout is the per-task deadline for the analyzer call.
	TaskTimeout string `yaml:"task_timeout"`

	// TaskStartDelay throttles consecutive task launches.
	TaskStartDelay string `yaml:"task_start_delay"`

	// MaxRetries is advisory: the manager never auto-requeues, but callers
	// use this bound when re-enqueueing failed tasks.
	MaxRetries int `yaml:"max_retries"`

	// MaxQueueDepth caps the pending queue; 0 means unbounded (growth risk
	// documented, callers should prefer a cap for long-running watch mode).
	MaxQueueDepth int `yaml:"max_queue_depth"`

	// ConfidenceThreshold: files at or below this confidence are candidates
	// for deep analysis.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MinConfidenceImprovement required before an analysis result counts as
	// a confidence improvement.
	MinConfidenceImprovement float64 `yaml:"min_confidence_improvement"`

	// RespectUserApprovals: never recategorize a user-approved task.
	RespectUserApprovals bool `yaml:"respect_user_approvals"`
}

// DefaultAnalysisConfig returns sensible defaults.
func DefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		MaxConcurrentTasks:       3,
		TaskTimeout:              "90s",
		TaskStartDelay:           "250ms",
		MaxRetries:               2,
		MaxQueueDepth:            0,
		ConfidenceThreshold:      0.55,
		MinConfidenceImprovement: 0.15,
		RespectUserApprovals:     true,
	}
}

// GetTaskTimeout returns the per-task timeout as a duration.
func (c AnalysisConfig) GetTaskTimeout() time.Duration {
	d, err := time.ParseDuration(c.TaskTimeout)
	if err != nil {
		return 90 * time.Second
	}
	return d
}

// GetTaskStartDelay returns the launch throttle as a duration.
func (c AnalysisConfig) GetTaskStartDelay() time.Duration {
	d, err := time.ParseDuration(c.TaskStartDelay)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}
