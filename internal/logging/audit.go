// Package logging - audit trail for taxonomy mutations and guardrail decisions.
// Audit events are structured JSONL records written to .taxod/logs/audit.jsonl
// so that every automatic change to the category tree can be reconstructed.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType defines the type of audit event.
type AuditEventType string

const (
	// Tree mutation events
	AuditCategoryCreate AuditEventType = "category_create"
	AuditCategoryRename AuditEventType = "category_rename"
	AuditCategoryMerge  AuditEventType = "category_merge"
	AuditCategorySplit  AuditEventType = "category_split"
	AuditCategoryRemove AuditEventType = "category_remove"
	AuditFileReassign   AuditEventType = "file_reassign"
	AuditDepthFlatten   AuditEventType = "depth_flatten"

	// Gatekeeper / guardrail events
	AuditSuggestionRegister AuditEventType = "suggestion_register"
	AuditSuggestionApprove  AuditEventType = "suggestion_approve"
	AuditSuggestionReject   AuditEventType = "suggestion_reject"
	AuditGuardrailVeto      AuditEventType = "guardrail_veto"
	AuditUserEditMark       AuditEventType = "user_edit_mark"

	// Deep-analysis task events
	AuditTaskEnqueue  AuditEventType = "task_enqueue"
	AuditTaskStart    AuditEventType = "task_start"
	AuditTaskComplete AuditEventType = "task_complete"
	AuditTaskFail     AuditEventType = "task_fail"
	AuditTaskCancel   AuditEventType = "task_cancel"

	// LLM API events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"
)

// AuditEvent is a single structured audit record.
type AuditEvent struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Type      AuditEventType         `json:"type"`
	Subject   string                 `json:"subject"`          // node/task/suggestion id
	Detail    string                 `json:"detail,omitempty"` // human-readable summary
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// AuditLogger writes audit events as JSONL, one event per line.
type AuditLogger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

var (
	auditLogger *AuditLogger
	auditOnce   sync.Once
)

// Audit returns the shared audit logger, creating it lazily.
// Returns a no-op logger when the workspace is not initialized.
func Audit() *AuditLogger {
	auditOnce.Do(func() {
		auditLogger = &AuditLogger{}
		if workspace == "" {
			return
		}
		dir := filepath.Join(workspace, ".taxod", "logs")
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "[audit] Warning: could not create audit dir: %v\n", err)
			return
		}
		path := filepath.Join(dir, "audit.jsonl")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[audit] Warning: could not open audit log: %v\n", err)
			return
		}
		auditLogger.file = f
		auditLogger.path = path
	})
	return auditLogger
}

// Emit writes a single audit event. Failures are swallowed: auditing must
// never break the operation it records.
func (a *AuditLogger) Emit(eventType AuditEventType, subject, detail string, fields map[string]interface{}) {
	if a == nil || a.file == nil {
		return
	}
	event := AuditEvent{
		Timestamp: time.Now().UnixMilli(),
		Type:      eventType,
		Subject:   subject,
		Detail:    detail,
		Fields:    fields,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.file.Write(append(data, '\n'))
}

// Close closes the underlying audit file.
func (a *AuditLogger) Close() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file != nil {
		a.file.Close()
		a.file = nil
	}
}

// AuditMutation records a tree mutation event.
func AuditMutation(eventType AuditEventType, nodeID, detail string) {
	Audit().Emit(eventType, nodeID, detail, nil)
}

// AuditTask records a task lifecycle event.
func AuditTask(eventType AuditEventType, taskID, detail string, fields map[string]interface{}) {
	Audit().Emit(eventType, taskID, detail, fields)
}

// AuditGuard records a gatekeeper or guardrail decision.
func AuditGuard(eventType AuditEventType, suggestionID, detail string) {
	Audit().Emit(eventType, suggestionID, detail, nil)
}
