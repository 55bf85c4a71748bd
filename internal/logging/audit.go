// Audit logging: the emit_event sink. Events are structured JSON lines written
// to .planwright/logs/<date>_audit.log. The sink is fire-and-forget - a failure
// to write an audit event must never abort engine logic, so every error path
// here swallows the error after a best-effort stderr note.
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
	// Run lifecycle -> run_event
	AuditRunStart    AuditEventType = "run_start"
	AuditRunResume   AuditEventType = "run_resume"
	AuditRunComplete AuditEventType = "run_complete"
	AuditRunHalt     AuditEventType = "run_halt"

	// Phase lifecycle -> phase_event
	AuditPhaseEnter  AuditEventType = "phase_enter"
	AuditPhaseExit   AuditEventType = "phase_exit"
	AuditPhaseReopen AuditEventType = "phase_reopen"

	// Refinement -> refine_event
	AuditScoreComputed AuditEventType = "score_computed"
	AuditClarification AuditEventType = "clarification"
	AuditCapReached    AuditEventType = "iteration_cap_reached"

	// Discovery -> discovery_event
	AuditBundleDispatch AuditEventType = "bundle_dispatch"
	AuditBundleComplete AuditEventType = "bundle_complete"
	AuditGateAssigned   AuditEventType = "gate_assigned"

	// Resolution -> resolve_event
	AuditGroupQuestion AuditEventType = "group_question"
	AuditGroupResolved AuditEventType = "group_resolved"

	// Kernel -> kernel_event
	AuditKernelAssert AuditEventType = "kernel_assert"
	AuditKernelQuery  AuditEventType = "kernel_query"

	// LLM -> llm_event
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// User interaction -> user_event
	AuditUserQuestion AuditEventType = "user_question"
	AuditUserAnswer   AuditEventType = "user_answer"

	// Q-Gate -> qgate_event
	AuditFindingRecorded AuditEventType = "finding_recorded"
	AuditFindingResolved AuditEventType = "finding_resolved"

	// Skills and tasks
	AuditCapabilityResolved AuditEventType = "capability_resolved"
	AuditTaskCreated        AuditEventType = "task_created"
)

// AuditEvent is one structured audit record.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	RunID      string                 `json:"run,omitempty"`
	Phase      string                 `json:"phase,omitempty"`
	Target     string                 `json:"target,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit log file. No-op when logging is disabled.
func InitAudit() error {
	if !Enabled() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return err
	}
	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Emit writes one audit event. Never returns an error: audit failures must not
// abort the core logic.
func Emit(event AuditEvent) {
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		fmt.Fprintf(os.Stderr, "audit: marshal failed: %v\n", err)
		return
	}
	if _, err := auditFile.Write(append(data, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "audit: write failed: %v\n", err)
	}
}

// EmitSimple records a minimal success event on a channel.
func EmitSimple(eventType AuditEventType, runID, message string) {
	Emit(AuditEvent{EventType: eventType, RunID: runID, Message: message, Success: true})
}

// EmitError records a failure event.
func EmitError(eventType AuditEventType, runID string, err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	Emit(AuditEvent{EventType: eventType, RunID: runID, Error: msg, Success: false})
}
