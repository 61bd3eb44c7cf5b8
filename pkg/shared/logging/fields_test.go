package logging

import (
	"errors"
	"testing"
	"time"
)

func TestNewFields(t *testing.T) {
	fields := NewFields()
	if fields == nil {
		t.Fatal("NewFields() returned nil")
	}
	if len(fields) != 0 {
		t.Errorf("NewFields() should be empty, got %d fields", len(fields))
	}
}

func TestFields_Component(t *testing.T) {
	fields := NewFields().Component("test-component")
	if fields["component"] != "test-component" {
		t.Errorf("Component() = %v, want %v", fields["component"], "test-component")
	}
}

func TestFields_Resource(t *testing.T) {
	fields := NewFields().Resource("workflow", "wf-1")
	if fields["resource_type"] != "workflow" {
		t.Errorf("resource_type = %v, want workflow", fields["resource_type"])
	}
	if fields["resource_name"] != "wf-1" {
		t.Errorf("resource_name = %v, want wf-1", fields["resource_name"])
	}
}

func TestFields_ResourceWithoutName(t *testing.T) {
	fields := NewFields().Resource("workflow", "")
	if _, exists := fields["resource_name"]; exists {
		t.Error("Resource() should not set resource_name when empty")
	}
}

func TestFields_Duration(t *testing.T) {
	fields := NewFields().Duration(150 * time.Millisecond)
	if fields["duration_ms"] != int64(150) {
		t.Errorf("Duration() = %v, want 150", fields["duration_ms"])
	}
}

func TestFields_Error(t *testing.T) {
	fields := NewFields().Error(errors.New("boom"))
	if fields["error"] != "boom" {
		t.Errorf("Error() = %v, want boom", fields["error"])
	}
}

func TestFields_ErrorNil(t *testing.T) {
	fields := NewFields().Error(nil)
	if _, exists := fields["error"]; exists {
		t.Error("Error(nil) should not set error field")
	}
}

func TestFields_UserIDEmpty(t *testing.T) {
	fields := NewFields().UserID("")
	if _, exists := fields["user_id"]; exists {
		t.Error("UserID(\"\") should not set user_id field")
	}
}

func TestFields_Attempt(t *testing.T) {
	fields := NewFields().Attempt(3)
	if fields["attempt"] != 3 {
		t.Errorf("Attempt() = %v, want 3", fields["attempt"])
	}
}

func TestFields_ChainedCalls(t *testing.T) {
	fields := NewFields().
		Component("executor").
		Operation("invoke").
		Resource("step", "step-1").
		Duration(100 * time.Millisecond).
		Count(5)

	expected := map[string]interface{}{
		"component":     "executor",
		"operation":     "invoke",
		"resource_type": "step",
		"resource_name": "step-1",
		"duration_ms":   int64(100),
		"count":         5,
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("chained: %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestFields_ToZap(t *testing.T) {
	fields := NewFields().Component("executor").Operation("invoke")
	zapFields := fields.ToZap()
	if len(zapFields) != 2 {
		t.Fatalf("ToZap() len = %d, want 2", len(zapFields))
	}
}

func TestFields_ToLogrus(t *testing.T) {
	fields := NewFields().Component("executor")
	logrusFields := fields.ToLogrus()
	if logrusFields["component"] != "executor" {
		t.Errorf("ToLogrus() component = %v, want executor", logrusFields["component"])
	}
}

func TestDatabaseFields(t *testing.T) {
	fields := DatabaseFields("insert", "workflows")
	expected := map[string]interface{}{
		"component":     "database",
		"operation":     "insert",
		"resource_type": "table",
		"resource_name": "workflows",
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("DatabaseFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestHTTPFields(t *testing.T) {
	fields := HTTPFields("POST", "/incident/123", 202)
	expected := map[string]interface{}{
		"component":   "http",
		"method":      "POST",
		"url":         "/incident/123",
		"status_code": 202,
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("HTTPFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestWorkflowFields(t *testing.T) {
	fields := WorkflowFields("compose", "wf-1")
	expected := map[string]interface{}{
		"component":     "workflow",
		"operation":     "compose",
		"resource_type": "workflow",
		"resource_name": "wf-1",
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("WorkflowFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestStepFields(t *testing.T) {
	fields := StepFields("advance", "step-1")
	if fields["component"] != "step" || fields["resource_name"] != "step-1" {
		t.Errorf("StepFields() unexpected: %v", fields)
	}
}

func TestQueueFields(t *testing.T) {
	fields := QueueFields("reserve", "task-1")
	expected := map[string]interface{}{
		"component":     "queue",
		"operation":     "reserve",
		"resource_type": "job",
		"resource_name": "task-1",
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("QueueFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestBreakerFields(t *testing.T) {
	fields := BreakerFields("llm-client", "open")
	if fields["component"] != "breaker" || fields["operation"] != "open" || fields["resource_name"] != "llm-client" {
		t.Errorf("BreakerFields() unexpected: %v", fields)
	}
}

func TestLockFields(t *testing.T) {
	fields := LockFields("acquire", "lock:kb_sync")
	if fields["component"] != "lock" || fields["resource_name"] != "lock:kb_sync" {
		t.Errorf("LockFields() unexpected: %v", fields)
	}
}

func TestAIFields(t *testing.T) {
	fields := AIFields("generate_postmortem", "claude-3")
	expected := map[string]interface{}{
		"component": "ai",
		"operation": "generate_postmortem",
		"model":     "claude-3",
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("AIFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestSecurityFields(t *testing.T) {
	fields := SecurityFields("authenticate", "svc-account")
	expected := map[string]interface{}{
		"component": "security",
		"operation": "authenticate",
		"subject":   "svc-account",
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("SecurityFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestPerformanceFields(t *testing.T) {
	fields := PerformanceFields("reserve_job", 250*time.Millisecond, true)
	expected := map[string]interface{}{
		"component":   "performance",
		"operation":   "reserve_job",
		"duration_ms": int64(250),
		"success":     true,
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("PerformanceFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}

func TestMetricsFields(t *testing.T) {
	fields := MetricsFields("record", "queue_depth", 42.0)
	expected := map[string]interface{}{
		"component":   "metrics",
		"operation":   "record",
		"metric_name": "queue_depth",
		"value":       42.0,
	}
	for key, want := range expected {
		if fields[key] != want {
			t.Errorf("MetricsFields() %s = %v, want %v", key, fields[key], want)
		}
	}
}
