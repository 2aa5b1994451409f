package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWorkflowCounters(t *testing.T) {
	registry := &Registry{}
	registry.IncWorkflowStarted()
	registry.IncWorkflowStarted()
	registry.IncWorkflowCompleted()
	registry.IncWorkflowFailed()
	registry.IncWorkflowWaiting()

	var output strings.Builder
	if err := registry.WritePrometheus(&output); err != nil {
		t.Fatalf("write: %v", err)
	}
	text := output.String()

	for _, line := range []string{
		"flowspec_workflows_started_total 2",
		"flowspec_workflows_completed_total 1",
		"flowspec_workflows_failed_total 1",
		"flowspec_workflows_waiting_total 1",
	} {
		if !strings.Contains(text, line) {
			t.Fatalf("missing %q in output:\n%s", line, text)
		}
	}
}

func TestRecordActivityAggregates(t *testing.T) {
	registry := &Registry{}
	registry.RecordActivity("SetupActivity", 100*time.Millisecond, nil, 1)
	registry.RecordActivity("SetupActivity", 300*time.Millisecond, errors.New("boom"), 2)

	var output strings.Builder
	if err := registry.WritePrometheus(&output); err != nil {
		t.Fatalf("write: %v", err)
	}
	text := output.String()

	if !strings.Contains(text, `flowspec_activity_duration_seconds_count{activity="SetupActivity"} 2`) {
		t.Fatalf("missing count in output:\n%s", text)
	}
	if !strings.Contains(text, `flowspec_activity_duration_seconds_sum{activity="SetupActivity"} 0.400000`) {
		t.Fatalf("missing duration sum in output:\n%s", text)
	}
	if !strings.Contains(text, `flowspec_activity_failures_total{activity="SetupActivity"} 1`) {
		t.Fatalf("missing failures in output:\n%s", text)
	}
	if !strings.Contains(text, `flowspec_activity_retries_total{activity="SetupActivity"} 1`) {
		t.Fatalf("missing retries in output:\n%s", text)
	}
}

func TestRecordActivityBlankNameBucketsAsUnknown(t *testing.T) {
	registry := &Registry{}
	registry.RecordActivity("  ", time.Millisecond, nil, 1)

	var output strings.Builder
	if err := registry.WritePrometheus(&output); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(output.String(), `activity="unknown"`) {
		t.Fatalf("blank name not bucketed as unknown:\n%s", output.String())
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncWorkflowStarted()
	registry.RecordActivity("x", time.Second, nil, 1)
	if err := registry.WritePrometheus(&strings.Builder{}); err != nil {
		t.Fatalf("write on nil registry: %v", err)
	}
}
