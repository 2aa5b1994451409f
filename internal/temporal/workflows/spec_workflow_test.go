package workflows

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"flowspec/internal/metrics"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
)

// stubActivities records every activity invocation and feeds canned
// results into the workflow under test.
type stubActivities struct {
	mu    sync.Mutex
	calls []string

	setup         SetupResult
	analysis      AnalyzeResult
	questions     OpenQuestionsResult
	spec          GenerateSpecResult
	request       CreateRequestResult
	finalized     FinalizeResult
	setupErr      error
	markedFailed  []MarkFailedRequest
	notifications []string
}

func (s *stubActivities) record(name string) {
	s.mu.Lock()
	s.calls = append(s.calls, name)
	s.mu.Unlock()
}

func (s *stubActivities) called(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, call := range s.calls {
		if call == name {
			return true
		}
	}
	return false
}

func (s *stubActivities) Setup(ctx context.Context, uploadID string) (SetupResult, error) {
	s.record(SetupActivityName)
	if s.setupErr != nil {
		return SetupResult{}, s.setupErr
	}
	result := s.setup
	result.UploadID = uploadID
	return result, nil
}

func (s *stubActivities) Analyze(ctx context.Context, request AnalyzeRequest) (AnalyzeResult, error) {
	s.record(AnalyzeActivityName)
	return s.analysis, nil
}

func (s *stubActivities) OpenQuestions(ctx context.Context, request OpenQuestionsRequest) (OpenQuestionsResult, error) {
	s.record(OpenQuestionsActivityName)
	return s.questions, nil
}

func (s *stubActivities) GenerateSpec(ctx context.Context, request GenerateSpecRequest) (GenerateSpecResult, error) {
	s.record(GenerateSpecActivityName)
	return s.spec, nil
}

func (s *stubActivities) CreateRequest(ctx context.Context, request CreateRequestRequest) (CreateRequestResult, error) {
	s.record(CreateRequestActivityName)
	return s.request, nil
}

func (s *stubActivities) Finalize(ctx context.Context, request FinalizeRequest) (FinalizeResult, error) {
	s.record(FinalizeActivityName)
	return s.finalized, nil
}

func (s *stubActivities) NotifyQuestions(ctx context.Context, request NotifyQuestionsRequest) error {
	s.record(NotifyQuestionsActivityName)
	s.mu.Lock()
	s.notifications = append(s.notifications, "questions")
	s.mu.Unlock()
	return nil
}

func (s *stubActivities) NotifyApproval(ctx context.Context, request NotifyApprovalRequest) error {
	s.record(NotifyApprovalActivityName)
	s.mu.Lock()
	s.notifications = append(s.notifications, "approval")
	s.mu.Unlock()
	return nil
}

func (s *stubActivities) NotifyCompletion(ctx context.Context, request NotifyCompletionRequest) error {
	s.record(NotifyCompletionActivityName)
	s.mu.Lock()
	s.notifications = append(s.notifications, "completion")
	s.mu.Unlock()
	return nil
}

func (s *stubActivities) MarkFailed(ctx context.Context, request MarkFailedRequest) error {
	s.record(MarkFailedActivityName)
	s.mu.Lock()
	s.markedFailed = append(s.markedFailed, request)
	s.mu.Unlock()
	return nil
}

func newStubActivities() *stubActivities {
	return &stubActivities{
		setup: SetupResult{
			SolutionID:   "sol-1",
			SolutionName: "Invoice Automation",
			RepoName:     "invoice-automation-specs",
			OwnerEmail:   "owner@example.com",
			PackageName:  "Invoice Automation",
			FlowCount:    1,
		},
		analysis:  AnalyzeResult{QuestionCount: 3, RepoName: "invoice-automation-specs", RepoHTMLURL: "https://host/repo"},
		questions: OpenQuestionsResult{IssueNumber: 17, IssueURL: "https://host/issue/17"},
		spec:      GenerateSpecResult{Markdown: "# Invoice Automation\n", VersionNumber: 1},
		request:   CreateRequestResult{PRNumber: 4, PRURL: "https://host/pr/4", CommitSHA: "abc123"},
		finalized: FinalizeResult{VersionNumber: 1},
	}
}

func newWorkflowEnv(t *testing.T, stubs *stubActivities) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(SpecWorkflow)
	env.RegisterActivityWithOptions(stubs.Setup, activity.RegisterOptions{Name: SetupActivityName})
	env.RegisterActivityWithOptions(stubs.Analyze, activity.RegisterOptions{Name: AnalyzeActivityName})
	env.RegisterActivityWithOptions(stubs.OpenQuestions, activity.RegisterOptions{Name: OpenQuestionsActivityName})
	env.RegisterActivityWithOptions(stubs.GenerateSpec, activity.RegisterOptions{Name: GenerateSpecActivityName})
	env.RegisterActivityWithOptions(stubs.CreateRequest, activity.RegisterOptions{Name: CreateRequestActivityName})
	env.RegisterActivityWithOptions(stubs.Finalize, activity.RegisterOptions{Name: FinalizeActivityName})
	env.RegisterActivityWithOptions(stubs.NotifyQuestions, activity.RegisterOptions{Name: NotifyQuestionsActivityName})
	env.RegisterActivityWithOptions(stubs.NotifyApproval, activity.RegisterOptions{Name: NotifyApprovalActivityName})
	env.RegisterActivityWithOptions(stubs.NotifyCompletion, activity.RegisterOptions{Name: NotifyCompletionActivityName})
	env.RegisterActivityWithOptions(stubs.MarkFailed, activity.RegisterOptions{Name: MarkFailedActivityName})
	return env
}

func TestSpecWorkflowHappyPathWithQuestions(t *testing.T) {
	stubs := newStubActivities()
	env := newWorkflowEnv(t, stubs)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(IssueClosedSignalName, IssueClosedSignal{IssueNumber: 17})
	}, time.Hour)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(PRMergedSignalName, PRMergedSignal{PRNumber: 4})
	}, 2*time.Hour)

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{UploadID: "up-1", QuestionIssue: true})

	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}

	var result SpecWorkflowResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("get result: %v", err)
	}
	if result.UploadID != "up-1" || result.SolutionID != "sol-1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.IssueNumber != 17 || result.PRNumber != 4 || result.VersionNumber != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	for _, name := range []string{
		SetupActivityName, AnalyzeActivityName, OpenQuestionsActivityName,
		NotifyQuestionsActivityName, GenerateSpecActivityName, CreateRequestActivityName,
		NotifyApprovalActivityName, FinalizeActivityName, NotifyCompletionActivityName,
	} {
		if !stubs.called(name) {
			t.Fatalf("expected activity %s to run", name)
		}
	}
	if stubs.called(MarkFailedActivityName) {
		t.Fatal("successful run must not be marked failed")
	}

	queryResult, err := env.QueryWorkflow(StatusQueryName)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	var state SpecWorkflowState
	if err := queryResult.Get(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.Stage != StageCompleted || state.QuestionCount != 3 {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestSpecWorkflowSkipsQuestionStageWhenNoQuestions(t *testing.T) {
	stubs := newStubActivities()
	stubs.analysis.QuestionCount = 0
	env := newWorkflowEnv(t, stubs)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(PRMergedSignalName, PRMergedSignal{PRNumber: 4})
	}, time.Hour)

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{UploadID: "up-1", QuestionIssue: true})

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if stubs.called(OpenQuestionsActivityName) || stubs.called(NotifyQuestionsActivityName) {
		t.Fatal("question stage must be skipped when analysis has no questions")
	}
}

func TestSpecWorkflowSkipsQuestionStageWhenDisabled(t *testing.T) {
	stubs := newStubActivities()
	env := newWorkflowEnv(t, stubs)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(PRMergedSignalName, PRMergedSignal{PRNumber: 4})
	}, time.Hour)

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{UploadID: "up-1", QuestionIssue: false})

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if stubs.called(OpenQuestionsActivityName) {
		t.Fatal("question stage must be skipped when disabled")
	}
}

func TestSpecWorkflowIgnoresMismatchedSignals(t *testing.T) {
	stubs := newStubActivities()
	env := newWorkflowEnv(t, stubs)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(IssueClosedSignalName, IssueClosedSignal{IssueNumber: 999})
	}, time.Hour)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(IssueClosedSignalName, IssueClosedSignal{IssueNumber: 17})
	}, 2*time.Hour)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(PRMergedSignalName, PRMergedSignal{PRNumber: 888})
	}, 3*time.Hour)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(PRMergedSignalName, PRMergedSignal{PRNumber: 4})
	}, 4*time.Hour)

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{UploadID: "up-1", QuestionIssue: true})

	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var result SpecWorkflowResult
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("get result: %v", err)
	}
	if result.IssueNumber != 17 || result.PRNumber != 4 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSpecWorkflowIssueWaitTimesOut(t *testing.T) {
	stubs := newStubActivities()
	env := newWorkflowEnv(t, stubs)

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{UploadID: "up-1", QuestionIssue: true})

	err := env.GetWorkflowError()
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "wait-issue-closed") {
		t.Fatalf("unexpected error %v", err)
	}
	if !stubs.called(MarkFailedActivityName) {
		t.Fatal("timed-out run must be marked failed")
	}
	stubs.mu.Lock()
	defer stubs.mu.Unlock()
	if len(stubs.markedFailed) != 1 || stubs.markedFailed[0].Step != "wait-issue-closed" {
		t.Fatalf("unexpected failure record %+v", stubs.markedFailed)
	}
}

func TestSpecWorkflowSetupFailureMarksRun(t *testing.T) {
	stubs := newStubActivities()
	stubs.setupErr = temporal.NewNonRetryableApplicationError("archive is not a zip", ErrTypeMalformedPackage, nil)
	env := newWorkflowEnv(t, stubs)

	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{UploadID: "up-1"})

	err := env.GetWorkflowError()
	if err == nil {
		t.Fatal("expected setup failure")
	}
	var applicationError *temporal.ApplicationError
	if !errors.As(err, &applicationError) {
		t.Fatalf("expected application error in chain, got %v", err)
	}
	if applicationError.Type() != ErrTypeMalformedPackage {
		t.Fatalf("unexpected error type %q", applicationError.Type())
	}
	if !stubs.called(MarkFailedActivityName) {
		t.Fatal("failed run must be marked failed")
	}
	if stubs.called(AnalyzeActivityName) {
		t.Fatal("analysis must not run after setup failure")
	}
}

func TestClampWaitTimeout(t *testing.T) {
	if got := clampWaitTimeout(0); got != DefaultHumanWaitTimeout {
		t.Fatalf("zero timeout: got %s", got)
	}
	if got := clampWaitTimeout(-time.Hour); got != DefaultHumanWaitTimeout {
		t.Fatalf("negative timeout: got %s", got)
	}
	if got := clampWaitTimeout(time.Hour); got != MinimumHumanWaitTimeout {
		t.Fatalf("short timeout must clamp up: got %s", got)
	}
	if got := clampWaitTimeout(2 * DefaultHumanWaitTimeout); got != DefaultHumanWaitTimeout {
		t.Fatalf("long timeout must clamp down: got %s", got)
	}
	middle := 90 * 24 * time.Hour
	if got := clampWaitTimeout(middle); got != middle {
		t.Fatalf("in-range timeout must pass through: got %s", got)
	}
}

func TestWorkflowIDIsDeterministic(t *testing.T) {
	if WorkflowID("up-1") != "specrun-up-1" {
		t.Fatalf("unexpected workflow id %q", WorkflowID("up-1"))
	}
	if WorkflowID("up-1") != WorkflowID("up-1") {
		t.Fatal("workflow id must be stable")
	}
}

func workflowCounterSnapshot(t *testing.T) map[string]int64 {
	t.Helper()
	var buffer bytes.Buffer
	if err := metrics.Default.WritePrometheus(&buffer); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
	counters := map[string]int64{}
	for _, line := range strings.Split(buffer.String(), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 2 || !strings.HasPrefix(fields[0], "flowspec_workflows_") {
			continue
		}
		value, parseError := strconv.ParseInt(fields[1], 10, 64)
		if parseError != nil {
			continue
		}
		counters[fields[0]] = value
	}
	return counters
}

func TestSpecWorkflowCountersIncrementOncePerRun(t *testing.T) {
	stubs := newStubActivities()
	env := newWorkflowEnv(t, stubs)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(IssueClosedSignalName, IssueClosedSignal{IssueNumber: 17})
	}, time.Hour)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(PRMergedSignalName, PRMergedSignal{PRNumber: 4})
	}, 2*time.Hour)

	before := workflowCounterSnapshot(t)
	env.ExecuteWorkflow(SpecWorkflow, SpecWorkflowRequest{UploadID: "up-1", QuestionIssue: true})
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	after := workflowCounterSnapshot(t)

	deltas := map[string]int64{
		"flowspec_workflows_started_total":   1,
		"flowspec_workflows_completed_total": 1,
		"flowspec_workflows_failed_total":    0,
		"flowspec_workflows_waiting_total":   2,
	}
	for metric, want := range deltas {
		if got := after[metric] - before[metric]; got != want {
			t.Fatalf("%s changed by %d, want %d", metric, got, want)
		}
	}
}
