package workflows

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"flowspec/internal/metrics"
)

const (
	RunTaskQueueName = "flowspec-run"

	SetupActivityName            = "SetupActivity"
	AnalyzeActivityName          = "AnalyzeActivity"
	OpenQuestionsActivityName    = "OpenQuestionsActivity"
	GenerateSpecActivityName     = "GenerateSpecActivity"
	CreateRequestActivityName    = "CreateRequestActivity"
	FinalizeActivityName         = "FinalizeActivity"
	NotifyQuestionsActivityName  = "NotifyQuestionsActivity"
	NotifyApprovalActivityName   = "NotifyApprovalActivity"
	NotifyCompletionActivityName = "NotifyCompletionActivity"
	MarkFailedActivityName       = "MarkFailedActivity"

	IssueClosedSignalName = "spec.issue_closed"
	PRMergedSignalName    = "spec.pr_merged"

	StatusQueryName = "spec.status"

	DefaultStepTimeout       = 2 * time.Minute
	DefaultStepRetryAttempts = 2

	// A run may sit on a question ticket or an approval request for a
	// very long time. The wait is bounded so abandoned runs eventually
	// terminate instead of lingering forever.
	DefaultHumanWaitTimeout = 365 * 24 * time.Hour
	MinimumHumanWaitTimeout = 30 * 24 * time.Hour

	WorkflowIDPrefix = "specrun-"

	StageAnalyzing     = "analyzing"
	StageQuestionsOpen = "questions_open"
	StageDrafting      = "drafting"
	StagePROpen        = "pr_open"
	StageCompleted     = "completed"

	// Error types excluded from step retry. A broken archive or a
	// missing host token does not get better on a second attempt.
	ErrTypeMalformedPackage     = "MalformedPackage"
	ErrTypeConfigurationMissing = "ConfigurationMissing"
)

type SpecWorkflowRequest struct {
	UploadID string
	// QuestionIssue enables the question-ticket stage. When disabled,
	// or when analysis produced no questions, the run goes straight
	// from analysis to drafting.
	QuestionIssue bool
	// WaitTimeout bounds each human wait point. Out-of-range values
	// are clamped.
	WaitTimeout time.Duration
}

type SpecWorkflowResult struct {
	UploadID      string
	SolutionID    string
	IssueNumber   int
	PRNumber      int
	VersionNumber int
}

type SpecWorkflowState struct {
	UploadID      string
	Stage         string
	FlowCount     int
	QuestionCount int
	IssueNumber   int
	PRNumber      int
	VersionNumber int
}

type SetupResult struct {
	UploadID         string
	SolutionID       string
	SolutionName     string
	RepoName         string
	OwnerEmail       string
	PackageName      string
	PackageCreatedAt string
	FlowCount        int
	PackageJSON      string
}

type AnalyzeRequest struct {
	Setup SetupResult
}

type AnalyzeResult struct {
	AnalysisJSON  string
	QuestionCount int
	RepoName      string
	RepoFullName  string
	RepoHTMLURL   string
	DefaultBranch string
}

type OpenQuestionsRequest struct {
	Setup    SetupResult
	Analysis AnalyzeResult
}

type OpenQuestionsResult struct {
	IssueNumber int
	IssueURL    string
}

type GenerateSpecRequest struct {
	Setup    SetupResult
	Analysis AnalyzeResult
}

type GenerateSpecResult struct {
	Markdown      string
	VersionNumber int
}

type CreateRequestRequest struct {
	Setup    SetupResult
	Analysis AnalyzeResult
	Spec     GenerateSpecResult
}

type CreateRequestResult struct {
	PRNumber  int
	PRURL     string
	CommitSHA string
}

type FinalizeRequest struct {
	UploadID string
	Setup    SetupResult
	Spec     GenerateSpecResult
	Request  CreateRequestResult
}

type FinalizeResult struct {
	VersionNumber int
}

type NotifyQuestionsRequest struct {
	OwnerEmail    string
	PackageName   string
	IssueURL      string
	QuestionCount int
}

type NotifyApprovalRequest struct {
	OwnerEmail  string
	PackageName string
	PRURL       string
	Version     int
}

type NotifyCompletionRequest struct {
	OwnerEmail  string
	PackageName string
	Version     int
	RepoURL     string
}

type MarkFailedRequest struct {
	UploadID string
	Step     string
	Reason   string
}

type IssueClosedSignal struct {
	IssueNumber int
	Repo        string
}

type PRMergedSignal struct {
	PRNumber int
	Repo     string
}

// SpecWorkflow drives one uploaded package from parsing through analysis,
// the externally gated review stages, and finalization. The workflow holds
// no process resources while suspended: every wait point is a signal
// channel plus a bounded timer, and resumption may land on a different
// worker instance than the one that started the run.
func SpecWorkflow(workflowContext workflow.Context, request SpecWorkflowRequest) (result SpecWorkflowResult, err error) {
	// Counters never feed workflow decisions, but history replay re-runs
	// this function and must not bump them again.
	if !workflow.IsReplaying(workflowContext) {
		metrics.Default.IncWorkflowStarted()
	}
	defer func() {
		if workflow.IsReplaying(workflowContext) {
			return
		}
		if err != nil {
			metrics.Default.IncWorkflowFailed()
		} else {
			metrics.Default.IncWorkflowCompleted()
		}
	}()

	logger := workflow.GetLogger(workflowContext)

	state := SpecWorkflowState{UploadID: request.UploadID, Stage: "pending"}
	queryError := workflow.SetQueryHandler(workflowContext, StatusQueryName, func() (SpecWorkflowState, error) {
		return state, nil
	})
	if queryError != nil {
		return SpecWorkflowResult{}, queryError
	}

	stepContext := workflow.WithActivityOptions(workflowContext, workflow.ActivityOptions{
		StartToCloseTimeout: DefaultStepTimeout,
		RetryPolicy:         stepRetryPolicy(),
	})

	var setup SetupResult
	if activityErr := workflow.ExecuteActivity(stepContext, SetupActivityName, request.UploadID).Get(stepContext, &setup); activityErr != nil {
		return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "setup", activityErr)
	}
	state.Stage = StageAnalyzing
	state.FlowCount = setup.FlowCount

	var analysis AnalyzeResult
	if activityErr := workflow.ExecuteActivity(stepContext, AnalyzeActivityName, AnalyzeRequest{Setup: setup}).Get(stepContext, &analysis); activityErr != nil {
		return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "analyze", activityErr)
	}
	state.QuestionCount = analysis.QuestionCount

	waitTimeout := clampWaitTimeout(request.WaitTimeout)

	if request.QuestionIssue && analysis.QuestionCount > 0 {
		var questions OpenQuestionsResult
		if activityErr := workflow.ExecuteActivity(stepContext, OpenQuestionsActivityName, OpenQuestionsRequest{Setup: setup, Analysis: analysis}).Get(stepContext, &questions); activityErr != nil {
			return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "open-questions", activityErr)
		}
		state.Stage = StageQuestionsOpen
		state.IssueNumber = questions.IssueNumber

		if activityErr := workflow.ExecuteActivity(stepContext, NotifyQuestionsActivityName, NotifyQuestionsRequest{
			OwnerEmail:    setup.OwnerEmail,
			PackageName:   setup.PackageName,
			IssueURL:      questions.IssueURL,
			QuestionCount: analysis.QuestionCount,
		}).Get(stepContext, nil); activityErr != nil {
			return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "notify-questions", activityErr)
		}

		logger.Info("suspending until question ticket closes", "upload_id", request.UploadID, "issue", questions.IssueNumber)
		if !workflow.IsReplaying(workflowContext) {
			metrics.Default.IncWorkflowWaiting()
		}
		if !awaitIssueClosed(workflowContext, questions.IssueNumber, waitTimeout) {
			return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "wait-issue-closed",
				fmt.Errorf("question ticket #%d not closed within %s", questions.IssueNumber, waitTimeout))
		}
		logger.Info("question ticket closed, resuming", "upload_id", request.UploadID, "issue", questions.IssueNumber)
	}
	state.Stage = StageDrafting

	var spec GenerateSpecResult
	if activityErr := workflow.ExecuteActivity(stepContext, GenerateSpecActivityName, GenerateSpecRequest{Setup: setup, Analysis: analysis}).Get(stepContext, &spec); activityErr != nil {
		return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "generate-spec", activityErr)
	}
	state.VersionNumber = spec.VersionNumber

	var approval CreateRequestResult
	if activityErr := workflow.ExecuteActivity(stepContext, CreateRequestActivityName, CreateRequestRequest{Setup: setup, Analysis: analysis, Spec: spec}).Get(stepContext, &approval); activityErr != nil {
		return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "create-request", activityErr)
	}
	state.Stage = StagePROpen
	state.PRNumber = approval.PRNumber

	if activityErr := workflow.ExecuteActivity(stepContext, NotifyApprovalActivityName, NotifyApprovalRequest{
		OwnerEmail:  setup.OwnerEmail,
		PackageName: setup.PackageName,
		PRURL:       approval.PRURL,
		Version:     spec.VersionNumber,
	}).Get(stepContext, nil); activityErr != nil {
		return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "notify-approval", activityErr)
	}

	logger.Info("suspending until approval request merges", "upload_id", request.UploadID, "pr", approval.PRNumber)
	if !workflow.IsReplaying(workflowContext) {
		metrics.Default.IncWorkflowWaiting()
	}
	if !awaitPRMerged(workflowContext, approval.PRNumber, waitTimeout) {
		return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "wait-pr-merged",
			fmt.Errorf("approval request #%d not merged within %s", approval.PRNumber, waitTimeout))
	}
	logger.Info("approval request merged, resuming", "upload_id", request.UploadID, "pr", approval.PRNumber)

	var finalized FinalizeResult
	if activityErr := workflow.ExecuteActivity(stepContext, FinalizeActivityName, FinalizeRequest{
		UploadID: request.UploadID,
		Setup:    setup,
		Spec:     spec,
		Request:  approval,
	}).Get(stepContext, &finalized); activityErr != nil {
		return SpecWorkflowResult{}, failRun(stepContext, request.UploadID, "finalize", activityErr)
	}
	state.Stage = StageCompleted
	state.VersionNumber = finalized.VersionNumber

	if activityErr := workflow.ExecuteActivity(stepContext, NotifyCompletionActivityName, NotifyCompletionRequest{
		OwnerEmail:  setup.OwnerEmail,
		PackageName: setup.PackageName,
		Version:     finalized.VersionNumber,
		RepoURL:     analysis.RepoHTMLURL,
	}).Get(stepContext, nil); activityErr != nil {
		logger.Warn("completion notification failed", "upload_id", request.UploadID, "error", activityErr)
	}

	return SpecWorkflowResult{
		UploadID:      request.UploadID,
		SolutionID:    setup.SolutionID,
		IssueNumber:   state.IssueNumber,
		PRNumber:      approval.PRNumber,
		VersionNumber: finalized.VersionNumber,
	}, nil
}

// awaitIssueClosed blocks until a close event for the matching ticket
// number arrives or the wait times out. Events carrying other ticket
// numbers are drained and ignored so a stray webhook cannot resume the
// wrong run.
func awaitIssueClosed(workflowContext workflow.Context, issueNumber int, timeout time.Duration) bool {
	issueClosedChannel := workflow.GetSignalChannel(workflowContext, IssueClosedSignalName)

	timerContext, cancelTimer := workflow.WithCancel(workflowContext)
	defer cancelTimer()
	timer := workflow.NewTimer(timerContext, timeout)

	matched := false
	expired := false
	selector := workflow.NewSelector(workflowContext)
	selector.AddReceive(issueClosedChannel, func(channel workflow.ReceiveChannel, more bool) {
		var signal IssueClosedSignal
		channel.Receive(workflowContext, &signal)
		if signal.IssueNumber == issueNumber {
			matched = true
		}
	})
	selector.AddFuture(timer, func(workflow.Future) {
		expired = true
	})
	for !matched && !expired {
		selector.Select(workflowContext)
	}
	return matched
}

func awaitPRMerged(workflowContext workflow.Context, prNumber int, timeout time.Duration) bool {
	prMergedChannel := workflow.GetSignalChannel(workflowContext, PRMergedSignalName)

	timerContext, cancelTimer := workflow.WithCancel(workflowContext)
	defer cancelTimer()
	timer := workflow.NewTimer(timerContext, timeout)

	matched := false
	expired := false
	selector := workflow.NewSelector(workflowContext)
	selector.AddReceive(prMergedChannel, func(channel workflow.ReceiveChannel, more bool) {
		var signal PRMergedSignal
		channel.Receive(workflowContext, &signal)
		if signal.PRNumber == prNumber {
			matched = true
		}
	})
	selector.AddFuture(timer, func(workflow.Future) {
		expired = true
	})
	for !matched && !expired {
		selector.Select(workflowContext)
	}
	return matched
}

// failRun records the terminal failure on the upload before surfacing the
// step error. The marking activity is best effort and never masks the
// original error.
func failRun(workflowContext workflow.Context, uploadID, step string, cause error) error {
	logger := workflow.GetLogger(workflowContext)
	logger.Error("run step failed", "upload_id", uploadID, "step", step, "error", cause)

	markContext := workflow.WithActivityOptions(workflowContext, workflow.ActivityOptions{
		StartToCloseTimeout: DefaultStepTimeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	if markErr := workflow.ExecuteActivity(markContext, MarkFailedActivityName, MarkFailedRequest{
		UploadID: uploadID,
		Step:     step,
		Reason:   cause.Error(),
	}).Get(markContext, nil); markErr != nil {
		logger.Error("mark failed activity failed", "upload_id", uploadID, "error", markErr)
	}
	return fmt.Errorf("step %s: %w", step, cause)
}

func stepRetryPolicy() *temporal.RetryPolicy {
	return &temporal.RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 2.0,
		MaximumInterval:    30 * time.Second,
		MaximumAttempts:    DefaultStepRetryAttempts,
		NonRetryableErrorTypes: []string{
			ErrTypeMalformedPackage,
			ErrTypeConfigurationMissing,
		},
	}
}

func clampWaitTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultHumanWaitTimeout
	}
	if timeout < MinimumHumanWaitTimeout {
		return MinimumHumanWaitTimeout
	}
	if timeout > DefaultHumanWaitTimeout {
		return DefaultHumanWaitTimeout
	}
	return timeout
}

// WorkflowID derives the deterministic workflow identifier for an upload,
// used both to start the run and to route resumption signals.
func WorkflowID(uploadID string) string {
	return WorkflowIDPrefix + uploadID
}
