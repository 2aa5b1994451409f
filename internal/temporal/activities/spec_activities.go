package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"flowspec/internal/analysis"
	"flowspec/internal/githost"
	"flowspec/internal/logging"
	"flowspec/internal/metrics"
	"flowspec/internal/notify"
	"flowspec/internal/pack"
	"flowspec/internal/skill"
	"flowspec/internal/specdoc"
	"flowspec/internal/store"
	"flowspec/internal/temporal/workflows"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
)

const (
	eventSourceWorkflow = "workflow"

	specBranchPrefix = "spec/v"
)

// SpecActivities holds every side-effecting step of a specification run.
// The host client and notifier may be nil when the deployment has no git
// host or mail provider configured; steps that require them fail with a
// non-retryable configuration error.
type SpecActivities struct {
	Store         *store.Store
	Skills        *skill.Store
	Host          *githost.Client
	Notifier      notify.Notifier
	Logger        *logging.Logger
	WebhookURL    string
	WebhookSecret string
}

func NewSpecActivities(dataStore *store.Store, skills *skill.Store, host *githost.Client, notifier notify.Notifier, webhookURL, webhookSecret string, logger *logging.Logger) *SpecActivities {
	return &SpecActivities{
		Store:         dataStore,
		Skills:        skills,
		Host:          host,
		Notifier:      notifier,
		Logger:        logger,
		WebhookURL:    webhookURL,
		WebhookSecret: webhookSecret,
	}
}

// SetupActivity loads the upload, reads its archive from disk, and parses
// it. A structurally broken archive fails the run without retry.
func (activities *SpecActivities) SetupActivity(activityContext context.Context, uploadID string) (result workflows.SetupResult, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.SetupActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityError := contextError(activityContext); activityError != nil {
		return workflows.SetupResult{}, activityError
	}
	dataStore, storeError := activities.ensureStore()
	if storeError != nil {
		return workflows.SetupResult{}, storeError
	}
	trimmedID := strings.TrimSpace(uploadID)
	if trimmedID == "" {
		return workflows.SetupResult{}, errors.New("upload id is required")
	}

	upload, uploadError := dataStore.Upload(trimmedID)
	if uploadError != nil {
		return workflows.SetupResult{}, uploadError
	}
	solution, solutionError := dataStore.Solution(upload.SolutionID)
	if solutionError != nil {
		return workflows.SetupResult{}, solutionError
	}
	if statusError := dataStore.SetUploadStatus(upload.ID, store.StatusAnalyzing); statusError != nil {
		return workflows.SetupResult{}, statusError
	}

	archiveData, readError := os.ReadFile(upload.ArchivePath)
	if readError != nil {
		activities.recordStep(upload.ID, "setup", "error", "archive read failed: "+readError.Error())
		return workflows.SetupResult{}, readError
	}
	parsedPackage, parseError := pack.Parse(archiveData)
	if parseError != nil {
		activities.recordStep(upload.ID, "setup", "error", "package parse failed: "+parseError.Error())
		var malformed *pack.MalformedPackageError
		if errors.As(parseError, &malformed) {
			return workflows.SetupResult{}, temporal.NewApplicationError(parseError.Error(), workflows.ErrTypeMalformedPackage)
		}
		return workflows.SetupResult{}, parseError
	}

	packageJSON, marshalError := json.Marshal(parsedPackage)
	if marshalError != nil {
		return workflows.SetupResult{}, marshalError
	}

	activities.recordStep(upload.ID, "setup", "info", "package parsed")
	activities.logInfo("run setup complete", map[string]string{
		"upload_id":  upload.ID,
		"flow_count": strconv.Itoa(len(parsedPackage.Flows)),
	})
	return workflows.SetupResult{
		UploadID:         upload.ID,
		SolutionID:       solution.ID,
		SolutionName:     solution.Name,
		RepoName:         solution.RepoName,
		OwnerEmail:       solution.OwnerEmail,
		PackageName:      parsedPackage.Manifest.Details.DisplayName,
		PackageCreatedAt: parsedPackage.Manifest.Details.CreatedTime,
		FlowCount:        len(parsedPackage.Flows),
		PackageJSON:      string(packageJSON),
	}, nil
}

// AnalyzeActivity matches the parsed package against the skill knowledge
// base and makes sure the solution's repository exists. Webhook
// registration is best effort: a run proceeds even when the host refuses
// the hook, resumption then depends on manual delivery.
func (activities *SpecActivities) AnalyzeActivity(activityContext context.Context, request workflows.AnalyzeRequest) (result workflows.AnalyzeResult, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.AnalyzeActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityError := contextError(activityContext); activityError != nil {
		return workflows.AnalyzeResult{}, activityError
	}
	dataStore, storeError := activities.ensureStore()
	if storeError != nil {
		return workflows.AnalyzeResult{}, storeError
	}

	var parsedPackage pack.Package
	if unmarshalError := json.Unmarshal([]byte(request.Setup.PackageJSON), &parsedPackage); unmarshalError != nil {
		return workflows.AnalyzeResult{}, unmarshalError
	}

	var definitions []skill.Definition
	if activities.Skills != nil {
		definitions = activities.Skills.All()
	}
	results := analysis.Analyze(&parsedPackage, definitions)
	questionCount := 0
	for _, result := range results {
		questionCount += len(result.Questions)
	}
	analysisJSON, marshalError := json.Marshal(results)
	if marshalError != nil {
		return workflows.AnalyzeResult{}, marshalError
	}

	analyzeResult := workflows.AnalyzeResult{
		AnalysisJSON:  string(analysisJSON),
		QuestionCount: questionCount,
	}

	if activities.Host != nil {
		repoName := request.Setup.RepoName
		if strings.TrimSpace(repoName) == "" {
			repoName = deriveRepoName(request.Setup.SolutionName, request.Setup.SolutionID)
		}
		repo, repoError := activities.Host.GetOrCreateRepo(activityContext, repoName)
		if repoError != nil {
			activities.recordStep(request.Setup.UploadID, "analyze", "error", "repository setup failed: "+repoError.Error())
			return workflows.AnalyzeResult{}, repoError
		}
		if setRepoError := dataStore.SetSolutionRepo(request.Setup.SolutionID, repoName); setRepoError != nil {
			return workflows.AnalyzeResult{}, setRepoError
		}
		analyzeResult.RepoName = repoName
		analyzeResult.RepoFullName = repo.FullName
		analyzeResult.RepoHTMLURL = repo.HTMLURL
		analyzeResult.DefaultBranch = repo.DefaultBranch
		activities.ensureWebhook(activityContext, repoName, request.Setup.UploadID)
	}

	activities.recordStep(request.Setup.UploadID, "analyze", "info",
		fmt.Sprintf("analysis complete: %d flows, %d open questions", len(results), questionCount))
	return analyzeResult, nil
}

// OpenQuestionsActivity raises the question ticket. Re-execution after a
// crash reuses the ticket already recorded on the upload instead of
// opening a duplicate.
func (activities *SpecActivities) OpenQuestionsActivity(activityContext context.Context, request workflows.OpenQuestionsRequest) (result workflows.OpenQuestionsResult, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.OpenQuestionsActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityError := contextError(activityContext); activityError != nil {
		return workflows.OpenQuestionsResult{}, activityError
	}
	dataStore, storeError := activities.ensureStore()
	if storeError != nil {
		return workflows.OpenQuestionsResult{}, storeError
	}
	host, hostError := activities.ensureHost()
	if hostError != nil {
		return workflows.OpenQuestionsResult{}, hostError
	}

	upload, uploadError := dataStore.Upload(request.Setup.UploadID)
	if uploadError != nil {
		return workflows.OpenQuestionsResult{}, uploadError
	}
	if upload.IssueNumber != 0 {
		existing, issueError := host.GetIssue(activityContext, request.Analysis.RepoName, upload.IssueNumber)
		if issueError != nil {
			return workflows.OpenQuestionsResult{}, issueError
		}
		activities.logInfo("question ticket already open", map[string]string{
			"upload_id": upload.ID,
			"issue":     strconv.Itoa(upload.IssueNumber),
		})
		return workflows.OpenQuestionsResult{IssueNumber: existing.Number, IssueURL: existing.HTMLURL}, nil
	}

	var results []analysis.Result
	if unmarshalError := json.Unmarshal([]byte(request.Analysis.AnalysisJSON), &results); unmarshalError != nil {
		return workflows.OpenQuestionsResult{}, unmarshalError
	}

	title := fmt.Sprintf("Open questions: %s", request.Setup.PackageName)
	body := questionIssueBody(request.Setup.PackageName, results)
	issue, issueError := host.CreateIssue(activityContext, request.Analysis.RepoName, title, body, []string{"spec-questions"})
	if issueError != nil {
		activities.recordStep(upload.ID, "open-questions", "error", "ticket creation failed: "+issueError.Error())
		return workflows.OpenQuestionsResult{}, issueError
	}
	if setError := dataStore.SetUploadIssue(upload.ID, issue.Number); setError != nil {
		return workflows.OpenQuestionsResult{}, setError
	}
	if statusError := dataStore.SetUploadStatus(upload.ID, store.StatusQuestionsOpen); statusError != nil {
		return workflows.OpenQuestionsResult{}, statusError
	}
	activities.recordStep(upload.ID, "open-questions", "info",
		fmt.Sprintf("question ticket #%d opened", issue.Number))
	return workflows.OpenQuestionsResult{IssueNumber: issue.Number, IssueURL: issue.HTMLURL}, nil
}

// GenerateSpecActivity renders the versioned specification document. The
// version number is only reserved here; it becomes durable when the run
// finalizes.
func (activities *SpecActivities) GenerateSpecActivity(activityContext context.Context, request workflows.GenerateSpecRequest) (result workflows.GenerateSpecResult, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.GenerateSpecActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityError := contextError(activityContext); activityError != nil {
		return workflows.GenerateSpecResult{}, activityError
	}
	dataStore, storeError := activities.ensureStore()
	if storeError != nil {
		return workflows.GenerateSpecResult{}, storeError
	}

	var results []analysis.Result
	if unmarshalError := json.Unmarshal([]byte(request.Analysis.AnalysisJSON), &results); unmarshalError != nil {
		return workflows.GenerateSpecResult{}, unmarshalError
	}

	versionNumber := dataStore.NextSpecVersion(request.Setup.SolutionID)
	markdown := specdoc.RenderAll(results, specdoc.Meta{
		SolutionName: request.Setup.SolutionName,
		PackageName:  request.Setup.PackageName,
		CreatedAt:    request.Setup.PackageCreatedAt,
		Version:      versionNumber,
	})
	if statusError := dataStore.SetUploadStatus(request.Setup.UploadID, store.StatusDrafting); statusError != nil {
		return workflows.GenerateSpecResult{}, statusError
	}
	activities.recordStep(request.Setup.UploadID, "generate-spec", "info",
		fmt.Sprintf("specification v%d rendered", versionNumber))
	return workflows.GenerateSpecResult{Markdown: markdown, VersionNumber: versionNumber}, nil
}

// CreateRequestActivity publishes the rendered document on a spec branch
// and opens the approval request. Like the ticket step it reuses an
// already-recorded request on re-execution.
func (activities *SpecActivities) CreateRequestActivity(activityContext context.Context, request workflows.CreateRequestRequest) (result workflows.CreateRequestResult, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.CreateRequestActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityError := contextError(activityContext); activityError != nil {
		return workflows.CreateRequestResult{}, activityError
	}
	dataStore, storeError := activities.ensureStore()
	if storeError != nil {
		return workflows.CreateRequestResult{}, storeError
	}
	host, hostError := activities.ensureHost()
	if hostError != nil {
		return workflows.CreateRequestResult{}, hostError
	}

	upload, uploadError := dataStore.Upload(request.Setup.UploadID)
	if uploadError != nil {
		return workflows.CreateRequestResult{}, uploadError
	}
	if upload.PRNumber != 0 {
		existing, prError := host.GetPullRequest(activityContext, request.Analysis.RepoName, upload.PRNumber)
		if prError != nil {
			return workflows.CreateRequestResult{}, prError
		}
		activities.logInfo("approval request already open", map[string]string{
			"upload_id": upload.ID,
			"pr":        strconv.Itoa(upload.PRNumber),
		})
		return workflows.CreateRequestResult{PRNumber: existing.Number, PRURL: existing.HTMLURL}, nil
	}

	branchName := specBranchPrefix + strconv.Itoa(request.Spec.VersionNumber)
	baseBranch := request.Analysis.DefaultBranch
	if baseBranch == "" {
		baseBranch = "main"
	}
	if branchError := host.CreateBranch(activityContext, request.Analysis.RepoName, branchName, baseBranch); branchError != nil {
		// The branch surviving an earlier crashed attempt is fine.
		var httpError *githost.HTTPError
		if !errors.As(branchError, &httpError) || httpError.StatusCode != 422 {
			activities.recordStep(upload.ID, "create-request", "error", "branch creation failed: "+branchError.Error())
			return workflows.CreateRequestResult{}, branchError
		}
	}

	documentPath := fmt.Sprintf("specs/%s/spec-v%d.md", sanitizePathSegment(request.Setup.PackageName), request.Spec.VersionNumber)
	commitMessage := fmt.Sprintf("Add specification v%d for %s", request.Spec.VersionNumber, request.Setup.PackageName)
	// A crashed earlier attempt may already have written the document on
	// the surviving branch; overwriting requires its blob sha.
	existingSHA, shaError := host.FileSHA(activityContext, request.Analysis.RepoName, documentPath, branchName)
	if shaError != nil {
		activities.recordStep(upload.ID, "create-request", "error", "document lookup failed: "+shaError.Error())
		return workflows.CreateRequestResult{}, shaError
	}
	commit, commitError := host.CommitFile(activityContext, request.Analysis.RepoName, documentPath, request.Spec.Markdown, commitMessage, branchName, existingSHA)
	if commitError != nil {
		activities.recordStep(upload.ID, "create-request", "error", "document commit failed: "+commitError.Error())
		return workflows.CreateRequestResult{}, commitError
	}

	title := fmt.Sprintf("Specification v%d: %s", request.Spec.VersionNumber, request.Setup.PackageName)
	body := fmt.Sprintf("Review the generated specification for %s.\n\nMerging this request approves version %d and makes it the current document.",
		request.Setup.PackageName, request.Spec.VersionNumber)
	pullRequest, prError := host.CreatePullRequest(activityContext, request.Analysis.RepoName, title, body, branchName, baseBranch)
	if prError != nil {
		activities.recordStep(upload.ID, "create-request", "error", "approval request failed: "+prError.Error())
		return workflows.CreateRequestResult{}, prError
	}
	if setError := dataStore.SetUploadPR(upload.ID, pullRequest.Number); setError != nil {
		return workflows.CreateRequestResult{}, setError
	}
	if statusError := dataStore.SetUploadStatus(upload.ID, store.StatusPROpen); statusError != nil {
		return workflows.CreateRequestResult{}, statusError
	}
	activities.recordStep(upload.ID, "create-request", "info",
		fmt.Sprintf("approval request #%d opened", pullRequest.Number))
	return workflows.CreateRequestResult{
		PRNumber:  pullRequest.Number,
		PRURL:     pullRequest.HTMLURL,
		CommitSHA: commit.Commit.SHA,
	}, nil
}

// FinalizeActivity promotes the approved document: the version row is
// inserted as current and every previous current version is demoted in the
// same store transaction.
func (activities *SpecActivities) FinalizeActivity(activityContext context.Context, request workflows.FinalizeRequest) (result workflows.FinalizeResult, activityErr error) {
	start := time.Now()
	attempt := activityAttempt(activityContext)
	defer func() {
		metrics.Default.RecordActivity(workflows.FinalizeActivityName, time.Since(start), activityErr, attempt)
	}()

	if activityError := contextError(activityContext); activityError != nil {
		return workflows.FinalizeResult{}, activityError
	}
	dataStore, storeError := activities.ensureStore()
	if storeError != nil {
		return workflows.FinalizeResult{}, storeError
	}

	finalized, finalizeError := dataStore.FinalizeSpecVersion(store.SpecVersion{
		SolutionID:    request.Setup.SolutionID,
		UploadID:      request.UploadID,
		VersionNumber: request.Spec.VersionNumber,
		Markdown:      request.Spec.Markdown,
		CommitSHA:     request.Request.CommitSHA,
	})
	if finalizeError != nil {
		activities.recordStep(request.UploadID, "finalize", "error", "version finalize failed: "+finalizeError.Error())
		return workflows.FinalizeResult{}, finalizeError
	}
	if statusError := dataStore.SetUploadStatus(request.UploadID, store.StatusCompleted); statusError != nil {
		return workflows.FinalizeResult{}, statusError
	}
	activities.recordStep(request.UploadID, "finalize", "info",
		fmt.Sprintf("specification v%d is now current", finalized.VersionNumber))
	return workflows.FinalizeResult{VersionNumber: finalized.VersionNumber}, nil
}

func (activities *SpecActivities) NotifyQuestionsActivity(activityContext context.Context, request workflows.NotifyQuestionsRequest) error {
	if activityError := contextError(activityContext); activityError != nil {
		return activityError
	}
	notifier, notifierError := activities.ensureNotifier()
	if notifierError != nil {
		return notifierError
	}
	return notifier.QuestionRequest(activityContext, request.OwnerEmail, request.PackageName, request.IssueURL, request.QuestionCount)
}

func (activities *SpecActivities) NotifyApprovalActivity(activityContext context.Context, request workflows.NotifyApprovalRequest) error {
	if activityError := contextError(activityContext); activityError != nil {
		return activityError
	}
	notifier, notifierError := activities.ensureNotifier()
	if notifierError != nil {
		return notifierError
	}
	return notifier.ApprovalRequest(activityContext, request.OwnerEmail, request.PackageName, request.PRURL, request.Version)
}

func (activities *SpecActivities) NotifyCompletionActivity(activityContext context.Context, request workflows.NotifyCompletionRequest) error {
	if activityError := contextError(activityContext); activityError != nil {
		return activityError
	}
	notifier, notifierError := activities.ensureNotifier()
	if notifierError != nil {
		return notifierError
	}
	return notifier.Completion(activityContext, request.OwnerEmail, request.PackageName, request.Version, request.RepoURL)
}

// MarkFailedActivity records a terminal run failure on the upload.
func (activities *SpecActivities) MarkFailedActivity(activityContext context.Context, request workflows.MarkFailedRequest) error {
	if activityError := contextError(activityContext); activityError != nil {
		return activityError
	}
	dataStore, storeError := activities.ensureStore()
	if storeError != nil {
		return storeError
	}
	if statusError := dataStore.SetUploadStatus(request.UploadID, store.StatusFailed); statusError != nil {
		return statusError
	}
	activities.recordStep(request.UploadID, request.Step, "error", "run failed: "+request.Reason)
	activities.logWarn("run marked failed", map[string]string{
		"upload_id": request.UploadID,
		"step":      request.Step,
		"reason":    request.Reason,
	})
	return nil
}

// ensureWebhook registers the resumption webhook on the repository unless
// an identical hook already exists. Failures are logged, not propagated.
func (activities *SpecActivities) ensureWebhook(activityContext context.Context, repoName, uploadID string) {
	if activities.Host == nil || strings.TrimSpace(activities.WebhookURL) == "" {
		return
	}
	hooks, listError := activities.Host.ListWebhooks(activityContext, repoName)
	if listError != nil {
		activities.logWarn("webhook listing failed", map[string]string{
			"repo":  repoName,
			"error": listError.Error(),
		})
		return
	}
	for _, hook := range hooks {
		if hook.Config.URL == activities.WebhookURL {
			return
		}
	}
	if _, createError := activities.Host.CreateWebhook(activityContext, repoName, activities.WebhookURL, activities.WebhookSecret); createError != nil {
		activities.recordStep(uploadID, "analyze", "warning", "webhook registration failed: "+createError.Error())
		activities.logWarn("webhook registration failed", map[string]string{
			"repo":  repoName,
			"error": createError.Error(),
		})
	}
}

func (activities *SpecActivities) ensureStore() (*store.Store, error) {
	if activities == nil || activities.Store == nil {
		return nil, errors.New("data store unavailable")
	}
	return activities.Store, nil
}

func (activities *SpecActivities) ensureHost() (*githost.Client, error) {
	if activities == nil || activities.Host == nil {
		return nil, temporal.NewApplicationError("git host is not configured", workflows.ErrTypeConfigurationMissing)
	}
	return activities.Host, nil
}

func (activities *SpecActivities) ensureNotifier() (notify.Notifier, error) {
	if activities == nil || activities.Notifier == nil {
		return nil, temporal.NewApplicationError("notifier is not configured", workflows.ErrTypeConfigurationMissing)
	}
	return activities.Notifier, nil
}

func (activities *SpecActivities) recordStep(uploadID, step, level, message string) {
	if activities == nil || activities.Store == nil {
		return
	}
	activities.Store.LogEvent(store.Event{
		UploadID:  uploadID,
		Source:    eventSourceWorkflow,
		EventType: step,
		Level:     level,
		Message:   message,
	})
}

func activityAttempt(activityContext context.Context) int32 {
	if activityContext == nil || !activity.IsActivity(activityContext) {
		return 1
	}
	return activity.GetInfo(activityContext).Attempt
}

func contextError(activityContext context.Context) error {
	if activityContext == nil {
		return nil
	}
	if activityError := activityContext.Err(); activityError != nil {
		return fmt.Errorf("activity context: %w", activityError)
	}
	return nil
}

func (activities *SpecActivities) logInfo(message string, fields map[string]string) {
	if activities == nil || activities.Logger == nil {
		return
	}
	activities.Logger.Info(message, fields)
}

func (activities *SpecActivities) logWarn(message string, fields map[string]string) {
	if activities == nil || activities.Logger == nil {
		return
	}
	activities.Logger.Warn(message, fields)
}

// questionIssueBody renders the ticket body: one checklist item per open
// question, grouped by flow.
func questionIssueBody(packageName string, results []analysis.Result) string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "The following questions came up while analyzing **%s**. Answer them in comments, then close this issue to resume specification generation.\n", packageName)
	for _, result := range results {
		if len(result.Questions) == 0 {
			continue
		}
		fmt.Fprintf(&builder, "\n### %s\n\n", result.FlowDisplayName)
		for _, question := range result.Questions {
			fmt.Fprintf(&builder, "- [ ] (%s) %s\n", question.Category, question.Question)
		}
	}
	return builder.String()
}

// deriveRepoName builds a host-safe repository name from the solution
// name, falling back to the solution identifier when nothing survives
// sanitizing.
func deriveRepoName(solutionName, solutionID string) string {
	sanitized := sanitizePathSegment(solutionName)
	if sanitized == "" {
		sanitized = solutionID
	}
	return "spec-" + sanitized
}

func sanitizePathSegment(value string) string {
	var builder strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(value)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == ' ', r == '_', r == '-', r == '.':
			builder.WriteRune('-')
		}
	}
	return strings.Trim(builder.String(), "-")
}
