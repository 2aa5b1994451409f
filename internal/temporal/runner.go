package temporal

import (
	"context"
	"errors"
	"time"

	"flowspec/internal/temporal/workflows"

	"go.temporal.io/sdk/client"
)

// Runner is the front door the HTTP layer uses to start, query, and
// resume specification runs. It owns the per-deployment run options.
type Runner struct {
	Client        WorkflowClient
	QuestionIssue bool
	WaitTimeout   time.Duration
}

var ErrRunnerUnavailable = errors.New("workflow runner unavailable")

// StartRun launches the specification workflow for an upload. The
// workflow identifier is deterministic, so retrying a start for the same
// upload is rejected by the server rather than spawning a duplicate run.
func (r *Runner) StartRun(ctx context.Context, uploadID string) (string, error) {
	if r == nil || r.Client == nil {
		return "", ErrRunnerUnavailable
	}
	workflowID := workflows.WorkflowID(uploadID)
	options := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: workflows.RunTaskQueueName,
	}
	request := workflows.SpecWorkflowRequest{
		UploadID:      uploadID,
		QuestionIssue: r.QuestionIssue,
		WaitTimeout:   r.WaitTimeout,
	}
	if _, startError := r.Client.ExecuteWorkflow(ctx, options, workflows.SpecWorkflow, request); startError != nil {
		return "", startError
	}
	return workflowID, nil
}

// RunStatus queries the live workflow state for an upload.
func (r *Runner) RunStatus(ctx context.Context, uploadID string) (workflows.SpecWorkflowState, error) {
	if r == nil || r.Client == nil {
		return workflows.SpecWorkflowState{}, ErrRunnerUnavailable
	}
	encoded, queryError := r.Client.QueryWorkflow(ctx, workflows.WorkflowID(uploadID), "", workflows.StatusQueryName)
	if queryError != nil {
		return workflows.SpecWorkflowState{}, queryError
	}
	var state workflows.SpecWorkflowState
	if decodeError := encoded.Get(&state); decodeError != nil {
		return workflows.SpecWorkflowState{}, decodeError
	}
	return state, nil
}

// Signal delivers a resumption event to a suspended run.
func (r *Runner) Signal(workflowID, signalName string, payload interface{}) error {
	if r == nil || r.Client == nil {
		return ErrRunnerUnavailable
	}
	return r.Client.SignalWorkflow(context.Background(), workflowID, "", signalName, payload)
}
