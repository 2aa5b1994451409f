// Package temporal wraps the durable-workflow client shared by the HTTP
// layer and the worker. The interface keeps call sites testable without a
// running server.
package temporal

import (
	"context"

	"flowspec/internal/logging"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
)

type WorkflowClient interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
	GetWorkflowHistory(ctx context.Context, workflowID string, runID string, isLongPoll bool, filterType enumspb.HistoryEventFilterType) client.HistoryEventIterator
	QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (converter.EncodedValue, error)
	SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error
	Close()
}

type ClientConfig struct {
	HostPort  string
	Namespace string
	Logger    *logging.Logger
}

// NewClient dials the workflow service. SDK logs are routed through the
// application logger so run lifecycle messages land in the same stream as
// everything else.
func NewClient(config ClientConfig) (WorkflowClient, error) {
	options := client.Options{
		HostPort:  config.HostPort,
		Namespace: config.Namespace,
	}
	if config.Logger != nil {
		options.Logger = newSDKLogger(config.Logger)
	}
	return client.Dial(options)
}
