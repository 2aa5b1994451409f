package temporalworker

import (
	"errors"
	"sync"
	"time"

	"flowspec/internal/temporal"
	"flowspec/internal/temporal/activities"
	"flowspec/internal/temporal/workflows"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

const defaultMaxConcurrentActivities = 10
const defaultMaxConcurrentWorkflowTasks = 10
const defaultWorkerStopTimeout = 5 * time.Second
const defaultDeadlockDetectionTimeout = 10 * time.Second

var workerMutex sync.Mutex
var activeWorker worker.Worker

// StartWorker registers the specification workflow and its activities on
// the run task queue. One worker per process; a second start is an error.
func StartWorker(temporalClient temporal.WorkflowClient, specActivities *activities.SpecActivities) error {
	if temporalClient == nil {
		return errors.New("temporal client is required")
	}
	if specActivities == nil {
		return errors.New("spec activities are required")
	}

	sdkClient, ok := temporalClient.(client.Client)
	if !ok {
		return errors.New("temporal client does not support worker")
	}

	workerMutex.Lock()
	if activeWorker != nil {
		workerMutex.Unlock()
		return errors.New("temporal worker already running")
	}
	workerMutex.Unlock()

	workerOptions := worker.Options{
		MaxConcurrentActivityExecutionSize:     defaultMaxConcurrentActivities,
		MaxConcurrentWorkflowTaskExecutionSize: defaultMaxConcurrentWorkflowTasks,
		MaxConcurrentActivityTaskPollers:       2,
		MaxConcurrentWorkflowTaskPollers:       2,
		WorkerStopTimeout:                      defaultWorkerStopTimeout,
		DeadlockDetectionTimeout:               defaultDeadlockDetectionTimeout,
	}

	workerInstance := worker.New(sdkClient, workflows.RunTaskQueueName, workerOptions)
	workerInstance.RegisterWorkflow(workflows.SpecWorkflow)
	workerInstance.RegisterActivity(specActivities)

	startError := workerInstance.Start()
	if startError != nil {
		return startError
	}

	workerMutex.Lock()
	activeWorker = workerInstance
	workerMutex.Unlock()

	if specActivities.Logger != nil {
		specActivities.Logger.Info("temporal worker started", map[string]string{
			"task_queue": workflows.RunTaskQueueName,
		})
	}

	return nil
}

func StopWorker() {
	workerMutex.Lock()
	workerInstance := activeWorker
	activeWorker = nil
	workerMutex.Unlock()

	if workerInstance != nil {
		workerInstance.Stop()
	}
}
