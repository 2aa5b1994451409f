// Package store persists the durable entities of the specification
// pipeline: solutions, uploads (one workflow run each), generated spec
// versions, and the run event log. State lives in a single JSON file and
// every mutation is serialized behind one mutex, so version allocation and
// the current-flag flip are atomic with respect to concurrent runs.
package store

import "time"

// Status is the lifecycle state of an upload's workflow run.
type Status string

const (
	StatusPending       Status = "pending"
	StatusAnalyzing     Status = "analyzing"
	StatusQuestionsOpen Status = "questions_open"
	StatusDrafting      Status = "drafting"
	StatusPROpen        Status = "pr_open"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
)

// Solution is the owning business grouping for uploads and their resulting
// documents.
type Solution struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerEmail string    `json:"ownerEmail"`
	RepoName   string    `json:"repoName,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Upload is one uploaded package and the workflow run it owns. IssueNumber
// and PRNumber are the correlation identifiers routing resumption events
// back to the suspended run.
type Upload struct {
	ID          string    `json:"id"`
	SolutionID  string    `json:"solutionId"`
	ArchivePath string    `json:"archivePath"`
	Status      Status    `json:"status"`
	IssueNumber int       `json:"issueNumber,omitempty"`
	PRNumber    int       `json:"prNumber,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// SpecVersion is one generated specification document. Exactly one version
// per solution is current at any time once a run has finalized.
type SpecVersion struct {
	ID            string     `json:"id"`
	SolutionID    string     `json:"solutionId"`
	UploadID      string     `json:"uploadId"`
	VersionNumber int        `json:"versionNumber"`
	Markdown      string     `json:"markdown"`
	ChangeReason  string     `json:"changeReason"`
	CommitSHA     string     `json:"commitSha,omitempty"`
	IsCurrent     bool       `json:"isCurrent"`
	ApprovedAt    *time.Time `json:"approvedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// Event is one run event log row. Step logging is observational: a failure
// to record an event never propagates to the step being observed.
type Event struct {
	UploadID  string            `json:"uploadId,omitempty"`
	Source    string            `json:"source"`
	EventType string            `json:"eventType"`
	Level     string            `json:"level"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}
