// Package notify delivers the three run notifications: question request,
// approval request, and completion. Delivery failure is fatal to the step
// that requested it and retried on the step's budget.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"flowspec/internal/logging"
)

// Notifier is the outbound notification contract of the orchestrator.
type Notifier interface {
	QuestionRequest(ctx context.Context, to, packageName, issueURL string, questionCount int) error
	ApprovalRequest(ctx context.Context, to, packageName, prURL string, version int) error
	Completion(ctx context.Context, to, packageName string, version int, repoURL string) error
}

const defaultMailEndpoint = "https://api.resend.com/emails"
const defaultMailTimeout = 15 * time.Second

// MailClient posts messages to a Resend-compatible mail API.
type MailClient struct {
	apiKey     string
	from       string
	endpoint   string
	httpClient *http.Client
}

func NewMailClient(apiKey, from, endpoint string, httpClient *http.Client) (*MailClient, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("mail api key is required")
	}
	from = strings.TrimSpace(from)
	if from == "" {
		return nil, errors.New("mail from address is required")
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = defaultMailEndpoint
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultMailTimeout}
	}
	return &MailClient{apiKey: apiKey, from: from, endpoint: endpoint, httpClient: httpClient}, nil
}

func (m *MailClient) QuestionRequest(ctx context.Context, to, packageName, issueURL string, questionCount int) error {
	subject := fmt.Sprintf("[Review requested] Design questions for %s", packageName)
	body := strings.Join([]string{
		fmt.Sprintf("Analysis of the uploaded flow package %q finished.", packageName),
		fmt.Sprintf("%d design questions need your answers before the specification draft can be generated.", questionCount),
		"Please answer on the question ticket and close it when done:",
		issueURL,
	}, "\n\n")
	return m.send(ctx, to, subject, body)
}

func (m *MailClient) ApprovalRequest(ctx context.Context, to, packageName, prURL string, version int) error {
	subject := fmt.Sprintf("[Approval requested] Specification v%d for %s", version, packageName)
	body := strings.Join([]string{
		fmt.Sprintf("A specification draft v%d for %q is ready for review.", version, packageName),
		"Comment on the request for corrections, or merge it to approve:",
		prURL,
	}, "\n\n")
	return m.send(ctx, to, subject, body)
}

func (m *MailClient) Completion(ctx context.Context, to, packageName string, version int, repoURL string) error {
	subject := fmt.Sprintf("[Completed] Specification v%d for %s", version, packageName)
	body := strings.Join([]string{
		fmt.Sprintf("Specification v%d for %q was approved and is now current.", version, packageName),
		"The full history lives in the repository:",
		repoURL,
	}, "\n\n")
	return m.send(ctx, to, subject, body)
}

func (m *MailClient) send(ctx context.Context, to, subject, body string) error {
	if m == nil {
		return errors.New("mail client unavailable")
	}
	to = strings.TrimSpace(to)
	if to == "" {
		return errors.New("recipient is required")
	}

	payload, err := json.Marshal(map[string]any{
		"from":    m.from,
		"to":      []string{to},
		"subject": subject,
		"text":    body,
	})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build mail request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+m.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := m.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("mail request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 2048))
		return fmt.Errorf("mail api returned %d: %s", response.StatusCode, strings.TrimSpace(string(message)))
	}
	return nil
}

// LogNotifier records notifications instead of delivering them. Used when
// no mail credential is configured and as a test double.
type LogNotifier struct {
	Logger *logging.Logger
}

func (n LogNotifier) QuestionRequest(ctx context.Context, to, packageName, issueURL string, questionCount int) error {
	n.log("question request", map[string]string{
		"to":        to,
		"package":   packageName,
		"issue_url": issueURL,
		"questions": fmt.Sprintf("%d", questionCount),
	})
	return nil
}

func (n LogNotifier) ApprovalRequest(ctx context.Context, to, packageName, prURL string, version int) error {
	n.log("approval request", map[string]string{
		"to":      to,
		"package": packageName,
		"pr_url":  prURL,
		"version": fmt.Sprintf("%d", version),
	})
	return nil
}

func (n LogNotifier) Completion(ctx context.Context, to, packageName string, version int, repoURL string) error {
	n.log("completion notice", map[string]string{
		"to":       to,
		"package":  packageName,
		"version":  fmt.Sprintf("%d", version),
		"repo_url": repoURL,
	})
	return nil
}

func (n LogNotifier) log(message string, fields map[string]string) {
	if n.Logger == nil {
		return
	}
	n.Logger.Info("notification (log only): "+message, fields)
}
