package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type sentMail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
}

func newTestMailClient(t *testing.T, handler http.Handler) *MailClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := NewMailClient("key-123", "noreply@example.com", server.URL, server.Client())
	if err != nil {
		t.Fatalf("new mail client: %v", err)
	}
	return client
}

func TestNewMailClientValidation(t *testing.T) {
	if _, err := NewMailClient("", "from@example.com", "", nil); err == nil {
		t.Fatal("expected error for empty api key")
	}
	if _, err := NewMailClient("key", "  ", "", nil); err == nil {
		t.Fatal("expected error for empty from address")
	}
	client, err := NewMailClient("key", "from@example.com", "", nil)
	if err != nil {
		t.Fatalf("new mail client: %v", err)
	}
	if client.endpoint != defaultMailEndpoint {
		t.Fatalf("expected default endpoint, got %q", client.endpoint)
	}
}

func TestQuestionRequestPostsMail(t *testing.T) {
	var received sentMail
	var authHeader string
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode mail: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))

	err := client.QuestionRequest(context.Background(), "owner@example.com", "Invoice Automation", "https://host/issue/17", 3)
	if err != nil {
		t.Fatalf("question request: %v", err)
	}
	if authHeader != "Bearer key-123" {
		t.Fatalf("unexpected authorization %q", authHeader)
	}
	if received.From != "noreply@example.com" {
		t.Fatalf("unexpected from %q", received.From)
	}
	if len(received.To) != 1 || received.To[0] != "owner@example.com" {
		t.Fatalf("unexpected recipients %v", received.To)
	}
	if !strings.Contains(received.Subject, "Invoice Automation") {
		t.Fatalf("unexpected subject %q", received.Subject)
	}
	if !strings.Contains(received.Text, "3 design questions") || !strings.Contains(received.Text, "https://host/issue/17") {
		t.Fatalf("unexpected body %q", received.Text)
	}
}

func TestApprovalRequestSubjectCarriesVersion(t *testing.T) {
	var received sentMail
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))

	if err := client.ApprovalRequest(context.Background(), "owner@example.com", "Invoice Automation", "https://host/pr/4", 2); err != nil {
		t.Fatalf("approval request: %v", err)
	}
	if !strings.Contains(received.Subject, "v2") {
		t.Fatalf("unexpected subject %q", received.Subject)
	}
	if !strings.Contains(received.Text, "https://host/pr/4") {
		t.Fatalf("unexpected body %q", received.Text)
	}
}

func TestSendFailsOnAPIError(t *testing.T) {
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid sender"}`, http.StatusUnprocessableEntity)
	}))

	err := client.Completion(context.Background(), "owner@example.com", "Invoice Automation", 1, "https://host/repo")
	if err == nil {
		t.Fatal("expected error for api failure")
	}
	if !strings.Contains(err.Error(), "422") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestSendRequiresRecipient(t *testing.T) {
	client := newTestMailClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request must not be sent without a recipient")
	}))
	if err := client.Completion(context.Background(), "  ", "Invoice Automation", 1, ""); err == nil {
		t.Fatal("expected error for missing recipient")
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	notifier := LogNotifier{}
	ctx := context.Background()
	if err := notifier.QuestionRequest(ctx, "a@b", "pkg", "url", 1); err != nil {
		t.Fatalf("question request: %v", err)
	}
	if err := notifier.ApprovalRequest(ctx, "a@b", "pkg", "url", 1); err != nil {
		t.Fatalf("approval request: %v", err)
	}
	if err := notifier.Completion(ctx, "a@b", "pkg", 1, "url"); err != nil {
		t.Fatalf("completion: %v", err)
	}
}
