package githost

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client, err := New("token-123", "flow-owner", server.URL, server.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, server
}

func TestNewRequiresTokenAndOwner(t *testing.T) {
	if _, err := New("", "owner", "", nil); err == nil {
		t.Fatal("expected error for empty token")
	}
	if _, err := New("token", "   ", "", nil); err == nil {
		t.Fatal("expected error for empty owner")
	}
	client, err := New("token", "owner", "https://host.example/", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if client.Owner() != "owner" {
		t.Fatalf("unexpected owner %q", client.Owner())
	}
}

func TestGetOrCreateRepoReturnsExisting(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/repos/flow-owner/invoice-specs" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-123" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		_ = json.NewEncoder(w).Encode(Repo{FullName: "flow-owner/invoice-specs", DefaultBranch: "main"})
	}))

	repo, err := client.GetOrCreateRepo(context.Background(), "invoice-specs")
	if err != nil {
		t.Fatalf("get or create repo: %v", err)
	}
	if repo.FullName != "flow-owner/invoice-specs" || repo.DefaultBranch != "main" {
		t.Fatalf("unexpected repo %+v", repo)
	}
}

func TestGetOrCreateRepoCreatesOnNotFound(t *testing.T) {
	var createPayload map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/user/repos":
			if err := json.NewDecoder(r.Body).Decode(&createPayload); err != nil {
				t.Fatalf("decode create payload: %v", err)
			}
			_ = json.NewEncoder(w).Encode(Repo{FullName: "flow-owner/new-specs", DefaultBranch: "main"})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	repo, err := client.GetOrCreateRepo(context.Background(), "new-specs")
	if err != nil {
		t.Fatalf("get or create repo: %v", err)
	}
	if repo.FullName != "flow-owner/new-specs" {
		t.Fatalf("unexpected repo %+v", repo)
	}
	if createPayload["name"] != "new-specs" || createPayload["private"] != true {
		t.Fatalf("unexpected create payload %v", createPayload)
	}
}

func TestGetOrCreateRepoPropagatesServerError(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	_, err := client.GetOrCreateRepo(context.Background(), "specs")
	var httpError *HTTPError
	if !errors.As(err, &httpError) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpError.StatusCode != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", httpError.StatusCode)
	}
}

func TestCreateIssue(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/repos/flow-owner/invoice-specs/issues" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["title"] != "Open questions" {
			t.Fatalf("unexpected title %v", payload["title"])
		}
		if _, hasLabels := payload["labels"]; !hasLabels {
			t.Fatal("expected labels field in payload")
		}
		_ = json.NewEncoder(w).Encode(Issue{Number: 17, State: "open", HTMLURL: "https://host/issue/17"})
	}))

	issue, err := client.CreateIssue(context.Background(), "invoice-specs", "Open questions", "please answer", nil)
	if err != nil {
		t.Fatalf("create issue: %v", err)
	}
	if issue.Number != 17 || issue.State != "open" {
		t.Fatalf("unexpected issue %+v", issue)
	}
}

func TestCreateBranchUsesBaseSHA(t *testing.T) {
	var refPayload map[string]any
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/flow-owner/invoice-specs/git/ref/heads/main":
			_, _ = w.Write([]byte(`{"ref":"refs/heads/main","object":{"sha":"abc123"}}`))
		case "/repos/flow-owner/invoice-specs/git/refs":
			if err := json.NewDecoder(r.Body).Decode(&refPayload); err != nil {
				t.Fatalf("decode payload: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	if err := client.CreateBranch(context.Background(), "invoice-specs", "spec/v2", "main"); err != nil {
		t.Fatalf("create branch: %v", err)
	}
	if refPayload["ref"] != "refs/heads/spec/v2" || refPayload["sha"] != "abc123" {
		t.Fatalf("unexpected ref payload %v", refPayload)
	}
}

func TestCommitFileEncodesContent(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("unexpected method %s", r.Method)
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		decoded, err := base64.StdEncoding.DecodeString(payload["content"].(string))
		if err != nil {
			t.Fatalf("decode content: %v", err)
		}
		if string(decoded) != "# Spec v2\n" {
			t.Fatalf("unexpected content %q", decoded)
		}
		if payload["branch"] != "spec/v2" {
			t.Fatalf("unexpected branch %v", payload["branch"])
		}
		if _, present := payload["sha"]; present {
			t.Fatalf("sha must be omitted for a new file, got %v", payload["sha"])
		}
		_, _ = w.Write([]byte(`{"commit":{"sha":"def456","html_url":"https://host/commit/def456"}}`))
	}))

	result, err := client.CommitFile(context.Background(), "invoice-specs", "specs/invoice.md", "# Spec v2\n", "Update spec", "spec/v2", "")
	if err != nil {
		t.Fatalf("commit file: %v", err)
	}
	if result.Commit.SHA != "def456" {
		t.Fatalf("unexpected commit %+v", result)
	}
}

func TestCommitFileSendsExistingSHAForOverwrite(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["sha"] != "blob789" {
			t.Fatalf("unexpected sha %v", payload["sha"])
		}
		_, _ = w.Write([]byte(`{"commit":{"sha":"def456"}}`))
	}))

	if _, err := client.CommitFile(context.Background(), "invoice-specs", "specs/invoice.md", "# Spec v2\n", "Update spec", "spec/v2", "blob789"); err != nil {
		t.Fatalf("commit file: %v", err)
	}
}

func TestFileSHAReturnsBlobSHA(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/repos/flow-owner/invoice-specs/contents/specs/invoice.md" {
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("ref"); got != "spec/v2" {
			t.Fatalf("unexpected ref %q", got)
		}
		_, _ = w.Write([]byte(`{"sha":"blob789","path":"specs/invoice.md"}`))
	}))

	sha, err := client.FileSHA(context.Background(), "invoice-specs", "specs/invoice.md", "spec/v2")
	if err != nil {
		t.Fatalf("file sha: %v", err)
	}
	if sha != "blob789" {
		t.Fatalf("unexpected sha %q", sha)
	}
}

func TestFileSHAEmptyWhenFileMissing(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
	}))

	sha, err := client.FileSHA(context.Background(), "invoice-specs", "specs/invoice.md", "spec/v2")
	if err != nil {
		t.Fatalf("file sha: %v", err)
	}
	if sha != "" {
		t.Fatalf("expected empty sha, got %q", sha)
	}
}

func TestCreateAndGetPullRequest(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/repos/flow-owner/invoice-specs/pulls":
			_ = json.NewEncoder(w).Encode(PullRequest{Number: 4, State: "open"})
		case r.Method == http.MethodGet && r.URL.Path == "/repos/flow-owner/invoice-specs/pulls/4":
			_ = json.NewEncoder(w).Encode(PullRequest{Number: 4, State: "closed", Merged: true})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	created, err := client.CreatePullRequest(context.Background(), "invoice-specs", "Spec v2", "review please", "spec/v2", "main")
	if err != nil {
		t.Fatalf("create pull request: %v", err)
	}
	if created.Number != 4 {
		t.Fatalf("unexpected pull request %+v", created)
	}

	fetched, err := client.GetPullRequest(context.Background(), "invoice-specs", 4)
	if err != nil {
		t.Fatalf("get pull request: %v", err)
	}
	if !fetched.Merged {
		t.Fatalf("expected merged pull request, got %+v", fetched)
	}
}

func TestCreateWebhookPayload(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			Events []string `json:"events"`
			Config struct {
				URL    string `json:"url"`
				Secret string `json:"secret"`
			} `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if len(payload.Events) != 2 || payload.Events[0] != "issues" || payload.Events[1] != "pull_request" {
			t.Fatalf("unexpected events %v", payload.Events)
		}
		if payload.Config.URL != "https://flowspec.example/hooks/github" || payload.Config.Secret != "s3cret" {
			t.Fatalf("unexpected config %+v", payload.Config)
		}
		_ = json.NewEncoder(w).Encode(Webhook{ID: 9})
	}))

	hook, err := client.CreateWebhook(context.Background(), "invoice-specs", "https://flowspec.example/hooks/github", "s3cret")
	if err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	if hook.ID != 9 {
		t.Fatalf("unexpected webhook %+v", hook)
	}
}
