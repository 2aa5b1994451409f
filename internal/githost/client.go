// Package githost is a minimal client for the code-hosting REST API used
// to drive the review process: repository provisioning, question tickets,
// spec commits, and approval requests.
package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.github.com"
const defaultRequestTimeout = 30 * time.Second

// HTTPError is a non-2xx response from the host.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("host returned %d: %s", e.StatusCode, e.Message)
}

// Client talks to one host on behalf of one owner. The zero value is not
// usable; construct with New.
type Client struct {
	token      string
	owner      string
	baseURL    string
	httpClient *http.Client
}

func New(token, owner, baseURL string, httpClient *http.Client) (*Client, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("host token is required")
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, errors.New("host owner is required")
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{token: token, owner: owner, baseURL: baseURL, httpClient: httpClient}, nil
}

func (c *Client) Owner() string {
	if c == nil {
		return ""
	}
	return c.owner
}

type Repo struct {
	FullName      string `json:"full_name"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
}

// GetOrCreateRepo fetches the named repository, creating a private one when
// it does not exist. Naturally idempotent: replays observe the existing
// repository.
func (c *Client) GetOrCreateRepo(ctx context.Context, name string) (Repo, error) {
	var repo Repo
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", c.owner, name), nil, &repo)
	if err == nil {
		return repo, nil
	}
	var httpError *HTTPError
	if !errors.As(err, &httpError) || httpError.StatusCode != http.StatusNotFound {
		return Repo{}, err
	}

	payload := map[string]any{
		"name":        name,
		"private":     true,
		"auto_init":   true,
		"description": "Automation flow specification repository",
	}
	if err := c.do(ctx, http.MethodPost, "/user/repos", payload, &repo); err != nil {
		return Repo{}, err
	}
	return repo, nil
}

type Issue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
}

func (c *Client) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (Issue, error) {
	if labels == nil {
		labels = []string{}
	}
	payload := map[string]any{"title": title, "body": body, "labels": labels}
	var issue Issue
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues", c.owner, repo), payload, &issue); err != nil {
		return Issue{}, err
	}
	return issue, nil
}

func (c *Client) GetIssue(ctx context.Context, repo string, number int) (Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d", c.owner, repo, number), nil, &issue); err != nil {
		return Issue{}, err
	}
	return issue, nil
}

type IssueComment struct {
	Body string `json:"body"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

func (c *Client) ListIssueComments(ctx context.Context, repo string, number int) ([]IssueComment, error) {
	var comments []IssueComment
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d/comments", c.owner, repo, number), nil, &comments); err != nil {
		return nil, err
	}
	return comments, nil
}

type ref struct {
	Ref    string `json:"ref"`
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

// CreateBranch creates branchName from the head of fromBranch.
func (c *Client) CreateBranch(ctx context.Context, repo, branchName, fromBranch string) error {
	var base ref
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/git/ref/heads/%s", c.owner, repo, fromBranch), nil, &base); err != nil {
		return err
	}
	payload := map[string]any{
		"ref": "refs/heads/" + branchName,
		"sha": base.Object.SHA,
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/git/refs", c.owner, repo), payload, nil)
}

type CommitResult struct {
	Content struct {
		SHA string `json:"sha"`
	} `json:"content"`
	Commit struct {
		SHA     string `json:"sha"`
		HTMLURL string `json:"html_url"`
	} `json:"commit"`
}

// FileSHA returns the blob sha of path on branch, or "" when the file
// does not exist. The contents API requires this sha when overwriting an
// existing path.
func (c *Client) FileSHA(ctx context.Context, repo, path, branch string) (string, error) {
	var entry struct {
		SHA string `json:"sha"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/contents/%s?ref=%s", c.owner, repo, path, url.QueryEscape(branch)), nil, &entry)
	if err != nil {
		var httpError *HTTPError
		if errors.As(err, &httpError) && httpError.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	return entry.SHA, nil
}

// CommitFile writes content at path on branch with the given message.
// existingSHA must carry the current blob sha when the path already
// exists on the branch; pass "" for a new file.
func (c *Client) CommitFile(ctx context.Context, repo, path, content, message, branch, existingSHA string) (CommitResult, error) {
	payload := map[string]any{
		"message": message,
		"content": base64.StdEncoding.EncodeToString([]byte(content)),
		"branch":  branch,
	}
	if existingSHA != "" {
		payload["sha"] = existingSHA
	}
	var result CommitResult
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/%s/contents/%s", c.owner, repo, path), payload, &result); err != nil {
		return CommitResult{}, err
	}
	return result, nil
}

type PullRequest struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Merged  bool   `json:"merged"`
}

func (c *Client) CreatePullRequest(ctx context.Context, repo, title, body, head, base string) (PullRequest, error) {
	payload := map[string]any{"title": title, "body": body, "head": head, "base": base}
	var pullRequest PullRequest
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/pulls", c.owner, repo), payload, &pullRequest); err != nil {
		return PullRequest{}, err
	}
	return pullRequest, nil
}

func (c *Client) GetPullRequest(ctx context.Context, repo string, number int) (PullRequest, error) {
	var pullRequest PullRequest
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls/%d", c.owner, repo, number), nil, &pullRequest); err != nil {
		return PullRequest{}, err
	}
	return pullRequest, nil
}

type Webhook struct {
	ID     int `json:"id"`
	Config struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"config"`
}

func (c *Client) ListWebhooks(ctx context.Context, repo string) ([]Webhook, error) {
	var hooks []Webhook
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/hooks", c.owner, repo), nil, &hooks); err != nil {
		return nil, err
	}
	return hooks, nil
}

func (c *Client) CreateWebhook(ctx context.Context, repo, webhookURL, secret string) (Webhook, error) {
	payload := map[string]any{
		"name":   "web",
		"active": true,
		"events": []string{"issues", "pull_request"},
		"config": map[string]any{
			"url":          webhookURL,
			"content_type": "json",
			"secret":       secret,
			"insecure_ssl": "0",
		},
	}
	var hook Webhook
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/hooks", c.owner, repo), payload, &hook); err != nil {
		return Webhook{}, err
	}
	return hook, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, target any) error {
	if c == nil {
		return errors.New("host client unavailable")
	}

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(encoded)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Accept", "application/vnd.github+json")
	request.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if payload != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		message, _ := io.ReadAll(io.LimitReader(response.Body, 4096))
		return &HTTPError{StatusCode: response.StatusCode, Message: strings.TrimSpace(string(message))}
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
