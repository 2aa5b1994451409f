package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"flowspec/internal/logging"
	"flowspec/internal/store"
	"flowspec/internal/temporal/workflows"
)

const signatureHeader = "X-Hub-Signature-256"
const eventHeader = "X-GitHub-Event"
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler receives host delivery callbacks and routes them to the
// suspended run they correlate with. Signature verification happens on the
// raw body before any payload parsing; an unverified request never reaches
// dispatch.
type WebhookHandler struct {
	Store    *store.Store
	Signaler Signaler
	Secret   string
	Logger   *logging.Logger
}

// Signaler delivers a resumption signal to a suspended run.
type Signaler interface {
	Signal(workflowID, signalName string, payload interface{}) error
}

type webhookPayload struct {
	Action string `json:"action"`
	Issue  *struct {
		Number int `json:"number"`
	} `json:"issue"`
	PullRequest *struct {
		Number int  `json:"number"`
		Merged bool `json:"merged"`
	} `json:"pull_request"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

type webhookResponse struct {
	Status   string `json:"status"`
	UploadID string `json:"uploadId,omitempty"`
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setSecurityHeaders(w, cacheControlNoStore)
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", "POST")
		writeJSONError(w, &apiError{Status: http.StatusMethodNotAllowed, Message: "method not allowed"})
		return
	}

	body, readError := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if readError != nil {
		writeJSONError(w, &apiError{Status: http.StatusBadRequest, Message: "unreadable body"})
		return
	}

	if !verifySignature(body, r.Header.Get(signatureHeader), h.Secret) {
		h.logWarn("webhook signature rejected", map[string]string{
			"remote_addr": r.RemoteAddr,
		})
		writeJSONError(w, &apiError{Status: http.StatusUnauthorized, Message: "invalid signature"})
		return
	}

	eventType := r.Header.Get(eventHeader)
	var payload webhookPayload
	if unmarshalError := json.Unmarshal(body, &payload); unmarshalError != nil {
		writeJSONError(w, &apiError{Status: http.StatusBadRequest, Message: "invalid payload"})
		return
	}

	switch eventType {
	case "issues":
		h.handleIssueEvent(w, payload)
	case "pull_request":
		h.handlePullRequestEvent(w, payload)
	default:
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
	}
}

func (h *WebhookHandler) handleIssueEvent(w http.ResponseWriter, payload webhookPayload) {
	if payload.Action != "closed" || payload.Issue == nil {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	upload, findError := h.findUploadByIssue(payload.Issue.Number)
	if findError != nil {
		if errors.Is(findError, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, webhookResponse{Status: "no_matching_run"})
			return
		}
		writeJSONError(w, &apiError{Status: http.StatusInternalServerError, Message: "lookup failed"})
		return
	}

	repoName := ""
	if payload.Repository != nil {
		repoName = payload.Repository.FullName
	}
	signalError := h.signal(workflows.WorkflowID(upload.ID), workflows.IssueClosedSignalName, workflows.IssueClosedSignal{
		IssueNumber: payload.Issue.Number,
		Repo:        repoName,
	})
	if signalError != nil {
		h.logWarn("issue close signal failed", map[string]string{
			"upload_id": upload.ID,
			"issue":     strconv.Itoa(payload.Issue.Number),
			"error":     signalError.Error(),
		})
		writeJSONError(w, &apiError{Status: http.StatusBadGateway, Message: "signal delivery failed"})
		return
	}
	h.logInfo("question ticket close delivered", map[string]string{
		"upload_id": upload.ID,
		"issue":     strconv.Itoa(payload.Issue.Number),
	})
	writeJSON(w, http.StatusOK, webhookResponse{Status: "signaled", UploadID: upload.ID})
}

func (h *WebhookHandler) handlePullRequestEvent(w http.ResponseWriter, payload webhookPayload) {
	if payload.Action != "closed" || payload.PullRequest == nil || !payload.PullRequest.Merged {
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	}

	upload, findError := h.findUploadByPR(payload.PullRequest.Number)
	if findError != nil {
		if errors.Is(findError, store.ErrNotFound) {
			writeJSON(w, http.StatusOK, webhookResponse{Status: "no_matching_run"})
			return
		}
		writeJSONError(w, &apiError{Status: http.StatusInternalServerError, Message: "lookup failed"})
		return
	}

	repoName := ""
	if payload.Repository != nil {
		repoName = payload.Repository.FullName
	}
	signalError := h.signal(workflows.WorkflowID(upload.ID), workflows.PRMergedSignalName, workflows.PRMergedSignal{
		PRNumber: payload.PullRequest.Number,
		Repo:     repoName,
	})
	if signalError != nil {
		h.logWarn("merge signal failed", map[string]string{
			"upload_id": upload.ID,
			"pr":        strconv.Itoa(payload.PullRequest.Number),
			"error":     signalError.Error(),
		})
		writeJSONError(w, &apiError{Status: http.StatusBadGateway, Message: "signal delivery failed"})
		return
	}
	h.logInfo("approval merge delivered", map[string]string{
		"upload_id": upload.ID,
		"pr":        strconv.Itoa(payload.PullRequest.Number),
	})
	writeJSON(w, http.StatusOK, webhookResponse{Status: "signaled", UploadID: upload.ID})
}

func (h *WebhookHandler) findUploadByIssue(issueNumber int) (store.Upload, error) {
	if h.Store == nil {
		return store.Upload{}, errors.New("store unavailable")
	}
	return h.Store.FindUploadByIssue(issueNumber)
}

func (h *WebhookHandler) findUploadByPR(prNumber int) (store.Upload, error) {
	if h.Store == nil {
		return store.Upload{}, errors.New("store unavailable")
	}
	return h.Store.FindUploadByPR(prNumber)
}

func (h *WebhookHandler) signal(workflowID, signalName string, payload interface{}) error {
	if h.Signaler == nil {
		return errors.New("workflow signaler unavailable")
	}
	return h.Signaler.Signal(workflowID, signalName, payload)
}

func (h *WebhookHandler) logInfo(message string, fields map[string]string) {
	if h == nil || h.Logger == nil {
		return
	}
	h.Logger.Info(message, fields)
}

func (h *WebhookHandler) logWarn(message string, fields map[string]string) {
	if h == nil || h.Logger == nil {
		return
	}
	h.Logger.Warn(message, fields)
}

// verifySignature checks the sha256= HMAC of the raw body in constant
// time. A missing or malformed header fails closed.
func verifySignature(body []byte, header, secret string) bool {
	if secret == "" {
		return false
	}
	const prefix = "sha256="
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	received, decodeError := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if decodeError != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(received, mac.Sum(nil))
}
