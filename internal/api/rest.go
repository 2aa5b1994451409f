package api

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"flowspec/internal/logging"
	"flowspec/internal/skill"
	"flowspec/internal/store"
	"flowspec/internal/temporal"
)

const maxUploadBytes = 50 << 20

type RestHandler struct {
	Store      *store.Store
	Skills     *skill.Store
	Runner     *temporal.Runner
	Logger     *logging.Logger
	ArchiveDir string
}

type solutionSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	OwnerEmail string    `json:"owner_email"`
	RepoName   string    `json:"repo_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type createSolutionRequest struct {
	Name       string `json:"name"`
	OwnerEmail string `json:"owner_email"`
}

type uploadSummary struct {
	ID          string       `json:"id"`
	SolutionID  string       `json:"solution_id"`
	Status      store.Status `json:"status"`
	IssueNumber int          `json:"issue_number,omitempty"`
	PRNumber    int          `json:"pr_number,omitempty"`
	WorkflowID  string       `json:"workflow_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

type uploadDetail struct {
	uploadSummary
	Events []store.Event `json:"events"`
}

type versionSummary struct {
	ID            string     `json:"id"`
	VersionNumber int        `json:"version_number"`
	ChangeReason  string     `json:"change_reason"`
	CommitSHA     string     `json:"commit_sha,omitempty"`
	IsCurrent     bool       `json:"is_current"`
	ApprovedAt    *time.Time `json:"approved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

type statusResponse struct {
	SolutionCount int       `json:"solution_count"`
	SkillCount    int       `json:"skill_count"`
	ServerTime    time.Time `json:"server_time"`
}

type logQuery struct {
	Limit int
	Level logging.Level
	Since *time.Time
}

func (h *RestHandler) handleStatus(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireStore(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	skillCount := 0
	if h.Skills != nil {
		skillCount = len(h.Skills.All())
	}
	writeJSON(w, http.StatusOK, statusResponse{
		SolutionCount: len(h.Store.Solutions()),
		SkillCount:    skillCount,
		ServerTime:    time.Now().UTC(),
	})
	return nil
}

func (h *RestHandler) handleSolutions(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireStore(); err != nil {
		return err
	}

	switch r.Method {
	case http.MethodGet:
		solutions := h.Store.Solutions()
		response := make([]solutionSummary, 0, len(solutions))
		for _, solution := range solutions {
			response = append(response, solutionView(solution))
		}
		writeJSON(w, http.StatusOK, response)
		return nil
	case http.MethodPost:
		return h.createSolution(w, r)
	default:
		return methodNotAllowed(w, "GET, POST")
	}
}

func (h *RestHandler) createSolution(w http.ResponseWriter, r *http.Request) *apiError {
	var request createSolutionRequest
	if err := decodeJSONBody(r, &request); err != nil {
		return err
	}
	if strings.TrimSpace(request.Name) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "solution name is required"}
	}

	solution, createError := h.Store.CreateSolution(request.Name, request.OwnerEmail)
	if createError != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to create solution"}
	}
	writeJSON(w, http.StatusCreated, solutionView(solution))
	return nil
}

// handleSolution serves /api/solutions/{id} and its subresources:
// uploads, versions, and the current document.
func (h *RestHandler) handleSolution(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireStore(); err != nil {
		return err
	}

	id, subresource := parseSolutionPath(r.URL.Path)
	if strings.TrimSpace(id) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing solution id"}
	}

	solution, lookupError := h.Store.Solution(id)
	if lookupError != nil {
		if errors.Is(lookupError, store.ErrNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: "solution not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "lookup failed"}
	}

	switch subresource {
	case "":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, "GET")
		}
		writeJSON(w, http.StatusOK, solutionView(solution))
		return nil
	case "uploads":
		if r.Method != http.MethodPost {
			return methodNotAllowed(w, "POST")
		}
		return h.createUpload(w, r, solution)
	case "versions":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, "GET")
		}
		versions := h.Store.SpecVersions(solution.ID)
		response := make([]versionSummary, 0, len(versions))
		for _, version := range versions {
			response = append(response, versionView(version))
		}
		writeJSON(w, http.StatusOK, response)
		return nil
	case "current":
		if r.Method != http.MethodGet {
			return methodNotAllowed(w, "GET")
		}
		current, currentError := h.Store.CurrentSpecVersion(solution.ID)
		if currentError != nil {
			if errors.Is(currentError, store.ErrNotFound) {
				return &apiError{Status: http.StatusNotFound, Message: "no current specification"}
			}
			return &apiError{Status: http.StatusInternalServerError, Message: "lookup failed"}
		}
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, current.Markdown)
		return nil
	default:
		return &apiError{Status: http.StatusNotFound, Message: "unknown resource"}
	}
}

// createUpload stores the archive on disk, records the upload, and starts
// its run. An archive that is not a zip is rejected before anything is
// persisted.
func (h *RestHandler) createUpload(w http.ResponseWriter, r *http.Request, solution store.Solution) *apiError {
	archiveData, readError := readArchiveBody(r)
	if readError != nil {
		return readError
	}
	if !bytes.HasPrefix(archiveData, []byte("PK")) {
		return &apiError{Status: http.StatusBadRequest, Message: "archive is not a zip file"}
	}

	if strings.TrimSpace(h.ArchiveDir) == "" {
		return &apiError{Status: http.StatusInternalServerError, Message: "archive storage unavailable"}
	}
	archivePath := filepath.Join(h.ArchiveDir, archiveFileName(solution.ID))
	if writeError := os.WriteFile(archivePath, archiveData, 0o600); writeError != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to store archive"}
	}

	upload, createError := h.Store.CreateUpload(solution.ID, archivePath)
	if createError != nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "failed to record upload"}
	}

	response := uploadView(upload)
	if h.Runner != nil {
		workflowID, startError := h.Runner.StartRun(r.Context(), upload.ID)
		if startError != nil {
			h.logWarn("run start failed", map[string]string{
				"upload_id": upload.ID,
				"error":     startError.Error(),
			})
			return &apiError{Status: http.StatusBadGateway, Message: "failed to start run"}
		}
		response.WorkflowID = workflowID
	}

	h.logInfo("upload accepted", map[string]string{
		"upload_id":   upload.ID,
		"solution_id": solution.ID,
		"bytes":       strconv.Itoa(len(archiveData)),
	})
	writeJSON(w, http.StatusAccepted, response)
	return nil
}

// handleUpload serves /api/uploads/{id}: persisted status plus the run
// event log, and the live workflow state when the run is reachable.
func (h *RestHandler) handleUpload(w http.ResponseWriter, r *http.Request) *apiError {
	if err := h.requireStore(); err != nil {
		return err
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/uploads/"), "/")
	if strings.TrimSpace(id) == "" {
		return &apiError{Status: http.StatusBadRequest, Message: "missing upload id"}
	}

	upload, lookupError := h.Store.Upload(id)
	if lookupError != nil {
		if errors.Is(lookupError, store.ErrNotFound) {
			return &apiError{Status: http.StatusNotFound, Message: "upload not found"}
		}
		return &apiError{Status: http.StatusInternalServerError, Message: "lookup failed"}
	}

	detail := uploadDetail{
		uploadSummary: uploadView(upload),
		Events:        h.Store.Events(upload.ID),
	}
	if h.Runner != nil && !terminalStatus(upload.Status) {
		if state, stateError := h.Runner.RunStatus(r.Context(), upload.ID); stateError == nil {
			detail.Status = store.Status(state.Stage)
		}
	}
	writeJSON(w, http.StatusOK, detail)
	return nil
}

func (h *RestHandler) handleSkills(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Skills == nil {
		return &apiError{Status: http.StatusServiceUnavailable, Message: "skill store unavailable"}
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Skills.All())
		return nil
	case http.MethodPost, http.MethodPut:
		var definition skill.Definition
		if err := decodeJSONBody(r, &definition); err != nil {
			return err
		}
		if upsertError := h.Skills.Upsert(definition); upsertError != nil {
			return &apiError{Status: http.StatusBadRequest, Message: upsertError.Error()}
		}
		h.logInfo("skill definition upserted", map[string]string{
			"key": definition.Key(),
		})
		writeJSON(w, http.StatusOK, definition)
		return nil
	default:
		return methodNotAllowed(w, "GET, POST, PUT")
	}
}

func (h *RestHandler) handleLogs(w http.ResponseWriter, r *http.Request) *apiError {
	if h.Logger == nil || h.Logger.Buffer() == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "log buffer unavailable"}
	}
	if r.Method != http.MethodGet {
		return methodNotAllowed(w, "GET")
	}

	query, err := parseLogQuery(r)
	if err != nil {
		return err
	}
	entries := h.Logger.Buffer().List()
	writeJSON(w, http.StatusOK, filterLogEntries(entries, query))
	return nil
}

func (h *RestHandler) requireStore() *apiError {
	if h.Store == nil {
		return &apiError{Status: http.StatusInternalServerError, Message: "data store unavailable"}
	}
	return nil
}

func (h *RestHandler) logInfo(message string, fields map[string]string) {
	if h == nil || h.Logger == nil {
		return
	}
	h.Logger.Info(message, fields)
}

func (h *RestHandler) logWarn(message string, fields map[string]string) {
	if h == nil || h.Logger == nil {
		return
	}
	h.Logger.Warn(message, fields)
}

func solutionView(solution store.Solution) solutionSummary {
	return solutionSummary{
		ID:         solution.ID,
		Name:       solution.Name,
		OwnerEmail: solution.OwnerEmail,
		RepoName:   solution.RepoName,
		CreatedAt:  solution.CreatedAt,
	}
}

func uploadView(upload store.Upload) uploadSummary {
	return uploadSummary{
		ID:          upload.ID,
		SolutionID:  upload.SolutionID,
		Status:      upload.Status,
		IssueNumber: upload.IssueNumber,
		PRNumber:    upload.PRNumber,
		CreatedAt:   upload.CreatedAt,
	}
}

func versionView(version store.SpecVersion) versionSummary {
	return versionSummary{
		ID:            version.ID,
		VersionNumber: version.VersionNumber,
		ChangeReason:  version.ChangeReason,
		CommitSHA:     version.CommitSHA,
		IsCurrent:     version.IsCurrent,
		ApprovedAt:    version.ApprovedAt,
		CreatedAt:     version.CreatedAt,
	}
}

func terminalStatus(status store.Status) bool {
	return status == store.StatusCompleted || status == store.StatusFailed
}

// parseSolutionPath splits /api/solutions/{id}[/{sub}] into id and
// subresource.
func parseSolutionPath(path string) (string, string) {
	trimmed := strings.TrimPrefix(path, "/api/solutions/")
	if trimmed == path {
		return "", ""
	}
	trimmed = strings.TrimSuffix(trimmed, "/")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func readArchiveBody(r *http.Request) ([]byte, *apiError) {
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if parseError := r.ParseMultipartForm(maxUploadBytes); parseError != nil {
			return nil, &apiError{Status: http.StatusBadRequest, Message: "invalid multipart body"}
		}
		file, _, formError := r.FormFile("package")
		if formError != nil {
			return nil, &apiError{Status: http.StatusBadRequest, Message: "missing package file"}
		}
		defer file.Close()
		data, readError := io.ReadAll(io.LimitReader(file, maxUploadBytes))
		if readError != nil {
			return nil, &apiError{Status: http.StatusBadRequest, Message: "unreadable package file"}
		}
		return data, nil
	}

	data, readError := io.ReadAll(io.LimitReader(r.Body, maxUploadBytes))
	if readError != nil {
		return nil, &apiError{Status: http.StatusBadRequest, Message: "unreadable body"}
	}
	if len(data) == 0 {
		return nil, &apiError{Status: http.StatusBadRequest, Message: "empty archive"}
	}
	return data, nil
}

func archiveFileName(solutionID string) string {
	return solutionID + "-" + strconv.FormatInt(time.Now().UnixNano(), 36) + ".zip"
}

func parseLogQuery(r *http.Request) (logQuery, *apiError) {
	values := r.URL.Query()
	query := logQuery{
		Limit: 100,
	}

	if rawLimit := strings.TrimSpace(values.Get("limit")); rawLimit != "" {
		limit, err := strconv.Atoi(rawLimit)
		if err != nil || limit <= 0 {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid limit"}
		}
		query.Limit = limit
	}

	if rawSince := strings.TrimSpace(values.Get("since")); rawSince != "" {
		parsed, err := time.Parse(time.RFC3339, rawSince)
		if err != nil {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid since timestamp"}
		}
		query.Since = &parsed
	}

	if rawLevel := strings.TrimSpace(values.Get("level")); rawLevel != "" {
		level, ok := logging.ParseLevel(rawLevel)
		if !ok {
			return query, &apiError{Status: http.StatusBadRequest, Message: "invalid log level"}
		}
		query.Level = level
	}

	return query, nil
}

func filterLogEntries(entries []logging.LogEntry, query logQuery) []logging.LogEntry {
	filtered := make([]logging.LogEntry, 0, len(entries))
	for _, entry := range entries {
		if query.Level != "" && !logging.LevelAtLeast(entry.Level, query.Level) {
			continue
		}
		if query.Since != nil && entry.Timestamp.Before(*query.Since) {
			continue
		}
		filtered = append(filtered, entry)
	}

	if query.Limit > 0 && len(filtered) > query.Limit {
		filtered = filtered[len(filtered)-query.Limit:]
	}

	return filtered
}
