package store

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"flowspec/internal/event"
	"flowspec/internal/logging"
)

const stateVersion = 1

// ErrNotFound reports a lookup for an entity that does not exist.
var ErrNotFound = errors.New("not found")

type state struct {
	Version      int           `json:"version"`
	Solutions    []Solution    `json:"solutions"`
	Uploads      []Upload      `json:"uploads"`
	SpecVersions []SpecVersion `json:"specVersions"`
	Events       []Event       `json:"events"`
}

// Store is the file-backed entity store.
type Store struct {
	path   string
	logger *logging.Logger
	bus    *event.Bus[Event]

	mu    sync.Mutex
	state state
}

// SetEventBus attaches a bus that receives every event passed to
// LogEvent. Call before the store is shared across goroutines.
func (s *Store) SetEventBus(bus *event.Bus[Event]) {
	if s == nil {
		return
	}
	s.bus = bus
}

// Open loads the state file at path, creating an empty store when the file
// does not exist. An undecodable file is moved aside and replaced with an
// empty state so the service can start.
func Open(path string, logger *logging.Logger) (*Store, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, errors.New("store path required")
	}

	storeInstance := &Store{path: trimmedPath, logger: logger, state: state{Version: stateVersion}}

	data, err := os.ReadFile(trimmedPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return storeInstance, nil
		}
		return nil, err
	}

	var loaded state
	if err := json.Unmarshal(data, &loaded); err != nil {
		storeInstance.backupCorruptFile(trimmedPath, err)
		return storeInstance, nil
	}
	if loaded.Version == 0 {
		loaded.Version = stateVersion
	}
	storeInstance.state = loaded
	return storeInstance, nil
}

func (s *Store) CreateSolution(name, ownerEmail string) (Solution, error) {
	if s == nil {
		return Solution{}, errors.New("store unavailable")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Solution{}, errors.New("solution name required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	solution := Solution{
		ID:         newEntityID(),
		Name:       name,
		OwnerEmail: strings.TrimSpace(ownerEmail),
		CreatedAt:  time.Now().UTC(),
	}
	s.state.Solutions = append(s.state.Solutions, solution)
	if err := s.save(); err != nil {
		s.state.Solutions = s.state.Solutions[:len(s.state.Solutions)-1]
		return Solution{}, err
	}
	return solution, nil
}

func (s *Store) Solution(id string) (Solution, error) {
	if s == nil {
		return Solution{}, errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, solution := range s.state.Solutions {
		if solution.ID == id {
			return solution, nil
		}
	}
	return Solution{}, fmt.Errorf("solution %s: %w", id, ErrNotFound)
}

func (s *Store) Solutions() []Solution {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	solutions := make([]Solution, len(s.state.Solutions))
	copy(solutions, s.state.Solutions)
	return solutions
}

// SetSolutionRepo records the repository backing a solution the first time
// a run provisions it.
func (s *Store) SetSolutionRepo(id, repoName string) error {
	if s == nil {
		return errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Solutions {
		if s.state.Solutions[i].ID == id {
			previous := s.state.Solutions[i].RepoName
			s.state.Solutions[i].RepoName = repoName
			if err := s.save(); err != nil {
				s.state.Solutions[i].RepoName = previous
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("solution %s: %w", id, ErrNotFound)
}

func (s *Store) CreateUpload(solutionID, archivePath string) (Upload, error) {
	if s == nil {
		return Upload{}, errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.solutionExists(solutionID) {
		return Upload{}, fmt.Errorf("solution %s: %w", solutionID, ErrNotFound)
	}
	upload := Upload{
		ID:          newEntityID(),
		SolutionID:  solutionID,
		ArchivePath: archivePath,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	s.state.Uploads = append(s.state.Uploads, upload)
	if err := s.save(); err != nil {
		s.state.Uploads = s.state.Uploads[:len(s.state.Uploads)-1]
		return Upload{}, err
	}
	return upload, nil
}

func (s *Store) Upload(id string) (Upload, error) {
	if s == nil {
		return Upload{}, errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, upload := range s.state.Uploads {
		if upload.ID == id {
			return upload, nil
		}
	}
	return Upload{}, fmt.Errorf("upload %s: %w", id, ErrNotFound)
}

func (s *Store) SetUploadStatus(id string, status Status) error {
	return s.updateUpload(id, func(upload *Upload) {
		upload.Status = status
	})
}

// SetUploadIssue records the question ticket correlated with a run.
func (s *Store) SetUploadIssue(id string, issueNumber int) error {
	return s.updateUpload(id, func(upload *Upload) {
		upload.IssueNumber = issueNumber
	})
}

// SetUploadPR records the approval request correlated with a run.
func (s *Store) SetUploadPR(id string, prNumber int) error {
	return s.updateUpload(id, func(upload *Upload) {
		upload.PRNumber = prNumber
	})
}

// FindUploadByIssue routes an inbound question-ticket event to its run.
func (s *Store) FindUploadByIssue(issueNumber int) (Upload, error) {
	return s.findUpload(func(upload Upload) bool {
		return upload.IssueNumber == issueNumber && upload.IssueNumber != 0
	})
}

// FindUploadByPR routes an inbound approval-request event to its run.
func (s *Store) FindUploadByPR(prNumber int) (Upload, error) {
	return s.findUpload(func(upload Upload) bool {
		return upload.PRNumber == prNumber && upload.PRNumber != 0
	})
}

func (s *Store) updateUpload(id string, mutate func(*Upload)) error {
	if s == nil {
		return errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.state.Uploads {
		if s.state.Uploads[i].ID == id {
			previous := s.state.Uploads[i]
			mutate(&s.state.Uploads[i])
			if err := s.save(); err != nil {
				s.state.Uploads[i] = previous
				return err
			}
			return nil
		}
	}
	return fmt.Errorf("upload %s: %w", id, ErrNotFound)
}

func (s *Store) findUpload(match func(Upload) bool) (Upload, error) {
	if s == nil {
		return Upload{}, errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, upload := range s.state.Uploads {
		if match(upload) {
			return upload, nil
		}
	}
	return Upload{}, ErrNotFound
}

// NextSpecVersion computes max(existing versionNumber)+1 for a solution, or
// 1 when none exist. Callers holding workflow-level ordering still race on
// this read for concurrent runs of one solution; FinalizeSpecVersion
// re-checks under the store lock so the monotonic invariant holds.
func (s *Store) NextSpecVersion(solutionID string) int {
	if s == nil {
		return 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSpecVersionLocked(solutionID)
}

func (s *Store) nextSpecVersionLocked(solutionID string) int {
	highest := 0
	for _, version := range s.state.SpecVersions {
		if version.SolutionID == solutionID && version.VersionNumber > highest {
			highest = version.VersionNumber
		}
	}
	return highest + 1
}

// FinalizeSpecVersion demotes the solution's previously current document
// and inserts the new one as current in a single locked mutation, so a
// reader never observes two current documents nor zero once a run has
// finalized. If the requested version number was taken by a concurrent
// run, the next free number is assigned instead.
func (s *Store) FinalizeSpecVersion(version SpecVersion) (SpecVersion, error) {
	if s == nil {
		return SpecVersion{}, errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.solutionExists(version.SolutionID) {
		return SpecVersion{}, fmt.Errorf("solution %s: %w", version.SolutionID, ErrNotFound)
	}

	next := s.nextSpecVersionLocked(version.SolutionID)
	if version.VersionNumber == 0 || version.VersionNumber < next {
		version.VersionNumber = next
	}

	previous := make([]SpecVersion, len(s.state.SpecVersions))
	copy(previous, s.state.SpecVersions)

	for i := range s.state.SpecVersions {
		if s.state.SpecVersions[i].SolutionID == version.SolutionID {
			s.state.SpecVersions[i].IsCurrent = false
		}
	}

	if version.ID == "" {
		version.ID = newEntityID()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}
	if version.ApprovedAt == nil {
		approvedAt := time.Now().UTC()
		version.ApprovedAt = &approvedAt
	}
	version.IsCurrent = true
	s.state.SpecVersions = append(s.state.SpecVersions, version)

	if err := s.save(); err != nil {
		s.state.SpecVersions = previous
		return SpecVersion{}, err
	}
	return version, nil
}

func (s *Store) SpecVersions(solutionID string) []SpecVersion {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := make([]SpecVersion, 0, len(s.state.SpecVersions))
	for _, version := range s.state.SpecVersions {
		if version.SolutionID == solutionID {
			versions = append(versions, version)
		}
	}
	sort.Slice(versions, func(i, j int) bool {
		return versions[i].VersionNumber < versions[j].VersionNumber
	})
	return versions
}

func (s *Store) CurrentSpecVersion(solutionID string) (SpecVersion, error) {
	if s == nil {
		return SpecVersion{}, errors.New("store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, version := range s.state.SpecVersions {
		if version.SolutionID == solutionID && version.IsCurrent {
			return version, nil
		}
	}
	return SpecVersion{}, ErrNotFound
}

// LogEvent appends a run event. Persistence failures are swallowed after a
// warning: observational logging must never fail the step it observes.
func (s *Store) LogEvent(event Event) {
	if s == nil {
		return
	}
	if event.Level == "" {
		event.Level = "info"
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	s.state.Events = append(s.state.Events, event)
	saveErr := s.save()
	s.mu.Unlock()

	if saveErr != nil && s.logger != nil {
		s.logger.Warn("event log write failed", map[string]string{
			"event_type": event.EventType,
			"error":      saveErr.Error(),
		})
	}
	s.bus.Publish(event)
}

// Events returns the event log rows for one upload, oldest first.
func (s *Store) Events(uploadID string) []Event {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make([]Event, 0, len(s.state.Events))
	for _, event := range s.state.Events {
		if event.UploadID == uploadID {
			events = append(events, event)
		}
	}
	return events
}

func (s *Store) save() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	payload, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return err
	}

	tempFile, err := os.CreateTemp(dir, "state-*.json")
	if err != nil {
		return err
	}
	tempName := tempFile.Name()
	defer func() {
		_ = tempFile.Close()
		_ = os.Remove(tempName)
	}()

	if _, err := tempFile.Write(payload); err != nil {
		return err
	}
	if err := tempFile.Sync(); err != nil {
		return err
	}
	if err := tempFile.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tempName, 0o644); err != nil {
		return err
	}
	return os.Rename(tempName, s.path)
}

func (s *Store) backupCorruptFile(path string, cause error) {
	timestamp := time.Now().UTC().Format("20060102T150405Z")
	backupPath := fmt.Sprintf("%s.%s.bck", path, timestamp)
	if err := os.Rename(path, backupPath); err != nil {
		if s.logger != nil {
			s.logger.Warn("state backup failed", map[string]string{
				"path":  path,
				"error": err.Error(),
			})
		}
		return
	}
	if s.logger != nil {
		s.logger.Warn("state file undecodable, moved aside", map[string]string{
			"path":   path,
			"backup": backupPath,
			"error":  cause.Error(),
		})
	}
}

func (s *Store) solutionExists(id string) bool {
	for _, solution := range s.state.Solutions {
		if solution.ID == id {
			return true
		}
	}
	return false
}

func newEntityID() string {
	buffer := make([]byte, 16)
	if _, err := rand.Read(buffer); err != nil {
		return fmt.Sprintf("t%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buffer)
}
