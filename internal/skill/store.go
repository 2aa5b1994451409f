package skill

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"flowspec/internal/logging"

	"gopkg.in/yaml.v3"
)

// ErrInvalidDefinitions reports an undecodable or inconsistent skill file.
var ErrInvalidDefinitions = errors.New("skill definitions invalid")

type skillFile struct {
	Definitions []Definition `yaml:"definitions"`
}

// Store keeps skill definitions in one YAML file. Reads take a snapshot so
// analysis never observes a half-applied reload; all mutation is serialized
// behind the store mutex.
type Store struct {
	path   string
	logger *logging.Logger

	mu          sync.RWMutex
	definitions []Definition
}

func NewStore(path string, logger *logging.Logger) *Store {
	return &Store{path: strings.TrimSpace(path), logger: logger}
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Load reads the definitions file. A missing file yields an empty store.
func (s *Store) Load() error {
	if s == nil {
		return errors.New("skill store unavailable")
	}
	if s.path == "" {
		return errors.New("skill store path required")
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.definitions = nil
			s.mu.Unlock()
			return nil
		}
		return err
	}

	var file skillFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		s.logWarn("skill file undecodable", map[string]string{
			"path":  s.path,
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrInvalidDefinitions, err)
	}
	if err := validateUnique(file.Definitions); err != nil {
		s.logWarn("skill file inconsistent", map[string]string{
			"path":  s.path,
			"error": err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrInvalidDefinitions, err)
	}

	s.mu.Lock()
	s.definitions = file.Definitions
	s.mu.Unlock()
	return nil
}

// All returns a snapshot copy of every definition, ordered by key.
func (s *Store) All() []Definition {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	snapshot := make([]Definition, len(s.definitions))
	copy(snapshot, s.definitions)
	s.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool {
		return snapshot[i].Key() < snapshot[j].Key()
	})
	return snapshot
}

// Upsert inserts or replaces the definition with the same key and persists
// the file.
func (s *Store) Upsert(definition Definition) error {
	if s == nil {
		return errors.New("skill store unavailable")
	}
	if err := definition.Validate(); err != nil {
		return err
	}
	if definition.UpdatedAt.IsZero() {
		definition.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := definition.Key()
	replaced := false
	next := make([]Definition, 0, len(s.definitions)+1)
	for _, existing := range s.definitions {
		if existing.Key() == key {
			next = append(next, definition)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, definition)
	}

	if err := s.save(next); err != nil {
		return err
	}
	s.definitions = next
	return nil
}

// Seed inserts every given definition that is not already present and
// persists the file once. Returns the number inserted.
func (s *Store) Seed(definitions []Definition) (int, error) {
	if s == nil {
		return 0, errors.New("skill store unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]struct{}, len(s.definitions))
	for _, definition := range s.definitions {
		existing[definition.Key()] = struct{}{}
	}

	next := s.definitions
	inserted := 0
	for _, definition := range definitions {
		if err := definition.Validate(); err != nil {
			return inserted, err
		}
		if _, ok := existing[definition.Key()]; ok {
			continue
		}
		if definition.UpdatedAt.IsZero() {
			definition.UpdatedAt = time.Now().UTC()
		}
		next = append(next, definition)
		existing[definition.Key()] = struct{}{}
		inserted++
	}
	if inserted == 0 {
		return 0, nil
	}

	if err := s.save(next); err != nil {
		return 0, err
	}
	s.definitions = next
	return inserted, nil
}

func (s *Store) save(definitions []Definition) error {
	data, err := yaml.Marshal(skillFile{Definitions: definitions})
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".skills-*.yaml")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

func (s *Store) logWarn(message string, fields map[string]string) {
	if s == nil || s.logger == nil {
		return
	}
	s.logger.Warn(message, fields)
}
