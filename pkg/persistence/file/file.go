// Package file provides file-based persistence for local development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/troneras/workflow-orchestrator/pkg/persistence"
)

const sequencesFile = "sequences.json"

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	store *store

	executionRepo *ExecutionRepository
	eventRepo     *StreamEventRepository
	attemptRepo   *WebhookAttemptRepository
	providerRepo  *ProviderRepository
	taskRepo      *TaskRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)
	s := &store{root: cleanRoot}

	return &Persistence{
		store:         s,
		executionRepo: &ExecutionRepository{store: s},
		eventRepo:     &StreamEventRepository{store: s},
		attemptRepo:   &WebhookAttemptRepository{store: s},
		providerRepo:  &ProviderRepository{store: s},
		taskRepo:      &TaskRepository{store: s},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists, creating it on first use.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if err := os.MkdirAll(fp.store.root, 0o750); err != nil {
		return fmt.Errorf("failed to access persistence root: %w", err)
	}

	return nil
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) StreamEventRepository() persistence.StreamEventRepository {
	return fp.eventRepo
}

func (fp *Persistence) WebhookAttemptRepository() persistence.WebhookAttemptRepository {
	return fp.attemptRepo
}

func (fp *Persistence) ProviderRepository() persistence.ProviderRepository {
	return fp.providerRepo
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return fp.taskRepo
}

// store serializes every read and write of the backend behind one mutex, so a
// multi-field record update is a single file replacement no reader can observe
// half-written.
type store struct {
	root string
	mu   sync.Mutex
}

// read decodes rel into v. It reports false when the file does not exist.
func (s *store) read(rel string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(s.root, rel))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to read %s: %w", rel, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", rel, err)
	}

	return true, nil
}

// write replaces rel atomically through a temp file rename.
func (s *store) write(rel string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", rel, err)
	}

	target := filepath.Join(s.root, rel)

	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", rel, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", rel, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", rel, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to close %s: %w", rel, err)
	}

	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", rel, err)
	}

	return nil
}

// listIDs returns the numeric ids of the records in dir, ascending.
func (s *store) listIDs(dir string) ([]int64, error) {
	matches, err := fs.Glob(os.DirFS(s.root), dir+"/*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	ids := make([]int64, 0, len(matches))

	for _, match := range matches {
		id, err := strconv.ParseInt(strings.TrimSuffix(filepath.Base(match), ".json"), 10, 64)
		if err != nil {
			continue
		}

		ids = append(ids, id)
	}

	slices.Sort(ids)

	return ids, nil
}

// nextID hands out monotonically increasing ids per record kind.
func (s *store) nextID(kind string) (int64, error) {
	sequences := map[string]int64{}

	if _, err := s.read(sequencesFile, &sequences); err != nil {
		return 0, err
	}

	sequences[kind]++

	if err := s.write(sequencesFile, sequences); err != nil {
		return 0, err
	}

	return sequences[kind], nil
}

func recordPath(dir string, id int64) string {
	return fmt.Sprintf("%s/%d.json", dir, id)
}
