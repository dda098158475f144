// Package file provides file-based persistence. Each record is one JSON file;
// it is the default store for development and tests.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/taskmesh/taskmesh/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string

	taskRepo         *TaskRepository
	executionRepo    *ExecutionRepository
	pausePointRepo   *PausePointRepository
	contextEntryRepo *ContextEntryRepository
	messageRepo      *MessageRepository
}

// NewPersistence creates a new instance of Persistence rooted at the given
// directory. A "file://" prefix is stripped to match provider URL parsing.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:             cleanRoot,
		taskRepo:         &TaskRepository{root: cleanRoot},
		executionRepo:    &ExecutionRepository{root: cleanRoot},
		pausePointRepo:   &PausePointRepository{root: cleanRoot},
		contextEntryRepo: &ContextEntryRepository{root: cleanRoot},
		messageRepo:      &MessageRepository{root: cleanRoot},
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return fp.taskRepo
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) PausePointRepository() persistence.PausePointRepository {
	return fp.pausePointRepo
}

func (fp *Persistence) ContextEntryRepository() persistence.ContextEntryRepository {
	return fp.contextEntryRepo
}

func (fp *Persistence) MessageRepository() persistence.MessageRepository {
	return fp.messageRepo
}

// validateID rejects identifiers that are empty or unsafe for file paths.
func validateID(id string) error {
	if id == "" {
		return errors.New("id cannot be empty")
	}

	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return errors.New("id contains invalid characters")
	}

	return nil
}

// writeRecord marshals the value into <root>/<dir>/<id>.json, creating the
// directory as needed.
func writeRecord(root, dir, id string, value any) error {
	recordDir := filepath.Join(root, dir)

	err := os.MkdirAll(recordDir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s %s: %w", dir, id, err)
	}

	err = os.WriteFile(filepath.Join(recordDir, id+".json"), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write %s %s: %w", dir, id, err)
	}

	return nil
}

// readRecord unmarshals <root>/<dir>/<id>.json into out. Returns notFound when
// the file does not exist.
func readRecord(root, dir, id string, out any, notFound error) error {
	if err := validateID(id); err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}

	filePath := filepath.Join(root, dir, id+".json")

	data, err := os.ReadFile(filePath) // #nosec G304 -- filePath is validated and constructed safely
	if err != nil {
		if os.IsNotExist(err) {
			return notFound
		}

		return fmt.Errorf("failed to read %s %s: %w", dir, id, err)
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %s %s: %w", dir, id, err)
	}

	return nil
}

// listRecords unmarshals every JSON file in <root>/<dir>, calling visit with
// the raw payload. A missing directory yields an empty result.
func listRecords(root, dir string, visit func(data []byte) error) error {
	recordDir := filepath.Join(root, dir)

	entries, err := os.ReadDir(recordDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read %s directory: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(recordDir, entry.Name())) // #nosec G304
		if err != nil {
			return fmt.Errorf("failed to read %s record %s: %w", dir, entry.Name(), err)
		}

		err = visit(data)
		if err != nil {
			return err
		}
	}

	return nil
}
