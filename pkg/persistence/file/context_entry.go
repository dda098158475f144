package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

const contextEntriesDir = "context_entries"

// ContextEntryRepository stores the append-only audit log, one directory per
// task with one file per sequence number. The file name doubles as a
// uniqueness guard for sequences.
type ContextEntryRepository struct {
	root string
}

func (cr *ContextEntryRepository) Append(ctx context.Context, entry *models.ContextEntry) error {
	if err := validateID(entry.TaskID); err != nil {
		return fmt.Errorf("invalid task id: %w", err)
	}

	taskDir := filepath.Join(cr.root, contextEntriesDir, entry.TaskID)

	err := os.MkdirAll(taskDir, 0750)
	if err != nil {
		return fmt.Errorf("failed to create context entries directory: %w", err)
	}

	filePath := filepath.Join(taskDir, fmt.Sprintf("%012d.json", entry.Sequence))

	if _, err := os.Stat(filePath); err == nil {
		return persistence.ErrDuplicateSequence
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal context entry: %w", err)
	}

	err = os.WriteFile(filePath, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write context entry: %w", err)
	}

	return nil
}

func (cr *ContextEntryRepository) ListByTask(ctx context.Context, taskID string) ([]*models.ContextEntry, error) {
	if err := validateID(taskID); err != nil {
		return nil, fmt.Errorf("invalid task id: %w", err)
	}

	taskDir := filepath.Join(cr.root, contextEntriesDir, taskID)

	dirEntries, err := os.ReadDir(taskDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read context entries for task %s: %w", taskID, err)
	}

	entries := make([]*models.ContextEntry, 0, len(dirEntries))

	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() {
			continue
		}

		data, err := os.ReadFile(filepath.Join(taskDir, dirEntry.Name())) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to read context entry %s: %w", dirEntry.Name(), err)
		}

		var entry models.ContextEntry

		err = json.Unmarshal(data, &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal context entry %s: %w", dirEntry.Name(), err)
		}

		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Sequence < entries[j].Sequence
	})

	return entries, nil
}

func (cr *ContextEntryRepository) MaxSequence(ctx context.Context, taskID string) (int64, error) {
	entries, err := cr.ListByTask(ctx, taskID)
	if err != nil {
		return 0, err
	}

	if len(entries) == 0 {
		return 0, nil
	}

	return entries[len(entries)-1].Sequence, nil
}
