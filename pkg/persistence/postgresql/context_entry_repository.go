package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

// ContextEntryRepository stores the append-only audit log. The (task_id,
// sequence) unique constraint is the durable guard for the gapless-sequence
// invariant.
type ContextEntryRepository struct {
	db *sql.DB
}

func (cr *ContextEntryRepository) Append(ctx context.Context, entry *models.ContextEntry) error {
	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal context entry data: %w", err)
	}

	query := `
		INSERT INTO context_entries (
			id, task_id, sequence, actor, operation, data, reasoning,
			triggered_by, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = cr.db.ExecContext(ctx, query,
		entry.ID,
		entry.TaskID,
		entry.Sequence,
		entry.Actor,
		entry.Operation,
		dataJSON,
		entry.Reasoning,
		entry.TriggeredBy,
		entry.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "context_entries_task_id_sequence_key") {
			return persistence.ErrDuplicateSequence
		}

		return fmt.Errorf("failed to append context entry: %w", err)
	}

	return nil
}

func (cr *ContextEntryRepository) ListByTask(ctx context.Context, taskID string) ([]*models.ContextEntry, error) {
	query := `
		SELECT id, task_id, sequence, actor, operation, data, reasoning,
			   triggered_by, created_at
		FROM context_entries
		WHERE task_id = $1
		ORDER BY sequence
	`

	rows, err := cr.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to list context entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.ContextEntry

	for rows.Next() {
		var (
			entry    models.ContextEntry
			dataJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.TaskID,
			&entry.Sequence,
			&entry.Actor,
			&entry.Operation,
			&dataJSON,
			&entry.Reasoning,
			&entry.TriggeredBy,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan context entry row: %w", err)
		}

		if len(dataJSON) > 0 && string(dataJSON) != "null" {
			err = json.Unmarshal(dataJSON, &entry.Data)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal context entry data: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}

func (cr *ContextEntryRepository) MaxSequence(ctx context.Context, taskID string) (int64, error) {
	var maxSequence int64

	err := cr.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(sequence), 0) FROM context_entries WHERE task_id = $1", taskID,
	).Scan(&maxSequence)
	if err != nil {
		return 0, fmt.Errorf("failed to query max sequence: %w", err)
	}

	return maxSequence, nil
}
