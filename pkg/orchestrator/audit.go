package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskmesh/taskmesh/pkg/models"
	"github.com/taskmesh/taskmesh/pkg/persistence"
)

// AuditLog appends context entries with strictly increasing, gapless sequence
// numbers per task. A sequence number is only consumed when its entry
// persists; a failed append leaves the counter where it was.
type AuditLog struct {
	entries persistence.ContextEntryRepository
	logger  *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	next  map[string]int64
}

func NewAuditLog(entries persistence.ContextEntryRepository, logger *slog.Logger) *AuditLog {
	return &AuditLog{
		entries: entries,
		logger:  logger.With("module", "audit"),
		locks:   make(map[string]*sync.Mutex),
		next:    make(map[string]int64),
	}
}

func (l *AuditLog) taskLock(taskID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[taskID] = lock
	}

	return lock
}

// Append writes one audit entry for the task. Concurrent appends for the same
// task serialize on a per-task lock so sequences never collide in-process; the
// store's uniqueness constraint backstops multi-process races.
func (l *AuditLog) Append(ctx context.Context, taskID, actor, operation string, data map[string]any, reasoning, triggeredBy string) (*models.ContextEntry, error) {
	lock := l.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	sequence, err := l.nextSequence(ctx, taskID)
	if err != nil {
		return nil, err
	}

	entry := &models.ContextEntry{
		ID:          uuid.New().String(),
		TaskID:      taskID,
		Sequence:    sequence,
		Actor:       actor,
		Operation:   operation,
		Data:        data,
		Reasoning:   reasoning,
		TriggeredBy: triggeredBy,
		CreatedAt:   time.Now().UTC(),
	}

	err = l.entries.Append(ctx, entry)
	if errors.Is(err, persistence.ErrDuplicateSequence) {
		// Another process appended under this sequence. Reseed from the store
		// and take the next slot.
		l.mu.Lock()
		delete(l.next, taskID)
		l.mu.Unlock()

		sequence, err = l.nextSequence(ctx, taskID)
		if err != nil {
			return nil, err
		}

		entry.Sequence = sequence
		err = l.entries.Append(ctx, entry)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to append context entry for task %s: %w", taskID, err)
	}

	l.mu.Lock()
	l.next[taskID] = sequence
	l.mu.Unlock()

	return entry, nil
}

// Trim drops the in-memory counter for a task that reached a terminal state.
func (l *AuditLog) Trim(taskID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.next, taskID)
	delete(l.locks, taskID)
}

func (l *AuditLog) nextSequence(ctx context.Context, taskID string) (int64, error) {
	l.mu.Lock()
	last, seeded := l.next[taskID]
	l.mu.Unlock()

	if !seeded {
		maxSeq, err := l.entries.MaxSequence(ctx, taskID)
		if err != nil {
			return 0, fmt.Errorf("failed to seed sequence for task %s: %w", taskID, err)
		}

		last = maxSeq
	}

	return last + 1, nil
}
