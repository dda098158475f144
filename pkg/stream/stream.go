// Package stream implements the in-process, per-task observer feed: a
// publish/subscribe channel keyed by task ID with a bounded history ring that
// is replayed to late subscribers. Delivery is best-effort; durability is the
// store's job, not this package's.
package stream

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultHistoryCapacity bounds the per-task replay ring.
const DefaultHistoryCapacity = 100

// subscriberBuffer bounds each subscriber's delivery queue; events beyond it
// are dropped rather than blocking the broadcaster.
const subscriberBuffer = 256

// Event is one observer-facing notification on a task channel.
type Event struct {
	ID        string         `json:"id"`
	TaskID    string         `json:"task_id"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Callback receives events for one subscription. Callbacks run on the
// subscription's own goroutine, never on the broadcaster's stack.
type Callback func(Event)

type subscriber struct {
	id   string
	ch   chan Event
	done chan struct{}
}

// Stream fans events out to task-scoped subscribers.
type Stream struct {
	mu       sync.Mutex
	capacity int
	logger   *slog.Logger

	subscribers map[string]map[string]*subscriber // task ID -> subscriber ID -> subscriber
	history     map[string][]Event                // task ID -> bounded ring, oldest first
	dropped     map[string]int                    // task ID -> events dropped on full buffers
}

func New(capacity int, logger *slog.Logger) *Stream {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}

	return &Stream{
		capacity:    capacity,
		logger:      logger.With("module", "stream"),
		subscribers: make(map[string]map[string]*subscriber),
		history:     make(map[string][]Event),
		dropped:     make(map[string]int),
	}
}

// Broadcast delivers the event to all current subscribers of its task channel
// and appends it to the task's history ring, dropping the oldest entry once
// the ring is full.
func (s *Stream) Broadcast(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()

	ring := append(s.history[ev.TaskID], ev)
	if len(ring) > s.capacity {
		ring = ring[len(ring)-s.capacity:]
	}

	s.history[ev.TaskID] = ring

	for _, sub := range s.subscribers[ev.TaskID] {
		select {
		case sub.ch <- ev:
		default:
			s.dropped[ev.TaskID]++
			s.logger.Warn("subscriber buffer full, dropping event",
				"task_id", ev.TaskID, "subscriber_id", sub.id, "event_type", ev.Type)
		}
	}

	s.mu.Unlock()
}

// Subscribe registers a callback on the task's channel. Unless skipHistory is
// set, the buffered history is replayed to the new subscriber first, in order,
// before any live events. The returned function removes the subscription; when
// the last subscriber for a task departs, the task's history is evicted.
func (s *Stream) Subscribe(taskID string, callback Callback, subscriberID string, skipHistory bool) func() {
	sub := &subscriber{
		id:   subscriberID,
		ch:   make(chan Event, subscriberBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()

	if s.subscribers[taskID] == nil {
		s.subscribers[taskID] = make(map[string]*subscriber)
	}

	s.subscribers[taskID][subscriberID] = sub

	// Queue the replay inside the lock so live broadcasts land after it.
	if !skipHistory {
		for _, ev := range s.history[taskID] {
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}

	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				callback(ev)
			case <-sub.done:
				// Flush events queued before shutdown: a terminal event
				// broadcast just before eviction must still reach the
				// subscriber.
				for {
					select {
					case ev := <-sub.ch:
						callback(ev)
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()

			delete(s.subscribers[taskID], subscriberID)

			if len(s.subscribers[taskID]) == 0 {
				delete(s.subscribers, taskID)
				delete(s.history, taskID)
				delete(s.dropped, taskID)
			}

			s.mu.Unlock()
			close(sub.done)
		})
	}
}

// Evict discards the task's history and drops its subscribers. Called when a
// task reaches a terminal state to bound memory for channels nobody watches.
func (s *Stream) Evict(taskID string) {
	s.mu.Lock()

	for _, sub := range s.subscribers[taskID] {
		close(sub.done)
	}

	delete(s.subscribers, taskID)
	delete(s.history, taskID)
	delete(s.dropped, taskID)

	s.mu.Unlock()
}

// History returns a copy of the task's buffered events, oldest first.
func (s *Stream) History(taskID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.history[taskID]))
	copy(out, s.history[taskID])

	return out
}

// SubscriberCount reports the number of live subscriptions for a task.
func (s *Stream) SubscriberCount(taskID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.subscribers[taskID])
}
