package session

import (
	"sync"

	apperrors "github.com/astrosevaa/sessiond/internal/errors"
	"github.com/astrosevaa/sessiond/internal/model"
)

// Queue holds a provider's pending requests in arrival order. Positions are
// always 1..N.
type Queue struct {
	mu      sync.Mutex
	entries []model.QueueEntry
}

func NewQueue() *Queue {
	return &Queue{}
}

// Add appends entry. A requester already queued is rejected.
func (q *Queue) Add(entry model.QueueEntry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.indexLocked(entry.RequesterID) >= 0 {
		return apperrors.DuplicateRequest(entry.RequesterID)
	}
	q.entries = append(q.entries, entry)
	q.renumberLocked()
	return nil
}

// Replace swaps the contents for entries, keeping the first entry per requester.
func (q *Queue) Replace(entries []model.QueueEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool, len(entries))
	q.entries = make([]model.QueueEntry, 0, len(entries))
	for _, e := range entries {
		if e.RequesterID == "" || seen[e.RequesterID] {
			continue
		}
		seen[e.RequesterID] = true
		q.entries = append(q.entries, e)
	}
	q.renumberLocked()
}

// Remove drops the requester's entry and renumbers the rest.
func (q *Queue) Remove(requesterID string) (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(requesterID)
	if i < 0 {
		return model.QueueEntry{}, false
	}
	removed := q.entries[i]
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	q.renumberLocked()
	return removed, true
}

func (q *Queue) Find(requesterID string) (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := q.indexLocked(requesterID)
	if i < 0 {
		return model.QueueEntry{}, false
	}
	return q.entries[i], true
}

func (q *Queue) Head() (model.QueueEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return model.QueueEntry{}, false
	}
	return q.entries[0], true
}

func (q *Queue) Clear() {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Entries returns a copy in queue order.
func (q *Queue) Entries() []model.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]model.QueueEntry(nil), q.entries...)
}

func (q *Queue) indexLocked(requesterID string) int {
	for i, e := range q.entries {
		if e.RequesterID == requesterID {
			return i
		}
	}
	return -1
}

func (q *Queue) renumberLocked() {
	for i := range q.entries {
		q.entries[i].Position = i + 1
	}
}
