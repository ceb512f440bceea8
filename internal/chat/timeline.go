package chat

import (
	"sort"
	"sync"

	"github.com/astrosevaa/sessiond/internal/model"
)

// Timeline is a session's message list: live traffic appended in arrival
// order, older history pages prepended. Each message key appears once.
type Timeline struct {
	mu       sync.RWMutex
	messages []model.Message
	keys     map[string]struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{keys: make(map[string]struct{})}
}

// Append adds msg at the end. It reports false for a message already present.
func (t *Timeline) Append(msg model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := msg.Key()
	if _, ok := t.keys[key]; ok {
		return false
	}
	t.keys[key] = struct{}{}
	t.messages = append(t.messages, msg)
	return true
}

// Prepend places an older page before the loaded messages and returns how many
// were new. Loaded messages keep their order.
func (t *Timeline) Prepend(page []model.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	older := t.freshLocked(page)
	t.messages = append(older, t.messages...)
	return len(older)
}

// Replace discards the list and loads page as the newest history.
func (t *Timeline) Replace(page []model.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.keys = make(map[string]struct{}, len(page))
	t.messages = t.freshLocked(page)
	return len(t.messages)
}

// freshLocked sorts page chronologically and drops known keys, registering the rest.
func (t *Timeline) freshLocked(page []model.Message) []model.Message {
	sorted := append([]model.Message(nil), page...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	out := make([]model.Message, 0, len(sorted))
	for _, m := range sorted {
		key := m.Key()
		if _, ok := t.keys[key]; ok {
			continue
		}
		t.keys[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

func (t *Timeline) Messages() []model.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]model.Message(nil), t.messages...)
}

func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}
