package model

import (
	"sort"
	"sync"
)

// PresenceSet holds the astrologers currently online. List broadcasts replace it
// wholesale; single broadcasts flip one entry.
type PresenceSet struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewPresenceSet() *PresenceSet {
	return &PresenceSet{online: make(map[string]struct{})}
}

func (p *PresenceSet) Replace(ids []string) {
	next := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()
}

func (p *PresenceSet) Set(id string, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if online {
		p.online[id] = struct{}{}
	} else {
		delete(p.online, id)
	}
}

func (p *PresenceSet) IsOnline(id string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[id]
	return ok
}

// IDs returns the online ids in sorted order.
func (p *PresenceSet) IDs() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
