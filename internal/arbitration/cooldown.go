package arbitration

import (
	"sync"
	"time"
)

// CooldownRegistry remembers when each voter last had a vote accepted.
type CooldownRegistry struct {
	mu       sync.Mutex
	duration time.Duration
	last     map[string]time.Time
}

func NewCooldownRegistry(duration time.Duration) *CooldownRegistry {
	return &CooldownRegistry{duration: duration, last: make(map[string]time.Time)}
}

func (r *CooldownRegistry) Allowed(voterID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allowedLocked(voterID, at)
}

func (r *CooldownRegistry) Record(voterID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordLocked(voterID, at)
}

// TryAcquire records the vote only if the voter is outside the cooldown.
func (r *CooldownRegistry) TryAcquire(voterID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.allowedLocked(voterID, at) {
		return false
	}
	r.recordLocked(voterID, at)
	return true
}

func (r *CooldownRegistry) Remaining(voterID string, at time.Time) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.last[voterID]
	if !ok {
		return 0
	}
	remaining := r.duration - at.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (r *CooldownRegistry) allowedLocked(voterID string, at time.Time) bool {
	last, ok := r.last[voterID]
	if !ok || r.duration <= 0 {
		return true
	}
	return at.Sub(last) >= r.duration
}

func (r *CooldownRegistry) recordLocked(voterID string, at time.Time) {
	r.last[voterID] = at
	for id, ts := range r.last {
		if at.Sub(ts) >= r.duration && id != voterID {
			delete(r.last, id)
		}
	}
}
