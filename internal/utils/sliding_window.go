package utils

import (
	"sync"
	"time"
)

// Entry is one observation held by a SlidingWindow.
type Entry[T any] struct {
	At      time.Time
	Payload T
}

// SlidingWindow keeps entries in arrival order and drops every entry older
// than the retention relative to the observation time passed in.
// An entry exactly retention old is still inside the window.
type SlidingWindow[T any] struct {
	mu        sync.Mutex
	retention time.Duration
	entries   []Entry[T]
}

func NewSlidingWindow[T any](retention time.Duration) *SlidingWindow[T] {
	return &SlidingWindow[T]{retention: retention}
}

func (w *SlidingWindow[T]) Add(now time.Time, payload T) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	w.entries = append(w.entries, Entry[T]{At: now, Payload: payload})
	return len(w.entries)
}

func (w *SlidingWindow[T]) Count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	return len(w.entries)
}

// Snapshot returns a copy of the entries still inside the window.
func (w *SlidingWindow[T]) Snapshot(now time.Time) []Entry[T] {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.pruneLocked(now)
	out := make([]Entry[T], len(w.entries))
	copy(out, w.entries)
	return out
}

func (w *SlidingWindow[T]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = nil
}

func (w *SlidingWindow[T]) pruneLocked(now time.Time) {
	cutoff := now.Add(-w.retention)
	idx := 0
	for _, entry := range w.entries {
		if !entry.At.Before(cutoff) {
			break
		}
		idx++
	}
	w.entries = w.entries[idx:]
}
