package escalation

import (
	"context"
	"sync"
)

// MemoryCounter keeps counts for the lifetime of the process.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int)}
}

func (c *MemoryCounter) Increment(ctx context.Context, guildID, userID string) (int, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	key := guildID + ":" + userID
	c.counts[key]++
	return c.counts[key], nil
}

func (c *MemoryCounter) Count(guildID, userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[guildID+":"+userID]
}

type InfractionStore interface {
	IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string) (int, error)
}

// InfractionCategory is the infractions table category used for spam counts.
const InfractionCategory = "spam"

// StoreCounter keeps counts in the infractions table so they survive restarts.
type StoreCounter struct {
	store InfractionStore
}

func NewStoreCounter(store InfractionStore) *StoreCounter {
	return &StoreCounter{store: store}
}

func (c *StoreCounter) Increment(ctx context.Context, guildID, userID string) (int, error) {
	return c.store.IncrementInfraction(ctx, guildID, userID, InfractionCategory, "detection")
}
