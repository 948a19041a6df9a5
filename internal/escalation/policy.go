// Package escalation maps spam detections to punitive tiers.
//
// Every user has an occurrence count that grows by one per detection. Counts
// below the terminal threshold yield a temporary restriction that a moderator
// may review; reaching the threshold yields a permanent restriction with no
// review. Detections past the threshold are no-ops.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sentinel-spamguard/internal/config"
)

type Action string

const (
	ActionNone      Action = "none"
	ActionTemporary Action = "temporary_restriction"
	ActionPermanent Action = "permanent_restriction"
)

type Decision struct {
	Occurrence          int
	Action              Action
	RequiresArbitration bool
	Duration            time.Duration
}

func (d Decision) Actionable() bool {
	return d.Action != ActionNone
}

func (d Decision) Permanent() bool {
	return d.Action == ActionPermanent
}

type Config struct {
	TemporaryDuration time.Duration
	TerminalThreshold int
	Arbitration       bool
}

func ConfigFrom(esc config.EscalationConfig, arb config.ArbitrationConfig) Config {
	return Config{
		TemporaryDuration: esc.TemporaryDuration(),
		TerminalThreshold: esc.TerminalThreshold,
		Arbitration:       arb.Enabled,
	}
}

// Counter owns the occurrence counts.
type Counter interface {
	Increment(ctx context.Context, guildID, userID string) (int, error)
}

type Policy struct {
	mu       sync.Mutex
	cfg      Config
	counter  Counter
	terminal map[string]struct{}
}

func NewPolicy(cfg Config, counter Counter) *Policy {
	if cfg.TerminalThreshold < 1 {
		cfg.TerminalThreshold = 3
	}
	if cfg.TemporaryDuration <= 0 {
		cfg.TemporaryDuration = 7 * 24 * time.Hour
	}
	if counter == nil {
		counter = NewMemoryCounter()
	}
	return &Policy{cfg: cfg, counter: counter, terminal: make(map[string]struct{})}
}

// Escalate records one detection for the user and returns what to do about it.
func (p *Policy) Escalate(ctx context.Context, guildID, userID string) (Decision, error) {
	key := guildID + ":" + userID

	p.mu.Lock()
	_, done := p.terminal[key]
	p.mu.Unlock()
	if done {
		return Decision{Occurrence: p.cfg.TerminalThreshold, Action: ActionNone}, nil
	}

	count, err := p.counter.Increment(ctx, guildID, userID)
	if err != nil {
		return Decision{Action: ActionNone}, fmt.Errorf("increment occurrence: %w", err)
	}

	decision := Decision{Occurrence: count}
	switch {
	case count > p.cfg.TerminalThreshold:
		decision.Action = ActionNone
	case count == p.cfg.TerminalThreshold:
		decision.Action = ActionPermanent
	default:
		decision.Action = ActionTemporary
		decision.Duration = p.cfg.TemporaryDuration
		decision.RequiresArbitration = p.cfg.Arbitration
	}

	if count >= p.cfg.TerminalThreshold {
		p.mu.Lock()
		p.terminal[key] = struct{}{}
		p.mu.Unlock()
	}
	return decision, nil
}

// Terminal reports whether the user already reached the permanent tier.
func (p *Policy) Terminal(guildID, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.terminal[guildID+":"+userID]
	return ok
}
