// Package signals turns a per-user message stream into spam signal verdicts.
//
// Each user gets one window per signal kind. Windows are pruned on every
// observation and are never shared across users or kinds. Callers must feed
// a given user's events in arrival order; different users may be observed
// concurrently.
package signals

import (
	"sync"
	"time"

	"sentinel-spamguard/internal/config"
	"sentinel-spamguard/internal/utils"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Kind string

const (
	KindBurst     Kind = "burst"
	KindDuplicate Kind = "duplicate"
	KindMention   Kind = "mention"
)

type Rule struct {
	Retention time.Duration
	Threshold int
}

type Config struct {
	Burst     Rule
	Duplicate Rule
	Mention   Rule
	IdleTTL   time.Duration
	MaxUsers  int
}

func ConfigFrom(cfg config.SignalsConfig) Config {
	return Config{
		Burst:     Rule{Retention: cfg.Burst.Retention(), Threshold: cfg.Burst.Threshold},
		Duplicate: Rule{Retention: cfg.Duplicate.Retention(), Threshold: cfg.Duplicate.Threshold},
		Mention:   Rule{Retention: cfg.Mention.Retention(), Threshold: cfg.Mention.Threshold},
		IdleTTL:   cfg.IdleTTL(),
		MaxUsers:  cfg.MaxUsers,
	}
}

// Event is the part of an inbound message the trackers care about.
type Event struct {
	GuildID      string
	UserID       string
	Content      string
	CreatedAt    time.Time
	MentionCount int
}

type Observation struct {
	Tripped  []Kind
	Evidence []string
}

func (o Observation) Detected() bool {
	return len(o.Tripped) > 0
}

func (o Observation) Has(kind Kind) bool {
	for _, tripped := range o.Tripped {
		if tripped == kind {
			return true
		}
	}
	return false
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type userState struct {
	mu          sync.Mutex
	lastSeen    time.Time
	burst       *utils.SlidingWindow[string]
	duplicates  *utils.SlidingWindow[struct{}]
	mentions    *utils.SlidingWindow[int]
	lastContent string
	hasLast     bool
}

type Tracker struct {
	mu    sync.Mutex
	cfg   Config
	clock Clock
	users *expirable.LRU[string, *userState]
}

func NewTracker(cfg Config) *Tracker {
	maxUsers := cfg.MaxUsers
	if maxUsers <= 0 {
		maxUsers = 50000
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Tracker{
		cfg:   cfg,
		clock: realClock{},
		users: expirable.NewLRU[string, *userState](maxUsers, nil, ttl),
	}
}

func (t *Tracker) WithClock(clock Clock) {
	t.clock = clock
}

// Observe records one message and returns every signal it tripped.
func (t *Tracker) Observe(event Event) Observation {
	state := t.state(event.GuildID, event.UserID)
	state.mu.Lock()
	defer state.mu.Unlock()

	now := event.CreatedAt
	if now.IsZero() {
		now = t.clock.Now()
	}
	now = now.UTC()
	if now.Before(state.lastSeen) {
		now = state.lastSeen
	}
	state.lastSeen = now

	var obs Observation

	if state.burst.Add(now, event.Content) >= t.cfg.Burst.Threshold {
		obs.Tripped = append(obs.Tripped, KindBurst)
	}

	if event.Content == "" {
		state.duplicates.Reset()
		state.hasLast = false
	} else {
		if !state.hasLast || state.lastContent != event.Content {
			state.duplicates.Reset()
		}
		state.lastContent = event.Content
		state.hasLast = true
		if state.duplicates.Add(now, struct{}{}) >= t.cfg.Duplicate.Threshold {
			obs.Tripped = append(obs.Tripped, KindDuplicate)
		}
	}

	if event.MentionCount > 0 {
		if state.mentions.Add(now, event.MentionCount) >= t.cfg.Mention.Threshold {
			obs.Tripped = append(obs.Tripped, KindMention)
		}
	}

	if obs.Detected() {
		for _, entry := range state.burst.Snapshot(now) {
			obs.Evidence = append(obs.Evidence, entry.Payload)
		}
	}
	return obs
}

// Reset forgets everything observed for a user.
func (t *Tracker) Reset(guildID, userID string) {
	t.users.Remove(key(guildID, userID))
}

// Len is the number of users currently tracked.
func (t *Tracker) Len() int {
	return t.users.Len()
}

func (t *Tracker) state(guildID, userID string) *userState {
	k := key(guildID, userID)

	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.users.Get(k)
	if !ok {
		state = &userState{
			burst:      utils.NewSlidingWindow[string](t.cfg.Burst.Retention),
			duplicates: utils.NewSlidingWindow[struct{}](t.cfg.Duplicate.Retention),
			mentions:   utils.NewSlidingWindow[int](t.cfg.Mention.Retention),
		}
	}
	// re-adding refreshes the idle expiry
	t.users.Add(k, state)
	return state
}

func key(guildID, userID string) string {
	return guildID + ":" + userID
}
