// Package arbitration runs time-boxed moderator votes on spam detections.
//
// A case is keyed by the identifier of the decision request message and moves
// from Open to exactly one of Resolved (first accepted vote) or Expired
// (timeout or shutdown). Acceptance checks and the state change happen under
// one lock, so two concurrent votes cannot both win and a vote landing at the
// same instant as the timeout beats it if it took the lock first.
package arbitration

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sentinel-spamguard/internal/config"

	"go.uber.org/zap"
)

type Choice string

const (
	ChoiceConfirm Choice = "confirm"
	ChoicePardon  Choice = "pardon"
)

type Outcome string

const (
	OutcomeConfirm    Outcome = "confirm"
	OutcomePardon     Outcome = "pardon"
	OutcomeNoResponse Outcome = "no_response"
)

type State string

const (
	StateOpen     State = "open"
	StateResolved State = "resolved"
	StateExpired  State = "expired"
)

type VoteResult string

const (
	VoteAccepted      VoteResult = "accepted"
	VoteUnknownCase   VoteResult = "unknown_case"
	VoteClosed        VoteResult = "closed"
	VoteNotPrivileged VoteResult = "not_privileged"
	VoteSelf          VoteResult = "self_vote"
	VoteCooldown      VoteResult = "cooldown"
	VoteUnknownChoice VoteResult = "unknown_choice"
)

func (r VoteResult) Accepted() bool {
	return r == VoteAccepted
}

var ErrDuplicateCase = errors.New("case already registered for message")

type Config struct {
	Timeout  time.Duration
	Cooldown time.Duration
}

func ConfigFrom(cfg config.ArbitrationConfig) Config {
	return Config{Timeout: cfg.Timeout(), Cooldown: cfg.Cooldown()}
}

type Request struct {
	GuildID    string
	ChannelID  string
	SubjectID  string
	Occurrence int
	Evidence   []string
}

// Poster publishes the decision request and returns its message id.
type Poster func(ctx context.Context) (string, error)

type Vote struct {
	MessageID  string
	VoterID    string
	Choice     Choice
	VotedAt    time.Time
	Privileged bool
}

type Resolution struct {
	CaseID  string
	State   State
	Outcome Outcome
	VoterID string
	At      time.Time
}

type Case struct {
	ID         string
	GuildID    string
	ChannelID  string
	SubjectID  string
	Occurrence int
	Evidence   []string
	OpenedAt   time.Time

	state      State
	resolution Resolution
	done       chan struct{}
	deadline   time.Time
	timedOut   bool
	collected  bool
}

// Summary is a read-only view of a case.
type Summary struct {
	ID        string
	GuildID   string
	SubjectID string
	State     State
	OpenedAt  time.Time
}

type Board struct {
	mu        sync.Mutex
	cfg       Config
	clock     Clock
	logger    *zap.Logger
	cooldowns *CooldownRegistry
	cases     map[string]*Case
}

func NewBoard(cfg Config, logger *zap.Logger) *Board {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Board{
		cfg:       cfg,
		clock:     realClock{},
		logger:    logger,
		cooldowns: NewCooldownRegistry(cfg.Cooldown),
		cases:     make(map[string]*Case),
	}
}

func (b *Board) WithClock(clock Clock) {
	b.clock = clock
}

func (b *Board) Timeout() time.Duration {
	return b.cfg.Timeout
}

// Open posts the decision request and registers the case under the returned
// message id. A failed post leaves nothing behind.
func (b *Board) Open(ctx context.Context, req Request, post Poster) (*Case, error) {
	messageID, err := post(ctx)
	if err != nil {
		return nil, fmt.Errorf("post decision request: %w", err)
	}
	if messageID == "" {
		return nil, errors.New("post decision request: empty message id")
	}

	c := &Case{
		ID:         messageID,
		GuildID:    req.GuildID,
		ChannelID:  req.ChannelID,
		SubjectID:  req.SubjectID,
		Occurrence: req.Occurrence,
		Evidence:   append([]string(nil), req.Evidence...),
		OpenedAt:   b.clock.Now(),
		state:      StateOpen,
		done:       make(chan struct{}),
	}
	c.deadline = c.OpenedAt.Add(b.cfg.Timeout)

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.cases[messageID]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCase, messageID)
	}
	b.cases[messageID] = c
	b.logger.Debug("case opened", zap.String("case_id", c.ID), zap.String("guild_id", c.GuildID), zap.String("subject_id", c.SubjectID))
	return c, nil
}

func (b *Board) Vote(v Vote) VoteResult {
	at := v.VotedAt
	if at.IsZero() {
		at = b.clock.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cases[v.MessageID]
	if !ok {
		return VoteUnknownCase
	}
	late := at.After(c.deadline)
	switch {
	case c.state == StateOpen && !late:
	case c.state == StateExpired && c.timedOut && !c.collected && !late:
		// a vote cast by the deadline wins over a timer that fired first
	default:
		return VoteClosed
	}
	if !v.Privileged {
		return VoteNotPrivileged
	}
	if v.VoterID == c.SubjectID {
		return VoteSelf
	}

	var outcome Outcome
	switch v.Choice {
	case ChoiceConfirm:
		outcome = OutcomeConfirm
	case ChoicePardon:
		outcome = OutcomePardon
	default:
		return VoteUnknownChoice
	}

	if !b.cooldowns.TryAcquire(v.VoterID, at) {
		return VoteCooldown
	}

	wasOpen := c.state == StateOpen
	c.state = StateResolved
	c.resolution = Resolution{CaseID: c.ID, State: StateResolved, Outcome: outcome, VoterID: v.VoterID, At: at}
	if wasOpen {
		close(c.done)
	}
	return VoteAccepted
}

// Await blocks until the case is resolved or the timeout elapses. Votes stamped
// after the deadline are rejected. A cancelled context expires the case.
func (b *Board) Await(ctx context.Context, c *Case, timeout time.Duration) Resolution {
	if timeout <= 0 {
		timeout = b.cfg.Timeout
	}
	b.mu.Lock()
	c.deadline = b.clock.Now().Add(timeout)
	b.mu.Unlock()
	timer := b.clock.AfterFunc(timeout, func() { b.expire(c, true) })

	select {
	case <-c.done:
	case <-ctx.Done():
		b.expire(c, false)
	}
	timer.Stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	c.collected = true
	delete(b.cases, c.ID)
	return c.resolution
}

func (b *Board) expire(c *Case, timedOut bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.state != StateOpen {
		return
	}
	c.timedOut = timedOut
	c.state = StateExpired
	c.resolution = Resolution{CaseID: c.ID, State: StateExpired, Outcome: OutcomeNoResponse, At: b.clock.Now()}
	close(c.done)
}

// ExpireAll closes every open case as unanswered.
func (b *Board) ExpireAll() int {
	b.mu.Lock()
	open := make([]*Case, 0, len(b.cases))
	for _, c := range b.cases {
		if c.state == StateOpen {
			open = append(open, c)
		}
	}
	b.mu.Unlock()

	for _, c := range open {
		b.expire(c, false)
	}
	return len(open)
}

func (b *Board) Lookup(caseID string) (Summary, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cases[caseID]
	if !ok {
		return Summary{}, false
	}
	return c.summaryLocked(), true
}

func (b *Board) OpenCases(guildID string) []Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Summary
	for _, c := range b.cases {
		if c.state != StateOpen {
			continue
		}
		if guildID != "" && c.GuildID != guildID {
			continue
		}
		out = append(out, c.summaryLocked())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

func (c *Case) summaryLocked() Summary {
	return Summary{ID: c.ID, GuildID: c.GuildID, SubjectID: c.SubjectID, State: c.state, OpenedAt: c.OpenedAt}
}
