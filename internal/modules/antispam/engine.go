// Package antispam wires signal tracking, escalation and arbitration into one
// engine fed by inbound guild messages and reaction votes.
package antispam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-spamguard/internal/arbitration"
	"sentinel-spamguard/internal/config"
	"sentinel-spamguard/internal/escalation"
	"sentinel-spamguard/internal/metrics"
	"sentinel-spamguard/internal/modules/audit"
	"sentinel-spamguard/internal/modules/linkfilter"
	"sentinel-spamguard/internal/signals"
	"sentinel-spamguard/internal/storage"

	"go.uber.org/zap"
)

const effectTimeout = 15 * time.Second

// Message is an inbound guild message.
type Message struct {
	ID           string
	GuildID      string
	ChannelID    string
	AuthorID     string
	Content      string
	CreatedAt    time.Time
	MentionCount int
}

// Reaction is a reaction added to some message, possibly a decision request.
type Reaction struct {
	MessageID  string
	VoterID    string
	Emoji      string
	At         time.Time
	Privileged bool
}

type Settings struct {
	DetectionEnabled  bool
	DecisionChannelID string
	ConfirmEmoji      string
	PardonEmoji       string
	TerminalThreshold int
}

func SettingsFrom(cfg config.Config) Settings {
	return Settings{
		DetectionEnabled:  cfg.Detection.Enabled,
		DecisionChannelID: cfg.Arbitration.ChannelID,
		ConfirmEmoji:      cfg.Arbitration.ConfirmEmoji,
		PardonEmoji:       cfg.Arbitration.PardonEmoji,
		TerminalThreshold: cfg.Escalation.TerminalThreshold,
	}
}

// CaseRecorder keeps a history of arbitration cases.
type CaseRecorder interface {
	RecordCaseOpened(ctx context.Context, rec storage.CaseRecord) error
	RecordCaseClosed(ctx context.Context, messageID, outcome, resolvedBy string, closedAt time.Time) error
}

type Deps struct {
	Tracker  *signals.Tracker
	Policy   *escalation.Policy
	Board    *arbitration.Board
	Links    *linkfilter.Filter
	Executor Executor
	Audit    *audit.Logger
	Cases    CaseRecorder
	Logger   *zap.Logger
}

type Status struct {
	DetectionEnabled  bool
	LinkFilterEnabled bool
	TrackedUsers      int
	OpenCases         []arbitration.Summary
}

type Engine struct {
	settings Settings
	tracker  *signals.Tracker
	policy   *escalation.Policy
	board    *arbitration.Board
	links    *linkfilter.Filter
	exec     Executor
	audit    *audit.Logger
	cases    CaseRecorder
	logger   *zap.Logger

	detection atomic.Bool

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	runCtx  context.Context
	cancel  context.CancelFunc
}

func New(settings Settings, deps Deps) *Engine {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	auditLogger := deps.Audit
	if auditLogger == nil {
		auditLogger = audit.NewLogger(nil, logger)
	}
	links := deps.Links
	if links == nil {
		links = linkfilter.New(false, nil, nil)
	}

	e := &Engine{
		settings: settings,
		tracker:  deps.Tracker,
		policy:   deps.Policy,
		board:    deps.Board,
		links:    links,
		exec:     deps.Executor,
		audit:    auditLogger,
		cases:    deps.Cases,
		logger:   logger,
	}
	e.runCtx, e.cancel = context.WithCancel(context.Background())
	e.detection.Store(settings.DetectionEnabled)
	return e
}

// OnMessage feeds one message through detection and, when nothing was
// detected, through the link filter.
func (e *Engine) OnMessage(ctx context.Context, msg Message) {
	if msg.GuildID == "" || msg.AuthorID == "" || e.isStopped() {
		return
	}
	start := time.Now()
	defer func() { metrics.ObserveDuration.Observe(time.Since(start).Seconds()) }()

	if e.detection.Load() {
		metrics.MessagesObserved.Inc()
		obs := e.tracker.Observe(signals.Event{
			GuildID:      msg.GuildID,
			UserID:       msg.AuthorID,
			Content:      msg.Content,
			CreatedAt:    msg.CreatedAt,
			MentionCount: msg.MentionCount,
		})
		if obs.Detected() {
			e.handleDetection(ctx, msg, obs)
			return
		}
	}
	e.filterLinks(ctx, msg)
}

func (e *Engine) handleDetection(ctx context.Context, msg Message, obs signals.Observation) {
	for _, kind := range obs.Tripped {
		metrics.SignalsTripped.WithLabelValues(string(kind)).Inc()
	}
	metrics.Detections.Inc()
	e.tracker.Reset(msg.GuildID, msg.AuthorID)

	decision, err := e.policy.Escalate(ctx, msg.GuildID, msg.AuthorID)
	if err != nil {
		e.logger.Error("escalation failed", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID), zap.Error(err))
		e.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, audit.EventActionFailed, "escalation: "+err.Error())
		return
	}

	e.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, audit.EventSpamDetected,
		fmt.Sprintf("signals=%s occurrence=%d action=%s", signalList(obs.Tripped), decision.Occurrence, decision.Action))
	if !decision.Actionable() {
		e.logger.Debug("detection past terminal tier", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID))
		return
	}

	e.spawn("enforce", func(runCtx context.Context) {
		e.enforce(runCtx, msg, obs, decision)
	})
}

func (e *Engine) enforce(ctx context.Context, msg Message, obs signals.Observation, decision escalation.Decision) {
	reason := restrictionReason(obs.Tripped, decision.Occurrence)

	if decision.Permanent() {
		err := e.exec.RestrictPermanently(ctx, msg.GuildID, msg.AuthorID, reason)
		if !e.report(ctx, msg.GuildID, msg.AuthorID, "restrict_permanent", err) {
			return
		}
		e.audit.Log(ctx, audit.LevelCrit, msg.GuildID, msg.AuthorID, audit.EventRestrictionPermanent, reason)
		e.notify(ctx, msg.ChannelID, permanentNotice(msg.AuthorID, decision.Occurrence))
		return
	}

	err := e.exec.RestrictTemporarily(ctx, msg.GuildID, msg.AuthorID, decision.Duration, reason)
	restricted := e.report(ctx, msg.GuildID, msg.AuthorID, "restrict_temporary", err)
	if restricted {
		e.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, audit.EventRestrictionApplied,
			fmt.Sprintf("duration=%s occurrence=%d", decision.Duration, decision.Occurrence))
	} else if errors.Is(err, ErrSubjectNotFound) {
		return
	}

	if !decision.RequiresArbitration {
		return
	}
	e.arbitrate(ctx, msg, obs, decision, restricted)
}

func (e *Engine) arbitrate(ctx context.Context, msg Message, obs signals.Observation, decision escalation.Decision, restricted bool) {
	channelID := e.settings.DecisionChannelID
	if channelID == "" {
		channelID = msg.ChannelID
	}
	text := decisionRequestText(e.settings, msg.AuthorID, decision.Occurrence, decision.Duration, e.board.Timeout(), restricted, obs.Evidence)

	c, err := e.board.Open(ctx, arbitration.Request{
		GuildID:    msg.GuildID,
		ChannelID:  channelID,
		SubjectID:  msg.AuthorID,
		Occurrence: decision.Occurrence,
		Evidence:   obs.Evidence,
	}, func(ctx context.Context) (string, error) {
		return e.exec.PostDecisionRequest(ctx, channelID, text, []string{e.settings.ConfirmEmoji, e.settings.PardonEmoji})
	})
	if err != nil {
		metrics.Actions.WithLabelValues("post_request", "failed").Inc()
		e.logger.Warn("decision request not posted", zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID), zap.Error(err))
		e.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, audit.EventCaseUnactioned, err.Error())
		return
	}
	metrics.Actions.WithLabelValues("post_request", "ok").Inc()
	metrics.CasesOpen.Inc()
	e.audit.Log(ctx, audit.LevelInfo, msg.GuildID, msg.AuthorID, audit.EventCaseOpened, "case="+c.ID)
	if e.cases != nil {
		rec := storage.CaseRecord{MessageID: c.ID, GuildID: c.GuildID, ChannelID: c.ChannelID, SubjectID: c.SubjectID, Occurrence: c.Occurrence, OpenedAt: c.OpenedAt}
		if err := e.cases.RecordCaseOpened(ctx, rec); err != nil {
			e.logger.Warn("case history write failed", zap.String("case_id", c.ID), zap.Error(err))
		}
	}

	res := e.board.Await(ctx, c, e.board.Timeout())
	metrics.CasesOpen.Dec()
	metrics.CasesClosed.WithLabelValues(string(res.Outcome)).Inc()

	// shutdown cancels ctx but the outcome still has to be applied
	effCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), effectTimeout)
	defer cancel()
	e.resolve(effCtx, c, text, res)
}

func (e *Engine) resolve(ctx context.Context, c *arbitration.Case, requestText string, res arbitration.Resolution) {
	if e.cases != nil {
		if err := e.cases.RecordCaseClosed(ctx, c.ID, string(res.Outcome), res.VoterID, res.At); err != nil {
			e.logger.Warn("case history write failed", zap.String("case_id", c.ID), zap.Error(err))
		}
	}

	switch res.Outcome {
	case arbitration.OutcomeConfirm:
		e.audit.Log(ctx, audit.LevelCrit, c.GuildID, c.SubjectID, audit.EventCaseResolved, fmt.Sprintf("case=%s outcome=confirm voter=%s", c.ID, res.VoterID))
		err := e.exec.RemoveUser(ctx, c.GuildID, c.SubjectID, fmt.Sprintf("spam confirmed by moderator %s", res.VoterID))
		e.report(ctx, c.GuildID, c.SubjectID, "remove_user", err)
	case arbitration.OutcomePardon:
		e.audit.Log(ctx, audit.LevelInfo, c.GuildID, c.SubjectID, audit.EventCaseResolved, fmt.Sprintf("case=%s outcome=pardon voter=%s", c.ID, res.VoterID))
		err := e.exec.LiftRestriction(ctx, c.GuildID, c.SubjectID)
		e.report(ctx, c.GuildID, c.SubjectID, "lift_restriction", err)
	default:
		e.audit.Log(ctx, audit.LevelInfo, c.GuildID, c.SubjectID, audit.EventCaseExpired, "case="+c.ID)
	}

	if err := e.exec.EditMessage(ctx, c.ChannelID, c.ID, resolutionText(requestText, res)); err != nil {
		e.logger.Warn("decision request edit failed", zap.String("case_id", c.ID), zap.Error(err))
	}
	e.notify(ctx, c.ChannelID, outcomeNotice(c.SubjectID, res))
}

func (e *Engine) filterLinks(ctx context.Context, msg Message) {
	verdict, err := e.links.Check(ctx, msg.GuildID, msg.Content)
	if err != nil {
		e.logger.Warn("link filter lookup failed", zap.String("guild_id", msg.GuildID), zap.Error(err))
		return
	}
	if !verdict.Blocked {
		return
	}

	metrics.LinksBlocked.Inc()
	e.audit.Log(ctx, audit.LevelInfo, msg.GuildID, msg.AuthorID, audit.EventLinkBlocked, "host="+verdict.Host)
	e.spawn("link_filter", func(runCtx context.Context) {
		err := e.exec.DeleteMessage(runCtx, msg.ChannelID, msg.ID)
		if !e.report(runCtx, msg.GuildID, msg.AuthorID, "delete_message", err) {
			return
		}
		e.notify(runCtx, msg.ChannelID, linkWarning(msg.AuthorID))
	})
}

// OnReaction routes a reaction to the case whose request message it targets.
func (e *Engine) OnReaction(ctx context.Context, r Reaction) arbitration.VoteResult {
	var choice arbitration.Choice
	switch r.Emoji {
	case e.settings.ConfirmEmoji:
		choice = arbitration.ChoiceConfirm
	case e.settings.PardonEmoji:
		choice = arbitration.ChoicePardon
	default:
		return arbitration.VoteUnknownChoice
	}

	result := e.board.Vote(arbitration.Vote{
		MessageID:  r.MessageID,
		VoterID:    r.VoterID,
		Choice:     choice,
		VotedAt:    r.At,
		Privileged: r.Privileged,
	})
	if result == arbitration.VoteUnknownCase {
		return result
	}
	metrics.Votes.WithLabelValues(string(result)).Inc()
	if result.Accepted() {
		e.logger.Info("vote accepted", zap.String("case_id", r.MessageID), zap.String("voter_id", r.VoterID), zap.String("choice", string(choice)))
	} else {
		e.logger.Debug("vote rejected", zap.String("case_id", r.MessageID), zap.String("voter_id", r.VoterID), zap.String("result", string(result)))
	}
	return result
}

// ToggleDetection flips spam detection for every guild and returns the previous value.
func (e *Engine) ToggleDetection(ctx context.Context, guildID, actorID string, enabled bool) bool {
	previous := e.detection.Swap(enabled)
	e.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventDetectionToggled, fmt.Sprintf("enabled=%t", enabled))
	return previous
}

// ToggleLinkFilter flips the link filter for every guild and returns the previous value.
func (e *Engine) ToggleLinkFilter(ctx context.Context, guildID, actorID string, enabled bool) bool {
	previous := e.links.SetEnabled(enabled)
	e.audit.Log(ctx, audit.LevelInfo, guildID, actorID, audit.EventLinkFilterToggled, fmt.Sprintf("enabled=%t", enabled))
	return previous
}

func (e *Engine) DetectionEnabled() bool {
	return e.detection.Load()
}

func (e *Engine) Status(guildID string) Status {
	return Status{
		DetectionEnabled:  e.detection.Load(),
		LinkFilterEnabled: e.links.Enabled(),
		TrackedUsers:      e.tracker.Len(),
		OpenCases:         e.board.OpenCases(guildID),
	}
}

// Stop expires every pending case and waits for background flows to finish
// applying their outcomes.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	e.board.ExpireAll()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

func (e *Engine) spawn(flow string, fn func(ctx context.Context)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		e.logger.Warn("engine stopped, dropping flow", zap.String("flow", flow))
		return
	}
	e.wg.Go(func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("background flow panicked", zap.String("flow", flow), zap.Any("panic", r))
			}
		}()
		fn(e.runCtx)
	})
}

// report records the result of an executor call and tells whether it succeeded.
func (e *Engine) report(ctx context.Context, guildID, userID, action string, err error) bool {
	switch {
	case err == nil:
		metrics.Actions.WithLabelValues(action, "ok").Inc()
		return true
	case errors.Is(err, ErrSubjectNotFound):
		metrics.Actions.WithLabelValues(action, "not_found").Inc()
		e.audit.Log(ctx, audit.LevelInfo, guildID, userID, audit.EventSubjectNotFound, action)
		return false
	default:
		metrics.Actions.WithLabelValues(action, "failed").Inc()
		e.logger.Warn("moderation action failed", zap.String("action", action), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		e.audit.Log(ctx, audit.LevelWarn, guildID, userID, audit.EventActionFailed, action+": "+err.Error())
		return false
	}
}

func (e *Engine) notify(ctx context.Context, channelID, content string) {
	if channelID == "" {
		return
	}
	if _, err := e.exec.PostMessage(ctx, channelID, content); err != nil {
		e.logger.Warn("notice not posted", zap.String("channel_id", channelID), zap.Error(err))
	}
}
