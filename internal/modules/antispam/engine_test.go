package antispam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinel-spamguard/internal/arbitration"
	"sentinel-spamguard/internal/config"
	"sentinel-spamguard/internal/escalation"
	"sentinel-spamguard/internal/modules/audit"
	"sentinel-spamguard/internal/modules/linkfilter"
	"sentinel-spamguard/internal/signals"
	"sentinel-spamguard/internal/storage"

	"go.uber.org/zap"
)

type call struct {
	name      string
	guildID   string
	userID    string
	channelID string
	messageID string
	content   string
	duration  time.Duration
}

type fakeExecutor struct {
	mu          sync.Mutex
	calls       []call
	nextID      int
	postErr     error
	restrictErr error
	banErr      error
}

func (f *fakeExecutor) record(c call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeExecutor) RestrictTemporarily(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error {
	f.record(call{name: "restrict_temporary", guildID: guildID, userID: userID, duration: duration, content: reason})
	return f.restrictErr
}

func (f *fakeExecutor) RestrictPermanently(ctx context.Context, guildID, userID, reason string) error {
	f.record(call{name: "restrict_permanent", guildID: guildID, userID: userID, content: reason})
	return nil
}

func (f *fakeExecutor) LiftRestriction(ctx context.Context, guildID, userID string) error {
	f.record(call{name: "lift", guildID: guildID, userID: userID})
	return nil
}

func (f *fakeExecutor) RemoveUser(ctx context.Context, guildID, userID, reason string) error {
	f.record(call{name: "ban", guildID: guildID, userID: userID, content: reason})
	return f.banErr
}

func (f *fakeExecutor) PostDecisionRequest(ctx context.Context, channelID, content string, options []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.nextID++
	id := fmt.Sprintf("req-%d", f.nextID)
	f.calls = append(f.calls, call{name: "request", channelID: channelID, messageID: id, content: content})
	return id, nil
}

func (f *fakeExecutor) PostMessage(ctx context.Context, channelID, content string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("msg-%d", f.nextID)
	f.calls = append(f.calls, call{name: "notice", channelID: channelID, messageID: id, content: content})
	return id, nil
}

func (f *fakeExecutor) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	f.record(call{name: "edit", channelID: channelID, messageID: messageID, content: content})
	return nil
}

func (f *fakeExecutor) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	f.record(call{name: "delete", channelID: channelID, messageID: messageID})
	return nil
}

func (f *fakeExecutor) byName(name string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeExecutor) count(name string) int {
	return len(f.byName(name))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	engine  *Engine
	exec    *fakeExecutor
	store   *storage.Store
	counter *escalation.MemoryCounter
}

func newHarness(t *testing.T, timeout time.Duration, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Arbitration.TimeoutSeconds = 60
	if mutate != nil {
		mutate(&cfg)
	}

	store, err := storage.New(":memory:")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zap.NewNop()
	exec := &fakeExecutor{}
	counter := escalation.NewMemoryCounter()
	engine := New(SettingsFrom(cfg), Deps{
		Tracker:  signals.NewTracker(signals.ConfigFrom(cfg.Signals)),
		Policy:   escalation.NewPolicy(escalation.ConfigFrom(cfg.Escalation, cfg.Arbitration), counter),
		Board:    arbitration.NewBoard(arbitration.Config{Timeout: timeout, Cooldown: cfg.Arbitration.Cooldown()}, logger),
		Links:    linkfilter.New(cfg.Detection.LinkFilter, cfg.Detection.LinkAllowlist, store),
		Executor: exec,
		Audit:    audit.NewLogger(store, logger),
		Cases:    store,
		Logger:   logger,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = engine.Stop(ctx)
		store.Close()
	})
	return &harness{engine: engine, exec: exec, store: store, counter: counter}
}

// burst sends five distinct messages 600ms apart, which trips the default
// burst rule on the fifth.
func (h *harness) burst(user string, start time.Time) {
	for i := 0; i < 5; i++ {
		h.engine.OnMessage(context.Background(), Message{
			ID:        fmt.Sprintf("%s-%d-%d", user, start.Unix(), i),
			GuildID:   "g1",
			ChannelID: "general",
			AuthorID:  user,
			Content:   fmt.Sprintf("buy now %d", i),
			CreatedAt: start.Add(time.Duration(i) * 600 * time.Millisecond),
		})
	}
}

func (h *harness) auditEvents(t *testing.T) []string {
	t.Helper()
	logs, err := h.store.ListAuditLogs(context.Background(), "g1", time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("list audit logs: %v", err)
	}
	events := make([]string, 0, len(logs))
	for _, log := range logs {
		events = append(events, log.Event)
	}
	return events
}

func (h *harness) waitForOpenCase(t *testing.T) string {
	t.Helper()
	var id string
	waitFor(t, "open case", func() bool {
		cases := h.engine.Status("g1").OpenCases
		if len(cases) != 1 {
			return false
		}
		id = cases[0].ID
		return true
	})
	return id
}

func contains(events []string, want string) bool {
	for _, event := range events {
		if event == want {
			return true
		}
	}
	return false
}

func TestFirstDetectionRestrictsAndOpensCase(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	start := time.Unix(1_700_000_000, 0)

	for i := 0; i < 4; i++ {
		h.engine.OnMessage(context.Background(), Message{ID: fmt.Sprint(i), GuildID: "g1", ChannelID: "general", AuthorID: "spammer", Content: fmt.Sprint("msg ", i), CreatedAt: start.Add(time.Duration(i) * 750 * time.Millisecond)})
	}
	if got := h.exec.count("restrict_temporary"); got != 0 {
		t.Fatalf("four messages must not trip, got %d restrictions", got)
	}
	h.engine.OnMessage(context.Background(), Message{ID: "4", GuildID: "g1", ChannelID: "general", AuthorID: "spammer", Content: "msg 4", CreatedAt: start.Add(3 * time.Second)})

	caseID := h.waitForOpenCase(t)
	restrictions := h.exec.byName("restrict_temporary")
	if len(restrictions) != 1 || restrictions[0].duration != 7*24*time.Hour || restrictions[0].userID != "spammer" {
		t.Fatalf("unexpected restrictions %+v", restrictions)
	}
	request := h.exec.byName("request")[0]
	if request.messageID != caseID || request.channelID != "general" || !strings.Contains(request.content, "occurrence 1 of 3") || !strings.Contains(request.content, "> msg 4") {
		t.Fatalf("unexpected request %+v", request)
	}
	if cases := h.engine.Status("g1").OpenCases; cases[0].SubjectID != "spammer" {
		t.Fatalf("unexpected case subject %+v", cases)
	}
	if h.exec.count("restrict_permanent") != 0 || h.exec.count("ban") != 0 {
		t.Fatalf("first detection must not ban")
	}
}

func TestPardonLiftsRestriction(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.burst("spammer", time.Unix(1_700_000_000, 0))
	caseID := h.waitForOpenCase(t)

	result := h.engine.OnReaction(context.Background(), Reaction{MessageID: caseID, VoterID: "mod", Emoji: "🟩", At: time.Now(), Privileged: true})
	if result != arbitration.VoteAccepted {
		t.Fatalf("expected accepted vote, got %s", result)
	}

	waitFor(t, "lift", func() bool { return h.exec.count("lift") == 1 })
	waitFor(t, "edit", func() bool { return h.exec.count("edit") == 1 })
	if h.exec.count("ban") != 0 {
		t.Fatalf("pardon must not ban")
	}
	if edit := h.exec.byName("edit")[0]; edit.messageID != caseID || !strings.Contains(edit.content, "timeout lifted by <@mod>") {
		t.Fatalf("unexpected edit %+v", edit)
	}

	again := h.engine.OnReaction(context.Background(), Reaction{MessageID: caseID, VoterID: "mod2", Emoji: "🦵", At: time.Now(), Privileged: true})
	if again.Accepted() {
		t.Fatalf("vote after resolution must be rejected")
	}
	if h.exec.count("ban") != 0 {
		t.Fatalf("late vote must not ban")
	}
}

func TestConfirmBansSubject(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.burst("spammer", time.Unix(1_700_000_000, 0))
	caseID := h.waitForOpenCase(t)

	if got := h.engine.OnReaction(context.Background(), Reaction{MessageID: caseID, VoterID: "member", Emoji: "🦵", At: time.Now()}); got != arbitration.VoteNotPrivileged {
		t.Fatalf("expected non-privileged rejection, got %s", got)
	}
	if got := h.engine.OnReaction(context.Background(), Reaction{MessageID: caseID, VoterID: "spammer", Emoji: "🟩", At: time.Now(), Privileged: true}); got != arbitration.VoteSelf {
		t.Fatalf("expected self vote rejection, got %s", got)
	}
	if got := h.engine.OnReaction(context.Background(), Reaction{MessageID: caseID, VoterID: "mod", Emoji: "👍", At: time.Now(), Privileged: true}); got != arbitration.VoteUnknownChoice {
		t.Fatalf("expected unknown choice, got %s", got)
	}
	if got := h.engine.OnReaction(context.Background(), Reaction{MessageID: caseID, VoterID: "mod", Emoji: "🦵", At: time.Now(), Privileged: true}); got != arbitration.VoteAccepted {
		t.Fatalf("expected accepted vote, got %s", got)
	}

	waitFor(t, "ban", func() bool { return h.exec.count("ban") == 1 })
	if h.exec.count("lift") != 0 {
		t.Fatalf("confirm must not lift the restriction")
	}
	waitFor(t, "case closed", func() bool { return contains(h.auditEvents(t), audit.EventCaseResolved) })
}

func TestUnansweredCaseKeepsRestriction(t *testing.T) {
	h := newHarness(t, 40*time.Millisecond, nil)
	h.burst("spammer", time.Unix(1_700_000_000, 0))

	waitFor(t, "expiry notice", func() bool {
		for _, notice := range h.exec.byName("notice") {
			if strings.Contains(notice.content, "No moderator responded") {
				return true
			}
		}
		return false
	})
	if h.exec.count("lift") != 0 || h.exec.count("ban") != 0 {
		t.Fatalf("expired case must leave the restriction alone")
	}
	if len(h.engine.Status("g1").OpenCases) != 0 {
		t.Fatalf("expired case still open")
	}
	waitFor(t, "case history", func() bool {
		cases, _ := h.store.ListCases(context.Background(), "g1", time.Now().Add(-time.Hour))
		return len(cases) == 1 && cases[0].Outcome == string(arbitration.OutcomeNoResponse)
	})
}

func TestEscalatesToPermanentRestriction(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	start := time.Unix(1_700_000_000, 0)

	h.burst("spammer", start)
	waitFor(t, "first request", func() bool { return h.exec.count("request") == 1 })
	h.burst("spammer", start.Add(time.Minute))
	waitFor(t, "second request", func() bool { return h.exec.count("request") == 2 })
	if !strings.Contains(h.exec.byName("request")[1].content, "occurrence 2 of 3") {
		t.Fatalf("second detection should be occurrence 2")
	}

	h.burst("spammer", start.Add(2*time.Minute))
	waitFor(t, "permanent restriction", func() bool { return h.exec.count("restrict_permanent") == 1 })
	waitFor(t, "final notice", func() bool { return h.exec.count("notice") == 1 })
	if h.exec.count("request") != 2 {
		t.Fatalf("terminal tier must not open a case")
	}
	if h.exec.count("restrict_temporary") != 2 {
		t.Fatalf("expected two temporary restrictions, got %d", h.exec.count("restrict_temporary"))
	}

	h.burst("spammer", start.Add(3*time.Minute))
	time.Sleep(20 * time.Millisecond)
	if h.exec.count("restrict_permanent") != 1 || h.exec.count("request") != 2 {
		t.Fatalf("detections past the terminal tier must be no-ops")
	}
}

func TestSimultaneousSignalsEscalateOnce(t *testing.T) {
	h := newHarness(t, time.Hour, func(cfg *config.Config) {
		cfg.Signals.Duplicate.Threshold = 5
	})
	start := time.Unix(1_700_000_000, 0)
	for i := 0; i < 5; i++ {
		h.engine.OnMessage(context.Background(), Message{ID: fmt.Sprint(i), GuildID: "g1", ChannelID: "general", AuthorID: "spammer", Content: "@everyone join", MentionCount: 1, CreatedAt: start.Add(time.Duration(i) * 100 * time.Millisecond)})
	}
	h.waitForOpenCase(t)
	time.Sleep(20 * time.Millisecond)

	restrictions := h.exec.byName("restrict_temporary")
	if len(restrictions) != 1 {
		t.Fatalf("expected one restriction, got %d", len(restrictions))
	}
	if !strings.Contains(restrictions[0].content, "burst,duplicate,mention (occurrence 1)") {
		t.Fatalf("unexpected reason %q", restrictions[0].content)
	}
	if got := h.exec.count("request"); got != 1 {
		t.Fatalf("expected one case, got %d", got)
	}
}

func TestPostFailureLeavesNoCase(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.exec.postErr = errors.New("missing permissions")
	h.burst("spammer", time.Unix(1_700_000_000, 0))

	waitFor(t, "unactioned audit", func() bool { return contains(h.auditEvents(t), audit.EventCaseUnactioned) })
	if len(h.engine.Status("g1").OpenCases) != 0 {
		t.Fatalf("failed post must not open a case")
	}
	if h.exec.count("restrict_temporary") != 1 {
		t.Fatalf("restriction should still be applied")
	}
}

func TestFailedRestrictionIsReportedInRequest(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.exec.restrictErr = errors.New("429 too many requests")
	h.burst("spammer", time.Unix(1_700_000_000, 0))
	h.waitForOpenCase(t)

	requests := h.exec.byName("request")
	if len(requests) != 1 {
		t.Fatalf("expected one request, got %d", len(requests))
	}
	if text := requests[0].content; strings.Contains(text, "timed out for") || !strings.Contains(text, "timeout could not be applied") {
		t.Fatalf("request misstates the restriction: %q", text)
	}
	if !contains(h.auditEvents(t), audit.EventActionFailed) {
		t.Fatalf("failed restriction should be audited")
	}
}

func TestMissingSubjectSkipsArbitration(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.exec.restrictErr = fmt.Errorf("timeout member: %w", ErrSubjectNotFound)
	h.burst("gone", time.Unix(1_700_000_000, 0))

	waitFor(t, "subject not found audit", func() bool { return contains(h.auditEvents(t), audit.EventSubjectNotFound) })
	time.Sleep(20 * time.Millisecond)
	if h.exec.count("request") != 0 {
		t.Fatalf("missing subject must not open a case")
	}
	if contains(h.auditEvents(t), audit.EventActionFailed) {
		t.Fatalf("missing subject is not a failure")
	}
}

func TestBanFailureStillResolvesCase(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.exec.banErr = errors.New("500 internal")
	h.burst("spammer", time.Unix(1_700_000_000, 0))
	caseID := h.waitForOpenCase(t)

	if got := h.engine.OnReaction(context.Background(), Reaction{MessageID: caseID, VoterID: "mod", Emoji: "🦵", At: time.Now(), Privileged: true}); got != arbitration.VoteAccepted {
		t.Fatalf("expected accepted vote, got %s", got)
	}
	waitFor(t, "failure audit", func() bool { return contains(h.auditEvents(t), audit.EventActionFailed) })
	events := h.auditEvents(t)
	if !contains(events, audit.EventCaseResolved) {
		t.Fatalf("case must be resolved even when the ban fails, events=%v", events)
	}
}

func TestDetectionToggle(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	if previous := h.engine.ToggleDetection(context.Background(), "g1", "admin", false); !previous {
		t.Fatalf("detection should start enabled")
	}
	h.burst("spammer", time.Unix(1_700_000_000, 0))
	time.Sleep(20 * time.Millisecond)
	if h.exec.count("restrict_temporary") != 0 {
		t.Fatalf("disabled detection must not act")
	}
	if !contains(h.auditEvents(t), audit.EventDetectionToggled) {
		t.Fatalf("toggle should be audited")
	}

	h.engine.ToggleDetection(context.Background(), "g1", "admin", true)
	h.burst("spammer", time.Unix(1_700_000_100, 0))
	waitFor(t, "restriction", func() bool { return h.exec.count("restrict_temporary") == 1 })
}

func TestLinkFilter(t *testing.T) {
	h := newHarness(t, time.Hour, func(cfg *config.Config) {
		cfg.Detection.LinkAllowlist = []string{"youtube.com"}
	})
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	h.engine.OnMessage(ctx, Message{ID: "m1", GuildID: "g1", ChannelID: "general", AuthorID: "u1", Content: "https://bad.example/x", CreatedAt: now})
	time.Sleep(20 * time.Millisecond)
	if h.exec.count("delete") != 0 {
		t.Fatalf("link filter starts disabled")
	}

	h.engine.ToggleLinkFilter(ctx, "g1", "admin", true)
	if err := h.store.AddDomainAllow(ctx, "g1", "docs.example.org"); err != nil {
		t.Fatalf("add allow: %v", err)
	}
	h.engine.OnMessage(ctx, Message{ID: "m2", GuildID: "g1", ChannelID: "general", AuthorID: "u1", Content: "https://youtube.com/watch", CreatedAt: now.Add(time.Minute)})
	h.engine.OnMessage(ctx, Message{ID: "m3", GuildID: "g1", ChannelID: "general", AuthorID: "u1", Content: "https://docs.example.org/a", CreatedAt: now.Add(2 * time.Minute)})
	h.engine.OnMessage(ctx, Message{ID: "m4", GuildID: "g1", ChannelID: "general", AuthorID: "u1", Content: "https://bad.example/x", CreatedAt: now.Add(3 * time.Minute)})

	waitFor(t, "delete", func() bool { return h.exec.count("delete") == 1 })
	if deleted := h.exec.byName("delete")[0]; deleted.messageID != "m4" {
		t.Fatalf("unexpected delete %+v", deleted)
	}
	waitFor(t, "warning", func() bool { return h.exec.count("notice") == 1 })
	if !h.engine.Status("g1").LinkFilterEnabled {
		t.Fatalf("status should report the link filter enabled")
	}
}

func TestStopExpiresPendingCases(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	h.burst("spammer", time.Unix(1_700_000_000, 0))
	h.waitForOpenCase(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.engine.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.exec.count("edit") != 1 {
		t.Fatalf("pending case should be closed on stop")
	}
	if h.exec.count("ban") != 0 || h.exec.count("lift") != 0 {
		t.Fatalf("stop must not apply a verdict")
	}

	tracked := h.engine.Status("g1").TrackedUsers
	h.burst("other", time.Unix(1_700_000_100, 0))
	if h.exec.count("restrict_temporary") != 1 {
		t.Fatalf("stopped engine must not start new flows")
	}
	if got := h.counter.Count("g1", "other"); got != 0 {
		t.Fatalf("stopped engine must not count occurrences, got %d", got)
	}
	if got := h.engine.Status("g1").TrackedUsers; got != tracked {
		t.Fatalf("stopped engine must not track messages, tracked %d -> %d", tracked, got)
	}
}

func TestIgnoresMessagesWithoutGuild(t *testing.T) {
	h := newHarness(t, time.Hour, nil)
	start := time.Unix(1_700_000_000, 0)
	for i := 0; i < 6; i++ {
		h.engine.OnMessage(context.Background(), Message{ID: fmt.Sprint(i), AuthorID: "u1", Content: fmt.Sprint(i), CreatedAt: start})
	}
	if h.engine.Status("").TrackedUsers != 0 {
		t.Fatalf("direct messages must not be tracked")
	}
}
