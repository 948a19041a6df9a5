package audit

import (
	"context"
	"time"

	"sentinel-spamguard/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

const (
	EventSpamDetected         = "spam_detected"
	EventRestrictionApplied   = "restriction_applied"
	EventRestrictionPermanent = "restriction_permanent"
	EventCaseOpened           = "case_opened"
	EventCaseUnactioned       = "case_unactioned"
	EventCaseResolved         = "case_resolved"
	EventCaseExpired          = "case_expired"
	EventActionFailed         = "action_failed"
	EventSubjectNotFound      = "subject_not_found"
	EventLinkBlocked          = "link_blocked"
	EventDetectionToggled     = "detection_toggled"
	EventLinkFilterToggled    = "link_filter_toggled"
)

type Logger struct {
	store  *storage.Store
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
}

func NewLogger(store *storage.Store, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{store: store, logger: logger}
}

// SetNotifier registers a callback that receives every entry after it is stored.
func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	}
	if l.store != nil {
		if err := l.store.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit store write failed", zap.String("event", event), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}

	fields := []zap.Field{zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details)}
	switch level {
	case LevelCrit:
		l.logger.Error("audit", fields...)
	case LevelWarn:
		l.logger.Warn("audit", fields...)
	default:
		l.logger.Info("audit", fields...)
	}
}
