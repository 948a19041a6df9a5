package antispam

import (
	"context"
	"errors"
	"time"
)

// ErrSubjectNotFound is returned by an Executor when the target user is no
// longer reachable, for example after leaving the guild.
var ErrSubjectNotFound = errors.New("subject not found")

// Executor carries out moderation intents on the chat platform. Every call is
// a fallible remote operation.
type Executor interface {
	RestrictTemporarily(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error
	RestrictPermanently(ctx context.Context, guildID, userID, reason string) error
	LiftRestriction(ctx context.Context, guildID, userID string) error
	RemoveUser(ctx context.Context, guildID, userID, reason string) error
	PostDecisionRequest(ctx context.Context, channelID, content string, options []string) (string, error)
	PostMessage(ctx context.Context, channelID, content string) (string, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}
