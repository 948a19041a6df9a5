package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinel-spamguard/internal/modules/antispam"

	"github.com/bwmarrin/discordgo"
)

// Discord caps member timeouts at 28 days.
const maxTimeout = 28 * 24 * time.Hour

// API is the part of *discordgo.Session the executor uses.
type API interface {
	GuildMemberTimeout(guildID string, userID string, until *time.Time, options ...discordgo.RequestOption) error
	GuildBanCreateWithReason(guildID, userID, reason string, days int, options ...discordgo.RequestOption) error
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
}

// noMentions keeps quoted spam such as @everyone or role pings inert when the
// bot repeats it.
func noMentions() *discordgo.MessageAllowedMentions {
	return &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
}

func (e *Executor) send(ctx context.Context, channelID, content string) (*discordgo.Message, error) {
	return e.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:         content,
		AllowedMentions: noMentions(),
	}, discordgo.WithContext(ctx))
}

// Executor carries out moderation intents against Discord.
type Executor struct {
	api              API
	restrictedRoleID string
	now              func() time.Time
}

func NewExecutor(api API, restrictedRoleID string) *Executor {
	return &Executor{api: api, restrictedRoleID: restrictedRoleID, now: time.Now}
}

func (e *Executor) RestrictTemporarily(ctx context.Context, guildID, userID string, duration time.Duration, reason string) error {
	if duration > maxTimeout {
		duration = maxTimeout
	}
	until := e.now().Add(duration)
	err := e.api.GuildMemberTimeout(guildID, userID, &until, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
	return translate("timeout member", err)
}

// RestrictPermanently assigns the restricted role when one is configured and
// bans otherwise.
func (e *Executor) RestrictPermanently(ctx context.Context, guildID, userID, reason string) error {
	if e.restrictedRoleID != "" {
		err := e.api.GuildMemberRoleAdd(guildID, userID, e.restrictedRoleID, discordgo.WithContext(ctx), discordgo.WithAuditLogReason(reason))
		return translate("add restricted role", err)
	}
	return e.RemoveUser(ctx, guildID, userID, reason)
}

func (e *Executor) LiftRestriction(ctx context.Context, guildID, userID string) error {
	err := e.api.GuildMemberTimeout(guildID, userID, nil, discordgo.WithContext(ctx), discordgo.WithAuditLogReason("timeout lifted by moderator"))
	return translate("lift timeout", err)
}

func (e *Executor) RemoveUser(ctx context.Context, guildID, userID, reason string) error {
	err := e.api.GuildBanCreateWithReason(guildID, userID, reason, 1, discordgo.WithContext(ctx))
	return translate("ban member", err)
}

// PostDecisionRequest sends the request and seeds it with one reaction per
// option. A request that could not be fully set up is removed again.
func (e *Executor) PostDecisionRequest(ctx context.Context, channelID, content string, options []string) (string, error) {
	msg, err := e.send(ctx, channelID, content)
	if err != nil {
		return "", fmt.Errorf("send decision request: %w", err)
	}
	for _, option := range options {
		if err := e.api.MessageReactionAdd(channelID, msg.ID, option, discordgo.WithContext(ctx)); err != nil {
			_ = e.api.ChannelMessageDelete(channelID, msg.ID, discordgo.WithContext(ctx))
			return "", fmt.Errorf("add reaction %s: %w", option, err)
		}
	}
	return msg.ID, nil
}

func (e *Executor) PostMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := e.send(ctx, channelID, content)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return msg.ID, nil
}

func (e *Executor) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	edit := discordgo.NewMessageEdit(channelID, messageID).SetContent(content)
	edit.AllowedMentions = noMentions()
	if _, err := e.api.ChannelMessageEditComplex(edit, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (e *Executor) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := e.api.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (e *Executor) RemoveReaction(ctx context.Context, channelID, messageID, emoji, userID string) error {
	if err := e.api.MessageReactionRemove(channelID, messageID, emoji, userID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("remove reaction: %w", err)
	}
	return nil
}

func translate(op string, err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
			return fmt.Errorf("%s: %w", op, antispam.ErrSubjectNotFound)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
