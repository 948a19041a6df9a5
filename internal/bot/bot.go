package bot

import (
	"context"
	"fmt"
	"time"

	"sentinel-spamguard/internal/analytics"
	"sentinel-spamguard/internal/arbitration"
	"sentinel-spamguard/internal/config"
	"sentinel-spamguard/internal/modules/antispam"
	"sentinel-spamguard/internal/modules/audit"
	"sentinel-spamguard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	store     *storage.Store
	audit     *audit.Logger
	analytics *analytics.Service
	session   *discordgo.Session
	exec      *Executor
	engine    *antispam.Engine
}

func New(cfg config.Config, logger *zap.Logger, store *storage.Store, auditLogger *audit.Logger, analyticsService *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsMessageContent
	// handlers run in arrival order so a user's messages reach the trackers in sequence
	session.SyncEvents = true

	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		audit:     auditLogger,
		analytics: analyticsService,
		session:   session,
		exec:      NewExecutor(session, cfg.Escalation.RestrictedRoleID),
	}
	if cfg.Moderation.LogChannelID != "" && auditLogger != nil {
		auditLogger.SetNotifier(b.forwardAudit)
	}
	return b, nil
}

// Executor is the moderation executor backed by this bot's session.
func (b *Bot) Executor() *Executor {
	return b.exec
}

func (b *Bot) AttachEngine(engine *antispam.Engine) {
	b.engine = engine
}

func (b *Bot) Start() error {
	if b.engine == nil {
		return fmt.Errorf("bot started without an engine")
	}
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onMessageReactionAdd)
	b.session.AddHandler(b.onInteractionCreate)

	if err := b.session.Open(); err != nil {
		return err
	}
	return b.registerCommands()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

// forwardAudit mirrors warning and critical audit entries into the moderation log channel.
func (b *Bot) forwardAudit(ctx context.Context, entry storage.AuditLog) {
	if entry.Level == audit.LevelInfo {
		return
	}
	go func() {
		postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, err := b.exec.PostMessage(postCtx, b.cfg.Moderation.LogChannelID, auditLine(entry)); err != nil {
			b.logger.Debug("audit forward failed", zap.String("event", entry.Event), zap.Error(err))
		}
	}()
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.Author.Bot || msg.WebhookID != "" {
		return
	}
	if msg.GuildID == "" {
		return
	}

	createdAt := msg.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	b.engine.OnMessage(context.Background(), antispam.Message{
		ID:           msg.ID,
		GuildID:      msg.GuildID,
		ChannelID:    msg.ChannelID,
		AuthorID:     msg.Author.ID,
		Content:      msg.Content,
		CreatedAt:    createdAt,
		MentionCount: mentionCount(msg.Message),
	})
}

func (b *Bot) onMessageReactionAdd(session *discordgo.Session, event *discordgo.MessageReactionAdd) {
	if event.MessageReaction == nil || event.GuildID == "" {
		return
	}
	if session.State != nil && session.State.User != nil && event.UserID == session.State.User.ID {
		return
	}

	ctx := context.Background()
	result := b.engine.OnReaction(ctx, antispam.Reaction{
		MessageID:  event.MessageID,
		VoterID:    event.UserID,
		Emoji:      event.Emoji.Name,
		At:         time.Now(),
		Privileged: b.isPrivileged(event.GuildID, event.UserID, event.Member),
	})
	if result == arbitration.VoteCooldown {
		// debounced votes are taken back so the moderator can vote again later
		channelID, messageID, emoji, userID := event.ChannelID, event.MessageID, event.Emoji.APIName(), event.UserID
		go func() {
			removeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := b.exec.RemoveReaction(removeCtx, channelID, messageID, emoji, userID); err != nil {
				b.logger.Debug("reaction removal failed", zap.String("message_id", messageID), zap.Error(err))
			}
		}()
	}
}

func (b *Bot) isPrivileged(guildID, userID string, member *discordgo.Member) bool {
	if member == nil {
		member = b.memberForUser(guildID, userID)
	}
	return hasPrivilege(b.guild(guildID), member, userID, b.cfg.Moderation)
}

// guild and memberForUser read the gateway cache only. Handlers run in
// order, so a REST round trip here would hold up every other event.
func (b *Bot) guild(guildID string) *discordgo.Guild {
	guild, err := b.session.State.Guild(guildID)
	if err != nil {
		return nil
	}
	return guild
}

func (b *Bot) memberForUser(guildID, userID string) *discordgo.Member {
	member, err := b.session.State.Member(guildID, userID)
	if err != nil {
		return nil
	}
	return member
}

func (b *Bot) respond(session *discordgo.Session, interaction *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   flags,
		},
	})
}

func (b *Bot) respondEmbed(session *discordgo.Session, interaction *discordgo.InteractionCreate, embed *discordgo.MessageEmbed, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	_ = session.InteractionRespond(interaction.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
			Flags:  flags,
		},
	})
}
