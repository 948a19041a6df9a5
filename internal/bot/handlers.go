package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel-spamguard/internal/analytics"
	"sentinel-spamguard/internal/escalation"
	"sentinel-spamguard/internal/modules/audit"
	"sentinel-spamguard/internal/storage"
	"sentinel-spamguard/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorOK    = 0x2ecc71
	colorWarn  = 0xf1c40f
	colorError = 0xe74c3c
)

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if interaction.GuildID == "" || interaction.Member == nil || interaction.Member.User == nil {
		b.respond(session, interaction, "This command only works inside a server.", true)
		return
	}

	userID := interaction.Member.User.ID
	if !hasPrivilege(b.guild(interaction.GuildID), interaction.Member, userID, b.cfg.Moderation) {
		b.respond(session, interaction, "Only administrators can use this command.", true)
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "anti-spam":
		b.handleToggleCommand(ctx, session, interaction, userID, data.Options, "Spam detection", b.engine.ToggleDetection)
	case "link-filter":
		b.handleToggleCommand(ctx, session, interaction, userID, data.Options, "Link filter", b.engine.ToggleLinkFilter)
	case "link-allow":
		b.handleLinkAllowCommand(ctx, session, interaction, data.Options)
	case "spam-status":
		b.handleStatusCommand(ctx, session, interaction)
	default:
		b.logger.Debug("unknown command", zap.String("name", data.Name))
	}
}

type toggleFunc func(ctx context.Context, guildID, actorID string, enabled bool) bool

func (b *Bot) handleToggleCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, userID string, options []*discordgo.ApplicationCommandInteractionDataOption, label string, toggle toggleFunc) {
	value := optionString(options, "value")
	var enabled bool
	switch value {
	case "on":
		enabled = true
	case "off":
		enabled = false
	default:
		b.respond(session, interaction, "Value must be on or off.", true)
		return
	}

	previous := toggle(ctx, interaction.GuildID, userID, enabled)
	description := fmt.Sprintf("%s is now **%s**.", label, onOff(enabled))
	if previous == enabled {
		description = fmt.Sprintf("%s was already **%s**.", label, onOff(enabled))
	}
	b.respondEmbed(session, interaction, commandEmbed(label, description, colorOK, nil), false)
}

func (b *Bot) handleLinkAllowCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, options []*discordgo.ApplicationCommandInteractionDataOption) {
	guildID := interaction.GuildID
	action := optionString(options, "action")
	domain := utils.NormalizeHost(optionString(options, "domain"))
	title := "Link allowlist"

	switch action {
	case "add", "remove":
		if domain == "" {
			b.respondEmbed(session, interaction, commandEmbed(title, "A domain is required.", colorError, nil), true)
			return
		}
		var err error
		description := fmt.Sprintf("Added `%s`.", domain)
		if action == "add" {
			err = b.store.AddDomainAllow(ctx, guildID, domain)
		} else {
			var removed bool
			removed, err = b.store.RemoveDomainAllow(ctx, guildID, domain)
			description = fmt.Sprintf("Removed `%s`.", domain)
			if err == nil && !removed {
				description = fmt.Sprintf("`%s` was not on the allowlist.", domain)
			}
		}
		if err != nil {
			b.logger.Warn("allowlist update failed", zap.String("guild_id", guildID), zap.String("domain", domain), zap.Error(err))
			b.respondEmbed(session, interaction, commandEmbed(title, "Could not update the allowlist.", colorError, nil), true)
			return
		}
		b.audit.Log(ctx, audit.LevelInfo, guildID, interaction.Member.User.ID, "link_allowlist_"+action, domain)
		b.respondEmbed(session, interaction, commandEmbed(title, description, colorOK, nil), true)
	case "list":
		domains, err := b.store.ListDomainAllow(ctx, guildID)
		if err != nil {
			b.respondEmbed(session, interaction, commandEmbed(title, "Could not load the allowlist.", colorError, nil), true)
			return
		}
		domains = append(append([]string{}, b.cfg.Detection.LinkAllowlist...), domains...)
		if len(domains) == 0 {
			b.respondEmbed(session, interaction, commandEmbed(title, "The allowlist is empty.", colorWarn, nil), true)
			return
		}
		fields := []*discordgo.MessageEmbedField{{Name: "Domains", Value: truncateField(strings.Join(domains, "\n")), Inline: false}}
		b.respondEmbed(session, interaction, commandEmbed(title, fmt.Sprintf("%d allowed domains.", len(domains)), colorOK, fields), true)
	default:
		b.respondEmbed(session, interaction, commandEmbed(title, "Action must be add, remove or list.", colorError, nil), true)
	}
}

func (b *Bot) handleStatusCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	status := b.engine.Status(interaction.GuildID)

	cases := "none"
	if len(status.OpenCases) > 0 {
		lines := make([]string, 0, len(status.OpenCases))
		for _, c := range status.OpenCases {
			lines = append(lines, fmt.Sprintf("<@%s> since <t:%d:R>", c.SubjectID, c.OpenedAt.Unix()))
		}
		cases = truncateField(strings.Join(lines, "\n"))
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Spam detection", Value: onOff(status.DetectionEnabled), Inline: true},
		{Name: "Link filter", Value: onOff(status.LinkFilterEnabled), Inline: true},
		{Name: "Tracked users", Value: fmt.Sprint(status.TrackedUsers), Inline: true},
		{Name: "Open cases", Value: cases, Inline: false},
	}

	if b.cfg.Escalation.Persist {
		offenders, err := b.store.ListInfractions(ctx, interaction.GuildID, escalation.InfractionCategory, 5)
		if err != nil {
			b.logger.Warn("offender lookup failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		} else if len(offenders) > 0 {
			fields = append(fields, &discordgo.MessageEmbedField{Name: "Repeat offenders", Value: formatOffenders(offenders), Inline: false})
		}
	}

	report, err := b.analytics.Report(ctx, interaction.GuildID, time.Now().Add(-24*time.Hour))
	if err != nil {
		b.logger.Warn("status report failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
	} else {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Last 24h", Value: formatReport(report), Inline: false})
	}
	b.respondEmbed(session, interaction, commandEmbed("Spam status", "", colorOK, fields), true)
}

func optionString(options []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, option := range options {
		if option.Name == name {
			return strings.TrimSpace(option.StringValue())
		}
	}
	return ""
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func truncateField(value string) string {
	const limit = 1024
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit-1]) + "…"
}

func formatReport(report analytics.Report) string {
	return fmt.Sprintf("Detections: %d | Temporary: %d | Permanent: %d\nCases: %d | Confirmed: %d | Pardoned: %d | Unanswered: %d",
		report.ByEvent[audit.EventSpamDetected],
		report.ByEvent[audit.EventRestrictionApplied],
		report.ByEvent[audit.EventRestrictionPermanent],
		report.Cases,
		report.Outcomes["confirm"],
		report.Outcomes["pardon"],
		report.Outcomes["no_response"],
	)
}

func formatOffenders(offenders []storage.UserInfraction) string {
	lines := make([]string, 0, len(offenders))
	for _, inf := range offenders {
		lines = append(lines, fmt.Sprintf("<@%s> %d detections, last <t:%d:R>", inf.UserID, inf.CountTotal, inf.LastAt.Unix()))
	}
	return truncateField(strings.Join(lines, "\n"))
}

func auditLine(entry storage.AuditLog) string {
	line := fmt.Sprintf("[%s] %s", entry.Level, entry.Event)
	if entry.UserID != "" {
		line += fmt.Sprintf(" <@%s>", entry.UserID)
	}
	if entry.Details != "" {
		line += ": " + entry.Details
	}
	return truncateField(line)
}
