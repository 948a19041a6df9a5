package bot

import (
	"sentinel-spamguard/internal/config"

	"github.com/bwmarrin/discordgo"
)

// hasPrivilege reports whether a member may vote on cases and run the
// moderation commands.
func hasPrivilege(guild *discordgo.Guild, member *discordgo.Member, userID string, mod config.ModerationConfig) bool {
	for _, id := range mod.PrivilegedUserIDs {
		if id == userID {
			return true
		}
	}
	if guild != nil && guild.OwnerID != "" && guild.OwnerID == userID {
		return true
	}
	if member == nil {
		return false
	}
	if member.Permissions&discordgo.PermissionAdministrator != 0 {
		return true
	}
	if guild == nil {
		return false
	}

	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	perms := int64(0)
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
		if role.ID == guild.ID {
			perms |= role.Permissions
		}
	}
	for _, roleID := range member.Roles {
		role := roleMap[roleID]
		if role == nil {
			continue
		}
		if mod.AdminRoleName != "" && role.Name == mod.AdminRoleName {
			return true
		}
		perms |= role.Permissions
	}
	return perms&discordgo.PermissionAdministrator != 0
}

func mentionCount(msg *discordgo.Message) int {
	count := len(msg.Mentions) + len(msg.MentionRoles)
	if msg.MentionEveryone {
		count++
	}
	return count
}
