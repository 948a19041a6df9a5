package bot

import "github.com/bwmarrin/discordgo"

var adminPermission = int64(discordgo.PermissionAdministrator)

func onOffOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "value",
		Description: description,
		Required:    true,
		Choices: []*discordgo.ApplicationCommandOptionChoice{
			{Name: "on", Value: "on"},
			{Name: "off", Value: "off"},
		},
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "anti-spam",
			Description:              "Turn spam detection on or off",
			DefaultMemberPermissions: &adminPermission,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.Japanese:  "スパム検知を切り替える",
				discordgo.EnglishUS: "Turn spam detection on or off",
			},
			Options: []*discordgo.ApplicationCommandOption{onOffOption("on or off")},
		},
		{
			Name:                     "link-filter",
			Description:              "Turn the link filter on or off",
			DefaultMemberPermissions: &adminPermission,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.Japanese:  "リンクフィルターを切り替える",
				discordgo.EnglishUS: "Turn the link filter on or off",
			},
			Options: []*discordgo.ApplicationCommandOption{onOffOption("on or off")},
		},
		{
			Name:                     "link-allow",
			Description:              "Manage domains the link filter lets through",
			DefaultMemberPermissions: &adminPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "action",
					Description: "add, remove or list",
					Required:    true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "add", Value: "add"},
						{Name: "remove", Value: "remove"},
						{Name: "list", Value: "list"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "domain",
					Description: "Domain such as example.com",
					Required:    false,
				},
			},
		},
		{
			Name:                     "spam-status",
			Description:              "Show spam protection status and open cases",
			DefaultMemberPermissions: &adminPermission,
			DescriptionLocalizations: &map[discordgo.Locale]string{
				discordgo.Japanese:  "スパム対策の状態を表示する",
				discordgo.EnglishUS: "Show spam protection status and open cases",
			},
		},
	}
}

// registerCommands syncs the global command set and removes stale commands.
func (b *Bot) registerCommands() error {
	commands := commandDefinitions()
	appID := b.session.State.User.ID

	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		return err
	}
	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
