package discord

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// CommandName is the setup-status slash command.
const CommandName = "evo"

// Embed colors for the status reply.
const (
	colorReady    = 0x2ecc71
	colorNotReady = 0xe74c3c
)

func evoCommand() *discordgo.ApplicationCommand {
	adminOnly := int64(discordgo.PermissionAdministrator)
	dmAllowed := false
	return &discordgo.ApplicationCommand{
		Name:                     CommandName,
		Description:              "Check Evo's setup status for this server.",
		DefaultMemberPermissions: &adminOnly,
		DMPermission:             &dmAllowed,
	}
}

func (d *Discord) registerCommands(s *discordgo.Session, appID string) {
	if _, err := s.ApplicationCommandCreate(appID, "", evoCommand()); err != nil {
		d.logger.Warn("discord: registering slash command failed", "command", CommandName, "error", err)
		return
	}
	d.logger.Info("discord: slash command registered", "command", CommandName)
}

// StatusEmbed builds the /evo reply for a server.
func StatusEmbed(configured bool, dashboardURL string) *discordgo.MessageEmbed {
	if configured {
		return &discordgo.MessageEmbed{
			Title: "Evo is Ready!",
			Description: "Your bot is all set-up and ready to chat.\n\n" +
				fmt.Sprintf("You can make changes to your bot's settings at any time on the [Evo Dashboard](%s).", dashboardURL),
			Color: colorReady,
		}
	}
	return &discordgo.MessageEmbed{
		Title: "Evo is Not Yet Setup",
		Description: "Evo needs to be configured before she can start chatting on this server.\n\n" +
			fmt.Sprintf("An administrator can set her up in a few clicks on the [Evo Dashboard](%s).", dashboardURL),
		Color: colorNotReady,
	}
}

func (d *Discord) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	d.handleInteraction(i.Interaction)
}

func (d *Discord) handleInteraction(i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.ApplicationCommandData().Name != CommandName || i.GuildID == "" {
		return
	}

	configured := false
	if d.configs != nil {
		ctx, cancel := context.WithTimeout(d.ctx, 2*time.Second)
		cfg, err := d.configs.LoadServerConfig(ctx, i.GuildID)
		cancel()
		if err != nil {
			d.logger.Warn("discord: status lookup failed", "guild_id", i.GuildID, "error", err)
		}
		configured = cfg != nil
	}

	err := d.rest.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{StatusEmbed(configured, d.dashboardURL)},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		d.logger.Warn("discord: responding to /evo failed", "guild_id", i.GuildID, "error", err)
	}
}
