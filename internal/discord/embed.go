package discord

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"

	"channelwarden/internal/tracker"
	"channelwarden/pkg/utils"
)

const (
	colorLive     = 0x5865F2
	colorFinished = 0x57F287
)

// renderEmbed turns a session report into a Discord embed.
func renderEmbed(a tracker.Artifact) *discordgo.MessageEmbed {
	var sb strings.Builder
	for _, e := range a.Entries {
		fmt.Fprintf(&sb, "%s - `%s`\n", utils.FormatUserMention(e.UserID), utils.FormatDuration(e.Seconds))
	}
	if sb.Len() == 0 {
		sb.WriteString("Nobody tracked yet.")
	}

	color := colorLive
	if a.Final {
		color = colorFinished
	}

	embed := &discordgo.MessageEmbed{
		Title:       a.Title,
		Description: sb.String(),
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Channel", Value: utils.FormatChannelMention(a.ChannelID), Inline: true},
			{Name: "Started by", Value: utils.FormatUserMention(a.InitiatorID), Inline: true},
			{Name: "Started at", Value: fmt.Sprintf("<t:%d:f>", a.StartedAt.Unix()), Inline: true},
		},
	}
	if a.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: a.Footer}
	}
	return embed
}
