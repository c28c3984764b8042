package discord

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"channelwarden/internal/models"
	"channelwarden/pkg/utils"
)

// messageCreate is the thin command surface invoking the core operations.
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	fields := strings.Fields(strings.TrimSpace(m.Content))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "!") {
		return
	}

	switch fields[0] {
	case "!lock":
		b.handleLock(m, fields[1:])
	case "!unlock":
		b.reply(m.ChannelID, b.locks.UnlockNow(m.ChannelID), "Unlock done.")
	case "!cleanup":
		b.handleCleanup(m, fields[1:])
	case "!track":
		b.handleTrack(m, fields[1:])
	case "!untrack":
		b.reply(m.ChannelID, b.repository.DisableTrackedChannel(m.ChannelID), "Voice tracking disabled for this channel.")
	}
}

func (b *Bot) handleLock(m *discordgo.MessageCreate, args []string) {
	if len(args) != 2 {
		b.reply(m.ChannelID, models.ErrConfigInvalid, "Usage: `!lock HH:MM minutes`")
		return
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		b.reply(m.ChannelID, models.ErrConfigInvalid, "Usage: `!lock HH:MM minutes`")
		return
	}
	task, err := b.locks.ScheduleLock(m.ChannelID, m.ChannelID, args[0], minutes)
	if err != nil {
		b.reply(m.ChannelID, err, "")
		return
	}
	b.reply(m.ChannelID, nil, fmt.Sprintf("🔒 Lock scheduled for <t:%d:t>, duration %s.", task.StartAt.Unix(), task.Duration))
}

func (b *Bot) handleCleanup(m *discordgo.MessageCreate, args []string) {
	if len(args) == 1 && args[0] == "stop" {
		b.reply(m.ChannelID, b.cleanup.DisableRule(m.ChannelID), "Scheduled cleanup disabled.")
		return
	}
	if len(args) == 1 && args[0] == "status" {
		rule, err := b.repository.GetRule(m.ChannelID)
		if err != nil {
			b.reply(m.ChannelID, err, "")
			return
		}
		b.reply(m.ChannelID, nil, formatRuleStatus(rule))
		return
	}
	if len(args) != 2 {
		b.reply(m.ChannelID, models.ErrConfigInvalid, "Usage: `!cleanup days minutes`, `!cleanup status` or `!cleanup stop`")
		return
	}
	days, err1 := strconv.Atoi(args[0])
	minutes, err2 := strconv.Atoi(args[1])
	if err1 != nil || err2 != nil {
		b.reply(m.ChannelID, models.ErrConfigInvalid, "Usage: `!cleanup days minutes`")
		return
	}
	rule, err := b.cleanup.UpsertRule(m.ChannelID, m.GuildID, days, minutes)
	if err != nil {
		b.reply(m.ChannelID, err, "")
		return
	}
	b.reply(m.ChannelID, nil, fmt.Sprintf("🧹 Cleanup scheduled every %dd %dm, first run <t:%d:f>.",
		rule.IntervalDays, rule.IntervalMinutes, rule.NextRun.Unix()))
}

// formatRuleStatus renders the `!cleanup status` acknowledgement.
func formatRuleStatus(rule *models.CleanupRule) string {
	if rule == nil || !rule.Enabled {
		return "No cleanup schedule is active for this channel."
	}
	text := fmt.Sprintf("🧹 Cleanup runs every %dd %dm, next run <t:%d:f>.",
		rule.IntervalDays, rule.IntervalMinutes, rule.NextRun.Unix())
	if rule.LastRun != nil {
		text += fmt.Sprintf(" Last run <t:%d:f>.", rule.LastRun.Unix())
	}
	return text
}

// handleTrack enables voice tracking for the voice channel named first:
// `!track #channel simple [logChannelID]` or
// `!track #channel override over1,over2 target1,target2 [logChannelID]`
// with role IDs comma separated.
func (b *Bot) handleTrack(m *discordgo.MessageCreate, args []string) {
	usage := "Usage: `!track channelID simple [logChannelID]` or `!track channelID override overrideRoles targetRoles [logChannelID]`"
	if len(args) < 2 {
		b.reply(m.ChannelID, models.ErrConfigInvalid, usage)
		return
	}
	tc := models.TrackedChannel{
		ChannelID: strings.Trim(args[0], "<#>"),
		GuildID:   m.GuildID,
		Enabled:   true,
	}
	switch args[1] {
	case "simple":
		tc.Mode = models.TrackingSimple
		if len(args) > 2 {
			tc.LogChannelID = strings.Trim(args[2], "<#>")
		}
	case "override":
		if len(args) < 4 {
			b.reply(m.ChannelID, models.ErrConfigInvalid, usage)
			return
		}
		tc.Mode = models.TrackingOverride
		tc.OverrideRoles = splitIDs(args[2])
		tc.TargetRoles = splitIDs(args[3])
		if len(tc.OverrideRoles) == 0 {
			b.reply(m.ChannelID, models.ErrConfigInvalid, "override mode needs at least one override role")
			return
		}
		if len(args) > 4 {
			tc.LogChannelID = strings.Trim(args[4], "<#>")
		}
	default:
		b.reply(m.ChannelID, models.ErrConfigInvalid, usage)
		return
	}

	if err := b.repository.UpsertTrackedChannel(tc); err != nil {
		b.reply(m.ChannelID, err, "")
		return
	}
	b.reply(m.ChannelID, nil, fmt.Sprintf("🎙️ Voice tracking enabled for %s (%s mode).",
		utils.FormatChannelMention(tc.ChannelID), tc.Mode))
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.Trim(strings.TrimSpace(part), "<@&>"); part != "" {
			ids = append(ids, part)
		}
	}
	return ids
}

// reply acknowledges a command, rendering errors in a user-facing form.
func (b *Bot) reply(channelID string, err error, ok string) {
	text := ok
	switch {
	case err == nil:
	case errors.Is(err, models.ErrConfigInvalid):
		if ok != "" {
			text = ok
		} else {
			text = fmt.Sprintf("❌ %v", err)
		}
	case errors.Is(err, models.ErrPermissionDenied):
		text = "❌ I don't have permission to do that here."
	default:
		text = "❌ Something went wrong, try again later."
		b.log.Error().Err(err).Str("channel", channelID).Msg("command failed")
	}
	if text == "" {
		return
	}
	if _, serr := b.session.ChannelMessageSend(channelID, text); serr != nil {
		b.log.Warn().Err(serr).Str("channel", channelID).Msg("reply failed")
	}
}
