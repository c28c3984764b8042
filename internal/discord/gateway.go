package discord

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"channelwarden/internal/cleanup"
	"channelwarden/internal/lock"
	"channelwarden/internal/models"
	"channelwarden/internal/tracker"
)

// gateway implements the collaborator ports of the three subsystems over
// the bot's discordgo session.
type gateway struct {
	bot *Bot
}

func (g *gateway) channel(channelID string) (*discordgo.Channel, error) {
	if ch, err := g.bot.session.State.Channel(channelID); err == nil {
		return ch, nil
	}
	ch, err := g.bot.session.Channel(channelID)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", channelID, models.ClassifyRESTError(err))
	}
	return ch, nil
}

func isVoice(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice
}

// actBit is the "action" permission a lock denies: connect on voice
// channels, send on text channels.
func actBit(ch *discordgo.Channel) int64 {
	if isVoice(ch) {
		return discordgo.PermissionVoiceConnect
	}
	return discordgo.PermissionSendMessages
}

func roleOverwrite(ch *discordgo.Channel, roleID string) *discordgo.PermissionOverwrite {
	for _, ow := range ch.PermissionOverwrites {
		if ow.Type == discordgo.PermissionOverwriteTypeRole && ow.ID == roleID {
			return ow
		}
	}
	return nil
}

func tristateOf(allow, deny, bit int64) lock.Tristate {
	switch {
	case allow&bit != 0:
		return lock.TristateAllow
	case deny&bit != 0:
		return lock.TristateDeny
	default:
		return lock.TristateInherit
	}
}

// applyTristate rewrites one permission bit inside an allow/deny pair.
func applyTristate(allow, deny, bit int64, t lock.Tristate) (int64, int64) {
	allow &^= bit
	deny &^= bit
	switch t {
	case lock.TristateAllow:
		allow |= bit
	case lock.TristateDeny:
		deny |= bit
	}
	return allow, deny
}

// ---- lock.ChannelAPI ----

func (g *gateway) ChannelInfo(channelID string) (string, bool, error) {
	ch, err := g.channel(channelID)
	if err != nil {
		return "", false, err
	}
	return ch.GuildID, isVoice(ch), nil
}

func (g *gateway) RoleOverwrite(channelID, roleID string) (lock.Tristate, lock.Tristate, error) {
	ch, err := g.channel(channelID)
	if err != nil {
		return lock.TristateInherit, lock.TristateInherit, err
	}
	ow := roleOverwrite(ch, roleID)
	if ow == nil {
		return lock.TristateInherit, lock.TristateInherit, nil
	}
	view := tristateOf(ow.Allow, ow.Deny, discordgo.PermissionViewChannel)
	act := tristateOf(ow.Allow, ow.Deny, actBit(ch))
	return view, act, nil
}

func (g *gateway) SetRoleOverwrite(channelID, roleID string, view, act lock.Tristate) error {
	ch, err := g.channel(channelID)
	if err != nil {
		return err
	}
	var allow, deny int64
	if ow := roleOverwrite(ch, roleID); ow != nil {
		allow, deny = ow.Allow, ow.Deny
	}
	allow, deny = applyTristate(allow, deny, discordgo.PermissionViewChannel, view)
	allow, deny = applyTristate(allow, deny, actBit(ch), act)

	if allow == 0 && deny == 0 {
		if err := g.bot.session.ChannelPermissionDelete(channelID, roleID); err != nil {
			return fmt.Errorf("overwrite delete: %w", models.ClassifyRESTError(err))
		}
		return nil
	}
	err = g.bot.session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, allow, deny)
	if err != nil {
		return fmt.Errorf("overwrite write: %w", models.ClassifyRESTError(err))
	}
	return nil
}

func (g *gateway) EveryoneDeniesView(channelID string) (bool, error) {
	ch, err := g.channel(channelID)
	if err != nil {
		return false, err
	}
	ow := roleOverwrite(ch, ch.GuildID)
	return ow != nil && ow.Deny&discordgo.PermissionViewChannel != 0, nil
}

func (g *gateway) DisconnectAll(channelID string) error {
	ch, err := g.channel(channelID)
	if err != nil {
		return err
	}
	guild, err := g.bot.session.State.Guild(ch.GuildID)
	if err != nil {
		return fmt.Errorf("guild %s: %w", ch.GuildID, models.ClassifyRESTError(err))
	}
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		if err := g.bot.session.GuildMemberMove(ch.GuildID, vs.UserID, nil); err != nil {
			g.bot.log.Warn().Err(err).Str("user", vs.UserID).Msg("voice disconnect failed")
		}
	}
	return nil
}

func (g *gateway) Notify(channelID, text string) {
	if _, err := g.bot.session.ChannelMessageSend(channelID, text); err != nil {
		g.bot.log.Warn().Err(err).Str("channel", channelID).Msg("notify failed")
	}
}

// ---- cleanup.Gateway / cleanup.MessageStore ----

func (g *gateway) ChannelExists(channelID string) (bool, error) {
	_, err := g.bot.session.Channel(channelID)
	if err == nil {
		return true, nil
	}
	classified := models.ClassifyRESTError(err)
	if errors.Is(classified, models.ErrResourceGone) {
		return false, nil
	}
	return false, fmt.Errorf("channel %s: %w", channelID, classified)
}

func (g *gateway) ListRecentMessages(channelID string, limit int) ([]cleanup.Message, error) {
	msgs, err := g.bot.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("message listing: %w", models.ClassifyRESTError(err))
	}
	out := make([]cleanup.Message, len(msgs))
	for i, m := range msgs {
		out[i] = cleanup.Message{ID: m.ID, Timestamp: m.Timestamp}
	}
	return out, nil
}

func (g *gateway) BulkDelete(channelID string, ids []string) error {
	if err := g.bot.session.ChannelMessagesBulkDelete(channelID, ids); err != nil {
		return fmt.Errorf("bulk delete: %w", models.ClassifyRESTError(err))
	}
	return nil
}

func (g *gateway) DeleteMessage(channelID, messageID string) error {
	if err := g.bot.session.ChannelMessageDelete(channelID, messageID); err != nil {
		return fmt.Errorf("message delete: %w", models.ClassifyRESTError(err))
	}
	return nil
}

// ---- tracker.Gateway ----

func (g *gateway) MemberHasAnyRole(guildID, userID string, roles []string) (bool, error) {
	member, err := g.bot.session.State.Member(guildID, userID)
	if err != nil {
		member, err = g.bot.session.GuildMember(guildID, userID)
		if err != nil {
			return false, fmt.Errorf("member %s: %w", userID, models.ClassifyRESTError(err))
		}
	}
	for _, have := range member.Roles {
		for _, want := range roles {
			if have == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func (g *gateway) ConnectedMembers(channelID string) ([]tracker.Member, error) {
	ch, err := g.channel(channelID)
	if err != nil {
		return nil, err
	}
	guild, err := g.bot.session.State.Guild(ch.GuildID)
	if err != nil {
		return nil, fmt.Errorf("guild %s: %w", ch.GuildID, models.ClassifyRESTError(err))
	}
	var members []tracker.Member
	for _, vs := range guild.VoiceStates {
		if vs.ChannelID != channelID {
			continue
		}
		members = append(members, tracker.Member{ID: vs.UserID, Bot: g.bot.isBot(ch.GuildID, vs.UserID)})
	}
	return members, nil
}

func (g *gateway) ResolveSink(guildID, logChannelID, initiatorID string) tracker.Sink {
	if logChannelID != "" {
		if _, err := g.channel(logChannelID); err == nil {
			return tracker.Sink{ChannelID: logChannelID}
		}
	}
	if guild, err := g.bot.session.State.Guild(guildID); err == nil && guild.SystemChannelID != "" {
		return tracker.Sink{ChannelID: guild.SystemChannelID}
	}
	return tracker.Sink{DMUserID: initiatorID}
}

func (g *gateway) SendArtifact(sink tracker.Sink, a tracker.Artifact) (tracker.MessageRef, error) {
	target := sink.ChannelID
	if sink.DMUserID != "" {
		dm, err := g.bot.session.UserChannelCreate(sink.DMUserID)
		if err != nil {
			return tracker.MessageRef{}, fmt.Errorf("dm channel: %w", models.ClassifyRESTError(err))
		}
		target = dm.ID
	}
	msg, err := g.bot.session.ChannelMessageSendEmbed(target, renderEmbed(a))
	if err != nil {
		return tracker.MessageRef{}, fmt.Errorf("report send: %w", models.ClassifyRESTError(err))
	}
	return tracker.MessageRef{ChannelID: target, MessageID: msg.ID}, nil
}

func (g *gateway) EditArtifact(ref tracker.MessageRef, a tracker.Artifact) error {
	_, err := g.bot.session.ChannelMessageEditEmbed(ref.ChannelID, ref.MessageID, renderEmbed(a))
	if err != nil {
		return fmt.Errorf("report edit: %w", models.ClassifyRESTError(err))
	}
	return nil
}

func (g *gateway) SetRoleConnect(channelID, roleID string, allow bool) error {
	state := lock.TristateDeny
	if allow {
		state = lock.TristateAllow
	}
	ch, err := g.channel(channelID)
	if err != nil {
		return err
	}
	var a, d int64
	if ow := roleOverwrite(ch, roleID); ow != nil {
		a, d = ow.Allow, ow.Deny
	}
	a, d = applyTristate(a, d, discordgo.PermissionVoiceConnect, state)
	err = g.bot.session.ChannelPermissionSet(channelID, roleID, discordgo.PermissionOverwriteTypeRole, a, d)
	if err != nil {
		return fmt.Errorf("connect gate write: %w", models.ClassifyRESTError(err))
	}
	return nil
}
