package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"

	"channelwarden/internal/cleanup"
	"channelwarden/internal/config"
	"channelwarden/internal/database"
	"channelwarden/internal/lock"
	"channelwarden/internal/tracker"
)

// Bot owns the Discord session and wires the lock engine, cleanup
// scheduler, and voice tracker to it.
type Bot struct {
	session    *discordgo.Session
	repository *database.Repository
	log        zerolog.Logger

	locks   *lock.Engine
	cleanup *cleanup.Scheduler
	tracker *tracker.Tracker
}

// New creates the bot and its subsystems.
func New(cfg *config.Config, repository *database.Repository, log zerolog.Logger) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	bot := &Bot{
		session:    session,
		repository: repository,
		log:        log.With().Str("component", "discord").Logger(),
	}

	gw := &gateway{bot: bot}
	bot.locks = lock.New(gw, cfg.Timezone, cfg.LockRoles, log)
	purger := cleanup.NewPurger(gw, log)
	bot.cleanup = cleanup.NewScheduler(repository, gw, purger, cfg.ScanSpec, cfg.Timezone, log)
	bot.tracker = tracker.New(gw, repository, log)

	session.AddHandler(bot.messageCreate)
	session.AddHandler(bot.voiceStateUpdate)

	return bot, nil
}

// Start opens the gateway connection and begins the cleanup scan.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	if err := b.cleanup.Start(); err != nil {
		b.session.Close()
		return err
	}
	b.log.Info().Msg("bot is running")
	return nil
}

// Stop shuts the subsystems down and closes the session.
func (b *Bot) Stop() error {
	b.cleanup.Stop()
	b.tracker.Shutdown()
	b.locks.Shutdown()
	return b.session.Close()
}

// voiceStateUpdate translates gateway voice events into tracker joins and
// leaves; a channel move is a leave from the old channel plus a join to
// the new one.
func (b *Bot) voiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	oldChannel := ""
	if vs.BeforeUpdate != nil {
		oldChannel = vs.BeforeUpdate.ChannelID
	}
	if oldChannel == vs.ChannelID {
		// Mute or deafen toggle, not a move.
		return
	}

	isBot := b.isBot(vs.GuildID, vs.UserID)
	if oldChannel != "" {
		b.tracker.OnLeave(oldChannel, vs.UserID, isBot)
	}
	if vs.ChannelID != "" {
		b.tracker.OnJoin(vs.ChannelID, vs.UserID, isBot)
	}
}

func (b *Bot) isBot(guildID, userID string) bool {
	if m, err := b.session.State.Member(guildID, userID); err == nil && m.User != nil {
		return m.User.Bot
	}
	m, err := b.session.GuildMember(guildID, userID)
	if err != nil || m.User == nil {
		return false
	}
	return m.User.Bot
}
