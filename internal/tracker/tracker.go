package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"channelwarden/internal/models"
)

// Member is a connected voice-channel occupant.
type Member struct {
	ID  string
	Bot bool
}

// Sink is where a session's status artifact is posted: a channel, or a
// direct message when no channel is available.
type Sink struct {
	ChannelID string
	DMUserID  string
}

// MessageRef identifies a posted artifact for in-place edits.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// Gateway is the platform surface the tracker needs.
type Gateway interface {
	MemberHasAnyRole(guildID, userID string, roles []string) (bool, error)
	ConnectedMembers(channelID string) ([]Member, error)
	// ResolveSink picks the artifact destination: the configured log
	// channel, else the guild's system channel, else a DM to the initiator.
	ResolveSink(guildID, logChannelID, initiatorID string) Sink
	SendArtifact(sink Sink, a Artifact) (MessageRef, error)
	EditArtifact(ref MessageRef, a Artifact) error
	// SetRoleConnect grants or revokes connect access for a role on a
	// channel, preserving the role's view flag.
	SetRoleConnect(channelID, roleID string, allow bool) error
}

// ConfigSource looks up which channels are tracked and how.
type ConfigSource interface {
	GetTrackedChannel(channelID string) (*models.TrackedChannel, error)
}

const defaultRenderPeriod = 5 * time.Second

// Tracker turns voice join/leave events into occupancy sessions and keeps
// each session's status artifact current until the channel empties.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string]*Session
	gated    map[string]bool

	gw     Gateway
	cfg    ConfigSource
	now    func() time.Time
	period time.Duration
	log    zerolog.Logger
}

// Option customises the Tracker.
type Option func(*Tracker)

// WithNow overrides the clock, primarily for testing.
func WithNow(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithRenderPeriod overrides the live re-render cadence.
func WithRenderPeriod(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.period = d
		}
	}
}

// New creates a Tracker.
func New(gw Gateway, cfg ConfigSource, log zerolog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		sessions: make(map[string]*Session),
		gated:    make(map[string]bool),
		gw:       gw,
		cfg:      cfg,
		now:      time.Now,
		period:   defaultRenderPeriod,
		log:      log.With().Str("component", "tracker").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// OnJoin handles a member joining a voice channel.
func (t *Tracker) OnJoin(channelID, userID string, isBot bool) {
	tc := t.trackedConfig(channelID)
	if tc == nil || isBot {
		return
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	sess, ok := t.sessions[channelID]
	if !ok {
		sess = t.createSession(tc, userID, now)
		if sess == nil {
			// Override mode and the trigger holds no override role; the
			// join is ignored until a holder arrives, but gating is still
			// re-evaluated below.
			t.evaluateGateLocked(tc, gateWasClosed)
			return
		}
		t.sessions[channelID] = sess
	}

	sess.join(userID, now)
	t.evaluateGateLocked(tc, gateWasClosed)
}

// gateWasClosed is the pre-event reconstruction for join events: a join
// can only open the gate, so an unknown previous side reads as closed.
func gateWasClosed() bool { return false }

// OnLeave handles a member leaving a voice channel.
func (t *Tracker) OnLeave(channelID, userID string, isBot bool) {
	tc := t.trackedConfig(channelID)
	if tc == nil || isBot {
		return
	}
	now := t.now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.evaluateGateLocked(tc, func() bool {
		// A leave by a holder means the gate was open before the event.
		holder, err := t.gw.MemberHasAnyRole(tc.GuildID, userID, tc.OverrideRoles)
		return err == nil && holder
	})

	sess, ok := t.sessions[channelID]
	if !ok {
		return
	}
	sess.leave(userID, now)

	if t.sessionOver(tc) {
		t.finalizeLocked(sess, now)
		return
	}
	t.renderLocked(sess, false)
}

// Shutdown stops every live re-render loop without finalizing reports.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, sess := range t.sessions {
		sess.stop()
		sess.live = false
		delete(t.sessions, id)
	}
}

func (t *Tracker) trackedConfig(channelID string) *models.TrackedChannel {
	tc, err := t.cfg.GetTrackedChannel(channelID)
	if err != nil {
		t.log.Error().Err(err).Str("channel", channelID).Msg("tracked-channel lookup failed")
		return nil
	}
	return tc
}

// createSession builds a new session for the trigger member, seeds its
// participants, posts the initial artifact, and starts the re-render loop.
// In override mode it returns nil when the trigger holds no override role.
func (t *Tracker) createSession(tc *models.TrackedChannel, userID string, now time.Time) *Session {
	if tc.Mode == models.TrackingOverride {
		holder, err := t.gw.MemberHasAnyRole(tc.GuildID, userID, tc.OverrideRoles)
		if err != nil {
			t.log.Warn().Err(err).Str("user", userID).Msg("override role check failed")
			return nil
		}
		if !holder {
			return nil
		}
	}

	sess := newSession(tc.ChannelID, tc.GuildID, userID, now)

	if tc.Mode == models.TrackingOverride {
		// Members already in the channel were untracked until a holder
		// arrived; credit them from the session start.
		members, err := t.gw.ConnectedMembers(tc.ChannelID)
		if err != nil {
			t.log.Warn().Err(err).Str("channel", tc.ChannelID).Msg("member listing failed")
		}
		for _, m := range members {
			if !m.Bot && m.ID != userID {
				sess.join(m.ID, now)
			}
		}
	}

	sink := t.gw.ResolveSink(tc.GuildID, tc.LogChannelID, userID)
	ref, err := t.gw.SendArtifact(sink, t.artifact(sess, false))
	if err != nil {
		t.log.Warn().Err(err).Str("channel", tc.ChannelID).Msg("failed to post session report")
	} else {
		sess.ref = ref
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess.stopFn = cancel
	go t.renderLoop(ctx, sess)

	t.log.Info().Str("channel", tc.ChannelID).Str("initiator", userID).Msg("voice session started")
	return sess
}

// sessionOver reports the termination condition: simple mode ends with the
// last non-bot member, override mode with the last override-role holder.
func (t *Tracker) sessionOver(tc *models.TrackedChannel) bool {
	members, err := t.gw.ConnectedMembers(tc.ChannelID)
	if err != nil {
		t.log.Warn().Err(err).Str("channel", tc.ChannelID).Msg("member listing failed")
		return false
	}
	for _, m := range members {
		if m.Bot {
			continue
		}
		if tc.Mode != models.TrackingOverride {
			return false
		}
		holder, err := t.gw.MemberHasAnyRole(tc.GuildID, m.ID, tc.OverrideRoles)
		if err != nil {
			t.log.Warn().Err(err).Str("user", m.ID).Msg("override role check failed")
			continue
		}
		if holder {
			return false
		}
	}
	return true
}

// finalizeLocked flushes running spans, stops the re-render loop, posts
// the completed report, and removes the session.
func (t *Tracker) finalizeLocked(sess *Session, now time.Time) {
	sess.flush(now)
	sess.live = false
	sess.stop()
	t.renderLocked(sess, true)
	delete(t.sessions, sess.ChannelID)
	t.log.Info().Str("channel", sess.ChannelID).Msg("voice session finished")
}

// evaluateGateLocked applies the override-mode permission side effect: on
// the holder-occupancy transition false→true every target role gains
// connect access, on true→false it is revoked. Independent of session
// bookkeeping.
//
// The gate table is process-local, so the first evaluation for a channel
// after startup has no previous side on record. wasOpen reconstructs it
// from the event at hand, which lets a gate left open across a restart
// still close when its last holder leaves.
func (t *Tracker) evaluateGateLocked(tc *models.TrackedChannel, wasOpen func() bool) {
	if tc.Mode != models.TrackingOverride || len(tc.TargetRoles) == 0 {
		return
	}
	present := t.holderPresent(tc)
	prev, known := t.gated[tc.ChannelID]
	if !known {
		prev = wasOpen()
	}
	if present == prev {
		t.gated[tc.ChannelID] = present
		return
	}
	t.gated[tc.ChannelID] = present
	for _, roleID := range tc.TargetRoles {
		if err := t.gw.SetRoleConnect(tc.ChannelID, roleID, present); err != nil {
			t.log.Warn().Err(err).Str("channel", tc.ChannelID).Str("role", roleID).Msg("connect gate write failed")
		}
	}
	t.log.Info().Str("channel", tc.ChannelID).Bool("open", present).Msg("connect gate switched")
}

func (t *Tracker) holderPresent(tc *models.TrackedChannel) bool {
	members, err := t.gw.ConnectedMembers(tc.ChannelID)
	if err != nil {
		t.log.Warn().Err(err).Str("channel", tc.ChannelID).Msg("member listing failed")
		return t.gated[tc.ChannelID]
	}
	for _, m := range members {
		if m.Bot {
			continue
		}
		holder, err := t.gw.MemberHasAnyRole(tc.GuildID, m.ID, tc.OverrideRoles)
		if err != nil {
			continue
		}
		if holder {
			return true
		}
	}
	return false
}

func (t *Tracker) renderLoop(ctx context.Context, sess *Session) {
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			if !sess.live {
				t.mu.Unlock()
				return
			}
			t.renderLocked(sess, false)
			t.mu.Unlock()
		}
	}
}

func (t *Tracker) renderLocked(sess *Session, final bool) {
	if sess.ref == (MessageRef{}) {
		return
	}
	if err := t.gw.EditArtifact(sess.ref, t.artifact(sess, final)); err != nil {
		t.log.Warn().Err(err).Str("channel", sess.ChannelID).Msg("report edit failed")
	}
}
