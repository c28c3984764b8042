package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"channelwarden/internal/models"
	"channelwarden/pkg/utils"
)

// AudienceMode selects which roles a lock acts on.
type AudienceMode int

const (
	// AudiencePublic locks the guild's @everyone role.
	AudiencePublic AudienceMode = iota
	// AudiencePrivate locks the configured privileged roles and leaves
	// generic visibility untouched.
	AudiencePrivate
)

// State is a lock task's lifecycle position.
type State int

const (
	StateScheduled State = iota
	StateLocked
	StateUnlocked
	StateCancelled
)

// Task is one pending or active lock/unlock cycle for a channel.
type Task struct {
	ChannelID string
	OriginID  string
	GuildID   string
	StartAt   time.Time
	Duration  time.Duration
	Mode      AudienceMode

	voice     bool
	state     State
	cancel    context.CancelFunc
	snapshots []Snapshot
}

// ChannelAPI is the surface the engine needs from the platform. The bot
// glue implements it over discordgo; tests use fakes.
type ChannelAPI interface {
	// ChannelInfo resolves a channel to its guild and whether it is a
	// voice-type channel.
	ChannelInfo(channelID string) (guildID string, voice bool, err error)
	// RoleOverwrite reads the current view and send/connect tristate for
	// a role on a channel.
	RoleOverwrite(channelID, roleID string) (view, act Tristate, err error)
	// SetRoleOverwrite writes both bits at once.
	SetRoleOverwrite(channelID, roleID string, view, act Tristate) error
	// EveryoneDeniesView reports whether the channel currently denies
	// view access to @everyone (the private-channel check).
	EveryoneDeniesView(channelID string) (bool, error)
	// DisconnectAll kicks every connected member out of a voice channel,
	// best effort.
	DisconnectAll(channelID string) error
	// Notify sends a plain message, best effort.
	Notify(channelID, text string)
}

// Engine owns the per-channel lock task registry. At most one task is live
// per channel; a new request fully supersedes the old one.
type Engine struct {
	mu    sync.Mutex
	tasks map[string]*Task

	api        ChannelAPI
	loc        *time.Location
	privileged []string
	now        func() time.Time
	log        zerolog.Logger
}

// New creates an Engine. privileged is the role set acted on in private
// mode.
func New(api ChannelAPI, loc *time.Location, privileged []string, log zerolog.Logger) *Engine {
	return &Engine{
		tasks:      make(map[string]*Task),
		api:        api,
		loc:        loc,
		privileged: privileged,
		now:        time.Now,
		log:        log.With().Str("component", "lock").Logger(),
	}
}

// ScheduleLock arranges for channelID to be locked at startHHMM (rolling to
// tomorrow if already past) for durationMin minutes, then unlocked. It
// supersedes any existing task for the channel.
func (e *Engine) ScheduleLock(channelID, originID, startHHMM string, durationMin int) (*Task, error) {
	hour, minute, err := ParseTimeOfDay(startHHMM)
	if err != nil {
		return nil, err
	}
	if durationMin < 1 {
		return nil, fmt.Errorf("%w: duration must be at least 1 minute", models.ErrConfigInvalid)
	}

	guildID, voice, err := e.api.ChannelInfo(channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve channel: %w", err)
	}

	mode := AudiencePublic
	denied, err := e.api.EveryoneDeniesView(channelID)
	if err != nil {
		return nil, fmt.Errorf("failed to check channel visibility: %w", err)
	}
	if denied {
		mode = AudiencePrivate
	}

	// A superseded task that already applied its deny write is reverted
	// before recapture, so the new snapshots never record the denied state
	// as the original.
	e.supersede(channelID)

	roles := e.watchedRoles(guildID, mode)
	snapshots := make([]Snapshot, 0, len(roles))
	for _, roleID := range roles {
		view, act, err := e.api.RoleOverwrite(channelID, roleID)
		if err != nil {
			return nil, fmt.Errorf("failed to capture overwrite for role %s: %w", roleID, err)
		}
		snapshots = append(snapshots, Snapshot{ChannelID: channelID, RoleID: roleID, View: view, Act: act})
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &Task{
		ChannelID: channelID,
		OriginID:  originID,
		GuildID:   guildID,
		StartAt:   NextOccurrence(e.now(), hour, minute, e.loc),
		Duration:  time.Duration(durationMin) * time.Minute,
		Mode:      mode,
		voice:     voice,
		state:     StateScheduled,
		cancel:    cancel,
		snapshots: snapshots,
	}

	e.mu.Lock()
	e.tasks[channelID] = task
	e.mu.Unlock()

	go e.run(ctx, task)

	e.log.Info().Str("channel", channelID).Time("start", task.StartAt).
		Dur("duration", task.Duration).Bool("private", mode == AudiencePrivate).
		Msg("lock scheduled")
	return task, nil
}

// UnlockNow cancels any task for the channel and performs the revert write
// from the snapshots on file. Without a task it is a no-op: the channel is
// treated as already unlocked.
func (e *Engine) UnlockNow(channelID string) error {
	e.mu.Lock()
	task, ok := e.tasks[channelID]
	if ok {
		delete(e.tasks, channelID)
		task.state = StateCancelled
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}

	task.cancel()
	e.revert(task)
	e.api.Notify(channelID, "🔓 This channel has been unlocked.")
	e.log.Info().Str("channel", channelID).Msg("unlocked on request")
	return nil
}

// Active reports whether a task is live for the channel.
func (e *Engine) Active(channelID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.tasks[channelID]
	return ok
}

// Shutdown cancels every live task without reverting; locked channels stay
// locked until an explicit unlock.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, task := range e.tasks {
		task.cancel()
		task.state = StateCancelled
		delete(e.tasks, id)
	}
}

func (e *Engine) watchedRoles(guildID string, mode AudienceMode) []string {
	if mode == AudiencePrivate && len(e.privileged) > 0 {
		return e.privileged
	}
	// The @everyone role ID equals the guild ID.
	return []string{guildID}
}

// supersede cancels and removes any existing task for the channel,
// reverting its writes first when it had already reached the locked state.
func (e *Engine) supersede(channelID string) {
	e.mu.Lock()
	old, ok := e.tasks[channelID]
	if ok {
		delete(e.tasks, channelID)
		wasLocked := old.state == StateLocked
		old.state = StateCancelled
		e.mu.Unlock()
		old.cancel()
		if wasLocked {
			e.revert(old)
		}
		e.log.Info().Str("channel", channelID).Msg("existing lock task superseded")
		return
	}
	e.mu.Unlock()
}

func (e *Engine) run(ctx context.Context, task *Task) {
	if err := sleepUntil(ctx, task.StartAt.Sub(e.now())); err != nil {
		return
	}

	if !e.transition(task, StateScheduled, StateLocked) {
		return
	}

	for _, snap := range task.snapshots {
		if err := e.api.SetRoleOverwrite(task.ChannelID, snap.RoleID, snap.View, TristateDeny); err != nil {
			e.report(task, fmt.Errorf("lock write failed for role %s: %w", snap.RoleID, err))
		}
	}
	if task.voice {
		if err := e.api.DisconnectAll(task.ChannelID); err != nil {
			e.log.Warn().Err(err).Str("channel", task.ChannelID).Msg("voice disconnect failed")
		}
	}

	// An unlock request can land while the deny writes above are still
	// issuing, interleaving its revert with them. Re-check and revert once
	// more so the channel never stays denied with no task on file.
	e.mu.Lock()
	cancelled := task.state != StateLocked
	e.mu.Unlock()
	if cancelled {
		e.revert(task)
		return
	}

	e.api.Notify(task.ChannelID, fmt.Sprintf("🔒 This channel is locked for %s.", task.Duration))
	e.log.Info().Str("channel", task.ChannelID).Msg("channel locked")

	if err := sleepUntil(ctx, task.Duration); err != nil {
		return
	}

	e.mu.Lock()
	if task.state != StateLocked {
		e.mu.Unlock()
		return
	}
	task.state = StateUnlocked
	delete(e.tasks, task.ChannelID)
	e.mu.Unlock()

	e.revert(task)
	e.api.Notify(task.ChannelID, "🔓 This channel has been unlocked.")
	if task.OriginID != "" && task.OriginID != task.ChannelID {
		e.api.Notify(task.OriginID, fmt.Sprintf("🔓 %s has been unlocked.", utils.FormatChannelMention(task.ChannelID)))
	}
	e.log.Info().Str("channel", task.ChannelID).Msg("channel unlocked")
}

// revert restores view from the snapshot and resets send/connect to
// inherit. Failures are reported and do not stop the remaining roles.
func (e *Engine) revert(task *Task) {
	for _, snap := range task.snapshots {
		if err := e.api.SetRoleOverwrite(snap.ChannelID, snap.RoleID, snap.View, TristateInherit); err != nil {
			e.report(task, fmt.Errorf("unlock write failed for role %s: %w", snap.RoleID, err))
		}
	}
}

func (e *Engine) transition(task *Task, from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if task.state != from {
		return false
	}
	task.state = to
	return true
}

// report surfaces a permission failure to the command origin, best effort.
func (e *Engine) report(task *Task, err error) {
	e.log.Warn().Err(err).Str("channel", task.ChannelID).Msg("permission write failed")
	sink := task.OriginID
	if sink == "" {
		sink = task.ChannelID
	}
	e.api.Notify(sink, fmt.Sprintf("⚠️ %v", err))
}

// sleepUntil waits d (immediately returning when non-positive) unless ctx
// is cancelled first.
func sleepUntil(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
