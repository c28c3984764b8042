package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"channelwarden/internal/models"
)

// fallbackInterval is the defensive floor applied when a stored rule's
// interval sums to zero.
const fallbackInterval = 24 * time.Hour

// Store is the persisted rule table. The scan path reads and writes it so
// schedules survive restarts.
type Store interface {
	UpsertRule(rule models.CleanupRule) error
	SelectDueRules(now time.Time) ([]models.CleanupRule, error)
	UpdateAfterRun(channelID string, lastRun, nextRun time.Time) error
	DisableRule(channelID string) error
}

// Gateway resolves channels and posts notices.
type Gateway interface {
	// ChannelExists reports whether the channel and its guild are still
	// reachable.
	ChannelExists(channelID string) (bool, error)
	// Notify sends a plain message, best effort.
	Notify(channelID, text string)
}

// Scheduler runs persisted cleanup rules. A short-period cron scan selects
// due rules and executes them; a rule freshly created also gets a one-shot
// in-process first run so its initial cycle can post pre-purge warnings.
type Scheduler struct {
	store  Store
	gw     Gateway
	purger *Purger

	spec string
	loc  *time.Location
	cron *cron.Cron
	now  func() time.Time
	log  zerolog.Logger

	mu       sync.Mutex
	firstRun map[string]*firstRunEntry
	inflight map[string]bool
}

// Option customises the Scheduler.
type Option func(*Scheduler)

// WithNow overrides the clock, primarily for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewScheduler creates a Scheduler scanning on spec (a cron expression or
// @every duration) in loc.
func NewScheduler(store Store, gw Gateway, purger *Purger, spec string, loc *time.Location, log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    store,
		gw:       gw,
		purger:   purger,
		spec:     spec,
		loc:      loc,
		now:      time.Now,
		log:      log.With().Str("component", "cleanup").Logger(),
		firstRun: make(map[string]*firstRunEntry),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the periodic scan.
func (s *Scheduler) Start() error {
	if s.cron != nil {
		return nil
	}
	c := cron.New(cron.WithLocation(s.loc))
	if _, err := c.AddFunc(s.spec, func() { s.Scan(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule cleanup scan: %w", err)
	}
	c.Start()
	s.cron = c
	s.log.Info().Str("spec", s.spec).Msg("cleanup scan started")
	return nil
}

// Stop halts the scan and cancels any pending first runs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.cron = nil
	}
	s.mu.Lock()
	for id, entry := range s.firstRun {
		entry.cancel()
		delete(s.firstRun, id)
	}
	s.mu.Unlock()
}

// UpsertRule creates or replaces the rule for a channel and arms its first
// in-process run. The interval must be non-negative and sum above zero.
func (s *Scheduler) UpsertRule(channelID, guildID string, days, minutes int) (models.CleanupRule, error) {
	if days < 0 || minutes < 0 || days+minutes == 0 {
		return models.CleanupRule{}, fmt.Errorf("%w: cleanup interval must be positive", models.ErrConfigInvalid)
	}

	now := s.now()
	rule := models.CleanupRule{
		ChannelID:       channelID,
		GuildID:         guildID,
		Enabled:         true,
		IntervalDays:    days,
		IntervalMinutes: minutes,
		NextRun:         now.Add(time.Duration(days)*24*time.Hour + time.Duration(minutes)*time.Minute),
	}
	if err := s.store.UpsertRule(rule); err != nil {
		return models.CleanupRule{}, err
	}
	s.armFirstRun(rule)
	s.log.Info().Str("channel", channelID).Int("days", days).Int("minutes", minutes).Msg("cleanup rule upserted")
	return rule, nil
}

// DisableRule switches the channel's rule off and cancels any pending
// first run. The row is kept so a later upsert restores history.
func (s *Scheduler) DisableRule(channelID string) error {
	s.cancelFirstRun(channelID)
	if err := s.store.DisableRule(channelID); err != nil {
		return err
	}
	s.log.Info().Str("channel", channelID).Msg("cleanup rule disabled")
	return nil
}

// Scan selects every due enabled rule and executes it: resolve the channel
// (disabling the rule when it or its guild is gone), purge, notify, and
// persist the next occurrence.
func (s *Scheduler) Scan(ctx context.Context) {
	now := s.now()
	rules, err := s.store.SelectDueRules(now)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to select due rules")
		return
	}

	for _, rule := range rules {
		if s.firstRunArmed(rule.ChannelID) {
			// The in-process first run owns this cycle.
			continue
		}
		if !s.beginCycle(rule.ChannelID) {
			// A purge started by an earlier tick is still working this
			// channel. Purges can outlast the scan period.
			continue
		}
		s.execute(ctx, rule)
		s.endCycle(rule.ChannelID)
	}
}

// beginCycle marks a channel's purge cycle in flight. It reports false when
// an earlier tick already has one running for the same channel.
func (s *Scheduler) beginCycle(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[channelID] {
		return false
	}
	s.inflight[channelID] = true
	return true
}

func (s *Scheduler) endCycle(channelID string) {
	s.mu.Lock()
	delete(s.inflight, channelID)
	s.mu.Unlock()
}

func (s *Scheduler) execute(ctx context.Context, rule models.CleanupRule) {
	ok, err := s.gw.ChannelExists(rule.ChannelID)
	if err != nil {
		s.log.Warn().Err(err).Str("channel", rule.ChannelID).Msg("channel lookup failed, skipping cycle")
		return
	}
	if !ok {
		// Stale configuration self-heals: the rule is disabled, not retried.
		if err := s.store.DisableRule(rule.ChannelID); err != nil {
			s.log.Error().Err(err).Str("channel", rule.ChannelID).Msg("failed to disable stale rule")
		}
		s.log.Info().Str("channel", rule.ChannelID).Msg("channel gone, rule disabled")
		return
	}

	if err := s.purger.PurgeAll(ctx, rule.ChannelID); err != nil {
		s.log.Error().Err(err).Str("channel", rule.ChannelID).Msg("purge failed")
		return
	}
	s.gw.Notify(rule.ChannelID, "🧹 Scheduled cleanup finished, channel history cleared.")

	now := s.now()
	if err := s.store.UpdateAfterRun(rule.ChannelID, now, now.Add(nextInterval(rule))); err != nil {
		s.log.Error().Err(err).Str("channel", rule.ChannelID).Msg("failed to reschedule rule")
	}
}

// nextInterval is the rule's interval with the 24h defensive floor.
func nextInterval(rule models.CleanupRule) time.Duration {
	if iv := rule.Interval(); iv > 0 {
		return iv
	}
	return fallbackInterval
}

func (s *Scheduler) firstRunArmed(channelID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.firstRun[channelID]
	return ok
}

func (s *Scheduler) cancelFirstRun(channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.firstRun[channelID]; ok {
		entry.cancel()
		delete(s.firstRun, channelID)
	}
}
