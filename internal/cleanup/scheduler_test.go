package cleanup

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"channelwarden/internal/models"
)

type fakeStore struct {
	mu    sync.Mutex
	rules map[string]models.CleanupRule
}

func newFakeStore() *fakeStore {
	return &fakeStore{rules: map[string]models.CleanupRule{}}
}

func (f *fakeStore) UpsertRule(rule models.CleanupRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[rule.ChannelID] = rule
	return nil
}

func (f *fakeStore) SelectDueRules(now time.Time) ([]models.CleanupRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []models.CleanupRule
	for _, rule := range f.rules {
		if rule.Enabled && !rule.NextRun.After(now) {
			due = append(due, rule)
		}
	}
	return due, nil
}

func (f *fakeStore) UpdateAfterRun(channelID string, lastRun, nextRun time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule := f.rules[channelID]
	rule.LastRun = &lastRun
	rule.NextRun = nextRun
	f.rules[channelID] = rule
	return nil
}

func (f *fakeStore) DisableRule(channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rule := f.rules[channelID]
	rule.Enabled = false
	f.rules[channelID] = rule
	return nil
}

func (f *fakeStore) get(channelID string) models.CleanupRule {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rules[channelID]
}

type fakeGateway struct {
	mu      sync.Mutex
	missing map[string]bool
	notices []string
}

func (f *fakeGateway) ChannelExists(channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.missing[channelID], nil
}

func (f *fakeGateway) Notify(_, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, text)
}

func (f *fakeGateway) noticeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notices)
}

func (f *fakeGateway) allNotices() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notices...)
}

// slowMessages blocks every listing on gate so a purge can be held in
// flight mid-cycle.
type slowMessages struct {
	fakeMessages
	entered atomic.Int32
	gate    chan struct{}
}

func (s *slowMessages) ListRecentMessages(channelID string, limit int) ([]Message, error) {
	s.entered.Add(1)
	<-s.gate
	return s.fakeMessages.ListRecentMessages(channelID, limit)
}

func newTestScheduler(store Store, gw Gateway, msgs MessageStore, now time.Time) *Scheduler {
	purger := newTestPurger(msgs)
	return NewScheduler(store, gw, purger, "@every 30s", time.UTC, zerolog.Nop(),
		WithNow(func() time.Time { return now }))
}

func TestUpsertRuleRejectsBadIntervals(t *testing.T) {
	s := newTestScheduler(newFakeStore(), &fakeGateway{}, &fakeMessages{}, time.Now())
	defer s.Stop()

	for _, c := range []struct{ days, minutes int }{{0, 0}, {-1, 10}, {2, -1}} {
		_, err := s.UpsertRule("c1", "g1", c.days, c.minutes)
		require.True(t, errors.Is(err, models.ErrConfigInvalid), "days=%d minutes=%d", c.days, c.minutes)
	}
}

func TestUpsertRulePersistsNextRun(t *testing.T) {
	store := newFakeStore()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(store, &fakeGateway{}, &fakeMessages{}, now)
	defer s.Stop()

	rule, err := s.UpsertRule("c1", "g1", 0, 10)
	require.NoError(t, err)
	require.Equal(t, now.Add(10*time.Minute), rule.NextRun)
	require.True(t, store.get("c1").Enabled)
	require.Nil(t, store.get("c1").LastRun)
}

func TestScanExecutesDueRule(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := &fakeMessages{messages: []Message{
		{ID: "m1", Timestamp: now.Add(-time.Hour)},
		{ID: "m2", Timestamp: now.Add(-time.Hour)},
	}}
	s := newTestScheduler(store, gw, msgs, now)
	defer s.Stop()

	require.NoError(t, store.UpsertRule(models.CleanupRule{
		ChannelID: "c1", GuildID: "g1", Enabled: true,
		IntervalDays: 0, IntervalMinutes: 10, NextRun: now.Add(-time.Minute),
	}))

	s.Scan(context.Background())

	require.Empty(t, msgs.messages, "due rule purges history")
	require.Equal(t, 1, gw.noticeCount())
	got := store.get("c1")
	require.NotNil(t, got.LastRun)
	require.Equal(t, now, *got.LastRun)
	require.Equal(t, got.LastRun.Add(10*time.Minute), got.NextRun,
		"next run equals last run plus interval")
}

func TestScanSkipsRuleNotYetDue(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	now := time.Now()
	msgs := &fakeMessages{messages: []Message{{ID: "m1", Timestamp: now}}}
	s := newTestScheduler(store, gw, msgs, now)
	defer s.Stop()

	require.NoError(t, store.UpsertRule(models.CleanupRule{
		ChannelID: "c1", Enabled: true, IntervalMinutes: 10, NextRun: now.Add(time.Hour),
	}))

	s.Scan(context.Background())
	require.Len(t, msgs.messages, 1)
}

func TestScanDisablesRuleForMissingChannel(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{missing: map[string]bool{"c1": true}}
	now := time.Now()
	msgs := &fakeMessages{messages: []Message{{ID: "m1", Timestamp: now}}}
	s := newTestScheduler(store, gw, msgs, now)
	defer s.Stop()

	require.NoError(t, store.UpsertRule(models.CleanupRule{
		ChannelID: "c1", Enabled: true, IntervalMinutes: 10, NextRun: now.Add(-time.Minute),
	}))

	s.Scan(context.Background())

	require.False(t, store.get("c1").Enabled, "stale rule self-heals by disabling")
	require.Len(t, msgs.messages, 1, "no purge for a missing channel")
}

func TestScanFallsBackTo24hForZeroInterval(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := newTestScheduler(store, gw, &fakeMessages{}, now)
	defer s.Stop()

	// A zero interval can only exist as stale stored data; UpsertRule
	// rejects it at the boundary.
	require.NoError(t, store.UpsertRule(models.CleanupRule{
		ChannelID: "c1", Enabled: true, NextRun: now.Add(-time.Minute),
	}))

	s.Scan(context.Background())
	require.Equal(t, now.Add(24*time.Hour), store.get("c1").NextRun)
}

func TestScanSkipsChannelsWithArmedFirstRun(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := &fakeMessages{messages: []Message{{ID: "m1", Timestamp: now}}}
	s := newTestScheduler(store, gw, msgs, now)
	defer s.Stop()

	_, err := s.UpsertRule("c1", "g1", 1, 0)
	require.NoError(t, err)

	// Force the rule due while its first run is still armed.
	require.NoError(t, store.UpdateAfterRun("c1", now, now.Add(-time.Minute)))

	s.Scan(context.Background())
	require.Len(t, msgs.messages, 1, "the armed first run owns this cycle")
}

func TestDisableRuleCancelsFirstRun(t *testing.T) {
	store := newFakeStore()
	s := newTestScheduler(store, &fakeGateway{}, &fakeMessages{}, time.Now())
	defer s.Stop()

	_, err := s.UpsertRule("c1", "g1", 1, 0)
	require.NoError(t, err)
	require.True(t, s.firstRunArmed("c1"))

	require.NoError(t, s.DisableRule("c1"))
	require.False(t, s.firstRunArmed("c1"))
	require.False(t, store.get("c1").Enabled)
}

func TestWarningLeadBrackets(t *testing.T) {
	require.Equal(t, time.Hour, warningLead(2*time.Hour))
	require.Equal(t, time.Hour, warningLead(time.Hour))
	require.Equal(t, 5*time.Minute, warningLead(10*time.Minute))
	require.Equal(t, 5*time.Minute, warningLead(5*time.Minute))
	require.Equal(t, time.Duration(0), warningLead(3*time.Minute))
	require.Equal(t, time.Duration(0), warningLead(0))
}

func TestFirstRunExecutesWhenDue(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	now := time.Now()
	msgs := &fakeMessages{messages: []Message{{ID: "m1", Timestamp: now}}}
	s := newTestScheduler(store, gw, msgs, now)
	defer s.Stop()

	rule := models.CleanupRule{
		ChannelID: "c1", GuildID: "g1", Enabled: true,
		IntervalMinutes: 1, NextRun: now.Add(20 * time.Millisecond),
	}
	require.NoError(t, store.UpsertRule(rule))
	s.armFirstRun(rule)

	require.Eventually(t, func() bool {
		msgs.mu.Lock()
		defer msgs.mu.Unlock()
		return len(msgs.messages) == 0
	}, time.Second, 10*time.Millisecond, "first run purges once due")
	require.Eventually(t, func() bool { return !s.firstRunArmed("c1") }, time.Second, 10*time.Millisecond)
}

func TestFirstRunWarnsBeforePurge(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	now := time.Now()
	msgs := &fakeMessages{messages: []Message{{ID: "m1", Timestamp: now}}}
	s := newTestScheduler(store, gw, msgs, now)
	defer s.Stop()

	// A five-minute interval carries a five-minute warning lead, so with
	// the run due almost immediately the warning fires right away and the
	// purge follows at the due instant.
	rule := models.CleanupRule{
		ChannelID: "c1", GuildID: "g1", Enabled: true,
		IntervalMinutes: 5, NextRun: now.Add(20 * time.Millisecond),
	}
	require.NoError(t, store.UpsertRule(rule))
	s.armFirstRun(rule)

	require.Eventually(t, func() bool { return gw.noticeCount() == 2 }, time.Second, 10*time.Millisecond)
	notices := gw.allNotices()
	require.Contains(t, notices[0], "cleanup in 5m", "warning precedes the purge")
	require.True(t, strings.Contains(notices[1], "cleanup finished"))
	msgs.mu.Lock()
	defer msgs.mu.Unlock()
	require.Empty(t, msgs.messages)
}

func TestScanSkipsChannelWithPurgeInFlight(t *testing.T) {
	store := newFakeStore()
	gw := &fakeGateway{}
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	msgs := &slowMessages{gate: make(chan struct{})}
	msgs.messages = []Message{
		{ID: "m1", Timestamp: now.Add(-time.Hour)},
		{ID: "m2", Timestamp: now.Add(-time.Hour)},
	}
	s := newTestScheduler(store, gw, msgs, now)
	defer s.Stop()

	require.NoError(t, store.UpsertRule(models.CleanupRule{
		ChannelID: "c1", GuildID: "g1", Enabled: true,
		IntervalMinutes: 10, NextRun: now.Add(-time.Minute),
	}))

	first := make(chan struct{})
	go func() {
		s.Scan(context.Background())
		close(first)
	}()
	require.Eventually(t, func() bool { return msgs.entered.Load() == 1 }, time.Second, time.Millisecond)

	// The next tick arrives while the purge is still listing.
	second := make(chan struct{})
	go func() {
		s.Scan(context.Background())
		close(second)
	}()
	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("overlapping scan did not return")
	}
	require.Equal(t, int32(1), msgs.entered.Load(),
		"a purge still in flight is not started a second time")

	close(msgs.gate)
	select {
	case <-first:
	case <-time.After(time.Second):
		t.Fatal("held purge did not finish")
	}
	require.Equal(t, 1, gw.noticeCount())
	require.NotNil(t, store.get("c1").LastRun)
}
