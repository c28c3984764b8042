package cleanup

import (
	"context"
	"fmt"
	"time"

	"channelwarden/internal/models"
)

// Warning brackets for the first in-process cycle: long intervals warn an
// hour ahead, short ones five minutes ahead, anything under that gets none.
const (
	longWarnThreshold  = time.Hour
	shortWarnThreshold = 5 * time.Minute
)

// warningLead returns how long before the purge a warning should fire, or
// zero for no warning.
func warningLead(interval time.Duration) time.Duration {
	switch {
	case interval >= longWarnThreshold:
		return time.Hour
	case interval >= shortWarnThreshold:
		return 5 * time.Minute
	default:
		return 0
	}
}

// firstRunEntry identifies one armed first run so a superseded goroutine
// never removes its replacement's registration.
type firstRunEntry struct {
	cancel context.CancelFunc
}

// armFirstRun spawns the legacy in-process wait/warn/purge loop for a
// freshly created rule. It exists for first-cycle parity with the polling
// scan (which has no pre-notification hook); once it completes and persists
// its run, the scan owns every later cycle.
func (s *Scheduler) armFirstRun(rule models.CleanupRule) {
	ctx, cancel := context.WithCancel(context.Background())
	entry := &firstRunEntry{cancel: cancel}

	s.mu.Lock()
	if old, ok := s.firstRun[rule.ChannelID]; ok {
		old.cancel()
	}
	s.firstRun[rule.ChannelID] = entry
	s.mu.Unlock()

	go s.runFirst(ctx, entry, rule)
}

func (s *Scheduler) runFirst(ctx context.Context, entry *firstRunEntry, rule models.CleanupRule) {
	defer func() {
		s.mu.Lock()
		if s.firstRun[rule.ChannelID] == entry {
			delete(s.firstRun, rule.ChannelID)
		}
		s.mu.Unlock()
		entry.cancel()
	}()

	interval := nextInterval(rule)
	due := rule.NextRun
	if lead := warningLead(interval); lead > 0 {
		if err := sleepUntil(ctx, due.Add(-lead).Sub(s.now())); err != nil {
			return
		}
		s.gw.Notify(rule.ChannelID, fmt.Sprintf("⏳ Channel cleanup in %s, save anything you want to keep.", lead))
	}
	if err := sleepUntil(ctx, due.Sub(s.now())); err != nil {
		return
	}

	s.execute(ctx, rule)
}

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
