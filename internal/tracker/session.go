package tracker

import (
	"sort"
	"sync"
	"time"
)

// Entry is one member's total in a rendered report.
type Entry struct {
	UserID  string
	Seconds int64
}

// Session accumulates per-member connected time for one voice channel. A
// member is in exactly one of accumulated or activeSince at a time: joins
// enter activeSince, leaves move the elapsed span into accumulated.
type Session struct {
	ChannelID   string
	GuildID     string
	InitiatorID string
	StartedAt   time.Time

	accumulated map[string]int64
	activeSince map[string]time.Time

	ref      MessageRef
	live     bool
	stopOnce sync.Once
	stopFn   func()
}

func newSession(channelID, guildID, initiatorID string, now time.Time) *Session {
	return &Session{
		ChannelID:   channelID,
		GuildID:     guildID,
		InitiatorID: initiatorID,
		StartedAt:   now,
		accumulated: make(map[string]int64),
		activeSince: make(map[string]time.Time),
		live:        true,
	}
}

// join marks the member active from now. Already-active members and their
// running spans are left untouched.
func (s *Session) join(userID string, now time.Time) {
	if _, active := s.activeSince[userID]; !active {
		s.activeSince[userID] = now
	}
	if _, ok := s.accumulated[userID]; !ok {
		s.accumulated[userID] = 0
	}
}

// leave moves the member's running span into their accumulated total,
// clamped at zero. Unknown members are a no-op.
func (s *Session) leave(userID string, now time.Time) {
	since, active := s.activeSince[userID]
	if !active {
		return
	}
	delete(s.activeSince, userID)
	elapsed := int64(now.Sub(since).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	s.accumulated[userID] += elapsed
}

// flush closes every remaining active span at now. Used at finalization.
func (s *Session) flush(now time.Time) {
	for userID := range s.activeSince {
		s.leave(userID, now)
	}
}

// totals returns every tracked member's total seconds including running
// spans, sorted descending with member ID as the tie break.
func (s *Session) totals(now time.Time) []Entry {
	entries := make([]Entry, 0, len(s.accumulated))
	for userID, secs := range s.accumulated {
		if since, active := s.activeSince[userID]; active {
			if d := int64(now.Sub(since).Seconds()); d > 0 {
				secs += d
			}
		}
		entries = append(entries, Entry{UserID: userID, Seconds: secs})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Seconds != entries[j].Seconds {
			return entries[i].Seconds > entries[j].Seconds
		}
		return entries[i].UserID < entries[j].UserID
	})
	return entries
}

// stop ends the re-render loop exactly once.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		if s.stopFn != nil {
			s.stopFn()
		}
	})
}
