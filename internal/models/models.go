package models

import "time"

// CleanupRule is a persisted per-channel purge schedule.
type CleanupRule struct {
	ChannelID       string
	GuildID         string
	Enabled         bool
	IntervalDays    int
	IntervalMinutes int
	NextRun         time.Time
	LastRun         *time.Time
}

// Interval returns the rule's configured period.
func (r CleanupRule) Interval() time.Duration {
	return time.Duration(r.IntervalDays)*24*time.Hour +
		time.Duration(r.IntervalMinutes)*time.Minute
}

// TrackingMode selects how a voice channel's sessions start and stop.
type TrackingMode string

const (
	// TrackingSimple starts a session on any member join and ends it when
	// the channel has no non-bot members left.
	TrackingSimple TrackingMode = "simple"
	// TrackingOverride requires an override-role holder to start a session
	// and additionally gates target-role connect access on their presence.
	TrackingOverride TrackingMode = "override"
)

// TrackedChannel is a persisted voice-tracking configuration.
type TrackedChannel struct {
	ChannelID     string
	GuildID       string
	Mode          TrackingMode
	OverrideRoles []string
	TargetRoles   []string
	LogChannelID  string
	Enabled       bool
}
