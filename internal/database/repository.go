package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"channelwarden/internal/models"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// UpsertRule creates or replaces the cleanup rule for a channel.
func (r *Repository) UpsertRule(rule models.CleanupRule) error {
	_, err := r.db.conn.Exec(`
		INSERT INTO cleanup_rules (channel_id, guild_id, enabled, interval_days, interval_minutes, next_run, last_run)
		VALUES ($1, $2, TRUE, $3, $4, $5, NULL)
		ON CONFLICT (channel_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			enabled = TRUE,
			interval_days = EXCLUDED.interval_days,
			interval_minutes = EXCLUDED.interval_minutes,
			next_run = EXCLUDED.next_run`,
		rule.ChannelID, rule.GuildID, rule.IntervalDays, rule.IntervalMinutes, rule.NextRun)
	if err != nil {
		return fmt.Errorf("failed to upsert cleanup rule: %w", err)
	}
	return nil
}

// SelectDueRules returns every enabled rule whose next_run has elapsed.
func (r *Repository) SelectDueRules(now time.Time) ([]models.CleanupRule, error) {
	rows, err := r.db.conn.Query(`
		SELECT channel_id, guild_id, enabled, interval_days, interval_minutes, next_run, last_run
		FROM cleanup_rules
		WHERE enabled AND next_run <= $1`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to select due rules: %w", err)
	}
	defer rows.Close()

	var rules []models.CleanupRule
	for rows.Next() {
		var rule models.CleanupRule
		var lastRun sql.NullTime
		if err := rows.Scan(&rule.ChannelID, &rule.GuildID, &rule.Enabled,
			&rule.IntervalDays, &rule.IntervalMinutes, &rule.NextRun, &lastRun); err != nil {
			r.db.log.Error().Err(err).Msg("error scanning cleanup rule row")
			continue
		}
		if lastRun.Valid {
			t := lastRun.Time
			rule.LastRun = &t
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// UpdateAfterRun persists the outcome of a completed purge cycle.
func (r *Repository) UpdateAfterRun(channelID string, lastRun, nextRun time.Time) error {
	_, err := r.db.conn.Exec(`
		UPDATE cleanup_rules SET last_run = $2, next_run = $3 WHERE channel_id = $1`,
		channelID, lastRun, nextRun)
	if err != nil {
		return fmt.Errorf("failed to update cleanup rule after run: %w", err)
	}
	return nil
}

// DisableRule switches a rule off without deleting its row.
func (r *Repository) DisableRule(channelID string) error {
	_, err := r.db.conn.Exec(`UPDATE cleanup_rules SET enabled = FALSE WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("failed to disable cleanup rule: %w", err)
	}
	return nil
}

// GetRule returns the cleanup rule for a channel, or nil if none exists.
func (r *Repository) GetRule(channelID string) (*models.CleanupRule, error) {
	var rule models.CleanupRule
	var lastRun sql.NullTime
	err := r.db.conn.QueryRow(`
		SELECT channel_id, guild_id, enabled, interval_days, interval_minutes, next_run, last_run
		FROM cleanup_rules WHERE channel_id = $1`, channelID).
		Scan(&rule.ChannelID, &rule.GuildID, &rule.Enabled,
			&rule.IntervalDays, &rule.IntervalMinutes, &rule.NextRun, &lastRun)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cleanup rule: %w", err)
	}
	if lastRun.Valid {
		t := lastRun.Time
		rule.LastRun = &t
	}
	return &rule, nil
}

// UpsertTrackedChannel creates or replaces a voice-tracking configuration.
func (r *Repository) UpsertTrackedChannel(tc models.TrackedChannel) error {
	_, err := r.db.conn.Exec(`
		INSERT INTO tracked_channels (channel_id, guild_id, mode, override_roles, target_roles, log_channel_id, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE)
		ON CONFLICT (channel_id) DO UPDATE SET
			guild_id = EXCLUDED.guild_id,
			mode = EXCLUDED.mode,
			override_roles = EXCLUDED.override_roles,
			target_roles = EXCLUDED.target_roles,
			log_channel_id = EXCLUDED.log_channel_id,
			enabled = TRUE`,
		tc.ChannelID, tc.GuildID, string(tc.Mode),
		pq.Array(tc.OverrideRoles), pq.Array(tc.TargetRoles), tc.LogChannelID)
	if err != nil {
		return fmt.Errorf("failed to upsert tracked channel: %w", err)
	}
	return nil
}

// GetTrackedChannel returns the tracking config for a channel, or nil.
func (r *Repository) GetTrackedChannel(channelID string) (*models.TrackedChannel, error) {
	var tc models.TrackedChannel
	var mode string
	err := r.db.conn.QueryRow(`
		SELECT channel_id, guild_id, mode, override_roles, target_roles, log_channel_id, enabled
		FROM tracked_channels WHERE channel_id = $1 AND enabled`, channelID).
		Scan(&tc.ChannelID, &tc.GuildID, &mode,
			pq.Array(&tc.OverrideRoles), pq.Array(&tc.TargetRoles), &tc.LogChannelID, &tc.Enabled)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tracked channel: %w", err)
	}
	tc.Mode = models.TrackingMode(mode)
	return &tc, nil
}

// DisableTrackedChannel switches tracking off for a channel.
func (r *Repository) DisableTrackedChannel(channelID string) error {
	_, err := r.db.conn.Exec(`UPDATE tracked_channels SET enabled = FALSE WHERE channel_id = $1`, channelID)
	if err != nil {
		return fmt.Errorf("failed to disable tracked channel: %w", err)
	}
	return nil
}
