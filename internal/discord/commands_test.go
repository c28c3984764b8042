package discord

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"channelwarden/internal/models"
)

func TestFormatRuleStatus(t *testing.T) {
	require.Equal(t, "No cleanup schedule is active for this channel.", formatRuleStatus(nil))
	require.Equal(t, "No cleanup schedule is active for this channel.",
		formatRuleStatus(&models.CleanupRule{ChannelID: "c1"}))

	next := time.Date(2024, 6, 2, 12, 0, 0, 0, time.UTC)
	require.Equal(t,
		fmt.Sprintf("🧹 Cleanup runs every 1d 30m, next run <t:%d:f>.", next.Unix()),
		formatRuleStatus(&models.CleanupRule{
			ChannelID: "c1", Enabled: true,
			IntervalDays: 1, IntervalMinutes: 30, NextRun: next,
		}))

	last := next.Add(-24*time.Hour - 30*time.Minute)
	require.Equal(t,
		fmt.Sprintf("🧹 Cleanup runs every 1d 30m, next run <t:%d:f>. Last run <t:%d:f>.", next.Unix(), last.Unix()),
		formatRuleStatus(&models.CleanupRule{
			ChannelID: "c1", Enabled: true,
			IntervalDays: 1, IntervalMinutes: 30, NextRun: next, LastRun: &last,
		}))
}

func TestSplitIDs(t *testing.T) {
	require.Equal(t, []string{"1", "2"}, splitIDs("<@&1>,2"))
	require.Equal(t, []string{"1"}, splitIDs("1,"))
	require.Nil(t, splitIDs(""))
}
