package lock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"channelwarden/internal/models"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		in      string
		hour    int
		minute  int
		wantErr bool
	}{
		{in: "23:50", hour: 23, minute: 50},
		{in: "00:00", hour: 0, minute: 0},
		{in: "9:05", hour: 9, minute: 5},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "12", wantErr: true},
		{in: "12:30:00", wantErr: true},
		{in: "-1:30", wantErr: true},
	}
	for _, tt := range tests {
		hour, minute, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			require.True(t, errors.Is(err, models.ErrConfigInvalid), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.hour, hour, tt.in)
		require.Equal(t, tt.minute, minute, tt.in)
	}
}

func TestNextOccurrenceSameDay(t *testing.T) {
	now := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	target := NextOccurrence(now, 23, 50, time.UTC)
	require.Equal(t, 50*time.Minute, target.Sub(now))
}

func TestNextOccurrenceRollsToTomorrow(t *testing.T) {
	now := time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)
	target := NextOccurrence(now, 22, 0, time.UTC)
	require.Equal(t, time.Date(2024, 6, 2, 22, 0, 0, 0, time.UTC), target)
	require.True(t, target.After(now))
	require.Less(t, target.Sub(now), 24*time.Hour)
}

func TestNextOccurrenceExactNowRolls(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)
	target := NextOccurrence(now, 12, 30, time.UTC)
	require.Equal(t, now.Add(24*time.Hour), target)
}

func TestNextOccurrenceHonorsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	// 01:00 UTC is 08:00 in Jakarta, so 09:00 Jakarta is an hour away.
	now := time.Date(2024, 6, 1, 1, 0, 0, 0, time.UTC)
	target := NextOccurrence(now, 9, 0, loc)
	require.Equal(t, time.Hour, target.Sub(now))
}
