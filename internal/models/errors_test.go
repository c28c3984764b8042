package models

import (
	"errors"
	"net/http"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/require"
)

func restErr(code int, status int) error {
	return &discordgo.RESTError{
		Message:  &discordgo.APIErrorMessage{Code: code},
		Response: &http.Response{StatusCode: status},
	}
}

func TestClassifyRESTError(t *testing.T) {
	require.NoError(t, ClassifyRESTError(nil))

	require.ErrorIs(t, ClassifyRESTError(restErr(discordgo.ErrCodeUnknownChannel, http.StatusNotFound)), ErrResourceGone)
	require.ErrorIs(t, ClassifyRESTError(restErr(discordgo.ErrCodeUnknownGuild, http.StatusNotFound)), ErrResourceGone)
	require.ErrorIs(t, ClassifyRESTError(restErr(discordgo.ErrCodeMissingPermissions, http.StatusForbidden)), ErrPermissionDenied)
	require.ErrorIs(t, ClassifyRESTError(restErr(discordgo.ErrCodeMissingAccess, http.StatusForbidden)), ErrPermissionDenied)

	// Status code fallback when the body carries no known code.
	require.ErrorIs(t, ClassifyRESTError(restErr(0, http.StatusForbidden)), ErrPermissionDenied)
	require.ErrorIs(t, ClassifyRESTError(restErr(0, http.StatusNotFound)), ErrResourceGone)
	require.ErrorIs(t, ClassifyRESTError(restErr(0, http.StatusBadGateway)), ErrTransientIO)

	require.ErrorIs(t, ClassifyRESTError(errors.New("dial tcp: timeout")), ErrTransientIO)
}

func TestCleanupRuleInterval(t *testing.T) {
	rule := CleanupRule{IntervalDays: 1, IntervalMinutes: 30}
	require.Equal(t, 24*60*60+30*60, int(rule.Interval().Seconds()))
	require.Zero(t, CleanupRule{}.Interval())
}
