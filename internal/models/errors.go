package models

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Failure taxonomy shared by the three subsystems. Callers match with
// errors.Is and decide per call site whether the failure is swallowed,
// self-healed, or surfaced as a failed acknowledgement.
var (
	// ErrPermissionDenied: the bot lacks rights for an overwrite write,
	// message deletion, or send. Non-fatal; reported best effort.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrResourceGone: the channel, role, or guild no longer exists.
	// Schedulers disable the affected rule instead of retrying.
	ErrResourceGone = errors.New("resource gone")
	// ErrTransientIO: network or platform error worth retrying next cycle.
	ErrTransientIO = errors.New("transient error")
	// ErrConfigInvalid: rejected synchronously at the command boundary,
	// never persisted or scheduled.
	ErrConfigInvalid = errors.New("invalid configuration")
)

// ClassifyRESTError maps a discordgo REST failure onto the taxonomy so
// callers can branch with errors.Is without importing discordgo.
func ClassifyRESTError(err error) error {
	if err == nil {
		return nil
	}
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) {
		return ErrTransientIO
	}
	if rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownChannel,
			discordgo.ErrCodeUnknownGuild,
			discordgo.ErrCodeUnknownRole,
			discordgo.ErrCodeUnknownMember:
			return ErrResourceGone
		case discordgo.ErrCodeMissingPermissions,
			discordgo.ErrCodeMissingAccess:
			return ErrPermissionDenied
		}
	}
	if rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusForbidden:
			return ErrPermissionDenied
		case http.StatusNotFound:
			return ErrResourceGone
		}
	}
	return ErrTransientIO
}
