package lock

// Tristate is a channel overwrite value for a single permission bit.
type Tristate int

const (
	TristateInherit Tristate = iota
	TristateAllow
	TristateDeny
)

func (t Tristate) String() string {
	switch t {
	case TristateAllow:
		return "allow"
	case TristateDeny:
		return "deny"
	default:
		return "inherit"
	}
}

// Snapshot captures the restorable overwrite state for one channel/role
// pair. It is taken strictly before the first deny write and consumed by
// the revert write; Act is recorded for completeness but the revert always
// resets it to inherit, only View is restored verbatim.
type Snapshot struct {
	ChannelID string
	RoleID    string
	View      Tristate
	Act       Tristate
}
