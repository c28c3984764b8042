package tracker

import "time"

// Artifact is the renderable session report. The platform glue turns it
// into an embed; the tracker only decides its content.
type Artifact struct {
	Title       string
	Footer      string
	ChannelID   string
	InitiatorID string
	StartedAt   time.Time
	Entries     []Entry
	Final       bool
}

// artifact snapshots the session into a report. Live reports include the
// running spans of currently-connected members; final reports carry a
// distinct title and footer.
func (t *Tracker) artifact(sess *Session, final bool) Artifact {
	a := Artifact{
		Title:       "🎙️ Voice session in progress",
		ChannelID:   sess.ChannelID,
		InitiatorID: sess.InitiatorID,
		StartedAt:   sess.StartedAt,
		Entries:     sess.totals(t.now()),
		Final:       final,
	}
	if final {
		a.Title = "🏁 Voice session finished"
		a.Footer = "Session ended " + t.now().Format("2006-01-02 15:04:05 MST")
	}
	return a
}
