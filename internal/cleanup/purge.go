package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Messages younger than this can go through bulk deletion; the platform
// rejects bulk requests containing anything older.
const bulkAgeLimit = 14 * 24 * time.Hour

const (
	pageSize      = 100
	bulkBatchSize = 100
)

// Message is the slice of a platform message the purge loop needs.
type Message struct {
	ID        string
	Timestamp time.Time
}

// MessageStore lists and deletes channel history.
type MessageStore interface {
	// ListRecentMessages returns up to limit messages, newest first.
	ListRecentMessages(channelID string, limit int) ([]Message, error)
	// BulkDelete removes a batch of young messages in one call.
	BulkDelete(channelID string, ids []string) error
	// DeleteMessage removes a single message of any age.
	DeleteMessage(channelID, messageID string) error
}

// Purger deletes a channel's entire history, pacing itself against the
// platform's rate limits. Deletion is best-effort completeness: individual
// failures are logged and skipped.
type Purger struct {
	msgs   MessageStore
	bulk   *rate.Limiter
	single *rate.Limiter
	now    func() time.Time
	log    zerolog.Logger
}

// NewPurger creates a Purger with the default pacing (one bulk call per
// 3s, one single deletion per second).
func NewPurger(msgs MessageStore, log zerolog.Logger) *Purger {
	return &Purger{
		msgs:   msgs,
		bulk:   rate.NewLimiter(rate.Every(3*time.Second), 1),
		single: rate.NewLimiter(rate.Every(time.Second), 1),
		now:    time.Now,
		log:    log.With().Str("component", "purge").Logger(),
	}
}

// PurgeAll deletes every message in the channel. It re-lists history until
// a listing comes back empty, since deletions invalidate earlier pages.
func (p *Purger) PurgeAll(ctx context.Context, channelID string) error {
	total := 0
	for {
		page, err := p.msgs.ListRecentMessages(channelID, pageSize)
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		if len(page) == 0 {
			break
		}

		deleted, err := p.purgePage(ctx, channelID, page)
		total += deleted
		if err != nil {
			return err
		}
		if deleted == 0 {
			// Nothing in this pass succeeded; give up rather than spin on
			// the same page forever.
			p.log.Warn().Str("channel", channelID).Msg("purge made no progress, stopping")
			break
		}
	}
	p.log.Info().Str("channel", channelID).Int("deleted", total).Msg("purge finished")
	return nil
}

func (p *Purger) purgePage(ctx context.Context, channelID string, page []Message) (int, error) {
	cutoff := p.now().Add(-bulkAgeLimit)
	var young, old []Message
	for _, m := range page {
		if m.Timestamp.After(cutoff) {
			young = append(young, m)
		} else {
			old = append(old, m)
		}
	}

	deleted := 0
	for start := 0; start < len(young); start += bulkBatchSize {
		end := min(start+bulkBatchSize, len(young))
		batch := young[start:end]
		if err := p.bulk.Wait(ctx); err != nil {
			return deleted, err
		}
		if len(batch) == 1 {
			// Bulk deletion needs at least two messages.
			if p.deleteOne(channelID, batch[0].ID) {
				deleted++
			}
			continue
		}
		ids := make([]string, len(batch))
		for i, m := range batch {
			ids[i] = m.ID
		}
		if err := p.msgs.BulkDelete(channelID, ids); err != nil {
			p.log.Warn().Err(err).Str("channel", channelID).Int("batch", len(ids)).Msg("bulk delete failed")
			continue
		}
		deleted += len(batch)
	}

	for _, m := range old {
		if err := p.single.Wait(ctx); err != nil {
			return deleted, err
		}
		if p.deleteOne(channelID, m.ID) {
			deleted++
		}
	}
	return deleted, nil
}

func (p *Purger) deleteOne(channelID, messageID string) bool {
	if err := p.msgs.DeleteMessage(channelID, messageID); err != nil {
		p.log.Warn().Err(err).Str("channel", channelID).Str("message", messageID).Msg("delete failed")
		return false
	}
	return true
}
