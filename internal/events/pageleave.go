package events

import (
	"errors"
	"fmt"

	"log/slog"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"sitepulse/internal/config"
	"sitepulse/internal/goals"
	"sitepulse/internal/pkg/async"
	"sitepulse/internal/sessions"
)

// mergePageleave folds the engagement payload of a pageleave into the
// matching pageview row instead of inserting a new event. The match is the
// most recent pageview for (site, session, path); when none exists (the
// pageview was suppressed or never arrived) the pageleave is dropped
// silently.
func mergePageleave(dbManager cartridge.DBManager, logger *slog.Logger, sink *async.Sink, input *CollectEventInput, siteID uint, parsed *urlData) (CollectStatus, error) {
	cfg := config.GetConfig()
	db := dbManager.GetConnection()

	var target Event
	merged := false

	err := sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		err := tx.Where(
			"site_id = ? AND session_id = ? AND pathname = ? AND event_type = ?",
			siteID, input.SessionID, parsed.pathname, EventTypePageview,
		).Order("timestamp DESC").Order("id DESC").Limit(1).First(&target).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find pageview for pageleave: %w", err)
		}

		updates := map[string]interface{}{
			"engaged_time_ms": gorm.Expr("engaged_time_ms + ?", input.EngagedTimeMs),
		}
		if input.ScrollDepth > target.ScrollDepth {
			updates["scroll_depth"] = input.ScrollDepth
		}
		// Vitals only arrive once per page load; zero means not reported.
		if input.TTFBMs > 0 {
			updates["ttfb_ms"] = input.TTFBMs
		}
		if input.FCPMs > 0 {
			updates["fcp_ms"] = input.FCPMs
		}
		if input.LCPMs > 0 {
			updates["lcp_ms"] = input.LCPMs
		}
		if input.CLS > 0 {
			updates["cls"] = input.CLS
		}
		if input.INPMs > 0 {
			updates["inp_ms"] = input.INPMs
		}
		if input.FIDMs > 0 {
			updates["fid_ms"] = input.FIDMs
		}

		if err := tx.Model(&Event{}).Where("id = ?", target.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to merge pageleave into pageview: %w", err)
		}

		if err := sessions.RecordEngagement(
			tx, siteID, input.SessionID, input.EngagedTimeMs, int64(cfg.EngagedTimeThresholdMs),
		); err != nil {
			return err
		}

		merged = true
		return nil
	})
	if err != nil {
		return CollectSuppressed, err
	}

	if !merged {
		logger.Debug("Dropping pageleave with no matching pageview",
			slog.String("session_id", input.SessionID),
			slog.String("pathname", parsed.pathname))
		return CollectSuppressed, nil
	}

	// The enriched engagement total may now satisfy min_engaged_time goals.
	facts := &goals.EventFacts{
		SiteID:        siteID,
		SessionID:     input.SessionID,
		VisitorHash:   target.VisitorHash,
		EventID:       target.ID,
		EventType:     string(EventTypePageview),
		Pathname:      parsed.pathname,
		EngagedTimeMs: target.EngagedTimeMs + input.EngagedTimeMs,
		Timestamp:     input.Timestamp,
	}
	sink.Go("goal_evaluation", func() error {
		return sqlite.PerformWrite(logger, dbManager.GetConnection(), func(tx *gorm.DB) error {
			return goals.Evaluate(tx, logger, facts)
		})
	})

	return CollectSuppressed, nil
}
