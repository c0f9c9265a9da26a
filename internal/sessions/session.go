// Package sessions implements the session state machine: deciding whether an
// incoming event continues an existing session or starts a new one, and
// maintaining the per-session aggregate row that all bounce and exit-page
// reporting reads from.
package sessions

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Session is the aggregate row for one visit. The client-generated session id
// stays stable until the idle timeout; a reuse of the same id after the
// timeout starts a new generation rather than reopening the old row.
//
// Closure is implicit: a session is "open" while events keep arriving and
// considered closed once the idle timeout has passed since the last touch.
// No background job finalizes rows; readers derive closure from ended_at.
type Session struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	SiteID      uint   `gorm:"uniqueIndex:idx_session_unique;not null"`
	SessionID   string `gorm:"uniqueIndex:idx_session_unique;size:64;not null"`
	Generation  int    `gorm:"uniqueIndex:idx_session_unique;not null;default:1"`
	VisitorHash string `gorm:"index;size:64;not null"`

	StartedAt        time.Time  `gorm:"index;not null"`
	EndedAt          *time.Time // nil while the session has seen a single event
	DurationMs       int64      `gorm:"not null;default:0"`
	EntryPath        string     `gorm:"not null"`
	ExitPath         string     `gorm:"not null"`
	PageviewCount    int        `gorm:"not null;default:0"`
	InteractionCount int        `gorm:"not null;default:0"`
	EngagedTimeMs    int64      `gorm:"not null;default:0"`
	IsBounce         bool       `gorm:"not null;default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TouchInput carries the session-relevant facts of one incoming event.
type TouchInput struct {
	SiteID        uint
	SessionID     string
	VisitorHash   string
	Path          string
	IsPageview    bool
	IsInteraction bool // any non-pageview event type counts as an engagement signal
	EngagedTimeMs int64
	Timestamp     time.Time

	IdleTimeout            time.Duration
	EngagedTimeThresholdMs int64
}

// Outcome reports the session-relative flags for the event being inserted.
// IsBounce is the session's bounce state as of this event; it is a
// point-in-time snapshot and must not be summed for reporting - the session
// row is the source of truth.
type Outcome struct {
	IsEntry      bool
	IsBounce     bool
	IsNewSession bool
	Generation   int
}

// Touch runs the state machine for one event and updates the owning session
// row. It must be called inside a write transaction.
func Touch(tx *gorm.DB, input *TouchInput) (*Outcome, error) {
	if input.SessionID == "" {
		return nil, errors.New("session id is required")
	}

	var current Session
	err := tx.Where("site_id = ? AND session_id = ?", input.SiteID, input.SessionID).
		Order("generation DESC").
		Limit(1).
		First(&current).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return createSession(tx, input, 1)
	case err != nil:
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	// A session id seen again after the idle timeout starts a fresh session.
	if input.Timestamp.Sub(lastActivity(&current)) > input.IdleTimeout {
		return createSession(tx, input, current.Generation+1)
	}

	return continueSession(tx, input, &current)
}

// createSession inserts the entry row. A session whose first event already
// carries an engagement signal starts un-bounced; otherwise it is a bounce
// until proven otherwise. The upsert keeps concurrent first-events for the
// same new session id idempotent; the conflict branch mirrors continueSession
// so the losing writer still lands its increments.
func createSession(tx *gorm.DB, input *TouchInput, generation int) (*Outcome, error) {
	pvInc := 0
	if input.IsPageview {
		pvInc = 1
	}
	intInc := 0
	if input.IsInteraction {
		intInc = 1
	}
	threshold := input.EngagedTimeThresholdMs
	bounce := intInc == 0 && !(threshold > 0 && input.EngagedTimeMs >= threshold)

	now := time.Now().UTC()
	query := `
		INSERT INTO sessions (
			site_id, session_id, generation, visitor_hash,
			started_at, duration_ms, entry_path, exit_path,
			pageview_count, interaction_count, engaged_time_ms, is_bounce,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (site_id, session_id, generation) DO UPDATE SET
			pageview_count = sessions.pageview_count + ?,
			interaction_count = sessions.interaction_count + ?,
			engaged_time_ms = sessions.engaged_time_ms + ?,
			exit_path = ?,
			ended_at = ?,
			is_bounce = CASE
				WHEN sessions.pageview_count + ? > 1 THEN 0
				WHEN sessions.interaction_count + ? > 0 THEN 0
				WHEN ? > 0 AND sessions.engaged_time_ms + ? >= ? THEN 0
				ELSE sessions.is_bounce
			END,
			updated_at = ?
	`
	err := tx.Exec(query,
		input.SiteID, input.SessionID, generation, input.VisitorHash,
		input.Timestamp, input.Path, input.Path,
		pvInc, intInc, input.EngagedTimeMs, bounce, now, now,
		pvInc, intInc, input.EngagedTimeMs, input.Path, input.Timestamp,
		pvInc, intInc, threshold, input.EngagedTimeMs, threshold,
		now,
	).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Outcome{
		IsEntry:      true,
		IsBounce:     bounce,
		IsNewSession: true,
		Generation:   generation,
	}, nil
}

// continueSession applies a follow-up event to an open session. Counter
// updates are server-side increments: concurrent handlers for the same
// session id (rapid navigation) must not lose pageviews to a
// read-modify-write race. Bounce is re-evaluated against the session's
// accumulated state, not just the current event: an interaction recorded by
// an earlier event keeps the session un-bounced, and engaged time crosses the
// threshold as a running total.
func continueSession(tx *gorm.DB, input *TouchInput, current *Session) (*Outcome, error) {
	pvInc := 0
	if input.IsPageview {
		pvInc = 1
	}
	intInc := 0
	if input.IsInteraction {
		intInc = 1
	}
	threshold := input.EngagedTimeThresholdMs

	now := time.Now().UTC()
	query := `
		UPDATE sessions SET
			pageview_count = pageview_count + ?,
			interaction_count = interaction_count + ?,
			engaged_time_ms = engaged_time_ms + ?,
			exit_path = ?,
			ended_at = ?,
			duration_ms = CAST((JULIANDAY(?) - JULIANDAY(started_at)) * 86400000 AS INTEGER),
			is_bounce = CASE
				WHEN pageview_count + ? > 1 THEN 0
				WHEN interaction_count + ? > 0 THEN 0
				WHEN ? > 0 AND engaged_time_ms + ? >= ? THEN 0
				ELSE is_bounce
			END,
			updated_at = ?
		WHERE id = ?
	`
	err := tx.Exec(query,
		pvInc, intInc, input.EngagedTimeMs,
		input.Path, input.Timestamp, input.Timestamp,
		pvInc, intInc, threshold, input.EngagedTimeMs, threshold,
		now, current.ID,
	).Error
	if err != nil {
		return nil, fmt.Errorf("failed to update session: %w", err)
	}

	stillBounce := current.IsBounce
	switch {
	case current.PageviewCount+pvInc > 1:
		stillBounce = false
	case current.InteractionCount+intInc > 0:
		stillBounce = false
	case threshold > 0 && current.EngagedTimeMs+input.EngagedTimeMs >= threshold:
		stillBounce = false
	}

	return &Outcome{
		IsEntry:      false,
		IsBounce:     stillBounce,
		IsNewSession: false,
		Generation:   current.Generation,
	}, nil
}

// RecordEngagement folds late engagement (a pageleave merge) into the session
// aggregate and re-evaluates the bounce flag with the enriched totals.
func RecordEngagement(tx *gorm.DB, siteID uint, sessionID string, engagedTimeMs, thresholdMs int64) error {
	now := time.Now().UTC()
	query := `
		UPDATE sessions SET
			engaged_time_ms = engaged_time_ms + ?,
			is_bounce = CASE
				WHEN pageview_count > 1 THEN 0
				WHEN interaction_count > 0 THEN 0
				WHEN engaged_time_ms + ? >= ? THEN 0
				ELSE is_bounce
			END,
			updated_at = ?
		WHERE id = (
			SELECT id FROM sessions
			WHERE site_id = ? AND session_id = ?
			ORDER BY generation DESC LIMIT 1
		)
	`
	err := tx.Exec(query, engagedTimeMs, engagedTimeMs, thresholdMs, now, siteID, sessionID).Error
	if err != nil {
		return fmt.Errorf("failed to record session engagement: %w", err)
	}
	return nil
}

// GetLatest fetches the most recent generation of a session id.
func GetLatest(db *gorm.DB, siteID uint, sessionID string) (*Session, error) {
	var session Session
	err := db.Where("site_id = ? AND session_id = ?", siteID, sessionID).
		Order("generation DESC").
		Limit(1).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func lastActivity(s *Session) time.Time {
	if s.EndedAt != nil {
		return *s.EndedAt
	}
	return s.StartedAt
}
