// Package goals matches incoming events against site-defined conversion
// goals and records at most one conversion per goal per session.
package goals

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"gorm.io/gorm"
)

// GoalType selects the matching rule for a goal.
type GoalType string

const (
	// GoalTypePathEquals converts when a pageview's path matches exactly.
	GoalTypePathEquals GoalType = "path_equals"
	// GoalTypePathContains converts when a pageview's path contains the
	// target as a substring.
	GoalTypePathContains GoalType = "path_contains"
	// GoalTypeEventName converts when a custom event with the target name
	// fires.
	GoalTypeEventName GoalType = "event_name"
	// GoalTypeMinEngagedTime converts once the session's engaged time
	// reaches the target, in milliseconds.
	GoalTypeMinEngagedTime GoalType = "min_engaged_time"
)

var validGoalTypes = map[GoalType]bool{
	GoalTypePathEquals:     true,
	GoalTypePathContains:   true,
	GoalTypeEventName:      true,
	GoalTypeMinEngagedTime: true,
}

// IsValidGoalType reports whether t is a known goal type.
func IsValidGoalType(t GoalType) bool {
	return validGoalTypes[t]
}

// Goal is a site-scoped conversion definition.
type Goal struct {
	ID       uint     `gorm:"primaryKey;autoIncrement"`
	SiteID   uint     `gorm:"index;not null"`
	Name     string   `gorm:"not null"`
	GoalType GoalType `gorm:"not null"`

	// Target is the match value: a path for the path types, an event name
	// for event_name, and a millisecond threshold for min_engaged_time.
	Target string `gorm:"not null"`

	// RevenuePerConversion is an optional fixed value attributed to each
	// conversion when the triggering event carries no revenue of its own.
	RevenuePerConversion float64 `gorm:"not null;default:0"`

	Active bool `gorm:"not null;default:true"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GoalConversion records that a session converted a goal. The unique index
// makes conversion counting session-deduplicated: re-triggering the same goal
// within one session is a no-op.
type GoalConversion struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	GoalID      uint   `gorm:"uniqueIndex:idx_goal_session;not null"`
	SiteID      uint   `gorm:"index;not null"`
	SessionID   string `gorm:"uniqueIndex:idx_goal_session;size:64;not null"`
	VisitorHash string `gorm:"index;size:64"`
	EventID     uint
	Revenue     float64   `gorm:"not null;default:0"`
	ConvertedAt time.Time `gorm:"index;not null"`
	CreatedAt   time.Time
}

// EventFacts is the goal-relevant projection of one ingested event.
// EngagedTimeMs carries the session's running engaged total when the caller
// has it (a pageleave merge), otherwise the event's own value.
type EventFacts struct {
	SiteID        uint
	SessionID     string
	VisitorHash   string
	EventID       uint
	EventType     string
	EventName     string
	Pathname      string
	EngagedTimeMs int64
	Revenue       float64
	Timestamp     time.Time
}

// Evaluate matches the event against the site's active goals and inserts a
// conversion row per matched goal. Inserts are conflict-ignored so repeated
// triggers within a session stay single-counted.
func Evaluate(tx *gorm.DB, logger *slog.Logger, facts *EventFacts) error {
	var siteGoals []Goal
	err := tx.Where("site_id = ? AND active = ?", facts.SiteID, true).Find(&siteGoals).Error
	if err != nil {
		return fmt.Errorf("failed to load goals: %w", err)
	}

	for i := range siteGoals {
		goal := &siteGoals[i]
		if !matches(goal, facts) {
			continue
		}

		revenue := facts.Revenue
		if revenue == 0 {
			revenue = goal.RevenuePerConversion
		}

		query := `
			INSERT INTO goal_conversions (
				goal_id, site_id, session_id, visitor_hash, event_id,
				revenue, converted_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (goal_id, session_id) DO NOTHING
		`
		err := tx.Exec(query,
			goal.ID, facts.SiteID, facts.SessionID, facts.VisitorHash, facts.EventID,
			revenue, facts.Timestamp, time.Now().UTC(),
		).Error
		if err != nil {
			return fmt.Errorf("failed to record conversion for goal %d: %w", goal.ID, err)
		}

		logger.Debug("Goal conversion evaluated",
			slog.Uint64("goal_id", uint64(goal.ID)),
			slog.String("session_id", facts.SessionID))
	}
	return nil
}

func matches(goal *Goal, facts *EventFacts) bool {
	switch goal.GoalType {
	case GoalTypePathEquals:
		return facts.EventType == "pageview" && facts.Pathname == goal.Target
	case GoalTypePathContains:
		return facts.EventType == "pageview" && strings.Contains(facts.Pathname, goal.Target)
	case GoalTypeEventName:
		return facts.EventName != "" && facts.EventName == goal.Target
	case GoalTypeMinEngagedTime:
		threshold, err := strconv.ParseInt(goal.Target, 10, 64)
		if err != nil || threshold <= 0 {
			return false
		}
		return facts.EngagedTimeMs >= threshold
	}
	return false
}

// GoalNotFoundError indicates that a goal does not exist for the site.
type GoalNotFoundError struct {
	GoalID uint
	SiteID uint
}

func (e *GoalNotFoundError) Error() string {
	return fmt.Sprintf("goal %d not found for site %d", e.GoalID, e.SiteID)
}

// CreateGoal validates and inserts a goal definition.
func CreateGoal(db *gorm.DB, goal *Goal) error {
	if !IsValidGoalType(goal.GoalType) {
		return fmt.Errorf("unknown goal type %q", goal.GoalType)
	}
	if goal.Target == "" {
		return fmt.Errorf("goal target is required")
	}
	if goal.GoalType == GoalTypeMinEngagedTime {
		if _, err := strconv.ParseInt(goal.Target, 10, 64); err != nil {
			return fmt.Errorf("min_engaged_time target must be milliseconds: %w", err)
		}
	}
	return db.Create(goal).Error
}

// GetGoalsBySite returns all goals for a site, active first.
func GetGoalsBySite(db *gorm.DB, siteID uint) ([]Goal, error) {
	var result []Goal
	err := db.Where("site_id = ?", siteID).
		Order("active DESC").Order("id ASC").
		Find(&result).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	return result, nil
}

// DeleteGoal removes a goal and keeps its historical conversions.
func DeleteGoal(db *gorm.DB, siteID, goalID uint) error {
	result := db.Where("id = ? AND site_id = ?", goalID, siteID).Delete(&Goal{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete goal: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &GoalNotFoundError{GoalID: goalID, SiteID: siteID}
	}
	return nil
}
