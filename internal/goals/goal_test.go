package goals_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitepulse/internal/goals"
	"sitepulse/internal/testsupport"
)

func conversionCount(t *testing.T, db *gorm.DB, goalID uint) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&goals.GoalConversion{}).Where("goal_id = ?", goalID).Count(&count).Error)
	return count
}

func pageviewFacts(siteID uint, sessionID, path string) *goals.EventFacts {
	return &goals.EventFacts{
		SiteID:      siteID,
		SessionID:   sessionID,
		VisitorHash: "hash-1",
		EventType:   "pageview",
		Pathname:    path,
		Timestamp:   time.Now().UTC(),
	}
}

func TestEvaluateMatchTypes(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	equals := testsupport.CreateTestGoal(t, db, 1, goals.GoalTypePathEquals, "/thanks")
	contains := testsupport.CreateTestGoal(t, db, 1, goals.GoalTypePathContains, "/checkout")
	named := testsupport.CreateTestGoal(t, db, 1, goals.GoalTypeEventName, "signup")
	engaged := testsupport.CreateTestGoal(t, db, 1, goals.GoalTypeMinEngagedTime, "30000")

	t.Run("path_equals requires exact pageview path", func(t *testing.T) {
		require.NoError(t, goals.Evaluate(db, logger, pageviewFacts(1, "s1", "/thanks/extra")))
		assert.Equal(t, int64(0), conversionCount(t, db, equals.ID))

		require.NoError(t, goals.Evaluate(db, logger, pageviewFacts(1, "s1", "/thanks")))
		assert.Equal(t, int64(1), conversionCount(t, db, equals.ID))
	})

	t.Run("path_contains matches substring", func(t *testing.T) {
		require.NoError(t, goals.Evaluate(db, logger, pageviewFacts(1, "s2", "/shop/checkout/step-2")))
		assert.Equal(t, int64(1), conversionCount(t, db, contains.ID))
	})

	t.Run("path goals ignore non-pageview events", func(t *testing.T) {
		facts := pageviewFacts(1, "s3", "/thanks")
		facts.EventType = "custom"
		require.NoError(t, goals.Evaluate(db, logger, facts))
		assert.Equal(t, int64(1), conversionCount(t, db, equals.ID), "still only the s1 conversion")
	})

	t.Run("event_name matches custom event", func(t *testing.T) {
		facts := &goals.EventFacts{
			SiteID:    1,
			SessionID: "s4",
			EventType: "custom",
			EventName: "signup",
			Timestamp: time.Now().UTC(),
		}
		require.NoError(t, goals.Evaluate(db, logger, facts))
		assert.Equal(t, int64(1), conversionCount(t, db, named.ID))
	})

	t.Run("min_engaged_time compares against threshold", func(t *testing.T) {
		facts := pageviewFacts(1, "s5", "/any")
		facts.EngagedTimeMs = 29999
		require.NoError(t, goals.Evaluate(db, logger, facts))
		assert.Equal(t, int64(0), conversionCount(t, db, engaged.ID))

		facts.EngagedTimeMs = 30000
		require.NoError(t, goals.Evaluate(db, logger, facts))
		assert.Equal(t, int64(1), conversionCount(t, db, engaged.ID))
	})
}

func TestEvaluateDeduplicatesPerSession(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	goal := testsupport.CreateTestGoal(t, db, 1, goals.GoalTypePathEquals, "/pricing")

	for i := 0; i < 3; i++ {
		require.NoError(t, goals.Evaluate(db, logger, pageviewFacts(1, "repeat-session", "/pricing")))
	}
	assert.Equal(t, int64(1), conversionCount(t, db, goal.ID))

	// A different session converts independently.
	require.NoError(t, goals.Evaluate(db, logger, pageviewFacts(1, "other-session", "/pricing")))
	assert.Equal(t, int64(2), conversionCount(t, db, goal.ID))
}

func TestEvaluateRevenueAttribution(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	goal := testsupport.CreateTestGoal(t, db, 1, goals.GoalTypePathEquals, "/order-complete")
	goal.RevenuePerConversion = 25.0
	require.NoError(t, db.Save(&goal).Error)

	t.Run("event revenue wins when present", func(t *testing.T) {
		facts := pageviewFacts(1, "rev-1", "/order-complete")
		facts.Revenue = 99.9
		require.NoError(t, goals.Evaluate(db, logger, facts))

		var conv goals.GoalConversion
		require.NoError(t, db.Where("goal_id = ? AND session_id = ?", goal.ID, "rev-1").First(&conv).Error)
		assert.InDelta(t, 99.9, conv.Revenue, 0.001)
	})

	t.Run("falls back to configured revenue per conversion", func(t *testing.T) {
		require.NoError(t, goals.Evaluate(db, logger, pageviewFacts(1, "rev-2", "/order-complete")))

		var conv goals.GoalConversion
		require.NoError(t, db.Where("goal_id = ? AND session_id = ?", goal.ID, "rev-2").First(&conv).Error)
		assert.InDelta(t, 25.0, conv.Revenue, 0.001)
	})
}

func TestEvaluateSkipsInactiveGoals(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	goal := testsupport.CreateTestGoal(t, db, 1, goals.GoalTypePathEquals, "/hidden")
	require.NoError(t, db.Model(&goals.Goal{}).Where("id = ?", goal.ID).Update("active", false).Error)

	require.NoError(t, goals.Evaluate(db, logger, pageviewFacts(1, "s1", "/hidden")))
	assert.Equal(t, int64(0), conversionCount(t, db, goal.ID))
}

func TestCreateGoalValidation(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	require.Error(t, goals.CreateGoal(db, &goals.Goal{SiteID: 1, Name: "bad", GoalType: "nope", Target: "/x"}))
	require.Error(t, goals.CreateGoal(db, &goals.Goal{SiteID: 1, Name: "empty", GoalType: goals.GoalTypePathEquals}))
	require.Error(t, goals.CreateGoal(db, &goals.Goal{SiteID: 1, Name: "nan", GoalType: goals.GoalTypeMinEngagedTime, Target: "soon"}))
	require.NoError(t, goals.CreateGoal(db, &goals.Goal{SiteID: 1, Name: "ok", GoalType: goals.GoalTypeMinEngagedTime, Target: "15000"}))
}

func TestDeleteGoalKeepsConversions(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	logger := testsupport.GetLogger()

	goal := testsupport.CreateTestGoal(t, db, 1, goals.GoalTypePathEquals, "/bye")
	require.NoError(t, goals.Evaluate(db, logger, pageviewFacts(1, "s1", "/bye")))

	require.NoError(t, goals.DeleteGoal(db, 1, goal.ID))
	assert.Equal(t, int64(1), conversionCount(t, db, goal.ID))

	var notFound *goals.GoalNotFoundError
	err := goals.DeleteGoal(db, 1, goal.ID)
	require.ErrorAs(t, err, &notFound)
}
