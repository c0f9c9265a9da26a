package sessions_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/sessions"
	"sitepulse/internal/testsupport"
)

const (
	testIdleTimeout = 30 * time.Minute
	testThresholdMs = 10000
)

func pageviewTouch(siteID uint, sessionID, path string, ts time.Time) *sessions.TouchInput {
	return &sessions.TouchInput{
		SiteID:                 siteID,
		SessionID:              sessionID,
		VisitorHash:            "hash-1",
		Path:                   path,
		IsPageview:             true,
		Timestamp:              ts,
		IdleTimeout:            testIdleTimeout,
		EngagedTimeThresholdMs: testThresholdMs,
	}
}

func TestTouchStartsBouncedSession(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	outcome, err := sessions.Touch(db, pageviewTouch(1, "sess-new", "/landing", now))
	require.NoError(t, err)

	assert.True(t, outcome.IsEntry)
	assert.True(t, outcome.IsBounce)
	assert.True(t, outcome.IsNewSession)
	assert.Equal(t, 1, outcome.Generation)

	session, err := sessions.GetLatest(db, 1, "sess-new")
	require.NoError(t, err)
	assert.Equal(t, 1, session.PageviewCount)
	assert.True(t, session.IsBounce)
	assert.Equal(t, "/landing", session.EntryPath)
	assert.Equal(t, "/landing", session.ExitPath)
	assert.Nil(t, session.EndedAt)
}

func TestTouchSecondPageviewClearsBounce(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	_, err := sessions.Touch(db, pageviewTouch(1, "sess-two", "/a", now))
	require.NoError(t, err)

	outcome, err := sessions.Touch(db, pageviewTouch(1, "sess-two", "/b", now.Add(time.Minute)))
	require.NoError(t, err)

	assert.False(t, outcome.IsEntry)
	assert.False(t, outcome.IsBounce)
	assert.False(t, outcome.IsNewSession)
	assert.Equal(t, 1, outcome.Generation)

	session, err := sessions.GetLatest(db, 1, "sess-two")
	require.NoError(t, err)
	assert.Equal(t, 2, session.PageviewCount)
	assert.False(t, session.IsBounce)
	assert.Equal(t, "/a", session.EntryPath)
	assert.Equal(t, "/b", session.ExitPath)
	require.NotNil(t, session.EndedAt)
	assert.True(t, session.DurationMs >= 59000, "duration should span the two events, got %d", session.DurationMs)
}

func TestTouchInteractionClearsBounce(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	_, err := sessions.Touch(db, pageviewTouch(1, "sess-click", "/a", now))
	require.NoError(t, err)

	input := pageviewTouch(1, "sess-click", "/a", now.Add(10*time.Second))
	input.IsPageview = false
	input.IsInteraction = true
	outcome, err := sessions.Touch(db, input)
	require.NoError(t, err)
	assert.False(t, outcome.IsBounce)

	session, err := sessions.GetLatest(db, 1, "sess-click")
	require.NoError(t, err)
	assert.Equal(t, 1, session.PageviewCount, "interaction events do not count as pageviews")
	assert.False(t, session.IsBounce)
}

func TestTouchInteractionThenPageviewStaysUnbounced(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	// First event is an interaction: the session starts un-bounced and the
	// signal must survive into later re-evaluations.
	first := pageviewTouch(1, "sess-int-first", "/form", now)
	first.IsPageview = false
	first.IsInteraction = true
	outcome, err := sessions.Touch(db, first)
	require.NoError(t, err)
	assert.False(t, outcome.IsBounce, "an engagement signal on the first event is not a bounce")

	outcome, err = sessions.Touch(db, pageviewTouch(1, "sess-int-first", "/thanks", now.Add(5*time.Second)))
	require.NoError(t, err)
	assert.False(t, outcome.IsBounce, "the earlier interaction must keep the session un-bounced")

	session, err := sessions.GetLatest(db, 1, "sess-int-first")
	require.NoError(t, err)
	assert.False(t, session.IsBounce)
	assert.Equal(t, 1, session.PageviewCount)
	assert.Equal(t, 1, session.InteractionCount)
}

func TestTouchAccumulatedEngagedTimeClearsBounce(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	_, err := sessions.Touch(db, pageviewTouch(1, "sess-accum", "/a", now))
	require.NoError(t, err)

	// Two engagements below the threshold individually, above it combined.
	first := pageviewTouch(1, "sess-accum", "/a", now.Add(6*time.Second))
	first.IsPageview = false
	first.EngagedTimeMs = 6000
	outcome, err := sessions.Touch(db, first)
	require.NoError(t, err)
	assert.True(t, outcome.IsBounce)

	second := pageviewTouch(1, "sess-accum", "/a", now.Add(12*time.Second))
	second.IsPageview = false
	second.EngagedTimeMs = 6000
	outcome, err = sessions.Touch(db, second)
	require.NoError(t, err)
	assert.False(t, outcome.IsBounce, "the running engaged-time total crosses the threshold")

	session, err := sessions.GetLatest(db, 1, "sess-accum")
	require.NoError(t, err)
	assert.False(t, session.IsBounce)
	assert.Equal(t, int64(12000), session.EngagedTimeMs)
}

func TestTouchEngagedTimeThreshold(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	t.Run("below threshold stays bounced", func(t *testing.T) {
		_, err := sessions.Touch(db, pageviewTouch(1, "sess-short", "/a", now))
		require.NoError(t, err)

		input := pageviewTouch(1, "sess-short", "/a", now.Add(5*time.Second))
		input.IsPageview = false
		input.EngagedTimeMs = 5000
		outcome, err := sessions.Touch(db, input)
		require.NoError(t, err)
		assert.True(t, outcome.IsBounce)

		session, err := sessions.GetLatest(db, 1, "sess-short")
		require.NoError(t, err)
		assert.True(t, session.IsBounce)
		assert.Equal(t, int64(5000), session.EngagedTimeMs)
	})

	t.Run("at threshold clears bounce", func(t *testing.T) {
		_, err := sessions.Touch(db, pageviewTouch(1, "sess-long", "/a", now))
		require.NoError(t, err)

		input := pageviewTouch(1, "sess-long", "/a", now.Add(15*time.Second))
		input.IsPageview = false
		input.EngagedTimeMs = testThresholdMs
		outcome, err := sessions.Touch(db, input)
		require.NoError(t, err)
		assert.False(t, outcome.IsBounce)

		session, err := sessions.GetLatest(db, 1, "sess-long")
		require.NoError(t, err)
		assert.False(t, session.IsBounce)
	})
}

func TestTouchIdleTimeoutStartsNewGeneration(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	start := time.Now().UTC().Add(-2 * time.Hour)

	_, err := sessions.Touch(db, pageviewTouch(1, "sess-gen", "/first", start))
	require.NoError(t, err)
	_, err = sessions.Touch(db, pageviewTouch(1, "sess-gen", "/second", start.Add(time.Minute)))
	require.NoError(t, err)

	// Same client session id, but past the idle timeout.
	outcome, err := sessions.Touch(db, pageviewTouch(1, "sess-gen", "/return", start.Add(90*time.Minute)))
	require.NoError(t, err)

	assert.True(t, outcome.IsEntry)
	assert.True(t, outcome.IsNewSession)
	assert.True(t, outcome.IsBounce)
	assert.Equal(t, 2, outcome.Generation)

	latest, err := sessions.GetLatest(db, 1, "sess-gen")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Generation)
	assert.Equal(t, 1, latest.PageviewCount)
	assert.Equal(t, "/return", latest.EntryPath)

	// The old generation is untouched.
	var old sessions.Session
	require.NoError(t, db.Where("site_id = ? AND session_id = ? AND generation = 1", 1, "sess-gen").First(&old).Error)
	assert.Equal(t, 2, old.PageviewCount)
	assert.Equal(t, "/second", old.ExitPath)
}

func TestRecordEngagement(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	_, err := sessions.Touch(db, pageviewTouch(1, "sess-late", "/only", now))
	require.NoError(t, err)

	t.Run("below threshold keeps bounce", func(t *testing.T) {
		require.NoError(t, sessions.RecordEngagement(db, 1, "sess-late", 3000, testThresholdMs))

		session, err := sessions.GetLatest(db, 1, "sess-late")
		require.NoError(t, err)
		assert.True(t, session.IsBounce)
		assert.Equal(t, int64(3000), session.EngagedTimeMs)
	})

	t.Run("accumulated total crossing threshold clears bounce", func(t *testing.T) {
		require.NoError(t, sessions.RecordEngagement(db, 1, "sess-late", 8000, testThresholdMs))

		session, err := sessions.GetLatest(db, 1, "sess-late")
		require.NoError(t, err)
		assert.False(t, session.IsBounce)
		assert.Equal(t, int64(11000), session.EngagedTimeMs)
	})
}

func TestTouchRequiresSessionID(t *testing.T) {
	db := testsupport.SetupTestDB(t)

	input := pageviewTouch(1, "", "/a", time.Now().UTC())
	_, err := sessions.Touch(db, input)
	require.Error(t, err)
}
