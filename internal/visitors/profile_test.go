package visitors_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitepulse/internal/testsupport"
	"sitepulse/internal/visitors"
)

func touchFor(visitorID string, ts time.Time) *visitors.ProfileTouch {
	return &visitors.ProfileTouch{
		SiteID:       1,
		VisitorID:    visitorID,
		Timestamp:    ts,
		IsNewSession: true,
		IsPageview:   true,
		Referrer:     "news.ycombinator.com",
		UTMSource:    "hn",
		UTMMedium:    "social",
		UTMCampaign:  "launch",
		Path:         "/launch",
	}
}

func TestUpsertProfileFirstTouch(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, visitors.UpsertProfile(db, touchFor("vis-first", now)))

	profile, err := visitors.GetProfile(db, 1, "vis-first")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.TotalSessions)
	assert.Equal(t, 1, profile.TotalPageviews)
	assert.Equal(t, 1, profile.TotalEvents)
	assert.Equal(t, "news.ycombinator.com", profile.FirstReferrer)
	assert.Equal(t, "hn", profile.FirstUTMSource)
	assert.Equal(t, "/launch", profile.FirstEntryPath)
	assert.Equal(t, profile.FirstReferrer, profile.LastReferrer)
}

func TestUpsertProfileFirstTouchIsImmutable(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	first := time.Now().UTC().Add(-24 * time.Hour)

	require.NoError(t, visitors.UpsertProfile(db, touchFor("vis-return", first)))

	second := touchFor("vis-return", first.Add(24*time.Hour))
	second.Referrer = "google.com"
	second.UTMSource = "adwords"
	second.UTMMedium = "cpc"
	second.UTMCampaign = "retarget"
	second.Path = "/pricing"
	require.NoError(t, visitors.UpsertProfile(db, second))

	profile, err := visitors.GetProfile(db, 1, "vis-return")
	require.NoError(t, err)

	// First-touch attribution is frozen at the first event.
	assert.Equal(t, "news.ycombinator.com", profile.FirstReferrer)
	assert.Equal(t, "hn", profile.FirstUTMSource)
	assert.Equal(t, "/launch", profile.FirstEntryPath)

	// Last-touch follows the newest event.
	assert.Equal(t, "google.com", profile.LastReferrer)
	assert.Equal(t, "adwords", profile.LastUTMSource)
	assert.Equal(t, "/pricing", profile.LastEntryPath)
}

func TestUpsertProfileCounters(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	now := time.Now().UTC()

	require.NoError(t, visitors.UpsertProfile(db, touchFor("vis-count", now)))

	// Same session: a custom event with revenue and engagement.
	second := touchFor("vis-count", now.Add(time.Minute))
	second.IsNewSession = false
	second.IsPageview = false
	second.Revenue = 49.5
	second.EngagedTimeMs = 8000
	require.NoError(t, visitors.UpsertProfile(db, second))

	// New session a day later.
	third := touchFor("vis-count", now.Add(25*time.Hour))
	require.NoError(t, visitors.UpsertProfile(db, third))

	profile, err := visitors.GetProfile(db, 1, "vis-count")
	require.NoError(t, err)
	assert.Equal(t, 2, profile.TotalSessions, "session counter only increments on new sessions")
	assert.Equal(t, 2, profile.TotalPageviews)
	assert.Equal(t, 3, profile.TotalEvents)
	assert.InDelta(t, 49.5, profile.TotalRevenue, 0.001)
	assert.Equal(t, int64(8000), profile.TotalEngagedTimeMs)
}

func TestUpsertProfileRequiresVisitorID(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	touch := touchFor("", time.Now().UTC())
	require.Error(t, visitors.UpsertProfile(db, touch))
}

func TestBuildVisitorHashStability(t *testing.T) {
	a := visitors.BuildVisitorHash("example.com", "203.0.113.10", "ua", "1920x1080", "en-US", "key")
	b := visitors.BuildVisitorHash("example.com", "203.0.113.10", "ua", "1920x1080", "en-US", "key")
	assert.Equal(t, a, b)

	otherSite := visitors.BuildVisitorHash("other.com", "203.0.113.10", "ua", "1920x1080", "en-US", "key")
	assert.NotEqual(t, a, otherSite, "hash must be site-scoped")

	otherKey := visitors.BuildVisitorHash("example.com", "203.0.113.10", "ua", "1920x1080", "en-US", "key2")
	assert.NotEqual(t, a, otherKey, "hash must be salted with the private key")
}
