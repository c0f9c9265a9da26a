package testsupport

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/cache"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	v1 "sitepulse/api/v1"
	"sitepulse/internal"
	"sitepulse/internal/campaigns"
	"sitepulse/internal/config"
	"sitepulse/internal/events"
	"sitepulse/internal/goals"
	"sitepulse/internal/pkg/async"
	"sitepulse/internal/sessions"
	"sitepulse/internal/sites"
	"sitepulse/internal/visitors"
)

func init() {
	// Config is a process-wide singleton; make sure the first GetConfig call
	// from any test binary resolves to the test environment.
	if os.Getenv("SITEPULSE_ENV") == "" {
		os.Setenv("SITEPULSE_ENV", "test")
	}
}

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager with sitepulse's interface
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

// Ensure TestDBManager implements cartridge.DBManager
var _ cartridge.DBManager = (*TestDBManager)(nil)

// allModels returns all sitepulse models for migration
func allModels() []any {
	return []any{
		&cache.CacheRecord{},
		&sites.Site{},
		&events.Event{},
		&sessions.Session{},
		&visitors.VisitorProfile{},
		&goals.Goal{},
		&goals.GoalConversion{},
		&campaigns.CredentialSet{},
		&campaigns.Integration{},
		&campaigns.CampaignData{},
	}
}

// SetupTestDB creates a test database with all sitepulse models migrated.
// Uses a named in-memory database with cache=shared so multiple connections
// within a test see the same database; caches by root test name so subtests
// share it too.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")
	db.Exec("PRAGMA journal_mode = WAL")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	cfg := config.GetConfig()
	if cfg.Environment != config.Test {
		t.Fatalf("CRITICAL: Tests must run in test environment! Current: %s. Set SITEPULSE_ENV=test", cfg.Environment)
	}

	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// SetupTestDBManagerWithSite creates a test database manager with a tracked site
func SetupTestDBManagerWithSite(t *testing.T, domain string) (*TestDBManager, *slog.Logger, sites.Site) {
	dbManager, logger := SetupTestDBManager(t)
	site := CreateTestSite(dbManager.GetConnection(), domain)
	return dbManager, logger, site
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// NewTestSink returns a sink for tests. Tasks run on a worker; call Stop to
// drain the queue before asserting on side effects.
func NewTestSink(t *testing.T) *async.Sink {
	t.Helper()
	sink := async.NewSink(GetLogger(), 1, 16)
	t.Cleanup(sink.Stop)
	return sink
}

// CreateMinimalTestApp builds a fiber app with all application routes
// mounted on the given database. The collect handler's sink is replaced with
// a test sink that drains on cleanup.
func CreateMinimalTestApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	dbManager := NewTestDBManager(db)
	appConfig := config.GetConfig()
	appConfig.Environment = config.Test

	cfg := cartridge.DefaultServerConfig()
	cfg.Config = appConfig
	cfg.Logger = GetLogger()
	cfg.DBManager = dbManager
	cfg.EnableSecFetchSite = true
	cfg.SecFetchSiteAllowedValues = []string{"cross-site", "same-site", "same-origin"}

	srv, err := cartridge.NewServer(cfg)
	require.NoError(t, err)

	v1.InitSink(NewTestSink(t))
	internal.MountAppRoutes(srv)
	return srv.App()
}

// CreateTestSite creates a tracked site in the database
func CreateTestSite(db *gorm.DB, domain string) sites.Site {
	var site sites.Site
	if db.Where("domain = ?", domain).First(&site).Error != nil {
		site = sites.Site{Domain: domain, Timezone: "UTC", Currency: "USD", CreatedAt: time.Now().UTC()}
		db.Create(&site)
	}
	return site
}

// CreateTestGoal creates an active goal for a site
func CreateTestGoal(t *testing.T, db *gorm.DB, siteID uint, goalType goals.GoalType, target string) goals.Goal {
	t.Helper()
	goal := goals.Goal{
		SiteID:   siteID,
		Name:     fmt.Sprintf("%s %s", goalType, target),
		GoalType: goalType,
		Target:   target,
		Active:   true,
	}
	require.NoError(t, db.Create(&goal).Error)
	return goal
}

// CreatePageviewInput builds a pageview CollectEventInput with sane defaults
func CreatePageviewInput(domain, path, sessionID string, timestamp time.Time) *events.CollectEventInput {
	return &events.CollectEventInput{
		IPAddress: "203.0.113.10",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0",
		Screen:    "1920x1080",
		Locale:    "en-US",
		RawURL:    fmt.Sprintf("https://%s%s", domain, path),
		EventType: events.EventTypePageview,
		SessionID: sessionID,
		Timestamp: timestamp,
	}
}

// CreateEvent inserts an event row directly, bypassing the collect pipeline.
// Used by report tests that need precise control over row contents.
func CreateEvent(t *testing.T, db *gorm.DB, event *events.Event) {
	t.Helper()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if event.Hostname == "" {
		event.Hostname = "example.com"
	}
	require.NoError(t, db.Create(event).Error)
}
