// Package v1_test contains tests for the API v1 handlers
package v1_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"sitepulse/internal/config"
	"sitepulse/internal/events"
	"sitepulse/internal/testsupport"
)

const testUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0"

func collectRequest(t *testing.T, payload map[string]interface{}, origin string) *http.Request {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest("POST", "/api/v1/collect", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", testUserAgent)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.10")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	return req
}

func pageviewPayload(url string) map[string]interface{} {
	return map[string]interface{}{
		"url":       url,
		"eventType": events.EventTypePageview,
		"sessionId": "handler-session-1",
		"timestamp": time.Now().UTC(),
		"userAgent": testUserAgent,
		"screen":    "1920x1080",
		"locale":    "en-US",
	}
}

func TestCollectEventHandler(t *testing.T) {
	t.Run("accepts valid event with registered origin", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CreateTestSite(db, "example.com")
		app := testsupport.CreateMinimalTestApp(t, db)
		before := eventCount(t, db)

		req := collectRequest(t, pageviewPayload("https://example.com/pricing"), "https://example.com")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var respBody map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &respBody))
		assert.Equal(t, "Event accepted", respBody["message"])

		assert.Equal(t, before+1, eventCount(t, db))
	})

	t.Run("rejects unregistered origin", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CreateTestSite(db, "example.com")
		app := testsupport.CreateMinimalTestApp(t, db)

		req := collectRequest(t, pageviewPayload("https://example.com/"), "https://attacker.test")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("rejects request without origin or referer", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CreateTestSite(db, "example.com")
		app := testsupport.CreateMinimalTestApp(t, db)

		req := collectRequest(t, pageviewPayload("https://example.com/"), "")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("rejects invalid payload", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CreateTestSite(db, "example.com")
		app := testsupport.CreateMinimalTestApp(t, db)

		payload := pageviewPayload("https://example.com/")
		payload["eventType"] = "teleport"
		req := collectRequest(t, payload, "https://example.com")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("suppresses bot traffic with 202", func(t *testing.T) {
		db := testsupport.SetupTestDB(t)
		testsupport.CreateTestSite(db, "example.com")
		app := testsupport.CreateMinimalTestApp(t, db)
		before := eventCount(t, db)

		payload := pageviewPayload("https://example.com/")
		payload["userAgent"] = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
		req := collectRequest(t, payload, "https://example.com")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusAccepted, resp.StatusCode, "bots get the same response as real traffic")

		assert.Equal(t, before, eventCount(t, db), "bot events must not be stored")
	})
}

func eventCount(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&events.Event{}).Count(&count).Error)
	return count
}

func TestTriggerSyncHandlerAuth(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	cfg := config.GetConfig()
	previous := cfg.SyncSecret
	cfg.SyncSecret = "test-secret"
	t.Cleanup(func() { cfg.SyncSecret = previous })

	t.Run("rejects missing token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/sync", nil)
		req.Header.Set("Sec-Fetch-Site", "same-origin")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("rejects wrong token", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/sync", nil)
		req.Header.Set("Authorization", "Bearer wrong")
		req.Header.Set("Sec-Fetch-Site", "same-origin")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("accepts the shared secret", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/api/v1/sync", nil)
		req.Header.Set("Authorization", "Bearer test-secret")
		req.Header.Set("Sec-Fetch-Site", "same-origin")
		resp, err := app.Test(req, 30000)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}

func TestHealthEndpoint(t *testing.T) {
	db := testsupport.SetupTestDB(t)
	app := testsupport.CreateMinimalTestApp(t, db)

	req := httptest.NewRequest("GET", "/_health", nil)
	req.Header.Set("Sec-Fetch-Site", "same-origin")
	resp, err := app.Test(req, 30000)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
