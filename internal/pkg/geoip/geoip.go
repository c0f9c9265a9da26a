package geoip

import (
	"log/slog"
	"os"
	"sync"

	"github.com/oschwald/geoip2-golang"

	"sitepulse/internal/config"
)

// The GeoLite2 database is optional: when it is missing or unreadable every
// lookup degrades to an unknown country instead of failing ingestion.

var (
	geoDB  *geoip2.Reader
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// InitLogger sets the logger for the geoip package.
func InitLogger(l *slog.Logger) {
	logger = l
}

func open() *geoip2.Reader {
	cfg := config.GetConfig()
	if cfg.GeoDBPath == "" {
		logDebug("geoip database path not configured, country lookups disabled")
		return nil
	}

	if _, err := os.Stat(cfg.GeoDBPath); err != nil {
		logInfo("geoip database unavailable, country lookups disabled",
			slog.String("path", cfg.GeoDBPath),
			slog.Any("error", err))
		return nil
	}

	db, err := geoip2.Open(cfg.GeoDBPath)
	if err != nil {
		logError("failed to open geoip database",
			slog.String("path", cfg.GeoDBPath),
			slog.Any("error", err))
		return nil
	}

	logInfo("geoip database loaded", slog.String("path", cfg.GeoDBPath))
	return db
}

// GetGeoDB returns the GeoLite2 reader, opening it on first use.
// Returns nil when no database is available.
func GetGeoDB() *geoip2.Reader {
	once.Do(func() {
		mu.Lock()
		geoDB = open()
		mu.Unlock()
	})
	mu.RLock()
	defer mu.RUnlock()
	return geoDB
}

// Close releases the reader. Safe to call when no database was loaded.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if geoDB != nil {
		geoDB.Close()
		geoDB = nil
	}
}

func logDebug(msg string, args ...any) {
	if logger != nil {
		logger.Debug(msg, args...)
	}
}

func logInfo(msg string, args ...any) {
	if logger != nil {
		logger.Info(msg, args...)
	}
}

func logError(msg string, args ...any) {
	if logger != nil {
		logger.Error(msg, args...)
	}
}
