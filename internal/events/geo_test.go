package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sitepulse/internal/events"
)

func TestGetCountryFromIPWithoutDatabase(t *testing.T) {
	// No GeoIP database is loaded in tests; every lookup degrades to Unknown
	// instead of failing ingestion.
	assert.Equal(t, "Unknown", events.GetCountryFromIP("203.0.113.10"))
	assert.Equal(t, "Unknown", events.GetCountryFromIP("not-an-ip"))
	assert.Equal(t, "Unknown", events.GetCountryFromIP(""))
}
