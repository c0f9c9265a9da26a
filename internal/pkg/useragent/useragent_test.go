package useragent_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sitepulse/internal/pkg/useragent"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name      string
		userAgent string
		browser   string
		os        string
		device    string
	}{
		{
			name:      "Chrome on Windows",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			browser:   "Chrome", os: "Windows", device: useragent.DeviceDesktop,
		},
		{
			name:      "Edge advertises Chrome but classifies as Edge",
			userAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			browser:   "Edge", os: "Windows", device: useragent.DeviceDesktop,
		},
		{
			name:      "Safari on iPhone",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			browser:   "Safari", os: "iOS", device: useragent.DeviceMobile,
		},
		{
			name:      "iPad is a tablet, not a mobile",
			userAgent: "Mozilla/5.0 (iPad; CPU OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			browser:   "Safari", os: "iOS", device: useragent.DeviceTablet,
		},
		{
			name:      "Chrome on Android phone",
			userAgent: "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			browser:   "Chrome", os: "Android", device: useragent.DeviceMobile,
		},
		{
			name:      "Chrome on Android tablet",
			userAgent: "Mozilla/5.0 (Linux; Android 14; SM-X710) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			browser:   "Chrome", os: "Android", device: useragent.DeviceTablet,
		},
		{
			name:      "Chrome on iOS",
			userAgent: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/120.0.6099.119 Mobile/15E148 Safari/604.1",
			browser:   "Chrome", os: "iOS", device: useragent.DeviceMobile,
		},
		{
			name:      "Firefox on macOS",
			userAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
			browser:   "Firefox", os: "macOS", device: useragent.DeviceDesktop,
		},
		{
			name:      "unrecognized agent",
			userAgent: "SomeHomegrownClient/1.0",
			browser:   useragent.Unknown, os: useragent.Unknown, device: useragent.DeviceDesktop,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			info := useragent.Parse(tc.userAgent)
			assert.Equal(t, tc.browser, info.Browser)
			assert.Equal(t, tc.os, info.OS)
			assert.Equal(t, tc.device, info.Device)
		})
	}
}

func TestParseEmpty(t *testing.T) {
	info := useragent.Parse("")
	assert.Equal(t, useragent.Unknown, info.Browser)
	assert.Equal(t, useragent.Unknown, info.OS)
	assert.Equal(t, useragent.Unknown, info.Device)
}
