package bots_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"sitepulse/internal/bots"
)

func TestIsBot(t *testing.T) {
	testCases := []struct {
		name      string
		userAgent string
		expect    bool
	}{
		{"empty user agent", "", true},
		{"dash placeholder", "-", true},
		{"googlebot", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)", true},
		{"bingbot", "Mozilla/5.0 (compatible; bingbot/2.0; +http://www.bing.com/bingbot.htm)", true},
		{"headless chrome", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) HeadlessChrome/120.0.0.0 Safari/537.36", true},
		{"curl", "curl/8.4.0", true},
		{"python requests", "python-requests/2.31.0", true},
		{"ahrefs", "Mozilla/5.0 (compatible; AhrefsBot/7.0; +http://ahrefs.com/robot/)", true},
		{"generic crawler keyword", "SomethingCrawler/1.0", true},
		{"slack preview", "Slackbot-LinkExpanding 1.0 (+https://api.slack.com/robots)", true},
		{
			"real chrome",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			false,
		},
		{
			"real mobile safari",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			false,
		},
		{
			"real firefox",
			"Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expect, bots.IsBot(tc.userAgent))
		})
	}
}
