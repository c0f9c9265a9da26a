// Package bots classifies user agent strings as bot traffic. The pattern
// database is embedded and compiled once; detection gates ingestion before
// any row is written.
package bots

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yml
var patternFiles embed.FS

// PatternEntry is one entry in the embedded bot pattern database
type PatternEntry struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

var (
	compiled []*pcre.Regexp
	loadOnce sync.Once
	loadErr  error
)

// Fast-path substrings checked before any regex runs. Lowercase.
var fastPathMarkers = []string{
	"bot", "crawler", "spider", "headless", "lighthouse", "preview",
}

func loadPatterns() {
	data, err := patternFiles.ReadFile("patterns.yml")
	if err != nil {
		loadErr = fmt.Errorf("failed to read bot patterns: %w", err)
		return
	}

	var entries []PatternEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		loadErr = fmt.Errorf("failed to parse bot patterns: %w", err)
		return
	}

	for _, entry := range entries {
		re, err := pcre.Compile("(?i)" + entry.Regex)
		if err != nil {
			loadErr = fmt.Errorf("failed to compile bot pattern %q: %w", entry.Name, err)
			return
		}
		compiled = append(compiled, re)
	}
}

// IsBot reports whether the user agent belongs to automated traffic.
// Empty user agents are treated as bots: every real browser sends one.
func IsBot(userAgent string) bool {
	trimmed := strings.TrimSpace(userAgent)
	if trimmed == "" || trimmed == "-" {
		return true
	}

	lower := strings.ToLower(trimmed)
	fastHit := false
	for _, marker := range fastPathMarkers {
		if strings.Contains(lower, marker) {
			fastHit = true
			break
		}
	}

	loadOnce.Do(loadPatterns)
	if loadErr != nil {
		// Pattern database failure must not block ingestion; fall back to
		// the substring heuristics only.
		return fastHit
	}

	if fastHit {
		return true
	}

	for _, re := range compiled {
		if re.MatchString(trimmed) {
			return true
		}
	}
	return false
}
