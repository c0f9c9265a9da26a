// Package useragent classifies user agent strings into browser, operating
// system, and device class for reporting dimensions. Patterns are embedded
// and compiled once; unrecognized agents classify as "Unknown" rather than
// failing.
package useragent

import (
	"embed"
	"fmt"
	"sync"

	"go.elara.ws/pcre"
	"gopkg.in/yaml.v3"
)

//go:embed patterns.yml
var patternFiles embed.FS

const Unknown = "Unknown"

// Device classes reported to the stats layer.
const (
	DeviceDesktop = "Desktop"
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
)

// Info is the parsed classification of one user agent.
type Info struct {
	Browser string
	OS      string
	Device  string
}

type namedPattern struct {
	Regex string `yaml:"regex"`
	Name  string `yaml:"name"`
}

type patternDatabase struct {
	Browsers         []namedPattern `yaml:"browsers"`
	OperatingSystems []namedPattern `yaml:"operating_systems"`
	Tablets          []namedPattern `yaml:"tablets"`
	Mobiles          []namedPattern `yaml:"mobiles"`
}

type compiledPattern struct {
	re   *pcre.Regexp
	name string
}

var (
	browsers []compiledPattern
	systems  []compiledPattern
	tablets  []*pcre.Regexp
	mobiles  []*pcre.Regexp

	loadOnce sync.Once
	loadErr  error
)

func loadPatterns() {
	data, err := patternFiles.ReadFile("patterns.yml")
	if err != nil {
		loadErr = fmt.Errorf("failed to read user agent patterns: %w", err)
		return
	}

	var db patternDatabase
	if err := yaml.Unmarshal(data, &db); err != nil {
		loadErr = fmt.Errorf("failed to parse user agent patterns: %w", err)
		return
	}

	browsers, err = compileNamed(db.Browsers)
	if err == nil {
		systems, err = compileNamed(db.OperatingSystems)
	}
	if err == nil {
		tablets, err = compileAnonymous(db.Tablets)
	}
	if err == nil {
		mobiles, err = compileAnonymous(db.Mobiles)
	}
	loadErr = err
}

func compileNamed(entries []namedPattern) ([]compiledPattern, error) {
	compiled := make([]compiledPattern, 0, len(entries))
	for _, entry := range entries {
		re, err := pcre.Compile(entry.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %q: %w", entry.Name, err)
		}
		compiled = append(compiled, compiledPattern{re: re, name: entry.Name})
	}
	return compiled, nil
}

func compileAnonymous(entries []namedPattern) ([]*pcre.Regexp, error) {
	compiled := make([]*pcre.Regexp, 0, len(entries))
	for _, entry := range entries {
		re, err := pcre.Compile(entry.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile pattern %q: %w", entry.Regex, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Parse classifies a user agent. Pattern order matters: the first match
// wins, so more specific browsers (Edge, Opera) precede Chrome, which their
// agents also advertise.
func Parse(userAgent string) Info {
	info := Info{Browser: Unknown, OS: Unknown, Device: DeviceDesktop}
	if userAgent == "" {
		info.Device = Unknown
		return info
	}

	loadOnce.Do(loadPatterns)
	if loadErr != nil {
		return info
	}

	for _, p := range browsers {
		if p.re.MatchString(userAgent) {
			info.Browser = p.name
			break
		}
	}
	for _, p := range systems {
		if p.re.MatchString(userAgent) {
			info.OS = p.name
			break
		}
	}

	// Tablet patterns are checked first: tablet agents usually also match
	// the mobile patterns.
	for _, re := range tablets {
		if re.MatchString(userAgent) {
			info.Device = DeviceTablet
			return info
		}
	}
	for _, re := range mobiles {
		if re.MatchString(userAgent) {
			info.Device = DeviceMobile
			return info
		}
	}
	return info
}
