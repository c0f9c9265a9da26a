// Package providers contains the ad/email platform adapters. Each adapter
// fetches performance data from one provider API and normalizes it into Row,
// so the sync engine never sees provider-specific payload shapes.
package providers

import (
	"context"
	"fmt"
	"time"
)

// Provider identifiers as stored on integrations and credential sets.
const (
	ProviderGoogleAds = "google_ads"
	ProviderMeta      = "meta"
	ProviderMailchimp = "mailchimp"
)

// Window is the inclusive date range of a fetch.
type Window struct {
	Start time.Time
	End   time.Time
}

// Row is one normalized (campaign, date) performance snapshot. Provider
// metrics with no cross-provider meaning go into ExtraMetrics.
type Row struct {
	CampaignID   string
	CampaignName string
	AdGroupID    string
	Date         time.Time

	Impressions     int64
	Clicks          int64
	Cost            float64
	Conversions     float64
	ConversionValue float64
	Currency        string

	ExtraMetrics map[string]interface{}
}

// Adapter fetches normalized campaign rows from one provider.
type Adapter interface {
	Provider() string
	Fetch(ctx context.Context, creds map[string]string, window Window) ([]Row, error)
}

// CredentialError indicates missing or malformed credentials; it is never
// retried.
type CredentialError struct {
	Provider string
	Reason   string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("%s credentials invalid: %s", e.Provider, e.Reason)
}

func requireCred(creds map[string]string, provider string, keys ...string) error {
	for _, key := range keys {
		if creds[key] == "" {
			return &CredentialError{Provider: provider, Reason: fmt.Sprintf("missing %s", key)}
		}
	}
	return nil
}

// weeklyChunks splits a window into at-most-7-day sub-windows so a single
// insight request stays bounded.
func weeklyChunks(window Window) []Window {
	var chunks []Window
	start := window.Start
	for !start.After(window.End) {
		end := start.AddDate(0, 0, 6)
		if end.After(window.End) {
			end = window.End
		}
		chunks = append(chunks, Window{Start: start, End: end})
		start = end.AddDate(0, 0, 1)
	}
	return chunks
}
