package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"
)

// MailchimpAdapter fetches email campaign reports from the Mailchimp API.
// One sent campaign maps to one row dated by its send time: Mailchimp does
// not break reports down by day.
type MailchimpAdapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	// baseURLOverride bypasses datacenter resolution in tests.
	baseURLOverride string
}

// NewMailchimpAdapter builds the adapter with a default HTTP client.
func NewMailchimpAdapter(logger *slog.Logger) *MailchimpAdapter {
	return &MailchimpAdapter{
		logger:     logger,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (a *MailchimpAdapter) Provider() string { return ProviderMailchimp }

type mailchimpReport struct {
	ID            string `json:"id"`
	CampaignTitle string `json:"campaign_title"`
	EmailsSent    int64  `json:"emails_sent"`
	SendTime      string `json:"send_time"`
	Opens         struct {
		OpensTotal  int64   `json:"opens_total"`
		UniqueOpens int64   `json:"unique_opens"`
		OpenRate    float64 `json:"open_rate"`
	} `json:"opens"`
	Clicks struct {
		ClicksTotal  int64   `json:"clicks_total"`
		UniqueClicks int64   `json:"unique_clicks"`
		ClickRate    float64 `json:"click_rate"`
	} `json:"clicks"`
	Unsubscribed int64 `json:"unsubscribed"`
	Bounces      struct {
		HardBounces int64 `json:"hard_bounces"`
		SoftBounces int64 `json:"soft_bounces"`
	} `json:"bounces"`
	Ecommerce struct {
		TotalOrders  int64   `json:"total_orders"`
		TotalRevenue float64 `json:"total_revenue"`
	} `json:"ecommerce"`
}

type mailchimpReportsResponse struct {
	Reports    []mailchimpReport `json:"reports"`
	TotalItems int               `json:"total_items"`
	Status     int               `json:"status"`
	Detail     string            `json:"detail"`
}

// Fetch lists campaign reports sent within the window.
func (a *MailchimpAdapter) Fetch(ctx context.Context, creds map[string]string, window Window) ([]Row, error) {
	if err := requireCred(creds, ProviderMailchimp, "api_key"); err != nil {
		return nil, err
	}

	baseURL, err := a.resolveBaseURL(creds["api_key"])
	if err != nil {
		return nil, err
	}

	var rows []Row
	offset := 0
	const pageSize = 100
	for {
		params := url.Values{}
		params.Set("since_send_time", window.Start.Format(time.RFC3339))
		params.Set("before_send_time", window.End.AddDate(0, 0, 1).Format(time.RFC3339))
		params.Set("count", fmt.Sprintf("%d", pageSize))
		params.Set("offset", fmt.Sprintf("%d", offset))

		page, err := a.getReports(ctx, baseURL, creds["api_key"], params)
		if err != nil {
			return nil, err
		}
		for i := range page.Reports {
			rows = append(rows, normalizeMailchimpReport(&page.Reports[i]))
		}

		offset += len(page.Reports)
		if len(page.Reports) < pageSize {
			return rows, nil
		}
	}
}

// resolveBaseURL derives the API datacenter from the key suffix
// ("xxxx-us21" talks to us21.api.mailchimp.com).
func (a *MailchimpAdapter) resolveBaseURL(apiKey string) (string, error) {
	if a.baseURLOverride != "" {
		return a.baseURLOverride, nil
	}
	idx := strings.LastIndex(apiKey, "-")
	if idx < 0 || idx == len(apiKey)-1 {
		return "", &CredentialError{Provider: ProviderMailchimp, Reason: "api_key has no datacenter suffix"}
	}
	return fmt.Sprintf("https://%s.api.mailchimp.com/3.0", apiKey[idx+1:]), nil
}

func (a *MailchimpAdapter) getReports(ctx context.Context, baseURL, apiKey string, params url.Values) (*mailchimpReportsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/reports?%s", baseURL, params.Encode()), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth("anystring", apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("mailchimp request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read mailchimp response: %w", err)
	}

	var parsed mailchimpReportsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode mailchimp response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mailchimp returned status %d: %s", resp.StatusCode, parsed.Detail)
	}
	return &parsed, nil
}

func normalizeMailchimpReport(in *mailchimpReport) Row {
	sendTime, _ := time.Parse(time.RFC3339, in.SendTime)
	date := sendTime.UTC().Truncate(24 * time.Hour)

	return Row{
		CampaignID:      in.ID,
		CampaignName:    in.CampaignTitle,
		Date:            date,
		Impressions:     in.EmailsSent,
		Clicks:          in.Clicks.ClicksTotal,
		Cost:            0,
		Conversions:     float64(in.Ecommerce.TotalOrders),
		ConversionValue: in.Ecommerce.TotalRevenue,
		Currency:        "",
		ExtraMetrics: map[string]interface{}{
			"opens_total":   in.Opens.OpensTotal,
			"unique_opens":  in.Opens.UniqueOpens,
			"open_rate":     in.Opens.OpenRate,
			"unique_clicks": in.Clicks.UniqueClicks,
			"click_rate":    in.Clicks.ClickRate,
			"unsubscribed":  in.Unsubscribed,
			"hard_bounces":  in.Bounces.HardBounces,
			"soft_bounces":  in.Bounces.SoftBounces,
		},
	}
}
