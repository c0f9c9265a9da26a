package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"log/slog"

	"golang.org/x/oauth2"
)

const (
	googleAdsBaseURL  = "https://googleads.googleapis.com/v17"
	googleTokenURL    = "https://oauth2.googleapis.com/token"
	googleAdsPageSize = 1000
)

// GoogleAdsAdapter fetches daily campaign metrics via the Google Ads
// searchStream endpoint using GAQL.
type GoogleAdsAdapter struct {
	logger  *slog.Logger
	baseURL string
	// clientFor allows tests to inject a transport; nil uses oauth2.
	clientFor func(ctx context.Context, creds map[string]string) *http.Client
}

// NewGoogleAdsAdapter builds the adapter.
func NewGoogleAdsAdapter(logger *slog.Logger) *GoogleAdsAdapter {
	return &GoogleAdsAdapter{logger: logger, baseURL: googleAdsBaseURL}
}

func (a *GoogleAdsAdapter) Provider() string { return ProviderGoogleAds }

type googleAdsSearchRequest struct {
	Query    string `json:"query"`
	PageSize int    `json:"page_size,omitempty"`
}

type googleAdsResult struct {
	Campaign struct {
		ID   json.Number `json:"id"`
		Name string      `json:"name"`
	} `json:"campaign"`
	Metrics struct {
		Impressions      json.Number `json:"impressions"`
		Clicks           json.Number `json:"clicks"`
		CostMicros       json.Number `json:"costMicros"`
		Conversions      json.Number `json:"conversions"`
		ConversionsValue json.Number `json:"conversionsValue"`
		AverageCPC       json.Number `json:"averageCpc"`
	} `json:"metrics"`
	Segments struct {
		Date string `json:"date"`
	} `json:"segments"`
	Customer struct {
		CurrencyCode string `json:"currencyCode"`
	} `json:"customer"`
}

type googleAdsSearchResponse struct {
	Results []googleAdsResult `json:"results"`
	Error   *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Fetch runs one GAQL query for the full window, segmented by date. The
// searchStream endpoint returns all segments in one response, so no weekly
// chunking is needed here.
func (a *GoogleAdsAdapter) Fetch(ctx context.Context, creds map[string]string, window Window) ([]Row, error) {
	err := requireCred(creds, ProviderGoogleAds,
		"client_id", "client_secret", "refresh_token", "developer_token", "customer_id")
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT
			campaign.id, campaign.name,
			metrics.impressions, metrics.clicks, metrics.cost_micros,
			metrics.conversions, metrics.conversions_value, metrics.average_cpc,
			segments.date, customer.currency_code
		FROM campaign
		WHERE segments.date BETWEEN '%s' AND '%s'
			AND campaign.status != 'REMOVED'
		ORDER BY segments.date`,
		window.Start.Format("2006-01-02"), window.End.Format("2006-01-02"))

	payload, err := json.Marshal(googleAdsSearchRequest{Query: query, PageSize: googleAdsPageSize})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/customers/%s/googleAds:searchStream", a.baseURL, creds["customer_id"])
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("developer-token", creds["developer_token"])
	if loginCustomerID := creds["login_customer_id"]; loginCustomerID != "" {
		req.Header.Set("login-customer-id", loginCustomerID)
	}

	client := a.httpClient(ctx, creds)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("google ads request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read google ads response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("google ads returned status %d: %s", resp.StatusCode, truncateBody(body))
	}

	// searchStream responds with a JSON array of batches.
	var batches []googleAdsSearchResponse
	if err := json.Unmarshal(body, &batches); err != nil {
		// Some error payloads come back as a single object.
		var single googleAdsSearchResponse
		if err2 := json.Unmarshal(body, &single); err2 != nil {
			return nil, fmt.Errorf("failed to decode google ads response: %w", err)
		}
		batches = []googleAdsSearchResponse{single}
	}

	var rows []Row
	for _, batch := range batches {
		if batch.Error != nil {
			return nil, fmt.Errorf("google ads api error %d (%s): %s",
				batch.Error.Code, batch.Error.Status, batch.Error.Message)
		}
		for i := range batch.Results {
			rows = append(rows, normalizeGoogleAdsRow(&batch.Results[i]))
		}
	}
	return rows, nil
}

func (a *GoogleAdsAdapter) httpClient(ctx context.Context, creds map[string]string) *http.Client {
	if a.clientFor != nil {
		return a.clientFor(ctx, creds)
	}

	conf := &oauth2.Config{
		ClientID:     creds["client_id"],
		ClientSecret: creds["client_secret"],
		Endpoint:     oauth2.Endpoint{TokenURL: googleTokenURL},
	}
	token := &oauth2.Token{RefreshToken: creds["refresh_token"]}
	client := conf.Client(ctx, token)
	client.Timeout = 60 * time.Second
	return client
}

func normalizeGoogleAdsRow(in *googleAdsResult) Row {
	date, _ := time.Parse("2006-01-02", in.Segments.Date)
	costMicros, _ := in.Metrics.CostMicros.Int64()
	impressions, _ := in.Metrics.Impressions.Int64()
	clicks, _ := in.Metrics.Clicks.Int64()
	conversions, _ := in.Metrics.Conversions.Float64()
	conversionsValue, _ := in.Metrics.ConversionsValue.Float64()
	avgCPCMicros, _ := in.Metrics.AverageCPC.Int64()

	return Row{
		CampaignID:      in.Campaign.ID.String(),
		CampaignName:    in.Campaign.Name,
		Date:            date,
		Impressions:     impressions,
		Clicks:          clicks,
		Cost:            float64(costMicros) / 1e6,
		Conversions:     conversions,
		ConversionValue: conversionsValue,
		Currency:        in.Customer.CurrencyCode,
		ExtraMetrics: map[string]interface{}{
			"average_cpc": float64(avgCPCMicros) / 1e6,
		},
	}
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
