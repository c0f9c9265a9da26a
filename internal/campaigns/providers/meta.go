package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"log/slog"
)

const metaGraphBaseURL = "https://graph.facebook.com/v19.0"

// metaTransientErrorCodes are the Graph API error codes worth one retry:
// unknown error, service temporarily unavailable, rate limits. Anything else
// fails the fetch immediately.
var metaTransientErrorCodes = map[int]bool{
	1:   true, // unknown
	2:   true, // service temporarily unavailable
	4:   true, // application request limit
	17:  true, // user request limit
	341: true, // temporary application block
}

// metaActionPriorities maps a campaign objective to the priority-ordered
// action types that count as its "result". Meta reports one underlying
// conversion under several overlapping labels (a pixel lead shows up as both
// "lead" and "offsite_conversion.fb_pixel_lead"), so only the FIRST matching
// type is used - summing across the list would double-count.
var metaActionPriorities = map[string][]string{
	"OUTCOME_LEADS": {
		"lead",
		"offsite_conversion.fb_pixel_lead",
		"onsite_conversion.lead_grouped",
		"leadgen_grouped",
	},
	"OUTCOME_SALES": {
		"purchase",
		"offsite_conversion.fb_pixel_purchase",
		"onsite_conversion.purchase",
		"omni_purchase",
	},
	"OUTCOME_ENGAGEMENT": {
		"post_engagement",
		"page_engagement",
		"onsite_conversion.post_save",
	},
	"OUTCOME_TRAFFIC": {
		"link_click",
		"landing_page_view",
	},
	"OUTCOME_AWARENESS": {
		"video_view",
		"post_engagement",
	},
	"OUTCOME_APP_PROMOTION": {
		"app_install",
		"omni_app_install",
	},
}

// metaDefaultActionPriority is used when the campaign objective is unknown.
var metaDefaultActionPriority = []string{
	"purchase",
	"offsite_conversion.fb_pixel_purchase",
	"lead",
	"offsite_conversion.fb_pixel_lead",
	"link_click",
}

type metaActionEntry struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

type metaInsightRow struct {
	CampaignID        string            `json:"campaign_id"`
	CampaignName      string            `json:"campaign_name"`
	Objective         string            `json:"objective"`
	DateStart         string            `json:"date_start"`
	Impressions       string            `json:"impressions"`
	Clicks            string            `json:"clicks"`
	Spend             string            `json:"spend"`
	Reach             string            `json:"reach"`
	Frequency         string            `json:"frequency"`
	CPM               string            `json:"cpm"`
	AccountCurrency   string            `json:"account_currency"`
	Actions           []metaActionEntry `json:"actions"`
	ActionValues      []metaActionEntry `json:"action_values"`
	CostPerActionType []metaActionEntry `json:"cost_per_action_type"`
}

type metaInsightsResponse struct {
	Data   []metaInsightRow `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
	Error *metaAPIError `json:"error"`
}

type metaAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

func (e *metaAPIError) Error() string {
	return fmt.Sprintf("meta api error %d (%s): %s", e.Code, e.Type, e.Message)
}

// MetaAdapter fetches campaign insights from the Meta Graph API.
type MetaAdapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	baseURL    string
	retryWait  time.Duration
}

// NewMetaAdapter builds the adapter with a default HTTP client.
func NewMetaAdapter(logger *slog.Logger) *MetaAdapter {
	return &MetaAdapter{
		logger:     logger,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    metaGraphBaseURL,
		retryWait:  5 * time.Second,
	}
}

func (a *MetaAdapter) Provider() string { return ProviderMeta }

// Fetch pulls daily campaign insights, chunked into weekly windows so no
// single request covers more than seven days.
func (a *MetaAdapter) Fetch(ctx context.Context, creds map[string]string, window Window) ([]Row, error) {
	if err := requireCred(creds, ProviderMeta, "access_token", "ad_account_id"); err != nil {
		return nil, err
	}
	accountID := creds["ad_account_id"]
	if !strings.HasPrefix(accountID, "act_") {
		accountID = "act_" + accountID
	}

	var rows []Row
	for _, chunk := range weeklyChunks(window) {
		chunkRows, err := a.fetchChunk(ctx, creds["access_token"], accountID, chunk)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch meta insights %s..%s: %w",
				chunk.Start.Format("2006-01-02"), chunk.End.Format("2006-01-02"), err)
		}
		rows = append(rows, chunkRows...)
	}
	return rows, nil
}

func (a *MetaAdapter) fetchChunk(ctx context.Context, accessToken, accountID string, chunk Window) ([]Row, error) {
	params := url.Values{}
	params.Set("access_token", accessToken)
	params.Set("level", "campaign")
	params.Set("time_increment", "1")
	params.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`,
		chunk.Start.Format("2006-01-02"), chunk.End.Format("2006-01-02")))
	params.Set("fields", strings.Join([]string{
		"campaign_id", "campaign_name", "objective", "impressions", "clicks",
		"spend", "reach", "frequency", "cpm", "account_currency",
		"actions", "action_values", "cost_per_action_type",
	}, ","))
	params.Set("limit", "200")

	var rows []Row
	next := fmt.Sprintf("%s/%s/insights?%s", a.baseURL, accountID, params.Encode())
	for next != "" {
		page, err := a.getPage(ctx, next)
		if err != nil {
			return nil, err
		}
		for i := range page.Data {
			rows = append(rows, normalizeMetaRow(&page.Data[i]))
		}
		next = page.Paging.Next
	}
	return rows, nil
}

// getPage performs one request with a single fixed-backoff retry for the
// transient error allow-list.
func (a *MetaAdapter) getPage(ctx context.Context, pageURL string) (*metaInsightsResponse, error) {
	page, err := a.doGet(ctx, pageURL)
	if err == nil {
		return page, nil
	}

	var apiErr *metaAPIError
	if !isMetaTransient(err, &apiErr) {
		return nil, err
	}

	a.logger.Warn("Transient Meta API error, retrying once",
		slog.Int("code", apiErr.Code),
		slog.String("message", apiErr.Message))

	select {
	case <-time.After(a.retryWait):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return a.doGet(ctx, pageURL)
}

func (a *MetaAdapter) doGet(ctx context.Context, pageURL string) (*metaInsightsResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("meta insights request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read meta response: %w", err)
	}

	var parsed metaInsightsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode meta response: %w", err)
	}
	if parsed.Error != nil {
		return nil, parsed.Error
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("meta insights returned status %d", resp.StatusCode)
	}
	return &parsed, nil
}

func isMetaTransient(err error, out **metaAPIError) bool {
	apiErr, ok := err.(*metaAPIError)
	if !ok {
		return false
	}
	*out = apiErr
	return metaTransientErrorCodes[apiErr.Code]
}

func normalizeMetaRow(in *metaInsightRow) Row {
	date, _ := time.Parse("2006-01-02", in.DateStart)
	impressions := parseMetaInt(in.Impressions)
	clicks := parseMetaInt(in.Clicks)
	spend := parseMetaFloat(in.Spend)

	resultType, results := pickMetaResult(in.Objective, in.Actions)
	conversionValue := actionEntryValue(in.ActionValues, resultType)

	costPerResult := actionEntryValue(in.CostPerActionType, resultType)
	if costPerResult == 0 && results > 0 {
		costPerResult = spend / results
	}

	extra := map[string]interface{}{
		"reach":           parseMetaInt(in.Reach),
		"frequency":       parseMetaFloat(in.Frequency),
		"cpm":             parseMetaFloat(in.CPM),
		"objective":       in.Objective,
		"results":         results,
		"result_type":     resultType,
		"cost_per_result": costPerResult,
	}

	return Row{
		CampaignID:      in.CampaignID,
		CampaignName:    in.CampaignName,
		Date:            date,
		Impressions:     impressions,
		Clicks:          clicks,
		Cost:            spend,
		Conversions:     results,
		ConversionValue: conversionValue,
		Currency:        in.AccountCurrency,
		ExtraMetrics:    extra,
	}
}

// pickMetaResult selects the result count using the objective's
// priority-ordered action type list. Only the first matching action type
// counts; the same conversion is reported under multiple labels.
func pickMetaResult(objective string, actions []metaActionEntry) (string, float64) {
	priorities, ok := metaActionPriorities[strings.ToUpper(objective)]
	if !ok {
		priorities = metaDefaultActionPriority
	}

	for _, actionType := range priorities {
		for _, action := range actions {
			if action.ActionType == actionType {
				return actionType, parseMetaFloat(action.Value)
			}
		}
	}
	return "", 0
}

func actionEntryValue(entries []metaActionEntry, actionType string) float64 {
	if actionType == "" {
		return 0
	}
	for _, entry := range entries {
		if entry.ActionType == actionType {
			return parseMetaFloat(entry.Value)
		}
	}
	return 0
}

func parseMetaInt(s string) int64 {
	v, _ := strconv.ParseInt(s, 10, 64)
	return v
}

func parseMetaFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
