package reports

import (
	"sort"
	"time"

	"gorm.io/gorm"
)

// CampaignStats is the aggregated performance of one campaign across the
// window, with derived financial ratios. Every ratio is zero when its
// denominator is zero.
type CampaignStats struct {
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`

	Impressions     int64   `json:"impressions"`
	Clicks          int64   `json:"clicks"`
	Cost            float64 `json:"cost"`
	Conversions     float64 `json:"conversions"`
	ConversionValue float64 `json:"conversion_value"`
	Currency        string  `json:"currency"`
	Reach           int64   `json:"reach"`

	CTR               float64 `json:"ctr"`
	AvgCPC            float64 `json:"avg_cpc"`
	CPM               float64 `json:"cpm"`
	CostPerConversion float64 `json:"cost_per_conversion"`
	ROAS              float64 `json:"roas"`
	Frequency         float64 `json:"frequency"`
}

// GetCampaignStats aggregates synced campaign rows per campaign and derives
// the ratio metrics.
func GetCampaignStats(db *gorm.DB, siteID uint, from, to time.Time) ([]CampaignStats, error) {
	rows, err := fetchCampaignData(db, siteID, from, to)
	if err != nil {
		return nil, err
	}

	var order []string
	grouped := make(map[string]*CampaignStats)
	for i := range rows {
		row := &rows[i]
		stats := grouped[row.CampaignID]
		if stats == nil {
			stats = &CampaignStats{CampaignID: row.CampaignID, CampaignName: row.CampaignName}
			grouped[row.CampaignID] = stats
			order = append(order, row.CampaignID)
		}
		stats.Impressions += row.Impressions
		stats.Clicks += row.Clicks
		stats.Cost += row.Cost
		stats.Conversions += row.Conversions
		stats.ConversionValue += row.ConversionValue
		if stats.Currency == "" {
			stats.Currency = row.Currency
		}
		// Reach is a daily snapshot, not summable across days without
		// overlap; the max is the best available lower bound.
		extras := row.ExtraMetrics.ToMap()
		if reach, ok := extras["reach"].(float64); ok && int64(reach) > stats.Reach {
			stats.Reach = int64(reach)
		}
	}

	results := make([]CampaignStats, 0, len(order))
	for _, id := range order {
		stats := grouped[id]
		stats.CTR = round2(safeDivide(float64(stats.Clicks), float64(stats.Impressions)) * 100)
		stats.AvgCPC = safeDivide(stats.Cost, float64(stats.Clicks))
		stats.CPM = safeDivide(stats.Cost, float64(stats.Impressions)) * 1000
		stats.CostPerConversion = safeDivide(stats.Cost, stats.Conversions)
		stats.ROAS = safeDivide(stats.ConversionValue, stats.Cost)
		stats.Frequency = safeDivide(float64(stats.Impressions), float64(stats.Reach))
		results = append(results, *stats)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Cost > results[j].Cost
	})
	return results, nil
}
