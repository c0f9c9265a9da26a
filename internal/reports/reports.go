package reports

import (
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"sitepulse/internal/events"
	"sitepulse/internal/goals"
	"sitepulse/internal/timeframe"
)

// Summary is the headline card: traffic counts plus session-derived quality
// metrics. Bounce rate and duration come from the session aggregates, never
// from event-level flags.
type Summary struct {
	UniqueVisitors int     `json:"unique_visitors"`
	Pageviews      int     `json:"pageviews"`
	Sessions       int     `json:"sessions"`
	BounceRate     float64 `json:"bounce_rate"`
	AvgDurationMs  int64   `json:"avg_duration_ms"`
	AvgEngagedMs   int64   `json:"avg_engaged_ms"`
}

// GetSummary computes the headline metrics for the query window.
func GetSummary(db *gorm.DB, query *Query) (*Summary, error) {
	pageviews, err := fetchEvents(db, query, events.EventTypePageview)
	if err != nil {
		return nil, err
	}
	sessionRows, err := fetchSessions(db, query)
	if err != nil {
		return nil, err
	}

	visitors := make(map[string]struct{})
	for i := range pageviews {
		visitors[pageviews[i].VisitorHash] = struct{}{}
	}

	summary := &Summary{
		UniqueVisitors: len(visitors),
		Pageviews:      len(pageviews),
		Sessions:       len(sessionRows),
	}

	if len(sessionRows) > 0 {
		bounced := 0
		var totalDuration, totalEngaged int64
		for i := range sessionRows {
			if sessionRows[i].IsBounce {
				bounced++
			}
			totalDuration += sessionRows[i].DurationMs
			totalEngaged += sessionRows[i].EngagedTimeMs
		}
		summary.BounceRate = round2(float64(bounced) / float64(len(sessionRows)) * 100)
		summary.AvgDurationMs = totalDuration / int64(len(sessionRows))
		summary.AvgEngagedMs = totalEngaged / int64(len(sessionRows))
	}
	return summary, nil
}

// TimeseriesPoint is one bucket's traffic.
type TimeseriesPoint struct {
	Date      string `json:"date"`
	Visitors  int    `json:"visitors"`
	Pageviews int    `json:"pageviews"`
}

// GetTimeseries buckets pageviews by the query interval (hour, day or week,
// in the site timezone), zero-filling buckets with no traffic.
func GetTimeseries(db *gorm.DB, query *Query) ([]TimeseriesPoint, error) {
	pageviews, err := fetchEvents(db, query, events.EventTypePageview)
	if err != nil {
		return nil, err
	}

	interval := query.Interval
	if interval == "" {
		interval = timeframe.IntervalDay
	}

	type bucket struct {
		visitors  map[string]struct{}
		pageviews int
	}
	buckets := make(map[string]*bucket)
	for i := range pageviews {
		key := query.Timeframe.BucketKey(pageviews[i].Timestamp, interval)
		b := buckets[key]
		if b == nil {
			b = &bucket{visitors: make(map[string]struct{})}
			buckets[key] = b
		}
		b.visitors[pageviews[i].VisitorHash] = struct{}{}
		b.pageviews++
	}

	keys := query.Timeframe.Buckets(interval)
	points := make([]TimeseriesPoint, 0, len(keys))
	for _, key := range keys {
		point := TimeseriesPoint{Date: key}
		if b := buckets[key]; b != nil {
			point.Visitors = len(b.visitors)
			point.Pageviews = b.pageviews
		}
		points = append(points, point)
	}
	return points, nil
}

// Dimension selects the grouping key of a top-N breakdown.
type Dimension string

const (
	DimensionPage        Dimension = "page"
	DimensionReferrer    Dimension = "referrer"
	DimensionCountry     Dimension = "country"
	DimensionDevice      Dimension = "device"
	DimensionBrowser     Dimension = "browser"
	DimensionOS          Dimension = "os"
	DimensionUTMSource   Dimension = "utm_source"
	DimensionUTMMedium   Dimension = "utm_medium"
	DimensionUTMCampaign Dimension = "utm_campaign"
	DimensionEventName   Dimension = "event_name"
)

// TopNEntry is one row of a breakdown.
type TopNEntry struct {
	Key      string `json:"key"`
	Count    int    `json:"count"`
	Visitors int    `json:"visitors"`
}

func dimensionKey(dimension Dimension, event *events.Event) (string, error) {
	switch dimension {
	case DimensionPage:
		return event.Pathname, nil
	case DimensionReferrer:
		return event.ReferrerHostname, nil
	case DimensionCountry:
		return event.Country, nil
	case DimensionDevice:
		return event.Device, nil
	case DimensionBrowser:
		return event.Browser, nil
	case DimensionOS:
		return event.OS, nil
	case DimensionUTMSource:
		return event.UTMSource, nil
	case DimensionUTMMedium:
		return event.UTMMedium, nil
	case DimensionUTMCampaign:
		return event.UTMCampaign, nil
	case DimensionEventName:
		return event.EventName, nil
	}
	return "", fmt.Errorf("unknown dimension %q", dimension)
}

// GetTopN groups pageviews by the dimension and returns the n most frequent
// keys. Ties keep first-encountered order: the sort is stable over the
// insertion sequence, so results are deterministic.
func GetTopN(db *gorm.DB, query *Query, dimension Dimension, n int) ([]TopNEntry, error) {
	eventType := events.EventTypePageview
	if dimension == DimensionEventName {
		eventType = events.EventTypeCustom
	}
	rows, err := fetchEvents(db, query, eventType)
	if err != nil {
		return nil, err
	}

	type group struct {
		entry    TopNEntry
		visitors map[string]struct{}
	}
	var order []string
	grouped := make(map[string]*group)
	for i := range rows {
		key, err := dimensionKey(dimension, &rows[i])
		if err != nil {
			return nil, err
		}
		g := grouped[key]
		if g == nil {
			g = &group{entry: TopNEntry{Key: key}, visitors: make(map[string]struct{})}
			grouped[key] = g
			order = append(order, key)
		}
		g.entry.Count++
		g.visitors[rows[i].VisitorHash] = struct{}{}
	}

	entries := make([]TopNEntry, 0, len(order))
	for _, key := range order {
		g := grouped[key]
		g.entry.Visitors = len(g.visitors)
		entries = append(entries, g.entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Count > entries[j].Count
	})
	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

// VitalsPercentiles is the p50/p75 pair per web vital metric.
type VitalsPercentiles struct {
	TTFBMsP50 float64 `json:"ttfb_ms_p50"`
	TTFBMsP75 float64 `json:"ttfb_ms_p75"`
	FCPMsP50  float64 `json:"fcp_ms_p50"`
	FCPMsP75  float64 `json:"fcp_ms_p75"`
	LCPMsP50  float64 `json:"lcp_ms_p50"`
	LCPMsP75  float64 `json:"lcp_ms_p75"`
	CLSP50    float64 `json:"cls_p50"`
	CLSP75    float64 `json:"cls_p75"`
	INPMsP50  float64 `json:"inp_ms_p50"`
	INPMsP75  float64 `json:"inp_ms_p75"`
	FIDMsP50  float64 `json:"fid_ms_p50"`
	FIDMsP75  float64 `json:"fid_ms_p75"`
	Samples   int     `json:"samples"`
}

// PageVitals is the vitals breakdown for one page group.
type PageVitals struct {
	Pathname string            `json:"pathname"`
	Vitals   VitalsPercentiles `json:"vitals"`
}

type vitalsSamples struct {
	ttfb, fcp, lcp, cls, inp, fid []float64
	count                         int
}

func (s *vitalsSamples) add(e *events.Event) {
	// Zero means the metric never reported for this page load; only real
	// samples enter the distribution.
	if e.TTFBMs > 0 {
		s.ttfb = append(s.ttfb, e.TTFBMs)
	}
	if e.FCPMs > 0 {
		s.fcp = append(s.fcp, e.FCPMs)
	}
	if e.LCPMs > 0 {
		s.lcp = append(s.lcp, e.LCPMs)
	}
	if e.CLS > 0 {
		s.cls = append(s.cls, e.CLS)
	}
	if e.INPMs > 0 {
		s.inp = append(s.inp, e.INPMs)
	}
	if e.FIDMs > 0 {
		s.fid = append(s.fid, e.FIDMs)
	}
	s.count++
}

func (s *vitalsSamples) percentiles() VitalsPercentiles {
	return VitalsPercentiles{
		TTFBMsP50: percentile(s.ttfb, 0.5),
		TTFBMsP75: percentile(s.ttfb, 0.75),
		FCPMsP50:  percentile(s.fcp, 0.5),
		FCPMsP75:  percentile(s.fcp, 0.75),
		LCPMsP50:  percentile(s.lcp, 0.5),
		LCPMsP75:  percentile(s.lcp, 0.75),
		CLSP50:    percentile(s.cls, 0.5),
		CLSP75:    percentile(s.cls, 0.75),
		INPMsP50:  percentile(s.inp, 0.5),
		INPMsP75:  percentile(s.inp, 0.75),
		FIDMsP50:  percentile(s.fid, 0.5),
		FIDMsP75:  percentile(s.fid, 0.75),
		Samples:   s.count,
	}
}

// GetWebVitals computes the site-wide percentiles plus a per-page breakdown.
func GetWebVitals(db *gorm.DB, query *Query) (*VitalsPercentiles, []PageVitals, error) {
	pageviews, err := fetchEvents(db, query, events.EventTypePageview)
	if err != nil {
		return nil, nil, err
	}

	overall := &vitalsSamples{}
	var order []string
	perPage := make(map[string]*vitalsSamples)
	for i := range pageviews {
		overall.add(&pageviews[i])
		path := pageviews[i].Pathname
		s := perPage[path]
		if s == nil {
			s = &vitalsSamples{}
			perPage[path] = s
			order = append(order, path)
		}
		s.add(&pageviews[i])
	}

	pages := make([]PageVitals, 0, len(order))
	for _, path := range order {
		pages = append(pages, PageVitals{Pathname: path, Vitals: perPage[path].percentiles()})
	}
	sort.SliceStable(pages, func(i, j int) bool {
		return pages[i].Vitals.Samples > pages[j].Vitals.Samples
	})

	result := overall.percentiles()
	return &result, pages, nil
}

// EcommerceStats summarizes purchase activity. Revenue is deduplicated by
// order id before summation: a purchase replayed through a gateway redirect
// must not count twice. Events without an order id are never deduplicated
// against each other.
type EcommerceStats struct {
	Orders        int     `json:"orders"`
	TotalRevenue  float64 `json:"total_revenue"`
	AvgOrderValue float64 `json:"avg_order_value"`
	Currency      string  `json:"currency"`
}

// GetEcommerceStats aggregates ecommerce events in the window.
func GetEcommerceStats(db *gorm.DB, query *Query) (*EcommerceStats, error) {
	purchases, err := fetchEvents(db, query, events.EventTypeEcommerce)
	if err != nil {
		return nil, err
	}

	stats := &EcommerceStats{}
	seenOrders := make(map[string]struct{})
	for i := range purchases {
		e := &purchases[i]
		if e.OrderID != "" {
			if _, seen := seenOrders[e.OrderID]; seen {
				continue
			}
			seenOrders[e.OrderID] = struct{}{}
		}
		stats.Orders++
		stats.TotalRevenue += e.Revenue
		if stats.Currency == "" {
			stats.Currency = e.Currency
		}
	}
	stats.AvgOrderValue = round2(safeDivide(stats.TotalRevenue, float64(stats.Orders)))
	return stats, nil
}

// FunnelStep is one step's result: how many sessions reached it in order.
type FunnelStep struct {
	Path           string  `json:"path"`
	Sessions       int     `json:"sessions"`
	ConversionRate float64 `json:"conversion_rate"`
}

// GetFunnel counts sessions that visited the step paths in order. A session
// counts for step k only if it counted for step k-1 and saw step k's path on
// a later-or-equal event.
func GetFunnel(db *gorm.DB, query *Query, steps []string) ([]FunnelStep, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("funnel requires at least one step")
	}

	pageviews, err := fetchEvents(db, query, events.EventTypePageview)
	if err != nil {
		return nil, err
	}

	// Events arrive in id order, which tracks insert order per session.
	paths := make(map[string][]string)
	for i := range pageviews {
		sid := pageviews[i].SessionID
		paths[sid] = append(paths[sid], pageviews[i].Pathname)
	}

	counts := make([]int, len(steps))
	for _, visited := range paths {
		step := 0
		for _, path := range visited {
			if step < len(steps) && path == steps[step] {
				counts[step]++
				step++
			}
		}
	}

	results := make([]FunnelStep, len(steps))
	for i, path := range steps {
		results[i] = FunnelStep{Path: path, Sessions: counts[i]}
		if i == 0 {
			if counts[0] > 0 {
				results[i].ConversionRate = 100
			}
			continue
		}
		results[i].ConversionRate = round2(safeDivide(float64(counts[i]), float64(counts[i-1])) * 100)
	}
	return results, nil
}

// RetentionCohort is one weekly cohort: visitors first seen in that week and
// the percentage returning in each subsequent week.
type RetentionCohort struct {
	WeekStart string    `json:"week_start"`
	Size      int       `json:"size"`
	Retention []float64 `json:"retention"`
}

// retentionMaxWeeks caps the cohort matrix.
const retentionMaxWeeks = 12

// GetRetention buckets visitors into weekly cohorts by first-seen week
// relative to the window start and computes per-week return percentages.
func GetRetention(db *gorm.DB, query *Query) ([]RetentionCohort, error) {
	rows, err := fetchEvents(db, query, events.EventTypePageview)
	if err != nil {
		return nil, err
	}

	type visitorActivity struct {
		firstWeek int
		weeks     map[int]struct{}
	}
	activity := make(map[string]*visitorActivity)
	for i := range rows {
		week := query.Timeframe.WeekIndex(rows[i].Timestamp)
		if week < 0 || week >= retentionMaxWeeks {
			continue
		}
		a := activity[rows[i].VisitorHash]
		if a == nil {
			a = &visitorActivity{firstWeek: week, weeks: make(map[int]struct{})}
			activity[rows[i].VisitorHash] = a
		}
		if week < a.firstWeek {
			a.firstWeek = week
		}
		a.weeks[week] = struct{}{}
	}

	const week = 7 * 24 * time.Hour
	weekCount := int(query.Timeframe.Duration() / week)
	if query.Timeframe.Duration()%week != 0 {
		weekCount++
	}
	if weekCount > retentionMaxWeeks {
		weekCount = retentionMaxWeeks
	}
	if weekCount == 0 {
		weekCount = 1
	}

	cohortSizes := make([]int, weekCount)
	returned := make([][]int, weekCount)
	for i := range returned {
		returned[i] = make([]int, weekCount)
	}
	for _, a := range activity {
		cohortSizes[a.firstWeek]++
		for week := range a.weeks {
			if week >= a.firstWeek && week < weekCount {
				returned[a.firstWeek][week-a.firstWeek]++
			}
		}
	}

	cohorts := make([]RetentionCohort, 0, weekCount)
	for cohort := 0; cohort < weekCount; cohort++ {
		weekStart := query.Timeframe.From.AddDate(0, 0, cohort*7)
		entry := RetentionCohort{
			WeekStart: weekStart.Format("2006-01-02"),
			Size:      cohortSizes[cohort],
		}
		for offset := 0; offset < weekCount-cohort; offset++ {
			rate := round2(safeDivide(float64(returned[cohort][offset]), float64(cohortSizes[cohort])) * 100)
			entry.Retention = append(entry.Retention, rate)
		}
		cohorts = append(cohorts, entry)
	}
	return cohorts, nil
}

// GoalStats is the conversion summary for one goal.
type GoalStats struct {
	GoalID         uint    `json:"goal_id"`
	Name           string  `json:"name"`
	Conversions    int     `json:"conversions"`
	ConversionRate float64 `json:"conversion_rate"`
	Revenue        float64 `json:"revenue"`
}

// GetGoalStats counts session-deduplicated conversions per goal, with the
// rate relative to the window's session count.
func GetGoalStats(db *gorm.DB, query *Query) ([]GoalStats, error) {
	siteGoals, err := goals.GetGoalsBySite(db, query.SiteID)
	if err != nil {
		return nil, err
	}
	sessionRows, err := fetchSessions(db, query)
	if err != nil {
		return nil, err
	}
	totalSessions := float64(len(sessionRows))

	stats := make([]GoalStats, 0, len(siteGoals))
	for i := range siteGoals {
		goal := &siteGoals[i]

		var conversions []goals.GoalConversion
		err := db.Where("goal_id = ? AND converted_at >= ? AND converted_at < ?",
			goal.ID, query.Timeframe.From, query.Timeframe.To).
			Find(&conversions).Error
		if err != nil {
			return nil, fmt.Errorf("failed to fetch conversions: %w", err)
		}

		var revenue float64
		for j := range conversions {
			revenue += conversions[j].Revenue
		}
		stats = append(stats, GoalStats{
			GoalID:         goal.ID,
			Name:           goal.Name,
			Conversions:    len(conversions),
			ConversionRate: round2(safeDivide(float64(len(conversions)), totalSessions) * 100),
			Revenue:        revenue,
		})
	}
	return stats, nil
}
