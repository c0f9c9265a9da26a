// Package timeframe resolves report date ranges: either an explicit
// start/end pair or a named relative period token, evaluated in the site's
// timezone.
package timeframe

import (
	"fmt"
	"time"
)

// RangeLabel is a named relative period token.
type RangeLabel string

const (
	RangeLabelToday       RangeLabel = "today"
	RangeLabelYesterday   RangeLabel = "yesterday"
	RangeLabelLast7Days   RangeLabel = "last_7_days"
	RangeLabelLast30Days  RangeLabel = "last_30_days"
	RangeLabelMonthToDate RangeLabel = "month_to_date"
	RangeLabelLastMonth   RangeLabel = "last_month"
	RangeLabelYearToDate  RangeLabel = "year_to_date"
	RangeLabelCustom      RangeLabel = "custom"
)

// Timeframe is a half-open UTC window [From, To).
type Timeframe struct {
	From  time.Time
	To    time.Time
	Label RangeLabel
	Tz    *time.Location
}

// NewCustom builds an explicit timeframe. To is exclusive.
func NewCustom(from, to time.Time, tz *time.Location) (*Timeframe, error) {
	if tz == nil {
		tz = time.UTC
	}
	if !from.Before(to) {
		return nil, fmt.Errorf("from must be before to")
	}
	return &Timeframe{From: from.UTC(), To: to.UTC(), Label: RangeLabelCustom, Tz: tz}, nil
}

// Resolve expands a named period token relative to now in the given
// timezone. Day boundaries are the timezone's midnights, converted to UTC.
func Resolve(label RangeLabel, now time.Time, tz *time.Location) (*Timeframe, error) {
	if tz == nil {
		tz = time.UTC
	}
	local := now.In(tz)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)

	var from, to time.Time
	switch label {
	case RangeLabelToday:
		from, to = midnight, midnight.AddDate(0, 0, 1)
	case RangeLabelYesterday:
		from, to = midnight.AddDate(0, 0, -1), midnight
	case RangeLabelLast7Days:
		from, to = midnight.AddDate(0, 0, -6), midnight.AddDate(0, 0, 1)
	case RangeLabelLast30Days:
		from, to = midnight.AddDate(0, 0, -29), midnight.AddDate(0, 0, 1)
	case RangeLabelMonthToDate:
		from = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, tz)
		to = midnight.AddDate(0, 0, 1)
	case RangeLabelLastMonth:
		thisMonth := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, tz)
		from, to = thisMonth.AddDate(0, -1, 0), thisMonth
	case RangeLabelYearToDate:
		from = time.Date(local.Year(), 1, 1, 0, 0, 0, 0, tz)
		to = midnight.AddDate(0, 0, 1)
	default:
		return nil, fmt.Errorf("unknown period token %q", label)
	}

	return &Timeframe{From: from.UTC(), To: to.UTC(), Label: label, Tz: tz}, nil
}

// Interval selects the bucket size of a timeseries.
type Interval string

const (
	IntervalHour Interval = "hour"
	IntervalDay  Interval = "day"
	IntervalWeek Interval = "week"
)

// ParseInterval validates an interval token; empty defaults to day.
func ParseInterval(s string) (Interval, error) {
	switch Interval(s) {
	case "":
		return IntervalDay, nil
	case IntervalHour, IntervalDay, IntervalWeek:
		return Interval(s), nil
	default:
		return "", fmt.Errorf("unknown interval %q", s)
	}
}

// Days returns the covered local calendar days in order, formatted
// YYYY-MM-DD. Used to zero-fill timeseries buckets.
func (tf *Timeframe) Days() []string {
	var days []string
	current := tf.localStart()
	for current.Before(tf.To.In(tf.Tz)) {
		days = append(days, current.Format("2006-01-02"))
		current = current.AddDate(0, 0, 1)
	}
	return days
}

// Buckets returns the ordered bucket keys covering the window for the
// interval. Day and week buckets start at the timezone's midnights; hour
// buckets step in absolute hours so DST transitions never skip or repeat a
// bucket.
func (tf *Timeframe) Buckets(iv Interval) []string {
	switch iv {
	case IntervalHour:
		var keys []string
		local := tf.From.In(tf.Tz)
		current := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, tf.Tz)
		for current.Before(tf.To) {
			keys = append(keys, current.In(tf.Tz).Format("2006-01-02 15:00"))
			current = current.Add(time.Hour)
		}
		return keys
	case IntervalWeek:
		var keys []string
		current := tf.localStart()
		for current.Before(tf.To.In(tf.Tz)) {
			keys = append(keys, current.Format("2006-01-02"))
			current = current.AddDate(0, 0, 7)
		}
		return keys
	default:
		return tf.Days()
	}
}

// DayKey formats a timestamp into its local calendar-day bucket.
func (tf *Timeframe) DayKey(t time.Time) string {
	return t.In(tf.Tz).Format("2006-01-02")
}

// BucketKey formats a timestamp into its bucket for the interval. Week
// buckets are keyed by the local date of their first day, aligned to the
// window start.
func (tf *Timeframe) BucketKey(t time.Time, iv Interval) string {
	switch iv {
	case IntervalHour:
		return t.In(tf.Tz).Format("2006-01-02 15:00")
	case IntervalWeek:
		start := tf.localStart()
		days := civilDays(start, t.In(tf.Tz))
		if days < 0 {
			days = 0
		}
		return start.AddDate(0, 0, (days/7)*7).Format("2006-01-02")
	default:
		return tf.DayKey(t)
	}
}

func (tf *Timeframe) localStart() time.Time {
	local := tf.From.In(tf.Tz)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tf.Tz)
}

// civilDays counts calendar days between two local dates, immune to DST
// making a day 23 or 25 hours long.
func civilDays(a, b time.Time) int {
	au := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bu := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(bu.Sub(au).Hours() / 24)
}

// WeekIndex returns the zero-based week bucket of t relative to the window
// start, or -1 when t precedes the window. Used by retention cohorts.
func (tf *Timeframe) WeekIndex(t time.Time) int {
	if t.Before(tf.From) {
		return -1
	}
	return int(t.Sub(tf.From).Hours() / (24 * 7))
}

// Duration returns the window length.
func (tf *Timeframe) Duration() time.Duration {
	return tf.To.Sub(tf.From)
}
