package datamodels

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Well-known column names every instrument table must carry.
const (
	FieldDate   = "date"
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
)

// FeatureRow is one trading session of an instrument: the raw OHLCV bar
// plus any indicator columns that came with the table.
type FeatureRow struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Extra  map[string]float64
}

// Field returns a named field of the row. Raw bar fields resolve to the
// struct members, everything else is looked up in the indicator columns.
func (r *FeatureRow) Field(name string) (float64, bool) {
	switch name {
	case FieldOpen:
		return r.Open, true
	case FieldHigh:
		return r.High, true
	case FieldLow:
		return r.Low, true
	case FieldClose:
		return r.Close, true
	case FieldVolume:
		return r.Volume, true
	}
	val, ok := r.Extra[name]
	return val, ok
}

func (r *FeatureRow) String() string {
	return fmt.Sprintf("{Date: %s, Open: %.4f, Close: %.4f, Extra: %d fields}",
		r.Date.Format(DateLayout), r.Open, r.Close, len(r.Extra))
}

// DateLayout is the canonical date format for the whole simulator.
const DateLayout = "2006-01-02"

// Day truncates a timestamp to a UTC calendar date so that dates loaded
// from different sources compare equal.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FeatureSeries is the full, immutable, date-ascending table of one
// instrument. It is loaded once per run and never mutated afterwards.
type FeatureSeries struct {
	Instrument string
	rows       []FeatureRow
	index      map[time.Time]int
}

// NewFeatureSeries validates ordering and uniqueness and builds the
// date index. Rows must be ascending by date with no duplicates.
func NewFeatureSeries(instrument string, rows []FeatureRow) (*FeatureSeries, error) {
	index := make(map[time.Time]int, len(rows))
	for i := range rows {
		rows[i].Date = Day(rows[i].Date)
		if i > 0 && !rows[i].Date.After(rows[i-1].Date) {
			return nil, fmt.Errorf("series %s is not strictly ascending at row %d (%s)",
				instrument, i, rows[i].Date.Format(DateLayout))
		}
		index[rows[i].Date] = i
	}
	return &FeatureSeries{Instrument: instrument, rows: rows, index: index}, nil
}

func (s *FeatureSeries) Len() int { return len(s.rows) }

// Row returns the row at position i.
func (s *FeatureSeries) Row(i int) *FeatureRow { return &s.rows[i] }

// RowAt returns the row for an exact trading date, if the instrument
// traded that day.
func (s *FeatureSeries) RowAt(date time.Time) (*FeatureRow, bool) {
	i, ok := s.index[Day(date)]
	if !ok {
		return nil, false
	}
	return &s.rows[i], true
}

// IndexBefore returns the position of the latest row with date < cutoff,
// or -1 when no such row exists.
func (s *FeatureSeries) IndexBefore(cutoff time.Time) int {
	cutoff = Day(cutoff)
	// first row with date >= cutoff
	i := sort.Search(len(s.rows), func(i int) bool {
		return !s.rows[i].Date.Before(cutoff)
	})
	return i - 1
}

// LatestBefore returns the last row strictly before the cutoff date.
// This is the point-in-time snapshot used for decision-date evaluation.
func (s *FeatureSeries) LatestBefore(cutoff time.Time) (*FeatureRow, bool) {
	i := s.IndexBefore(cutoff)
	if i < 0 {
		return nil, false
	}
	return &s.rows[i], true
}

// WindowBefore returns up to n rows ending with the latest row strictly
// before the cutoff date, oldest first.
func (s *FeatureSeries) WindowBefore(cutoff time.Time, n int) []FeatureRow {
	end := s.IndexBefore(cutoff)
	if end < 0 || n <= 0 {
		return nil
	}
	start := end - n + 1
	if start < 0 {
		start = 0
	}
	return s.rows[start : end+1]
}

// FirstRowAfter returns the first row strictly after the given date,
// which is where deferred next-session executions land.
func (s *FeatureSeries) FirstRowAfter(date time.Time) (*FeatureRow, bool) {
	date = Day(date)
	i := sort.Search(len(s.rows), func(i int) bool {
		return s.rows[i].Date.After(date)
	})
	if i >= len(s.rows) {
		return nil, false
	}
	return &s.rows[i], true
}

// TradingCalendar is the ordered, de-duplicated list of tradable days.
// It is the sole source of truth for "is this a trading day".
type TradingCalendar struct {
	days  []time.Time
	index map[time.Time]int
}

func NewTradingCalendar(days []time.Time) *TradingCalendar {
	normalized := make([]time.Time, 0, len(days))
	seen := make(map[time.Time]bool, len(days))
	for _, d := range days {
		day := Day(d)
		if !seen[day] {
			seen[day] = true
			normalized = append(normalized, day)
		}
	}
	sort.Slice(normalized, func(i, j int) bool { return normalized[i].Before(normalized[j]) })
	index := make(map[time.Time]int, len(normalized))
	for i, d := range normalized {
		index[d] = i
	}
	return &TradingCalendar{days: normalized, index: index}
}

func (c *TradingCalendar) Len() int          { return len(c.days) }
func (c *TradingCalendar) Days() []time.Time { return c.days }

func (c *TradingCalendar) Contains(d time.Time) bool {
	_, ok := c.index[Day(d)]
	return ok
}

// NextAfter returns the first trading day strictly after d.
func (c *TradingCalendar) NextAfter(d time.Time) (time.Time, bool) {
	day := Day(d)
	i := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(day) })
	if i >= len(c.days) {
		return time.Time{}, false
	}
	return c.days[i], true
}

// Between returns the trading days in [start, end] inclusive.
func (c *TradingCalendar) Between(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	lo := sort.Search(len(c.days), func(i int) bool { return !c.days[i].Before(start) })
	hi := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(end) })
	return c.days[lo:hi]
}

// LastOnOrBefore returns the latest trading day <= d.
func (c *TradingCalendar) LastOnOrBefore(d time.Time) (time.Time, bool) {
	day := Day(d)
	i := sort.Search(len(c.days), func(i int) bool { return c.days[i].After(day) })
	if i == 0 {
		return time.Time{}, false
	}
	return c.days[i-1], true
}

func (c *TradingCalendar) String() string {
	if len(c.days) == 0 {
		return "TradingCalendar{empty}"
	}
	parts := []string{
		c.days[0].Format(DateLayout),
		c.days[len(c.days)-1].Format(DateLayout),
	}
	return fmt.Sprintf("TradingCalendar{%s}", strings.Join(parts, " .. "))
}
