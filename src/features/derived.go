package features

import (
	"fmt"
	"time"

	"rebalancer/src/conditions"
	"rebalancer/src/datamodels"
)

const (
	rollingExtremeSessions = 252 // one trading year
	recoveryLookback       = 5
)

// enrichedRow is one session with its derived fields materialized. The
// raw bar and indicator columns stay in row; derived holds what this
// package computes on top, already typed for expression evaluation.
type enrichedRow struct {
	row     datamodels.FeatureRow
	derived map[string]conditions.Value
}

func (e *enrichedRow) Field(name string) (conditions.Value, bool) {
	if v, ok := e.derived[name]; ok {
		return v, true
	}
	if raw, ok := e.row.Field(name); ok {
		return conditions.Number(raw), true
	}
	return conditions.Value{}, false
}

// enrichedSeries mirrors a FeatureSeries with derived fields attached.
type enrichedSeries struct {
	instrument string
	base       *datamodels.FeatureSeries
	rows       []enrichedRow
}

// ContextBuilder precomputes derived fields for every instrument once
// and serves point-in-time views. Derived fields at row t use only rows
// <= t of the instrument and the benchmark, so any view cut before a
// date is free of information from that date onward.
type ContextBuilder struct {
	series            map[string]*enrichedSeries
	momentumHorizons  []int
	recoveryThreshold float64 // pct, e.g. 8 means +8%
}

func NewContextBuilder(
	benchmark *datamodels.FeatureSeries,
	instruments []*datamodels.FeatureSeries,
	momentumHorizons []int,
	recoveryThresholdPct float64,
) *ContextBuilder {
	b := &ContextBuilder{
		series:            make(map[string]*enrichedSeries, len(instruments)),
		momentumHorizons:  momentumHorizons,
		recoveryThreshold: recoveryThresholdPct,
	}
	for _, s := range instruments {
		b.series[s.Instrument] = b.enrich(s, benchmark)
	}
	return b
}

// enrich walks the series once and attaches every derived field.
func (b *ContextBuilder) enrich(s *datamodels.FeatureSeries, benchmark *datamodels.FeatureSeries) *enrichedSeries {
	out := &enrichedSeries{instrument: s.Instrument, base: s, rows: make([]enrichedRow, s.Len())}
	for i := 0; i < s.Len(); i++ {
		row := s.Row(i)
		derived := make(map[string]conditions.Value)

		for _, n := range b.momentumHorizons {
			if ret, ok := trailingReturn(s, i, n); ok {
				derived[fmt.Sprintf("return_%dd", n)] = conditions.Number(ret)
				if benchRet, ok := benchmarkReturn(s, benchmark, i, n); ok {
					// ratio of growth factors over the same dates, not
					// the difference of returns
					if denom := 1 + benchRet/100; denom != 0 {
						derived[fmt.Sprintf("rel_mom_%d", n)] = conditions.Number(((1+ret/100)/denom - 1) * 100)
					}
				}
			}
		}

		high, low := rollingExtremes(s, i, rollingExtremeSessions)
		derived["high_52w"] = conditions.Number(high)
		derived["low_52w"] = conditions.Number(low)
		if high > 0 {
			derived["high_52w_ratio"] = conditions.Number(row.Close / high * 100)
		}
		if low > 0 {
			derived["low_52w_ratio"] = conditions.Number(row.Close / low * 100)
		}

		if recovered, ok := recoveryFromLow(s, i, b.recoveryThreshold); ok {
			derived["recovery_from_low"] = conditions.Boolean(recovered)
		}

		out.rows[i] = enrichedRow{row: *row, derived: derived}
	}
	return out
}

// trailingReturn is the percent change of close over the last n
// sessions: close[i] vs close[i-n].
func trailingReturn(s *datamodels.FeatureSeries, i, n int) (float64, bool) {
	if n <= 0 || i < n {
		return 0, false
	}
	base := s.Row(i - n).Close
	if base <= 0 {
		return 0, false
	}
	return (s.Row(i).Close/base - 1) * 100, true
}

// benchmarkReturn computes the benchmark's return over the same two
// calendar dates the instrument's return spans. Both dates must exist in
// the benchmark series; the join is by date, not by position.
func benchmarkReturn(s, benchmark *datamodels.FeatureSeries, i, n int) (float64, bool) {
	if benchmark == nil || i < n {
		return 0, false
	}
	endRow, ok := benchmark.RowAt(s.Row(i).Date)
	if !ok {
		return 0, false
	}
	startRow, ok := benchmark.RowAt(s.Row(i - n).Date)
	if !ok || startRow.Close <= 0 {
		return 0, false
	}
	return (endRow.Close/startRow.Close - 1) * 100, true
}

// rollingExtremes scans up to n sessions ending at i inclusive. Partial
// windows are allowed so the fields exist from the first row.
func rollingExtremes(s *datamodels.FeatureSeries, i, n int) (high, low float64) {
	start := i - n + 1
	if start < 0 {
		start = 0
	}
	high = s.Row(start).High
	low = s.Row(start).Low
	for j := start + 1; j <= i; j++ {
		row := s.Row(j)
		if row.High > high {
			high = row.High
		}
		if row.Low < low && row.Low > 0 {
			low = row.Low
		}
	}
	return high, low
}

// recoveryFromLow reports whether close at row i has rebounded at least
// thresholdPct above the minimum close of the preceding sessions. It
// needs at least one preceding row.
func recoveryFromLow(s *datamodels.FeatureSeries, i int, thresholdPct float64) (bool, bool) {
	if i < 1 {
		return false, false
	}
	start := i - recoveryLookback
	if start < 0 {
		start = 0
	}
	minClose := s.Row(start).Close
	for j := start + 1; j < i; j++ {
		if c := s.Row(j).Close; c < minClose {
			minClose = c
		}
	}
	if minClose <= 0 {
		return false, false
	}
	return s.Row(i).Close >= minClose*(1+thresholdPct/100), true
}

// View is a point-in-time slice of one instrument's enriched series: the
// rows up to (and excluding or including, per constructor) a date. It is
// the evaluation context handed to condition sets.
type View struct {
	series *enrichedSeries
	end    int // index of the last visible row, -1 when empty
}

// ViewBefore exposes rows strictly before the cutoff date. Decision-date
// evaluation uses this form so the cutoff session itself stays unseen.
func (b *ContextBuilder) ViewBefore(instrument string, cutoff time.Time) (*View, bool) {
	es, ok := b.series[instrument]
	if !ok {
		return nil, false
	}
	return &View{series: es, end: es.base.IndexBefore(cutoff)}, true
}

// ViewThrough exposes rows up to and including the given day. Exit
// scanning uses this form: the trigger day's own bar is visible.
func (b *ContextBuilder) ViewThrough(instrument string, day time.Time) (*View, bool) {
	es, ok := b.series[instrument]
	if !ok {
		return nil, false
	}
	next := datamodels.Day(day).AddDate(0, 0, 1)
	return &View{series: es, end: es.base.IndexBefore(next)}, true
}

func (v *View) Snapshot() (conditions.FieldSource, bool) {
	if v.end < 0 {
		return nil, false
	}
	return &v.series.rows[v.end], true
}

func (v *View) Window(n int) []conditions.FieldSource {
	if v.end < 0 || n <= 0 {
		return nil
	}
	start := v.end - n + 1
	if start < 0 {
		start = 0
	}
	out := make([]conditions.FieldSource, 0, v.end-start+1)
	for i := start; i <= v.end; i++ {
		out = append(out, &v.series.rows[i])
	}
	return out
}

// Len reports how many sessions the view can see.
func (v *View) Len() int { return v.end + 1 }
