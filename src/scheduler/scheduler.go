package scheduler

import (
	"fmt"
	"time"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/errors"
)

// DecisionDates computes the rebalancing decision dates for a rule over
// [start, end]. Every returned date is a trading day, the list is
// strictly increasing, and calendar gaps (holiday weeks, empty interval
// buckets) are skipped rather than padded.
func DecisionDates(
	calendar *datamodels.TradingCalendar,
	start, end time.Time,
	rule datamodels.CadenceRule,
) ([]time.Time, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	start, end = datamodels.Day(start), datamodels.Day(end)
	if end.Before(start) {
		return nil, errors.Newf("end date %s precedes start date %s",
			end.Format(datamodels.DateLayout), start.Format(datamodels.DateLayout))
	}
	days := calendar.Between(start, end)
	if len(days) == 0 {
		return nil, errors.Wrapf(errors.ErrDataUnavailable,
			"no trading days between %s and %s",
			start.Format(datamodels.DateLayout), end.Format(datamodels.DateLayout))
	}

	switch rule.Kind {
	case datamodels.CadenceFixedInterval:
		return fixedIntervalDates(days, start, rule.IntervalDays), nil
	case datamodels.CadenceWeeklyFirst:
		return firstOfBucketDates(days, weekKey), nil
	case datamodels.CadenceMonthlyFirst:
		return firstOfBucketDates(days, monthKey), nil
	case datamodels.CadenceMonthlyFirstThreeWeeks:
		return earlyMonthWeeklyDates(days), nil
	}
	return nil, errors.Newf("unknown cadence kind %q", rule.Kind)
}

// fixedIntervalDates buckets the range into consecutive n-day windows
// anchored at the start date and picks the first trading day of each
// non-empty bucket.
func fixedIntervalDates(days []time.Time, start time.Time, n int) []time.Time {
	var out []time.Time
	lastBucket := -1
	for _, d := range days {
		bucket := int(d.Sub(start).Hours()/24) / n
		if bucket != lastBucket {
			out = append(out, d)
			lastBucket = bucket
		}
	}
	return out
}

// firstOfBucketDates picks the first trading day of each bucket, where
// the key function defines the bucket (calendar week or month).
func firstOfBucketDates(days []time.Time, key func(time.Time) string) []time.Time {
	var out []time.Time
	lastKey := ""
	for _, d := range days {
		k := key(d)
		if k != lastKey {
			out = append(out, d)
			lastKey = k
		}
	}
	return out
}

func weekKey(d time.Time) string {
	year, week := d.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func monthKey(d time.Time) string {
	return fmt.Sprintf("%04d-%02d", d.Year(), int(d.Month()))
}

// earlyMonthWeeklyDates takes the first trading day of each calendar
// week, keeping only weeks whose Monday falls in the first three weeks
// of its month. Week-in-month counts from the month's first day:
// ((monday - monthStart) / 7) + 1.
func earlyMonthWeeklyDates(days []time.Time) []time.Time {
	weekly := firstOfBucketDates(days, weekKey)
	var out []time.Time
	for _, d := range weekly {
		if weekInMonth(d) <= 3 {
			out = append(out, d)
		}
	}
	return out
}

func weekInMonth(d time.Time) int {
	monday := mondayOf(d)
	monthStart := time.Date(monday.Year(), monday.Month(), 1, 0, 0, 0, 0, time.UTC)
	return int(monday.Sub(monthStart).Hours()/24)/7 + 1
}

func mondayOf(d time.Time) time.Time {
	offset := (int(d.Weekday()) + 6) % 7 // Monday = 0
	return datamodels.Day(d).AddDate(0, 0, -offset)
}

// Cycles partitions [start, end] by the decision dates: each date opens
// a half-open cycle ending at the next date, and the last cycle runs
// closed to the global end.
func Cycles(dates []time.Time, end time.Time) ([]datamodels.EvaluationCycle, error) {
	if len(dates) == 0 {
		return nil, errors.Wrap(errors.ErrDataUnavailable, "no decision dates to build cycles from")
	}
	end = datamodels.Day(end)
	cycles := make([]datamodels.EvaluationCycle, 0, len(dates))
	for i, d := range dates {
		cycle := datamodels.EvaluationCycle{
			Label: fmt.Sprintf("cycle_%03d", i+1),
			Start: d,
		}
		if i+1 < len(dates) {
			cycle.End = dates[i+1]
		} else {
			cycle.End = end
			cycle.Final = true
		}
		cycles = append(cycles, cycle)
	}
	return cycles, nil
}
