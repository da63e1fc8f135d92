package benchmarks

import (
	"log/slog"
	"time"

	"rebalancer/src/conditions"
	"rebalancer/src/datamodels"
	"rebalancer/src/features"
	"rebalancer/src/store"
	"rebalancer/src/utils/errors"
)

// Comparator replays reference strategies over the exact cycle list of
// the primary run, producing equity curves of identical shape so the
// three curves compare point for point.
type Comparator struct {
	cfg      *datamodels.SimulatorConfig
	store    store.FeatureStore
	contexts *features.ContextBuilder
	entrySet *conditions.CompiledSet
}

func NewComparator(cfg *datamodels.SimulatorConfig, featureStore store.FeatureStore, contexts *features.ContextBuilder) *Comparator {
	return &Comparator{
		cfg:      cfg,
		store:    featureStore,
		contexts: contexts,
		entrySet: conditions.Compile(cfg.Strategy.Entry),
	}
}

// FixedHold buys and holds the benchmark instrument, selling and
// rebuying at every cycle boundary so the curve carries the same
// transaction-cost drag the primary strategy would pay for churning.
func (c *Comparator) FixedHold(cycles []datamodels.EvaluationCycle) ([]datamodels.EquityCurvePoint, error) {
	if c.cfg.Data.BenchmarkInstrument == "" {
		return nil, errors.Wrap(errors.ErrDataUnavailable, "no benchmark instrument configured")
	}
	start, end, err := c.cfg.Schedule.Range()
	if err != nil {
		return nil, err
	}

	curve := []datamodels.EquityCurvePoint{{
		Cycle: "start", Date: datamodels.Day(start), Value: c.cfg.InitialCapital,
	}}
	cash := c.cfg.InitialCapital
	shares := 0.0

	for _, cycle := range cycles {
		price, _, err := c.openOnOrAfter(c.cfg.Data.BenchmarkInstrument, cycle.Start)
		if err != nil {
			return nil, err
		}
		if shares > 0 {
			cash = shares * price * (1 - c.cfg.Costs.SellRate)
			shares = 0
		}
		curve = appendPoint(curve, cycle.Label, cycle.Start, cash)

		invested := cash
		if c.cfg.Costs.FeeOnEntry {
			invested = cash * (1 - c.cfg.Costs.SellRate)
		}
		shares = invested / price
		cash = 0
	}

	value, lastDay, err := c.finalValue(map[string]float64{c.cfg.Data.BenchmarkInstrument: shares}, cash, end)
	if err != nil {
		return nil, err
	}
	curve = appendPoint(curve, "final", lastDay, value)
	return curve, nil
}

// EqualWeightEligible runs the same entry evaluator with the same
// minimum-satisfied gate but no holdings cap: every eligible instrument
// gets an equal slice each cycle. An empty eligible set holds cash.
func (c *Comparator) EqualWeightEligible(cycles []datamodels.EvaluationCycle) ([]datamodels.EquityCurvePoint, error) {
	start, end, err := c.cfg.Schedule.Range()
	if err != nil {
		return nil, err
	}

	curve := []datamodels.EquityCurvePoint{{
		Cycle: "start", Date: datamodels.Day(start), Value: c.cfg.InitialCapital,
	}}
	cash := c.cfg.InitialCapital
	holdings := make(map[string]float64) // instrument -> shares

	for _, cycle := range cycles {
		// liquidate everything at the boundary open
		for code, shares := range holdings {
			price, _, err := c.openOnOrAfter(code, cycle.Start)
			if err != nil {
				return nil, err
			}
			cash += shares * price * (1 - c.cfg.Costs.SellRate)
		}
		holdings = make(map[string]float64)
		curve = appendPoint(curve, cycle.Label, cycle.Start, cash)

		eligible := c.eligibleAt(cycle.Start)
		if len(eligible) == 0 {
			slog.Debug("Equal-weight benchmark held in cash", "cycle", cycle.Label)
			continue
		}
		allocation := cash / float64(len(eligible))
		for _, code := range eligible {
			price, _, err := c.openOnOrAfter(code, cycle.Start)
			if err != nil {
				slog.Warn("Equal-weight benchmark skipping instrument",
					"instrument", code, "cycle", cycle.Label, "error", err)
				continue
			}
			invested := allocation
			if c.cfg.Costs.FeeOnEntry {
				invested = allocation * (1 - c.cfg.Costs.SellRate)
			}
			holdings[code] = invested / price
			cash -= allocation
		}
	}

	value, lastDay, err := c.finalValue(holdings, cash, end)
	if err != nil {
		return nil, err
	}
	curve = appendPoint(curve, "final", lastDay, value)
	return curve, nil
}

// eligibleAt returns the instruments passing the entry gate at the
// decision date, in configuration order.
func (c *Comparator) eligibleAt(decision time.Time) []string {
	var out []string
	for _, code := range c.store.Instruments() {
		view, ok := c.contexts.ViewBefore(code, decision)
		if !ok || view.Len() == 0 {
			continue
		}
		if eligible, _ := c.entrySet.EvaluateEligible(view); eligible {
			out = append(out, code)
		}
	}
	return out
}

func (c *Comparator) openOnOrAfter(code string, day time.Time) (float64, time.Time, error) {
	series, err := c.store.Series(code)
	if err != nil {
		return 0, time.Time{}, err
	}
	if row, ok := series.RowAt(day); ok {
		return row.Open, row.Date, nil
	}
	if row, ok := series.FirstRowAfter(day); ok {
		return row.Open, row.Date, nil
	}
	return 0, time.Time{}, errors.Wrapf(errors.ErrDataUnavailable,
		"no execution session for %s on or after %s", code, day.Format(datamodels.DateLayout))
}

// finalValue marks the remaining holdings at the close of the last
// trading day inside the range.
func (c *Comparator) finalValue(holdings map[string]float64, cash float64, end time.Time) (float64, time.Time, error) {
	lastDay, ok := c.store.Calendar().LastOnOrBefore(end)
	if !ok {
		return 0, time.Time{}, errors.Wrap(errors.ErrDataUnavailable, "no trading day at or before the end date")
	}
	value := cash
	for code, shares := range holdings {
		if shares == 0 {
			continue
		}
		series, err := c.store.Series(code)
		if err != nil {
			return 0, time.Time{}, err
		}
		row, found := series.LatestBefore(lastDay.AddDate(0, 0, 1))
		if !found {
			return 0, time.Time{}, errors.Wrapf(errors.ErrDataUnavailable, "no final price for %s", code)
		}
		value += shares * row.Close
	}
	return value, lastDay, nil
}

func appendPoint(curve []datamodels.EquityCurvePoint, label string, date time.Time, value float64) []datamodels.EquityCurvePoint {
	prev := curve[len(curve)-1].Value
	ret := 0.0
	if prev > 0 {
		ret = (value/prev - 1) * 100
	}
	return append(curve, datamodels.EquityCurvePoint{
		Cycle:          label,
		Date:           datamodels.Day(date),
		Value:          value,
		CycleReturnPct: ret,
	})
}
