//go:build unit

package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/src/datamodels"
	"rebalancer/src/selection"
	"rebalancer/src/store"
	"rebalancer/src/utils/errors"
)

// memStore is an in-memory FeatureStore for engine tests.
type memStore struct {
	order    []string
	series   map[string]*datamodels.FeatureSeries
	calendar *datamodels.TradingCalendar
}

func newMemStore(series ...*datamodels.FeatureSeries) *memStore {
	s := &memStore{series: make(map[string]*datamodels.FeatureSeries)}
	var days []time.Time
	for _, sr := range series {
		s.order = append(s.order, sr.Instrument)
		s.series[sr.Instrument] = sr
		for i := 0; i < sr.Len(); i++ {
			days = append(days, sr.Row(i).Date)
		}
	}
	s.calendar = datamodels.NewTradingCalendar(days)
	return s
}

func (s *memStore) Instruments() []string { return s.order }

func (s *memStore) Series(instrument string) (*datamodels.FeatureSeries, error) {
	sr, ok := s.series[instrument]
	if !ok {
		return nil, errors.Wrapf(errors.ErrDataUnavailable, "no series for %s", instrument)
	}
	return sr, nil
}

func (s *memStore) SnapshotBefore(instrument string, cutoff time.Time) (*datamodels.FeatureRow, error) {
	sr, err := s.Series(instrument)
	if err != nil {
		return nil, err
	}
	row, ok := sr.LatestBefore(cutoff)
	if !ok {
		return nil, errors.Wrap(errors.ErrDataUnavailable, "no snapshot")
	}
	return row, nil
}

func (s *memStore) WindowBefore(instrument string, cutoff time.Time, n int) ([]datamodels.FeatureRow, error) {
	sr, err := s.Series(instrument)
	if err != nil {
		return nil, err
	}
	return sr.WindowBefore(cutoff, n), nil
}

func (s *memStore) Calendar() *datamodels.TradingCalendar { return s.calendar }

var _ store.FeatureStore = (*memStore)(nil)

// day(-5)..day(19): sessions start five days before the schedule so the
// first decision date has history to look at.
func day(offset int) time.Time {
	return time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

// makeSeries builds a series from day(-5) with constant or per-day
// closes and optional extra columns aligned to the closes slice.
func makeSeries(t *testing.T, code string, closes []float64, extra map[string][]float64) *datamodels.FeatureSeries {
	t.Helper()
	rows := make([]datamodels.FeatureRow, len(closes))
	for i, c := range closes {
		fields := make(map[string]float64, len(extra))
		for name, values := range extra {
			fields[name] = values[i]
		}
		rows[i] = datamodels.FeatureRow{
			Date: day(i - 5), Open: c, High: c, Low: c, Close: c, Volume: 1000, Extra: fields,
		}
	}
	s, err := datamodels.NewFeatureSeries(code, rows)
	require.NoError(t, err)
	return s
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func baseConfig(instruments ...string) *datamodels.SimulatorConfig {
	return &datamodels.SimulatorConfig{
		InitialCapital: 10000,
		Seed:           42,
		Data: datamodels.DataConfig{
			Dir:                "unused",
			CalendarInstrument: instruments[0],
			Instruments:        instruments,
		},
		Schedule: datamodels.ScheduleConfig{
			StartDate: "2023-03-01",
			EndDate:   "2023-03-20",
			Cadence:   datamodels.CadenceRule{Kind: datamodels.CadenceFixedInterval, IntervalDays: 10},
		},
		Strategy: datamodels.StrategyConfig{
			MaxHoldings: 1,
			Entry: datamodels.ConditionSet{
				MinSatisfied: 0,
				Conditions: []datamodels.Condition{
					{Expression: "close > 0", Required: true},
					{Expression: "sig_a > 0"},
					{Expression: "sig_b > 0"},
				},
			},
		},
		Costs: datamodels.CostConfig{SellRate: 0},
	}
}

func runEngine(t *testing.T, cfg *datamodels.SimulatorConfig, st store.FeatureStore) *RunResult {
	t.Helper()
	engine, err := NewEngineBuilder(cfg, st).
		WithTieBreaker(selection.LexicographicTieBreaker{}).
		Build()
	require.NoError(t, err)
	result, err := engine.Run(context.Background())
	require.NoError(t, err)
	return result
}

func TestEngineSelectsTopScoreAndRetains(t *testing.T) {
	n := 25
	st := newMemStore(
		makeSeries(t, "AAA", constant(100, n), map[string][]float64{
			"sig_a": constant(1, n), "sig_b": constant(1, n),
		}),
		makeSeries(t, "BBB", constant(100, n), map[string][]float64{
			"sig_a": constant(1, n), "sig_b": constant(-1, n),
		}),
	)
	result := runEngine(t, baseConfig("AAA", "BBB"), st)

	// two decision dates, AAA wins both and is retained the second time
	require.Len(t, result.DecisionDates, 2)
	ledger := result.Ledger
	require.Len(t, ledger, 1)
	assert.Equal(t, "AAA", ledger[0].Instrument)
	assert.Equal(t, datamodels.SideBuy, ledger[0].Side)
	assert.Equal(t, day(0), ledger[0].Date)

	// start, two cycles, final mark; flat price keeps value flat
	curve := result.Curve
	require.Len(t, curve, 4)
	for _, point := range curve {
		assert.InDelta(t, 10000, point.Value, 1e-9)
	}
	assert.Equal(t, "final", curve[3].Cycle)
}

func TestEngineIgnoresDataAtDecisionDate(t *testing.T) {
	n := 25
	// DDD's signals turn on only from the second decision date itself;
	// rows before it never satisfy them
	lateSignal := constant(-1, n)
	for i := 15; i < n; i++ { // day(10) onward
		lateSignal[i] = 100
	}
	st := newMemStore(
		makeSeries(t, "AAA", constant(100, n), map[string][]float64{
			"sig_a": constant(1, n), "sig_b": constant(-1, n),
		}),
		makeSeries(t, "DDD", constant(100, n), map[string][]float64{
			"sig_a": lateSignal, "sig_b": lateSignal,
		}),
	)
	result := runEngine(t, baseConfig("AAA", "DDD"), st)

	for _, txn := range result.Ledger {
		assert.NotEqual(t, "DDD", txn.Instrument,
			"signal visible only from the decision date must not be used at it")
	}
}

func TestEngineDeterministicForFixedSeed(t *testing.T) {
	build := func() *RunResult {
		n := 25
		st := newMemStore(
			makeSeries(t, "AAA", constant(100, n), map[string][]float64{
				"sig_a": constant(1, n), "sig_b": constant(1, n),
			}),
			makeSeries(t, "BBB", constant(100, n), map[string][]float64{
				"sig_a": constant(1, n), "sig_b": constant(1, n),
			}),
			makeSeries(t, "CCC", constant(100, n), map[string][]float64{
				"sig_a": constant(1, n), "sig_b": constant(1, n),
			}),
		)
		cfg := baseConfig("AAA", "BBB", "CCC")
		engine, err := NewEngineBuilder(cfg, st).Build()
		require.NoError(t, err)
		result, err := engine.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	first := build()
	second := build()
	assert.Equal(t, first.Ledger, second.Ledger)
	assert.Equal(t, first.Curve, second.Curve)
	assert.Equal(t, first.RunId, second.RunId)
}

func TestTakeProfitExitExecutesAtNextOpen(t *testing.T) {
	n := 25
	closes := constant(100, n)
	closes[10] = 115 // day(5): trigger session
	for i := 11; i < n; i++ {
		closes[i] = 112
	}
	st := newMemStore(
		makeSeries(t, "AAA", closes, map[string][]float64{
			"sig_a": constant(1, n), "sig_b": constant(1, n),
		}),
	)
	cfg := baseConfig("AAA")
	cfg.Exits.TakeProfitPct = 10

	result := runEngine(t, cfg, st)

	ledger := result.Ledger
	require.Len(t, ledger, 3)

	assert.Equal(t, datamodels.SideBuy, ledger[0].Side)
	assert.InDelta(t, 100, ledger[0].Price, 1e-9)

	// triggered at day(5) close, executed at day(6) open
	sell := ledger[1]
	assert.Equal(t, datamodels.SideSell, sell.Side)
	assert.Equal(t, datamodels.ReasonTakeProfit, sell.Reason)
	assert.Equal(t, day(6), sell.Date)
	assert.InDelta(t, 112, sell.Price, 1e-9)
	assert.InDelta(t, 1200, sell.RealizedPnL, 1e-9)

	// still eligible at the next boundary, so the proceeds re-enter
	rebuy := ledger[2]
	assert.Equal(t, datamodels.SideBuy, rebuy.Side)
	assert.Equal(t, day(10), rebuy.Date)

	curve := result.Curve
	require.Len(t, curve, 4)
	assert.InDelta(t, 11200, curve[2].Value, 1e-9)
	assert.InDelta(t, 11200, curve[3].Value, 1e-9)
}

func TestTakeProfitOnEntryDayClose(t *testing.T) {
	// bought at the boundary open and already past the threshold at that
	// day's close; the exit executes at the next session's open
	n := 25
	rows := make([]datamodels.FeatureRow, n)
	for i := range rows {
		open, close := 100.0, 100.0
		if i == 5 { // day(0): entry session
			close = 120
		}
		if i == 6 { // day(1): execution session
			open = 118
		}
		high, low := math.Max(open, close), math.Min(open, close)
		rows[i] = datamodels.FeatureRow{
			Date: day(i - 5), Open: open, High: high, Low: low, Close: close, Volume: 1000,
			Extra: map[string]float64{"sig_a": 1, "sig_b": 1},
		}
	}
	series, err := datamodels.NewFeatureSeries("AAA", rows)
	require.NoError(t, err)

	cfg := baseConfig("AAA")
	cfg.Exits.TakeProfitPct = 10

	result := runEngine(t, cfg, newMemStore(series))

	ledger := result.Ledger
	require.Len(t, ledger, 3)

	sell := ledger[1]
	assert.Equal(t, datamodels.SideSell, sell.Side)
	assert.Equal(t, datamodels.ReasonTakeProfit, sell.Reason)
	assert.Equal(t, day(1), sell.Date)
	assert.InDelta(t, 118, sell.Price, 1e-9)
	assert.InDelta(t, 1800, sell.RealizedPnL, 1e-9)

	curve := result.Curve
	require.Len(t, curve, 4)
	assert.InDelta(t, 11800, curve[2].Value, 1e-9)
	assert.InDelta(t, 11800, curve[3].Value, 1e-9)
}

func TestMarketHoldCycleHasZeroReturnAndNoTrades(t *testing.T) {
	n := 25
	sig := constant(1, n)
	for i := 8; i < n; i++ { // from day(3) the signal is gone
		sig[i] = -1
	}
	st := newMemStore(
		makeSeries(t, "AAA", constant(100, n), map[string][]float64{"sig_a": sig, "sig_b": sig}),
	)
	cfg := baseConfig("AAA")
	cfg.Strategy.Entry = datamodels.ConditionSet{
		Conditions: []datamodels.Condition{
			{Expression: "sig_a > 0", Required: true},
		},
	}

	result := runEngine(t, cfg, st)

	// one buy in cycle one, nothing afterwards
	require.Len(t, result.Ledger, 1)

	curve := result.Curve
	require.Len(t, curve, 4)
	holdPoint := curve[2]
	assert.Zero(t, holdPoint.CycleReturnPct)
	assert.InDelta(t, curve[1].Value, holdPoint.Value, 1e-9)
}

func TestScheduledExitWhenDroppedFromBuySet(t *testing.T) {
	n := 25
	// AAA dominates the first decision, BBB the second
	aSig := constant(1, n)
	bSig := constant(-1, n)
	for i := 10; i < n; i++ { // from day(5)
		aSig[i] = -1
		bSig[i] = 1
	}
	st := newMemStore(
		makeSeries(t, "AAA", constant(100, n), map[string][]float64{"sig_a": aSig, "sig_b": aSig}),
		makeSeries(t, "BBB", constant(200, n), map[string][]float64{"sig_a": bSig, "sig_b": bSig}),
	)
	result := runEngine(t, baseConfig("AAA", "BBB"), st)

	ledger := result.Ledger
	require.Len(t, ledger, 3)
	assert.Equal(t, "AAA", ledger[0].Instrument)

	sell := ledger[1]
	assert.Equal(t, "AAA", sell.Instrument)
	assert.Equal(t, datamodels.SideSell, sell.Side)
	assert.Equal(t, datamodels.ReasonScheduled, sell.Reason)
	assert.Equal(t, day(10), sell.Date)

	assert.Equal(t, "BBB", ledger[2].Instrument)
	assert.Equal(t, datamodels.SideBuy, ledger[2].Side)
}

func TestRunAbortsOnCancelledContext(t *testing.T) {
	n := 25
	st := newMemStore(
		makeSeries(t, "AAA", constant(100, n), map[string][]float64{
			"sig_a": constant(1, n), "sig_b": constant(1, n),
		}),
	)
	engine, err := NewEngineBuilder(baseConfig("AAA"), st).Build()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Run(ctx)
	assert.Error(t, err)
}
