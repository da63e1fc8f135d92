//go:build unit

package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/src/conditions"
	"rebalancer/src/datamodels"
	"rebalancer/src/features"
)

func day(offset int) time.Time {
	return time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func position(entry float64) *datamodels.Position {
	return &datamodels.Position{
		Instrument:        "AAA",
		EntryDate:         day(0),
		EntryPrice:        entry,
		Shares:            10,
		HighestSinceEntry: entry,
	}
}

func TestDisabledThresholdsNeverTrigger(t *testing.T) {
	m := NewManager(datamodels.ExitConfig{}, nil, nil)
	pos := position(100)

	for i, close := range []float64{300, 1, 0.01, 1000} {
		_, triggered := m.CheckExit(pos, day(i+1), close)
		assert.False(t, triggered, "close %f must not trigger with all rules disabled", close)
	}
}

func TestTakeProfit(t *testing.T) {
	m := NewManager(datamodels.ExitConfig{TakeProfitPct: 10}, nil, nil)
	pos := position(100)

	_, triggered := m.CheckExit(pos, day(1), 109.9)
	assert.False(t, triggered)

	reason, triggered := m.CheckExit(pos, day(2), 110)
	require.True(t, triggered)
	assert.Equal(t, datamodels.ReasonTakeProfit, reason)
}

func TestMaxLoss(t *testing.T) {
	m := NewManager(datamodels.ExitConfig{MaxLossPct: 10}, nil, nil)
	pos := position(100)

	_, triggered := m.CheckExit(pos, day(1), 90.1)
	assert.False(t, triggered)

	reason, triggered := m.CheckExit(pos, day(2), 90)
	require.True(t, triggered)
	assert.Equal(t, datamodels.ReasonMaxLoss, reason)
}

func TestTrailingStopUsesHighWaterMark(t *testing.T) {
	m := NewManager(datamodels.ExitConfig{TrailingStopPct: 10}, nil, nil)
	pos := position(100)

	// rally to 130 raises the mark
	_, triggered := m.CheckExit(pos, day(1), 130)
	require.False(t, triggered)
	assert.InDelta(t, 130, pos.HighestSinceEntry, 1e-9)

	// 118 is only -9.2% off the mark
	_, triggered = m.CheckExit(pos, day(2), 118)
	assert.False(t, triggered)

	// 117 is -10% off the mark, even though it is +17% on entry
	reason, triggered := m.CheckExit(pos, day(3), 117)
	require.True(t, triggered)
	assert.Equal(t, datamodels.ReasonTrailingStop, reason)
}

func TestSessionCloseRaisesMarkBeforeRuleCheck(t *testing.T) {
	m := NewManager(datamodels.ExitConfig{TrailingStopPct: 10}, nil, nil)
	pos := position(100)

	// the same session that sets a new high cannot be 10% below it
	_, triggered := m.CheckExit(pos, day(1), 200)
	assert.False(t, triggered)
	assert.InDelta(t, 200, pos.HighestSinceEntry, 1e-9)
}

func TestTakeProfitBeatsTrailingStop(t *testing.T) {
	m := NewManager(datamodels.ExitConfig{TakeProfitPct: 10, TrailingStopPct: 5}, nil, nil)
	pos := position(100)
	pos.HighestSinceEntry = 130

	// 115 qualifies both as take-profit (+15%) and trailing (-11.5%)
	reason, triggered := m.CheckExit(pos, day(1), 115)
	require.True(t, triggered)
	assert.Equal(t, datamodels.ReasonTakeProfit, reason)
}

func TestMaxHoldingDays(t *testing.T) {
	m := NewManager(datamodels.ExitConfig{MaxHoldingDays: 30}, nil, nil)
	pos := position(100)

	_, triggered := m.CheckExit(pos, day(29), 100)
	assert.False(t, triggered)

	reason, triggered := m.CheckExit(pos, day(30), 100)
	require.True(t, triggered)
	assert.Equal(t, datamodels.ReasonMaxHolding, reason)
}

func TestConditionExit(t *testing.T) {
	rows := []datamodels.FeatureRow{
		{Date: day(0), Open: 100, High: 101, Low: 99, Close: 100},
		{Date: day(1), Open: 100, High: 101, Low: 99, Close: 95},
	}
	series, err := datamodels.NewFeatureSeries("AAA", rows)
	require.NoError(t, err)
	contexts := features.NewContextBuilder(nil, []*datamodels.FeatureSeries{series}, nil, 8)

	exitSet := conditions.Compile(datamodels.ConditionSet{
		Conditions: []datamodels.Condition{
			{Expression: "close < 100", Required: true},
		},
	})
	m := NewManager(datamodels.ExitConfig{}, exitSet, contexts)
	pos := position(100)

	// day 0 close is 100, the rule does not hold yet
	_, triggered := m.CheckExit(pos, day(0), 100)
	assert.False(t, triggered)

	// day 1 close of 95 is visible to the exit evaluation of day 1
	reason, triggered := m.CheckExit(pos, day(1), 95)
	require.True(t, triggered)
	assert.Equal(t, datamodels.ReasonCondition, reason)
}

func TestEmptyExitSetNeverTriggers(t *testing.T) {
	exitSet := conditions.Compile(datamodels.ConditionSet{})
	m := NewManager(datamodels.ExitConfig{}, exitSet, nil)
	_, triggered := m.CheckExit(position(100), day(1), 50)
	assert.False(t, triggered)
}
