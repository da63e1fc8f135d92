//go:build unit

package features

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/src/conditions"
	"rebalancer/src/datamodels"
)

func day(offset int) time.Time {
	return time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func seriesFromCloses(t *testing.T, instrument string, closes []float64) *datamodels.FeatureSeries {
	t.Helper()
	rows := make([]datamodels.FeatureRow, len(closes))
	for i, c := range closes {
		rows[i] = datamodels.FeatureRow{
			Date: day(i), Open: c, High: c * 1.01, Low: c * 0.99, Close: c, Volume: 1000,
		}
	}
	s, err := datamodels.NewFeatureSeries(instrument, rows)
	require.NoError(t, err)
	return s
}

func fieldNum(t *testing.T, src conditions.FieldSource, name string) float64 {
	t.Helper()
	v, ok := src.Field(name)
	require.True(t, ok, "field %s missing", name)
	require.Equal(t, conditions.KindNumber, v.Kind)
	return v.Num
}

func TestTrailingReturnField(t *testing.T) {
	s := seriesFromCloses(t, "AAA", []float64{100, 102, 104, 110})
	b := NewContextBuilder(nil, []*datamodels.FeatureSeries{s}, []int{3}, 8)

	view, ok := b.ViewBefore("AAA", day(4))
	require.True(t, ok)
	snap, ok := view.Snapshot()
	require.True(t, ok)

	// close went 100 -> 110 over 3 sessions
	assert.InDelta(t, 10.0, fieldNum(t, snap, "return_3d"), 1e-9)

	// too few rows: the field is simply absent
	view, _ = b.ViewBefore("AAA", day(2))
	snap, _ = view.Snapshot()
	_, present := snap.Field("return_3d")
	assert.False(t, present)
}

func TestRelativeMomentumAgainstBenchmark(t *testing.T) {
	bench := seriesFromCloses(t, "BENCH", []float64{100, 100, 100, 105})
	s := seriesFromCloses(t, "AAA", []float64{100, 102, 104, 110})
	b := NewContextBuilder(bench, []*datamodels.FeatureSeries{s}, []int{3}, 8)

	view, _ := b.ViewBefore("AAA", day(4))
	snap, _ := view.Snapshot()

	// instrument +10% vs benchmark +5%: 1.10/1.05 - 1
	assert.InDelta(t, (1.10/1.05-1)*100, fieldNum(t, snap, "rel_mom_3"), 1e-9)
}

func TestRelativeMomentumIsGrowthFactorRatio(t *testing.T) {
	// instrument +50% while the benchmark dropped 20%: 1.5/0.8 - 1,
	// not the 70-point return difference
	bench := seriesFromCloses(t, "BENCH", []float64{100, 95, 90, 80})
	s := seriesFromCloses(t, "AAA", []float64{100, 110, 130, 150})
	b := NewContextBuilder(bench, []*datamodels.FeatureSeries{s}, []int{3}, 8)

	view, _ := b.ViewBefore("AAA", day(4))
	snap, _ := view.Snapshot()
	assert.InDelta(t, 87.5, fieldNum(t, snap, "rel_mom_3"), 1e-9)
}

func TestRollingExtremesPartialWindow(t *testing.T) {
	s := seriesFromCloses(t, "AAA", []float64{100, 120, 80, 90})
	b := NewContextBuilder(nil, []*datamodels.FeatureSeries{s}, nil, 8)

	view, _ := b.ViewBefore("AAA", day(4))
	snap, _ := view.Snapshot()

	assert.InDelta(t, 120*1.01, fieldNum(t, snap, "high_52w"), 1e-9)
	assert.InDelta(t, 80*0.99, fieldNum(t, snap, "low_52w"), 1e-9)
	assert.InDelta(t, 90/(120*1.01)*100, fieldNum(t, snap, "high_52w_ratio"), 1e-9)
	assert.InDelta(t, 90/(80*0.99)*100, fieldNum(t, snap, "low_52w_ratio"), 1e-9)
}

func TestRecoveryFromLow(t *testing.T) {
	// min of the 5 closes preceding the last row is 80;
	// 90 >= 80 * 1.08 = 86.4 so the rebound flag is on
	s := seriesFromCloses(t, "AAA", []float64{100, 95, 80, 85, 84, 90})
	b := NewContextBuilder(nil, []*datamodels.FeatureSeries{s}, nil, 8)

	view, _ := b.ViewBefore("AAA", day(6))
	snap, _ := view.Snapshot()
	v, ok := snap.Field("recovery_from_low")
	require.True(t, ok)
	require.Equal(t, conditions.KindBool, v.Kind)
	assert.True(t, v.Bool)

	// a higher threshold flips it off
	b = NewContextBuilder(nil, []*datamodels.FeatureSeries{s}, nil, 15)
	view, _ = b.ViewBefore("AAA", day(6))
	snap, _ = view.Snapshot()
	v, _ = snap.Field("recovery_from_low")
	assert.False(t, v.Bool)

	// the very first row has no preceding sessions
	view, _ = b.ViewBefore("AAA", day(1))
	snap, _ = view.Snapshot()
	_, present := snap.Field("recovery_from_low")
	assert.False(t, present)
}

func TestViewBeforeExcludesCutoffSession(t *testing.T) {
	s := seriesFromCloses(t, "AAA", []float64{100, 105, 200})
	b := NewContextBuilder(nil, []*datamodels.FeatureSeries{s}, nil, 8)

	// the 200 close on day 2 must be invisible when deciding on day 2
	view, ok := b.ViewBefore("AAA", day(2))
	require.True(t, ok)
	assert.Equal(t, 2, view.Len())
	snap, _ := view.Snapshot()
	assert.InDelta(t, 105, fieldNum(t, snap, "close"), 1e-9)

	for _, src := range view.Window(10) {
		assert.Less(t, fieldNum(t, src, "close"), 200.0)
	}
}

func TestViewThroughIncludesDay(t *testing.T) {
	s := seriesFromCloses(t, "AAA", []float64{100, 105, 200})
	b := NewContextBuilder(nil, []*datamodels.FeatureSeries{s}, nil, 8)

	view, ok := b.ViewThrough("AAA", day(2))
	require.True(t, ok)
	assert.Equal(t, 3, view.Len())
	snap, _ := view.Snapshot()
	assert.InDelta(t, 200, fieldNum(t, snap, "close"), 1e-9)
}

func TestWindowOldestFirst(t *testing.T) {
	s := seriesFromCloses(t, "AAA", []float64{100, 105, 110, 115})
	b := NewContextBuilder(nil, []*datamodels.FeatureSeries{s}, nil, 8)

	view, _ := b.ViewBefore("AAA", day(4))
	window := view.Window(2)
	require.Len(t, window, 2)
	assert.InDelta(t, 110, fieldNum(t, window[0], "close"), 1e-9)
	assert.InDelta(t, 115, fieldNum(t, window[1], "close"), 1e-9)
}

func TestIndicatorColumnsPassThrough(t *testing.T) {
	rows := []datamodels.FeatureRow{
		{Date: day(0), Open: 100, High: 101, Low: 99, Close: 100, Extra: map[string]float64{"ma_20": 98}},
		{Date: day(1), Open: 100, High: 101, Low: 99, Close: 100, Extra: map[string]float64{"ma_20": 99}},
	}
	s, err := datamodels.NewFeatureSeries("AAA", rows)
	require.NoError(t, err)
	b := NewContextBuilder(nil, []*datamodels.FeatureSeries{s}, nil, 8)

	view, _ := b.ViewBefore("AAA", day(2))
	snap, _ := view.Snapshot()
	assert.InDelta(t, 99, fieldNum(t, snap, "ma_20"), 1e-9)
}

func TestUnknownInstrument(t *testing.T) {
	b := NewContextBuilder(nil, nil, nil, 8)
	_, ok := b.ViewBefore("nope", day(0))
	assert.False(t, ok)
}

func TestMomentumFieldNames(t *testing.T) {
	closes := make([]float64, 25)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	bench := seriesFromCloses(t, "BENCH", closes)
	s := seriesFromCloses(t, "AAA", closes)
	b := NewContextBuilder(bench, []*datamodels.FeatureSeries{s}, []int{3, 20}, 8)

	view, _ := b.ViewBefore("AAA", day(25))
	snap, _ := view.Snapshot()
	for _, n := range []int{3, 20} {
		_, ok := snap.Field(fmt.Sprintf("return_%dd", n))
		assert.True(t, ok)
		_, ok = snap.Field(fmt.Sprintf("rel_mom_%d", n))
		assert.True(t, ok)
	}
}
