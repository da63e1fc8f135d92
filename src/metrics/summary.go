package metrics

import (
	"github.com/montanaflynn/stats"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/errors"
)

// Summarize reduces an equity curve to its headline statistics. The
// first point is the run's starting capital; per-cycle returns start at
// the second point.
func Summarize(name string, curve []datamodels.EquityCurvePoint) (datamodels.StrategySummary, error) {
	if len(curve) < 2 {
		return datamodels.StrategySummary{}, errors.Wrap(errors.ErrDataUnavailable,
			"equity curve needs at least a start and one cycle point")
	}

	initial := curve[0].Value
	final := curve[len(curve)-1].Value
	totalReturn := 0.0
	if initial > 0 {
		totalReturn = (final/initial - 1) * 100
	}

	returns := make([]float64, 0, len(curve)-1)
	for _, point := range curve[1:] {
		returns = append(returns, point.CycleReturnPct)
	}

	mean, err := stats.Mean(returns)
	if err != nil {
		return datamodels.StrategySummary{}, errors.Wrap(err, "failed to compute mean cycle return")
	}
	std := 0.0
	if len(returns) > 1 {
		std, err = stats.StandardDeviationSample(returns)
		if err != nil {
			return datamodels.StrategySummary{}, errors.Wrap(err, "failed to compute return stddev")
		}
	}

	return datamodels.StrategySummary{
		Name:              name,
		FinalValue:        final,
		TotalReturnPct:    totalReturn,
		AvgCycleReturnPct: mean,
		CycleReturnStdPct: std,
		MaxDrawdownPct:    MaxDrawdown(curve),
		Cycles:            len(returns),
	}, nil
}

// MaxDrawdown is the largest peak-to-trough decline over the curve,
// returned as a positive percentage. A monotonically rising curve has
// zero drawdown.
func MaxDrawdown(curve []datamodels.EquityCurvePoint) float64 {
	peak := 0.0
	maxDD := 0.0
	for _, point := range curve {
		if point.Value > peak {
			peak = point.Value
		}
		if peak > 0 {
			dd := (peak - point.Value) / peak * 100
			if dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
