package lifecycle

import (
	"time"

	"rebalancer/src/conditions"
	"rebalancer/src/datamodels"
	"rebalancer/src/features"
)

// Manager applies the exit rules to open positions. It only decides
// that an exit triggered and why; execution is deferred to the opening
// price of the next trading session by the engine. A threshold set to
// zero disables its rule.
type Manager struct {
	takeProfitPct  float64
	maxLossPct     float64
	trailingPct    float64
	maxHoldingDays int
	exitSet        *conditions.CompiledSet
	contexts       *features.ContextBuilder
}

func NewManager(cfg datamodels.ExitConfig, exitSet *conditions.CompiledSet, contexts *features.ContextBuilder) *Manager {
	return &Manager{
		takeProfitPct:  cfg.TakeProfitPct,
		maxLossPct:     cfg.MaxLossPct,
		trailingPct:    cfg.TrailingStopPct,
		maxHoldingDays: cfg.MaxHoldingDays,
		exitSet:        exitSet,
		contexts:       contexts,
	}
}

// CheckExit scans one session of an open position. The session's close
// raises the trailing high-water mark before any rule is tested, then
// the rules fire in fixed priority order. The first rule that triggers
// wins; later rules are not consulted.
func (m *Manager) CheckExit(pos *datamodels.Position, day time.Time, sessionClose float64) (datamodels.ExitReason, bool) {
	if sessionClose > pos.HighestSinceEntry {
		pos.HighestSinceEntry = sessionClose
	}

	if m.takeProfitPct > 0 && sessionClose >= pos.EntryPrice*(1+m.takeProfitPct/100) {
		return datamodels.ReasonTakeProfit, true
	}
	if m.maxLossPct > 0 && sessionClose <= pos.EntryPrice*(1-m.maxLossPct/100) {
		return datamodels.ReasonMaxLoss, true
	}
	if m.trailingPct > 0 && sessionClose <= pos.HighestSinceEntry*(1-m.trailingPct/100) {
		return datamodels.ReasonTrailingStop, true
	}
	if m.conditionExit(pos.Instrument, day) {
		return datamodels.ReasonCondition, true
	}
	if m.maxHoldingDays > 0 {
		held := int(datamodels.Day(day).Sub(datamodels.Day(pos.EntryDate)).Hours() / 24)
		if held >= m.maxHoldingDays {
			return datamodels.ReasonMaxHolding, true
		}
	}
	return "", false
}

// conditionExit evaluates the exit condition set against the data up to
// and including the scanned day. An empty set never triggers.
func (m *Manager) conditionExit(instrument string, day time.Time) bool {
	if m.exitSet == nil || m.exitSet.Len() == 0 {
		return false
	}
	view, ok := m.contexts.ViewThrough(instrument, day)
	if !ok {
		return false
	}
	eligible, _ := m.exitSet.EvaluateEligible(view)
	return eligible
}
