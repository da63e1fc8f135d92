package datamodels

import (
	"fmt"
	"time"
)

// CadenceKind selects how the scheduler picks decision dates.
type CadenceKind string

const (
	CadenceFixedInterval          CadenceKind = "fixed_interval"
	CadenceWeeklyFirst            CadenceKind = "weekly_first"
	CadenceMonthlyFirst           CadenceKind = "monthly_first"
	CadenceMonthlyFirstThreeWeeks CadenceKind = "monthly_1_3_weeks"
)

// CadenceRule is the scheduler policy. IntervalDays is only meaningful
// for the fixed-interval kind.
type CadenceRule struct {
	Kind         CadenceKind `mapstructure:"kind"`
	IntervalDays int         `mapstructure:"interval_days"`
}

func (r CadenceRule) Validate() error {
	switch r.Kind {
	case CadenceFixedInterval:
		if r.IntervalDays <= 0 {
			return fmt.Errorf("cadence %s requires interval_days > 0", r.Kind)
		}
		return nil
	case CadenceWeeklyFirst, CadenceMonthlyFirst, CadenceMonthlyFirstThreeWeeks:
		return nil
	default:
		return fmt.Errorf("unknown cadence kind %q", r.Kind)
	}
}

// EvaluationCycle is the period between two consecutive decision dates,
// half-open [Start, End) except the final cycle which is closed at the
// global end date.
type EvaluationCycle struct {
	Label string
	Start time.Time
	End   time.Time
	Final bool
}

func (c EvaluationCycle) Contains(d time.Time) bool {
	d = Day(d)
	if d.Before(c.Start) {
		return false
	}
	if c.Final {
		return !d.After(c.End)
	}
	return d.Before(c.End)
}

func (c EvaluationCycle) String() string {
	return fmt.Sprintf("%s [%s .. %s)", c.Label, c.Start.Format(DateLayout), c.End.Format(DateLayout))
}

// Condition is one boolean expression against an instrument's feature
// table. WindowDays > 0 switches the evaluation to set-membership over
// the last WindowDays sessions before the decision date; 0 evaluates
// the single latest snapshot.
type Condition struct {
	Expression string `mapstructure:"expression"`
	Required   bool   `mapstructure:"required"`
	WindowDays int    `mapstructure:"window_days"`
}

// ConditionSet groups conditions with the minimum number of optional
// conditions that must hold for eligibility.
type ConditionSet struct {
	Conditions   []Condition `mapstructure:"conditions"`
	MinSatisfied int         `mapstructure:"min_satisfied"`
}

func (cs ConditionSet) OptionalCount() int {
	n := 0
	for _, c := range cs.Conditions {
		if !c.Required {
			n++
		}
	}
	return n
}

// CandidateScore is one instrument's evaluation result at a decision
// date. Eligible means every required condition held and the optional
// count reached the configured minimum.
type CandidateScore struct {
	Instrument        string
	OptionalSatisfied int
	Eligible          bool
}

// Position is an open holding. It exists only while the instrument is
// in the Open lifecycle state; Shares > 0 is an invariant.
type Position struct {
	Instrument        string
	EntryDate         time.Time
	EntryPrice        float64
	Shares            float64
	HighestSinceEntry float64
}

func (p *Position) Copy() *Position {
	cp := *p
	return &cp
}

// OrderSide labels ledger rows.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// ExitReason is the single recorded cause of a position close.
// First-triggered wins; only one reason per closing event.
type ExitReason string

const (
	ReasonTakeProfit   ExitReason = "take_profit"
	ReasonMaxLoss      ExitReason = "max_loss"
	ReasonTrailingStop ExitReason = "trailing_stop"
	ReasonCondition    ExitReason = "exit_condition"
	ReasonScheduled    ExitReason = "scheduled"
	ReasonMaxHolding   ExitReason = "max_holding_days"
)

// Transaction is one ledger row.
type Transaction struct {
	TransactionId string
	Cycle         string
	Date          time.Time
	Instrument    string
	Side          OrderSide
	Price         float64
	Shares        float64
	Amount        float64
	RealizedPnL   float64
	RealizedPct   float64
	Reason        ExitReason
}

func (t Transaction) Copy() Transaction { return t }

// EquityCurvePoint is one committed cycle boundary. The curve is
// append-only: an initial point at the run start plus one per cycle.
type EquityCurvePoint struct {
	Cycle          string
	Date           time.Time
	Value          float64
	CycleReturnPct float64
}

// StrategySummary is the comparable headline statistics of one equity
// curve (primary engine or benchmark replay).
type StrategySummary struct {
	Name              string
	FinalValue        float64
	TotalReturnPct    float64
	AvgCycleReturnPct float64
	CycleReturnStdPct float64
	MaxDrawdownPct    float64
	Cycles            int
}
