package backtest

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"rebalancer/src/conditions"
	"rebalancer/src/datamodels"
	"rebalancer/src/features"
	"rebalancer/src/lifecycle"
	"rebalancer/src/portfolio"
	"rebalancer/src/scheduler"
	"rebalancer/src/selection"
	"rebalancer/src/store"
	"rebalancer/src/utils/errors"
)

const defaultEvalWorkers = 4

// RunResult is everything the primary run produced.
type RunResult struct {
	RunId         string
	DecisionDates []time.Time
	Cycles        []datamodels.EvaluationCycle
	Curve         []datamodels.EquityCurvePoint
	Ledger        []datamodels.Transaction
}

// Engine drives the rebalancing simulation: scheduling, per-cycle
// candidate evaluation, selection, position lifecycle and accounting.
// Cycles run sequentially because each one's capital depends on the
// previous commit; candidate evaluation inside a cycle fans out over a
// worker pool and joins before ranking.
type Engine struct {
	cfg        *datamodels.SimulatorConfig
	store      store.FeatureStore
	contexts   *features.ContextBuilder
	entrySet   *conditions.CompiledSet
	manager    *lifecycle.Manager
	acct       *portfolio.Accountant
	tieBreaker selection.TieBreaker
	workers    int
}

type EngineBuilder struct {
	cfg        *datamodels.SimulatorConfig
	store      store.FeatureStore
	tieBreaker selection.TieBreaker
	workers    int
}

func NewEngineBuilder(cfg *datamodels.SimulatorConfig, featureStore store.FeatureStore) *EngineBuilder {
	return &EngineBuilder{cfg: cfg, store: featureStore, workers: defaultEvalWorkers}
}

// WithTieBreaker overrides the default seeded-random tie policy.
func (b *EngineBuilder) WithTieBreaker(t selection.TieBreaker) *EngineBuilder {
	b.tieBreaker = t
	return b
}

func (b *EngineBuilder) WithEvalWorkers(n int) *EngineBuilder {
	if n > 0 {
		b.workers = n
	}
	return b
}

func (b *EngineBuilder) Build() (*Engine, error) {
	if b.cfg == nil {
		return nil, errors.New("config is required")
	}
	if b.store == nil {
		return nil, errors.New("feature store is required")
	}

	var benchmark *datamodels.FeatureSeries
	if b.cfg.Data.BenchmarkInstrument != "" {
		series, err := b.store.Series(b.cfg.Data.BenchmarkInstrument)
		if err != nil {
			return nil, err
		}
		benchmark = series
	}
	instruments := make([]*datamodels.FeatureSeries, 0, len(b.cfg.Data.Instruments))
	for _, code := range b.cfg.Data.Instruments {
		series, err := b.store.Series(code)
		if err != nil {
			return nil, err
		}
		instruments = append(instruments, series)
	}
	contexts := features.NewContextBuilder(
		benchmark, instruments, b.cfg.Data.MomentumHorizons, b.cfg.Data.RecoveryThresholdPct)

	entrySet := conditions.Compile(b.cfg.Strategy.Entry)
	exitSet := conditions.Compile(b.cfg.Strategy.Exit)
	manager := lifecycle.NewManager(b.cfg.Exits, exitSet, contexts)

	acct, err := portfolio.NewAccountantBuilder().
		WithInitialCapital(b.cfg.InitialCapital).
		WithCosts(b.cfg.Costs).
		WithSeed(b.cfg.Seed).
		Build()
	if err != nil {
		return nil, err
	}

	tieBreaker := b.tieBreaker
	if tieBreaker == nil {
		tieBreaker = selection.NewSeededRandomTieBreaker(b.cfg.Seed)
	}

	return &Engine{
		cfg:        b.cfg,
		store:      b.store,
		contexts:   contexts,
		entrySet:   entrySet,
		manager:    manager,
		acct:       acct,
		tieBreaker: tieBreaker,
		workers:    b.workers,
	}, nil
}

func (e *Engine) Accountant() *portfolio.Accountant { return e.acct }

// Contexts exposes the enriched point-in-time views so benchmark
// replays evaluate against exactly the data the engine saw.
func (e *Engine) Contexts() *features.ContextBuilder { return e.contexts }

// Run executes the whole simulation. The context aborts the run between
// cycles; committed cycles stay committed.
func (e *Engine) Run(ctx context.Context) (*RunResult, error) {
	start, end, err := e.cfg.Schedule.Range()
	if err != nil {
		return nil, err
	}
	calendar := e.store.Calendar()

	dates, err := scheduler.DecisionDates(calendar, start, end, e.cfg.Schedule.Cadence)
	if err != nil {
		return nil, err
	}
	cycles, err := scheduler.Cycles(dates, end)
	if err != nil {
		return nil, err
	}
	slog.Info("Simulation scheduled",
		"cadence", e.cfg.Schedule.Cadence.Kind,
		"cycles", len(cycles),
		"firstDecision", dates[0].Format(datamodels.DateLayout),
		"lastDecision", dates[len(dates)-1].Format(datamodels.DateLayout))

	e.acct.Start(start)

	for _, cycle := range cycles {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "run aborted")
		}
		if err := e.runCycle(cycle); err != nil {
			return nil, errors.Wrapf(err, "cycle %s failed", cycle.Label)
		}
	}

	if err := e.finalMark(end); err != nil {
		return nil, err
	}

	return &RunResult{
		RunId:         e.acct.RunId(),
		DecisionDates: dates,
		Cycles:        cycles,
		Curve:         e.acct.Curve(),
		Ledger:        e.acct.Ledger(),
	}, nil
}

// runCycle plays one decision date: evaluate, select, trade at the
// boundary, scan the cycle's sessions for triggered exits, commit.
func (e *Engine) runCycle(cycle datamodels.EvaluationCycle) error {
	decision := cycle.Start

	scores := e.evaluateCandidates(decision)
	buySet := selection.SelectBuySet(scores, e.cfg.Strategy.MaxHoldings, e.tieBreaker)

	if len(buySet) == 0 {
		e.acct.MarketHold(cycle, decision)
		return nil
	}

	draft := e.acct.BeginCycle(cycle)

	// scheduled exits: open positions that did not make the new buy set
	retained := make(map[string]bool, len(buySet))
	for _, code := range buySet {
		retained[code] = true
	}
	for _, code := range draft.OpenInstruments() {
		if retained[code] {
			continue
		}
		price, execDate, err := e.openOnOrAfter(code, decision)
		if err != nil {
			return err
		}
		if err := draft.SellAt(code, execDate, price, datamodels.ReasonScheduled); err != nil {
			return err
		}
	}

	// boundary equity: cash after scheduled exits plus retained
	// positions at the boundary open
	boundaryPrices := make(map[string]float64)
	for _, code := range draft.OpenInstruments() {
		price, _, err := e.openOnOrAfter(code, decision)
		if err != nil {
			return err
		}
		boundaryPrices[code] = price
	}
	boundaryValue, err := draft.MarkValue(boundaryPrices)
	if err != nil {
		return err
	}

	// equal-weight entries for newcomers; a retained instrument keeps
	// its position untouched
	allocation := boundaryValue / float64(len(buySet))
	for _, code := range buySet {
		if draft.HasPosition(code) {
			continue
		}
		price, execDate, err := e.openOnOrAfter(code, decision)
		if err != nil {
			slog.Warn("Skipping entry with no execution price",
				"instrument", code, "cycle", cycle.Label, "error", err)
			continue
		}
		if err := draft.BuyAt(code, execDate, price, allocation); err != nil {
			if errors.Is(err, errors.ErrInvariantViolation) {
				return err
			}
			slog.Warn("Entry skipped", "instrument", code, "cycle", cycle.Label, "error", err)
		}
	}

	if err := e.scanExits(draft, cycle); err != nil {
		return err
	}

	return draft.Commit(decision, boundaryValue)
}

// scanExits walks the cycle's sessions, the boundary day included, and
// closes any position whose exit rule triggers, executing at the next
// session open. Positions bought at the boundary open are live through
// that day's close. The next boundary's own day belongs to the next
// cycle unless this is the final cycle.
func (e *Engine) scanExits(draft *portfolio.CycleDraft, cycle datamodels.EvaluationCycle) error {
	days := e.store.Calendar().Between(cycle.Start, cycle.End)
	for _, day := range days {
		if !cycle.Final && !day.Before(cycle.End) {
			break
		}
		for _, code := range draft.OpenInstruments() {
			pos, ok := draft.Position(code)
			if !ok {
				continue
			}
			series, err := e.store.Series(code)
			if err != nil {
				return err
			}
			row, traded := series.RowAt(day)
			if !traded {
				continue
			}
			reason, triggered := e.manager.CheckExit(pos, day, row.Close)
			if !triggered {
				continue
			}
			execRow, ok := series.FirstRowAfter(day)
			if !ok {
				// no later session to execute on; the final mark
				// values the position instead
				continue
			}
			if err := draft.SellAt(code, execRow.Date, execRow.Open, reason); err != nil {
				return err
			}
			slog.Debug("Exit executed",
				"instrument", code,
				"reason", reason,
				"trigger", day.Format(datamodels.DateLayout),
				"execution", execRow.Date.Format(datamodels.DateLayout))
		}
	}
	return nil
}

// finalMark values whatever is still open at the close of the last
// trading day inside the range.
func (e *Engine) finalMark(end time.Time) error {
	lastDay, ok := e.store.Calendar().LastOnOrBefore(end)
	if !ok {
		return errors.Wrap(errors.ErrDataUnavailable, "no trading day at or before the end date")
	}
	prices := make(map[string]float64)
	for _, pos := range e.acct.Positions() {
		series, err := e.store.Series(pos.Instrument)
		if err != nil {
			return err
		}
		row, ok := series.RowAt(lastDay)
		if !ok {
			latest, found := series.LatestBefore(lastDay.AddDate(0, 0, 1))
			if !found {
				return errors.Wrapf(errors.ErrDataUnavailable, "no final price for %s", pos.Instrument)
			}
			row = latest
		}
		prices[pos.Instrument] = row.Close
	}
	value, err := e.acct.FinalMark(lastDay, prices)
	if err != nil {
		return err
	}
	slog.Info("Run complete", "finalValue", value, "date", lastDay.Format(datamodels.DateLayout))
	return nil
}

// evaluateCandidates scores every instrument at the decision date over
// a bounded worker pool. Scores come back sorted by instrument so the
// pool's scheduling order never leaks into selection.
func (e *Engine) evaluateCandidates(decision time.Time) []datamodels.CandidateScore {
	instruments := e.store.Instruments()
	scores := make([]datamodels.CandidateScore, len(instruments))

	var wg sync.WaitGroup
	sem := make(chan struct{}, e.workers)
	for i, code := range instruments {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			scores[i] = e.scoreInstrument(code, decision)
		}(i, code)
	}
	wg.Wait()

	sort.Slice(scores, func(i, j int) bool { return scores[i].Instrument < scores[j].Instrument })
	return scores
}

func (e *Engine) scoreInstrument(code string, decision time.Time) datamodels.CandidateScore {
	score := datamodels.CandidateScore{Instrument: code}
	view, ok := e.contexts.ViewBefore(code, decision)
	if !ok || view.Len() == 0 {
		return score
	}
	result := e.entrySet.Evaluate(view)
	for _, evalErr := range result.Errors {
		slog.Debug("Condition evaluation issue",
			"instrument", code,
			"decision", decision.Format(datamodels.DateLayout),
			"error", evalErr)
	}
	score.Eligible = result.Eligible(e.cfg.Strategy.Entry.MinSatisfied)
	score.OptionalSatisfied = result.OptionalSatisfied
	return score
}

// openOnOrAfter resolves the execution bar for a boundary decision: the
// instrument's session at the decision date, or its first session after
// it when the instrument did not trade that day.
func (e *Engine) openOnOrAfter(code string, day time.Time) (float64, time.Time, error) {
	series, err := e.store.Series(code)
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
