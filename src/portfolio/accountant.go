package portfolio

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/errors"
	"rebalancer/src/utils/general"
)

// Accountant owns the portfolio state: cash, open positions, the
// transaction ledger and the equity curve. All mutation goes through
// cycle drafts committed atomically; a failed draft leaves the
// committed state untouched.
type Accountant struct {
	cash      float64
	positions map[string]*datamodels.Position
	ledger    []datamodels.Transaction
	curve     []datamodels.EquityCurvePoint

	sellRate   float64
	feeOnEntry bool
	runId      string
	started    bool
}

type AccountantBuilder struct {
	initialCapital float64
	costs          datamodels.CostConfig
	seed           int64
}

func NewAccountantBuilder() *AccountantBuilder {
	return &AccountantBuilder{}
}

func (b *AccountantBuilder) WithInitialCapital(capital float64) *AccountantBuilder {
	b.initialCapital = capital
	return b
}

func (b *AccountantBuilder) WithCosts(costs datamodels.CostConfig) *AccountantBuilder {
	b.costs = costs
	return b
}

func (b *AccountantBuilder) WithSeed(seed int64) *AccountantBuilder {
	b.seed = seed
	return b
}

func (b *AccountantBuilder) Build() (*Accountant, error) {
	if b.initialCapital <= 0 {
		return nil, errors.Newf("initial capital must be positive, got %f", b.initialCapital)
	}
	if b.costs.SellRate < 0 || b.costs.SellRate >= 1 {
		return nil, errors.Newf("cost rate must be in [0, 1), got %f", b.costs.SellRate)
	}
	runId := general.GenerateUUID5StringFromByteArray([]byte(fmt.Sprintf("run:%d", b.seed)))
	return &Accountant{
		cash:       b.initialCapital,
		positions:  make(map[string]*datamodels.Position),
		sellRate:   b.costs.SellRate,
		feeOnEntry: b.costs.FeeOnEntry,
		runId:      runId,
	}, nil
}

func (a *Accountant) RunId() string { return a.runId }

// Start records the opening equity point at the run's start date.
func (a *Accountant) Start(date time.Time) {
	if a.started {
		return
	}
	a.curve = append(a.curve, datamodels.EquityCurvePoint{
		Cycle: "start",
		Date:  datamodels.Day(date),
		Value: a.cash,
	})
	a.started = true
}

func (a *Accountant) Cash() float64 { return a.cash }

// Positions returns copies of the open positions, sorted by instrument.
func (a *Accountant) Positions() []*datamodels.Position {
	out := make([]*datamodels.Position, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p.Copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instrument < out[j].Instrument })
	return out
}

func (a *Accountant) HasPosition(instrument string) bool {
	_, ok := a.positions[instrument]
	return ok
}

// Ledger returns the committed transactions in commit order.
func (a *Accountant) Ledger() []datamodels.Transaction {
	out := make([]datamodels.Transaction, len(a.ledger))
	copy(out, a.ledger)
	return out
}

// Curve returns the committed equity curve.
func (a *Accountant) Curve() []datamodels.EquityCurvePoint {
	out := make([]datamodels.EquityCurvePoint, len(a.curve))
	copy(out, a.curve)
	return out
}

// LastValue is the equity at the most recent committed point.
func (a *Accountant) LastValue() float64 {
	if len(a.curve) == 0 {
		return a.cash
	}
	return a.curve[len(a.curve)-1].Value
}

// BeginCycle opens a draft over a deep copy of the committed state.
// Nothing the draft does is visible until Commit.
func (a *Accountant) BeginCycle(cycle datamodels.EvaluationCycle) *CycleDraft {
	positions := make(map[string]*datamodels.Position, len(a.positions))
	for code, p := range a.positions {
		positions[code] = p.Copy()
	}
	return &CycleDraft{
		acct:      a,
		cycle:     cycle,
		cash:      a.cash,
		positions: positions,
	}
}

// FinalMark appends the closing equity point of the run, valuing every
// remaining position at the given prices without trading.
func (a *Accountant) FinalMark(date time.Time, prices map[string]float64) (float64, error) {
	value := a.cash
	for code, pos := range a.positions {
		price, ok := prices[code]
		if !ok || price <= 0 {
			return 0, errors.Wrapf(errors.ErrDataUnavailable, "no final mark price for %s", code)
		}
		value += pos.Shares * price
	}
	prev := a.LastValue()
	ret := 0.0
	if prev > 0 {
		ret = (value/prev - 1) * 100
	}
	a.curve = append(a.curve, datamodels.EquityCurvePoint{
		Cycle:          "final",
		Date:           datamodels.Day(date),
		Value:          value,
		CycleReturnPct: ret,
	})
	return value, nil
}

// MarketHold commits a cycle in which nothing was eligible: any open
// positions convert to cash at the prior committed value, the equity
// carries forward unchanged and no ledger rows are written.
func (a *Accountant) MarketHold(cycle datamodels.EvaluationCycle, date time.Time) {
	value := a.LastValue()
	if len(a.positions) > 0 {
		a.positions = make(map[string]*datamodels.Position)
		a.cash = value
	}
	a.curve = append(a.curve, datamodels.EquityCurvePoint{
		Cycle:          cycle.Label,
		Date:           datamodels.Day(date),
		Value:          value,
		CycleReturnPct: 0,
	})
	slog.Info("Cycle held in cash", "cycle", cycle.Label, "value", value)
}

// CycleDraft stages one cycle's trades. SellAt and BuyAt mutate only
// the draft; Commit validates and applies everything at once.
type CycleDraft struct {
	acct      *Accountant
	cycle     datamodels.EvaluationCycle
	cash      float64
	positions map[string]*datamodels.Position
	txns      []datamodels.Transaction
}

func (d *CycleDraft) Cash() float64 { return d.cash }

func (d *CycleDraft) HasPosition(instrument string) bool {
	_, ok := d.positions[instrument]
	return ok
}

func (d *CycleDraft) Position(instrument string) (*datamodels.Position, bool) {
	p, ok := d.positions[instrument]
	return p, ok
}

// OpenInstruments lists the draft's open position codes, sorted.
func (d *CycleDraft) OpenInstruments() []string {
	out := make([]string, 0, len(d.positions))
	for code := range d.positions {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// SellAt closes the full position at the given execution price. The
// sell-side cost rate is always applied. Selling an instrument with no
// open position is an invariant violation.
func (d *CycleDraft) SellAt(instrument string, date time.Time, price float64, reason datamodels.ExitReason) error {
	pos, ok := d.positions[instrument]
	if !ok {
		return errors.Wrapf(errors.ErrInvariantViolation, "sell of %s with no open position", instrument)
	}
	if price <= 0 {
		return errors.Wrapf(errors.ErrDataUnavailable, "non-positive execution price %f for %s", price, instrument)
	}

	gross := pos.Shares * price
	net := gross * (1 - d.acct.sellRate)
	cost := pos.Shares * pos.EntryPrice
	pnl := net - cost
	pct := 0.0
	if cost > 0 {
		pct = pnl / cost * 100
	}

	d.cash += net
	delete(d.positions, instrument)
	d.txns = append(d.txns, datamodels.Transaction{
		TransactionId: d.txnId(instrument, datamodels.SideSell),
		Cycle:         d.cycle.Label,
		Date:          datamodels.Day(date),
		Instrument:    instrument,
		Side:          datamodels.SideSell,
		Price:         price,
		Shares:        pos.Shares,
		Amount:        net,
		RealizedPnL:   pnl,
		RealizedPct:   pct,
		Reason:        reason,
	})
	return nil
}

// BuyAt opens a position spending at most the given amount at the
// execution price. Amounts beyond the draft's cash are clamped so cash
// never goes negative. Opening on top of an existing position is an
// invariant violation.
func (d *CycleDraft) BuyAt(instrument string, date time.Time, price float64, amount float64) error {
	if _, ok := d.positions[instrument]; ok {
		return errors.Wrapf(errors.ErrInvariantViolation, "buy of %s which is already open", instrument)
	}
	if price <= 0 {
		return errors.Wrapf(errors.ErrDataUnavailable, "non-positive execution price %f for %s", price, instrument)
	}
	if amount > d.cash {
		amount = d.cash
	}
	if amount <= 0 {
		return errors.Wrapf(errors.ErrDataUnavailable, "no cash available to open %s", instrument)
	}

	invested := amount
	if d.acct.feeOnEntry {
		invested = amount * (1 - d.acct.sellRate)
	}
	shares := invested / price

	d.cash -= amount
	d.positions[instrument] = &datamodels.Position{
		Instrument:        instrument,
		EntryDate:         datamodels.Day(date),
		EntryPrice:        price,
		Shares:            shares,
		HighestSinceEntry: price,
	}
	d.txns = append(d.txns, datamodels.Transaction{
		TransactionId: d.txnId(instrument, datamodels.SideBuy),
		Cycle:         d.cycle.Label,
		Date:          datamodels.Day(date),
		Instrument:    instrument,
		Side:          datamodels.SideBuy,
		Price:         price,
		Shares:        shares,
		Amount:        amount,
	})
	return nil
}

// MarkValue values the draft at the given prices: cash plus every open
// position at its price. Every open instrument must be priced.
func (d *CycleDraft) MarkValue(prices map[string]float64) (float64, error) {
	value := d.cash
	for code, pos := range d.positions {
		price, ok := prices[code]
		if !ok || price <= 0 {
			return 0, errors.Wrapf(errors.ErrDataUnavailable, "no mark price for open position %s", code)
		}
		value += pos.Shares * price
	}
	return value, nil
}

// Commit applies the draft atomically: cash, positions and ledger rows
// move into the accountant and one equity point is appended at the
// given value. The value is computed at the cycle boundary, before any
// intra-cycle exits staged later in the same draft. Any error leaves
// the committed state untouched.
func (d *CycleDraft) Commit(date time.Time, value float64) error {
	if value < 0 {
		return errors.Wrapf(errors.ErrInvariantViolation, "negative cycle value %f", value)
	}
	if d.cash < 0 {
		return errors.Wrapf(errors.ErrInvariantViolation, "draft cash is negative: %f", d.cash)
	}

	prev := d.acct.LastValue()
	ret := 0.0
	if prev > 0 {
		ret = (value/prev - 1) * 100
	}

	d.acct.cash = d.cash
	d.acct.positions = d.positions
	d.acct.ledger = append(d.acct.ledger, d.txns...)
	d.acct.curve = append(d.acct.curve, datamodels.EquityCurvePoint{
		Cycle:          d.cycle.Label,
		Date:           datamodels.Day(date),
		Value:          value,
		CycleReturnPct: ret,
	})
	slog.Info("Cycle committed",
		"cycle", d.cycle.Label,
		"value", value,
		"returnPct", ret,
		"positions", len(d.positions),
		"trades", len(d.txns))
	return nil
}

// txnId is deterministic for a given run seed, cycle, instrument, side
// and prior draft trades, so identical runs produce identical ledgers.
func (d *CycleDraft) txnId(instrument string, side datamodels.OrderSide) string {
	key := fmt.Sprintf("%s:%s:%s:%s:%d", d.acct.runId, d.cycle.Label, instrument, side, len(d.txns))
	return general.GenerateUUID5StringFromByteArray([]byte(key))
}
