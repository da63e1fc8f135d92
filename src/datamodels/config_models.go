package datamodels

import (
	"time"

	"rebalancer/src/utils/errors"
	"rebalancer/src/utils/general"
)

// SimulatorConfig is the one immutable configuration value for a run.
// It is constructed before the run starts and passed explicitly into
// every component; nothing reads mutable global state.
type SimulatorConfig struct {
	Data           DataConfig      `mapstructure:"data"`
	Schedule       ScheduleConfig  `mapstructure:"schedule"`
	Strategy       StrategyConfig  `mapstructure:"strategy"`
	Exits          ExitConfig      `mapstructure:"exits"`
	Costs          CostConfig      `mapstructure:"costs"`
	Output         OutputConfig    `mapstructure:"output"`
	Database       *PostgresConfig `mapstructure:"postgres"`
	InitialCapital float64         `mapstructure:"initial_capital"`
	Seed           int64           `mapstructure:"seed"`
}

type DataConfig struct {
	Dir                  string   `mapstructure:"dir"`
	FilePattern          string   `mapstructure:"file_pattern"`
	CalendarInstrument   string   `mapstructure:"calendar_instrument"`
	BenchmarkInstrument  string   `mapstructure:"benchmark_instrument"`
	Instruments          []string `mapstructure:"instruments"`
	SymbolsFile          string   `mapstructure:"symbols_file"`
	MomentumHorizons     []int    `mapstructure:"momentum_horizons"`
	RecoveryThresholdPct float64  `mapstructure:"recovery_threshold_pct"`
}

type ScheduleConfig struct {
	StartDate string      `mapstructure:"start_date"`
	EndDate   string      `mapstructure:"end_date"`
	Cadence   CadenceRule `mapstructure:"cadence"`
}

func (s *ScheduleConfig) Range() (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateLayout, s.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrapf(err, "bad start_date %q", s.StartDate)
	}
	end, err := time.ParseInLocation(DateLayout, s.EndDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, errors.Wrapf(err, "bad end_date %q", s.EndDate)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, errors.Newf("end_date %s is before start_date %s", s.EndDate, s.StartDate)
	}
	return start, end, nil
}

type StrategyConfig struct {
	MaxHoldings int          `mapstructure:"max_holdings"`
	Entry       ConditionSet `mapstructure:"entry"`
	Exit        ConditionSet `mapstructure:"exit"`
}

// ExitConfig thresholds are percentages; 0 disables the rule.
// MaxHoldingDays of 0 disables the holding-period exit.
type ExitConfig struct {
	TakeProfitPct   float64 `mapstructure:"take_profit_pct"`
	MaxLossPct      float64 `mapstructure:"max_loss_pct"`
	TrailingStopPct float64 `mapstructure:"trailing_stop_pct"`
	MaxHoldingDays  int     `mapstructure:"max_holding_days"`
}

// CostConfig: the sell leg always pays SellRate. FeeOnEntry makes the
// cost model symmetric instead of the default sell-side-only model.
type CostConfig struct {
	SellRate   float64 `mapstructure:"sell_rate"`
	FeeOnEntry bool    `mapstructure:"fee_on_entry"`
}

type OutputConfig struct {
	Dir      string `mapstructure:"dir"`
	WriteCsv bool   `mapstructure:"write_csv"`
	PlotFile string `mapstructure:"plot_file"`
}

type PostgresConfig struct {
	Database string `mapstructure:"database"`
	Host     string `mapstructure:"host"`
	Password string `mapstructure:"password"`
	Port     int    `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl_mode"`
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
}

func (c *SimulatorConfig) Validate() error {
	if c.Data.Dir == "" {
		return errors.New("data.dir is required")
	}
	if c.Data.CalendarInstrument == "" {
		return errors.New("data.calendar_instrument is required")
	}
	if len(c.Data.Instruments) == 0 {
		return errors.New("data.instruments are required")
	}
	if !general.NoDuplicateItemsInSlice(c.Data.Instruments) {
		return errors.New("data.instruments must not contain duplicates")
	}
	if c.InitialCapital <= 0 {
		return errors.New("initial_capital must be greater than 0")
	}
	if c.Strategy.MaxHoldings <= 0 {
		return errors.New("strategy.max_holdings must be greater than 0")
	}
	if c.Costs.SellRate < 0 || c.Costs.SellRate >= 1 {
		return errors.Newf("costs.sell_rate %f out of range [0, 1)", c.Costs.SellRate)
	}
	if c.Exits.TakeProfitPct < 0 || c.Exits.MaxLossPct < 0 || c.Exits.TrailingStopPct < 0 {
		return errors.New("exit thresholds must be >= 0 (0 disables)")
	}
	if _, _, err := c.Schedule.Range(); err != nil {
		return err
	}
	if err := c.Schedule.Cadence.Validate(); err != nil {
		return err
	}
	return nil
}
