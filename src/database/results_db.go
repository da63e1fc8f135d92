package database

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	slogGorm "github.com/orandin/slog-gorm"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/errors"
)

// ResultsDatabase persists finished runs for later comparison across
// parameter sets.
type ResultsDatabase interface {
	CreateRun(run RunRecord) error
	WriteEquityPoints(runId, strategy string, curve []datamodels.EquityCurvePoint) error
	WriteTransactions(runId string, ledger []datamodels.Transaction) error
	Close() error
}

type databaseImplementation struct {
	gormDb *gorm.DB
}

func NewDBConnection(dbConfig datamodels.PostgresConfig) (ResultsDatabase, error) {
	dbConnString := MakeConnectionString(&dbConfig)

	gormConfig := &gorm.Config{
		Logger: slogGorm.New(),
	}

	gormDb, err := gorm.Open(postgres.Open(dbConnString), gormConfig)
	if err != nil {
		return nil, errors.WrapE(err, errors.New("cannot create gorm engine"))
	}

	slog.Info("Connected to results database",
		"host", dbConfig.Host, "database", dbConfig.Database, "user", dbConfig.User)

	if err := gormDb.AutoMigrate(&RunRecord{}, &EquityPointRecord{}, &TransactionRecord{}); err != nil {
		return nil, errors.WrapE(err, errors.New("cannot migrate results tables"))
	}

	return &databaseImplementation{gormDb: gormDb}, nil
}

func MakeConnectionString(dbConfig *datamodels.PostgresConfig) string {
	if dbConfig.URI != "" { // If a full URI is provided, use it
		return dbConfig.URI
	}

	sslMode := dbConfig.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	hostPort := net.JoinHostPort(dbConfig.Host, strconv.Itoa(dbConfig.Port))

	if dbConfig.Password == "" {
		slog.Warn("No password provided for database connection, using empty password")
		return fmt.Sprintf("postgres://%s@%s/%s?search_path=public&sslmode=%s",
			dbConfig.User,
			hostPort,
			dbConfig.Database,
			sslMode,
		)
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?search_path=public&sslmode=%s",
		dbConfig.User,
		dbConfig.Password,
		hostPort,
		dbConfig.Database,
		sslMode,
	)
}

func (d *databaseImplementation) CreateRun(run RunRecord) error {
	result := d.gormDb.Create(&run)
	if result.Error != nil {
		return errors.WrapE(result.Error, errors.New("cannot insert run record"))
	}
	return nil
}

func (d *databaseImplementation) WriteEquityPoints(runId, strategy string, curve []datamodels.EquityCurvePoint) error {
	records := make([]EquityPointRecord, 0, len(curve))
	for _, p := range curve {
		records = append(records, EquityPointRecord{
			RunId:          runId,
			Strategy:       strategy,
			Cycle:          p.Cycle,
			Date:           p.Date,
			Value:          p.Value,
			CycleReturnPct: p.CycleReturnPct,
		})
	}
	result := d.gormDb.Create(&records)
	if result.Error != nil {
		return errors.WrapE(result.Error, errors.New("cannot insert equity points"))
	}
	return nil
}

func (d *databaseImplementation) WriteTransactions(runId string, ledger []datamodels.Transaction) error {
	if len(ledger) == 0 {
		return nil
	}
	records := make([]TransactionRecord, 0, len(ledger))
	for _, t := range ledger {
		records = append(records, TransactionRecord{
			TransactionId: t.TransactionId,
			RunId:         runId,
			Cycle:         t.Cycle,
			Date:          t.Date,
			Instrument:    t.Instrument,
			Side:          string(t.Side),
			Price:         t.Price,
			Shares:        t.Shares,
			Amount:        t.Amount,
			RealizedPnL:   t.RealizedPnL,
			RealizedPct:   t.RealizedPct,
			Reason:        string(t.Reason),
		})
	}
	result := d.gormDb.Create(&records)
	if result.Error != nil {
		return errors.WrapE(result.Error, errors.New("cannot insert transactions"))
	}
	return nil
}

func (d *databaseImplementation) Close() error {
	sqlDb, err := d.gormDb.DB()
	if err != nil {
		return err
	}
	return sqlDb.Close()
}

// RunRecord is one finished simulation.
type RunRecord struct {
	RunId          string    `gorm:"column:run_id;primaryKey"`
	StartedAt      time.Time `gorm:"column:started_at"`
	StartDate      time.Time `gorm:"column:start_date"`
	EndDate        time.Time `gorm:"column:end_date"`
	Cadence        string    `gorm:"column:cadence"`
	InitialCapital float64   `gorm:"column:initial_capital"`
	FinalValue     float64   `gorm:"column:final_value"`
	Seed           int64     `gorm:"column:seed"`
}

func (RunRecord) TableName() string { return "runs" }

// EquityPointRecord is one committed cycle boundary of one curve.
type EquityPointRecord struct {
	Id             int64     `gorm:"column:id;primaryKey;autoIncrement"`
	RunId          string    `gorm:"column:run_id;index"`
	Strategy       string    `gorm:"column:strategy"`
	Cycle          string    `gorm:"column:cycle"`
	Date           time.Time `gorm:"column:date"`
	Value          float64   `gorm:"column:value"`
	CycleReturnPct float64   `gorm:"column:cycle_return_pct"`
}

func (EquityPointRecord) TableName() string { return "equity_points" }

// TransactionRecord is one ledger row of one run.
type TransactionRecord struct {
	TransactionId string    `gorm:"column:transaction_id;primaryKey"`
	RunId         string    `gorm:"column:run_id;index"`
	Cycle         string    `gorm:"column:cycle"`
	Date          time.Time `gorm:"column:date"`
	Instrument    string    `gorm:"column:instrument"`
	Side          string    `gorm:"column:side"`
	Price         float64   `gorm:"column:price"`
	Shares        float64   `gorm:"column:shares"`
	Amount        float64   `gorm:"column:amount"`
	RealizedPnL   float64   `gorm:"column:realized_pnl"`
	RealizedPct   float64   `gorm:"column:realized_pct"`
	Reason        string    `gorm:"column:reason"`
}

func (TransactionRecord) TableName() string { return "transactions" }
