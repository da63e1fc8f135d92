package metrics

import (
	"log/slog"

	"rebalancer/src/database"
	"rebalancer/src/datamodels"
)

// DbResultsWriter adapts the results database to the ResultsWriter
// interface so it can sit behind the same multi-writer fan-out as the
// CSV files.
type DbResultsWriter struct {
	db    database.ResultsDatabase
	runId string
}

func NewDbResultsWriter(db database.ResultsDatabase, runId string) *DbResultsWriter {
	return &DbResultsWriter{db: db, runId: runId}
}

func (w *DbResultsWriter) WriteCurve(name string, curve []datamodels.EquityCurvePoint) error {
	return w.db.WriteEquityPoints(w.runId, name, curve)
}

func (w *DbResultsWriter) WriteLedger(ledger []datamodels.Transaction) error {
	return w.db.WriteTransactions(w.runId, ledger)
}

func (w *DbResultsWriter) WriteSummaries(summaries []datamodels.StrategySummary) error {
	// summaries live in the runs table, written once by the entrypoint
	for _, s := range summaries {
		slog.Debug("Summary persisted with run record", "run", w.runId, "strategy", s.Name)
	}
	return nil
}

func (w *DbResultsWriter) Close() error { return w.db.Close() }
