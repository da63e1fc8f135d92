package metrics

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/errors"
	"rebalancer/src/utils/symbols"
)

// ResultsWriter persists the run artifacts. Implementations must be
// safe to call once per artifact; Close releases whatever they hold.
type ResultsWriter interface {
	WriteCurve(name string, curve []datamodels.EquityCurvePoint) error
	WriteLedger(ledger []datamodels.Transaction) error
	WriteSummaries(summaries []datamodels.StrategySummary) error
	Close() error
}

// BuildResultsWriter assembles the writer stack from config. A nil
// return with no error means nothing is configured to be written.
func BuildResultsWriter(output datamodels.OutputConfig, dict *symbols.Dictionary, extra ...ResultsWriter) (ResultsWriter, error) {
	writers := []ResultsWriter{}
	if output.WriteCsv {
		csvWriter, err := NewCsvResultsWriter(output.Dir, dict)
		if err != nil {
			return nil, err
		}
		writers = append(writers, csvWriter)
	}
	writers = append(writers, extra...)
	if len(writers) == 0 {
		slog.Warn("No results writers configured, run output will only be logged")
		return nil, nil
	}
	return NewMultiResultsWriter(writers...), nil
}

// CsvResultsWriter writes one CSV file per artifact into the output
// directory: equity_<name>.csv, ledger.csv and summary.csv.
type CsvResultsWriter struct {
	dir  string
	dict *symbols.Dictionary
}

func NewCsvResultsWriter(dir string, dict *symbols.Dictionary) (*CsvResultsWriter, error) {
	if dir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create output directory %s", dir)
	}
	if dict == nil {
		dict = symbols.NewEmptyDictionary()
	}
	return &CsvResultsWriter{dir: dir, dict: dict}, nil
}

func (w *CsvResultsWriter) WriteCurve(name string, curve []datamodels.EquityCurvePoint) error {
	rows := [][]string{{"cycle", "date", "value", "cycle_return_pct"}}
	for _, p := range curve {
		rows = append(rows, []string{
			p.Cycle,
			p.Date.Format(datamodels.DateLayout),
			formatFloat(p.Value),
			formatFloat(p.CycleReturnPct),
		})
	}
	return w.writeFile(fmt.Sprintf("equity_%s.csv", name), rows)
}

func (w *CsvResultsWriter) WriteLedger(ledger []datamodels.Transaction) error {
	rows := [][]string{{
		"transaction_id", "cycle", "date", "instrument", "name", "side",
		"price", "shares", "amount", "realized_pnl", "realized_pct", "reason",
	}}
	for _, t := range ledger {
		rows = append(rows, []string{
			t.TransactionId,
			t.Cycle,
			t.Date.Format(datamodels.DateLayout),
			t.Instrument,
			w.dict.NameFor(t.Instrument),
			string(t.Side),
			formatFloat(t.Price),
			formatFloat(t.Shares),
			formatFloat(t.Amount),
			formatFloat(t.RealizedPnL),
			formatFloat(t.RealizedPct),
			string(t.Reason),
		})
	}
	return w.writeFile("ledger.csv", rows)
}

func (w *CsvResultsWriter) WriteSummaries(summaries []datamodels.StrategySummary) error {
	rows := [][]string{{
		"name", "final_value", "total_return_pct", "avg_cycle_return_pct",
		"cycle_return_std_pct", "max_drawdown_pct", "cycles",
	}}
	for _, s := range summaries {
		rows = append(rows, []string{
			s.Name,
			formatFloat(s.FinalValue),
			formatFloat(s.TotalReturnPct),
			formatFloat(s.AvgCycleReturnPct),
			formatFloat(s.CycleReturnStdPct),
			formatFloat(s.MaxDrawdownPct),
			strconv.Itoa(s.Cycles),
		})
	}
	return w.writeFile("summary.csv", rows)
}

func (w *CsvResultsWriter) Close() error { return nil }

func (w *CsvResultsWriter) writeFile(filename string, rows [][]string) error {
	path := filepath.Join(w.dir, filename)
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", path)
	}
	defer file.Close()

	csvWriter := csv.NewWriter(file)
	if err := csvWriter.WriteAll(rows); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return errors.Wrapf(err, "error flushing %s", path)
	}
	slog.Info("Wrote results file", "path", path, "rows", len(rows)-1)
	return nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 6, 64)
}

// MultiResultsWriter fans every artifact out to all child writers,
// keeping going on failure and returning the last error.
type MultiResultsWriter struct {
	writers []ResultsWriter
}

func NewMultiResultsWriter(writers ...ResultsWriter) *MultiResultsWriter {
	return &MultiResultsWriter{writers: writers}
}

func (m *MultiResultsWriter) WriteCurve(name string, curve []datamodels.EquityCurvePoint) error {
	return m.each(func(w ResultsWriter) error { return w.WriteCurve(name, curve) })
}

func (m *MultiResultsWriter) WriteLedger(ledger []datamodels.Transaction) error {
	return m.each(func(w ResultsWriter) error { return w.WriteLedger(ledger) })
}

func (m *MultiResultsWriter) WriteSummaries(summaries []datamodels.StrategySummary) error {
	return m.each(func(w ResultsWriter) error { return w.WriteSummaries(summaries) })
}

func (m *MultiResultsWriter) Close() error {
	return m.each(func(w ResultsWriter) error { return w.Close() })
}

func (m *MultiResultsWriter) each(fn func(ResultsWriter) error) error {
	var lastErr error
	for _, w := range m.writers {
		if err := fn(w); err != nil {
			slog.Error("Results writer failed", "error", err)
			lastErr = err
		}
	}
	return lastErr
}
