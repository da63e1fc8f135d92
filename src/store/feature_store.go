package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"rebalancer/src/datamodels"
	"rebalancer/src/utils/errors"
	"rebalancer/src/utils/general"
)

const defaultFilePattern = "%s_features.csv"

// FeatureStore serves immutable, per-instrument feature tables and the
// trading calendar. Series are loaded once and cached for the run.
type FeatureStore interface {
	Instruments() []string
	Series(instrument string) (*datamodels.FeatureSeries, error)
	SnapshotBefore(instrument string, cutoff time.Time) (*datamodels.FeatureRow, error)
	WindowBefore(instrument string, cutoff time.Time, n int) ([]datamodels.FeatureRow, error)
	Calendar() *datamodels.TradingCalendar
}

// CsvFeatureStore reads one "{code}_features.csv" file per instrument
// from a data directory. The calendar is extracted from the designated
// calendar instrument's dates.
type CsvFeatureStore struct {
	dir         string
	filePattern string
	series      map[string]*datamodels.FeatureSeries
	instruments []string
	calendar    *datamodels.TradingCalendar
}

type CsvFeatureStoreBuilder struct {
	dir                string
	filePattern        string
	instruments        []string
	calendarInstrument string
}

func NewCsvFeatureStoreBuilder(dir string) *CsvFeatureStoreBuilder {
	return &CsvFeatureStoreBuilder{dir: dir, filePattern: defaultFilePattern}
}

func (b *CsvFeatureStoreBuilder) WithFilePattern(pattern string) *CsvFeatureStoreBuilder {
	if pattern != "" {
		b.filePattern = pattern
	}
	return b
}

func (b *CsvFeatureStoreBuilder) WithInstruments(instruments []string) *CsvFeatureStoreBuilder {
	b.instruments = instruments
	return b
}

func (b *CsvFeatureStoreBuilder) WithCalendarInstrument(instrument string) *CsvFeatureStoreBuilder {
	b.calendarInstrument = instrument
	return b
}

func (b *CsvFeatureStoreBuilder) Build() (*CsvFeatureStore, error) {
	if b.dir == "" {
		return nil, errors.New("data directory is required")
	}
	if len(b.instruments) == 0 {
		return nil, errors.New("at least one instrument is required")
	}
	if b.calendarInstrument == "" {
		return nil, errors.New("calendar instrument is required")
	}

	store := &CsvFeatureStore{
		dir:         b.dir,
		filePattern: b.filePattern,
		series:      make(map[string]*datamodels.FeatureSeries),
	}

	// the calendar instrument is always loaded, even when it is not a
	// candidate
	toLoad := make([]string, 0, len(b.instruments)+1)
	toLoad = append(toLoad, b.instruments...)
	if !general.ItemInSlice(b.instruments, b.calendarInstrument) {
		toLoad = append(toLoad, b.calendarInstrument)
	}

	for _, code := range toLoad {
		path := filepath.Join(b.dir, fmt.Sprintf(b.filePattern, code))
		series, err := loadSeriesFromCsv(code, path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load series for %s", code)
		}
		store.series[code] = series
		slog.Info("Loaded feature series", "instrument", code, "rows", series.Len())
	}
	store.instruments = b.instruments

	calSeries := store.series[b.calendarInstrument]
	days := make([]time.Time, 0, calSeries.Len())
	for i := 0; i < calSeries.Len(); i++ {
		days = append(days, calSeries.Row(i).Date)
	}
	store.calendar = datamodels.NewTradingCalendar(days)

	return store, nil
}

func (s *CsvFeatureStore) Instruments() []string { return s.instruments }

func (s *CsvFeatureStore) Series(instrument string) (*datamodels.FeatureSeries, error) {
	series, ok := s.series[instrument]
	if !ok {
		return nil, errors.Wrapf(errors.ErrDataUnavailable, "no series loaded for %s", instrument)
	}
	return series, nil
}

// SnapshotBefore returns the latest row strictly before the cutoff.
func (s *CsvFeatureStore) SnapshotBefore(instrument string, cutoff time.Time) (*datamodels.FeatureRow, error) {
	series, err := s.Series(instrument)
	if err != nil {
		return nil, err
	}
	row, ok := series.LatestBefore(cutoff)
	if !ok {
		return nil, errors.Wrapf(errors.ErrDataUnavailable,
			"no session for %s before %s", instrument, cutoff.Format(datamodels.DateLayout))
	}
	return row, nil
}

// WindowBefore returns up to n rows strictly before the cutoff, oldest
// first.
func (s *CsvFeatureStore) WindowBefore(instrument string, cutoff time.Time, n int) ([]datamodels.FeatureRow, error) {
	series, err := s.Series(instrument)
	if err != nil {
		return nil, err
	}
	return series.WindowBefore(cutoff, n), nil
}

func (s *CsvFeatureStore) Calendar() *datamodels.TradingCalendar { return s.calendar }

// loadSeriesFromCsv parses a header-driven feature table. The header
// must contain date/open/high/low/close/volume (case-insensitive, a few
// aliases accepted); every other numeric column is kept as an indicator
// field. Rows with an unparsable date or close are skipped with a
// warning rather than failing the load.
func loadSeriesFromCsv(instrument, path string) (*datamodels.FeatureSeries, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open feature file %s", path)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read header row")
	}

	cols, err := resolveColumns(header)
	if err != nil {
		return nil, err
	}

	var rows []datamodels.FeatureRow
	lineNo := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		lineNo++
		if err != nil {
			slog.Warn("Skipping malformed csv line", "instrument", instrument, "line", lineNo, "error", err)
			continue
		}

		row, ok := parseRow(record, cols)
		if !ok {
			slog.Warn("Skipping unparsable csv row", "instrument", instrument, "line", lineNo)
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, errors.Wrapf(errors.ErrDataUnavailable, "feature file %s has no usable rows", path)
	}

	return datamodels.NewFeatureSeries(instrument, rows)
}

type columnLayout struct {
	date, open, high, low, close, volume int
	extra                                map[string]int // field name -> column index
}

var headerAliases = map[string]string{
	"date":   datamodels.FieldDate,
	"open":   datamodels.FieldOpen,
	"high":   datamodels.FieldHigh,
	"low":    datamodels.FieldLow,
	"close":  datamodels.FieldClose,
	"volume": datamodels.FieldVolume,
}

func resolveColumns(header []string) (*columnLayout, error) {
	layout := &columnLayout{date: -1, open: -1, high: -1, low: -1, close: -1, volume: -1,
		extra: make(map[string]int)}
	for i, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		canonical, isCore := headerAliases[name]
		if !isCore {
			layout.extra[name] = i
			continue
		}
		switch canonical {
		case datamodels.FieldDate:
			layout.date = i
		case datamodels.FieldOpen:
			layout.open = i
		case datamodels.FieldHigh:
			layout.high = i
		case datamodels.FieldLow:
			layout.low = i
		case datamodels.FieldClose:
			layout.close = i
		case datamodels.FieldVolume:
			layout.volume = i
		}
	}
	for name, idx := range map[string]int{
		datamodels.FieldDate:  layout.date,
		datamodels.FieldOpen:  layout.open,
		datamodels.FieldHigh:  layout.high,
		datamodels.FieldLow:   layout.low,
		datamodels.FieldClose: layout.close,
	} {
		if idx == -1 {
			return nil, errors.Newf("required column %q not found in header", name)
		}
	}
	return layout, nil
}

func parseRow(record []string, cols *columnLayout) (datamodels.FeatureRow, bool) {
	get := func(i int) (float64, bool) {
		if i < 0 || i >= len(record) {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[i]), 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	if cols.date >= len(record) {
		return datamodels.FeatureRow{}, false
	}
	date, err := time.ParseInLocation(datamodels.DateLayout, strings.TrimSpace(record[cols.date]), time.UTC)
	if err != nil {
		return datamodels.FeatureRow{}, false
	}

	closePrice, ok := get(cols.close)
	if !ok {
		return datamodels.FeatureRow{}, false
	}
	open, _ := get(cols.open)
	high, _ := get(cols.high)
	low, _ := get(cols.low)
	volume, _ := get(cols.volume)

	extra := make(map[string]float64, len(cols.extra))
	for name, idx := range cols.extra {
		if v, ok := get(idx); ok {
			extra[name] = v
		}
	}

	return datamodels.FeatureRow{
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closePrice,
		Volume: volume,
		Extra:  extra,
	}, true
}
