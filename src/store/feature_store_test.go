//go:build unit

package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rebalancer/src/utils/errors"
)

func writeCsv(t *testing.T, dir, filename, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0644))
}

func TestCsvStoreLoadsSeriesAndCalendar(t *testing.T) {
	dir := t.TempDir()
	writeCsv(t, dir, "AAA_features.csv",
		"date,open,high,low,close,volume,ma_20\n"+
			"2023-03-01,100,101,99,100.5,1000,98.2\n"+
			"2023-03-02,100.5,102,100,101,1100,98.9\n")
	writeCsv(t, dir, "CAL_features.csv",
		"date,open,high,low,close,volume\n"+
			"2023-03-01,1,1,1,1,0\n"+
			"2023-03-02,1,1,1,1,0\n"+
			"2023-03-03,1,1,1,1,0\n")

	s, err := NewCsvFeatureStoreBuilder(dir).
		WithInstruments([]string{"AAA"}).
		WithCalendarInstrument("CAL").
		Build()
	require.NoError(t, err)

	assert.Equal(t, []string{"AAA"}, s.Instruments())

	series, err := s.Series("AAA")
	require.NoError(t, err)
	require.Equal(t, 2, series.Len())
	row := series.Row(0)
	assert.InDelta(t, 100.5, row.Close, 1e-9)
	assert.InDelta(t, 98.2, row.Extra["ma_20"], 1e-9)

	// the calendar instrument is loaded even though it is not a candidate
	assert.Equal(t, 3, s.Calendar().Len())
}

func TestCsvStoreSkipsBadRows(t *testing.T) {
	dir := t.TempDir()
	writeCsv(t, dir, "AAA_features.csv",
		"date,open,high,low,close,volume\n"+
			"2023-03-01,100,101,99,100.5,1000\n"+
			"not-a-date,100,101,99,100.5,1000\n"+
			"2023-03-02,100,101,99,,1000\n"+
			"2023-03-03,100,101,99,101,1000\n")

	s, err := NewCsvFeatureStoreBuilder(dir).
		WithInstruments([]string{"AAA"}).
		WithCalendarInstrument("AAA").
		Build()
	require.NoError(t, err)

	series, err := s.Series("AAA")
	require.NoError(t, err)
	assert.Equal(t, 2, series.Len())
}

func TestCsvStoreHeaderCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeCsv(t, dir, "AAA_features.csv",
		"Date,Open,High,Low,Close,Volume\n"+
			"2023-03-01,100,101,99,100.5,1000\n")

	s, err := NewCsvFeatureStoreBuilder(dir).
		WithInstruments([]string{"AAA"}).
		WithCalendarInstrument("AAA").
		Build()
	require.NoError(t, err)
	series, err := s.Series("AAA")
	require.NoError(t, err)
	assert.Equal(t, 1, series.Len())
}

func TestCsvStoreMissingRequiredColumn(t *testing.T) {
	dir := t.TempDir()
	writeCsv(t, dir, "AAA_features.csv",
		"date,open,high,low,volume\n"+
			"2023-03-01,100,101,99,1000\n")

	_, err := NewCsvFeatureStoreBuilder(dir).
		WithInstruments([]string{"AAA"}).
		WithCalendarInstrument("AAA").
		Build()
	assert.Error(t, err)
}

func TestCsvStoreMissingFile(t *testing.T) {
	dir := t.TempDir()
	_, err := NewCsvFeatureStoreBuilder(dir).
		WithInstruments([]string{"AAA"}).
		WithCalendarInstrument("AAA").
		Build()
	assert.Error(t, err)
}

func TestUnknownInstrument(t *testing.T) {
	dir := t.TempDir()
	writeCsv(t, dir, "AAA_features.csv",
		"date,open,high,low,close,volume\n"+
			"2023-03-01,100,101,99,100.5,1000\n")

	s, err := NewCsvFeatureStoreBuilder(dir).
		WithInstruments([]string{"AAA"}).
		WithCalendarInstrument("AAA").
		Build()
	require.NoError(t, err)

	_, err = s.Series("ZZZ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrDataUnavailable))
}

func TestSnapshotAndWindowBefore(t *testing.T) {
	dir := t.TempDir()
	writeCsv(t, dir, "AAA_features.csv",
		"date,open,high,low,close,volume\n"+
			"2023-03-01,100,101,99,100,1000\n"+
			"2023-03-02,101,102,100,101,1000\n"+
			"2023-03-03,102,103,101,102,1000\n")

	s, err := NewCsvFeatureStoreBuilder(dir).
		WithInstruments([]string{"AAA"}).
		WithCalendarInstrument("AAA").
		Build()
	require.NoError(t, err)

	cutoff := time.Date(2023, time.March, 3, 0, 0, 0, 0, time.UTC)
	row, err := s.SnapshotBefore("AAA", cutoff)
	require.NoError(t, err)
	assert.InDelta(t, 101, row.Close, 1e-9)

	window, err := s.WindowBefore("AAA", cutoff, 5)
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.InDelta(t, 100, window[0].Close, 1e-9)

	_, err = s.SnapshotBefore("AAA", time.Date(2023, time.March, 1, 0, 0, 0, 0, time.UTC))
	assert.Error(t, err)
}
