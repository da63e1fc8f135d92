package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"rebalancer/src/backtest"
	"rebalancer/src/benchmarks"
	"rebalancer/src/config"
	"rebalancer/src/database"
	"rebalancer/src/datamodels"
	"rebalancer/src/metrics"
	"rebalancer/src/store"
	"rebalancer/src/utils/symbols"
	"rebalancer/src/version"
)

func main() {
	initializeLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// a signal aborts the run between cycles
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.Info("Ramping up rebalancer", "version", version.GetBuildInfo()["version"])

	if err := run(ctx, cfg); err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *datamodels.SimulatorConfig) error {
	featureStore, err := store.NewCsvFeatureStoreBuilder(cfg.Data.Dir).
		WithFilePattern(cfg.Data.FilePattern).
		WithInstruments(cfg.Data.Instruments).
		WithCalendarInstrument(cfg.Data.CalendarInstrument).
		Build()
	if err != nil {
		return err
	}

	dict := symbols.NewEmptyDictionary()
	if cfg.Data.SymbolsFile != "" {
		dict, err = symbols.NewDictionaryFromFile(cfg.Data.SymbolsFile)
		if err != nil {
			slog.Warn("Failed to load symbols file, falling back to codes",
				"path", cfg.Data.SymbolsFile, "error", err)
			dict = symbols.NewEmptyDictionary()
		}
	}

	engine, err := backtest.NewEngineBuilder(cfg, featureStore).Build()
	if err != nil {
		return err
	}

	result, err := engine.Run(ctx)
	if err != nil {
		return err
	}

	comparator := benchmarks.NewComparator(cfg, featureStore, engine.Contexts())
	fixedHold, err := comparator.FixedHold(result.Cycles)
	if err != nil {
		slog.Warn("Fixed-hold benchmark unavailable", "error", err)
	}
	equalWeight, err := comparator.EqualWeightEligible(result.Cycles)
	if err != nil {
		slog.Warn("Equal-weight benchmark unavailable", "error", err)
	}

	summaries := summarize(result.Curve, fixedHold, equalWeight)
	for _, s := range summaries {
		slog.Info("Strategy summary",
			"name", s.Name,
			"finalValue", s.FinalValue,
			"totalReturnPct", s.TotalReturnPct,
			"avgCycleReturnPct", s.AvgCycleReturnPct,
			"maxDrawdownPct", s.MaxDrawdownPct,
			"cycles", s.Cycles)
	}

	return writeArtifacts(cfg, dict, result, fixedHold, equalWeight, summaries)
}

func summarize(curves ...[]datamodels.EquityCurvePoint) []datamodels.StrategySummary {
	names := []string{"strategy", "fixed_hold", "equal_weight"}
	var out []datamodels.StrategySummary
	for i, curve := range curves {
		if len(curve) == 0 {
			continue
		}
		summary, err := metrics.Summarize(names[i], curve)
		if err != nil {
			slog.Warn("Failed to summarize curve", "name", names[i], "error", err)
			continue
		}
		out = append(out, summary)
	}
	return out
}

func writeArtifacts(
	cfg *datamodels.SimulatorConfig,
	dict *symbols.Dictionary,
	result *backtest.RunResult,
	fixedHold, equalWeight []datamodels.EquityCurvePoint,
	summaries []datamodels.StrategySummary,
) error {
	var extra []metrics.ResultsWriter
	if cfg.Database != nil {
		db, err := database.NewDBConnection(*cfg.Database)
		if err != nil {
			slog.Warn("Results database unavailable, skipping persistence", "error", err)
		} else {
			start, end, _ := cfg.Schedule.Range()
			finalValue := result.Curve[len(result.Curve)-1].Value
			if err := db.CreateRun(database.RunRecord{
				RunId:          result.RunId,
				StartedAt:      time.Now().UTC(),
				StartDate:      start,
				EndDate:        end,
				Cadence:        string(cfg.Schedule.Cadence.Kind),
				InitialCapital: cfg.InitialCapital,
				FinalValue:     finalValue,
				Seed:           cfg.Seed,
			}); err != nil {
				slog.Warn("Failed to record run", "error", err)
			} else {
				extra = append(extra, metrics.NewDbResultsWriter(db, result.RunId))
			}
		}
	}

	writer, err := metrics.BuildResultsWriter(cfg.Output, dict, extra...)
	if err != nil {
		return err
	}
	if writer != nil {
		defer writer.Close()
		if err := writer.WriteCurve("strategy", result.Curve); err != nil {
			return err
		}
		if len(fixedHold) > 0 {
			if err := writer.WriteCurve("fixed_hold", fixedHold); err != nil {
				return err
			}
		}
		if len(equalWeight) > 0 {
			if err := writer.WriteCurve("equal_weight", equalWeight); err != nil {
				return err
			}
		}
		if err := writer.WriteLedger(result.Ledger); err != nil {
			return err
		}
		if err := writer.WriteSummaries(summaries); err != nil {
			return err
		}
	}

	if cfg.Output.PlotFile != "" {
		plotter := metrics.NewCurvePlotter(cfg.Output.PlotFile).
			WithCurve("strategy", result.Curve)
		if len(fixedHold) > 0 {
			plotter = plotter.WithCurve("fixed_hold", fixedHold)
		}
		if len(equalWeight) > 0 {
			plotter = plotter.WithCurve("equal_weight", equalWeight)
		}
		if err := plotter.Save(); err != nil {
			slog.Warn("Failed to save equity plot", "error", err)
		}
	}

	return nil
}

func initializeLogging() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}
	switch strings.ToLower(logLevel) {
	case "debug":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelDebug, AddSource: true})))
	case "info":
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo})))
	default:
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout,
			&slog.HandlerOptions{Level: slog.LevelInfo})))
	}
}
