package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evtxhound/config"
	"evtxhound/core"
	"evtxhound/metrics"
	"evtxhound/output"
	"evtxhound/pipeline"
	"evtxhound/source"
	"evtxhound/stats"

	"go.uber.org/zap"
)

// ScanOptions are per-invocation choices that are not part of the
// configuration file.
type ScanOptions struct {
	// StatisticsOnly skips rule loading and detection; only the tracker and
	// timeline run.
	StatisticsOnly bool
	// OnContainer is forwarded to the pipeline driver for progress display.
	OnContainer func(path string, index, total int)
}

// App is one configured scan.
type App struct {
	Config    *config.Config
	Sugar     *zap.SugaredLogger
	Errors    *core.ErrorLog
	Detection *DetectionComponents

	driver *pipeline.Driver
	sink   output.Sink
}

// NewApp loads rules, builds the pipeline and opens the result sink.
func NewApp(cfg *config.Config, opts ScanOptions, sugar *zap.SugaredLogger) (*App, error) {
	app := &App{
		Config: cfg,
		Sugar:  sugar,
		Errors: core.NewErrorLog(),
	}

	var detector pipeline.Detector
	var ruleKeys []string
	if !opts.StatisticsOnly {
		detection, err := InitDetection(cfg, app.Errors, sugar)
		if err != nil {
			return nil, err
		}
		app.Detection = detection
		detector = detection.Engine
		ruleKeys = detection.Engine.Keys()
	}

	resolver := core.NewFieldResolver(cfg.AliasMap(), cfg.Fields.DefaultPrefix)
	tracker := stats.NewTracker(cfg.Statistics.Categories, cfg.Fields.EventIDKey)

	allow, err := pipeline.LoadAllowSet(cfg.Pipeline.TargetEventIDsFile)
	if err != nil {
		return nil, err
	}
	if allow.Len() > 0 {
		sugar.Infow("Event ID prefilter enabled", "file", cfg.Pipeline.TargetEventIDsFile, "ids", allow.Len())
	}

	var pivots *stats.PivotCollector
	if cfg.Pivot.KeywordsFile != "" && !opts.StatisticsOnly {
		keywords, err := stats.LoadPivotKeywords(cfg.Pivot.KeywordsFile)
		if err != nil {
			return nil, err
		}
		pivots = stats.NewPivotCollector(keywords, resolver)
	}

	keys := pipeline.MergeKeys(ruleKeys, tracker.Keys(), []string{cfg.Fields.EventIDKey})
	sink, err := output.NewSink(cfg.OutputFormat(), cfg.Output.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}

	app.sink = sink
	app.driver, err = pipeline.NewDriver(pipeline.Config{
		BatchSize:   cfg.Pipeline.BatchSize,
		Opener:      source.FileOpener{MaxLineBytes: cfg.Input.MaxLineBytes},
		Prefilter:   pipeline.NewPrefilter(allow, resolver, cfg.Fields.EventIDKey),
		Enricher:    pipeline.NewEnricher(keys, resolver, cfg.Fields.TimestampKey, sugar),
		Detector:    detector,
		Tracker:     tracker,
		Timeline:    stats.NewTimeline(),
		Pivots:      pivots,
		Sink:        sink,
		Errors:      app.Errors,
		Logger:      sugar,
		OnContainer: opts.OnContainer,
	})
	if err != nil {
		sink.Close(core.StatsSnapshot{})
		return nil, err
	}
	return app, nil
}

// Run scans the inputs and writes the end-of-run artifacts: the error log
// file and the metrics textfile, when configured.
func (a *App) Run(ctx context.Context, inputs []string) (*pipeline.Result, error) {
	containers, err := ResolveContainers(inputs, a.Config)
	if err != nil {
		a.sink.Close(core.StatsSnapshot{})
		return nil, err
	}
	a.Sugar.Infow("Starting scan", "containers", len(containers))

	// The driver closes the sink only after a complete run.
	result, err := a.driver.Run(ctx, containers)
	if err != nil {
		if !errors.Is(err, pipeline.ErrSinkClose) {
			a.sink.Close(core.StatsSnapshot{})
		}
		return nil, err
	}

	if !a.Config.Output.QuietErrors {
		path, err := WriteErrorLog(a.Config.Output.ErrorLogDir, a.Errors, time.Now())
		if err != nil {
			a.Sugar.Warnw("Failed to write error log", "error", err)
		} else if path != "" {
			a.Sugar.Infow("Error log written", "path", path, "errors", a.Errors.Len())
		}
	}
	if a.Config.Metrics.Textfile != "" {
		if err := metrics.WriteTextfile(a.Config.Metrics.Textfile); err != nil {
			a.Sugar.Warnw("Failed to write metrics", "error", err)
		}
	}
	return result, nil
}
