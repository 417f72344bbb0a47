package bootstrap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"evtxhound/config"
	"evtxhound/core"
	"evtxhound/detect"
	"evtxhound/output"
	"evtxhound/pipeline"
	"evtxhound/source"
	"evtxhound/stats"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const clearedLogRule = `
title: Security log cleared
id: cleared-1
level: high
detection:
  selection:
    EventID: 1102
  condition: selection
`

// scanFixture lays out a config dir, a rules dir and an input dir.
type scanFixture struct {
	root, configDir, rulesDir, inputDir, outPath string
}

func newScanFixture(t *testing.T) scanFixture {
	t.Helper()
	root := t.TempDir()
	f := scanFixture{
		root:      root,
		configDir: filepath.Join(root, "config"),
		rulesDir:  filepath.Join(root, "rules"),
		inputDir:  filepath.Join(root, "logs"),
		outPath:   filepath.Join(root, "out", "findings.jsonl"),
	}
	for _, dir := range []string{f.configDir, f.rulesDir, f.inputDir} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.rulesDir, "cleared.yml"), []byte(clearedLogRule), 0o644))

	lines := []string{
		`{"Event":{"System":{"EventID":1102,"TimeCreated_attributes":{"SystemTime":"2024-03-01T10:00:00Z"}}}}`,
		`{"Event":{"System":{"EventID":4624},"EventData":{"TargetUserName":"alice"}}}`,
		`not json`,
		`{"Event":{"System":{"EventID":4688}}}`,
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.inputDir, "security.jsonl"), []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return f
}

func (f scanFixture) load(t *testing.T, extra string) *config.Config {
	t.Helper()
	viper.Reset()
	body := "config_dir: " + f.configDir + "\n" +
		"rules:\n  dir: " + f.rulesDir + "\n" +
		"output:\n  path: " + f.outPath + "\n  error_log_dir: " + filepath.Join(f.root, "errors") + "\n" +
		extra
	path := filepath.Join(f.root, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	cfg, err := InitConfig(path, zap.NewNop().Sugar())
	require.NoError(t, err)
	return cfg
}

func readFrames(t *testing.T, path string) []output.Frame {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var frames []output.Frame
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var fr output.Frame
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &fr))
		frames = append(frames, fr)
	}
	return frames
}

func TestApp_Run(t *testing.T) {
	f := newScanFixture(t)
	cfg := f.load(t, "")

	var seen []string
	app, err := NewApp(cfg, ScanOptions{OnContainer: func(path string, index, total int) {
		seen = append(seen, filepath.Base(path))
	}}, zap.NewNop().Sugar())
	require.NoError(t, err)
	require.NotNil(t, app.Detection)
	assert.Equal(t, 1, app.Detection.Summary.Loaded)

	res, err := app.Run(context.Background(), []string{f.inputDir})
	require.NoError(t, err)

	assert.Equal(t, []string{"security.jsonl"}, seen)
	assert.Equal(t, int64(3), res.Records)
	assert.Equal(t, int64(1), res.Findings)
	assert.Equal(t, int64(1), res.Stats.Count(stats.CategoryEventID, "4624"))
	assert.Equal(t, int64(1), res.Stats.Count(stats.CategoryLogonSuccess, "alice"))

	frames := readFrames(t, f.outPath)
	require.Len(t, frames, 2)
	assert.Equal(t, "cleared-1", frames[0].Finding.RuleID)
	assert.Equal(t, core.LevelHigh, frames[0].Finding.Level)
	assert.Equal(t, output.KindStatistics, frames[1].Kind)

	logs, err := filepath.Glob(filepath.Join(f.root, "errors", "errorlog-*.log"))
	require.NoError(t, err)
	require.Len(t, logs, 1)
	content, err := os.ReadFile(logs[0])
	require.NoError(t, err)
	assert.Contains(t, string(content), "[decode]")
}

func TestApp_TargetEventIDs(t *testing.T) {
	f := newScanFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.configDir, config.TargetEventIDsFile), []byte("4624\n"), 0o644))
	cfg := f.load(t, "")

	app, err := NewApp(cfg, ScanOptions{}, zap.NewNop().Sugar())
	require.NoError(t, err)
	res, err := app.Run(context.Background(), []string{f.inputDir})
	require.NoError(t, err)

	assert.Equal(t, int64(2), res.Filtered)
	assert.Equal(t, int64(0), res.Findings)
	assert.Equal(t, int64(1), res.Stats.TotalRecords)
}

func TestApp_StatisticsOnlyNeedsNoRules(t *testing.T) {
	f := newScanFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.rulesDir, "cleared.yml")))
	cfg := f.load(t, "")

	_, err := NewApp(cfg, ScanOptions{}, zap.NewNop().Sugar())
	assert.True(t, errors.Is(err, detect.ErrEmptyCorpus))

	app, err := NewApp(cfg, ScanOptions{StatisticsOnly: true}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Nil(t, app.Detection)

	res, err := app.Run(context.Background(), []string{filepath.Join(f.inputDir, "security.jsonl")})
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Findings)
	assert.Equal(t, int64(3), res.Stats.TotalRecords)
}

func TestApp_ExcludedRules(t *testing.T) {
	f := newScanFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(f.configDir, config.NoisyRulesFile), []byte("cleared-1\n"), 0o644))
	cfg := f.load(t, "")

	_, err := NewApp(cfg, ScanOptions{}, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, detect.ErrEmptyCorpus)
}

func TestApp_MissingRulesDir(t *testing.T) {
	f := newScanFixture(t)
	cfg := f.load(t, "")
	cfg.Rules.Dir = filepath.Join(f.root, "absent")

	_, err := NewApp(cfg, ScanOptions{}, zap.NewNop().Sugar())
	assert.ErrorIs(t, err, detect.ErrEmptyCorpus)
}

type countingSink struct {
	closes   int
	closeErr error
}

func (s *countingSink) Write(core.Finding) error { return nil }

func (s *countingSink) Close(core.StatsSnapshot) error {
	s.closes++
	return s.closeErr
}

func TestApp_RunClosesSinkOnce(t *testing.T) {
	f := newScanFixture(t)
	cfg := f.load(t, "")
	input := filepath.Join(f.inputDir, "security.jsonl")

	tests := []struct {
		name     string
		ctx      func() context.Context
		closeErr error
	}{
		{
			name:     "close fails",
			ctx:      context.Background,
			closeErr: errors.New("disk full"),
		},
		{
			name: "run aborted",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sugar := zap.NewNop().Sugar()
			sink := &countingSink{closeErr: tt.closeErr}
			resolver := core.NewFieldResolver(cfg.AliasMap(), cfg.Fields.DefaultPrefix)
			tracker := stats.NewTracker(cfg.Statistics.Categories, cfg.Fields.EventIDKey)
			driver, err := pipeline.NewDriver(pipeline.Config{
				Opener:   source.FileOpener{},
				Enricher: pipeline.NewEnricher(tracker.Keys(), resolver, cfg.Fields.TimestampKey, sugar),
				Tracker:  tracker,
				Sink:     sink,
				Logger:   sugar,
			})
			require.NoError(t, err)

			app := &App{Config: cfg, Sugar: sugar, Errors: core.NewErrorLog(), driver: driver, sink: sink}
			_, err = app.Run(tt.ctx(), []string{input})
			require.Error(t, err)
			assert.Equal(t, 1, sink.closes)
		})
	}
}

func TestResolveContainers(t *testing.T) {
	f := newScanFixture(t)
	cfg := f.load(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(f.inputDir, "notes.txt"), []byte("x"), 0o644))
	single := filepath.Join(f.root, "extra.log")
	require.NoError(t, os.WriteFile(single, []byte("{}\n"), 0o644))

	got, err := ResolveContainers([]string{f.inputDir, single}, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(f.inputDir, "security.jsonl"), single}, got)

	empty := filepath.Join(f.root, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	_, err = ResolveContainers([]string{empty}, cfg)
	assert.ErrorIs(t, err, ErrNoContainers)

	_, err = ResolveContainers([]string{filepath.Join(f.root, "missing")}, cfg)
	assert.Error(t, err)
}

func TestWriteErrorLog(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	now := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	path, err := WriteErrorLog(dir, core.NewErrorLog(), now)
	require.NoError(t, err)
	assert.Empty(t, path)

	errs := core.NewErrorLog()
	errs.Add(core.ErrorKindContainer, "broken.jsonl", errors.New("permission denied"))
	path, err = WriteErrorLog(dir, errs, now)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "errorlog-20240301_093000.log"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "broken.jsonl")
	assert.Contains(t, string(content), "permission denied")
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.InfoLevel, LogLevel(false, false))
	assert.Equal(t, zapcore.DebugLevel, LogLevel(true, false))
	assert.Equal(t, zapcore.WarnLevel, LogLevel(false, true))
	assert.Equal(t, zapcore.WarnLevel, LogLevel(true, true))
}
