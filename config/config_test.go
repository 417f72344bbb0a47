package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"evtxhound/core"
	"evtxhound/detect"
	"evtxhound/output"
	"evtxhound/stats"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	path := writeConfig(t, dir, "config_dir: "+dir+"\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "./rules", cfg.Rules.Dir)
	assert.Equal(t, core.LevelInformational, cfg.MinLevel())
	assert.True(t, cfg.Rules.SchemaValidation)
	assert.Equal(t, detect.DefaultRegexTimeout, cfg.Rules.RegexTimeout)
	assert.Equal(t, 5000, cfg.Pipeline.BatchSize)
	assert.Equal(t, "EventID", cfg.Fields.EventIDKey)
	assert.Equal(t, "SystemTime", cfg.Fields.TimestampKey)
	assert.Equal(t, "anchored", cfg.Aggregation.WindowMode)
	assert.Equal(t, output.FormatJSONL, cfg.OutputFormat())
	assert.Equal(t, stats.DefaultCategories(), cfg.Statistics.Categories)
	assert.Equal(t, []string{".jsonl", ".ndjson", ".jsonl.gz"}, cfg.Input.Extensions)

	assert.Equal(t, filepath.Join(dir, TargetEventIDsFile), cfg.Pipeline.TargetEventIDsFile)
	assert.Equal(t, []string{
		filepath.Join(dir, ExcludeRulesFile),
		filepath.Join(dir, NoisyRulesFile),
	}, cfg.Rules.ExcludeFiles)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	path := writeConfig(t, dir, `
config_dir: `+dir+`
rules:
  dir: /opt/rules
  min_level: high
  regex_timeout: 2s
pipeline:
  batch_size: 1000
  target_event_ids_file: /etc/ids.txt
aggregation:
  window_mode: aligned
fields:
  aliases:
    - name: Image
      path: Event.EventData.NewProcessName
statistics:
  categories:
    - name: computers
      field: Computer
    - name: logon_types
      field: LogonType
      event_ids: ["4624"]
`)
	t.Setenv("EVTXHOUND_OUTPUT_FORMAT", "msgpack")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/rules", cfg.Rules.Dir)
	assert.Equal(t, core.LevelHigh, cfg.MinLevel())
	assert.Equal(t, 2*time.Second, cfg.Rules.RegexTimeout)
	assert.Equal(t, 1000, cfg.Pipeline.BatchSize)
	assert.Equal(t, "/etc/ids.txt", cfg.Pipeline.TargetEventIDsFile)
	assert.Equal(t, "aligned", cfg.Aggregation.WindowMode)
	assert.Equal(t, "Event.EventData.NewProcessName", cfg.AliasMap()["Image"])
	assert.Equal(t, output.FormatMsgpack, cfg.OutputFormat())
	assert.Equal(t, []stats.Category{
		{Name: "computers", Field: "Computer"},
		{Name: "logon_types", Field: "LogonType", EventIDs: []string{"4624"}},
	}, cfg.Statistics.Categories)
}

func TestLoadConfig_MissingConfigDir(t *testing.T) {
	viper.Reset()
	dir := t.TempDir()
	path := writeConfig(t, dir, "config_dir: "+filepath.Join(dir, "absent")+"\n")

	_, err := LoadConfig(path)
	assert.ErrorIs(t, err, ErrMissingConfigDir)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	viper.Reset()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "batch too large", body: "pipeline:\n  batch_size: 5001\n", wantErr: "BatchSize"},
		{name: "batch zero", body: "pipeline:\n  batch_size: 0\n", wantErr: "BatchSize"},
		{name: "bad level", body: "rules:\n  min_level: severe\n", wantErr: "rules.min_level"},
		{name: "bad window mode", body: "aggregation:\n  window_mode: sliding\n", wantErr: "aggregation.window_mode"},
		{name: "bad format", body: "output:\n  format: csv\n", wantErr: "output.format"},
		{name: "sqlite to stdout", body: "output:\n  format: sqlite\n", wantErr: "output.path"},
		{name: "category without field", body: "statistics:\n  categories:\n    - name: x\n", wantErr: "Field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			dir := t.TempDir()
			path := writeConfig(t, dir, "config_dir: "+dir+"\n"+tt.body)

			_, err := LoadConfig(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
