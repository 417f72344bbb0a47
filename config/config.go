package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"evtxhound/core"
	"evtxhound/detect"
	"evtxhound/output"
	"evtxhound/stats"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrMissingConfigDir is returned when the configuration directory does not exist.
var ErrMissingConfigDir = errors.New("configuration directory not found")

// Files looked up in the configuration directory when not set explicitly.
const (
	TargetEventIDsFile = "target_event_IDs.txt"
	ExcludeRulesFile   = "exclude_rules.txt"
	NoisyRulesFile     = "noisy_rules.txt"
	PivotKeywordsFile  = "pivot_keywords.txt"
)

// FieldAlias maps a rule key to a record path. Aliases are a list rather
// than a map because viper lowercases map keys, and rule keys are
// case-sensitive.
type FieldAlias struct {
	Name string `mapstructure:"name" validate:"required"`
	Path string `mapstructure:"path" validate:"required"`
}

// Config holds all configuration for a scan.
type Config struct {
	// ConfigDir holds the allow-list, exclusion and pivot keyword files.
	ConfigDir string `mapstructure:"config_dir" validate:"required"`

	Rules struct {
		Dir              string        `mapstructure:"dir" validate:"required"`
		MinLevel         string        `mapstructure:"min_level"`
		ExcludeFiles     []string      `mapstructure:"exclude_files"`
		SchemaValidation bool          `mapstructure:"schema_validation"`
		RegexTimeout     time.Duration `mapstructure:"regex_timeout" validate:"gte=0"`
		PatternCacheSize int           `mapstructure:"pattern_cache_size" validate:"gte=0"`
	} `mapstructure:"rules"`

	Input struct {
		Extensions   []string `mapstructure:"extensions" validate:"min=1,dive,required"`
		SkipHidden   bool     `mapstructure:"skip_hidden"`
		MaxLineBytes int      `mapstructure:"max_line_bytes" validate:"gte=0"`
	} `mapstructure:"input"`

	Pipeline struct {
		BatchSize          int    `mapstructure:"batch_size" validate:"gte=1,lte=5000"`
		TargetEventIDsFile string `mapstructure:"target_event_ids_file"`
	} `mapstructure:"pipeline"`

	Fields struct {
		EventIDKey    string            `mapstructure:"event_id_key" validate:"required"`
		TimestampKey  string            `mapstructure:"timestamp_key" validate:"required"`
		DefaultPrefix string            `mapstructure:"default_prefix"`
		Aliases       []FieldAlias      `mapstructure:"aliases" validate:"dive"`
	} `mapstructure:"fields"`

	Aggregation struct {
		WindowMode string `mapstructure:"window_mode"`
	} `mapstructure:"aggregation"`

	Statistics struct {
		Categories []stats.Category `mapstructure:"categories" validate:"dive"`
	} `mapstructure:"statistics"`

	Pivot struct {
		KeywordsFile string `mapstructure:"keywords_file"`
	} `mapstructure:"pivot"`

	Output struct {
		Format      string `mapstructure:"format"`
		Path        string `mapstructure:"path"`
		ErrorLogDir string `mapstructure:"error_log_dir"`
		QuietErrors bool   `mapstructure:"quiet_errors"`
	} `mapstructure:"output"`

	Metrics struct {
		Textfile string `mapstructure:"textfile"`
	} `mapstructure:"metrics"`
}

func setDefaults() {
	viper.SetDefault("config_dir", "./rules/config")

	viper.SetDefault("rules.dir", "./rules")
	viper.SetDefault("rules.min_level", core.LevelInformational.String())
	viper.SetDefault("rules.exclude_files", []string{}) // Empty = derive from config_dir
	viper.SetDefault("rules.schema_validation", true)
	viper.SetDefault("rules.regex_timeout", detect.DefaultRegexTimeout)
	viper.SetDefault("rules.pattern_cache_size", detect.DefaultPatternCacheSize)

	viper.SetDefault("input.extensions", []string{".jsonl", ".ndjson", ".jsonl.gz"})
	viper.SetDefault("input.skip_hidden", true)
	viper.SetDefault("input.max_line_bytes", 16<<20)

	viper.SetDefault("pipeline.batch_size", 5000)
	viper.SetDefault("pipeline.target_event_ids_file", "") // Empty = derive from config_dir

	viper.SetDefault("fields.event_id_key", "EventID")
	viper.SetDefault("fields.timestamp_key", "SystemTime")
	viper.SetDefault("fields.default_prefix", core.DefaultFieldPrefix)

	viper.SetDefault("aggregation.window_mode", string(detect.WindowAnchored))

	viper.SetDefault("output.format", string(output.FormatJSONL))
	viper.SetDefault("output.path", "-")
	viper.SetDefault("output.error_log_dir", "./logs")
	viper.SetDefault("output.quiet_errors", false)

	viper.SetDefault("metrics.textfile", "")
}

func loadFromEnv() {
	viper.SetEnvPrefix("EVTXHOUND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// LoadConfig reads configuration from defaults, config.yaml, environment
// variables and any flags already bound to viper, in increasing priority.
// An explicit configFile must exist; otherwise config.yaml is optional.
func LoadConfig(configFile string) (*Config, error) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if len(config.Statistics.Categories) == 0 {
		config.Statistics.Categories = stats.DefaultCategories()
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	if err := config.ResolvePaths(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ResolvePaths checks the configuration directory and derives the paths of
// files that live in it.
func (c *Config) ResolvePaths() error {
	info, err := os.Stat(c.ConfigDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrMissingConfigDir, c.ConfigDir)
	}

	if c.Pipeline.TargetEventIDsFile == "" {
		c.Pipeline.TargetEventIDsFile = filepath.Join(c.ConfigDir, TargetEventIDsFile)
	}
	if len(c.Rules.ExcludeFiles) == 0 {
		c.Rules.ExcludeFiles = []string{
			filepath.Join(c.ConfigDir, ExcludeRulesFile),
			filepath.Join(c.ConfigDir, NoisyRulesFile),
		}
	}
	return nil
}

// MinLevel returns the parsed minimum rule level.
func (c *Config) MinLevel() core.Level {
	level, err := core.ParseLevel(c.Rules.MinLevel)
	if err != nil {
		return core.LevelInformational
	}
	return level
}

// AliasMap returns the configured field aliases keyed by rule key.
func (c *Config) AliasMap() map[string]string {
	out := make(map[string]string, len(c.Fields.Aliases))
	for _, a := range c.Fields.Aliases {
		out[a.Name] = a.Path
	}
	return out
}

// OutputFormat returns the parsed output format.
func (c *Config) OutputFormat() output.Format {
	format, err := output.ParseFormat(c.Output.Format)
	if err != nil {
		return output.FormatJSONL
	}
	return format
}

// validateConfig validates struct tags, then the values that need parsing.
func validateConfig(config *Config) error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if _, err := core.ParseLevel(config.Rules.MinLevel); err != nil {
		return fmt.Errorf("invalid rules.min_level: %w", err)
	}
	if _, err := detect.ParseWindowMode(config.Aggregation.WindowMode); err != nil {
		return fmt.Errorf("invalid aggregation.window_mode: %w", err)
	}
	if _, err := output.ParseFormat(config.Output.Format); err != nil {
		return fmt.Errorf("invalid output.format: %w", err)
	}
	if config.OutputFormat() == output.FormatSQLite && (config.Output.Path == "" || config.Output.Path == "-") {
		return fmt.Errorf("output.path must name a database file for the sqlite format")
	}
	return nil
}
