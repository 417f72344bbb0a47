// Package rules loads the YAML rule corpus from disk and compiles it for the
// detection engine.
package rules

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"evtxhound/core"
	"evtxhound/detect"
	"evtxhound/metrics"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Statuses whose rules are loaded but disabled.
var disabledStatuses = map[string]struct{}{
	"deprecated":  {},
	"unsupported": {},
}

// document is the on-disk shape of one rule file.
type document struct {
	Title     string                 `yaml:"title"`
	ID        string                 `yaml:"id"`
	Level     string                 `yaml:"level"`
	Status    string                 `yaml:"status"`
	Author    string                 `yaml:"author"`
	Tags      []string               `yaml:"tags"`
	Detection map[string]interface{} `yaml:"detection"`
}

// LoaderConfig configures rule loading.
type LoaderConfig struct {
	MinLevel   core.Level
	Exclusions map[string]struct{}
	Compiler   detect.CompilerConfig
	// SkipSchemaValidation compiles rule files without checking them
	// against the rule schema first.
	SkipSchemaValidation bool
}

// Summary counts rule files by load outcome.
type Summary struct {
	Loaded   int
	Disabled int
	Filtered int
	Excluded int
	Invalid  int
	// LevelCounts counts enabled rules by level.
	LevelCounts map[core.Level]int
}

// Loader reads and compiles rule files.
type Loader struct {
	cfg       LoaderConfig
	compiler  *detect.Compiler
	validator *Validator
	errs      *core.ErrorLog
	logger    *zap.SugaredLogger
}

// NewLoader creates a loader. Invalid rule files are recorded in errs.
func NewLoader(cfg LoaderConfig, errs *core.ErrorLog, logger *zap.SugaredLogger) (*Loader, error) {
	compiler, err := detect.NewCompiler(cfg.Compiler)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule compiler: %w", err)
	}
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if errs == nil {
		errs = core.NewErrorLog()
	}
	return &Loader{cfg: cfg, compiler: compiler, validator: validator, errs: errs, logger: logger}, nil
}

// Load reads a single rule file or every .yml/.yaml file below a directory,
// in lexical path order. Hidden files and directories are skipped. A rule
// file that fails to parse or compile is logged and skipped. A path that does
// not exist yields an empty corpus.
func (l *Loader) Load(path string) ([]*detect.Rule, Summary, error) {
	summary := Summary{LevelCounts: make(map[core.Level]int)}

	files, err := ruleFiles(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.logger.Warnw("Rules path does not exist", "path", path)
		return []*detect.Rule{}, summary, nil
	}
	if err != nil {
		return nil, summary, err
	}

	var out []*detect.Rule
	seen := make(map[string]string)
	for _, file := range files {
		rule, err := l.ParseFile(file)
		if err != nil {
			summary.Invalid++
			metrics.RulesLoaded.WithLabelValues("invalid").Inc()
			l.errs.Add(core.ErrorKindRule, file, err)
			l.logger.Warnw("Skipping invalid rule", "path", file, "error", err)
			continue
		}
		if prev, dup := seen[rule.ID]; dup {
			summary.Invalid++
			metrics.RulesLoaded.WithLabelValues("invalid").Inc()
			dupErr := fmt.Errorf("duplicate rule id %s, first defined in %s", rule.ID, prev)
			l.errs.Add(core.ErrorKindRule, file, dupErr)
			l.logger.Warnw("Skipping duplicate rule", "path", file, "id", rule.ID, "first", prev)
			continue
		}
		seen[rule.ID] = file

		switch {
		case l.isExcluded(rule):
			summary.Excluded++
			metrics.RulesLoaded.WithLabelValues("excluded").Inc()
			continue
		case rule.Level < l.cfg.MinLevel:
			summary.Filtered++
			metrics.RulesLoaded.WithLabelValues("filtered").Inc()
			continue
		}

		if _, disabled := disabledStatuses[strings.ToLower(rule.Status)]; disabled {
			rule.Enabled = false
			summary.Disabled++
			metrics.RulesLoaded.WithLabelValues("disabled").Inc()
		} else {
			summary.Loaded++
			summary.LevelCounts[rule.Level]++
			metrics.RulesLoaded.WithLabelValues("loaded").Inc()
		}
		out = append(out, rule)
	}

	l.logger.Infow("Rules loaded",
		"path", path,
		"loaded", summary.Loaded,
		"disabled", summary.Disabled,
		"filtered", summary.Filtered,
		"excluded", summary.Excluded,
		"invalid", summary.Invalid)
	return out, summary, nil
}

func (l *Loader) isExcluded(rule *detect.Rule) bool {
	_, ok := l.cfg.Exclusions[rule.ID]
	return ok
}

// ParseFile reads and compiles one rule file.
func (l *Loader) ParseFile(path string) (*detect.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	rule, err := l.ParseYAML(data)
	if err != nil {
		return nil, err
	}
	rule.Path = path
	return rule, nil
}

// ParseYAML validates and compiles a rule from YAML bytes.
func (l *Loader) ParseYAML(data []byte) (*detect.Rule, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if raw == nil {
		return nil, errors.New("empty rule document")
	}
	if !l.cfg.SkipSchemaValidation {
		if err := l.validator.Validate(raw); err != nil {
			return nil, err
		}
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	level, err := core.ParseLevel(doc.Level)
	if err != nil {
		return nil, err
	}

	return l.compiler.Compile(detect.RuleSource{
		ID:        doc.ID,
		Title:     doc.Title,
		Level:     level,
		Status:    doc.Status,
		Author:    doc.Author,
		Tags:      doc.Tags,
		Detection: doc.Detection,
	})
}

func ruleFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to open rules path: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext == ".yml" || ext == ".yaml" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk rules directory: %w", err)
	}
	return files, nil
}

// LoadExclusions reads rule-id lists, one id per line. Text after '#' is a
// comment. Missing files are ignored.
func LoadExclusions(paths ...string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	for _, path := range paths {
		if path == "" {
			continue
		}
		f, err := os.Open(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open exclusion file: %w", err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if i := strings.IndexByte(line, '#'); i >= 0 {
				line = line[:i]
			}
			if line = strings.TrimSpace(line); line != "" {
				ids[line] = struct{}{}
			}
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read exclusion file %s: %w", path, err)
		}
	}
	return ids, nil
}
