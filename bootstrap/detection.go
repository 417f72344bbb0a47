package bootstrap

import (
	"fmt"

	"evtxhound/config"
	"evtxhound/core"
	"evtxhound/detect"
	"evtxhound/rules"

	"go.uber.org/zap"
)

// DetectionComponents holds the loaded corpus and the engine built from it.
type DetectionComponents struct {
	Engine  *detect.Engine
	Rules   []*detect.Rule
	Summary rules.Summary
}

// LoadCorpus loads and compiles the rule corpus named by the configuration.
func LoadCorpus(cfg *config.Config, errs *core.ErrorLog, sugar *zap.SugaredLogger) ([]*detect.Rule, rules.Summary, error) {
	exclusions, err := rules.LoadExclusions(cfg.Rules.ExcludeFiles...)
	if err != nil {
		return nil, rules.Summary{}, err
	}

	loader, err := rules.NewLoader(rules.LoaderConfig{
		MinLevel:   cfg.MinLevel(),
		Exclusions: exclusions,
		Compiler: detect.CompilerConfig{
			RegexTimeout:     cfg.Rules.RegexTimeout,
			PatternCacheSize: cfg.Rules.PatternCacheSize,
		},
		SkipSchemaValidation: !cfg.Rules.SchemaValidation,
	}, errs, sugar)
	if err != nil {
		return nil, rules.Summary{}, err
	}

	corpus, summary, err := loader.Load(cfg.Rules.Dir)
	if err != nil {
		return nil, summary, fmt.Errorf("failed to load rules: %w", err)
	}
	return corpus, summary, nil
}

// InitDetection loads the corpus and creates the detection engine. It fails
// with detect.ErrEmptyCorpus when no enabled rule was loaded.
func InitDetection(cfg *config.Config, errs *core.ErrorLog, sugar *zap.SugaredLogger) (*DetectionComponents, error) {
	corpus, summary, err := LoadCorpus(cfg, errs, sugar)
	if err != nil {
		return nil, err
	}

	engine, err := detect.NewEngine(corpus, detect.EngineConfig{
		WindowMode: detect.WindowMode(cfg.Aggregation.WindowMode),
	}, sugar)
	if err != nil {
		return nil, err
	}
	return &DetectionComponents{Engine: engine, Rules: corpus, Summary: summary}, nil
}
