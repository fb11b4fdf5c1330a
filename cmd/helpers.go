package cmd

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ziadkadry99/menusql/internal/audit"
	"github.com/ziadkadry99/menusql/internal/classifier"
	"github.com/ziadkadry99/menusql/internal/config"
	"github.com/ziadkadry99/menusql/internal/conversation"
	"github.com/ziadkadry99/menusql/internal/db"
	"github.com/ziadkadry99/menusql/internal/history"
	"github.com/ziadkadry99/menusql/internal/llm"
	"github.com/ziadkadry99/menusql/internal/logging"
	"github.com/ziadkadry99/menusql/internal/pipeline"
	"github.com/ziadkadry99/menusql/internal/prompt"
	"github.com/ziadkadry99/menusql/internal/rules"
	"github.com/ziadkadry99/menusql/internal/sqlgen"
)

// loadConfig loads and validates the config, providing a user-friendly error.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `menusql init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", cfgFile, err)
	}
	return cfg, nil
}

// newLogger builds the logger for a command. Interactive commands only show
// warnings on the console unless --verbose is set.
func newLogger(cfg *config.Config, interactive bool) (*zap.Logger, error) {
	level := cfg.Log.Level
	if interactive && !verbose {
		level = "warn"
	}
	return logging.New(logging.Options{
		Level:   level,
		File:    cfg.Log.File,
		Verbose: verbose,
	})
}

// resolveModel returns the configured model, or the quality preset's.
func resolveModel(cfg *config.Config) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return config.GetPreset(cfg.Provider, cfg.Quality).Model
}

// createLLMProviderFromConfig creates an LLM provider based on config settings.
func createLLMProviderFromConfig(cfg *config.Config) (llm.Provider, error) {
	p, err := llm.NewProvider(string(cfg.Provider), resolveModel(cfg))
	if err != nil {
		return nil, err
	}
	return llm.WithRateLimit(p, cfg.RequestsPerMinute), nil
}

// newRuleStore builds the rules store shared by every command.
func newRuleStore(cfg *config.Config, logger *zap.Logger) *rules.Store {
	return rules.NewStore(cfg.RulesDir, cfg.Cache.RulesTTL(),
		rules.WithPlaceholders(cfg.Placeholders),
		rules.WithRegistry(rules.DefaultRegistry()),
		rules.WithLogger(logger),
	)
}

// newClassifier builds a classifier, using p only when the config enables
// LLM classification.
func newClassifier(cfg *config.Config, p llm.Provider, model string, logger *zap.Logger) *classifier.Classifier {
	opts := []classifier.Option{
		classifier.WithThreshold(cfg.Classifier.ConfidenceThreshold),
		classifier.WithLogger(logger),
	}
	if cfg.Classifier.UseLLM && p != nil {
		opts = append(opts, classifier.WithProvider(p, model))
	}
	return classifier.New(opts...)
}

// app bundles everything a command needs to answer questions.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	pipeline *pipeline.Pipeline
	history  *history.Store
	db       *db.DB
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}

// buildApp wires config, provider, rules, classifier, prompt assembler,
// generator and history into a pipeline.
func buildApp(interactive bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg, interactive)
	if err != nil {
		return nil, err
	}

	provider, err := createLLMProviderFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	model := resolveModel(cfg)

	historyTurns := cfg.Conversation.PromptTurns
	if historyTurns == 0 {
		historyTurns = -1
	}
	assembler := prompt.New(prompt.Options{
		MaxExamples:  cfg.Prompt.MaxExamples,
		MaxPatterns:  cfg.Prompt.MaxPatterns,
		HistoryTurns: historyTurns,
		TTL:          cfg.Cache.PromptTTL(),
	})

	gen := sqlgen.New(provider, assembler, sqlgen.Config{
		Model:          model,
		MaxAttempts:    cfg.Generation.MaxAttempts,
		AttemptTimeout: cfg.Generation.AttemptTimeout(),
		Backoff:        cfg.Generation.Backoff(),
		MaxTokens:      cfg.Generation.MaxTokens,
		Temperature:    cfg.Generation.Temperature,
	}, sqlgen.WithLogger(logger))

	database, err := db.Open(cfg.HistoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	hist := history.NewStore(database)

	p := pipeline.New(pipeline.Deps{
		Classifier: newClassifier(cfg, provider, model, logger),
		Rules:      newRuleStore(cfg, logger),
		Generator:  gen,
		Sessions:   conversation.NewSessions(cfg.Conversation.MaxTurns, cfg.Conversation.SessionIdle()),
		History:    hist,
		Audit:      audit.NewStore(database),
		Logger:     logger,
	})

	return &app{cfg: cfg, logger: logger, pipeline: p, history: hist, db: database}, nil
}
