package config

import "path/filepath"

// QualityPreset describes the model to use for a given quality tier.
type QualityPreset struct {
	Model string
}

// qualityPresets maps each provider+quality combination to its model choice.
var qualityPresets = map[ProviderType]map[QualityTier]QualityPreset{
	ProviderAnthropic: {
		QualityLite:   {Model: "claude-haiku-4-5-20251001"},
		QualityNormal: {Model: "claude-sonnet-4-5-20250929"},
		QualityMax:    {Model: "claude-opus-4-6"},
	},
	ProviderOpenAI: {
		QualityLite:   {Model: "gpt-4o-mini"},
		QualityNormal: {Model: "gpt-4o"},
		QualityMax:    {Model: "gpt-4o"},
	},
	ProviderOllama: {
		QualityLite:   {Model: "llama3"},
		QualityNormal: {Model: "llama3"},
		QualityMax:    {Model: "llama3:70b"},
	},
	ProviderMiniMax: {
		QualityLite:   {Model: "MiniMax-M2.5-highspeed"},
		QualityNormal: {Model: "MiniMax-M2.5"},
		QualityMax:    {Model: "MiniMax-M2.5"},
	},
	ProviderOpenRouter: {
		QualityLite:   {Model: "openai/gpt-4o-mini"},
		QualityNormal: {Model: "openai/gpt-4o"},
		QualityMax:    {Model: "anthropic/claude-opus-4"},
	},
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderOpenAI,
		Model:    "gpt-4o",
		Quality:  QualityNormal,
		RulesDir: "rules",
		DataDir:  ".menusql",
		Placeholders: map[string]string{
			"LOCATION_ID": "62",
			"TIMEZONE":    "America/New_York",
		},
		Generation: GenerationConfig{
			MaxAttempts:           3,
			AttemptTimeoutSeconds: 60,
			BackoffMillis:         500,
			MaxTokens:             2048,
			Temperature:           0.1,
		},
		Classifier: ClassifierConfig{
			ConfidenceThreshold: 0.6,
			UseLLM:              true,
		},
		Conversation: ConversationConfig{
			MaxTurns:           8,
			PromptTurns:        3,
			SessionIdleMinutes: 60,
		},
		Cache: CacheConfig{
			RulesTTLSeconds:  3600,
			PromptTTLSeconds: 600,
		},
		Prompt: PromptConfig{
			MaxExamples: 12,
			MaxPatterns: 10,
		},
		Log: LogConfig{
			Level: "info",
			File:  filepath.Join(".menusql", "logs", "menusql.log"),
		},
		Server: ServerConfig{
			Port: 8085,
		},
	}
}

// GetPreset returns the quality preset for the given provider and tier.
// Returns the Normal OpenAI preset if the combination is not found.
func GetPreset(provider ProviderType, tier QualityTier) QualityPreset {
	if tiers, ok := qualityPresets[provider]; ok {
		if preset, ok := tiers[tier]; ok {
			return preset
		}
	}
	return qualityPresets[ProviderOpenAI][QualityNormal]
}

// HistoryDBPath returns the SQLite path for persisted turns.
func (c *Config) HistoryDBPath() string {
	return filepath.Join(c.DataDir, "history.db")
}
