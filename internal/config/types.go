package config

import "time"

// QualityTier controls the default model choice and its cost/quality trade-off.
type QualityTier string

const (
	QualityLite   QualityTier = "lite"
	QualityNormal QualityTier = "normal"
	QualityMax    QualityTier = "max"
)

// ProviderType identifies an LLM provider.
type ProviderType string

const (
	ProviderAnthropic  ProviderType = "anthropic"
	ProviderOpenAI     ProviderType = "openai"
	ProviderOllama     ProviderType = "ollama"
	ProviderMiniMax    ProviderType = "minimax"
	ProviderOpenRouter ProviderType = "openrouter"
)

// Config is the top-level menusql configuration, corresponding to .menusql.yml.
type Config struct {
	Provider          ProviderType      `yaml:"provider" koanf:"provider"`
	Model             string            `yaml:"model" koanf:"model"`
	Quality           QualityTier       `yaml:"quality" koanf:"quality"`
	RulesDir          string            `yaml:"rules_dir" koanf:"rules_dir"`
	DataDir           string            `yaml:"data_dir" koanf:"data_dir"`
	RequestsPerMinute int               `yaml:"requests_per_minute" koanf:"requests_per_minute"`
	Placeholders      map[string]string `yaml:"placeholders" koanf:"placeholders"`

	Generation   GenerationConfig   `yaml:"generation" koanf:"generation"`
	Classifier   ClassifierConfig   `yaml:"classifier" koanf:"classifier"`
	Conversation ConversationConfig `yaml:"conversation" koanf:"conversation"`
	Cache        CacheConfig        `yaml:"cache" koanf:"cache"`
	Prompt       PromptConfig       `yaml:"prompt" koanf:"prompt"`
	Log          LogConfig          `yaml:"log" koanf:"log"`
	Server       ServerConfig       `yaml:"server" koanf:"server"`
}

// GenerationConfig holds SQL generation retry settings.
type GenerationConfig struct {
	MaxAttempts           int     `yaml:"max_attempts" koanf:"max_attempts"`
	AttemptTimeoutSeconds int     `yaml:"attempt_timeout_seconds" koanf:"attempt_timeout_seconds"`
	BackoffMillis         int     `yaml:"backoff_millis" koanf:"backoff_millis"`
	MaxTokens             int     `yaml:"max_tokens" koanf:"max_tokens"`
	Temperature           float64 `yaml:"temperature" koanf:"temperature"`
}

// ClassifierConfig holds intent classification settings.
type ClassifierConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" koanf:"confidence_threshold"`
	UseLLM              bool    `yaml:"use_llm" koanf:"use_llm"`
}

// ConversationConfig bounds per-session memory.
type ConversationConfig struct {
	MaxTurns           int `yaml:"max_turns" koanf:"max_turns"`
	PromptTurns        int `yaml:"prompt_turns" koanf:"prompt_turns"`
	SessionIdleMinutes int `yaml:"session_idle_minutes" koanf:"session_idle_minutes"`
}

// CacheConfig holds cache lifetimes.
type CacheConfig struct {
	RulesTTLSeconds  int `yaml:"rules_ttl_seconds" koanf:"rules_ttl_seconds"`
	PromptTTLSeconds int `yaml:"prompt_ttl_seconds" koanf:"prompt_ttl_seconds"`
}

// PromptConfig bounds the size of assembled prompts.
type PromptConfig struct {
	MaxExamples int `yaml:"max_examples" koanf:"max_examples"`
	MaxPatterns int `yaml:"max_patterns" koanf:"max_patterns"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level string `yaml:"level" koanf:"level"`
	File  string `yaml:"file" koanf:"file"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Port            int  `yaml:"port" koanf:"port"`
	AllowAllOrigins bool `yaml:"allow_all_origins" koanf:"allow_all_origins"`
}

// AttemptTimeout returns the per-attempt LLM timeout.
func (g GenerationConfig) AttemptTimeout() time.Duration {
	return time.Duration(g.AttemptTimeoutSeconds) * time.Second
}

// Backoff returns the base delay between attempts.
func (g GenerationConfig) Backoff() time.Duration {
	return time.Duration(g.BackoffMillis) * time.Millisecond
}

// RulesTTL returns the rules cache lifetime.
func (c CacheConfig) RulesTTL() time.Duration {
	return time.Duration(c.RulesTTLSeconds) * time.Second
}

// PromptTTL returns the prompt skeleton cache lifetime.
func (c CacheConfig) PromptTTL() time.Duration {
	return time.Duration(c.PromptTTLSeconds) * time.Second
}

// SessionIdle returns how long an unused conversation is kept.
func (c ConversationConfig) SessionIdle() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}
