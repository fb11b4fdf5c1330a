package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
)

// RunWizard runs an interactive configuration wizard, saves the result to
// path and returns it.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to menusql! Let's configure the SQL generation pipeline.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Provider selection.
	providers := []string{"openai", "anthropic", "ollama", "openrouter", "minimax"}
	providerPrompt := promptui.Select{
		Label: "Select LLM provider",
		Items: providers,
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Provider = ProviderType(providerStr)

	// 2. Quality tier.
	qualityPrompt := promptui.Select{
		Label: "Select quality tier",
		Items: []string{
			"lite   - fast & cheap",
			"normal - balanced",
			"max    - highest quality",
		},
		CursorPos: 1,
	}
	qualityIdx, _, err := qualityPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("quality selection: %w", err)
	}
	tiers := []QualityTier{QualityLite, QualityNormal, QualityMax}
	cfg.Quality = tiers[qualityIdx]
	cfg.Model = GetPreset(cfg.Provider, cfg.Quality).Model

	// 3. Rules corpus.
	rulesPrompt := promptui.Prompt{
		Label:   "Rules directory",
		Default: cfg.RulesDir,
	}
	rulesDir, err := rulesPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("rules dir: %w", err)
	}
	cfg.RulesDir = strings.TrimSpace(rulesDir)

	// 4. Location placeholder used by shared SQL patterns.
	locationPrompt := promptui.Prompt{
		Label:   "Location ID substituted into SQL patterns",
		Default: cfg.Placeholders["LOCATION_ID"],
	}
	location, err := locationPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("location id: %w", err)
	}
	if location = strings.TrimSpace(location); location != "" {
		cfg.Placeholders["LOCATION_ID"] = location
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Check for API key.
	if envVar := APIKeyEnvVar(cfg.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running menusql ask.\n", envVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

// SplitAndTrim splits a comma-separated string and trims whitespace,
// dropping empty tokens.
func SplitAndTrim(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if token := strings.TrimSpace(part); token != "" {
			result = append(result, token)
		}
	}
	return result
}
