package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/menusql/internal/llm"
)

var (
	classifyJSON     bool
	classifyKeywords bool
)

var classifyCmd = &cobra.Command{
	Use:   "classify [question]",
	Short: "Show which category a question belongs to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg, true)
		if err != nil {
			return err
		}
		defer logger.Sync()

		var provider llm.Provider
		model := resolveModel(cfg)
		if cfg.Classifier.UseLLM && !classifyKeywords {
			provider, err = createLLMProviderFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("creating LLM provider: %w", err)
			}
		}

		c := newClassifier(cfg, provider, model, logger)
		res := c.Classify(cmd.Context(), strings.Join(args, " "), nil)

		if classifyJSON {
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		fmt.Printf("Category:   %s\n", res.QueryType)
		fmt.Printf("Confidence: %.2f\n", res.Confidence)
		fmt.Printf("Source:     %s\n", res.Source)
		if res.NeedsClarification {
			fmt.Println("Needs clarification")
		}
		if res.Error != "" {
			fmt.Printf("Error:      %s\n", res.Error)
		}
		for k, v := range res.Parameters {
			fmt.Printf("  %s = %v\n", k, v)
		}
		return nil
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyJSON, "json", false, "print the result as JSON")
	classifyCmd.Flags().BoolVar(&classifyKeywords, "keywords", false, "use the keyword scorer even when LLM classification is enabled")
	rootCmd.AddCommand(classifyCmd)
}
