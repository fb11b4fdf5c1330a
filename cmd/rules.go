package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/menusql/internal/category"
	"github.com/ziadkadry99/menusql/internal/progress"
	"github.com/ziadkadry99/menusql/internal/rules"
)

var rulesJSON bool

var errDegraded = errors.New("degraded, see log")

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect the rules corpus",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List categories with their rule, example and pattern counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openRuleStore()
		if err != nil {
			return err
		}
		defer done()

		fmt.Printf("%-18s %8s %8s %8s %8s\n", "CATEGORY", "EXAMPLES", "RULES", "PATTERNS", "TABLES")
		for _, c := range category.All() {
			rs, err := store.GetRules(cmd.Context(), c)
			if err != nil {
				return err
			}
			mark := ""
			if rs.Degraded {
				mark = "  (degraded)"
			}
			fmt.Printf("%-18s %8d %8d %8d %8d%s\n", c, len(rs.Examples), len(rs.Rules), len(rs.Patterns), len(rs.Schema), mark)
		}
		return nil
	},
}

var rulesShowCmd = &cobra.Command{
	Use:   "show <category>",
	Short: "Print the loaded rules for a category",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := category.Parse(args[0])
		if err != nil {
			return err
		}
		store, done, err := openRuleStore()
		if err != nil {
			return err
		}
		defer done()

		rs, err := store.GetRules(cmd.Context(), c)
		if err != nil {
			return err
		}
		if rulesJSON {
			return printJSON(rs)
		}

		fmt.Printf("# %s\n%s\n", c, c.Description())
		if rs.Degraded {
			fmt.Println("\nWarning: part of the corpus could not be read; see the log for details.")
		}
		fmt.Println("\n## Schema")
		for _, t := range rs.Tables() {
			fmt.Printf("  %s(%s)\n", t, strings.Join(rs.Schema[t], ", "))
		}
		fmt.Println("\n## Rules")
		for _, name := range rs.RuleNames() {
			fmt.Printf("  %s: %s\n", name, rs.Rules[name])
		}
		fmt.Println("\n## Patterns")
		for _, name := range rs.PatternNames() {
			fmt.Printf("  %s\n", name)
		}
		fmt.Printf("\n## Examples (%d)\n", len(rs.Examples))
		for _, ex := range rs.Examples {
			fmt.Printf("  - %s\n", ex.Query)
		}
		return nil
	},
}

var rulesPatternsCmd = &cobra.Command{
	Use:   "patterns [type]",
	Short: "List pattern types, or print the patterns of one type",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openRuleStore()
		if err != nil {
			return err
		}
		defer done()

		if len(args) == 0 {
			for _, t := range store.PatternTypes() {
				fmt.Println(t)
			}
			return nil
		}

		patterns := store.SQLPatterns(args[0])
		if rulesJSON {
			return printJSON(patterns)
		}
		if len(patterns) == 0 {
			fmt.Fprintf(os.Stderr, "No patterns of type %q.\n", args[0])
			return nil
		}
		names := make([]string, 0, len(patterns))
		for name := range patterns {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("-- %s\n%s\n\n", name, strings.TrimSpace(patterns[name]))
		}
		return nil
	},
}

var rulesWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Load every category once to check the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openRuleStore()
		if err != nil {
			return err
		}
		defer done()

		cats := category.All()
		reporter := progress.NewReporter(os.Stderr)
		reporter.Start(len(cats), "Warming rules")
		degraded := 0
		for _, c := range cats {
			rs, err := store.GetRules(cmd.Context(), c)
			if err == nil && rs.Degraded {
				degraded++
				err = errDegraded
			}
			reporter.Step(string(c), err)
		}
		reporter.Finish()

		if degraded > 0 {
			return fmt.Errorf("%d of %d categories loaded with errors", degraded, len(cats))
		}
		fmt.Printf("All %d categories loaded from %s\n", len(cats), store.Dir())
		return nil
	},
}

func init() {
	rulesCmd.PersistentFlags().BoolVar(&rulesJSON, "json", false, "print as JSON")
	rulesCmd.AddCommand(rulesListCmd, rulesShowCmd, rulesPatternsCmd, rulesWarmCmd)
	rootCmd.AddCommand(rulesCmd)
}

// openRuleStore builds a rules store without needing an LLM provider.
func openRuleStore() (*rules.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg, true)
	if err != nil {
		return nil, nil, err
	}
	return newRuleStore(cfg, logger), func() { _ = logger.Sync() }, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
