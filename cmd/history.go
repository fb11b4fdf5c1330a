package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/menusql/internal/db"
	"github.com/ziadkadry99/menusql/internal/history"
)

var (
	historySession string
	historyType    string
	historyLimit   int
	historyJSON    bool
	historySQL     bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently answered questions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		database, err := db.Open(cfg.HistoryDBPath())
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		defer database.Close()

		entries, err := history.NewStore(database).List(cmd.Context(), history.Filter{
			SessionID: historySession,
			QueryType: historyType,
			Limit:     historyLimit,
		})
		if err != nil {
			return err
		}
		if historyJSON {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No history yet.")
			return nil
		}

		for _, e := range entries {
			status := "ok"
			switch {
			case e.NeedsClarification:
				status = "clarify"
			case !e.Success:
				status = "failed"
			}
			fmt.Printf("%s  %-8s %-16s %s  %q\n",
				e.CreatedAt.Local().Format(time.DateTime), status, e.QueryType, shortID(e.SessionID), e.Utterance)
			if historySQL && e.SQL != "" {
				fmt.Printf("    %s\n", e.SQL)
			}
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().StringVar(&historySession, "session", "", "only show this session")
	historyCmd.Flags().StringVar(&historyType, "type", "", "only show this query type")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print as JSON")
	historyCmd.Flags().BoolVar(&historySQL, "sql", false, "include the generated SQL")
	rootCmd.AddCommand(historyCmd)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
