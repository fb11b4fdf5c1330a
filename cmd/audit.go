package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ziadkadry99/menusql/internal/audit"
	"github.com/ziadkadry99/menusql/internal/db"
)

var (
	auditAction    string
	auditLimit     int
	auditJSON      bool
	auditOlderThan time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show generated write statements and admin actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openAuditStore()
		if err != nil {
			return err
		}
		defer done()

		entries, err := store.Query(cmd.Context(), audit.QueryFilter{
			Action: audit.Action(auditAction),
			Limit:  auditLimit,
		})
		if err != nil {
			return err
		}
		if auditJSON {
			return printJSON(entries)
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-16s %-8s %s\n", e.Timestamp.Local().Format(time.DateTime), e.Action, e.ActorType, e.Summary)
			if e.SQL != "" {
				fmt.Printf("    %s\n", e.SQL)
			}
		}
		return nil
	},
}

var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete audit entries older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, done, err := openAuditStore()
		if err != nil {
			return err
		}
		defer done()

		n, err := store.DeleteBefore(cmd.Context(), time.Now().Add(-auditOlderThan))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d audit entries\n", n)
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditAction, "action", "", "only show this action (write_generated, rules_reloaded, session_reset)")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditCmd.Flags().BoolVar(&auditJSON, "json", false, "print as JSON")
	auditPruneCmd.Flags().DurationVar(&auditOlderThan, "older-than", 30*24*time.Hour, "age of entries to delete")
	auditCmd.AddCommand(auditPruneCmd)
	rootCmd.AddCommand(auditCmd)
}

func openAuditStore() (*audit.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	database, err := db.Open(cfg.HistoryDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("opening history database: %w", err)
	}
	return audit.NewStore(database), func() { database.Close() }, nil
}
