package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ziadkadry99/menusql/internal/pipeline"
)

var (
	askInteractive bool
	askJSON        bool
	askSession     string
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Generate SQL for a question",
	Long: `Classifies the question, loads the rules for its category and prints the
generated SQL. With -i, questions are read in a loop and share one
conversation, so follow-ups like "what about last week?" keep earlier filters.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !askInteractive && len(args) == 0 {
			return errors.New("a question is required (or use -i)")
		}

		a, err := buildApp(true)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		session := askSession
		if session == "" {
			session = uuid.New().String()
		}

		if !askInteractive {
			return askOnce(ctx, a, session, strings.Join(args, " "))
		}
		return askLoop(ctx, a, session)
	},
}

func init() {
	askCmd.Flags().BoolVarP(&askInteractive, "interactive", "i", false, "ask questions in a loop sharing one conversation")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "print the full outcome as JSON")
	askCmd.Flags().StringVar(&askSession, "session", "", "conversation session ID (default: random)")
	rootCmd.AddCommand(askCmd)
}

func askOnce(ctx context.Context, a *app, session, question string) error {
	out, err := a.pipeline.Ask(ctx, session, question)
	if err != nil {
		return err
	}
	printOutcome(out)
	if !out.Success && out.Clarification == "" {
		return fmt.Errorf("no SQL generated after %d attempt(s)", out.Attempts)
	}
	return nil
}

func askLoop(ctx context.Context, a *app, session string) error {
	fmt.Printf("Session %s. Type /reset to start over, /quit to exit.\n", session)
	for {
		p := promptui.Prompt{Label: "question"}
		line, err := p.Run()
		if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			a.pipeline.Reset(session)
			fmt.Println("Conversation cleared.")
			continue
		}

		out, err := a.pipeline.Ask(ctx, session, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}
		printOutcome(out)
		if ctx.Err() != nil {
			return nil
		}
	}
}

func printOutcome(out *pipeline.Outcome) {
	if askJSON {
		data, err := json.MarshalIndent(out, "", "  ")
		exitOnError(err)
		fmt.Println(string(data))
		return
	}

	switch {
	case out.Clarification != "":
		fmt.Println(out.Clarification)
	case out.Success:
		fmt.Printf("-- %s (%.2f), %d attempt(s), %s\n",
			out.Classification.QueryType, out.Classification.Confidence, out.Attempts, out.Latency.Round(time.Millisecond))
		fmt.Println(out.SQL)
		if len(out.MissingFilters) > 0 {
			fmt.Fprintf(os.Stderr, "Warning: earlier filters not found in this query: %s\n", strings.Join(out.MissingFilters, ", "))
		}
	default:
		fmt.Fprintf(os.Stderr, "Could not generate SQL after %d attempt(s): %s\n", out.Attempts, out.Error)
	}
}
