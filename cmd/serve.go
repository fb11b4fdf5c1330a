package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ziadkadry99/menusql/internal/server"
)

var (
	servePort  int
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Starts the menusql HTTP API with /api/ask, /api/classify, rules inspection,
turn history and Prometheus metrics on /metrics. The rules directory is
watched and changed categories are reloaded on their next request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp(false)
		if err != nil {
			return err
		}
		defer a.Close()

		port := a.cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		srv := server.New(server.Config{
			Port:     port,
			AllowAll: a.cfg.Server.AllowAllOrigins,
		}, a.pipeline, a.history, a.logger)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveWatch {
			go func() {
				if err := a.pipeline.Rules().Watch(ctx); err != nil {
					a.logger.Warn("rules watcher stopped", zap.Error(err))
				}
			}()
		}

		go func() {
			<-ctx.Done()
			a.logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("shutdown failed", zap.Error(err))
			}
		}()

		fmt.Printf("menusql API on http://localhost:%d (rules: %s)\n", port, a.cfg.RulesDir)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 8085, "port to listen on (overrides server.port)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", true, "reload rules when files under the rules directory change")
	rootCmd.AddCommand(serveCmd)
}
