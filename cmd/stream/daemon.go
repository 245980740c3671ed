package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/session"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Keep the journal in sync until interrupted",
	Long: `Run the sync engine in the foreground:
  - checks for due structured notes and today's commits on every refresh
    interval and whenever a note changes
  - follows edits made to the journal folder by other programs
  - serves the dashboard (WebSocket events, refresh status, metrics) when
    enabled

Example usage:
  stream daemon
  stream daemon --dashboard --port 9000

Connect with a WebSocket client:
  ws://localhost:8787/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("dashboard") {
			cfg.Dashboard.Enabled, _ = cmd.Flags().GetBool("dashboard")
		}
		if cmd.Flags().Changed("port") {
			cfg.Dashboard.Port, _ = cmd.Flags().GetInt("port")
		}

		s, err := openSession()
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		err = s.Start(ctx, session.StartOptions{
			Schedule:  true,
			Watch:     true,
			Dashboard: cfg.Dashboard.Enabled,
		})
		if err != nil {
			_ = s.Close(context.Background())
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s Watching %s every %v\n", renderAccent("→"), s.Folder(), cfg.Refresh.Interval)
		if d := s.Dashboard(); d != nil {
			fmt.Fprintf(out, "   Dashboard: http://%s\n", d.Addr())
			fmt.Fprintf(out, "   WebSocket: ws://%s/ws\n", d.Addr())
		}
		fmt.Fprintln(out, "\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Fprintln(out, "\nShutting down...")
		closeCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := s.Close(closeCtx); err != nil {
			logger.Error("shutdown failed", zap.Error(err))
			return err
		}
		fmt.Fprintf(out, "%s Stopped\n", renderPass("✓"))
		return nil
	},
}

func init() {
	daemonCmd.Flags().Bool("dashboard", false, "serve the dashboard")
	daemonCmd.Flags().Int("port", 0, "dashboard port")
	rootCmd.AddCommand(daemonCmd)
}
