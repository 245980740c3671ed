// Command stream keeps a journal folder, its connected repositories and its
// structured notes in sync from the terminal.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stream-journal/stream/internal/config"
	"github.com/stream-journal/stream/internal/logging"
	"github.com/stream-journal/stream/internal/session"
)

var (
	configPath string
	folderFlag string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "stream",
	Short: "Journal sync engine",
	Long: `stream reads a folder of daily markdown notes, lists the commits of the
git repositories connected to it and keeps structured notes regenerated.

Configuration is read from stream.toml in the user config directory, from
STREAM_* environment variables and from flags.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupColor()

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if folderFlag != "" {
			loaded.Folder = folderFlag
		}
		if logLevel != "" {
			loaded.Log.Level = logLevel
		}
		cfg = loaded

		lc := logging.DefaultConfig()
		lc.Level = cfg.Log.Level
		lc.Format = cfg.Log.Format
		lc.File = cfg.Log.File
		logger, _, err = logging.New(lc)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is <user config dir>/stream/stream.toml)")
	rootCmd.PersistentFlags().StringVarP(&folderFlag, "folder", "f", "", "journal folder")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "journal", Title: "Journal:"},
		&cobra.Group{ID: "repos", Title: "Repositories:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)
}

// openSession builds a session for the configured folder. The caller must
// Close it.
func openSession() (*session.Session, error) {
	if cfg.Folder == "" {
		return nil, fmt.Errorf("no journal folder: pass --folder or set folder in %s", config.FileName)
	}
	return session.New(cfg, session.Deps{Logger: logger})
}

// withSession runs fn against a fresh session and closes it afterwards.
func withSession(fn func(s *session.Session) error) error {
	s, err := openSession()
	if err != nil {
		return err
	}

	runErr := fn(s)

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Close(closeCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
		os.Exit(1)
	}
}
