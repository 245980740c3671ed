package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/stream-journal/stream/internal/config"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default settings",
	Long: `Write stream.toml with the effective settings, so --folder and other
flags given now are kept. An existing file is never overwritten.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			dir, err := config.Dir()
			if err != nil {
				return err
			}
			path = filepath.Join(dir, config.FileName)
		}
		if cfg.Folder != "" {
			abs, err := filepath.Abs(cfg.Folder)
			if err != nil {
				return err
			}
			cfg.Folder = abs
		}
		if err := config.WriteDefault(path, cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", renderPass("✓"), path)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == outputText {
			output = outputYAML
		}
		if err := checkOutput(output); err != nil {
			return err
		}
		shown := *cfg
		if shown.AI.APIKey != "" {
			shown.AI.APIKey = "********"
		}
		return writeData(cmd.OutOrStdout(), output, shown)
	},
}

func init() {
	configShowCmd.Flags().StringP("output", "o", outputYAML, "output format: json or yaml")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
