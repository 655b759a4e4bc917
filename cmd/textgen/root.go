package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sweetpotato0/textgen/internal/app"
	"github.com/sweetpotato0/textgen/pkg/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "textgen",
	Short: "Stream chat answers from remote and hosted language models",
	Long: `textgen routes chat conversations to the configured model endpoints,
optionally enriching them with web search results, tool calls and dynamic
assistant prompts, and streams the answer back as a sequence of updates.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "textgen.yaml", "config file path")
}

// loadConfig reads the configuration and installs the configured logger.
func loadConfig() (*app.Config, error) {
	cfg, err := app.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logging.SetLogger(logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format))
	return cfg, nil
}
