package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/config"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/logging"
)

var (
	configFile string
	envFiles   []string

	cfg    config.Config
	logger zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "docpipe",
	Short:         "Document intelligence pipeline: upload gateway, summarization workers and scaling advice",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadDotEnv(envFiles...); err != nil {
			return err
		}
		if err := config.LoadYAMLDefaults(configFile); err != nil {
			return err
		}
		cfg = config.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger = logging.New(logging.Config{
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
			Service: "docpipe-" + cmd.Name(),
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("CONFIG_FILE"), "YAML file with default settings")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env", ".env.local"}, "dotenv files loaded before the environment is read")
}
