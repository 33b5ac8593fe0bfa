package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spendguard/internal/config"
)

var (
	cfg        config.Config
	configFile string
)

var rootCmd = &cobra.Command{
	Use:          "spendguard",
	Short:        "Pauses and resumes ad creatives by spend policy",
	Long:         "Evaluates per-user policy templates against ad platform statistics, suppresses or restores creatives, keeps a ledger of its own actions and sends batched digests.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c
		config.SetupLogging(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default configs/application.yaml)")
}
