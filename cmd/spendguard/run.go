package main

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"spendguard/internal/app/server"
)

var (
	runUsers       []string
	runDryRun      bool
	runMaxDisables int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate every user (or --user) once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if cmd.Flags().Changed("dry-run") {
			cfg.DryRun = runDryRun
		}
		if cmd.Flags().Changed("max-disables") {
			cfg.MaxDisablesPerRun = runMaxDisables
		}

		deps, err := server.Wire(ctx, cfg)
		if err != nil {
			return err
		}
		defer deps.Close()

		rep, err := deps.Runner.Run(ctx, runUsers...)
		if err != nil {
			return err
		}
		total := rep.Total()
		log.Info().
			Int("accounts", len(rep.Accounts)).
			Int("evaluated", total.Evaluated).
			Int("suppressed", total.Suppressed).
			Int("restored", total.Restored).
			Int("skipped", total.Skipped).
			Int("failed", total.Failed).
			Bool("dry_run", rep.DryRun).
			Msg("run summary")
		if rep.Failed() {
			return errors.New("run finished with failed users or accounts")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runUsers, "user", nil, "user directory to process (repeatable; default all)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "evaluate without changing creatives or persisting state")
	runCmd.Flags().IntVar(&runMaxDisables, "max-disables", 0, "suppression cap per account run (<=0 disables the cap)")
	rootCmd.AddCommand(runCmd)
}
