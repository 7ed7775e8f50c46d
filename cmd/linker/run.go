package main

import (
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/ctilinker/internal/app"
	"github.com/OFFIS-RIT/ctilinker/pkg/logger"

	"github.com/spf13/cobra"
)

var (
	runOnly []string
	runJSON bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run link prediction over every pending source",
	Long: `Processes every source of the input root that has no completed output yet.
Results of single files survive interruptions, so a later run only repeats
the files that failed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		client, err := app.NewAIClient(cfg)
		if err != nil {
			return err
		}
		linker, err := app.NewLinker(cfg, client)
		if err != nil {
			return err
		}
		in, out, err := app.NewStores(ctx, cfg)
		if err != nil {
			return err
		}
		pool, err := app.OpenDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		if pool != nil {
			defer pool.Close()
		}

		orchestrator, err := app.NewOrchestrator(app.NewOrchestratorParams{
			Config:    cfg,
			Input:     in,
			Output:    out,
			Predictor: linker,
			Pool:      pool,
		})
		if err != nil {
			return err
		}

		logger.Info("Starting link prediction", "model", linker.Model(), "parallel_files", cfg.ParallelFiles)
		summary, err := orchestrator.Run(ctx, runOnly...)
		app.LogAIMetrics(client)
		if runJSON {
			data, _ := json.MarshalIndent(summary, "", "  ")
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
		}
		if err != nil {
			return err
		}
		if summary.Failed > 0 {
			return fmt.Errorf("%d files failed, rerun to retry them", summary.Failed)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringSliceVar(&runOnly, "only", nil, "process only these sources")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run summary as JSON")
}
