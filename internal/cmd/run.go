package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/annflow/internal/config"
	"github.com/3leaps/annflow/internal/observability"
	"github.com/3leaps/annflow/pkg/pipeline"
	"github.com/3leaps/annflow/pkg/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the annotation tool on one staged input and report the result",
	Long: `Run the configured annotation command on a staged input file, then
upload its result and log, mark the job COMPLETED and publish the
completion event. A failed run marks the job FAILED.

The submit worker starts this command as a child process; running it by
hand is useful for reprocessing a job directory.

Example:
  annflow run --input job_data/acct/U1/J1/J1~sample.vcf --job-id J1`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("input", "", "Staged input file under the workspace root (required)")
	runCmd.Flags().String("job-id", "", "Job id (required)")
	_ = runCmd.MarkFlagRequired("input")
	_ = runCmd.MarkFlagRequired("job-id")
}

func runRun(cmd *cobra.Command, _ []string) error {
	if err := validateRole(config.RoleRun); err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	jobID, _ := cmd.Flags().GetString("job-id")
	input, err := filepath.Abs(input)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid input path", err)
	}

	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	ws, err := d.workspace()
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid workspace", err)
	}
	loc, err := ws.Locate(input)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Input is not a staged job file", err)
	}
	if loc.JobID != jobID {
		return exitError(foundry.ExitInvalidArgument, "Job id mismatch",
			fmt.Errorf("input belongs to job %s, not %s", loc.JobID, jobID))
	}
	if _, err := os.Stat(input); err != nil {
		return exitError(foundry.ExitFileNotFound, "Input not found", err)
	}

	rep, err := buildReporter(ctx, d)
	if err != nil {
		return serviceError("Failed to prepare reporter", err)
	}

	log := observability.CLILogger.With(zap.String("job_id", jobID))
	runner := &pipeline.Runner{
		Command:      appConfig.Pipeline.Command,
		ResultSuffix: appConfig.Pipeline.ResultSuffix,
		LogSuffix:    appConfig.Pipeline.LogSuffix,
	}
	log.Info("Running annotation", zap.String("input", input))
	outputs, runErr := runner.Run(ctx, input, os.Stdout, os.Stderr)
	if runErr != nil {
		log.Error("Annotation failed", zap.Error(runErr))
		if err := rep.Fail(ctx, jobID); err != nil {
			log.Error("Failed to mark job FAILED", zap.Error(err))
		}
		return exitError(foundry.ExitExternalServiceUnavailable, "Annotation failed", runErr)
	}

	rec, err := rep.Report(ctx, worker.Run{
		JobID:     jobID,
		Account:   loc.Account,
		User:      loc.User,
		InputPath: input,
		Outputs:   outputs,
	})
	if err != nil {
		return serviceError("Failed to report results", err)
	}
	log.Info("Job completed", zap.String("result_key", rec.ResultKey))

	if len(appConfig.Pipeline.Cleanup) > 0 {
		removed, err := pipeline.Cleanup(filepath.Dir(input), appConfig.Pipeline.Cleanup...)
		if err != nil {
			log.Warn("Cleanup incomplete", zap.Error(err))
		}
		log.Debug("Cleanup", zap.Strings("removed", removed))
	}
	return nil
}

func buildReporter(ctx context.Context, d *deps) (*worker.Reporter, error) {
	store, err := d.store(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := d.buckets(ctx)
	if err != nil {
		return nil, err
	}
	completions, err := d.publisher(ctx, d.cfg.Topics.Results, d.cfg.Queues.Results)
	if err != nil {
		return nil, err
	}
	return &worker.Reporter{
		Store:         store,
		Buckets:       buckets,
		ResultsBucket: d.cfg.Buckets.Results,
		Completions:   completions,
		ResultSuffix:  d.cfg.Pipeline.ResultSuffix,
		LogSuffix:     d.cfg.Pipeline.LogSuffix,
		Logger:        observability.CLILogger.Named("report"),
	}, nil
}
