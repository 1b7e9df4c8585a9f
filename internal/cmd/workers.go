package cmd

import (
	"context"
	"errors"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/annflow/internal/config"
	"github.com/3leaps/annflow/internal/observability"
	"github.com/3leaps/annflow/pkg/pipeline"
	"github.com/3leaps/annflow/pkg/worker"
)

var submitWorkerCmd = &cobra.Command{
	Use:   "submit-worker",
	Short: "Consume job requests and launch annotation runs",
	Long: `Long-poll the job-request queue. For each request the input object is
downloaded into the job workspace, an "annflow run" child process is
started for it, and the job moves from PENDING to RUNNING.

Example:
  annflow submit-worker --config annflow.yaml`,
	RunE: runSubmitWorker,
}

var archiveWorkerCmd = &cobra.Command{
	Use:   "archive-worker",
	Short: "Move free users' results to the cold archive",
	Long: `Long-poll the results queue. Results of free users are uploaded to the
archive vault, the archive id is recorded on the job and the hot copy is
deleted. Premium users' results stay in hot storage.`,
	RunE: runArchiveWorker,
}

var upgradeWorkerCmd = &cobra.Command{
	Use:   "upgrade-worker",
	Short: "Start restores for users who upgraded to premium",
	Long: `Long-poll the upgrade queue. For every archived job of the upgraded user
a retrieval is initiated (falling back through archive.tiers on capacity
errors) and a thaw event is published.`,
	RunE: runUpgradeWorker,
}

var thawWorkerCmd = &cobra.Command{
	Use:   "thaw-worker",
	Short: "Copy completed retrievals back to hot storage",
	Long: `Long-poll the thaw queue. Messages whose retrieval is still in progress
are left for redelivery; completed retrievals are written back under the
original result key and the job's restore message is cleared.`,
	RunE: runThawWorker,
}

func init() {
	rootCmd.AddCommand(submitWorkerCmd)
	rootCmd.AddCommand(archiveWorkerCmd)
	rootCmd.AddCommand(upgradeWorkerCmd)
	rootCmd.AddCommand(thawWorkerCmd)
}

var errConfigNotLoaded = errors.New("configuration not loaded")

// childCommand is the argv prefix for "annflow run" children; they inherit
// the environment and the config file of this process.
func childCommand() ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	argv := []string{exe}
	if cfgFile != "" {
		argv = append(argv, "--config", cfgFile)
	}
	return argv, nil
}

func validateRole(role config.Role) error {
	if appConfig == nil {
		return exitError(foundry.ExitInvalidArgument, "Configuration not loaded", errConfigNotLoaded)
	}
	if err := appConfig.ValidateFor(role); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Incomplete configuration for "+string(role), err)
	}
	return nil
}

func serviceError(msg string, err error) error {
	observability.CLILogger.Error(msg, zap.Error(err))
	return exitError(foundry.ExitExternalServiceUnavailable, msg, err)
}

func runSubmitWorker(cmd *cobra.Command, args []string) error {
	if err := validateRole(config.RoleSubmit); err != nil {
		return err
	}
	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	p, err := buildSubmitWorker(ctx, d)
	if err != nil {
		return serviceError("Failed to start submit worker", err)
	}
	return runPoller(ctx, appConfig, p, "submit")
}

func buildSubmitWorker(ctx context.Context, d *deps) (*worker.Poller, error) {
	store, err := d.store(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := d.buckets(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := d.workspace()
	if err != nil {
		return nil, err
	}
	consumer, err := d.consumer(ctx, d.cfg.Queues.JobRequests)
	if err != nil {
		return nil, err
	}
	argv, err := childCommand()
	if err != nil {
		return nil, err
	}

	log := observability.CLILogger.Named("submit")
	sub := &worker.Submitter{
		Store:     store,
		Buckets:   buckets,
		Workspace: ws,
		Launcher:  &pipeline.Launcher{Command: argv},
		LogDir:    d.cfg.Pipeline.LogDir,
		Logger:    log,
	}
	return worker.NewPoller(consumer, sub.Handle, pollConfig("submit", d.cfg.Workers.Submit), log), nil
}

func runArchiveWorker(cmd *cobra.Command, args []string) error {
	if err := validateRole(config.RoleArchive); err != nil {
		return err
	}
	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	p, err := buildArchiveWorker(ctx, d)
	if err != nil {
		return serviceError("Failed to start archive worker", err)
	}
	return runPoller(ctx, appConfig, p, "archive")
}

func buildArchiveWorker(ctx context.Context, d *deps) (*worker.Poller, error) {
	store, err := d.store(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := d.buckets(ctx)
	if err != nil {
		return nil, err
	}
	vault, err := d.vault(ctx)
	if err != nil {
		return nil, err
	}
	profiles, err := d.profiles(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := d.workspace()
	if err != nil {
		return nil, err
	}
	consumer, err := d.consumer(ctx, d.cfg.Queues.Results)
	if err != nil {
		return nil, err
	}

	log := observability.CLILogger.Named("archive")
	a := &worker.Archiver{
		Store:     store,
		Buckets:   buckets,
		Archive:   vault,
		Profiles:  profiles,
		Workspace: ws,
		Logger:    log,
	}
	return worker.NewPoller(consumer, a.Handle, pollConfig("archive", d.cfg.Workers.Archive), log), nil
}

func runUpgradeWorker(cmd *cobra.Command, args []string) error {
	if err := validateRole(config.RoleUpgrade); err != nil {
		return err
	}
	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	p, err := buildUpgradeWorker(ctx, d)
	if err != nil {
		return serviceError("Failed to start upgrade worker", err)
	}
	return runPoller(ctx, appConfig, p, "upgrade")
}

func buildUpgradeWorker(ctx context.Context, d *deps) (*worker.Poller, error) {
	store, err := d.store(ctx)
	if err != nil {
		return nil, err
	}
	vault, err := d.vault(ctx)
	if err != nil {
		return nil, err
	}
	thaws, err := d.publisher(ctx, d.cfg.Topics.Thaws, d.cfg.Queues.Thaws)
	if err != nil {
		return nil, err
	}
	consumer, err := d.consumer(ctx, d.cfg.Queues.Upgrades)
	if err != nil {
		return nil, err
	}
	tiers, err := d.cfg.ArchiveTiers()
	if err != nil {
		return nil, err
	}

	log := observability.CLILogger.Named("upgrade")
	u := &worker.Upgrader{
		Store:   store,
		Archive: vault,
		Thaws:   thaws,
		Tiers:   tiers,
		Limiter: limiter(d.cfg.Archive.RetrievalRate),
		Logger:  log,
	}
	return worker.NewPoller(consumer, u.Handle, pollConfig("upgrade", d.cfg.Workers.Upgrade), log), nil
}

func runThawWorker(cmd *cobra.Command, args []string) error {
	if err := validateRole(config.RoleThaw); err != nil {
		return err
	}
	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	p, err := buildThawWorker(ctx, d)
	if err != nil {
		return serviceError("Failed to start thaw worker", err)
	}
	return runPoller(ctx, appConfig, p, "thaw")
}

func buildThawWorker(ctx context.Context, d *deps) (*worker.Poller, error) {
	policy, err := worker.ParseFailurePolicy(d.cfg.Thaw.OnFailure)
	if err != nil {
		return nil, err
	}
	store, err := d.store(ctx)
	if err != nil {
		return nil, err
	}
	vault, err := d.vault(ctx)
	if err != nil {
		return nil, err
	}
	buckets, err := d.buckets(ctx)
	if err != nil {
		return nil, err
	}
	consumer, err := d.consumer(ctx, d.cfg.Queues.Thaws)
	if err != nil {
		return nil, err
	}

	log := observability.CLILogger.Named("thaw")
	t := &worker.Thawer{
		Store:         store,
		Archive:       vault,
		Buckets:       buckets,
		ResultsBucket: d.cfg.Buckets.Results,
		DownloadDir:   d.cfg.Thaw.DownloadDir,
		OnFailure:     policy,
		Logger:        log,
	}
	return worker.NewPoller(consumer, t.Handle, pollConfig("thaw", d.cfg.Workers.Thaw), log), nil
}
