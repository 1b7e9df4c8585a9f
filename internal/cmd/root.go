// Package cmd implements the annflow command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/annflow/internal/config"
	"github.com/3leaps/annflow/internal/observability"
	"github.com/3leaps/annflow/internal/server/handlers"
)

// VersionInfo identifies the build.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// SetVersionInfo is called from main with linker-provided values.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

var (
	cfgFile   string
	verbose   bool
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "annflow",
	Short: "Annotation job lifecycle workers",
	Long: `annflow runs the workers that move genomic annotation jobs through
their lifecycle: submission, completion reporting, archival of free-tier
results, and restore of archived results after a subscription upgrade.

Each worker is a long-running process polling its own queue:
  annflow submit-worker
  annflow archive-worker
  annflow upgrade-worker
  annflow thaw-worker

Configuration comes from --config (YAML), ANNFLOW_* environment variables
and flags, in increasing order of precedence.`,
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	setDefaults()

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: $ANNFLOW_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (json|console)")

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// setDefaults registers defaults and environment binding on the global viper.
func setDefaults() {
	config.Bind(viper.GetViper())
}

func initConfig(cmd *cobra.Command, args []string) error {
	observability.InitCLILogger("annflow", verbose)

	path := cfgFile
	if path == "" {
		path = os.Getenv(config.EnvConfigFile)
	}
	if path != "" {
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			return exitError(foundry.ExitFileReadError, "Failed to read config", err)
		}
	}

	overrides := map[string]any{}
	if verbose {
		overrides["logging"] = map[string]any{"level": "debug"}
	}
	cfg, err := config.Decode(cmd.Context(), viper.GetViper(), overrides)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	if err := observability.Configure("annflow", cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	observability.CLILogger.Debug("Configuration loaded",
		zap.String("config_file", viper.ConfigFileUsed()),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("region", cfg.AWS.Region))
	return nil
}

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}
