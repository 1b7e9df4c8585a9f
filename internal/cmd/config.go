package cmd

import (
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the merged configuration (defaults, config file, ANNFLOW_*
environment and flags) as YAML. Credentials and the profile DSN are
redacted.`,
	RunE: runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
}

// redactedKeys are dotted setting paths never printed.
var redactedKeys = []string{
	"aws.access_key_id",
	"aws.secret_access_key",
	"profile.dsn",
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	out, err := renderConfig(viper.AllSettings())
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to render configuration", err)
	}
	_, err = cmd.OutOrStdout().Write(out)
	return err
}

func renderConfig(settings map[string]any) ([]byte, error) {
	for _, key := range redactedKeys {
		redact(settings, strings.Split(key, "."))
	}
	return yaml.Marshal(settings)
}

func redact(m map[string]any, path []string) {
	v, ok := m[path[0]]
	if !ok {
		return
	}
	if len(path) == 1 {
		if s, isString := v.(string); isString && s == "" {
			return
		}
		m[path[0]] = "***"
		return
	}
	if child, isMap := v.(map[string]any); isMap {
		redact(child, path[1:])
	}
}
