package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE: func(cmd *cobra.Command, _ []string) error {
		extended, _ := cmd.Flags().GetBool("extended")
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "annflow %s\n", versionInfo.Version)
		if extended {
			_, _ = fmt.Fprintf(out, "commit:     %s\n", versionInfo.Commit)
			_, _ = fmt.Fprintf(out, "build date: %s\n", versionInfo.BuildDate)
			_, _ = fmt.Fprintf(out, "go:         %s\n", runtime.Version())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().Bool("extended", false, "Include commit, build date and Go version")
}
