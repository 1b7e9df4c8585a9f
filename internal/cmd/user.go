package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/annflow/internal/config"
	"github.com/3leaps/annflow/internal/observability"
	"github.com/3leaps/annflow/pkg/profile"
	"github.com/3leaps/annflow/pkg/queue"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user subscriptions",
}

var userUpgradeCmd = &cobra.Command{
	Use:   "upgrade <user-id>",
	Short: "Move a user to premium and request restore of archived results",
	Long: `Set the user's role to premium and publish an upgrade event. The
upgrade worker then starts a retrieval for each of the user's archived
results.

Example:
  annflow user upgrade U1`,
	Args: cobra.ExactArgs(1),
	RunE: runUserUpgrade,
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userUpgradeCmd)
}

func runUserUpgrade(cmd *cobra.Command, args []string) error {
	if err := validateRole(config.RoleUserUpgrade); err != nil {
		return err
	}
	ctx := cmd.Context()
	d := newDeps(appConfig)
	defer d.Close()

	profiles, err := d.profiles(ctx)
	if err != nil {
		return serviceError("Failed to open profile service", err)
	}
	upgrades, err := d.publisher(ctx, appConfig.Topics.Upgrades, appConfig.Queues.Upgrades)
	if err != nil {
		return serviceError("Failed to open upgrade channel", err)
	}
	if err := upgradeUser(ctx, profiles, upgrades, args[0]); err != nil {
		return serviceError("Failed to upgrade user", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s upgraded to %s\n", args[0], profile.RolePremium)
	return nil
}

// upgradeUser records the role before publishing, so the upgrade worker never
// sees an event for a user still on the free role.
func upgradeUser(ctx context.Context, profiles profile.Service, upgrades queue.Publisher, userID string) error {
	if err := profiles.SetRole(ctx, userID, profile.RolePremium); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	payload, err := queue.Encode(queue.Upgrade{UserID: userID})
	if err != nil {
		return err
	}
	if err := upgrades.Publish(ctx, payload, ""); err != nil {
		return fmt.Errorf("publish upgrade: %w", err)
	}
	observability.CLILogger.Info("User upgraded", zap.String("user_id", userID))
	return nil
}
