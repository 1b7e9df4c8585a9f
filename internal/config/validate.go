package config

import (
	"fmt"

	"github.com/3leaps/annflow/pkg/archive"
	"github.com/3leaps/annflow/pkg/profile"
)

// Role names the process a configuration is validated for.
type Role string

const (
	RoleSubmit      Role = "submit"
	RoleRun         Role = "run"
	RoleArchive     Role = "archive"
	RoleUpgrade     Role = "upgrade"
	RoleThaw        Role = "thaw"
	RoleJobCreate   Role = "job-create"
	RoleJobRead     Role = "job-read"
	RoleUserUpgrade Role = "user-upgrade"
)

// Validate checks settings that are wrong regardless of role.
func (c *Config) Validate() error {
	if err := c.AWS.SDK().Validate(); err != nil {
		return err
	}
	switch c.Storage.Backend {
	case BackendS3:
	case BackendFile:
		if c.Storage.FileRoot == "" {
			return fmt.Errorf("storage.file_root is required for the file backend")
		}
	default:
		return fmt.Errorf("storage.backend %q: want %s or %s", c.Storage.Backend, BackendS3, BackendFile)
	}
	if _, err := c.ArchiveTiers(); err != nil {
		return err
	}
	if c.Archive.RetrievalRate < 0 {
		return fmt.Errorf("archive.retrieval_rate must be >= 0")
	}
	switch c.Thaw.OnFailure {
	case "", "retain", "discard":
	default:
		return fmt.Errorf("thaw.on_failure %q: want retain or discard", c.Thaw.OnFailure)
	}
	for id, r := range c.Profile.Roles {
		if _, err := profile.ParseRole(r); err != nil {
			return fmt.Errorf("profile.roles.%s: %w", id, err)
		}
	}
	for name, w := range map[string]Worker{
		"submit":  c.Workers.Submit,
		"archive": c.Workers.Archive,
		"upgrade": c.Workers.Upgrade,
		"thaw":    c.Workers.Thaw,
	} {
		if err := w.validate(); err != nil {
			return fmt.Errorf("workers.%s: %w", name, err)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	return nil
}

func (w Worker) validate() error {
	if w.BatchSize < 1 || w.BatchSize > 10 {
		return fmt.Errorf("batch_size %d: want 1..10", w.BatchSize)
	}
	if w.WaitTime < 0 || w.WaitTime.Seconds() > 20 {
		return fmt.Errorf("wait_time %s: want 0s..20s", w.WaitTime)
	}
	if w.Interval < 0 || w.VisibilityTimeout < 0 {
		return fmt.Errorf("durations must not be negative")
	}
	return nil
}

// ArchiveTiers parses the retrieval fallback order.
func (c *Config) ArchiveTiers() ([]archive.Tier, error) {
	tiers := make([]archive.Tier, 0, len(c.Archive.Tiers))
	for _, s := range c.Archive.Tiers {
		t, err := archive.ParseTier(s)
		if err != nil {
			return nil, fmt.Errorf("archive.tiers: %w", err)
		}
		tiers = append(tiers, t)
	}
	return tiers, nil
}

// ValidateFor checks that the settings role needs are present. A key of the
// form "a|b" is satisfied by either setting.
func (c *Config) ValidateFor(role Role) error {
	switch role {
	case RoleSubmit:
		return required(map[string]string{
			"queues.job_requests": c.Queues.JobRequests,
			"table.name":          c.Table.Name,
			"workspace.root":      c.Workspace.Root,
		})
	case RoleRun:
		if len(c.Pipeline.Command) == 0 {
			return &MissingError{Keys: []string{"pipeline.command"}}
		}
		return required(map[string]string{
			"topics.results|queues.results": c.Topics.Results + c.Queues.Results,
			"table.name":                    c.Table.Name,
			"buckets.results":               c.Buckets.Results,
			"workspace.root":                c.Workspace.Root,
		})
	case RoleArchive:
		return required(map[string]string{
			"queues.results": c.Queues.Results,
			"table.name":     c.Table.Name,
			"archive.vault":  c.Archive.Vault,
			"workspace.root": c.Workspace.Root,
		})
	case RoleUpgrade:
		return required(map[string]string{
			"queues.upgrades":           c.Queues.Upgrades,
			"topics.thaws|queues.thaws": c.Topics.Thaws + c.Queues.Thaws,
			"table.name":                c.Table.Name,
			"archive.vault":             c.Archive.Vault,
		})
	case RoleThaw:
		return required(map[string]string{
			"queues.thaws":      c.Queues.Thaws,
			"table.name":        c.Table.Name,
			"archive.vault":     c.Archive.Vault,
			"buckets.results":   c.Buckets.Results,
			"thaw.download_dir": c.Thaw.DownloadDir,
		})
	case RoleJobCreate:
		return required(map[string]string{
			"topics.job_requests|queues.job_requests": c.Topics.JobRequests + c.Queues.JobRequests,
			"table.name":                              c.Table.Name,
			"buckets.inputs":                          c.Buckets.Inputs,
			"workspace.account":                       c.Workspace.Account,
		})
	case RoleJobRead:
		return required(map[string]string{"table.name": c.Table.Name})
	case RoleUserUpgrade:
		return required(map[string]string{
			"topics.upgrades|queues.upgrades": c.Topics.Upgrades + c.Queues.Upgrades,
		})
	}
	return fmt.Errorf("unknown role %q", role)
}
