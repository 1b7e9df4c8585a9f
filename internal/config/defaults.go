package config

import (
	"github.com/spf13/viper"

	"github.com/3leaps/annflow/pkg/jobs"
)

// SetDefaults registers every key with its default. Keys without a default
// are registered empty so that environment variables can reach them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.profile", "")
	v.SetDefault("aws.endpoint", "")
	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.force_path_style", false)

	for _, ch := range []string{"job_requests", "results", "upgrades", "thaws"} {
		v.SetDefault("queues."+ch, "")
		v.SetDefault("topics."+ch, "")
	}
	v.SetDefault("topics.message_group_id", "annotations_jobs")

	v.SetDefault("table.name", "")
	v.SetDefault("table.user_index", "user_id_index")

	v.SetDefault("buckets.inputs", "")
	v.SetDefault("buckets.results", "")
	v.SetDefault("storage.backend", BackendS3)
	v.SetDefault("storage.file_root", "")

	v.SetDefault("archive.vault", "")
	v.SetDefault("archive.account_id", "-")
	v.SetDefault("archive.tiers", []string{"Expedited", "Standard"})
	v.SetDefault("archive.retrieval_rate", 0)

	v.SetDefault("profile.dsn", "")
	v.SetDefault("profile.table", "profiles")
	v.SetDefault("profile.roles", map[string]string{})

	v.SetDefault("workspace.root", "job_data")
	v.SetDefault("workspace.account", "")

	v.SetDefault("thaw.download_dir", "thaw_data")
	v.SetDefault("thaw.on_failure", "retain")

	v.SetDefault("pipeline.command", []string{})
	v.SetDefault("pipeline.result_suffix", jobs.ResultSuffix)
	v.SetDefault("pipeline.log_suffix", jobs.LogSuffix)
	v.SetDefault("pipeline.log_dir", "")
	v.SetDefault("pipeline.cleanup", []string{})

	setWorkerDefaults(v, "submit", 1, "5s", "0s", true)
	setWorkerDefaults(v, "archive", 1, "5s", "0s", false)
	setWorkerDefaults(v, "upgrade", 10, "5s", "0s", false)
	setWorkerDefaults(v, "thaw", 10, "20s", "60s", false)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func setWorkerDefaults(v *viper.Viper, role string, batch int, wait, interval string, ackOnError bool) {
	prefix := "workers." + role + "."
	v.SetDefault(prefix+"batch_size", batch)
	v.SetDefault(prefix+"wait_time", wait)
	v.SetDefault(prefix+"interval", interval)
	v.SetDefault(prefix+"visibility_timeout", "0s")
	v.SetDefault(prefix+"ack_on_error", ackOnError)
}
