// Package config loads the annflow configuration: defaults, an optional
// YAML file, ANNFLOW_* environment variables and runtime overrides, in
// increasing order of precedence.
package config

import (
	"time"

	"github.com/3leaps/annflow/pkg/awsconf"
)

// Config is the full process configuration. Every worker reads the subset
// it needs; ValidateFor checks that subset.
type Config struct {
	AWS       AWS       `mapstructure:"aws"`
	Queues    Channels  `mapstructure:"queues"`
	Topics    Topics    `mapstructure:"topics"`
	Table     Table     `mapstructure:"table"`
	Buckets   Buckets   `mapstructure:"buckets"`
	Storage   Storage   `mapstructure:"storage"`
	Archive   Archive   `mapstructure:"archive"`
	Profile   Profile   `mapstructure:"profile"`
	Workspace Workspace `mapstructure:"workspace"`
	Thaw      Thaw      `mapstructure:"thaw"`
	Pipeline  Pipeline  `mapstructure:"pipeline"`
	Workers   Workers   `mapstructure:"workers"`
	Server    Server    `mapstructure:"server"`
	Logging   Logging   `mapstructure:"logging"`
}

type AWS struct {
	Region          string `mapstructure:"region"`
	Profile         string `mapstructure:"profile"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
}

// SDK converts to the shared AWS SDK settings.
func (a AWS) SDK() awsconf.Config {
	return awsconf.Config{
		Region:          a.Region,
		Endpoint:        a.Endpoint,
		Profile:         a.Profile,
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
	}
}

// Channels holds one queue URL per channel.
type Channels struct {
	JobRequests string `mapstructure:"job_requests"`
	Results     string `mapstructure:"results"`
	Upgrades    string `mapstructure:"upgrades"`
	Thaws       string `mapstructure:"thaws"`
}

// Topics holds one topic ARN per channel.
type Topics struct {
	JobRequests    string `mapstructure:"job_requests"`
	Results        string `mapstructure:"results"`
	Upgrades       string `mapstructure:"upgrades"`
	Thaws          string `mapstructure:"thaws"`
	MessageGroupID string `mapstructure:"message_group_id"`
}

type Table struct {
	Name      string `mapstructure:"name"`
	UserIndex string `mapstructure:"user_index"`
}

type Buckets struct {
	Inputs  string `mapstructure:"inputs"`
	Results string `mapstructure:"results"`
}

// Storage selects the hot object store backend.
type Storage struct {
	Backend  string `mapstructure:"backend"`
	FileRoot string `mapstructure:"file_root"`
}

// Storage backends.
const (
	BackendS3   = "s3"
	BackendFile = "file"
)

type Archive struct {
	Vault     string   `mapstructure:"vault"`
	AccountID string   `mapstructure:"account_id"`
	Tiers     []string `mapstructure:"tiers"`

	// RetrievalRate caps retrieval initiations per second; 0 is unlimited.
	RetrievalRate float64 `mapstructure:"retrieval_rate"`
}

// Profile configures the profile service. A DSN selects Postgres; otherwise
// Roles is served from memory.
type Profile struct {
	DSN   string            `mapstructure:"dsn"`
	Table string            `mapstructure:"table"`
	Roles map[string]string `mapstructure:"roles"`
}

type Workspace struct {
	Root    string `mapstructure:"root"`
	Account string `mapstructure:"account"`
}

type Thaw struct {
	DownloadDir string `mapstructure:"download_dir"`
	OnFailure   string `mapstructure:"on_failure"`
}

type Pipeline struct {
	Command      []string `mapstructure:"command"`
	ResultSuffix string   `mapstructure:"result_suffix"`
	LogSuffix    string   `mapstructure:"log_suffix"`
	LogDir       string   `mapstructure:"log_dir"`
	Cleanup      []string `mapstructure:"cleanup"`
}

// Worker tunes one poll loop.
type Worker struct {
	BatchSize         int           `mapstructure:"batch_size"`
	WaitTime          time.Duration `mapstructure:"wait_time"`
	Interval          time.Duration `mapstructure:"interval"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	AckOnError        bool          `mapstructure:"ack_on_error"`
}

type Workers struct {
	Submit  Worker `mapstructure:"submit"`
	Archive Worker `mapstructure:"archive"`
	Upgrade Worker `mapstructure:"upgrade"`
	Thaw    Worker `mapstructure:"thaw"`
}

type Server struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
