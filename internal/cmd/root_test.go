package cmd

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{name: "set all values", version: "1.0.0", commit: "abc123", buildDate: "2024-01-15"},
		{name: "set dev version", version: "dev", commit: "HEAD", buildDate: "unknown"},
		{name: "set empty values"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestSetDefaults(t *testing.T) {
	viper.Reset()
	defer viper.Reset()

	setDefaults()

	assert.Equal(t, "us-east-1", viper.GetString("aws.region"))
	assert.Equal(t, "s3", viper.GetString("storage.backend"))
	assert.Equal(t, "job_data", viper.GetString("workspace.root"))
	assert.Equal(t, "retain", viper.GetString("thaw.on_failure"))
	assert.Equal(t, "info", viper.GetString("logging.level"))
	assert.Equal(t, "json", viper.GetString("logging.format"))
	assert.False(t, viper.GetBool("server.enabled"))
	assert.Equal(t, 8080, viper.GetInt("server.port"))
	assert.Equal(t, 10, viper.GetInt("workers.upgrade.batch_size"))
	assert.True(t, viper.GetBool("workers.submit.ack_on_error"))
}

func TestSetDefaults_EnvOverride(t *testing.T) {
	viper.Reset()
	defer viper.Reset()
	t.Setenv("ANNFLOW_TABLE_NAME", "jobs-test")

	setDefaults()

	assert.Equal(t, "jobs-test", viper.GetString("table.name"))
}

func TestCommandTree(t *testing.T) {
	want := []string{
		"submit-worker", "archive-worker", "upgrade-worker", "thaw-worker",
		"run", "job", "user", "config", "version",
	}
	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := rootCmd.Find([]string{name})
			assert.NoError(t, err)
			assert.Equal(t, name, cmd.Name())
		})
	}
}
