// Package s3 implements the hot object store on AWS S3 and S3-compatible storage.
package s3

// Config configures an S3 provider bound to one bucket.
//
// Credentials and region come from the shared aws.Config (see pkg/awsconf);
// this struct only carries per-bucket settings.
type Config struct {
	// Bucket is the S3 bucket name (required).
	Bucket string

	// ForcePathStyle forces path-style URLs (bucket in path, not subdomain).
	// Required for moto, MinIO and most S3-compatible stores.
	ForcePathStyle bool
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
