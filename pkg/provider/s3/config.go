// Package s3 publishes run reports to AWS S3 and S3-compatible storage.
package s3

// Config selects the report bucket and how to reach it. It is filled from the
// manifest's report section, with the application config's aws.region and
// aws.profile as fallbacks.
//
// Credentials always come from the AWS SDK default chain (environment,
// shared files selected by Profile, instance or task role); run manifests
// never carry keys.
type Config struct {
	Bucket string

	// Region is left to the SDK when empty. AWS S3 then falls back to
	// DefaultAWSRegion; a custom Endpoint gets no default.
	Region string

	// Endpoint points at an S3-compatible store (MinIO, Wasabi, a moto
	// server in tests). Empty means AWS S3.
	Endpoint string

	Profile string

	// ForcePathStyle puts the bucket in the URL path. Most S3-compatible
	// stores need it.
	ForcePathStyle bool
}

// DefaultAWSRegion applies to AWS S3 when nothing else names a region.
const DefaultAWSRegion = "us-east-1"

// Validate checks that a bucket is named.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ConfigError{Field: "Bucket", Message: "bucket name is required"}
	}
	return nil
}

// ConfigError reports an unusable Config field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "s3 config: " + e.Field + ": " + e.Message
}
