package auditarchive

import (
	"errors"
	"fmt"
	"time"

	"github.com/stablofi/stablo/internal/pkg/env"
)

// Config holds audit archive storage configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Enabled         bool
}

// LoadConfig loads archive configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("AUDIT_ARCHIVE_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("AUDIT_ARCHIVE_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("AUDIT_ARCHIVE_REGION", "us-west-001"),
		BucketName:      env.GetEnv("AUDIT_ARCHIVE_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("AUDIT_ARCHIVE_ENDPOINT_URL", ""),
		Enabled:         env.GetEnv("AUDIT_ARCHIVE_ENABLED", "false") == "true",
	}

	// Validate required fields if archiving is enabled
	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("AUDIT_ARCHIVE_ACCESS_KEY_ID is required when audit archiving is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("AUDIT_ARCHIVE_SECRET_ACCESS_KEY is required when audit archiving is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("AUDIT_ARCHIVE_BUCKET_NAME is required when audit archiving is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if audit archiving is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// GetObjectKey generates a standardized object key for a trimmed batch.
func (c *Config) GetObjectKey(trimmedAt time.Time, firstID, lastID uint) string {
	// Format: audit/YYYY/MM/entries-<firstID>-<lastID>.json
	return fmt.Sprintf("audit/%04d/%02d/entries-%d-%d.json",
		trimmedAt.Year(), int(trimmedAt.Month()), firstID, lastID)
}

// GetBucketName returns the bucket name as configured
func (c *Config) GetBucketName() string {
	return c.BucketName
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
