package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DatabaseURL string // GRAPHSTREAM_DATABASE_URL (required)
	HTTPAddr    string // GRAPHSTREAM_HTTP_ADDR (default ":8080")
	NATSURL     string // GRAPHSTREAM_NATS_URL (optional, empty = in-process bus only)
	AuthFile    string // GRAPHSTREAM_AUTH_FILE (optional, empty = insecure dev auth)

	// Subscription sweep settings
	SweepInterval time.Duration // GRAPHSTREAM_SWEEP_INTERVAL (default 1h; 0 = disabled)

	// Archive settings
	ArchiveInterval   time.Duration // GRAPHSTREAM_ARCHIVE_INTERVAL (default 5m; 0 = disabled)
	ArchiveS3Bucket   string        // GRAPHSTREAM_ARCHIVE_S3_BUCKET (enables S3 when set)
	ArchiveS3Endpoint string        // GRAPHSTREAM_ARCHIVE_S3_ENDPOINT (custom endpoint for MinIO)
	ArchiveS3Region   string        // GRAPHSTREAM_ARCHIVE_S3_REGION (default "us-east-1")
	ArchiveS3Prefix   string        // GRAPHSTREAM_ARCHIVE_S3_PREFIX (default "graphstream/events")
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("GRAPHSTREAM_DATABASE_URL"),
		HTTPAddr:          envOrDefault("GRAPHSTREAM_HTTP_ADDR", ":8080"),
		NATSURL:           os.Getenv("GRAPHSTREAM_NATS_URL"),
		AuthFile:          os.Getenv("GRAPHSTREAM_AUTH_FILE"),
		ArchiveS3Bucket:   os.Getenv("GRAPHSTREAM_ARCHIVE_S3_BUCKET"),
		ArchiveS3Endpoint: os.Getenv("GRAPHSTREAM_ARCHIVE_S3_ENDPOINT"),
		ArchiveS3Region:   envOrDefault("GRAPHSTREAM_ARCHIVE_S3_REGION", "us-east-1"),
		ArchiveS3Prefix:   envOrDefault("GRAPHSTREAM_ARCHIVE_S3_PREFIX", "graphstream/events"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("GRAPHSTREAM_DATABASE_URL is required")
	}

	var err error
	if c.SweepInterval, err = envDuration("GRAPHSTREAM_SWEEP_INTERVAL", "1h"); err != nil {
		return nil, err
	}
	if c.ArchiveInterval, err = envDuration("GRAPHSTREAM_ARCHIVE_INTERVAL", "5m"); err != nil {
		return nil, err
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key, fallback string) (time.Duration, error) {
	raw := envOrDefault(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
