// Package config loads the audio-server's runtime configuration from
// environment variables, following the teacher's envOr/DefaultConfig
// pattern rather than a flags or file-based config layer.
package config

import (
	"os"
	"strconv"
)

// Config is the full set of environment-recognised options.
type Config struct {
	StorageBucket string
	StorageEndpoint string
	Region        string

	ProgressPrimaryHost string
	ProgressPrimaryPort string
	ProgressPrimaryTLS  bool

	JobTableName string

	TranscoderPath string

	ListenAddr string

	UseRealCloud bool
}

// DefaultConfig returns the configuration built from environment
// variables, falling back to the documented defaults.
func DefaultConfig() Config {
	return Config{
		StorageBucket:       envOr("STORAGE_BUCKET", "audio-conversion-bucket"),
		StorageEndpoint:     os.Getenv("STORAGE_ENDPOINT"),
		Region:              envOr("REGION", "us-east-1"),
		ProgressPrimaryHost: envOr("PROGRESS_PRIMARY_HOST", "localhost"),
		ProgressPrimaryPort: envOr("PROGRESS_PRIMARY_PORT", "6379"),
		ProgressPrimaryTLS:  envBoolOr("PROGRESS_PRIMARY_TLS", false),
		JobTableName:        envOr("JOB_TABLE_NAME", "audio-conversion-jobs"),
		TranscoderPath:      envOr("TRANSCODER_PATH", "ffmpeg"),
		ListenAddr:          envOr("LISTEN_ADDR", ":8080"),
		UseRealCloud:        envBoolOr("USE_REAL_CLOUD", false),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
