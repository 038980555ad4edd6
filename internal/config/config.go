// Copyright 2018 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads server configuration from command line flags and
// environment variables.  Every flag defaults from an environment variable
// of the same name in upper snake case.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"
)

// Config holds the complete server configuration.
type Config struct {
	Host     string
	Port     int
	BaseURL  string
	DataDir  string
	CORS     bool
	LogLevel string
	Storage  string

	RequestTimeout time.Duration

	S3Bucket           string
	S3Region           string
	S3Prefix           string
	S3Endpoint         string
	PresignedURLExpiry time.Duration
	CacheDir           string

	HTTPBaseURL      string
	HTTPIndexBaseURL string

	GCSBucket      string
	GCSPrefix      string
	GCSAccessToken string
	GCSPublic      bool

	AuthEnabled         bool
	AuthIssuer          string
	AuthAudience        string
	AuthJWKSURL         string
	AuthPublicKey       string
	AuthPublicEndpoints []string

	DataURLSecret string
	DataURLExpiry time.Duration

	Profile bool
}

// Load parses args (without the program name) into a Config and validates
// it.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	flags := flag.NewFlagSet("htsget-server", flag.ContinueOnError)

	flags.StringVar(&cfg.Host, "host", envString("HOST", "0.0.0.0"), "host address to bind to")
	flags.IntVar(&cfg.Port, "port", envInt("PORT", 3000), "port to listen on")
	flags.StringVar(&cfg.BaseURL, "base-url", envString("BASE_URL", ""), "base URL used in ticket URLs")
	flags.StringVar(&cfg.DataDir, "data-dir", envString("DATA_DIR", "./data"), "directory containing data files (local storage)")
	flags.BoolVar(&cfg.CORS, "cors", envBool("CORS", true), "allow cross origin requests")
	flags.StringVar(&cfg.LogLevel, "log-level", envString("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flags.StringVar(&cfg.Storage, "storage", envString("STORAGE", "local"), "storage backend (local, s3, http, gcs)")
	flags.DurationVar(&cfg.RequestTimeout, "request-timeout", envSeconds("REQUEST_TIMEOUT", 30), "per request deadline")

	flags.StringVar(&cfg.S3Bucket, "s3-bucket", envString("S3_BUCKET", ""), "S3 bucket name")
	flags.StringVar(&cfg.S3Region, "s3-region", envString("S3_REGION", ""), "S3 region")
	flags.StringVar(&cfg.S3Prefix, "s3-prefix", envString("S3_PREFIX", ""), "S3 key prefix")
	flags.StringVar(&cfg.S3Endpoint, "s3-endpoint", envString("S3_ENDPOINT", ""), "custom S3 endpoint (MinIO, LocalStack)")
	flags.DurationVar(&cfg.PresignedURLExpiry, "presigned-url-expiry", envSeconds("PRESIGNED_URL_EXPIRY", 3600), "presigned URL validity")
	flags.StringVar(&cfg.CacheDir, "cache-dir", envString("CACHE_DIR", os.TempDir()+"/htsget-cache"), "local staging directory for index objects")

	flags.StringVar(&cfg.HTTPBaseURL, "http-base-url", envString("HTTP_BASE_URL", ""), "base URL for data files (http storage)")
	flags.StringVar(&cfg.HTTPIndexBaseURL, "http-index-base-url", envString("HTTP_INDEX_BASE_URL", ""), "base URL for index files (http storage)")

	flags.StringVar(&cfg.GCSBucket, "gcs-bucket", envString("GCS_BUCKET", ""), "GCS bucket name")
	flags.StringVar(&cfg.GCSPrefix, "gcs-prefix", envString("GCS_PREFIX", ""), "GCS object prefix")
	flags.StringVar(&cfg.GCSAccessToken, "gcs-access-token", envString("GCS_ACCESS_TOKEN", ""), "static OAuth2 access token for GCS")
	flags.BoolVar(&cfg.GCSPublic, "gcs-public", envBool("GCS_PUBLIC", false), "access GCS without credentials")

	flags.BoolVar(&cfg.AuthEnabled, "auth-enabled", envBool("AUTH_ENABLED", false), "require bearer token authentication")
	flags.StringVar(&cfg.AuthIssuer, "auth-issuer", envString("AUTH_ISSUER", ""), "required token issuer")
	flags.StringVar(&cfg.AuthAudience, "auth-audience", envString("AUTH_AUDIENCE", ""), "required token audience")
	flags.StringVar(&cfg.AuthJWKSURL, "auth-jwks-url", envString("AUTH_JWKS_URL", ""), "JWKS endpoint for token verification")
	flags.StringVar(&cfg.AuthPublicKey, "auth-public-key", envString("AUTH_PUBLIC_KEY", ""), "PEM public key for token verification")
	publicEndpoints := flags.String("auth-public-endpoints", envString("AUTH_PUBLIC_ENDPOINTS", "/service-info"), "comma separated paths served without authentication")

	flags.StringVar(&cfg.DataURLSecret, "data-url-secret", envString("DATA_URL_SECRET", ""), "HMAC secret for signing data proxy URLs")
	flags.DurationVar(&cfg.DataURLExpiry, "data-url-expiry", envSeconds("DATA_URL_EXPIRY", 3600), "signed data URL validity")

	flags.BoolVar(&cfg.Profile, "profile", envBool("PROFILE", false), "write a CPU profile")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	for _, endpoint := range strings.Split(*publicEndpoints, ",") {
		if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
			cfg.AuthPublicEndpoints = append(cfg.AuthPublicEndpoints, endpoint)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d", cfg.Port)
	}
	switch cfg.Storage {
	case "local":
	case "s3":
		if cfg.S3Bucket == "" {
			return fmt.Errorf("storage %q requires S3_BUCKET", cfg.Storage)
		}
	case "http":
		if cfg.HTTPBaseURL == "" {
			return fmt.Errorf("storage %q requires HTTP_BASE_URL", cfg.Storage)
		}
	case "gcs":
		if cfg.GCSBucket == "" {
			return fmt.Errorf("storage %q requires GCS_BUCKET", cfg.Storage)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
	if cfg.AuthEnabled && cfg.AuthJWKSURL == "" && cfg.AuthPublicKey == "" {
		return fmt.Errorf("authentication requires AUTH_JWKS_URL or AUTH_PUBLIC_KEY")
	}
	return nil
}

// EffectiveBaseURL returns the base URL for ticket URLs, deriving one from
// the bind address when none is configured.
func (cfg *Config) EffectiveBaseURL() string {
	if cfg.BaseURL != "" {
		return strings.TrimSuffix(cfg.BaseURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
}

func envString(name, fallback string) string {
	if value, ok := os.LookupEnv(name); ok {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if value, ok := os.LookupEnv(name); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	if value, ok := os.LookupEnv(name); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

// envSeconds reads a duration expressed as a number of seconds.
func envSeconds(name string, fallback int) time.Duration {
	return time.Duration(envInt(name, fallback)) * time.Second
}
