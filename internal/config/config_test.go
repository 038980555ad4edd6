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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "local", cfg.Storage)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.True(t, cfg.CORS)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, time.Hour, cfg.PresignedURLExpiry)
	assert.Equal(t, []string{"/service-info"}, cfg.AuthPublicEndpoints)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("STORAGE", "s3")
	t.Setenv("S3_BUCKET", "genomics-data")
	t.Setenv("S3_PREFIX", "samples/")
	t.Setenv("PRESIGNED_URL_EXPIRY", "600")
	t.Setenv("AUTH_PUBLIC_ENDPOINTS", "/service-info, /data")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "s3", cfg.Storage)
	assert.Equal(t, "genomics-data", cfg.S3Bucket)
	assert.Equal(t, 10*time.Minute, cfg.PresignedURLExpiry)
	assert.Equal(t, []string{"/service-info", "/data"}, cfg.AuthPublicEndpoints)
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("PORT", "8080")

	cfg, err := Load([]string{"--port", "9090"})
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
}

func TestValidation(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"bad port", []string{"--port", "0"}},
		{"unknown storage", []string{"--storage", "ftp"}},
		{"s3 without bucket", []string{"--storage", "s3"}},
		{"http without base url", []string{"--storage", "http"}},
		{"gcs without bucket", []string{"--storage", "gcs"}},
		{"auth without keys", []string{"--auth-enabled"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(tc.args)
			assert.Error(t, err)
		})
	}
}

func TestEffectiveBaseURL(t *testing.T) {
	cfg, err := Load([]string{"--host", "localhost", "--port", "3000"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", cfg.EffectiveBaseURL())

	cfg, err = Load([]string{"--base-url", "https://htsget.example.com/"})
	require.NoError(t, err)
	assert.Equal(t, "https://htsget.example.com", cfg.EffectiveBaseURL())
}
