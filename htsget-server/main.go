// Copyright 2017 Google Inc.
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

// This binary provides an htsget protocol server over local, S3, HTTP or
// GCS storage.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"

	"github.com/googlegenomics/htsget-server/internal/auth"
	"github.com/googlegenomics/htsget-server/internal/config"
	"github.com/googlegenomics/htsget-server/internal/server"
	"github.com/googlegenomics/htsget-server/internal/storage"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})

	if cfg.Profile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend, err := newBackend(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	publicEndpoints := cfg.AuthPublicEndpoints
	var signer *auth.Signer
	if cfg.DataURLSecret != "" {
		signer = auth.NewSigner(cfg.DataURLSecret, cfg.DataURLExpiry)
		// Signed data URLs are their own authentication.
		publicEndpoints = append(publicEndpoints, "/data")
	}

	authenticator, err := auth.NewAuthenticator(ctx, auth.Options{
		Enabled:         cfg.AuthEnabled,
		JWKSURL:         cfg.AuthJWKSURL,
		PublicKey:       cfg.AuthPublicKey,
		Issuer:          cfg.AuthIssuer,
		Audience:        cfg.AuthAudience,
		PublicEndpoints: publicEndpoints,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	htsget := server.New(backend, server.Options{
		BaseURL:        cfg.EffectiveBaseURL(),
		CORS:           cfg.CORS,
		RequestTimeout: cfg.RequestTimeout,
		Signer:         signer,
		Auth:           authenticator,
	})

	address := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		logrus.Errorf("binding %s: %v", address, err)
		os.Exit(2)
	}

	httpServer := &http.Server{Handler: htsget.Handler()}
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logrus.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		httpServer.Shutdown(ctx)
	}()

	logrus.WithFields(logrus.Fields{
		"address": address,
		"storage": cfg.Storage,
	}).Info("serving htsget")
	if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		logrus.Errorf("HTTP server returned an error: %v", err)
		os.Exit(2)
	}
}

func newBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage {
	case "local":
		return storage.NewLocal(cfg.DataDir, cfg.EffectiveBaseURL())
	case "s3":
		return storage.NewS3(ctx, storage.S3Options{
			Bucket:        cfg.S3Bucket,
			Region:        cfg.S3Region,
			Prefix:        cfg.S3Prefix,
			Endpoint:      cfg.S3Endpoint,
			CacheDir:      cfg.CacheDir,
			PresignExpiry: cfg.PresignedURLExpiry,
		})
	case "http":
		return storage.NewHTTP(nil, cfg.HTTPBaseURL, cfg.HTTPIndexBaseURL), nil
	case "gcs":
		return storage.NewGCS(ctx, storage.GCSOptions{
			Bucket:      cfg.GCSBucket,
			Prefix:      cfg.GCSPrefix,
			AccessToken: cfg.GCSAccessToken,
			Public:      cfg.GCSPublic,
			BaseURL:     cfg.EffectiveBaseURL(),
		})
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
}
