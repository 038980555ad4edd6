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

// Package auth provides bearer token authentication for the htsget API and
// HMAC signing for data proxy URLs.
package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/sirupsen/logrus"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// Options configures bearer token verification.
type Options struct {
	Enabled bool
	// JWKSURL is polled for the signing key set.  A fetch failure fails
	// verification; there is no unauthenticated fallback.
	JWKSURL string
	// PublicKey is a PEM encoded public key, either inline or a file path.
	// Used when JWKSURL is empty.
	PublicKey string
	Issuer    string
	Audience  string
	// PublicEndpoints are path prefixes served without authentication.
	PublicEndpoints []string
}

// Authenticator verifies bearer tokens on incoming requests.
type Authenticator struct {
	opts   Options
	static *jwtauth.JWTAuth
	keys   *jwk.Cache
}

// NewAuthenticator builds an Authenticator from opts.  The context bounds
// the lifetime of the background JWKS refresher.
func NewAuthenticator(ctx context.Context, opts Options) (*Authenticator, error) {
	a := &Authenticator{opts: opts}
	if !opts.Enabled {
		return a, nil
	}

	switch {
	case opts.JWKSURL != "":
		cache := jwk.NewCache(ctx)
		if err := cache.Register(opts.JWKSURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
			return nil, fmt.Errorf("registering JWKS endpoint: %v", err)
		}
		a.keys = cache
	case opts.PublicKey != "":
		key, algorithm, err := parsePublicKey(opts.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("loading public key: %v", err)
		}
		a.static = jwtauth.New(algorithm, nil, key)
	default:
		return nil, fmt.Errorf("authentication requires AUTH_JWKS_URL or AUTH_PUBLIC_KEY")
	}
	return a, nil
}

// Middleware enforces bearer token authentication on non-public endpoints.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	if !a.opts.Enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if a.isPublic(req.URL.Path) {
			next.ServeHTTP(w, req)
			return
		}
		if err := a.verify(req); err != nil {
			logrus.WithField("path", req.URL.Path).Debugf("authentication failed: %v", err)
			writeAuthError(w, err)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func (a *Authenticator) isPublic(path string) bool {
	for _, prefix := range a.opts.PublicEndpoints {
		if prefix == "" {
			continue
		}
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}

func (a *Authenticator) verify(req *http.Request) error {
	raw := jwtauth.TokenFromHeader(req)
	if raw == "" {
		return fmt.Errorf("missing bearer token")
	}

	var token jwt.Token
	var err error
	if a.keys != nil {
		set, fetchErr := a.keys.Get(req.Context(), a.opts.JWKSURL)
		if fetchErr != nil {
			return fmt.Errorf("fetching JWKS: %v", fetchErr)
		}
		token, err = jwt.Parse([]byte(raw), jwt.WithKeySet(set), jwt.WithValidate(true))
	} else {
		token, err = jwtauth.VerifyToken(a.static, raw)
	}
	if err != nil {
		return fmt.Errorf("verifying token: %v", err)
	}

	var validators []jwt.ValidateOption
	if a.opts.Issuer != "" {
		validators = append(validators, jwt.WithIssuer(a.opts.Issuer))
	}
	if a.opts.Audience != "" {
		validators = append(validators, jwt.WithAudience(a.opts.Audience))
	}
	if len(validators) > 0 {
		if err := jwt.Validate(token, validators...); err != nil {
			return fmt.Errorf("validating claims: %v", err)
		}
	}
	return nil
}

func parsePublicKey(material string) (interface{}, string, error) {
	data := []byte(material)
	if !strings.Contains(material, "-----BEGIN") {
		loaded, err := os.ReadFile(material)
		if err != nil {
			return nil, "", fmt.Errorf("reading key file: %v", err)
		}
		data = loaded
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, "", fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, "", fmt.Errorf("parsing public key: %v", err)
	}

	switch key.(type) {
	case *rsa.PublicKey:
		return key, "RS256", nil
	case *ecdsa.PublicKey:
		return key, "ES256", nil
	}
	return nil, "", fmt.Errorf("unsupported public key type %T", key)
}

func writeAuthError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(htsget.ErrorEnvelope{
		Htsget: htsget.ErrorBody{
			Error:   "InvalidAuthentication",
			Message: err.Error(),
		},
	})
}
