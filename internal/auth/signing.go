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

package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// Signer issues and validates HMAC signed data URLs.  Signing covers the
// URL's path and query together with an expiry timestamp, carried in the
// _expires and _sig query parameters.
type Signer struct {
	secret []byte
	expiry time.Duration
}

// NewSigner returns a Signer using the given secret.  Signed URLs stay valid
// for expiry.
func NewSigner(secret string, expiry time.Duration) *Signer {
	return &Signer{secret: []byte(secret), expiry: expiry}
}

// Sign appends _expires and _sig parameters to rawURL.
func (s *Signer) Sign(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parsing URL: %v", err)
	}

	expires := time.Now().Add(s.expiry).Unix()
	signature := s.compute(signingBase(parsed), expires)

	query := parsed.Query()
	query.Set("_expires", strconv.FormatInt(expires, 10))
	query.Set("_sig", signature)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// Validate checks the signature parameters of a request URL.
func (s *Signer) Validate(requestURL *url.URL) error {
	query := requestURL.Query()
	expiresField := query.Get("_expires")
	signature := query.Get("_sig")
	if expiresField == "" || signature == "" {
		return fmt.Errorf("missing URL signature")
	}

	expires, err := strconv.ParseInt(expiresField, 10, 64)
	if err != nil {
		return fmt.Errorf("parsing expiry: %v", err)
	}
	if time.Now().Unix() > expires {
		return fmt.Errorf("signed URL expired")
	}

	query.Del("_expires")
	query.Del("_sig")
	base := *requestURL
	base.RawQuery = query.Encode()

	expected := s.compute(signingBase(&base), expires)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return fmt.Errorf("invalid URL signature")
	}
	return nil
}

// signingBase reduces a URL to the signed portion.  The scheme and host are
// excluded so that signatures survive reverse proxies.
func signingBase(u *url.URL) string {
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery
	}
	return u.Path
}

func (s *Signer) compute(base string, expires int64) string {
	mac := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(mac, "%s:%d", base, expires)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
