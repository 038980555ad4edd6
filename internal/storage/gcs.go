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

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// GCSOptions configures a GCS backend.
type GCSOptions struct {
	Bucket string
	Prefix string
	// AccessToken, when set, authorizes requests with a static OAuth2
	// bearer token.  When empty and Public is false, application default
	// credentials are used.
	AccessToken string
	// Public disables client authorization entirely; only world-readable
	// objects can be served.
	Public bool
	// BaseURL is the server's own base URL, used for data proxy URLs.
	BaseURL string
}

// GCS serves objects from a Google Cloud Storage bucket.  The server cannot
// presign GCS URLs without service account key material, so materialized
// URLs point at the data proxy.
type GCS struct {
	client *gcs.Client
	opts   GCSOptions
}

// NewGCS returns a GCS backend for the given bucket.
func NewGCS(ctx context.Context, opts GCSOptions) (*GCS, error) {
	var clientOpts []option.ClientOption
	switch {
	case opts.AccessToken != "":
		token := oauth2.Token{TokenType: "Bearer", AccessToken: opts.AccessToken}
		clientOpts = append(clientOpts, option.WithTokenSource(oauth2.StaticTokenSource(&token)))
	case opts.Public:
		clientOpts = append(clientOpts, option.WithHTTPClient(http.DefaultClient))
	}

	client, err := gcs.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %v", err)
	}
	return &GCS{client: client, opts: opts}, nil
}

func (b *GCS) Kind() string { return "gcs" }

func (b *GCS) object(key string) *gcs.ObjectHandle {
	name := key
	if b.opts.Prefix != "" {
		name = strings.TrimSuffix(b.opts.Prefix, "/") + "/" + key
	}
	return b.client.Bucket(b.opts.Bucket).Object(name)
}

func (b *GCS) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	attrs, err := b.object(key).Attrs(ctx)
	if err != nil {
		return nil, mapGCSError(err)
	}
	return &ObjectInfo{
		Size:    uint64(attrs.Size),
		Version: strconv.FormatInt(attrs.Generation, 10),
	}, nil
}

func (b *GCS) Reader(ctx context.Context, key string, begin, end uint64) (io.ReadCloser, error) {
	length := int64(-1)
	if end != WholeObject {
		length = int64(end-begin) + 1
	}
	r, err := b.object(key).NewRangeReader(ctx, int64(begin), length)
	if err != nil {
		return nil, mapGCSError(err)
	}
	return r, nil
}

func (b *GCS) Materialize(ctx context.Context, key string, rng *htsget.ByteRange, class string) (htsget.URL, error) {
	return htsget.URL{
		URL:     fmt.Sprintf("%s/data/%s", strings.TrimSuffix(b.opts.BaseURL, "/"), url.PathEscape(key)),
		Headers: rangeHeaders(rng),
		Class:   class,
	}, nil
}

func mapGCSError(err error) error {
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return ErrNotFound
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusUnauthorized:
			return htsget.InvalidAuthenticationError("storage: %v", err)
		case http.StatusForbidden:
			return htsget.PermissionDeniedError("storage: %v", err)
		case http.StatusRequestedRangeNotSatisfiable:
			return ErrRangeNotSatisfiable
		}
	}
	return fmt.Errorf("storage: %v", err)
}
