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

package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// HTTP serves objects from a remote HTTP or HTTPS server that supports
// range requests.  Materialized URLs are the remote URLs themselves.
type HTTP struct {
	client       *http.Client
	baseURL      string
	indexBaseURL string
}

// NewHTTP returns an HTTP backend resolving keys against baseURL.  Index
// keys resolve against indexBaseURL when it is non-empty.
func NewHTTP(client *http.Client, baseURL, indexBaseURL string) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		client:       client,
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		indexBaseURL: strings.TrimSuffix(indexBaseURL, "/"),
	}
}

func (b *HTTP) Kind() string { return "http" }

func (b *HTTP) resolve(key string) string {
	if isIndexKey(key) && b.indexBaseURL != "" {
		return b.indexBaseURL + "/" + key
	}
	return b.baseURL + "/" + key
}

func (b *HTTP) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.resolve(key), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %v", err)
	}

	var info *ObjectInfo
	err = withRetry(ctx, func() error {
		resp, err := b.client.Do(req)
		if err != nil {
			return transientError{fmt.Errorf("HEAD %s: %v", key, err)}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode >= 500:
			return transientError{fmt.Errorf("HEAD %s: %s", key, resp.Status)}
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("HEAD %s: %s", key, resp.Status)
		}

		size, err := strconv.ParseUint(resp.Header.Get("Content-Length"), 10, 64)
		if err != nil {
			return fmt.Errorf("parsing content length: %v", err)
		}
		version := resp.Header.Get("ETag")
		if version == "" {
			version = resp.Header.Get("Last-Modified")
		}
		info = &ObjectInfo{Size: size, Version: version}
		return nil
	})
	return info, err
}

func (b *HTTP) Reader(ctx context.Context, key string, begin, end uint64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.resolve(key), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %v", err)
	}
	if end == WholeObject {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", begin))
	} else {
		req.Header.Set("Range", htsget.ByteRange{Begin: begin, End: end}.String())
	}

	var body io.ReadCloser
	err = withRetry(ctx, func() error {
		resp, err := b.client.Do(req)
		if err != nil {
			return transientError{fmt.Errorf("GET %s: %v", key, err)}
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound
		case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
			resp.Body.Close()
			return ErrRangeNotSatisfiable
		case resp.StatusCode >= 500:
			resp.Body.Close()
			return transientError{fmt.Errorf("GET %s: %s", key, resp.Status)}
		case resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK:
			resp.Body.Close()
			return fmt.Errorf("GET %s: %s", key, resp.Status)
		}
		body = resp.Body
		return nil
	})
	return body, err
}

func (b *HTTP) Materialize(ctx context.Context, key string, rng *htsget.ByteRange, class string) (htsget.URL, error) {
	return htsget.URL{
		URL:     b.resolve(key),
		Headers: rangeHeaders(rng),
		Class:   class,
	}, nil
}
