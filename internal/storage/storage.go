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

// Package storage abstracts the byte sources that genomic data is served
// from.  A Backend can probe objects, read byte ranges and materialize a
// range as a URL that clients fetch directly: a presigned object store URL,
// a remote HTTP URL, or a URL pointing back at the server's own data proxy.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"time"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// WholeObject as a range end means "through the end of the object".
const WholeObject = ^uint64(0)

// ErrNotFound is returned for keys that do not name an existing object.
var ErrNotFound = errors.New("object not found")

// ErrRangeNotSatisfiable is returned when a range begins past the end of the
// object.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// ObjectInfo describes a stored object.  Version is an opaque identifier
// that changes whenever the object content changes (modification time, ETag
// or generation, depending on the backend).
type ObjectInfo struct {
	Size    uint64
	Version string
}

// Backend is a byte source holding genomic data and index objects.
// Implementations are safe for concurrent use.
type Backend interface {
	// Kind names the backend type ("local", "s3", "http", "gcs").
	Kind() string

	// Stat probes a key, returning ErrNotFound for absent objects.
	Stat(ctx context.Context, key string) (*ObjectInfo, error)

	// Reader streams the inclusive byte range [begin, end] of an object,
	// clipped to the object's length.
	Reader(ctx context.Context, key string, begin, end uint64) (io.ReadCloser, error)

	// Materialize renders the inclusive byte range as a URL descriptor
	// that a client can fetch.  A nil range covers the whole object.
	Materialize(ctx context.Context, key string, rng *htsget.ByteRange, class string) (htsget.URL, error)
}

// Exists reports whether key names an existing object.
func Exists(ctx context.Context, backend Backend, key string) (bool, error) {
	if _, err := backend.Stat(ctx, key); err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ReadRange reads the inclusive byte range [begin, end] of an object into
// memory.
func ReadRange(ctx context.Context, backend Backend, key string, begin, end uint64) ([]byte, error) {
	r, err := backend.Reader(ctx, key, begin, end)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading range: %v", err)
	}
	return data, nil
}

// rangeHeaders returns the ticket headers for an inclusive byte range.
func rangeHeaders(rng *htsget.ByteRange) map[string]string {
	if rng == nil {
		return nil
	}
	return map[string]string{"Range": rng.String()}
}

// withRetry runs attempt up to four times, sleeping 100ms, 400ms and 1600ms
// between tries.  Only transient transport failures are retried.
func withRetry(ctx context.Context, attempt func() error) error {
	backoff := 100 * time.Millisecond
	var err error
	for try := 0; ; try++ {
		if err = attempt(); err == nil || !isTransient(err) || try == 3 {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 4
	}
}

type transientError struct {
	error
}

func (e transientError) Unwrap() error { return e.error }

func isTransient(err error) bool {
	var transient transientError
	if errors.As(err, &transient) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
