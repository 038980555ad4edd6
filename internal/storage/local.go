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
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// Local serves objects from a directory on the local filesystem.  Keys are
// paths relative to the root; materialized URLs point at the server's own
// data proxy.
type Local struct {
	root    string
	baseURL string
}

// NewLocal returns a Local backend rooted at root.  Materialized URLs are
// formed against baseURL.
func NewLocal(root, baseURL string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %v", err)
	}
	return &Local{root: abs, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (b *Local) Kind() string { return "local" }

// resolve maps a key onto a path under the root, rejecting traversal
// outside of it.
func (b *Local) resolve(key string) (string, error) {
	path := filepath.Join(b.root, filepath.FromSlash(key))
	if path != b.root && !strings.HasPrefix(path, b.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the data directory", key)
	}
	return path, nil
}

func (b *Local) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	path, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat: %v", err)
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	return &ObjectInfo{
		Size:    uint64(info.Size()),
		Version: strconv.FormatInt(info.ModTime().UnixNano(), 10),
	}, nil
}

func (b *Local) Reader(ctx context.Context, key string, begin, end uint64) (io.ReadCloser, error) {
	path, err := b.resolve(key)
	if err != nil {
		return nil, err
	}
	return openFileRange(path, begin, end)
}

// openFileRange opens the inclusive byte range [begin, end] of a local
// file, clipped to its length.
func openFileRange(path string, begin, end uint64) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open: %v", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat: %v", err)
	}
	size := uint64(info.Size())
	if begin >= size && size > 0 {
		file.Close()
		return nil, ErrRangeNotSatisfiable
	}
	if _, err := file.Seek(int64(begin), io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek: %v", err)
	}

	length := int64(end-begin) + 1
	if end >= size {
		length = int64(size - begin)
	}
	return &limitReadCloser{io.LimitReader(file, length), file}, nil
}

func (b *Local) Materialize(ctx context.Context, key string, rng *htsget.ByteRange, class string) (htsget.URL, error) {
	return htsget.URL{
		URL:     fmt.Sprintf("%s/data/%s", b.baseURL, url.PathEscape(key)),
		Headers: rangeHeaders(rng),
		Class:   class,
	}, nil
}

type limitReadCloser struct {
	io.Reader
	io.Closer
}
