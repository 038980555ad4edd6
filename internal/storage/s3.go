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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/sirupsen/logrus"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// S3Options configures an S3 backend.
type S3Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
	// CacheDir is where index objects are staged for local parsing.
	CacheDir string
	// PresignExpiry bounds the validity of materialized URLs.
	PresignExpiry time.Duration
}

// S3 serves objects from an S3 compatible object store.  Materialized URLs
// are presigned GETs carrying a Range header; index objects are staged to a
// local cache directory before parsing.
type S3 struct {
	client  *s3.Client
	presign *s3.PresignClient
	opts    S3Options
}

// NewS3 returns an S3 backend for the given bucket.
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS configuration: %v", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %v", err)
		}
	}

	return &S3{
		client:  client,
		presign: s3.NewPresignClient(client),
		opts:    opts,
	}, nil
}

func (b *S3) Kind() string { return "s3" }

func (b *S3) objectKey(key string) string {
	if b.opts.Prefix == "" {
		return key
	}
	return strings.TrimSuffix(b.opts.Prefix, "/") + "/" + key
}

func (b *S3) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	head, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("HeadObject: %v", err)
	}
	info := &ObjectInfo{Size: uint64(aws.ToInt64(head.ContentLength))}
	info.Version = aws.ToString(head.ETag)
	return info, nil
}

func (b *S3) Reader(ctx context.Context, key string, begin, end uint64) (io.ReadCloser, error) {
	if isIndexKey(key) {
		return b.stagedReader(ctx, key, begin, end)
	}
	return b.rangeReader(ctx, key, begin, end)
}

func (b *S3) rangeReader(ctx context.Context, key string, begin, end uint64) (io.ReadCloser, error) {
	spec := htsget.ByteRange{Begin: begin, End: end}.String()
	if end == WholeObject {
		spec = fmt.Sprintf("bytes=%d-", begin)
	}
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.objectKey(key)),
		Range:  aws.String(spec),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		if hasStatusCode(err, 416) {
			return nil, ErrRangeNotSatisfiable
		}
		return nil, fmt.Errorf("GetObject: %v", err)
	}
	return out.Body, nil
}

// stagedReader downloads an index object to the cache directory once per
// object version and serves reads from the local copy.
func (b *S3) stagedReader(ctx context.Context, key string, begin, end uint64) (io.ReadCloser, error) {
	if b.opts.CacheDir == "" {
		return b.rangeReader(ctx, key, begin, end)
	}

	info, err := b.Stat(ctx, key)
	if err != nil {
		return nil, err
	}

	name := strings.NewReplacer("/", "_", "\"", "").Replace(info.Version + "-" + key)
	path := filepath.Join(b.opts.CacheDir, name)
	if _, err := os.Stat(path); err != nil {
		if err := b.download(ctx, key, path); err != nil {
			return nil, err
		}
	}
	return openFileRange(path, begin, end)
}

func (b *S3) download(ctx context.Context, key, path string) error {
	out, err := b.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.objectKey(key)),
	})
	if err != nil {
		if isS3NotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("GetObject: %v", err)
	}
	defer out.Body.Close()

	staging := path + ".tmp"
	file, err := os.Create(staging)
	if err != nil {
		return fmt.Errorf("creating staging file: %v", err)
	}
	if _, err := io.Copy(file, out.Body); err != nil {
		file.Close()
		os.Remove(staging)
		return fmt.Errorf("staging object: %v", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing staging file: %v", err)
	}
	if err := os.Rename(staging, path); err != nil {
		return fmt.Errorf("publishing staged object: %v", err)
	}
	logrus.WithFields(logrus.Fields{"key": key, "path": path}).Debug("staged index object")
	return nil
}

func (b *S3) Materialize(ctx context.Context, key string, rng *htsget.ByteRange, class string) (htsget.URL, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(b.opts.Bucket),
		Key:    aws.String(b.objectKey(key)),
	}
	if rng != nil {
		input.Range = aws.String(rng.String())
	}

	signed, err := b.presign.PresignGetObject(ctx, input, s3.WithPresignExpires(b.opts.PresignExpiry))
	if err != nil {
		return htsget.URL{}, fmt.Errorf("presigning %q: %v", key, err)
	}
	return htsget.URL{URL: signed.URL, Headers: rangeHeaders(rng), Class: class}, nil
}

// isIndexKey reports whether key names a companion index object.
func isIndexKey(key string) bool {
	for _, ext := range []string{".bai", ".tbi", ".csi", ".crai", ".fai"} {
		if strings.HasSuffix(key, ext) {
			return true
		}
	}
	return false
}

func isS3NotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return hasStatusCode(err, 404)
}

func hasStatusCode(err error, code int) bool {
	var respErr interface{ HTTPStatusCode() int }
	if errors.As(err, &respErr) {
		return respErr.HTTPStatusCode() == code
	}
	return false
}
