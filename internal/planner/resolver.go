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

package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/googlegenomics/htsget-server/internal/bam"
	"github.com/googlegenomics/htsget-server/internal/bcf"
	"github.com/googlegenomics/htsget-server/internal/cram"
	"github.com/googlegenomics/htsget-server/internal/htsget"
	"github.com/googlegenomics/htsget-server/internal/index"
	"github.com/googlegenomics/htsget-server/internal/storage"
	"github.com/googlegenomics/htsget-server/internal/vcf"
)

// maximumHeaderSize bounds the prefix of a data file that is read when
// extracting its reference dictionary.
const maximumHeaderSize = 1 << 20

// Resolution maps a request onto concrete storage objects.
type Resolution struct {
	Format   htsget.Format
	DataKey  string
	IndexKey string
	// IndexKind is meaningful when IndexKey names a BAI, TBI or CSI index.
	IndexKind index.Kind
}

// Resolve determines the data object, companion index object and container
// format serving (endpoint, id, requested format).  The requested format may
// be empty, in which case the first format with an extant data object wins.
func Resolve(ctx context.Context, backend storage.Backend, endpoint htsget.Endpoint, id, requested string) (*Resolution, error) {
	if strings.ContainsAny(id, "/\\") || id == "" {
		return nil, htsget.InvalidInputError("invalid ID %q", id)
	}

	candidates := endpoint.Formats()
	if candidates == nil {
		return nil, htsget.InvalidInputError("unknown endpoint %q", string(endpoint))
	}
	if requested != "" {
		format, err := htsget.ParseFormat(requested)
		if err != nil {
			return nil, htsget.UnsupportedFormatError("%v", err)
		}
		found := false
		for _, candidate := range candidates {
			if candidate == format {
				found = true
				break
			}
		}
		if !found {
			return nil, htsget.UnsupportedFormatError("format %s is not served by the %s endpoint", format, endpoint)
		}
		candidates = []htsget.Format{format}
	}

	for _, format := range candidates {
		for _, ext := range format.DataExtensions() {
			key := id + ext
			ok, err := storage.Exists(ctx, backend, key)
			if err != nil {
				return nil, htsget.IOError("probing data object", err)
			}
			if !ok {
				continue
			}

			resolution := &Resolution{Format: format, DataKey: key}
			if err := resolveIndex(ctx, backend, resolution, id); err != nil {
				return nil, err
			}
			return resolution, nil
		}
	}
	return nil, htsget.NotFoundError("not found: %s", id)
}

// resolveIndex probes for a companion index, trying the appended naming
// convention (sample.bam.bai) before the replaced one (sample.bai).
func resolveIndex(ctx context.Context, backend storage.Backend, resolution *Resolution, id string) error {
	for _, ext := range resolution.Format.IndexExtensions() {
		for _, key := range []string{resolution.DataKey + ext, id + ext} {
			ok, err := storage.Exists(ctx, backend, key)
			if err != nil {
				return htsget.IOError("probing index object", err)
			}
			if ok {
				resolution.IndexKey = key
				resolution.IndexKind = indexKindForExtension(ext)
				return nil
			}
		}
	}
	return nil
}

func indexKindForExtension(ext string) index.Kind {
	switch ext {
	case ".tbi":
		return index.TBI
	case ".csi":
		return index.CSI
	}
	return index.BAI
}

// References extracts the reference dictionary from the resolved data
// file's header.
func References(ctx context.Context, backend storage.Backend, resolution *Resolution) ([]htsget.Reference, error) {
	r, err := backend.Reader(ctx, resolution.DataKey, 0, maximumHeaderSize-1)
	if err != nil {
		return nil, htsget.IOError("reading file header", err)
	}
	defer r.Close()

	var references []htsget.Reference
	switch resolution.Format {
	case htsget.BAM:
		references, err = bam.References(r)
	case htsget.CRAM:
		references, err = cram.References(r)
	case htsget.VCF:
		references, err = vcf.References(r)
	case htsget.BCF:
		references, err = bcf.References(r)
	default:
		return nil, htsget.InvalidInputError("format %s has no reference dictionary", resolution.Format)
	}
	if err != nil {
		return nil, htsget.InternalError(fmt.Sprintf("parsing %s header", resolution.Format), err)
	}
	return references, nil
}
