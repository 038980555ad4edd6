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
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlegenomics/htsget-server/internal/bgzf"
	"github.com/googlegenomics/htsget-server/internal/binary"
	"github.com/googlegenomics/htsget-server/internal/htsget"
	"github.com/googlegenomics/htsget-server/internal/index"
	"github.com/googlegenomics/htsget-server/internal/storage"
)

// fixture is a synthetic BAM file with a single reference ("chr1", one
// million base pairs) plus its BAI index, served from a temporary directory.
type fixture struct {
	backend *storage.Local
	planner *Planner

	headerSize uint64 // compressed size of the header block
	dataSize   uint64 // compressed size of the single record block
	length     uint64 // total file size
}

func u64(v uint64) *uint64 { return &v }

func buildFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	var header bytes.Buffer
	header.WriteString("BAM\x01")
	text := "@HD\tVN:1.6\n@SQ\tSN:chr1\tLN:1000000\n"
	require.NoError(t, binary.Write(&header, int32(len(text))))
	header.WriteString(text)
	require.NoError(t, binary.Write(&header, int32(1)))
	name := "chr1\x00"
	require.NoError(t, binary.Write(&header, int32(len(name))))
	header.WriteString(name)
	require.NoError(t, binary.Write(&header, int32(1000000)))

	headerBlock, err := bgzf.EncodeBlock(header.Bytes())
	require.NoError(t, err)
	recordBlock, err := bgzf.EncodeBlock([]byte("synthetic alignment records"))
	require.NoError(t, err)

	file := append(append(append([]byte(nil), headerBlock...), recordBlock...), bgzf.EOFMarker...)
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "sample.bam"), file, 0644))

	h := uint64(len(headerBlock))
	d := uint64(len(recordBlock))

	idx := &index.Index{
		Kind:     index.BAI,
		MinShift: 14,
		Depth:    5,
		Refs: []index.Reference{{
			Bins: []index.Bin{{
				ID: 4681,
				Chunks: []bgzf.Chunk{{
					Start: bgzf.NewAddress(h, 0),
					End:   bgzf.NewAddress(h+d, 0),
				}},
			}},
			Intervals: []bgzf.Address{bgzf.NewAddress(h, 0)},
		}},
	}
	var encoded bytes.Buffer
	require.NoError(t, index.Encode(&encoded, idx))
	require.NoError(t, ioutil.WriteFile(filepath.Join(dir, "sample.bam.bai"), encoded.Bytes(), 0644))

	backend, err := storage.NewLocal(dir, "http://localhost:3000")
	require.NoError(t, err)

	return &fixture{
		backend:    backend,
		planner:    New(backend),
		headerSize: h,
		dataSize:   d,
		length:     uint64(len(file)),
	}
}

func (f *fixture) rangeOf(url htsget.URL) string {
	return url.Headers["Range"]
}

func TestPlanWholeFile(t *testing.T) {
	f := buildFixture(t)

	ticket, err := f.planner.Plan(context.Background(), &Request{Endpoint: htsget.Reads, ID: "sample"})
	require.NoError(t, err)

	assert.Equal(t, htsget.BAM, ticket.Format)
	require.Len(t, ticket.URLs, 1)
	assert.Equal(t, fmt.Sprintf("bytes=0-%d", f.length-1), f.rangeOf(ticket.URLs[0]))
	assert.Equal(t, htsget.ClassBody, ticket.URLs[0].Class)
}

func TestPlanRegion(t *testing.T) {
	f := buildFixture(t)

	ticket, err := f.planner.Plan(context.Background(), &Request{
		Endpoint: htsget.Reads,
		ID:       "sample",
		Regions:  []htsget.Region{{ReferenceName: "chr1", Start: u64(0), End: u64(1000000)}},
	})
	require.NoError(t, err)

	require.Len(t, ticket.URLs, 3)
	assert.Equal(t, fmt.Sprintf("bytes=0-%d", f.headerSize-1), f.rangeOf(ticket.URLs[0]))
	assert.Equal(t, htsget.ClassHeader, ticket.URLs[0].Class)
	assert.Equal(t, fmt.Sprintf("bytes=%d-%d", f.headerSize, f.headerSize+f.dataSize-1), f.rangeOf(ticket.URLs[1]))
	assert.Equal(t, htsget.ClassBody, ticket.URLs[1].Class)
	assert.Equal(t, fmt.Sprintf("bytes=%d-%d", f.length-28, f.length-1), f.rangeOf(ticket.URLs[2]))
	assert.Equal(t, htsget.ClassBody, ticket.URLs[2].Class)
}

func TestPlanRegion_EquivalentToWholeReference(t *testing.T) {
	f := buildFixture(t)
	ctx := context.Background()

	explicit, err := f.planner.Plan(ctx, &Request{
		Endpoint: htsget.Reads,
		ID:       "sample",
		Regions:  []htsget.Region{{ReferenceName: "chr1", Start: u64(0), End: u64(1000000)}},
	})
	require.NoError(t, err)

	implicit, err := f.planner.Plan(ctx, &Request{
		Endpoint: htsget.Reads,
		ID:       "sample",
		Regions:  []htsget.Region{{ReferenceName: "chr1"}},
	})
	require.NoError(t, err)

	assert.Equal(t, explicit, implicit)
}

func TestPlanHeaderOnly(t *testing.T) {
	f := buildFixture(t)

	ticket, err := f.planner.Plan(context.Background(), &Request{
		Endpoint: htsget.Reads,
		ID:       "sample",
		Class:    htsget.ClassHeader,
	})
	require.NoError(t, err)

	require.Len(t, ticket.URLs, 1)
	assert.Equal(t, fmt.Sprintf("bytes=0-%d", f.headerSize-1), f.rangeOf(ticket.URLs[0]))
	assert.Equal(t, htsget.ClassHeader, ticket.URLs[0].Class)
}

func TestPlanRegionBeyondReference(t *testing.T) {
	f := buildFixture(t)

	ticket, err := f.planner.Plan(context.Background(), &Request{
		Endpoint: htsget.Reads,
		ID:       "sample",
		Regions:  []htsget.Region{{ReferenceName: "chr1", Start: u64(5000000)}},
	})
	require.NoError(t, err)

	// Only the header and EOF marker remain.
	require.Len(t, ticket.URLs, 2)
	assert.Equal(t, fmt.Sprintf("bytes=0-%d", f.headerSize-1), f.rangeOf(ticket.URLs[0]))
	assert.Equal(t, fmt.Sprintf("bytes=%d-%d", f.length-28, f.length-1), f.rangeOf(ticket.URLs[1]))
}

func TestPlanErrors(t *testing.T) {
	f := buildFixture(t)
	ctx := context.Background()

	testCases := []struct {
		name     string
		request  *Request
		code     string
		status   int
		contains string
	}{
		{
			"unknown reference",
			&Request{Endpoint: htsget.Reads, ID: "sample", Regions: []htsget.Region{{ReferenceName: "chrZ"}}},
			"InvalidInput", 400, "unknown reference: chrZ",
		},
		{
			"start after end",
			&Request{Endpoint: htsget.Reads, ID: "sample", Regions: []htsget.Region{
				{ReferenceName: "chr1", Start: u64(100), End: u64(10)},
			}},
			"InvalidRange", 400, "start > end",
		},
		{
			"missing file",
			&Request{Endpoint: htsget.Variants, ID: "absent"},
			"NotFound", 404, "not found: absent",
		},
		{
			"format endpoint mismatch",
			&Request{Endpoint: htsget.Reads, ID: "sample", Format: "VCF"},
			"UnsupportedFormat", 400, "",
		},
		{
			"unknown class",
			&Request{Endpoint: htsget.Reads, ID: "sample", Class: "banana"},
			"InvalidInput", 400, "unknown class",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.planner.Plan(ctx, tc.request)
			require.Error(t, err)
			typed := htsget.AsError(err)
			assert.Equal(t, tc.code, typed.Code)
			assert.Equal(t, tc.status, typed.Status)
			if tc.contains != "" {
				assert.Contains(t, typed.Message, tc.contains)
			}
		})
	}
}

func TestPlanMissingIndex(t *testing.T) {
	f := buildFixture(t)
	ctx := context.Background()

	// Drop the index out from under the fixture.
	dir := t.TempDir()
	data, err := storage.ReadRange(ctx, f.backend, "sample.bam", 0, f.length-1)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.bam"), data, 0644))
	backend, err := storage.NewLocal(dir, "http://localhost:3000")
	require.NoError(t, err)
	planner := New(backend)

	// A region request needs the index.
	_, err = planner.Plan(ctx, &Request{
		Endpoint: htsget.Reads,
		ID:       "sample",
		Regions:  []htsget.Region{{ReferenceName: "chr1"}},
	})
	require.Error(t, err)
	assert.Equal(t, "InvalidRange", htsget.AsError(err).Code)

	// A whole file request does not.
	ticket, err := planner.Plan(ctx, &Request{Endpoint: htsget.Reads, ID: "sample"})
	require.NoError(t, err)
	require.Len(t, ticket.URLs, 1)
}

func TestPlanIdempotent(t *testing.T) {
	f := buildFixture(t)
	ctx := context.Background()

	request := &Request{
		Endpoint: htsget.Reads,
		ID:       "sample",
		Regions:  []htsget.Region{{ReferenceName: "chr1", Start: u64(100), End: u64(200)}},
	}
	first, err := f.planner.Plan(ctx, request)
	require.NoError(t, err)
	second, err := f.planner.Plan(ctx, request)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
