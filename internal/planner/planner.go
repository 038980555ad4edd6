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

// Package planner turns htsget requests into tickets: ordered byte range
// URLs that concatenate to a complete file in the requested format.
package planner

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/googlegenomics/htsget-server/internal/bgzf"
	"github.com/googlegenomics/htsget-server/internal/cram"
	"github.com/googlegenomics/htsget-server/internal/htsget"
	"github.com/googlegenomics/htsget-server/internal/index"
	"github.com/googlegenomics/htsget-server/internal/storage"
)

// Request is a fully deserialized ticket request.
type Request struct {
	Endpoint htsget.Endpoint
	ID       string
	// Format is the raw requested format; empty means the endpoint default.
	Format string
	// Class is empty for full requests or "header".
	Class   string
	Regions []htsget.Region
}

// Planner computes tickets against a storage backend.  It is safe for
// concurrent use.
type Planner struct {
	backend storage.Backend
	cache   *indexCache
}

// New returns a Planner reading from backend.
func New(backend storage.Backend) *Planner {
	return &Planner{backend: backend, cache: newIndexCache()}
}

// Plan resolves, validates and computes the ticket for req.  Failures are
// typed htsget errors.
func (p *Planner) Plan(ctx context.Context, req *Request) (*htsget.Ticket, error) {
	if req.Class != "" && req.Class != htsget.ClassHeader {
		return nil, htsget.InvalidInputError("unknown class %q", req.Class)
	}

	resolution, err := Resolve(ctx, p.backend, req.Endpoint, req.ID, req.Format)
	if err != nil {
		return nil, err
	}

	info, err := p.backend.Stat(ctx, resolution.DataKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, htsget.NotFoundError("not found: %s", req.ID)
		}
		return nil, htsget.IOError("probing data object", err)
	}
	length := info.Size

	headerOnly := req.Class == htsget.ClassHeader
	if (headerOnly || len(req.Regions) > 0) && !resolution.Format.Indexable() {
		return nil, htsget.InvalidInputError("format %s supports whole file requests only", resolution.Format)
	}
	if (headerOnly || len(req.Regions) > 0) && resolution.IndexKey == "" {
		return nil, htsget.InvalidRangeError("no index available for %s", req.ID)
	}

	var ranges []htsget.ByteRange
	var headerSize uint64
	switch {
	case !headerOnly && len(req.Regions) == 0:
		// Whole file, no decoration needed.
		ranges = []htsget.ByteRange{{Begin: 0, End: length - 1}}
	case resolution.Format == htsget.CRAM:
		ranges, headerSize, err = p.planCRAM(ctx, req, resolution, length, headerOnly)
	default:
		ranges, headerSize, err = p.planBGZF(ctx, req, resolution, length, headerOnly)
	}
	if err != nil {
		return nil, err
	}

	ticket := &htsget.Ticket{Format: resolution.Format}
	for i := range ranges {
		class := htsget.ClassBody
		if headerSize > 0 && ranges[i].End < headerSize {
			class = htsget.ClassHeader
		}
		url, err := p.backend.Materialize(ctx, resolution.DataKey, &ranges[i], class)
		if err != nil {
			return nil, htsget.IOError("materializing URL", err)
		}
		ticket.URLs = append(ticket.URLs, url)
	}

	logrus.WithFields(logrus.Fields{
		"id":     req.ID,
		"format": resolution.Format,
		"urls":   len(ticket.URLs),
	}).Debug("planned ticket")
	return ticket, nil
}

// planBGZF computes ranges for the BGZF container formats (BAM, VCF, BCF).
func (p *Planner) planBGZF(ctx context.Context, req *Request, resolution *Resolution, length uint64, headerOnly bool) ([]htsget.ByteRange, uint64, error) {
	idx, err := p.loadIndex(ctx, resolution)
	if err != nil {
		return nil, 0, err
	}

	// The header spans everything before the first block holding records.
	// An index with no chunks at all means the whole file is header.
	headerSize := length
	if length > bgzfEOFSize {
		headerSize = length - bgzfEOFSize
	}
	if end, ok := idx.HeaderEnd(); ok && end.BlockOffset() > 0 {
		headerSize = end.BlockOffset()
	}

	if headerOnly {
		return []htsget.ByteRange{{Begin: 0, End: headerSize - 1}}, headerSize, nil
	}

	references, err := References(ctx, p.backend, resolution)
	if err != nil {
		return nil, 0, err
	}

	var chunks []bgzf.Chunk
	for _, region := range req.Regions {
		refID, beg, end, err := resolveRegion(region, references, idx.Tabix)
		if err != nil {
			return nil, 0, err
		}
		if refID < 0 {
			continue
		}
		chunks = append(chunks, idx.Query(refID, beg, end)...)
	}

	ranges := calculateRanges(bgzf.Merge(chunks), headerSize, length, bgzfEOFSize)
	return clipRanges(ranges, length), headerSize, nil
}

// planCRAM computes container ranges for CRAM files using the .crai index.
func (p *Planner) planCRAM(ctx context.Context, req *Request, resolution *Resolution, length uint64, headerOnly bool) ([]htsget.ByteRange, uint64, error) {
	idx, err := p.loadCRAMIndex(ctx, resolution)
	if err != nil {
		return nil, 0, err
	}

	headerSize := idx.HeaderChunk().End
	if headerSize == 0 || headerSize > length {
		headerSize = length
	}

	if headerOnly {
		return []htsget.ByteRange{{Begin: 0, End: headerSize - 1}}, headerSize, nil
	}

	references, err := References(ctx, p.backend, resolution)
	if err != nil {
		return nil, 0, err
	}

	var chunks []cram.Chunk
	for _, region := range req.Regions {
		refID, beg, end, err := resolveRegion(region, references, nil)
		if err != nil {
			return nil, 0, err
		}
		if refID < 0 {
			continue
		}
		chunks = append(chunks, idx.ChunksForRange(int32(refID), beg, end)...)
	}

	dataEnd := length - cram.EOFContainerSize - 1
	var body []htsget.ByteRange
	for _, chunk := range cram.SortAndMerge(chunks) {
		begin, end := chunk.Start, chunk.End-1
		if begin < headerSize {
			begin = headerSize
		}
		if end > dataEnd {
			end = dataEnd
		}
		if begin > end {
			continue
		}
		body = append(body, htsget.ByteRange{Begin: begin, End: end})
	}

	ranges := []htsget.ByteRange{{Begin: 0, End: headerSize - 1}}
	ranges = append(ranges, mergeRanges(body)...)
	ranges = append(ranges, htsget.ByteRange{Begin: length - cram.EOFContainerSize, End: length - 1})
	return clipRanges(ranges, length), headerSize, nil
}

// resolveRegion validates a region against the reference dictionary and
// returns the reference ID to query along with the interval bounds.  A
// negative reference ID means the region cannot match any data (for example
// a start beyond the end of the reference) without being an error.
func resolveRegion(region htsget.Region, references []htsget.Reference, tabix *index.Tabix) (int, uint64, uint64, error) {
	if region.ReferenceName == "" {
		return 0, 0, 0, htsget.InvalidInputError("no reference name specified")
	}

	var beg, end uint64
	if region.Start != nil {
		beg = *region.Start
	}
	if region.End != nil {
		end = *region.End
		if beg > end {
			return 0, 0, 0, htsget.InvalidRangeError("%s: start > end", region)
		}
	}

	dictionary := -1
	var reference *htsget.Reference
	for i := range references {
		if references[i].Name == region.ReferenceName {
			dictionary, reference = i, &references[i]
			break
		}
	}

	// Tabix style indices number references by their own name dictionary,
	// which may cover fewer names than the file header.
	refID := dictionary
	if tabix != nil && len(tabix.Names) > 0 {
		refID = -1
		for i, name := range tabix.Names {
			if name == region.ReferenceName {
				refID = i
				break
			}
		}
		if refID < 0 && dictionary >= 0 {
			// Known reference with no indexed records.
			return -1, 0, 0, nil
		}
	}
	if refID < 0 {
		return 0, 0, 0, htsget.InvalidInputError("unknown reference: %s", region.ReferenceName)
	}

	if reference != nil && reference.Length > 0 {
		if beg >= reference.Length {
			return -1, 0, 0, nil
		}
		if end == 0 || end > reference.Length {
			end = reference.Length
		}
	}
	return refID, beg, end, nil
}

// loadIndex reads and parses the BAI, TBI or CSI index named by the
// resolution, memoizing the parsed structure by object version.
func (p *Planner) loadIndex(ctx context.Context, resolution *Resolution) (*index.Index, error) {
	cached, key, err := p.cachedIndex(ctx, resolution)
	if err != nil {
		return nil, err
	}
	if idx, ok := cached.(*index.Index); ok {
		return idx, nil
	}

	r, err := p.backend.Reader(ctx, resolution.IndexKey, 0, storage.WholeObject)
	if err != nil {
		return nil, htsget.IOError("reading index", err)
	}
	defer r.Close()

	var idx *index.Index
	switch resolution.IndexKind {
	case index.BAI:
		idx, err = index.ReadBAI(r)
	case index.TBI:
		idx, err = index.ReadTBI(r)
	case index.CSI:
		idx, err = index.ReadCSI(r)
	default:
		return nil, htsget.InternalError("loading index", fmt.Errorf("unhandled index kind %v", resolution.IndexKind))
	}
	if err != nil {
		return nil, htsget.IndexCorruptError("parsing %s index: %v", resolution.IndexKind, err)
	}

	p.cache.add(key, idx)
	return idx, nil
}

// loadCRAMIndex reads and parses a .crai index, memoizing the parsed
// structure by object version.
func (p *Planner) loadCRAMIndex(ctx context.Context, resolution *Resolution) (*cram.Index, error) {
	cached, key, err := p.cachedIndex(ctx, resolution)
	if err != nil {
		return nil, err
	}
	if idx, ok := cached.(*cram.Index); ok {
		return idx, nil
	}

	r, err := p.backend.Reader(ctx, resolution.IndexKey, 0, storage.WholeObject)
	if err != nil {
		return nil, htsget.IOError("reading index", err)
	}
	defer r.Close()

	idx, err := cram.ReadIndex(r)
	if err != nil {
		return nil, htsget.IndexCorruptError("parsing CRAM index: %v", err)
	}

	p.cache.add(key, idx)
	return idx, nil
}

func (p *Planner) cachedIndex(ctx context.Context, resolution *Resolution) (interface{}, string, error) {
	info, err := p.backend.Stat(ctx, resolution.IndexKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", htsget.InvalidRangeError("no index available for %s", resolution.DataKey)
		}
		return nil, "", htsget.IOError("probing index object", err)
	}

	key := cacheKey(p.backend.Kind(), resolution.IndexKey, info.Version)
	cached, _ := p.cache.get(key)
	return cached, key, nil
}
