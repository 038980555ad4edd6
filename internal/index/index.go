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

// Package index parses BAI, TBI and CSI index data into a unified in-memory
// structure and answers genomic interval queries with BGZF chunks.
//
// The formats are specified by the SAM specification (sections 5.1 and 5.2),
// the tabix paper and the CSIv1 document.  All three share the same
// hierarchical binning scheme; BAI and TBI fix the scheme at
// min_shift=14, depth=5 while CSI carries both values in its header.
package index

import (
	"compress/gzip"
	"fmt"
	"io"

	"github.com/googlegenomics/htsget-server/internal/bgzf"
	"github.com/googlegenomics/htsget-server/internal/binary"
)

const (
	baiMagic = "BAI\x01"
	tbiMagic = "TBI\x01"
	csiMagic = "CSI\x01"

	// Scheme constants shared by BAI and TBI.
	canonicalMinShift = 14
	canonicalDepth    = 5

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.  No reference name should be longer than this in practice.
	maximumNameLength = 1024
)

// Kind identifies the on-disk format an Index was parsed from.
type Kind int

const (
	BAI Kind = iota
	TBI
	CSI
)

func (k Kind) String() string {
	switch k {
	case BAI:
		return "BAI"
	case TBI:
		return "TBI"
	case CSI:
		return "CSI"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Tabix holds the TBI preamble: the column configuration and the reference
// name dictionary.
type Tabix struct {
	Format      int32
	NameColumn  int32
	BeginColumn int32
	EndColumn   int32
	Meta        int32
	Skip        int32
	Names       []string
}

// Bin is a single bin of the hierarchical index.  Offset is only populated
// for CSI indices (the per-bin loffset); BAI and TBI carry a separate linear
// index instead.
type Bin struct {
	ID     uint32
	Offset bgzf.Address
	Chunks []bgzf.Chunk
}

// Reference holds the bins and (for BAI and TBI) the linear index of one
// reference sequence.  Bin order from the file is preserved so that an index
// can be re-encoded byte for byte.
type Reference struct {
	Bins      []Bin
	Intervals []bgzf.Address
}

// Index is the unified in-memory form of a BAI, TBI or CSI index.
type Index struct {
	Kind     Kind
	MinShift int32
	Depth    int32
	// Tabix is set for TBI indices, and for CSI indices whose auxiliary
	// data carries the tabix column configuration (VCF and BCF).
	Tabix *Tabix
	// Aux preserves the raw CSI auxiliary payload for re-encoding.
	Aux  []byte
	Refs []Reference
	// Unplaced is the optional trailing count of unplaced records.
	Unplaced *uint64
}

// ReadBAI parses an uncompressed BAI stream.
func ReadBAI(r io.Reader) (*Index, error) {
	if err := binary.ExpectBytes(r, []byte(baiMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}
	idx := &Index{Kind: BAI, MinShift: canonicalMinShift, Depth: canonicalDepth}
	if err := readReferences(r, idx); err != nil {
		return nil, err
	}
	readUnplaced(r, idx)
	return idx, nil
}

// ReadTBI parses a BGZF compressed TBI stream.
func ReadTBI(r io.Reader) (*Index, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("initializing gzip reader: %v", err)
	}
	defer gzr.Close()

	if err := binary.ExpectBytes(gzr, []byte(tbiMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}

	var references int32
	if err := binary.Read(gzr, &references); err != nil {
		return nil, fmt.Errorf("reading reference count: %v", err)
	}
	if references < 0 {
		return nil, fmt.Errorf("invalid reference count (%d references)", references)
	}

	tabix, err := readTabixConfig(gzr)
	if err != nil {
		return nil, err
	}

	idx := &Index{Kind: TBI, MinShift: canonicalMinShift, Depth: canonicalDepth, Tabix: tabix}
	if err := readReferenceBodies(gzr, idx, int(references)); err != nil {
		return nil, err
	}
	readUnplaced(gzr, idx)
	return idx, nil
}

// ReadCSI parses a BGZF compressed CSI stream.
func ReadCSI(r io.Reader) (*Index, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("initializing gzip reader: %v", err)
	}
	defer gzr.Close()

	if err := binary.ExpectBytes(gzr, []byte(csiMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}

	var header struct {
		MinShift  int32
		Depth     int32
		AuxLength int32
	}
	if err := binary.Read(gzr, &header); err != nil {
		return nil, fmt.Errorf("reading header: %v", err)
	}
	if header.MinShift < 0 || header.Depth < 0 || header.MinShift+3*header.Depth > 63 {
		return nil, fmt.Errorf("invalid binning scheme (min_shift=%d, depth=%d)", header.MinShift, header.Depth)
	}
	if header.AuxLength < 0 {
		return nil, fmt.Errorf("invalid auxiliary length (%d bytes)", header.AuxLength)
	}

	aux := make([]byte, header.AuxLength)
	if _, err := io.ReadFull(gzr, aux); err != nil {
		return nil, fmt.Errorf("reading auxiliary data: %v", err)
	}

	idx := &Index{Kind: CSI, MinShift: header.MinShift, Depth: header.Depth, Aux: aux}
	idx.Tabix = parseAuxTabix(aux)

	if err := readReferences(gzr, idx); err != nil {
		return nil, err
	}
	readUnplaced(gzr, idx)
	return idx, nil
}

func readReferences(r io.Reader, idx *Index) error {
	var references int32
	if err := binary.Read(r, &references); err != nil {
		return fmt.Errorf("reading reference count: %v", err)
	}
	if references < 0 {
		return fmt.Errorf("invalid reference count (%d references)", references)
	}
	return readReferenceBodies(r, idx, int(references))
}

func readReferenceBodies(r io.Reader, idx *Index, references int) error {
	for i := 0; i < references; i++ {
		var ref Reference

		var binCount int32
		if err := binary.Read(r, &binCount); err != nil {
			return fmt.Errorf("reading bin count: %v", err)
		}
		if binCount < 0 {
			return fmt.Errorf("invalid bin count (%d bins)", binCount)
		}
		for j := int32(0); j < binCount; j++ {
			var bin Bin
			if err := binary.Read(r, &bin.ID); err != nil {
				return fmt.Errorf("reading bin ID: %v", err)
			}
			if idx.Kind == CSI {
				if err := binary.Read(r, &bin.Offset); err != nil {
					return fmt.Errorf("reading bin offset: %v", err)
				}
			}
			var chunkCount int32
			if err := binary.Read(r, &chunkCount); err != nil {
				return fmt.Errorf("reading chunk count: %v", err)
			}
			if chunkCount < 0 {
				return fmt.Errorf("invalid chunk count (%d chunks)", chunkCount)
			}
			bin.Chunks = make([]bgzf.Chunk, chunkCount)
			if err := binary.Read(r, &bin.Chunks); err != nil {
				return fmt.Errorf("reading chunks: %v", err)
			}
			ref.Bins = append(ref.Bins, bin)
		}

		if idx.Kind != CSI {
			var intervals int32
			if err := binary.Read(r, &intervals); err != nil {
				return fmt.Errorf("reading interval count: %v", err)
			}
			if intervals < 0 {
				return fmt.Errorf("invalid interval count (%d intervals)", intervals)
			}
			ref.Intervals = make([]bgzf.Address, intervals)
			if err := binary.Read(r, &ref.Intervals); err != nil {
				return fmt.Errorf("reading intervals: %v", err)
			}
		}

		idx.Refs = append(idx.Refs, ref)
	}
	return nil
}

func readTabixConfig(r io.Reader) (*Tabix, error) {
	var config struct {
		Format      int32
		NameColumn  int32
		BeginColumn int32
		EndColumn   int32
		Meta        int32
		Skip        int32
		NameLength  int32
	}
	if err := binary.Read(r, &config); err != nil {
		return nil, fmt.Errorf("reading tabix configuration: %v", err)
	}
	if config.NameLength < 0 {
		return nil, fmt.Errorf("invalid name dictionary length (%d bytes)", config.NameLength)
	}

	blob := make([]byte, config.NameLength)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, fmt.Errorf("reading name dictionary: %v", err)
	}
	names, err := splitNames(blob)
	if err != nil {
		return nil, err
	}

	return &Tabix{
		Format:      config.Format,
		NameColumn:  config.NameColumn,
		BeginColumn: config.BeginColumn,
		EndColumn:   config.EndColumn,
		Meta:        config.Meta,
		Skip:        config.Skip,
		Names:       names,
	}, nil
}

// parseAuxTabix extracts the tabix column configuration that VCF and BCF
// writers mirror into the CSI auxiliary field.  Unknown payloads are ignored.
func parseAuxTabix(aux []byte) *Tabix {
	if len(aux) < 28 {
		return nil
	}
	le := func(i int) int32 {
		return int32(uint32(aux[i]) | uint32(aux[i+1])<<8 | uint32(aux[i+2])<<16 | uint32(aux[i+3])<<24)
	}
	nameLength := le(24)
	if nameLength < 0 || int(nameLength) != len(aux)-28 {
		return nil
	}
	names, err := splitNames(aux[28:])
	if err != nil {
		return nil
	}
	return &Tabix{
		Format:      le(0),
		NameColumn:  le(4),
		BeginColumn: le(8),
		EndColumn:   le(12),
		Meta:        le(16),
		Skip:        le(20),
		Names:       names,
	}
}

func splitNames(blob []byte) ([]string, error) {
	var names []string
	for start := 0; start < len(blob); {
		end := start
		for end < len(blob) && blob[end] != 0 {
			end++
		}
		if end == len(blob) {
			return nil, fmt.Errorf("unterminated reference name at offset %d", start)
		}
		if end-start > maximumNameLength {
			return nil, fmt.Errorf("invalid name length (%d bytes)", end-start)
		}
		names = append(names, string(blob[start:end]))
		start = end + 1
	}
	return names, nil
}

// readUnplaced consumes the optional trailing unplaced record count.  The
// field is absent from many writers so a short read here is not an error.
func readUnplaced(r io.Reader, idx *Index) {
	var count uint64
	if err := binary.Read(r, &count); err == nil {
		idx.Unplaced = &count
	}
}

// MetadataBinID returns the pseudo-bin number used to store chunk metadata
// for the index's binning scheme (37450 for BAI and TBI).
func (idx *Index) MetadataBinID() uint32 {
	return maximumBinID(idx.MinShift, idx.Depth) + 1
}

// MaximumPosition returns one past the largest position addressable by the
// index's binning scheme.
func (idx *Index) MaximumPosition() uint64 {
	return 1 << uint(idx.MinShift+3*idx.Depth)
}

// NumReferences returns the number of reference sequences in the index.
func (idx *Index) NumReferences() int {
	return len(idx.Refs)
}

// Query returns the merged, sorted chunks that may contain records
// overlapping the zero-based half-open interval [beg, end) on the reference
// with the given ID.  An unknown reference ID yields an empty result.
func (idx *Index) Query(refID int, beg, end uint64) []bgzf.Chunk {
	if refID < 0 || refID >= len(idx.Refs) {
		return nil
	}
	ref := idx.Refs[refID]

	if end == 0 || end > idx.MaximumPosition() {
		end = idx.MaximumPosition()
	}
	if beg >= end {
		return nil
	}

	wanted := make(map[uint32]bool)
	for _, id := range binsForRange(beg, end, idx.MinShift, idx.Depth) {
		wanted[id] = true
	}

	// The linear index lower-bounds the virtual offset of any record
	// overlapping the interval's first tile (BAI and TBI only; CSI encodes
	// the equivalent bound per bin as loffset).
	var minOffset bgzf.Address
	if tile := int(beg >> uint(idx.MinShift)); tile < len(ref.Intervals) {
		minOffset = ref.Intervals[tile]
	}

	metadataID := idx.MetadataBinID()
	var candidates []bgzf.Chunk
	for _, bin := range ref.Bins {
		if bin.ID == metadataID || !wanted[bin.ID] {
			continue
		}
		for _, chunk := range bin.Chunks {
			if chunk.End <= minOffset {
				continue
			}
			if idx.Kind == CSI && chunk.End < bin.Offset {
				continue
			}
			candidates = append(candidates, chunk)
		}
	}
	return bgzf.Merge(candidates)
}

// HeaderEnd returns the smallest chunk start address across the whole index,
// which bounds the end of the indexed file's header block.  The second
// return value is false when the index contains no chunks at all.
func (idx *Index) HeaderEnd() (bgzf.Address, bool) {
	min, found := bgzf.LastAddress, false
	for _, ref := range idx.Refs {
		for _, bin := range ref.Bins {
			if bin.ID == idx.MetadataBinID() {
				continue
			}
			for _, chunk := range bin.Chunks {
				if chunk.Start < min {
					min, found = chunk.Start, true
				}
			}
		}
	}
	return min, found
}

// This function is derived from the C examples in the CSI index
// specification.
func binsForRange(start, end uint64, minShift, depth int32) []uint32 {
	maxPos := uint64(1) << uint(minShift+3*depth)
	if end == 0 || end > maxPos {
		end = maxPos
	}
	if end <= start || start >= maxPos {
		return nil
	}

	end--
	var bins []uint32
	for l, t, s := int32(0), uint64(0), uint(minShift+depth*3); l <= depth; l++ {
		b := t + start>>s
		e := t + end>>s
		for i := b; i <= e; i++ {
			bins = append(bins, uint32(i))
		}
		s -= 3
		t += 1 << uint(l*3)
	}
	return bins
}

func maximumBinID(minShift, depth int32) uint32 {
	return uint32((1<<uint(3*(depth+1)) - 1) / 7)
}
