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
	"sort"

	"github.com/googlegenomics/htsget-server/internal/bgzf"
	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// bgzfEOFSize is the length of the canonical BGZF end-of-file marker.
const bgzfEOFSize = 28

// calculateRanges translates merged BGZF chunks into the ordered byte ranges
// of a ticket body: header bytes, per-chunk block ranges and the EOF marker.
//
// headerEnd is the byte offset of the first block holding record data
// (everything before it is header).  length is the total file size and
// eofSize the size of the format's end-of-file marker.
//
// A chunk whose end address has a zero data offset stops at its block
// boundary.  Otherwise the end of the block holding the final record is
// unknown without decompressing, so the range is extended to the next
// chunk's begin or to the end of the record data, both of which are block
// aligned.
func calculateRanges(chunks []bgzf.Chunk, headerEnd, length, eofSize uint64) []htsget.ByteRange {
	dataEnd := length - eofSize - 1
	var body []htsget.ByteRange
	for i, chunk := range chunks {
		begin := chunk.Start.BlockOffset()
		var end uint64
		switch {
		case chunk.End.DataOffset() == 0 && chunk.End.BlockOffset() > 0:
			end = chunk.End.BlockOffset() - 1
		case i+1 < len(chunks):
			end = chunks[i+1].Start.BlockOffset() - 1
		default:
			end = dataEnd
		}
		if begin < headerEnd {
			begin = headerEnd
		}
		if end > dataEnd {
			end = dataEnd
		}
		if begin > end {
			continue
		}
		body = append(body, htsget.ByteRange{Begin: begin, End: end})
	}

	// The header and EOF marker stay distinct entries so that the ticket
	// can label them; body ranges merge among themselves.
	var ranges []htsget.ByteRange
	if headerEnd > 0 {
		ranges = append(ranges, htsget.ByteRange{Begin: 0, End: headerEnd - 1})
	}
	ranges = append(ranges, mergeRanges(body)...)
	ranges = append(ranges, htsget.ByteRange{Begin: length - eofSize, End: length - 1})
	return ranges
}

// mergeRanges sorts byte ranges by begin and coalesces ranges that touch or
// overlap.  The result is sorted with strictly disjoint entries.
func mergeRanges(ranges []htsget.ByteRange) []htsget.ByteRange {
	if len(ranges) == 0 {
		return nil
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Begin < ranges[j].Begin
	})

	merged := []htsget.ByteRange{ranges[0]}
	output := &merged[0]
	for _, r := range ranges[1:] {
		if r.Begin <= output.End+1 {
			if r.End > output.End {
				output.End = r.End
			}
		} else {
			merged = append(merged, r)
			output = &merged[len(merged)-1]
		}
	}
	return merged
}

// clipRanges bounds every range to [0, length-1], dropping ranges that start
// past the end of the file.
func clipRanges(ranges []htsget.ByteRange, length uint64) []htsget.ByteRange {
	var clipped []htsget.ByteRange
	for _, r := range ranges {
		if r.Begin >= length {
			continue
		}
		if r.End > length-1 {
			r.End = length - 1
		}
		clipped = append(clipped, r)
	}
	return clipped
}
