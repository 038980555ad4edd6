package cram

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// Index holds the data from a CRAM index file (.crai).
type Index struct {
	entries []indexEntry
	// containers maps the file offset of each container to its end.
	containers map[uint64]uint64
}

type indexEntry struct {
	SequenceID      int32
	AlignmentStart  uint64
	AlignmentLength uint64
	ContainerStart  uint64
}

// ReadIndex parses a CRAM index file.
func ReadIndex(r io.Reader) (*Index, error) {
	r, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("ungzipping index: %v", err)
	}

	var index Index
	var containers []uint64
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) != 6 {
			return nil, fmt.Errorf("wrong number of columns.  Got: %d, want: 6", len(fields))
		}

		var ie indexEntry
		s, err := strconv.ParseInt(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parsing sequence ID: %v", err)
		}
		ie.SequenceID = int32(s)

		ie.AlignmentStart, err = strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing alignment start: %v", err)
		}

		ie.AlignmentLength, err = strconv.ParseUint(fields[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing alignment length: %v", err)
		}

		ie.ContainerStart, err = strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing container start: %v", err)
		}

		index.entries = append(index.entries, ie)
		containers = append(containers, ie.ContainerStart)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning index: %v", err)
	}

	index.containers = make(map[uint64]uint64)
	var prev uint64
	for _, c := range containers {
		index.containers[prev] = c
		prev = c
	}
	index.containers[prev] = math.MaxUint64

	return &index, nil
}

// HeaderChunk returns the chunk covering everything before the first indexed
// container, which is where the CRAM file definition and SAM header live.
func (index *Index) HeaderChunk() Chunk {
	return Chunk{0, index.containers[0]}
}

// ChunksForRange returns the container chunks that may hold alignments
// overlapping the zero-based half-open interval [beg, end) on the reference
// with the given ID.  A zero end means the end of the reference.
func (index *Index) ChunksForRange(refID int32, beg, end uint64) []Chunk {
	if end == 0 {
		end = math.MaxUint64
	}

	var chunks []Chunk
	for _, ie := range index.entries {
		if refID != ie.SequenceID {
			continue
		}
		// .crai alignment starts are one-based.
		start := ie.AlignmentStart
		if start > 0 {
			start--
		}
		if end <= start || beg >= start+ie.AlignmentLength {
			continue
		}

		chunks = append(chunks, Chunk{ie.ContainerStart, index.containers[ie.ContainerStart]})
	}
	return chunks
}
