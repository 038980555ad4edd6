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

package index

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/googlegenomics/htsget-server/internal/bgzf"
)

func chunk(startBlock, endBlock uint64) bgzf.Chunk {
	return bgzf.Chunk{Start: bgzf.NewAddress(startBlock, 0), End: bgzf.NewAddress(endBlock, 0)}
}

func testBAI() *Index {
	unplaced := uint64(7)
	return &Index{
		Kind:     BAI,
		MinShift: 14,
		Depth:    5,
		Refs: []Reference{
			{
				Bins: []Bin{
					{ID: 585, Chunks: []bgzf.Chunk{chunk(100, 500)}},
					{ID: 4685, Chunks: []bgzf.Chunk{chunk(2000, 2400)}},
					{ID: 37450, Chunks: []bgzf.Chunk{chunk(0, 0), chunk(0, 0)}},
				},
				Intervals: []bgzf.Address{
					bgzf.NewAddress(100, 0),
					bgzf.NewAddress(500, 0),
					bgzf.NewAddress(500, 0),
					bgzf.NewAddress(500, 0),
					bgzf.NewAddress(2000, 0),
				},
			},
			{
				Bins: []Bin{
					{ID: 4681, Chunks: []bgzf.Chunk{chunk(3000, 3200)}},
				},
				Intervals: []bgzf.Address{bgzf.NewAddress(3000, 0)},
			},
		},
		Unplaced: &unplaced,
	}
}

func TestBAIRoundTrip(t *testing.T) {
	var first bytes.Buffer
	if err := Encode(&first, testBAI()); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	parsed, err := ReadBAI(bytes.NewReader(first.Bytes()))
	if err != nil {
		t.Fatalf("ReadBAI() failed: %v", err)
	}

	var second bytes.Buffer
	if err := Encode(&second, parsed); err != nil {
		t.Fatalf("Encode() of parsed index failed: %v", err)
	}
	if !bytes.Equal(first.Bytes(), second.Bytes()) {
		t.Fatalf("Round trip produced different bytes: got %d bytes, want %d bytes", second.Len(), first.Len())
	}
}

func TestReadBAI_Errors(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"wrong magic", []byte("CSI\x01")},
		{"truncated reference count", []byte("BAI\x01\x02\x00")},
		{"truncated bins", []byte("BAI\x01\x01\x00\x00\x00\x05\x00\x00\x00")},
		{"negative bin count", []byte("BAI\x01\x01\x00\x00\x00\xff\xff\xff\xff")},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ReadBAI(bytes.NewReader(tc.data)); err == nil {
				t.Fatal("ReadBAI(): expected error, not success")
			}
		})
	}
}

func TestQuery(t *testing.T) {
	idx := testBAI()
	testCases := []struct {
		name     string
		refID    int
		beg, end uint64
		want     []bgzf.Chunk
	}{
		{
			"first tile",
			0, 0, 1000,
			[]bgzf.Chunk{chunk(100, 500)},
		},
		{
			"whole reference",
			0, 0, 0,
			[]bgzf.Chunk{chunk(100, 500), chunk(2000, 2400)},
		},
		{
			// Bin 585 spans tiles 0-7 and is selected, but tile 4
			// lower-bounds the query at address 2000<<16, which prunes
			// the first bin's chunk.
			"linear index pruning",
			0, 70000, 80000,
			[]bgzf.Chunk{chunk(2000, 2400)},
		},
		{
			"second reference",
			1, 0, 100,
			[]bgzf.Chunk{chunk(3000, 3200)},
		},
		{
			"unknown reference",
			9, 0, 100,
			nil,
		},
		{
			"empty interval",
			0, 1000, 1000,
			nil,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := idx.Query(tc.refID, tc.beg, tc.end)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Wrong chunks: got %v, want %v", got, tc.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i].Start <= got[i-1].End {
					t.Errorf("Chunks %d and %d overlap", i-1, i)
				}
			}
		})
	}
}

func TestQuery_MetadataBinIgnored(t *testing.T) {
	for _, chunks := range testBAI().Query(0, 0, 0) {
		if chunks.Start == 0 && chunks.End == 0 {
			t.Fatal("Query returned chunks from the metadata pseudo-bin")
		}
	}
}

func compress(t *testing.T, payload []byte) []byte {
	t.Helper()
	block, err := bgzf.EncodeBlock(payload)
	if err != nil {
		t.Fatalf("EncodeBlock() failed: %v", err)
	}
	return append(block, bgzf.EOFMarker...)
}

func TestTBIRoundTrip(t *testing.T) {
	idx := &Index{
		Kind:     TBI,
		MinShift: 14,
		Depth:    5,
		Tabix: &Tabix{
			Format:      2,
			NameColumn:  1,
			BeginColumn: 2,
			EndColumn:   0,
			Meta:        '#',
			Skip:        0,
			Names:       []string{"chr1", "chr2"},
		},
		Refs: []Reference{
			{
				Bins:      []Bin{{ID: 4681, Chunks: []bgzf.Chunk{chunk(64, 128)}}},
				Intervals: []bgzf.Address{bgzf.NewAddress(64, 0)},
			},
			{},
		},
	}

	var payload bytes.Buffer
	if err := Encode(&payload, idx); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	parsed, err := ReadTBI(bytes.NewReader(compress(t, payload.Bytes())))
	if err != nil {
		t.Fatalf("ReadTBI() failed: %v", err)
	}
	if got, want := parsed.Tabix.Names, idx.Tabix.Names; !reflect.DeepEqual(got, want) {
		t.Fatalf("Wrong names: got %v, want %v", got, want)
	}

	var again bytes.Buffer
	if err := Encode(&again, parsed); err != nil {
		t.Fatalf("Encode() of parsed index failed: %v", err)
	}
	if !bytes.Equal(payload.Bytes(), again.Bytes()) {
		t.Fatal("Round trip produced different payload bytes")
	}
}

func TestCSIRoundTripAndQuery(t *testing.T) {
	// The auxiliary payload mirrors a tabix configuration for one name.
	var aux bytes.Buffer
	for _, v := range []int32{2, 1, 2, 0, '#', 0, 5} {
		aux.Write([]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)})
	}
	aux.WriteString("chr1\x00")

	idx := &Index{
		Kind:     CSI,
		MinShift: 14,
		Depth:    6,
		Aux:      aux.Bytes(),
		Refs: []Reference{
			{
				Bins: []Bin{
					{ID: 37449, Offset: bgzf.NewAddress(64, 0), Chunks: []bgzf.Chunk{
						chunk(10, 20),
						chunk(64, 128),
					}},
					{ID: 37455, Offset: bgzf.NewAddress(900, 0), Chunks: []bgzf.Chunk{chunk(900, 950)}},
				},
			},
		},
	}

	var payload bytes.Buffer
	if err := Encode(&payload, idx); err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}

	parsed, err := ReadCSI(bytes.NewReader(compress(t, payload.Bytes())))
	if err != nil {
		t.Fatalf("ReadCSI() failed: %v", err)
	}
	if parsed.MinShift != 14 || parsed.Depth != 6 {
		t.Fatalf("Wrong scheme: got (%d, %d), want (14, 6)", parsed.MinShift, parsed.Depth)
	}
	if parsed.Tabix == nil || !reflect.DeepEqual(parsed.Tabix.Names, []string{"chr1"}) {
		t.Fatalf("Wrong auxiliary tabix configuration: %+v", parsed.Tabix)
	}

	var again bytes.Buffer
	if err := Encode(&again, parsed); err != nil {
		t.Fatalf("Encode() of parsed index failed: %v", err)
	}
	if !bytes.Equal(payload.Bytes(), again.Bytes()) {
		t.Fatal("Round trip produced different payload bytes")
	}

	// Bin 37449 is the deepest-level bin for the first tile.  Its first
	// chunk ends before the bin's loffset and gets pruned; the second
	// survives.  Bin 37455 covers a different tile and is never selected.
	got := parsed.Query(0, 0, 16384)
	want := []bgzf.Chunk{chunk(64, 128)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Wrong chunks: got %v, want %v", got, want)
	}
}

func TestHeaderEnd(t *testing.T) {
	idx := testBAI()
	end, ok := idx.HeaderEnd()
	if !ok {
		t.Fatal("HeaderEnd() found no chunks")
	}
	if got, want := end, bgzf.NewAddress(100, 0); got != want {
		t.Fatalf("Wrong header end: got %v, want %v", got, want)
	}

	empty := &Index{Kind: BAI, MinShift: 14, Depth: 5, Refs: []Reference{{}}}
	if _, ok := empty.HeaderEnd(); ok {
		t.Fatal("HeaderEnd() on empty index: expected no result")
	}
}

func TestBinsForRange(t *testing.T) {
	bins := binsForRange(0, 16384, 14, 5)
	want := []uint32{0, 1, 9, 73, 585, 4681}
	if !reflect.DeepEqual(bins, want) {
		t.Fatalf("Wrong bins: got %v, want %v", bins, want)
	}

	if got := binsForRange(1<<29, 1<<29+1, 14, 5); got != nil {
		t.Fatalf("Out of range query returned bins: %v", got)
	}
}
