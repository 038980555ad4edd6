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

// Package bam provides support for parsing BAM files.
package bam

import (
	"compress/gzip"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/googlegenomics/htsget-server/internal/binary"
	"github.com/googlegenomics/htsget-server/internal/htsget"
)

const (
	bamMagic = "BAM\x01"

	// This is just to prevent arbitrarily long allocations due to malformed
	// data.  No reference name should be longer than this in practice.
	maximumNameLength = 1024
)

// References reads the reference dictionary (names and lengths) from the
// header of the BAM file in r.  The reader must be positioned at the start
// of the compressed file.
func References(r io.Reader) ([]htsget.Reference, error) {
	bam, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %v", err)
	}

	if err := binary.ExpectBytes(bam, []byte(bamMagic)); err != nil {
		return nil, fmt.Errorf("reading magic: %v", err)
	}
	var length int32
	if err := binary.Read(bam, &length); err != nil {
		return nil, fmt.Errorf("reading SAM header length: %v", err)
	}
	if _, err := io.CopyN(ioutil.Discard, bam, int64(length)); err != nil {
		return nil, fmt.Errorf("reading past SAM header: %v", err)
	}
	var count int32
	if err := binary.Read(bam, &count); err != nil {
		return nil, fmt.Errorf("reading references count: %v", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("invalid reference count (%d references)", count)
	}

	references := make([]htsget.Reference, 0, count)
	for i := int32(0); i < count; i++ {
		if err := binary.Read(bam, &length); err != nil {
			return nil, fmt.Errorf("reading name length: %v", err)
		}
		// The name length includes a null terminating character.
		if length < 1 || length > maximumNameLength {
			return nil, fmt.Errorf("invalid name length (%d bytes)", length)
		}
		name := make([]byte, length)
		if _, err := io.ReadFull(bam, name); err != nil {
			return nil, fmt.Errorf("reading name: %v", err)
		}
		var refLength int32
		if err := binary.Read(bam, &refLength); err != nil {
			return nil, fmt.Errorf("reading reference length: %v", err)
		}
		references = append(references, htsget.Reference{
			Name:   string(name[:length-1]),
			Length: uint64(refLength),
		})
	}
	return references, nil
}
