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

// Package bcf contains support for parsing BCF files.
package bcf

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/googlegenomics/htsget-server/internal/binary"
	"github.com/googlegenomics/htsget-server/internal/htsget"
	"github.com/googlegenomics/htsget-server/internal/vcf"
)

const (
	bcfMagic = "BCF\x02\x02"
)

// References extracts the contig dictionary from the text header embedded in
// the BCF file in r.  Contigs carrying an IDX field are placed at that
// position; contigs without one are numbered in order of appearance.
func References(r io.Reader) ([]htsget.Reference, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("initializing gzip reader: %v", err)
	}
	defer gzr.Close()

	if err := binary.ExpectBytes(gzr, []byte(bcfMagic)); err != nil {
		return nil, fmt.Errorf("checking magic: %v", err)
	}

	var length uint32
	if err := binary.Read(gzr, &length); err != nil {
		return nil, fmt.Errorf("reading header length: %v", err)
	}

	byIndex := make(map[int]htsget.Reference)
	next, max := 0, -1
	scanner := bufio.NewScanner(io.LimitReader(gzr, int64(length)))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "##contig") {
			continue
		}
		reference, idx, err := vcf.ParseContig(line)
		if err != nil {
			return nil, err
		}
		if idx < 0 {
			idx = next
		}
		byIndex[idx] = reference
		if idx > max {
			max = idx
		}
		next = idx + 1
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning header: %v", err)
	}

	references := make([]htsget.Reference, max+1)
	for idx, reference := range byIndex {
		references[idx] = reference
	}
	return references, nil
}
