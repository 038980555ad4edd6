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

// Package vcf provides support for parsing VCF metadata headers.
package vcf

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// References extracts the contig dictionary from the meta-information lines
// of a bgzipped VCF file.  Scanning stops at the #CHROM column header.
func References(r io.Reader) ([]htsget.Reference, error) {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("initializing gzip reader: %v", err)
	}
	defer gzr.Close()
	return scanContigs(gzr)
}

func scanContigs(r io.Reader) ([]htsget.Reference, error) {
	var references []htsget.Reference
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "##") {
			break
		}
		if !strings.HasPrefix(line, "##contig") {
			continue
		}
		reference, _, err := ParseContig(line)
		if err != nil {
			return nil, err
		}
		references = append(references, reference)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning header: %v", err)
	}
	return references, nil
}

// ParseContig parses a ##contig meta-information line into a reference and
// the value of its IDX field (-1 when absent).
func ParseContig(line string) (htsget.Reference, int, error) {
	name := ContigField(line, "ID")
	if name == "" {
		return htsget.Reference{}, 0, fmt.Errorf("contig line without ID: %q", line)
	}

	var length uint64
	if field := ContigField(line, "length"); field != "" {
		parsed, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return htsget.Reference{}, 0, fmt.Errorf("parsing contig length: %v", err)
		}
		length = parsed
	}

	idx := -1
	if field := ContigField(line, "IDX"); field != "" {
		parsed, err := strconv.Atoi(field)
		if err != nil {
			return htsget.Reference{}, 0, fmt.Errorf("parsing IDX: %v", err)
		}
		idx = parsed
	}

	return htsget.Reference{Name: name, Length: length}, idx, nil
}

// ContigField extracts the value of a named field from a ##contig line.
func ContigField(input, name string) string {
	field := fmt.Sprintf("%s=", name)
	for {
		start := strings.Index(input, field)
		if start == -1 {
			return ""
		}
		if start > 0 && !isDelimiter(input[start-1]) {
			input = input[start+len(field):]
			continue
		}
		input = input[start+len(field):]
		if end := strings.IndexAny(input, ",>"); end > 0 {
			return input[:end]
		}
		return input
	}
}

func isDelimiter(chr byte) bool {
	return chr == ',' || chr == '<'
}
