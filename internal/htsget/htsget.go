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

// Package htsget defines the protocol level types of the htsget v1.3
// retrieval API: formats, regions, tickets and the error taxonomy.
//
// The protocol is defined at http://samtools.github.io/hts-specs/htsget.html.
package htsget

import "fmt"

// TicketContentType is the media type of ticket responses.
const TicketContentType = "application/vnd.ga4gh.htsget.v1.3.0+json"

// Endpoint identifies the three retrieval endpoint kinds.
type Endpoint string

const (
	Reads     Endpoint = "reads"
	Variants  Endpoint = "variants"
	Sequences Endpoint = "sequences"
)

// Formats returns the container formats served by the endpoint, most
// preferred first.
func (e Endpoint) Formats() []Format {
	switch e {
	case Reads:
		return []Format{BAM, CRAM}
	case Variants:
		return []Format{VCF, BCF}
	case Sequences:
		return []Format{FASTA, FASTQ}
	}
	return nil
}

// Format is a genomic container format.
type Format string

const (
	BAM   Format = "BAM"
	CRAM  Format = "CRAM"
	VCF   Format = "VCF"
	BCF   Format = "BCF"
	FASTA Format = "FASTA"
	FASTQ Format = "FASTQ"
)

// ParseFormat returns the Format named by input, or an error for names
// outside the protocol.
func ParseFormat(input string) (Format, error) {
	switch Format(input) {
	case BAM, CRAM, VCF, BCF, FASTA, FASTQ:
		return Format(input), nil
	}
	return "", fmt.Errorf("unknown format %q", input)
}

// DataExtensions returns the file extensions a data file of this format may
// carry, in probe order.
func (f Format) DataExtensions() []string {
	switch f {
	case BAM:
		return []string{".bam"}
	case CRAM:
		return []string{".cram"}
	case VCF:
		return []string{".vcf.gz"}
	case BCF:
		return []string{".bcf"}
	case FASTA:
		return []string{".fa", ".fasta"}
	case FASTQ:
		return []string{".fq", ".fastq", ".fq.gz", ".fastq.gz"}
	}
	return nil
}

// IndexExtensions returns the companion index extensions for the format, in
// probe order.  The returned extensions are appended to the data file name.
func (f Format) IndexExtensions() []string {
	switch f {
	case BAM:
		return []string{".bai", ".csi"}
	case CRAM:
		return []string{".crai"}
	case VCF:
		return []string{".tbi", ".csi"}
	case BCF:
		return []string{".csi"}
	case FASTA:
		return []string{".fai"}
	}
	return nil
}

// Indexable reports whether region queries are supported for the format.
func (f Format) Indexable() bool {
	switch f {
	case BAM, CRAM, VCF, BCF:
		return true
	}
	return false
}

// BGZF reports whether data files of this format are BGZF compressed.
func (f Format) BGZF() bool {
	switch f {
	case BAM, VCF, BCF:
		return true
	}
	return false
}

// Classes of ticket URL content.
const (
	ClassHeader = "header"
	ClassBody   = "body"
)

// Region restricts a request to an interval on a single reference.  Start is
// a zero-based inclusive position and End is exclusive; either may be unset,
// meaning zero and the reference length respectively.
type Region struct {
	ReferenceName string  `json:"referenceName"`
	Start         *uint64 `json:"start,omitempty"`
	End           *uint64 `json:"end,omitempty"`
}

func (r Region) String() string {
	out := r.ReferenceName
	if r.Start != nil {
		out += fmt.Sprintf(":%d", *r.Start)
	}
	if r.End != nil {
		out += fmt.Sprintf("-%d", *r.End)
	}
	return out
}

// Reference is one entry of a file's reference dictionary.
type Reference struct {
	Name   string
	Length uint64
}

// ByteRange is an inclusive byte range, HTTP style.
type ByteRange struct {
	Begin, End uint64
}

func (r ByteRange) String() string {
	return fmt.Sprintf("bytes=%d-%d", r.Begin, r.End)
}

// URL is a single entry of a ticket's url list.
type URL struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Class   string            `json:"class,omitempty"`
}

// Ticket describes an ordered sequence of URLs whose concatenated byte
// content is a complete file in the stated format.
type Ticket struct {
	Format Format `json:"format"`
	URLs   []URL  `json:"urls"`
	MD5    string `json:"md5,omitempty"`
}

// Envelope wraps a ticket for transport.
type Envelope struct {
	Htsget *Ticket `json:"htsget"`
}
