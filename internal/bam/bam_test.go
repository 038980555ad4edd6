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

package bam

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/googlegenomics/htsget-server/internal/bgzf"
	"github.com/googlegenomics/htsget-server/internal/htsget"
)

func TestReferences(t *testing.T) {
	header := []byte{
		'B', 'A', 'M', 1,
		4, 0, 0, 0, // SAM header text length
		'@', 'H', 'D', '\n',
		2, 0, 0, 0, // two references
		5, 0, 0, 0,
		'c', 'h', 'r', '1', 0,
		0x40, 0x42, 0x0f, 0x00, // 1000000
		5, 0, 0, 0,
		'c', 'h', 'r', '2', 0,
		0xe8, 0x03, 0x00, 0x00, // 1000
	}
	block, err := bgzf.EncodeBlock(header)
	if err != nil {
		t.Fatalf("EncodeBlock() failed: %v", err)
	}

	got, err := References(bytes.NewReader(block))
	if err != nil {
		t.Fatalf("References() returned error: %v", err)
	}
	want := []htsget.Reference{
		{Name: "chr1", Length: 1000000},
		{Name: "chr2", Length: 1000},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Wrong references: got %v, want %v", got, want)
	}
}

func TestReferences_Errors(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{"zero-length", nil},
		{"wrong magic", []byte{'B', 'A', 'M', 2, 0, 0, 0, 0, 0, 0, 0, 0}},
		{"truncated before header length", []byte{'B', 'A', 'M', 1}},
		{"truncated header", []byte{'B', 'A', 'M', 1, 1, 0, 0, 0}},
		{"truncated before reference count", []byte{'B', 'A', 'M', 1, 0, 0, 0, 0}},
		{"invalid name length", []byte{
			'B', 'A', 'M', 1,
			0, 0, 0, 0,
			1, 0, 0, 0,
			0, 0, 1, 0,
			'A', 0,
			0, 0, 0, 0,
		}},
		{"truncated name", []byte{
			'B', 'A', 'M', 1,
			0, 0, 0, 0,
			1, 0, 0, 0,
			2, 0, 0, 0,
			'A',
		}},
		{"truncated reference list", []byte{
			'B', 'A', 'M', 1,
			0, 0, 0, 0,
			2, 0, 0, 0,
			2, 0, 0, 0,
			'A', 0,
			0, 0, 0, 0,
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			block, err := bgzf.EncodeBlock(tc.data)
			if err != nil {
				t.Fatalf("EncodeBlock() failed: %v", err)
			}
			if _, err := References(bytes.NewReader(block)); err == nil {
				t.Fatal("References(): expected error, not success")
			} else {
				t.Logf("error: %v", err)
			}
		})
	}
}
