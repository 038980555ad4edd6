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

package binary

import (
	"bytes"
	"testing"
)

func TestExpectBytes(t *testing.T) {
	testCases := []struct {
		want  []byte
		input []byte
		match bool
	}{
		{[]byte("BAI\x01"), []byte("BAI\x01"), true},
		{[]byte("BAI\x01"), []byte("BAI\x01EXTRA"), true},
		{[]byte("BAI\x01"), []byte("CSI\x01"), false},
		{[]byte("BAI\x01"), []byte("BAI"), false},
		{[]byte("BAI\x01"), []byte(""), false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.input), func(t *testing.T) {
			err := ExpectBytes(bytes.NewReader(tc.input), tc.want)
			if err != nil && tc.match {
				t.Fatalf("ExpectBytes returned unexpected error: %v", err)
			} else if err == nil && !tc.match {
				t.Fatalf("ExpectBytes accepted mismatched input %v", tc.input)
			}
		})
	}
}

func TestReadWriteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := struct {
		A uint32
		B uint64
	}{37450, 0xfedcba9876543210}
	if err := Write(&buf, &in); err != nil {
		t.Fatalf("Write() returned error: %v", err)
	}

	var out struct {
		A uint32
		B uint64
	}
	if err := Read(&buf, &out); err != nil {
		t.Fatalf("Read() returned error: %v", err)
	}
	if out != in {
		t.Fatalf("Wrong round trip value: got %+v, want %+v", out, in)
	}
}
