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
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/googlegenomics/htsget-server/internal/htsget"
	"github.com/googlegenomics/htsget-server/internal/index"
	"github.com/googlegenomics/htsget-server/internal/storage"
)

func backendWithFiles(t *testing.T, names ...string) *storage.Local {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, ioutil.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	backend, err := storage.NewLocal(dir, "http://localhost:3000")
	require.NoError(t, err)
	return backend
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name      string
		files     []string
		endpoint  htsget.Endpoint
		id        string
		format    string
		wantData  string
		wantIndex string
		wantKind  index.Kind
	}{
		{
			"bam with appended bai",
			[]string{"sample.bam", "sample.bam.bai"},
			htsget.Reads, "sample", "",
			"sample.bam", "sample.bam.bai", index.BAI,
		},
		{
			"bam with replaced bai",
			[]string{"sample.bam", "sample.bai"},
			htsget.Reads, "sample", "",
			"sample.bam", "sample.bai", index.BAI,
		},
		{
			"bam prefers bai over csi",
			[]string{"sample.bam", "sample.bam.bai", "sample.bam.csi"},
			htsget.Reads, "sample", "",
			"sample.bam", "sample.bam.bai", index.BAI,
		},
		{
			"bam with csi only",
			[]string{"sample.bam", "sample.bam.csi"},
			htsget.Reads, "sample", "",
			"sample.bam", "sample.bam.csi", index.CSI,
		},
		{
			"vcf with tabix",
			[]string{"calls.vcf.gz", "calls.vcf.gz.tbi"},
			htsget.Variants, "calls", "",
			"calls.vcf.gz", "calls.vcf.gz.tbi", index.TBI,
		},
		{
			"explicit bcf",
			[]string{"calls.vcf.gz", "calls.bcf", "calls.bcf.csi"},
			htsget.Variants, "calls", "BCF",
			"calls.bcf", "calls.bcf.csi", index.CSI,
		},
		{
			"fasta alternative extension",
			[]string{"genome.fasta", "genome.fasta.fai"},
			htsget.Sequences, "genome", "",
			"genome.fasta", "genome.fasta.fai", index.BAI,
		},
		{
			"fastq without index",
			[]string{"run.fastq.gz"},
			htsget.Sequences, "run", "",
			"run.fastq.gz", "", index.BAI,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			backend := backendWithFiles(t, tc.files...)
			resolution, err := Resolve(ctx, backend, tc.endpoint, tc.id, tc.format)
			require.NoError(t, err)
			assert.Equal(t, tc.wantData, resolution.DataKey)
			assert.Equal(t, tc.wantIndex, resolution.IndexKey)
			if tc.wantIndex != "" {
				assert.Equal(t, tc.wantKind, resolution.IndexKind)
			}
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	ctx := context.Background()
	backend := backendWithFiles(t, "sample.bam")

	testCases := []struct {
		name     string
		endpoint htsget.Endpoint
		id       string
		format   string
		code     string
	}{
		{"missing object", htsget.Reads, "other", "", "NotFound"},
		{"format outside endpoint", htsget.Reads, "sample", "VCF", "UnsupportedFormat"},
		{"garbage format", htsget.Reads, "sample", "ZIP", "UnsupportedFormat"},
		{"empty id", htsget.Reads, "", "", "InvalidInput"},
		{"id with path separator", htsget.Reads, "a/b", "", "InvalidInput"},
		{"requested format absent", htsget.Variants, "sample", "VCF", "NotFound"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Resolve(ctx, backend, tc.endpoint, tc.id, tc.format)
			require.Error(t, err)
			assert.Equal(t, tc.code, htsget.AsError(err).Code)
		})
	}
}
