package sam

import (
	"reflect"
	"strings"
	"testing"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

func TestReferences(t *testing.T) {
	header := strings.Join([]string{
		"@HD\tVN:1.6\tSO:coordinate",
		"@SQ\tSN:chr1\tLN:248956422",
		"@SQ\tSN:chr2\tLN:242193529\tAN:2,chr2_alt",
		"@PG\tID:bwa\tPN:bwa",
	}, "\n")

	got, err := References(strings.NewReader(header))
	if err != nil {
		t.Fatalf("References() returned error: %v", err)
	}
	want := []htsget.Reference{
		{Name: "chr1", Length: 248956422},
		{Name: "chr2", Length: 242193529},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Wrong references: got %v, want %v", got, want)
	}
}

func TestReferences_MissingName(t *testing.T) {
	if _, err := References(strings.NewReader("@SQ\tLN:100")); err == nil {
		t.Fatal("References(): expected error, not success")
	}
}

func TestReferences_NoSequences(t *testing.T) {
	got, err := References(strings.NewReader("@HD\tVN:1.6\n"))
	if err != nil {
		t.Fatalf("References() returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("Wrong references: got %v, want none", got)
	}
}
