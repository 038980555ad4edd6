// Package sam provides support for parsing SAM files.
package sam

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

var tagRe = regexp.MustCompile(`\b(SN|LN):(\S+)\b`)

// References extracts the reference dictionary from the @SQ lines of a SAM
// text header.
func References(r io.Reader) ([]htsget.Reference, error) {
	var references []htsget.Reference

	// @SQ SN:foo LN:5 AN:bar,baz ...
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if !strings.HasPrefix(scanner.Text(), "@SQ") {
			continue
		}
		var reference htsget.Reference
		for _, tag := range tagRe.FindAllStringSubmatch(scanner.Text(), -1) {
			switch tag[1] {
			case "SN":
				reference.Name = tag[2]
			case "LN":
				length, err := strconv.ParseUint(tag[2], 10, 64)
				if err != nil {
					return nil, fmt.Errorf("parsing reference length: %v", err)
				}
				reference.Length = length
			}
		}
		if reference.Name == "" {
			return nil, fmt.Errorf("@SQ line without SN tag: %q", scanner.Text())
		}
		references = append(references, reference)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading header: %v", err)
	}
	return references, nil
}
