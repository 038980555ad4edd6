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
	"fmt"
	"io"

	"github.com/googlegenomics/htsget-server/internal/binary"
)

// Encode writes the index payload for idx to w in its original on-disk
// layout.  For TBI and CSI the payload is the content of the enclosing BGZF
// archive, not the archive itself.
func Encode(w io.Writer, idx *Index) error {
	switch idx.Kind {
	case BAI:
		return encodeBAI(w, idx)
	case TBI:
		return encodeTBI(w, idx)
	case CSI:
		return encodeCSI(w, idx)
	}
	return fmt.Errorf("unknown index kind %v", idx.Kind)
}

func encodeBAI(w io.Writer, idx *Index) error {
	if _, err := w.Write([]byte(baiMagic)); err != nil {
		return fmt.Errorf("writing magic: %v", err)
	}
	if err := binary.Write(w, int32(len(idx.Refs))); err != nil {
		return fmt.Errorf("writing reference count: %v", err)
	}
	if err := encodeReferenceBodies(w, idx); err != nil {
		return err
	}
	return encodeUnplaced(w, idx)
}

func encodeTBI(w io.Writer, idx *Index) error {
	if idx.Tabix == nil {
		return fmt.Errorf("TBI index is missing its tabix configuration")
	}
	if _, err := w.Write([]byte(tbiMagic)); err != nil {
		return fmt.Errorf("writing magic: %v", err)
	}
	if err := binary.Write(w, int32(len(idx.Refs))); err != nil {
		return fmt.Errorf("writing reference count: %v", err)
	}
	if err := encodeTabixConfig(w, idx.Tabix); err != nil {
		return err
	}
	if err := encodeReferenceBodies(w, idx); err != nil {
		return err
	}
	return encodeUnplaced(w, idx)
}

func encodeCSI(w io.Writer, idx *Index) error {
	if _, err := w.Write([]byte(csiMagic)); err != nil {
		return fmt.Errorf("writing magic: %v", err)
	}
	header := struct {
		MinShift  int32
		Depth     int32
		AuxLength int32
	}{idx.MinShift, idx.Depth, int32(len(idx.Aux))}
	if err := binary.Write(w, &header); err != nil {
		return fmt.Errorf("writing header: %v", err)
	}
	if _, err := w.Write(idx.Aux); err != nil {
		return fmt.Errorf("writing auxiliary data: %v", err)
	}
	if err := binary.Write(w, int32(len(idx.Refs))); err != nil {
		return fmt.Errorf("writing reference count: %v", err)
	}
	if err := encodeReferenceBodies(w, idx); err != nil {
		return err
	}
	return encodeUnplaced(w, idx)
}

func encodeTabixConfig(w io.Writer, t *Tabix) error {
	var blob []byte
	for _, name := range t.Names {
		blob = append(blob, name...)
		blob = append(blob, 0)
	}
	config := struct {
		Format      int32
		NameColumn  int32
		BeginColumn int32
		EndColumn   int32
		Meta        int32
		Skip        int32
		NameLength  int32
	}{t.Format, t.NameColumn, t.BeginColumn, t.EndColumn, t.Meta, t.Skip, int32(len(blob))}
	if err := binary.Write(w, &config); err != nil {
		return fmt.Errorf("writing tabix configuration: %v", err)
	}
	if _, err := w.Write(blob); err != nil {
		return fmt.Errorf("writing name dictionary: %v", err)
	}
	return nil
}

func encodeReferenceBodies(w io.Writer, idx *Index) error {
	for _, ref := range idx.Refs {
		if err := binary.Write(w, int32(len(ref.Bins))); err != nil {
			return fmt.Errorf("writing bin count: %v", err)
		}
		for _, bin := range ref.Bins {
			if err := binary.Write(w, bin.ID); err != nil {
				return fmt.Errorf("writing bin ID: %v", err)
			}
			if idx.Kind == CSI {
				if err := binary.Write(w, bin.Offset); err != nil {
					return fmt.Errorf("writing bin offset: %v", err)
				}
			}
			if err := binary.Write(w, int32(len(bin.Chunks))); err != nil {
				return fmt.Errorf("writing chunk count: %v", err)
			}
			if err := binary.Write(w, bin.Chunks); err != nil {
				return fmt.Errorf("writing chunks: %v", err)
			}
		}
		if idx.Kind != CSI {
			if err := binary.Write(w, int32(len(ref.Intervals))); err != nil {
				return fmt.Errorf("writing interval count: %v", err)
			}
			if err := binary.Write(w, ref.Intervals); err != nil {
				return fmt.Errorf("writing intervals: %v", err)
			}
		}
	}
	return nil
}

func encodeUnplaced(w io.Writer, idx *Index) error {
	if idx.Unplaced == nil {
		return nil
	}
	if err := binary.Write(w, *idx.Unplaced); err != nil {
		return fmt.Errorf("writing unplaced count: %v", err)
	}
	return nil
}
