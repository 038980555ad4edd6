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

package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/googlegenomics/htsget-server/internal/htsget"
	"github.com/googlegenomics/htsget-server/internal/storage"
)

// handleData serves byte ranges of stored objects.  Ticket URLs point here
// when the backend cannot issue pre-authenticated URLs itself.
func (s *Server) handleData(w http.ResponseWriter, req *http.Request) {
	if s.opts.Signer != nil {
		if err := s.opts.Signer.Validate(req.URL); err != nil {
			writeError(w, htsget.InvalidAuthenticationError("%v", err))
			return
		}
	}

	key, err := url.PathUnescape(chi.URLParam(req, "key"))
	if err != nil {
		writeError(w, htsget.InvalidInputError("parsing object key: %v", err))
		return
	}

	info, err := s.backend.Stat(req.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, htsget.NotFoundError("not found: %s", key))
		} else {
			writeError(w, htsget.IOError("probing object", err))
		}
		return
	}

	begin, end := uint64(0), info.Size-1
	partial := false
	if header := req.Header.Get("Range"); header != "" {
		begin, end, err = parseByteRange(header, info.Size)
		if err != nil {
			writeError(w, err)
			return
		}
		partial = true
	}

	r, err := s.backend.Reader(req.Context(), key, begin, end)
	if err != nil {
		if errors.Is(err, storage.ErrRangeNotSatisfiable) {
			writeError(w, &htsget.Error{
				Code:    "InvalidRange",
				Status:  http.StatusRequestedRangeNotSatisfiable,
				Message: "range not satisfiable",
			})
		} else {
			writeError(w, htsget.IOError("opening object", err))
		}
		return
	}
	defer r.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatUint(end-begin+1, 10))
	w.Header().Set("Accept-Ranges", "bytes")
	if partial {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", begin, end, info.Size))
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	if _, err := io.Copy(w, r); err != nil {
		logrus.WithField("key", key).Warnf("copying object data: %v", err)
	}
}

// parseByteRange parses a single-range Range header ("bytes=a-b" with an
// optional open end) against an object of the given size.
func parseByteRange(header string, size uint64) (uint64, uint64, error) {
	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return 0, 0, htsget.InvalidInputError("unsupported range %q", header)
	}

	fields := strings.SplitN(spec, "-", 2)
	if len(fields) != 2 || fields[0] == "" {
		return 0, 0, htsget.InvalidInputError("unsupported range %q", header)
	}

	begin, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return 0, 0, htsget.InvalidInputError("parsing range: %v", err)
	}

	end := size - 1
	if fields[1] != "" {
		if end, err = strconv.ParseUint(fields[1], 10, 64); err != nil {
			return 0, 0, htsget.InvalidInputError("parsing range: %v", err)
		}
	}

	if begin > end || begin >= size {
		return 0, 0, &htsget.Error{
			Code:    "InvalidRange",
			Status:  http.StatusRequestedRangeNotSatisfiable,
			Message: fmt.Sprintf("range %q outside object of %d bytes", header, size),
		}
	}
	if end >= size {
		end = size - 1
	}
	return begin, end, nil
}
