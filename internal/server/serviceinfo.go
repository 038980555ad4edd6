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
	"encoding/json"
	"net/http"

	"github.com/googlegenomics/htsget-server/internal/htsget"
)

// serverVersion is reported by service-info.
const serverVersion = "1.3.0"

type serviceInfo struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Type         serviceType      `json:"type"`
	Description  string           `json:"description"`
	Organization organization     `json:"organization"`
	Version      string           `json:"version"`
	Htsget       htsgetCapability `json:"htsget"`
}

type serviceType struct {
	Group    string `json:"group"`
	Artifact string `json:"artifact"`
	Version  string `json:"version"`
}

type organization struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type htsgetCapability struct {
	Datatype                 string          `json:"datatype"`
	Formats                  []htsget.Format `json:"formats"`
	FieldsParameterEffective bool            `json:"fieldsParameterEffective"`
	TagsParametersEffective  bool            `json:"tagsParametersEffective"`
}

func (s *Server) handleServiceInfo(w http.ResponseWriter, req *http.Request) {
	info := serviceInfo{
		ID:          "com.google.htsget",
		Name:        "htsget-server",
		Type:        serviceType{Group: "org.ga4gh", Artifact: "htsget", Version: serverVersion},
		Description: "htsget protocol server for genomic data",
		Organization: organization{
			Name: "Google Genomics",
			URL:  "https://cloud.google.com/genomics",
		},
		Version: serverVersion,
		Htsget: htsgetCapability{
			Datatype: "reads",
			Formats:  []htsget.Format{htsget.BAM, htsget.CRAM, htsget.VCF, htsget.BCF},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(info)
}
