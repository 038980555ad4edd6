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

// Package server implements the htsget HTTP surface: the ticket endpoints,
// the data proxy and service-info.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/googlegenomics/htsget-server/internal/auth"
	"github.com/googlegenomics/htsget-server/internal/htsget"
	"github.com/googlegenomics/htsget-server/internal/planner"
	"github.com/googlegenomics/htsget-server/internal/storage"
)

// Options configures a Server.
type Options struct {
	BaseURL        string
	CORS           bool
	RequestTimeout time.Duration
	// Signer, when set, signs and enforces signatures on data proxy URLs.
	Signer *auth.Signer
	// Auth, when set, guards the API with bearer token authentication.
	Auth *auth.Authenticator
}

// Server serves the htsget protocol over a storage backend.
type Server struct {
	backend storage.Backend
	planner *planner.Planner
	opts    Options
}

// New returns a Server reading from backend.
func New(backend storage.Backend, opts Options) *Server {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	return &Server{
		backend: backend,
		planner: planner.New(backend),
		opts:    opts,
	}
}

// Handler builds the HTTP handler with all routes and middleware attached.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)
	if s.opts.CORS {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"*"},
		}))
	}
	if s.opts.Auth != nil {
		r.Use(s.opts.Auth.Middleware)
	}

	r.Get("/reads/{id}", s.handleTicketGet(htsget.Reads))
	r.Post("/reads/{id}", s.handleTicketPost(htsget.Reads))
	r.Get("/variants/{id}", s.handleTicketGet(htsget.Variants))
	r.Post("/variants/{id}", s.handleTicketPost(htsget.Variants))
	r.Get("/sequences/{id}", s.handleTicketGet(htsget.Sequences))
	r.Get("/data/{key}", s.handleData)
	r.Get("/service-info", s.handleServiceInfo)
	r.Get("/", s.handleServiceInfo)
	return r
}

func (s *Server) handleTicketGet(endpoint htsget.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		request, err := parseTicketQuery(endpoint, chi.URLParam(req, "id"), req)
		if err != nil {
			writeError(w, err)
			return
		}
		s.plan(w, req, request)
	}
}

func (s *Server) handleTicketPost(endpoint htsget.Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Format  string          `json:"format"`
			Class   string          `json:"class"`
			Regions []htsget.Region `json:"regions"`
			Fields  []string        `json:"fields"`
			Tags    []string        `json:"tags"`
			NoTags  []string        `json:"notags"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, htsget.InvalidInputError("parsing request body: %v", err))
			return
		}

		// A conflicting format in the query string is a client bug worth
		// rejecting rather than silently resolving.
		if queryFormat := req.URL.Query().Get("format"); queryFormat != "" && body.Format != "" && queryFormat != body.Format {
			writeError(w, htsget.InvalidInputError("conflicting formats %q and %q", queryFormat, body.Format))
			return
		}

		s.plan(w, req, &planner.Request{
			Endpoint: endpoint,
			ID:       chi.URLParam(req, "id"),
			Format:   body.Format,
			Class:    body.Class,
			Regions:  body.Regions,
		})
	}
}

func parseTicketQuery(endpoint htsget.Endpoint, id string, req *http.Request) (*planner.Request, error) {
	query := req.URL.Query()
	request := &planner.Request{
		Endpoint: endpoint,
		ID:       id,
		Format:   query.Get("format"),
		Class:    query.Get("class"),
	}

	name := query.Get("referenceName")
	startField := query.Get("start")
	endField := query.Get("end")
	if name == "" {
		if startField != "" || endField != "" {
			return nil, htsget.InvalidInputError("no reference name specified")
		}
		return request, nil
	}

	region := htsget.Region{ReferenceName: name}
	if startField != "" {
		start, err := strconv.ParseUint(startField, 10, 64)
		if err != nil {
			return nil, htsget.InvalidInputError("parsing start: %v", err)
		}
		region.Start = &start
	}
	if endField != "" {
		end, err := strconv.ParseUint(endField, 10, 64)
		if err != nil {
			return nil, htsget.InvalidInputError("parsing end: %v", err)
		}
		region.End = &end
	}
	request.Regions = []htsget.Region{region}
	return request, nil
}

func (s *Server) plan(w http.ResponseWriter, req *http.Request, request *planner.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), s.opts.RequestTimeout)
	defer cancel()

	ticket, err := s.planner.Plan(ctx, request)
	if err != nil {
		writeError(w, err)
		return
	}

	if s.opts.Signer != nil {
		for i := range ticket.URLs {
			if !strings.HasPrefix(ticket.URLs[i].URL, s.opts.BaseURL+"/data/") {
				continue
			}
			signed, err := s.opts.Signer.Sign(ticket.URLs[i].URL)
			if err != nil {
				writeError(w, htsget.InternalError("signing data URL", err))
				return
			}
			ticket.URLs[i].URL = signed
		}
	}

	w.Header().Set("Content-Type", htsget.TicketContentType)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(htsget.Envelope{Htsget: ticket})
}

// writeError renders err as the htsget error envelope.
func writeError(w http.ResponseWriter, err error) {
	typed := htsget.AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(typed.Status)
	json.NewEncoder(w).Encode(htsget.ErrorEnvelope{
		Htsget: htsget.ErrorBody{Error: typed.Code, Message: typed.Message},
	})
}

// requestLogger tags each request with an ID and logs its outcome.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, req)
		logrus.WithFields(logrus.Fields{
			"request": uuid.New().String(),
			"method":  req.Method,
			"path":    req.URL.Path,
			"status":  recorder.status,
			"elapsed": fmt.Sprintf("%.3fms", float64(time.Since(start).Microseconds())/1000),
		}).Info("request")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
