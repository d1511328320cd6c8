/*
Copyright © 2024 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package eligibilityutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/eligibility"
	"github.com/spatialmodel/eligibility/internal/metrics"
	"github.com/spatialmodel/eligibility/vector"
)

// maxBodySize is the largest analysis definition accepted over HTTP.
const maxBodySize = 10 << 20

// Server runs eligibility analyses over HTTP.
type Server struct {
	Log logrus.FieldLogger

	// Metrics, if not nil, records run statistics and is served under
	// MetricsPath.
	Metrics     *metrics.Recorder
	MetricsPath string

	// Defaults holds the scalar options of analyses that do not set them.
	Defaults Options

	// Fetcher, if not nil, replaces the default locator resolution.
	Fetcher eligibility.Fetcher

	// AllowedLocators, if not empty, lists the prefixes that the source
	// locators of posted analyses must start with, such as "/data/" or
	// "gs://bucket/". Paths are cleaned before they are compared.
	AllowedLocators []string
}

// errLocatorNotAllowed is returned for sources outside AllowedLocators.
var errLocatorNotAllowed = errors.New("locator not allowed")

// Response is the body of a successful analysis request.
type Response struct {
	RunID                   string                   `json:"run_id"`
	Diagnostics             []eligibility.Diagnostic `json:"diagnostics"`
	Eligible                json.RawMessage          `json:"eligible"`
	EligibleWithRestriction json.RawMessage          `json:"eligible_with_restriction"`
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	if s.Log == nil {
		s.Log = logrus.StandardLogger()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Post("/v1/eligibility", s.analyze)
	if s.Metrics != nil {
		path := s.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, s.Metrics.Handler())
	}
	return r
}

// ListenAndServe serves the routes of s on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.Log.WithField("addr", addr).Info("eligibility listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"bytes":    ww.BytesWritten(),
			"duration": time.Since(start),
		}).Debug("eligibility handled request")
	})
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	var (
		f   *AnalysisFile
		err error
	)
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "application/json" {
		f, err = DecodeJSON(body)
	} else {
		f, err = DecodeTOML(body)
	}
	if err != nil {
		s.error(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := f.Config(s.Defaults)
	if err != nil {
		s.error(w, http.StatusBadRequest, err)
		return
	}
	if err := s.checkLocators(cfg); err != nil {
		s.error(w, http.StatusForbidden, err)
		return
	}
	a, err := eligibility.NewAnalysis(cfg)
	if err != nil {
		s.error(w, http.StatusBadRequest, err)
		return
	}
	a.Log = s.Log
	a.Metrics = s.Metrics
	if s.Fetcher != nil {
		a.Fetcher = s.Fetcher
	}
	res, err := a.Run(r.Context())
	var se *eligibility.SourceError
	switch {
	case errors.As(err, &se):
		s.error(w, http.StatusUnprocessableEntity, err)
		return
	case err != nil:
		s.error(w, http.StatusInternalServerError, err)
		return
	}

	resp := Response{RunID: res.RunID, Diagnostics: res.Diagnostics}
	if resp.Diagnostics == nil {
		resp.Diagnostics = []eligibility.Diagnostic{}
	}
	if resp.Eligible, err = vector.MarshalGeoJSON(res.Eligible); err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	if resp.EligibleWithRestriction, err = vector.MarshalGeoJSON(res.EligibleWithRestriction); err != nil {
		s.error(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.Log.WithError(err).Warn("eligibility writing response")
	}
}

// checkLocators returns an error wrapping errLocatorNotAllowed for the
// first area source of cfg that AllowedLocators does not cover.
func (s *Server) checkLocators(cfg eligibility.Config) error {
	if len(s.AllowedLocators) == 0 {
		return nil
	}
	specs := append([]eligibility.AreaSpec{cfg.BaseArea}, cfg.Included...)
	specs = append(specs, cfg.Excluded...)
	specs = append(specs, cfg.Restricted...)
	for _, spec := range specs {
		var loc string
		switch src := spec.Source.(type) {
		case eligibility.Locator:
			loc = string(src)
		case string:
			loc = src
		}
		if loc == "" {
			continue
		}
		if !s.allowed(loc) {
			return fmt.Errorf("eligibility: %s: %w", loc, errLocatorNotAllowed)
		}
	}
	return nil
}

func (s *Server) allowed(locator string) bool {
	clean := filepath.Clean(locator)
	if strings.Contains(locator, "://") {
		u, err := url.Parse(locator)
		if err != nil {
			return false
		}
		if u.Path != "" {
			u.Path, u.RawPath = path.Clean(u.Path), ""
		}
		clean = u.String()
	}
	for _, prefix := range s.AllowedLocators {
		if strings.HasPrefix(clean, prefix) {
			return true
		}
	}
	return false
}

func (s *Server) error(w http.ResponseWriter, status int, err error) {
	s.Log.WithFields(logrus.Fields{
		"status": status,
	}).WithError(err).Warn("eligibility request failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": fmt.Sprint(err)})
}
