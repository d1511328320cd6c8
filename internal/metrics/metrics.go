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

// Package metrics exposes Prometheus metrics for eligibility runs.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder records run statistics in its own registry. A nil *Recorder
// records nothing, so callers do not need to check for one.
type Recorder struct {
	reg *prometheus.Registry

	runs        *prometheus.CounterVec
	runSeconds  prometheus.Histogram
	stage       *prometheus.HistogramVec
	area        *prometheus.GaugeVec
	diagnostics *prometheus.CounterVec
}

// New creates a Recorder whose registry also holds the Go runtime and
// process collectors and a build info gauge for version.
func New(version string) *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	build := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eligibility_build_info",
		Help: "Build info for this binary (value is always 1).",
	}, []string{"version"})
	if version == "" {
		version = "dev"
	}
	build.WithLabelValues(version).Set(1)

	r := &Recorder{
		reg: reg,
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_runs_total",
			Help: "Eligibility runs by outcome.",
		}, []string{"status"}),
		runSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "eligibility_run_duration_seconds",
			Help:    "Duration of eligibility runs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		stage: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "eligibility_stage_duration_seconds",
			Help:    "Duration of the stages of eligibility runs.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		area: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eligibility_output_area",
			Help: "Total area of the outputs of the last run, in squared units of its spatial reference.",
		}, []string{"output"}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eligibility_diagnostics_total",
			Help: "Diagnostics raised by eligibility runs, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(build, r.runs, r.runSeconds, r.stage, r.area, r.diagnostics)
	return r
}

// Handler serves the metrics of the registry.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Registerer returns the registry of r.
func (r *Recorder) Registerer() prometheus.Registerer { return r.reg }

// ObserveRun records a finished run.
func (r *Recorder) ObserveRun(status string, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
	r.runSeconds.Observe(d.Seconds())
}

// ObserveStage records the duration of a stage of a run.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	if r == nil {
		return
	}
	r.stage.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveArea records the total area of an output.
func (r *Recorder) ObserveArea(output string, area float64) {
	if r == nil {
		return
	}
	r.area.WithLabelValues(output).Set(area)
}

// CountDiagnostic counts a diagnostic of the given kind.
func (r *Recorder) CountDiagnostic(kind string) {
	if r == nil {
		return
	}
	r.diagnostics.WithLabelValues(kind).Inc()
}
