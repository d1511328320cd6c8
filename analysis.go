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

// Package eligibility derives land-eligibility maps. Starting from a base
// area of interest, it combines included, excluded and restricted areas by
// polygon set algebra into the areas that are eligible without restriction
// and the areas that are eligible but restricted.
//
// The derivation is:
//
//	all eligible = included - excluded
//	eligible     = all eligible - restricted
//	restricted   = all eligible - eligible
//
// so that the two outputs never overlap and together cover exactly the
// included areas that are not excluded. All inputs are clipped to the base
// area and reduced to single polygons first, and polygons no larger than a
// sliver threshold are dropped from the outputs.
package eligibility

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/eligibility/internal/fetch"
	"github.com/spatialmodel/eligibility/internal/hash"
	"github.com/spatialmodel/eligibility/internal/metrics"
	"github.com/spatialmodel/eligibility/vector"
	"github.com/twpayne/go-geos"
)

// Config defines an eligibility analysis.
type Config struct {
	// BaseArea is the area of interest. All other areas are clipped to it.
	// Buffering is not applied to the base area.
	BaseArea AreaSpec

	// Included, Excluded and Restricted are the areas of each category.
	// Their order is kept in the outputs.
	Included, Excluded, Restricted []AreaSpec

	// SliverThreshold is the area that an output polygon needs to exceed
	// to be kept. Zero or negative values keep every polygon.
	SliverThreshold float64

	// CRS is the target spatial reference as a proj4 string, a WKT
	// definition or an "EPSG:<code>" identifier. If empty, sources are
	// used in whatever reference they have.
	CRS string

	// MakeValid specifies whether invalid geometries are repaired. It
	// defaults to true.
	MakeValid *bool

	// Concurrent specifies whether the three area categories are prepared
	// in parallel.
	Concurrent bool
}

// Fetcher makes the file behind a locator available locally. Downloads
// are stored inside dir, which the caller removes when it is done.
type Fetcher interface {
	Fetch(ctx context.Context, locator, dir string) (path string, err error)
}

// Analysis runs an eligibility analysis. The analysis keeps no state
// between runs, so Run may be called repeatedly and concurrently.
type Analysis struct {
	// Log receives progress messages and diagnostics.
	Log logrus.FieldLogger

	// Fetcher resolves the locators of area sources.
	Fetcher Fetcher

	// Metrics, if not nil, records run statistics.
	Metrics *metrics.Recorder

	cfg       Config
	sr        *proj.SR
	makeValid bool
}

// NewAnalysis checks cfg and returns an analysis for it.
func NewAnalysis(cfg Config) (*Analysis, error) {
	a := &Analysis{
		Log:       logrus.StandardLogger(),
		Fetcher:   &fetch.Fetcher{},
		cfg:       cfg,
		makeValid: true,
	}
	if cfg.MakeValid != nil {
		a.makeValid = *cfg.MakeValid
	}
	if cfg.CRS != "" {
		sr, err := vector.ParseCRS(cfg.CRS)
		if err != nil {
			return nil, fmt.Errorf("eligibility: CRS: %w", err)
		}
		a.sr = sr
	}
	return a, nil
}

// Config returns the configuration of the analysis.
func (a *Analysis) Config() Config { return a.cfg }

// Result holds the outputs of a run.
type Result struct {
	// RunID identifies the configuration that produced the result.
	RunID string

	// Eligible holds the areas that are eligible without restriction.
	Eligible *vector.Collection

	// EligibleWithRestriction holds the eligible areas that are covered
	// by a restricted area.
	EligibleWithRestriction *vector.Collection

	// AllEligible holds the included areas that are not excluded, before
	// sliver removal.
	AllEligible *vector.Collection

	Diagnostics []Diagnostic
}

// Run performs the analysis.
func (a *Analysis) Run(ctx context.Context) (res *Result, err error) {
	start := time.Now()
	runID := a.RunID()
	log := a.Log.WithField("run", runID)
	diag := &diagnostics{log: log}
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			log.WithError(err).Error("eligibility run failed")
		}
		a.Metrics.ObserveRun(status, time.Since(start))
	}()
	log.WithFields(logrus.Fields{
		"included":   len(a.cfg.Included),
		"excluded":   len(a.cfg.Excluded),
		"restricted": len(a.cfg.Restricted),
	}).Info("eligibility starting run")

	dir, err := os.MkdirTemp("", "eligibility")
	if err != nil {
		return nil, fmt.Errorf("eligibility: creating download directory: %w", err)
	}
	defer os.RemoveAll(dir)

	stage := time.Now()
	base, err := a.prepareBase(ctx, dir, diag)
	if err != nil {
		return nil, err
	}
	mask, err := vector.Union(base.Geoms())
	if err != nil {
		return nil, fmt.Errorf("eligibility: base area: %w", err)
	}
	a.done(log, "base", stage, base.Len())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	cats, areas, err := a.prepareCategories(ctx, mask, base.SR, dir, diag)
	if err != nil {
		return nil, err
	}
	include, exclude, restricted := cats[0], cats[1], cats[2]
	a.done(log, "prepare", stage, include.Len()+exclude.Len()+restricted.Len())
	if a.sr == nil {
		checkCRS(diag, append([]preparedArea{{name: a.cfg.BaseArea.label("base"), c: base}}, areas...))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	allEligible, err := a.difference(include, exclude)
	if err != nil {
		return nil, fmt.Errorf("eligibility: removing excluded areas: %w", err)
	}
	a.done(log, "exclude", stage, allEligible.Len())
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stage = time.Now()
	eligible, err := a.difference(allEligible, restricted)
	if err != nil {
		return nil, fmt.Errorf("eligibility: removing restricted areas: %w", err)
	}
	withRestriction, err := a.difference(allEligible, eligible)
	if err != nil {
		return nil, fmt.Errorf("eligibility: deriving restricted areas: %w", err)
	}
	a.done(log, "restrict", stage, eligible.Len()+withRestriction.Len())

	stage = time.Now()
	eligible = removeSlivers(eligible, a.cfg.SliverThreshold)
	withRestriction = removeSlivers(withRestriction, a.cfg.SliverThreshold)
	a.done(log, "slivers", stage, eligible.Len()+withRestriction.Len())

	res = &Result{
		RunID:                   runID,
		Eligible:                eligible,
		EligibleWithRestriction: withRestriction,
		AllEligible:             allEligible,
		Diagnostics:             diag.all(),
	}
	a.Metrics.ObserveArea("eligible", eligible.Area())
	a.Metrics.ObserveArea("eligible_with_restriction", withRestriction.Area())
	for _, d := range res.Diagnostics {
		a.Metrics.CountDiagnostic(string(d.Kind))
	}
	log.WithFields(logrus.Fields{
		"eligible":                  eligible.Len(),
		"eligible_area":             eligible.Area(),
		"eligible_with_restriction": withRestriction.Len(),
		"restricted_area":           withRestriction.Area(),
		"diagnostics":               len(res.Diagnostics),
		"duration":                  time.Since(start),
	}).Info("eligibility finished run")
	return res, nil
}

func (a *Analysis) done(log logrus.FieldLogger, stage string, start time.Time, features int) {
	d := time.Since(start)
	a.Metrics.ObserveStage(stage, d)
	log.WithFields(logrus.Fields{
		"stage":    stage,
		"features": features,
		"duration": d,
	}).Info("eligibility finished stage")
}

// prepareBase loads the base area. It is brought into the target spatial
// reference but neither buffered nor clipped.
func (a *Analysis) prepareBase(ctx context.Context, dir string, diag *diagnostics) (*vector.Collection, error) {
	spec := a.cfg.BaseArea
	name := spec.label("base")
	if spec.Buffer != nil || spec.BufferArgs != nil {
		diag.add(ConfigurationConflict, name, "the base area is not buffered; Buffer and BufferArgs are ignored")
	}
	if len(spec.ColumnsToKeep) > 0 {
		diag.add(ConfigurationConflict, name, "the base area has no attributes; ColumnsToKeep is ignored")
	}
	base, err := a.load(ctx, spec, name, dir)
	if err != nil {
		return nil, err
	}
	if base.SR == nil {
		base = vector.AssignCRS(base, a.sr)
	}
	return base, nil
}

var categoryNames = [3]string{"included", "excluded", "restricted"}

// preparedArea is one prepared area of a category.
type preparedArea struct {
	name string
	c    *vector.Collection
}

// prepareCategories prepares the included, excluded and restricted areas,
// in that order. It also returns every prepared area, in the same order.
func (a *Analysis) prepareCategories(ctx context.Context, mask *geos.Geom, baseSR *proj.SR, dir string, diag *diagnostics) ([3]*vector.Collection, []preparedArea, error) {
	specs := [3][]AreaSpec{a.cfg.Included, a.cfg.Excluded, a.cfg.Restricted}
	var out [3]*vector.Collection
	var parts [3][]preparedArea
	var errs [3]error
	sr := a.sr
	if sr == nil {
		sr = baseSR
	}
	if !a.cfg.Concurrent {
		for i := range specs {
			out[i], parts[i], errs[i] = a.prepareCategory(ctx, categoryNames[i], specs[i], mask, sr, dir, diag)
			if errs[i] != nil {
				return out, nil, errs[i]
			}
		}
	} else {
		var wg sync.WaitGroup
		for i := range specs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				out[i], parts[i], errs[i] = a.prepareCategory(ctx, categoryNames[i], specs[i], mask, sr, dir, diag)
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return out, nil, err
			}
		}
	}
	areas := make([]preparedArea, 0, len(parts[0])+len(parts[1])+len(parts[2]))
	for _, p := range parts {
		areas = append(areas, p...)
	}
	return out, areas, nil
}

// prepareCategory prepares every area of one category and concatenates
// them. The result carries sr even if it is empty.
func (a *Analysis) prepareCategory(ctx context.Context, category string, specs []AreaSpec, mask *geos.Geom, sr *proj.SR, dir string, diag *diagnostics) (*vector.Collection, []preparedArea, error) {
	parts := make([]preparedArea, 0, len(specs))
	cs := make([]*vector.Collection, 0, len(specs))
	for i, spec := range specs {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		name := spec.label(fmt.Sprintf("%s[%d]", category, i))
		c, err := a.prepare(ctx, spec, name, mask, dir, diag)
		if err != nil {
			return nil, nil, err
		}
		parts = append(parts, preparedArea{name: name, c: c})
		cs = append(cs, c)
	}
	c := vector.Concat(cs...)
	if c.SR == nil {
		c.SR = sr
	}
	return c, parts, nil
}

// difference subtracts y from x. An empty x stays empty, and subtracting
// an empty y returns x unchanged.
func (a *Analysis) difference(x, y *vector.Collection) (*vector.Collection, error) {
	if x.IsEmpty() || y.IsEmpty() {
		return x, nil
	}
	d, err := vector.Overlay(x, y, vector.OpDifference, true, a.makeValid)
	if err != nil {
		return nil, err
	}
	return polygonsOnly(d)
}

// removeSlivers drops the polygons of c whose area does not exceed
// threshold.
func removeSlivers(c *vector.Collection, threshold float64) *vector.Collection {
	if threshold <= 0 || c.IsEmpty() {
		return c
	}
	return vector.Where(c, func(f *vector.Feature) bool {
		return f.Area() > threshold
	})
}

// checkCRS reports the areas whose spatial reference differs from that of
// the first area declaring one.
func checkCRS(diag *diagnostics, areas []preparedArea) {
	var ref *preparedArea
	for i := range areas {
		p := &areas[i]
		if p.c.IsEmpty() || p.c.SR == nil {
			continue
		}
		if ref == nil {
			ref = p
			continue
		}
		if p.c.SR != ref.c.SR && !p.c.SR.Equal(ref.c.SR, 0) {
			diag.add(MixedCRS, p.name,
				"the spatial reference differs from that of area %s and no target CRS is configured", ref.name)
		}
	}
}

// RunID returns a fingerprint of the configuration of a. Runs of equal
// configurations share an ID.
func (a *Analysis) RunID() string {
	type areaPrint struct {
		Name, Filter string
		Locator      string
		Geoms        [][]byte
		Buffer       *float64
		BufferArgs   *vector.BufferParams
		Columns      []string
	}
	fingerprint := func(s AreaSpec) areaPrint {
		p := areaPrint{Name: s.Name, Filter: s.Filter, Buffer: s.Buffer, BufferArgs: s.BufferArgs, Columns: s.ColumnsToKeep}
		switch src := s.Source.(type) {
		case *vector.Collection:
			if src != nil {
				for _, f := range src.Features {
					p.Geoms = append(p.Geoms, f.Geom.ToWKB())
				}
			}
		case Locator:
			p.Locator = string(src)
		case string:
			p.Locator = src
		}
		return p
	}
	prints := func(ss []AreaSpec) []areaPrint {
		o := make([]areaPrint, len(ss))
		for i, s := range ss {
			o[i] = fingerprint(s)
		}
		return o
	}
	return hash.Hash(struct {
		Base                           areaPrint
		Included, Excluded, Restricted []areaPrint
		SliverThreshold                float64
		CRS                            string
		MakeValid                      bool
	}{
		Base:            fingerprint(a.cfg.BaseArea),
		Included:        prints(a.cfg.Included),
		Excluded:        prints(a.cfg.Excluded),
		Restricted:      prints(a.cfg.Restricted),
		SliverThreshold: a.cfg.SliverThreshold,
		CRS:             a.cfg.CRS,
		MakeValid:       a.makeValid,
	})
}
