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

package eligibility

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ctessum/geom/proj"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/eligibility/vector"
	"github.com/twpayne/go-geos"
)

// Locator is the path or URL of a file holding the geometries of an area.
// Local paths, http(s) URLs and gs://, s3:// and file:// blob URLs are
// accepted; shapefile sidecar files are fetched along with the ".shp".
type Locator string

// Source is where the geometries of an area come from. It must be a
// *vector.Collection held in memory, a Locator, or a string, which is
// treated as a Locator.
type Source interface{}

// AreaSpec describes one input area.
type AreaSpec struct {
	// Name identifies the area in diagnostics and logs.
	Name string

	Source Source

	// Filter is an optional attribute predicate such as
	// "landuse == 'forest' && size > 10". It is applied while the source
	// is loaded, or to the in-memory collection.
	Filter string

	// Buffer is an optional buffer distance, applied with round caps and
	// joins. It takes precedence over BufferArgs.
	Buffer *float64

	// BufferArgs optionally specifies the buffer in full.
	BufferArgs *vector.BufferParams

	// ColumnsToKeep lists the attribute columns the prepared area keeps.
	// Buffering merges all geometries into one, so it cannot be combined
	// with ColumnsToKeep.
	ColumnsToKeep []string
}

// label returns the name of the area, or def if it has none.
func (s AreaSpec) label(def string) string {
	if s.Name != "" {
		return s.Name
	}
	return def
}

// bufferParams returns the buffer to apply, if any, reporting conflicting
// options to diag.
func (s AreaSpec) bufferParams(name string, diag *diagnostics) (vector.BufferParams, bool) {
	switch {
	case s.Buffer != nil && s.BufferArgs != nil:
		diag.add(ConfigurationConflict, name,
			"Buffer and BufferArgs cannot be set at the same time; BufferArgs is ignored")
		return vector.DistanceBuffer(*s.Buffer), true
	case s.Buffer != nil:
		return vector.DistanceBuffer(*s.Buffer), true
	case s.BufferArgs != nil:
		return *s.BufferArgs, true
	default:
		return vector.BufferParams{}, false
	}
}

// Prepare turns the area described by spec into a prepared area: a
// collection of single polygons within base, in the target spatial
// reference of the analysis. Any diagnostics raised along the way are
// returned with the result.
func (a *Analysis) Prepare(ctx context.Context, spec AreaSpec, base *vector.Collection) (*vector.Collection, []Diagnostic, error) {
	diag := &diagnostics{log: a.Log.WithField("run", a.RunID())}
	mask, err := vector.Union(base.Geoms())
	if err != nil {
		return nil, nil, err
	}
	dir, err := os.MkdirTemp("", "eligibility")
	if err != nil {
		return nil, nil, fmt.Errorf("eligibility: creating download directory: %w", err)
	}
	defer os.RemoveAll(dir)
	c, err := a.prepare(ctx, spec, spec.label("area"), mask, dir, diag)
	return c, diag.all(), err
}

// prepare runs the area preparation steps against the unioned base area.
// Remote sources are downloaded into dir.
func (a *Analysis) prepare(ctx context.Context, spec AreaSpec, name string, mask *geos.Geom, dir string, diag *diagnostics) (*vector.Collection, error) {
	start := time.Now()
	c, err := a.load(ctx, spec, name, dir)
	if err != nil {
		return nil, err
	}
	loaded := c.Len()

	params, buffered := spec.bufferParams(name, diag)
	if buffered {
		if c, err = bufferUnion(c, params); err != nil {
			return nil, fmt.Errorf("eligibility: buffering area %s: %w", name, err)
		}
	}

	if c, err = vector.Clip(c, mask); err != nil {
		return nil, fmt.Errorf("eligibility: clipping area %s: %w", name, err)
	}

	switch {
	case len(spec.ColumnsToKeep) > 0 && buffered:
		diag.add(ConfigurationConflict, name,
			"ColumnsToKeep cannot be combined with buffering; ColumnsToKeep is ignored")
		c = c.GeometryOnly()
	case len(spec.ColumnsToKeep) > 0:
		if c, err = c.Select(spec.ColumnsToKeep...); err != nil {
			return nil, &SourceError{Area: name, Err: err}
		}
	}

	if c, err = polygonsOnly(c); err != nil {
		return nil, fmt.Errorf("eligibility: area %s: %w", name, err)
	}
	diag.log.WithFields(logrus.Fields{
		"area":     name,
		"loaded":   loaded,
		"prepared": c.Len(),
		"buffered": buffered,
		"duration": time.Since(start),
	}).Debug("eligibility prepared area")
	return c, nil
}

// load resolves the source of spec, applies its filter and brings it into
// the target spatial reference. Invalid geometries are repaired, or cause
// an error if repair is disabled.
func (a *Analysis) load(ctx context.Context, spec AreaSpec, name, dir string) (*vector.Collection, error) {
	filter, err := vector.ParseFilter(spec.Filter)
	if err != nil {
		return nil, &SourceError{Area: name, Err: err}
	}

	var c *vector.Collection
	switch src := spec.Source.(type) {
	case *vector.Collection:
		if src == nil {
			return nil, &SourceError{Area: name, Err: fmt.Errorf("nil collection")}
		}
		if c, err = vector.Query(src, filter); err != nil {
			return nil, &SourceError{Area: name, Err: err}
		}
	case Locator:
		if c, err = a.read(ctx, string(src), dir, filter); err != nil {
			return nil, &SourceError{Area: name, Err: err}
		}
	case string:
		if c, err = a.read(ctx, src, dir, filter); err != nil {
			return nil, &SourceError{Area: name, Err: err}
		}
	case nil:
		return nil, &SourceError{Area: name, Err: fmt.Errorf("no source")}
	default:
		return nil, &SourceError{Area: name, Err: fmt.Errorf("unsupported source type %T", src)}
	}

	if c, err = normalizeCRS(c, a.sr); err != nil {
		return nil, fmt.Errorf("eligibility: area %s: %w", name, err)
	}
	if !a.makeValid {
		if err := vector.CheckValid(c); err != nil {
			return nil, fmt.Errorf("eligibility: area %s: %w", name, err)
		}
		return c, nil
	}
	if c, err = vector.MakeValid(c); err != nil {
		return nil, fmt.Errorf("eligibility: area %s: %w", name, err)
	}
	return c, nil
}

func (a *Analysis) read(ctx context.Context, locator, dir string, filter *vector.Filter) (*vector.Collection, error) {
	if locator == "" {
		return nil, ErrEmptyLocator
	}
	path, err := a.Fetcher.Fetch(ctx, locator, dir)
	if err != nil {
		return nil, err
	}
	return vector.Read(path, filter)
}

// normalizeCRS brings c into sr. Empty collections and runs without a
// target spatial reference pass through. Collections that declare a
// spatial reference are reprojected; the others are assumed to already
// use sr and are only stamped with it.
func normalizeCRS(c *vector.Collection, sr *proj.SR) (*vector.Collection, error) {
	switch {
	case c.IsEmpty() || sr == nil:
		return c, nil
	case c.SR == nil:
		return vector.AssignCRS(c, sr), nil
	case c.SR == sr || c.SR.Equal(sr, 0):
		return vector.AssignCRS(c, sr), nil
	default:
		return vector.Reproject(c, sr)
	}
}

// bufferUnion buffers every geometry of c and merges the results into a
// single geometry without attributes.
func bufferUnion(c *vector.Collection, p vector.BufferParams) (*vector.Collection, error) {
	if c.IsEmpty() {
		return vector.Empty(c.SR), nil
	}
	geoms, err := vector.BufferCollection(c, p)
	if err != nil {
		return nil, err
	}
	u, err := vector.Union(geoms)
	if err != nil {
		return nil, err
	}
	return vector.NewCollection(c.SR, u), nil
}

// polygonsOnly explodes c into single-part geometries and keeps the
// polygons.
func polygonsOnly(c *vector.Collection) (*vector.Collection, error) {
	if c.IsEmpty() {
		return c, nil
	}
	e, err := vector.Explode(c)
	if err != nil {
		return nil, err
	}
	return vector.Where(e, func(f *vector.Feature) bool {
		return f.Type() == vector.TypePolygon
	}), nil
}
