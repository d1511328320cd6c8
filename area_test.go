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
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/eligibility/vector"
	"github.com/twpayne/go-geos"
	"gonum.org/v1/gonum/floats"
)

const testTolerance = 1e-9

func box(minX, minY, maxX, maxY float64) *geos.Geom {
	return geos.NewGeomFromBounds(minX, minY, maxX, maxY)
}

// suitable returns two 2x2 squares on the diagonal of the 4x4 base area,
// with a "col1" attribute.
func suitable() *vector.Collection {
	c := vector.NewCollection(nil, box(0, 0, 2, 2), box(2, 2, 4, 4))
	c.Columns = []string{"col1"}
	c.Features[0].Properties = map[string]interface{}{"col1": 1.0}
	c.Features[1].Properties = map[string]interface{}{"col1": 2.0}
	return c
}

func baseArea() *vector.Collection {
	return vector.NewCollection(nil, box(0, 0, 4, 4))
}

func testAnalysis(t *testing.T, cfg Config) *Analysis {
	t.Helper()
	a, err := NewAnalysis(cfg)
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.Out = io.Discard
	a.Log = log
	return a
}

func squareMitre(d float64) *vector.BufferParams {
	return &vector.BufferParams{Distance: d, CapStyle: "square", JoinStyle: "mitre"}
}

func countKind(ds []Diagnostic, k DiagnosticKind) int {
	var n int
	for _, d := range ds {
		if d.Kind == k {
			n++
		}
	}
	return n
}

func TestPrepare(t *testing.T) {
	tests := []struct {
		name      string
		spec      AreaSpec
		n         int
		area      float64
		columns   []string
		conflicts int
	}{
		{
			name:    "no filter",
			spec:    AreaSpec{Source: suitable()},
			n:       2,
			area:    8,
			columns: []string{"col1"},
		},
		{
			name:    "filter",
			spec:    AreaSpec{Source: suitable(), Filter: "col1 == 1"},
			n:       1,
			area:    4,
			columns: []string{"col1"},
		},
		{
			name: "buffer drops columns",
			spec: AreaSpec{Source: suitable(), BufferArgs: squareMitre(1)},
			n:    1,
			area: 14,
		},
		{
			name:    "keep columns",
			spec:    AreaSpec{Source: suitable(), ColumnsToKeep: []string{"col1"}},
			n:       2,
			area:    8,
			columns: []string{"col1"},
		},
		{
			name:      "keep columns with buffer",
			spec:      AreaSpec{Source: suitable(), ColumnsToKeep: []string{"col1"}, BufferArgs: squareMitre(1)},
			n:         1,
			area:      14,
			conflicts: 1,
		},
		{
			name: "outside base",
			spec: AreaSpec{Source: vector.NewCollection(nil, box(10, 10, 12, 12))},
		},
		{
			name: "lines dropped",
			spec: AreaSpec{Source: vector.NewCollection(nil, mustWKT(t, "LINESTRING (0 0, 4 4)"))},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			a := testAnalysis(t, Config{})
			c, diags, err := a.Prepare(context.Background(), test.spec, baseArea())
			if err != nil {
				t.Fatal(err)
			}
			if c.Len() != test.n {
				t.Errorf("features: %d != %d", c.Len(), test.n)
			}
			if a := c.Area(); !floats.EqualWithinAbs(a, test.area, testTolerance) {
				t.Errorf("area: %g != %g", a, test.area)
			}
			if len(c.Columns) != len(test.columns) {
				t.Errorf("columns: %v != %v", c.Columns, test.columns)
			}
			if n := countKind(diags, ConfigurationConflict); n != test.conflicts {
				t.Errorf("conflicts: %d != %d (%v)", n, test.conflicts, diags)
			}
			for i, f := range c.Features {
				if f.Type() != vector.TypePolygon {
					t.Errorf("feature %d is a %s", i, f.Type())
				}
			}
		})
	}
}

func TestPrepare_plainBufferWins(t *testing.T) {
	one := 1.0
	a := testAnalysis(t, Config{})
	c, diags, err := a.Prepare(context.Background(),
		AreaSpec{Source: suitable(), Buffer: &one, BufferArgs: squareMitre(0.5)}, baseArea())
	if err != nil {
		t.Fatal(err)
	}
	// The rounded corners of each buffered square fall inside the other
	// one, so the clipped union is [0,3]x[0,3] plus [1,4]x[1,4]. With
	// BufferArgs the area would be 11.5.
	if a := c.Area(); !floats.EqualWithinAbs(a, 14, 1e-6) {
		t.Errorf("area: %g != 14", a)
	}
	if len(diags) != 1 || diags[0].Kind != ConfigurationConflict {
		t.Errorf("diagnostics: %v", diags)
	}
}

func mustWKT(t *testing.T, wkt string) *geos.Geom {
	t.Helper()
	g, err := geos.NewGeomFromWKT(wkt)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestPrepare_sourceErrors(t *testing.T) {
	tests := []struct {
		name string
		spec AreaSpec
		want error
	}{
		{name: "unknown filter attribute", spec: AreaSpec{Source: suitable(), Filter: "col2 == 1"}, want: vector.ErrUnknownAttribute},
		{name: "malformed filter", spec: AreaSpec{Source: suitable(), Filter: "col1 =="}},
		{name: "unknown column", spec: AreaSpec{Source: suitable(), ColumnsToKeep: []string{"col2"}}, want: vector.ErrUnknownAttribute},
		{name: "empty locator", spec: AreaSpec{Source: Locator("")}, want: ErrEmptyLocator},
		{name: "missing file", spec: AreaSpec{Source: filepath.Join(t.TempDir(), "missing.geojson")}},
		{name: "no source", spec: AreaSpec{}},
		{name: "unsupported source", spec: AreaSpec{Source: 42}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			a := testAnalysis(t, Config{})
			_, _, err := a.Prepare(context.Background(), test.spec, baseArea())
			var se *SourceError
			if !errors.As(err, &se) {
				t.Fatalf("err = %v; want a SourceError", err)
			}
			if test.want != nil && !errors.Is(err, test.want) {
				t.Errorf("err = %v; want %v", err, test.want)
			}
		})
	}
}

func TestPrepare_locator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "suitable.geojson")
	if err := vector.Write(path, suitable()); err != nil {
		t.Fatal(err)
	}
	a := testAnalysis(t, Config{})
	for _, src := range []Source{Locator(path), path} {
		c, _, err := a.Prepare(context.Background(), AreaSpec{Source: src, Filter: "col1 == 2"}, baseArea())
		if err != nil {
			t.Fatal(err)
		}
		if c.Len() != 1 {
			t.Fatalf("features: %d != 1", c.Len())
		}
		if v := c.Features[0].Properties["col1"]; v != 2.0 {
			t.Errorf("col1: %v", v)
		}
	}
}

func TestPolygonsOnly_idempotent(t *testing.T) {
	c := vector.NewCollection(nil,
		mustWKT(t, "MULTIPOLYGON (((0 0, 1 0, 1 1, 0 1, 0 0)), ((2 2, 3 2, 3 3, 2 3, 2 2)))"),
		mustWKT(t, "GEOMETRYCOLLECTION (POINT (5 5), LINESTRING (0 0, 1 1), POLYGON ((4 0, 6 0, 6 2, 4 2, 4 0)))"),
	)
	once, err := polygonsOnly(c)
	if err != nil {
		t.Fatal(err)
	}
	if once.Len() != 3 {
		t.Fatalf("features: %d != 3", once.Len())
	}
	twice, err := polygonsOnly(once)
	if err != nil {
		t.Fatal(err)
	}
	if twice.Len() != once.Len() {
		t.Fatalf("features: %d != %d", twice.Len(), once.Len())
	}
	for i := range once.Features {
		if !twice.Features[i].Geom.Equals(once.Features[i].Geom) {
			t.Errorf("feature %d changed", i)
		}
	}
}
