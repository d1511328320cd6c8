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

package vector

import (
	"fmt"

	"github.com/ctessum/geom/proj"
	"github.com/twpayne/go-geos"
)

// Geometry type names as reported by Feature.Type.
const (
	TypePoint              = "Point"
	TypeLineString         = "LineString"
	TypePolygon            = "Polygon"
	TypeMultiPoint         = "MultiPoint"
	TypeMultiLineString    = "MultiLineString"
	TypeMultiPolygon       = "MultiPolygon"
	TypeGeometryCollection = "GeometryCollection"
)

// Type returns the geometry type name of the feature, e.g. "Polygon".
func (f *Feature) Type() string {
	if f.Geom == nil {
		return ""
	}
	return f.Geom.Type()
}

// Where returns a copy of c holding only the features for which keep
// returns true.
func Where(c *Collection, keep func(*Feature) bool) *Collection {
	o := c.like()
	for _, f := range c.Features {
		if keep(f) {
			o.Features = append(o.Features, f.clone(nil))
		}
	}
	return o
}

// AssignCRS returns a copy of c that declares sr as its spatial reference
// without transforming any coordinates.
func AssignCRS(c *Collection, sr *proj.SR) *Collection {
	o := c.Clone()
	o.SR = sr
	return o
}

// Reproject transforms the coordinates of c into sr. c must declare a
// spatial reference.
func Reproject(c *Collection, sr *proj.SR) (out *Collection, err error) {
	if c.SR == nil {
		return nil, fmt.Errorf("vector: reproject: collection has no spatial reference")
	}
	ct, err := c.SR.NewTransform(sr)
	if err != nil {
		return nil, fmt.Errorf("vector: reproject: %w", err)
	}
	defer catch("reproject", &err)
	o := c.like()
	o.SR = sr
	for i, f := range c.Features {
		g, err := fromGEOS(f.Geom)
		if err != nil {
			return nil, err
		}
		g, err = g.Transform(ct)
		if err != nil {
			return nil, fmt.Errorf("vector: reproject feature %d: %w", i, err)
		}
		gg, err := toGEOS(g)
		if err != nil {
			return nil, err
		}
		o.Features = append(o.Features, f.clone(gg))
	}
	return o, nil
}

// Union returns the geometric union of geoms. The union of no geometries
// is an empty geometry collection.
func Union(geoms []*geos.Geom) (out *geos.Geom, err error) {
	defer catch("union", &err)
	return union(geoms), nil
}

func union(geoms []*geos.Geom) *geos.Geom {
	if len(geoms) == 0 {
		return geos.NewEmptyCollection(geos.TypeIDGeometryCollection)
	}
	if len(geoms) == 1 {
		return geoms[0].UnaryUnion()
	}
	parts := make([]*geos.Geom, len(geoms))
	for i, g := range geoms {
		parts[i] = g.Clone()
	}
	return geos.NewCollection(geos.TypeIDGeometryCollection, parts).UnaryUnion()
}

// Clip returns the parts of the features of c that lie within mask.
// Features that do not intersect mask, or whose intersection with it
// is empty, are dropped. Attributes are kept.
func Clip(c *Collection, mask *geos.Geom) (out *Collection, err error) {
	defer catch("clip", &err)
	o := c.like()
	if mask == nil || mask.IsEmpty() {
		return o, nil
	}
	for _, f := range c.Features {
		if f.Geom.IsEmpty() || !f.Geom.Intersects(mask) {
			continue
		}
		g := f.Geom.Intersection(mask)
		if g.IsEmpty() {
			continue
		}
		o.Features = append(o.Features, f.clone(g))
	}
	return o, nil
}

// Explode splits multi-part geometries and geometry collections into one
// feature per single-part geometry. Each part carries a copy of the
// attributes of its parent. Empty parts are dropped.
func Explode(c *Collection) (out *Collection, err error) {
	defer catch("explode", &err)
	o := c.like()
	for _, f := range c.Features {
		for _, part := range singleParts(f.Geom) {
			o.Features = append(o.Features, f.clone(part))
		}
	}
	return o, nil
}

func singleParts(g *geos.Geom) []*geos.Geom {
	if g == nil || g.IsEmpty() {
		return nil
	}
	switch g.TypeID() {
	case geos.TypeIDMultiPoint, geos.TypeIDMultiLineString, geos.TypeIDMultiPolygon,
		geos.TypeIDGeometryCollection:
		var o []*geos.Geom
		for i := 0; i < g.NumGeometries(); i++ {
			o = append(o, singleParts(g.Geometry(i))...)
		}
		return o
	default:
		return []*geos.Geom{g.Clone()}
	}
}

// dimension returns the topological dimension of g: 0 for points, 1 for
// lines and 2 for polygons. Collections report their highest dimension.
func dimension(g *geos.Geom) int {
	switch g.TypeID() {
	case geos.TypeIDPoint, geos.TypeIDMultiPoint:
		return 0
	case geos.TypeIDLineString, geos.TypeIDLinearRing, geos.TypeIDMultiLineString:
		return 1
	case geos.TypeIDPolygon, geos.TypeIDMultiPolygon:
		return 2
	default:
		d := -1
		for i := 0; i < g.NumGeometries(); i++ {
			if dd := dimension(g.Geometry(i)); dd > d {
				d = dd
			}
		}
		return d
	}
}

// keepDimension returns the parts of g with dimension dim, or nil if there
// are none.
func keepDimension(g *geos.Geom, dim int) *geos.Geom {
	if g.IsEmpty() {
		return nil
	}
	if g.TypeID() != geos.TypeIDGeometryCollection {
		if dimension(g) == dim {
			return g
		}
		return nil
	}
	var parts []*geos.Geom
	for _, p := range singleParts(g) {
		if dimension(p) == dim {
			parts = append(parts, p)
		}
	}
	switch {
	case len(parts) == 0:
		return nil
	case len(parts) == 1:
		return parts[0]
	}
	switch dim {
	case 0:
		return geos.NewCollection(geos.TypeIDMultiPoint, parts)
	case 1:
		return geos.NewCollection(geos.TypeIDMultiLineString, parts)
	default:
		return geos.NewCollection(geos.TypeIDMultiPolygon, parts)
	}
}
