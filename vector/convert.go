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

	"github.com/ctessum/geom"
	"github.com/twpayne/go-geos"
)

// ToGEOS converts a github.com/ctessum/geom geometry to GEOS.
// The rings of a geom.Polygon carry no explicit role, so they are
// combined with the even-odd rule: a ring nested inside an odd number
// of other rings is a hole, regardless of its winding order.
func ToGEOS(g geom.Geom) (out *geos.Geom, err error) {
	defer catch("convert to GEOS", &err)
	return toGEOS(g)
}

func toGEOS(g geom.Geom) (*geos.Geom, error) {
	switch t := g.(type) {
	case geom.Point:
		return geos.NewPoint([]float64{t.X, t.Y}), nil
	case *geom.Point:
		return geos.NewPoint([]float64{t.X, t.Y}), nil
	case geom.MultiPoint:
		parts := make([]*geos.Geom, len(t))
		for i, p := range t {
			parts[i] = geos.NewPoint([]float64{p.X, p.Y})
		}
		return collect(geos.TypeIDMultiPoint, parts), nil
	case geom.LineString:
		return lineToGEOS(t), nil
	case geom.MultiLineString:
		var parts []*geos.Geom
		for _, l := range t {
			if len(l) >= 2 {
				parts = append(parts, lineToGEOS(l))
			}
		}
		return collect(geos.TypeIDMultiLineString, parts), nil
	case geom.Polygon:
		return polygonToGEOS(t), nil
	case geom.MultiPolygon:
		var parts []*geos.Geom
		for _, p := range t {
			parts = append(parts, polygonParts(polygonToGEOS(p))...)
		}
		return collect(geos.TypeIDMultiPolygon, parts), nil
	case geom.GeometryCollection:
		parts := make([]*geos.Geom, 0, len(t))
		for _, gg := range t {
			p, err := toGEOS(gg)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		return collect(geos.TypeIDGeometryCollection, parts), nil
	case nil:
		return nil, fmt.Errorf("vector: nil geometry: %w", ErrUnsupportedGeometry)
	default:
		return nil, fmt.Errorf("vector: %T: %w", g, ErrUnsupportedGeometry)
	}
}

// collect builds a collection of the given type that takes ownership of parts.
func collect(typeID geos.TypeID, parts []*geos.Geom) *geos.Geom {
	if len(parts) == 0 {
		return geos.NewEmptyCollection(typeID)
	}
	return geos.NewCollection(typeID, parts)
}

func lineToGEOS(l geom.LineString) *geos.Geom {
	if len(l) < 2 {
		return geos.NewEmptyCollection(geos.TypeIDMultiLineString)
	}
	return geos.NewLineString(pointsToCoords(l))
}

func polygonToGEOS(p geom.Polygon) *geos.Geom {
	var out *geos.Geom
	for _, r := range p {
		coords := closeRing(pointsToCoords(r))
		if len(coords) < 4 {
			continue
		}
		rg := geos.NewPolygon([][][]float64{coords})
		if !rg.IsValid() {
			rg = rg.MakeValid()
		}
		if out == nil {
			out = rg
			continue
		}
		out = out.SymDifference(rg)
	}
	if out == nil {
		return geos.NewEmptyCollection(geos.TypeIDMultiPolygon)
	}
	return out
}

// polygonParts returns clones of the single polygons in g.
func polygonParts(g *geos.Geom) []*geos.Geom {
	switch g.TypeID() {
	case geos.TypeIDPolygon:
		if g.IsEmpty() {
			return nil
		}
		return []*geos.Geom{g.Clone()}
	case geos.TypeIDMultiPolygon, geos.TypeIDGeometryCollection:
		var o []*geos.Geom
		for i := 0; i < g.NumGeometries(); i++ {
			o = append(o, polygonParts(g.Geometry(i))...)
		}
		return o
	default:
		return nil
	}
}

func pointsToCoords(pts []geom.Point) [][]float64 {
	o := make([][]float64, len(pts))
	for i, p := range pts {
		o[i] = []float64{p.X, p.Y}
	}
	return o
}

// closeRing appends the first coordinate if the ring is open.
func closeRing(c [][]float64) [][]float64 {
	if len(c) == 0 {
		return c
	}
	first, last := c[0], c[len(c)-1]
	if first[0] != last[0] || first[1] != last[1] {
		c = append(c, []float64{first[0], first[1]})
	}
	return c
}

// FromGEOS converts a GEOS geometry to its github.com/ctessum/geom
// equivalent.
func FromGEOS(g *geos.Geom) (out geom.Geom, err error) {
	defer catch("convert from GEOS", &err)
	return fromGEOS(g)
}

func fromGEOS(g *geos.Geom) (geom.Geom, error) {
	switch g.TypeID() {
	case geos.TypeIDPoint:
		c := g.CoordSeq().ToCoords()
		if len(c) == 0 {
			return geom.MultiPoint{}, nil
		}
		return geom.Point{X: c[0][0], Y: c[0][1]}, nil
	case geos.TypeIDLineString, geos.TypeIDLinearRing:
		return geom.LineString(coordsToPoints(g.CoordSeq().ToCoords())), nil
	case geos.TypeIDPolygon:
		return polygonFromGEOS(g), nil
	case geos.TypeIDMultiPoint:
		o := make(geom.MultiPoint, 0, g.NumGeometries())
		for i := 0; i < g.NumGeometries(); i++ {
			c := g.Geometry(i).CoordSeq().ToCoords()
			if len(c) > 0 {
				o = append(o, geom.Point{X: c[0][0], Y: c[0][1]})
			}
		}
		return o, nil
	case geos.TypeIDMultiLineString:
		o := make(geom.MultiLineString, 0, g.NumGeometries())
		for i := 0; i < g.NumGeometries(); i++ {
			o = append(o, geom.LineString(coordsToPoints(g.Geometry(i).CoordSeq().ToCoords())))
		}
		return o, nil
	case geos.TypeIDMultiPolygon:
		o := make(geom.MultiPolygon, 0, g.NumGeometries())
		for i := 0; i < g.NumGeometries(); i++ {
			o = append(o, polygonFromGEOS(g.Geometry(i)))
		}
		return o, nil
	case geos.TypeIDGeometryCollection:
		o := make(geom.GeometryCollection, 0, g.NumGeometries())
		for i := 0; i < g.NumGeometries(); i++ {
			gg, err := fromGEOS(g.Geometry(i))
			if err != nil {
				return nil, err
			}
			o = append(o, gg)
		}
		return o, nil
	default:
		return nil, fmt.Errorf("vector: GEOS type %s: %w", g.Type(), ErrUnsupportedGeometry)
	}
}

func polygonFromGEOS(g *geos.Geom) geom.Polygon {
	if g.IsEmpty() {
		return geom.Polygon{}
	}
	p := geom.Polygon{geom.Path(coordsToPoints(g.ExteriorRing().CoordSeq().ToCoords()))}
	for i := 0; i < g.NumInteriorRings(); i++ {
		p = append(p, geom.Path(coordsToPoints(g.InteriorRing(i).CoordSeq().ToCoords())))
	}
	return p
}

func coordsToPoints(c [][]float64) []geom.Point {
	o := make([]geom.Point, len(c))
	for i, xy := range c {
		o[i] = geom.Point{X: xy[0], Y: xy[1]}
	}
	return o
}
