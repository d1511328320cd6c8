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

// Package vector holds collections of geometries with attributes and the
// set of geometric operations that land-eligibility analysis is built from.
// Geometry processing is carried out by GEOS, while spatial references and
// file encodings are handled by github.com/ctessum/geom.
package vector

import (
	"fmt"

	"github.com/ctessum/geom/proj"
	"github.com/twpayne/go-geos"
)

// Feature is a single geometry and its attribute values.
type Feature struct {
	Geom       *geos.Geom
	Properties map[string]interface{}
}

// Area returns the planar area of the feature geometry in the squared
// units of its spatial reference.
func (f *Feature) Area() float64 {
	if f.Geom == nil || f.Geom.IsEmpty() {
		return 0
	}
	return f.Geom.Area()
}

// clone returns a deep copy of f, optionally replacing the geometry.
func (f *Feature) clone(g *geos.Geom) *Feature {
	if g == nil {
		g = f.Geom.Clone()
	}
	o := &Feature{Geom: g}
	if f.Properties != nil {
		o.Properties = make(map[string]interface{}, len(f.Properties))
		for k, v := range f.Properties {
			o.Properties[k] = v
		}
	}
	return o
}

// Collection is an ordered set of features sharing one attribute schema
// and one spatial reference. Operations in this package never modify
// their input collections.
type Collection struct {
	Features []*Feature

	// Columns is the ordered attribute schema of the collection.
	Columns []string

	// SR is the spatial reference of the coordinates. A nil SR means
	// that the collection does not declare one.
	SR *proj.SR
}

// NewCollection creates a collection from geometries without attributes.
func NewCollection(sr *proj.SR, geoms ...*geos.Geom) *Collection {
	c := &Collection{SR: sr}
	for _, g := range geoms {
		c.Features = append(c.Features, &Feature{Geom: g})
	}
	return c
}

// Empty returns an empty collection with the given spatial reference.
func Empty(sr *proj.SR) *Collection {
	return &Collection{SR: sr}
}

// Len returns the number of features in c.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Features)
}

// IsEmpty returns whether c holds no features.
func (c *Collection) IsEmpty() bool { return c.Len() == 0 }

// Area returns the summed area of all features in c.
func (c *Collection) Area() float64 {
	var a float64
	if c == nil {
		return a
	}
	for _, f := range c.Features {
		a += f.Area()
	}
	return a
}

// Geoms returns the feature geometries of c.
func (c *Collection) Geoms() []*geos.Geom {
	o := make([]*geos.Geom, len(c.Features))
	for i, f := range c.Features {
		o[i] = f.Geom
	}
	return o
}

// HasColumn returns whether name is part of the attribute schema of c.
func (c *Collection) HasColumn(name string) bool {
	for _, col := range c.Columns {
		if col == name {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of c.
func (c *Collection) Clone() *Collection {
	o := c.like()
	for _, f := range c.Features {
		o.Features = append(o.Features, f.clone(nil))
	}
	return o
}

// like returns an empty collection with the schema and spatial reference of c.
func (c *Collection) like() *Collection {
	o := &Collection{SR: c.SR}
	if c.Columns != nil {
		o.Columns = append([]string(nil), c.Columns...)
	}
	return o
}

// Select returns a copy of c that only holds the named attribute columns,
// in the given order. It returns an error wrapping ErrUnknownAttribute
// if a column is not part of the schema of c.
func (c *Collection) Select(columns ...string) (*Collection, error) {
	for _, col := range columns {
		if !c.HasColumn(col) {
			return nil, fmt.Errorf("vector: select column %q: %w", col, ErrUnknownAttribute)
		}
	}
	o := &Collection{SR: c.SR, Columns: append([]string{}, columns...)}
	for _, f := range c.Features {
		nf := &Feature{Geom: f.Geom.Clone(), Properties: make(map[string]interface{}, len(columns))}
		for _, col := range columns {
			nf.Properties[col] = f.Properties[col]
		}
		o.Features = append(o.Features, nf)
	}
	return o, nil
}

// GeometryOnly returns a copy of c without attribute columns.
func (c *Collection) GeometryOnly() *Collection {
	o := &Collection{SR: c.SR}
	for _, f := range c.Features {
		o.Features = append(o.Features, &Feature{Geom: f.Geom.Clone()})
	}
	return o
}

// Concat joins collections in order. The attribute schema of the result
// is the ordered union of the input schemas, and the spatial reference
// is that of the first collection declaring one. Nil collections are
// skipped.
func Concat(cs ...*Collection) *Collection {
	o := new(Collection)
	seen := make(map[string]bool)
	for _, c := range cs {
		if c == nil {
			continue
		}
		if o.SR == nil {
			o.SR = c.SR
		}
		for _, col := range c.Columns {
			if !seen[col] {
				seen[col] = true
				o.Columns = append(o.Columns, col)
			}
		}
		for _, f := range c.Features {
			o.Features = append(o.Features, f.clone(nil))
		}
	}
	return o
}
