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

	"github.com/twpayne/go-geos"
)

// OverlayOp is a binary set operation between two collections.
type OverlayOp int

// Overlay operations.
const (
	OpIntersection OverlayOp = iota
	OpUnion
	OpDifference
	OpSymmetricDifference
	OpIdentity
)

func (op OverlayOp) String() string {
	switch op {
	case OpIntersection:
		return "intersection"
	case OpUnion:
		return "union"
	case OpDifference:
		return "difference"
	case OpSymmetricDifference:
		return "symmetric_difference"
	case OpIdentity:
		return "identity"
	default:
		return fmt.Sprintf("OverlayOp(%d)", int(op))
	}
}

// Overlay performs a feature-wise set operation between a and b, in the
// manner of a GIS overlay:
//
//   - OpIntersection: one feature per intersecting pair, with the attributes
//     of both (duplicate names get the suffixes "_1" and "_2").
//   - OpDifference: each feature of a minus the union of the features of b
//     it intersects, with the attributes of a.
//   - OpSymmetricDifference: the differences a-b and b-a.
//   - OpUnion: the intersection plus both differences.
//   - OpIdentity: the intersection plus the difference a-b.
//
// If makeValid is true, invalid input geometries are repaired first;
// otherwise they cause an error. If keepGeomType is true, only the parts of
// each result with the same dimension as the input geometries of a are kept,
// so that for example two polygons touching along an edge do not produce a
// line. Features whose result is empty are dropped.
//
// Both a and b must hold at least one feature; callers that may pass an
// empty operand need to decide themselves what the result should be.
func Overlay(a, b *Collection, op OverlayOp, keepGeomType, makeValid bool) (out *Collection, err error) {
	if a.IsEmpty() || b.IsEmpty() {
		return nil, fmt.Errorf("vector: overlay %s: %w", op, ErrEmptyOperand)
	}
	defer catch("overlay "+op.String(), &err)

	if a, err = validated(a, makeValid); err != nil {
		return nil, err
	}
	if b, err = validated(b, makeValid); err != nil {
		return nil, err
	}
	dim := -1
	if keepGeomType {
		dim = dimension(a.Features[0].Geom)
	}

	switch op {
	case OpDifference:
		return difference(a, b, dim), nil
	case OpIntersection:
		return intersection(a, b, dim), nil
	case OpSymmetricDifference:
		return Concat(difference(a, b, dim), difference(b, a, dim)), nil
	case OpUnion:
		return Concat(intersection(a, b, dim), difference(a, b, dim), difference(b, a, dim)), nil
	case OpIdentity:
		return Concat(intersection(a, b, dim), difference(a, b, dim)), nil
	default:
		return nil, fmt.Errorf("vector: invalid overlay operation %d", int(op))
	}
}

// validated returns c with invalid geometries repaired, or an error if
// repair is not allowed.
func validated(c *Collection, makeValid bool) (*Collection, error) {
	var o *Collection
	for i, f := range c.Features {
		if f.Geom.IsValid() {
			continue
		}
		if !makeValid {
			return nil, fmt.Errorf("vector: feature %d: %s: %w", i, f.Geom.IsValidReason(), ErrInvalidGeometry)
		}
		if o == nil {
			o = c.Clone()
		}
		o.Features[i].Geom = f.Geom.MakeValid()
	}
	if o == nil {
		return c, nil
	}
	return o, nil
}

// finish applies the dimension filter and reports whether anything is left.
func finish(g *geos.Geom, dim int) (*geos.Geom, bool) {
	if g == nil || g.IsEmpty() {
		return nil, false
	}
	if dim < 0 {
		return g, true
	}
	g = keepDimension(g, dim)
	return g, g != nil
}

func difference(a, b *Collection, dim int) *Collection {
	o := a.like()
	for _, fa := range a.Features {
		var hits []*geos.Geom
		for _, fb := range b.Features {
			if fa.Geom.Intersects(fb.Geom) {
				hits = append(hits, fb.Geom)
			}
		}
		var g *geos.Geom
		if len(hits) == 0 {
			g = fa.Geom.Clone()
		} else {
			g = fa.Geom.Difference(union(hits))
		}
		if g, ok := finish(g, dim); ok {
			o.Features = append(o.Features, fa.clone(g))
		}
	}
	return o
}

func intersection(a, b *Collection, dim int) *Collection {
	o := &Collection{SR: a.SR}
	names1, names2 := mergedColumns(a.Columns, b.Columns)
	o.Columns = append(append([]string{}, names1...), names2...)
	for _, fa := range a.Features {
		for _, fb := range b.Features {
			if !fa.Geom.Intersects(fb.Geom) {
				continue
			}
			g, ok := finish(fa.Geom.Intersection(fb.Geom), dim)
			if !ok {
				continue
			}
			props := make(map[string]interface{}, len(o.Columns))
			for i, col := range a.Columns {
				props[names1[i]] = fa.Properties[col]
			}
			for i, col := range b.Columns {
				props[names2[i]] = fb.Properties[col]
			}
			o.Features = append(o.Features, &Feature{Geom: g, Properties: props})
		}
	}
	return o
}

// mergedColumns returns the output names of the columns of a and b in a
// combined schema, suffixing names that occur in both.
func mergedColumns(a, b []string) (na, nb []string) {
	inA := make(map[string]bool, len(a))
	for _, c := range a {
		inA[c] = true
	}
	inB := make(map[string]bool, len(b))
	for _, c := range b {
		inB[c] = true
	}
	for _, c := range a {
		if inB[c] {
			c += "_1"
		}
		na = append(na, c)
	}
	for _, c := range b {
		if inA[c] {
			c += "_2"
		}
		nb = append(nb, c)
	}
	return na, nb
}

// MakeValid returns c with every invalid geometry repaired. Valid
// geometries are kept as they are.
func MakeValid(c *Collection) (out *Collection, err error) {
	defer catch("make valid", &err)
	return validated(c, true)
}

// CheckValid returns an error wrapping ErrInvalidGeometry if any geometry
// of c is invalid.
func CheckValid(c *Collection) (err error) {
	defer catch("check validity", &err)
	_, err = validated(c, false)
	return err
}
