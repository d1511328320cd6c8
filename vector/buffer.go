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
	"strings"

	"github.com/spf13/cast"
	"github.com/twpayne/go-geos"
)

const (
	// DefaultResolution is the number of segments used to approximate a
	// quarter circle when buffering.
	DefaultResolution = 16

	// DefaultMitreLimit limits how far mitred corners may extend from the
	// original geometry, as a multiple of the buffer distance.
	DefaultMitreLimit = 5.0
)

// BufferParams specifies how geometries are buffered.
type BufferParams struct {
	// Distance is the buffer width in the units of the spatial reference.
	// Negative distances shrink polygons.
	Distance float64

	// CapStyle is the style of line ends: "round" (default), "flat" or
	// "square".
	CapStyle string

	// JoinStyle is the style of corners: "round" (default), "mitre" or
	// "bevel".
	JoinStyle string

	// Resolution is the number of segments per quarter circle. Values
	// below 1 select DefaultResolution.
	Resolution int

	// MitreLimit bounds mitred corners. Values of 0 or below select
	// DefaultMitreLimit.
	MitreLimit float64
}

// DistanceBuffer returns parameters for a plain buffer of the given distance
// with round caps and joins.
func DistanceBuffer(distance float64) BufferParams {
	return BufferParams{Distance: distance}
}

// ParseBufferParams reads buffer parameters from a generic map such as one
// decoded from a configuration file. Recognized keys are "distance",
// "cap_style", "join_style", "resolution" and "mitre_limit"; cap and join
// styles may be given by name or by their shapely integer codes.
func ParseBufferParams(m map[string]interface{}) (BufferParams, error) {
	var p BufferParams
	for k, v := range m {
		var err error
		switch strings.ToLower(k) {
		case "distance":
			p.Distance, err = cast.ToFloat64E(v)
		case "cap_style", "capstyle":
			p.CapStyle, err = styleName(v, []string{"", "round", "flat", "square"})
		case "join_style", "joinstyle":
			p.JoinStyle, err = styleName(v, []string{"", "round", "mitre", "bevel"})
		case "resolution", "quad_segs", "quadsegs":
			p.Resolution, err = cast.ToIntE(v)
		case "mitre_limit", "mitrelimit":
			p.MitreLimit, err = cast.ToFloat64E(v)
		default:
			err = fmt.Errorf("unknown buffer parameter")
		}
		if err != nil {
			return p, fmt.Errorf("vector: buffer parameter %q: %v", k, err)
		}
	}
	if _, err := p.styles(); err != nil {
		return p, err
	}
	return p, nil
}

func styleName(v interface{}, names []string) (string, error) {
	if i, err := cast.ToIntE(v); err == nil {
		if i < 1 || i >= len(names) {
			return "", fmt.Errorf("invalid style code %d", i)
		}
		return names[i], nil
	}
	return cast.ToStringE(v)
}

type bufferStyles struct {
	cap   geos.BufCapStyle
	join  geos.BufJoinStyle
	segs  int
	mitre float64
}

func (p BufferParams) styles() (bufferStyles, error) {
	s := bufferStyles{
		cap:   geos.BufCapStyleRound,
		join:  geos.BufJoinStyleRound,
		segs:  p.Resolution,
		mitre: p.MitreLimit,
	}
	switch strings.ToLower(p.CapStyle) {
	case "", "round":
	case "flat":
		s.cap = geos.BufCapStyleFlat
	case "square":
		s.cap = geos.BufCapStyleSquare
	default:
		return s, fmt.Errorf("vector: invalid buffer cap style %q", p.CapStyle)
	}
	switch strings.ToLower(p.JoinStyle) {
	case "", "round":
	case "mitre", "miter":
		s.join = geos.BufJoinStyleMitre
	case "bevel":
		s.join = geos.BufJoinStyleBevel
	default:
		return s, fmt.Errorf("vector: invalid buffer join style %q", p.JoinStyle)
	}
	if s.segs < 1 {
		s.segs = DefaultResolution
	}
	if s.mitre <= 0 {
		s.mitre = DefaultMitreLimit
	}
	return s, nil
}

// Buffer returns the buffer of g.
func Buffer(g *geos.Geom, p BufferParams) (out *geos.Geom, err error) {
	s, err := p.styles()
	if err != nil {
		return nil, err
	}
	defer catch("buffer", &err)
	return g.BufferWithStyle(p.Distance, s.segs, s.cap, s.join, s.mitre), nil
}

// BufferCollection buffers every feature of c and returns the buffered
// geometries in feature order.
func BufferCollection(c *Collection, p BufferParams) ([]*geos.Geom, error) {
	o := make([]*geos.Geom, 0, c.Len())
	for i, f := range c.Features {
		b, err := Buffer(f.Geom, p)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		o = append(o, b)
	}
	return o, nil
}
